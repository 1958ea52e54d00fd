// jffs2dump - Extract files from JFFS2 flash images
//
// Usage:
//
//	jffs2dump <image> [output-dir]
//	jffs2dump ls [-l] [-a] <image> [path]
//	jffs2dump cat <image> <path>
//	jffs2dump stat <image> <path>
//	jffs2dump nodes <image>
//	jffs2dump info <image>
//	jffs2dump parts --mtdparts <spec> <image>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"

	"github.com/docker/go-units"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/lvdlvd/jffs2dump/cmd"
	"github.com/lvdlvd/jffs2dump/extract"
)

// defaultOutput is the directory extracted into when none is given.
const defaultOutput = "root"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newApp().ExecuteContext(ctx)
	stop()
	if err != nil {
		logrus.Fatal(err)
	}
}

func processGlobalFlags(cfg *viper.Viper) error {
	// --log-level will override --debug
	if cfg.GetBool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if l := cfg.GetString("log-level"); l != "" {
		lvl, err := logrus.ParseLevel(l)
		if err != nil {
			return err
		}
		logrus.SetLevel(lvl)
	}

	switch logFormat := cfg.GetString("log-format"); logFormat {
	case "json":
		logrus.StandardLogger().SetFormatter(new(logrus.JSONFormatter))
	case "text":
		formatter := new(logrus.TextFormatter)
		if runtime.GOOS == "windows" && isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			// the default setting does not recognize cygwin on windows
			formatter.ForceColors = true
		}
		logrus.StandardLogger().SetFormatter(formatter)
	default:
		return fmt.Errorf("unsupported log-format: %q", logFormat)
	}
	return nil
}

func newApp() *cobra.Command {
	cfg := viper.New()

	rootCmd := &cobra.Command{
		Use:   "jffs2dump <image> [output-dir]",
		Short: "Extract the files of a JFFS2 flash image",
		Long: `jffs2dump replays the node log of a raw JFFS2 image and writes the
final directory tree to output-dir (default "root").

Every flag can also be set in the environment as JFFS2DUMP_<FLAG>,
for example JFFS2DUMP_VERIFY_CRC=true.`,
		Example: `  Extract a dump taken with nanddump:
  $ jffs2dump rootfs.bin

  Extract the rootfs partition of a whole-chip dump:
  $ jffs2dump --mtdparts 256k(u-boot)ro,1536k(kernel),-(rootfs) --partition rootfs flash.bin out`,
		Args:              cobra.RangeArgs(1, 2),
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		RunE: func(c *cobra.Command, args []string) error {
			return extractAction(c, cfg, args)
		},
	}

	addGlobalFlags(rootCmd.PersistentFlags())
	addExtractFlags(rootCmd.Flags())

	rootCmd.PersistentPreRunE = func(c *cobra.Command, _ []string) error {
		if err := cfg.BindPFlags(c.Flags()); err != nil {
			return err
		}
		cfg.SetEnvPrefix("jffs2dump")
		cfg.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		cfg.AutomaticEnv()

		return processGlobalFlags(cfg)
	}

	rootCmd.AddCommand(
		newLsCommand(cfg),
		newCatCommand(cfg),
		newStatCommand(cfg),
		newNodesCommand(cfg),
		newInfoCommand(cfg),
		newPartsCommand(cfg),
	)
	return rootCmd
}

func addGlobalFlags(pf *pflag.FlagSet) {
	pf.String("log-level", "", "Set the logging level [trace, debug, info, warn, error]")
	pf.String("log-format", "text", "Set the logging format [text, json]")
	pf.Bool("debug", false, "Debug mode")
	pf.String("endian", "auto", "Byte order of the image [auto, little, big]")
	pf.String("offset", "0", "Offset of the first node, or auto to search for it")
	pf.String("mtdparts", "", "Partition table of the image, in mtdparts= syntax")
	pf.String("partition", "", "Name of the --mtdparts partition holding the filesystem")
	pf.Bool("lenient", false, "Skip malformed nodes instead of failing")
	pf.Bool("verify-crc", false, "Verify node checksums")
}

func addExtractFlags(f *pflag.FlagSet) {
	f.Int("workers", runtime.GOMAXPROCS(0), "Number of files written concurrently")
	f.Bool("preserve", false, "Restore permissions and times of extracted files")
	f.String("manifest", "", "Write a YAML manifest of the extracted tree to this file")
	f.String("node-log", "", "Write one line per scanned node to this file")
	f.Bool("progress", false, "Show scan progress")
	f.Bool("fail-on-error", false, "Exit with an error if any entry could not be extracted")
	f.String("max-file-size", "1GiB", "Largest file that will be replayed")
}

func imageOptions(cfg *viper.Viper) cmd.ImageOptions {
	return cmd.ImageOptions{
		Endian:    cfg.GetString("endian"),
		Offset:    cfg.GetString("offset"),
		MTDParts:  cfg.GetString("mtdparts"),
		Partition: cfg.GetString("partition"),
		Lenient:   cfg.GetBool("lenient"),
		VerifyCRC: cfg.GetBool("verify-crc"),
	}
}

func extractAction(c *cobra.Command, cfg *viper.Viper, args []string) error {
	output := defaultOutput
	if len(args) > 1 {
		output = args[1]
	}

	maxSize, err := units.RAMInBytes(cfg.GetString("max-file-size"))
	if err != nil {
		return fmt.Errorf("invalid max-file-size: %w", err)
	}

	img, err := cmd.OpenImage(args[0], imageOptions(cfg))
	if err != nil {
		return err
	}
	defer img.Close()

	_, err = cmd.Extract(c.Context(), img, afero.NewOsFs(), cmd.ExtractOptions{
		Output:      output,
		Manifest:    cfg.GetString("manifest"),
		NodeLog:     cfg.GetString("node-log"),
		Progress:    cfg.GetBool("progress"),
		FailOnError: cfg.GetBool("fail-on-error"),
		Options: extract.Options{
			Workers:     cfg.GetInt("workers"),
			Preserve:    cfg.GetBool("preserve"),
			MaxFileSize: maxSize,
		},
	})
	return err
}
