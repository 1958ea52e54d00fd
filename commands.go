package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lvdlvd/jffs2dump/cmd"
	"github.com/lvdlvd/jffs2dump/fsys/jffs2"
)

// withFS opens the image named by the first argument and calls fn with
// its filesystem view.
func withFS(cfg *viper.Viper, image string, fn func(*jffs2.FS) error) error {
	img, err := cmd.OpenImage(image, imageOptions(cfg))
	if err != nil {
		return err
	}
	defer img.Close()

	f, err := img.FS()
	if err != nil {
		return err
	}
	defer f.Close()
	return fn(f)
}

func newLsCommand(cfg *viper.Viper) *cobra.Command {
	lsCmd := &cobra.Command{
		Use:   "ls [-l] [-a] <image> [path]",
		Short: "List a directory of the image",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(c *cobra.Command, args []string) error {
			p := "."
			if len(args) > 1 {
				p = args[1]
			}
			return withFS(cfg, args[0], func(f *jffs2.FS) error {
				return cmd.Ls(f, p, c.OutOrStdout(), cmd.LsOptions{
					Long: cfg.GetBool("long"),
					All:  cfg.GetBool("all"),
				})
			})
		},
	}
	lsCmd.Flags().BoolP("long", "l", false, "use long listing format")
	lsCmd.Flags().BoolP("all", "a", false, "show entries starting with .")
	return lsCmd
}

func newCatCommand(cfg *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <image> <path>",
		Short: "Write the contents of a file of the image to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return withFS(cfg, args[0], func(f *jffs2.FS) error {
				return cmd.Cat(f, args[1], c.OutOrStdout())
			})
		},
	}
}

func newStatCommand(cfg *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <image> <path>",
		Short: "Show the metadata of a file of the image",
		Args:  cobra.ExactArgs(2),
		RunE: func(c *cobra.Command, args []string) error {
			return withFS(cfg, args[0], func(f *jffs2.FS) error {
				return cmd.Stat(f, args[1], c.OutOrStdout())
			})
		},
	}
}

func newNodesCommand(cfg *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes <image>",
		Short: "Print every node of the image in log order",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			img, err := cmd.OpenImage(args[0], imageOptions(cfg))
			if err != nil {
				return err
			}
			defer img.Close()

			out := bufio.NewWriter(c.OutOrStdout())
			if err := cmd.Nodes(img.Scanner(), out); err != nil {
				return err
			}
			return out.Flush()
		},
	}
}

func newInfoCommand(cfg *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "info <image>",
		Short: "Show what the image holds",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			img, err := cmd.OpenImage(args[0], imageOptions(cfg))
			if err != nil {
				return err
			}
			defer img.Close()

			ix, err := img.Index(nil)
			if err != nil {
				return err
			}
			return cmd.Info(img, ix, c.OutOrStdout())
		},
	}
}

func newPartsCommand(cfg *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "parts --mtdparts <spec> <image>",
		Short: "List the partitions of a flash dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			spec := cfg.GetString("mtdparts")
			if spec == "" {
				return errors.New("parts needs --mtdparts")
			}

			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening image: %w", err)
			}
			defer file.Close()
			info, err := file.Stat()
			if err != nil {
				return fmt.Errorf("stat image: %w", err)
			}
			return cmd.Parts(file, info.Size(), spec, c.OutOrStdout())
		},
	}
}
