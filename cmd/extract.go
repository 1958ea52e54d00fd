package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/lvdlvd/jffs2dump/extract"
	"github.com/lvdlvd/jffs2dump/fsys/jffs2"
	"github.com/lvdlvd/jffs2dump/progressbar"
)

// ExtractOptions controls the extract command.
type ExtractOptions struct {
	Output      string // directory to extract into
	Manifest    string // YAML manifest path, empty for none
	NodeLog     string // node log path, empty for none
	Progress    bool
	FailOnError bool
	extract.Options
}

// Extract replays img and writes its final tree to host.
func Extract(ctx context.Context, img *Image, host afero.Fs, opts ExtractOptions) (*extract.Report, error) {
	var visits []func(jffs2.Node)

	var nodeLog *NodeLog
	if opts.NodeLog != "" {
		f, err := host.Create(opts.NodeLog)
		if err != nil {
			return nil, fmt.Errorf("creating node log: %w", err)
		}
		defer f.Close()
		nodeLog = NewNodeLog(f)
		visits = append(visits, nodeLog.Visit)
	}

	if opts.Progress {
		bar, err := progressbar.New(img.Size())
		if err != nil {
			return nil, err
		}
		bar.SetCurrent(img.Offset)
		bar.Start()
		defer bar.Finish()
		visits = append(visits, func(n jffs2.Node) { bar.SetOffset(n.Offset() + n.Len()) })
	}

	var visit func(jffs2.Node)
	if len(visits) > 0 {
		visit = func(n jffs2.Node) {
			for _, v := range visits {
				v(n)
			}
		}
	}

	ix, err := img.Index(visit)
	if nodeLog != nil {
		if ferr := nodeLog.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("writing node log: %w", ferr)
		}
	}
	if err != nil {
		return nil, err
	}
	logrus.Debugf("scanned %d nodes, %d inodes", ix.Stats.Nodes, len(ix.Fragments))
	if ix.Stats.Skipped > 0 {
		logrus.Warnf("skipped %d malformed regions (%d bytes)", ix.Stats.Skipped, ix.Stats.SkippedBytes)
	}

	rep, err := extract.New(ix, host, opts.Options).Extract(ctx, opts.Output)
	if err != nil {
		return rep, err
	}

	if opts.Manifest != "" {
		if err := writeManifest(host, opts.Manifest, img.Name, rep); err != nil {
			return rep, err
		}
	}

	logrus.Infof("extracted %d entries to %s", len(rep.Entries), opts.Output)
	if rep.Failed() {
		logrus.Warnf("%d entries could not be extracted completely", len(rep.Problems))
		if opts.FailOnError {
			return rep, fmt.Errorf("%d problems during extraction", len(rep.Problems))
		}
	}
	return rep, nil
}

func writeManifest(host afero.Fs, name, image string, rep *extract.Report) error {
	f, err := host.Create(name)
	if err != nil {
		return fmt.Errorf("creating manifest: %w", err)
	}
	if err := rep.WriteManifest(f, image); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
