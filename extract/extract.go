// Package extract materializes the final state of a JFFS2 image as a
// directory tree on a host filesystem.
//
// Directories are created breadth-first from the root inode on the
// calling goroutine; regular files and symlinks are written by a
// bounded pool of workers. Errors scoped to one entry are recorded in
// the Report and do not stop the extraction.
package extract

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/lvdlvd/jffs2dump/fsys/jffs2"
)

// Options controls an extraction.
type Options struct {
	// Workers bounds the number of files written concurrently.
	// Defaults to GOMAXPROCS.
	Workers int

	// Preserve applies the permission bits and times of each inode.
	Preserve bool

	// MaxFileSize bounds the size of a single file. Defaults to
	// jffs2.DefaultMaxFileSize.
	MaxFileSize int64
}

// Extractor writes the tree of an index to a host filesystem.
type Extractor struct {
	ix   *jffs2.Index
	fs   afero.Fs
	opts Options
	tree *Tree
}

// New returns an Extractor for ix writing to fsys.
func New(ix *jffs2.Index, fsys afero.Fs, opts Options) *Extractor {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = jffs2.DefaultMaxFileSize
	}
	return &Extractor{ix: ix, fs: fsys, opts: opts, tree: NewTree()}
}

// Tree returns the inode to path map built by Extract.
func (x *Extractor) Tree() *Tree { return x.tree }

type dirJob struct {
	ino  uint32
	rel  string // slash separated, relative to the root
	path string // host path
}

// Extract writes the tree below root, which is created if needed. The
// returned error is non-nil only if root cannot be created or ctx is
// cancelled; everything else is recorded in the Report.
func (x *Extractor) Extract(ctx context.Context, root string) (*Report, error) {
	h := &host{fs: x.fs, root: root}
	if err := h.createRoot(); err != nil {
		return nil, err
	}

	rep := &Report{}
	x.tree.Add(jffs2.RootIno, root)
	reached := map[uint32]bool{jffs2.RootIno: true}
	dirs := []dirJob{{ino: jffs2.RootIno, path: root}}

	var g errgroup.Group
	g.SetLimit(x.opts.Workers)

	for i := 0; i < len(dirs); i++ {
		dir := dirs[i]
		logrus.WithField("ino", dir.ino).Debugf("walking directory %q", dir.rel)

		for _, d := range x.ix.Children(dir.ino) {
			if err := ctx.Err(); err != nil {
				_ = g.Wait()
				rep.sort()
				return rep, err
			}

			name := string(d.Name)
			rel := path.Join(dir.rel, name)
			log := logrus.WithFields(logrus.Fields{"ino": d.Ino, "path": rel})

			if err := validName(name); err != nil {
				rep.problem(path.Join(dir.rel, fmt.Sprintf("%q", name)), d.Ino, &jffs2.StructuralError{Ino: d.Ino, Reason: err.Error()})
				continue
			}
			p, err := h.path(dir.rel, name)
			if err != nil {
				rep.problem(rel, d.Ino, err)
				continue
			}

			switch d.Type {
			case jffs2.DTDir:
				if reached[d.Ino] {
					prev, _ := x.tree.Path(d.Ino)
					rep.problem(rel, d.Ino, &jffs2.StructuralError{Ino: d.Ino, Path: rel,
						Reason: fmt.Sprintf("directory already reached at %s", prev)})
					log.Warn("directory cycle, not descending")
					continue
				}
				reached[d.Ino] = true
				if err := h.createDirectory(p); err != nil {
					rep.problem(rel, d.Ino, fmt.Errorf("creating directory: %w", err))
					continue
				}
				x.tree.Add(d.Ino, p)
				attr, _ := x.ix.Attr(d.Ino)
				rep.add(Entry{Path: rel, Ino: d.Ino, Type: "dir", Mode: modeString(attr, d)})
				dirs = append(dirs, dirJob{ino: d.Ino, rel: rel, path: p})

			case jffs2.DTReg, jffs2.DTLnk:
				if !x.tree.Add(d.Ino, p) {
					log.Debug("hard link, inode already extracted")
				}
				g.Go(func() error {
					x.writeLeaf(h, rep, d, rel, p)
					return nil
				})

			default:
				log.Infof("skipping %s", d.Type)
				rep.skip()
			}
		}
	}
	_ = g.Wait()

	for _, ino := range x.ix.Orphans(func(ino uint32) bool { return reached[ino] }) {
		n := len(x.ix.Children(ino))
		rep.problem("", ino, &jffs2.StructuralError{Ino: ino,
			Reason: fmt.Sprintf("%d live entries under a directory that is never reached", n)})
	}

	if x.opts.Preserve {
		// Deepest first, so that restoring a directory's times is not
		// undone by changes inside it.
		for i := len(dirs) - 1; i >= 0; i-- {
			x.restore(h, rep, dirs[i].ino, dirs[i].rel, dirs[i].path)
		}
	}

	rep.sort()
	return rep, nil
}

func (x *Extractor) writeLeaf(h *host, rep *Report, d *jffs2.Dirent, rel, p string) {
	log := logrus.WithFields(logrus.Fields{"ino": d.Ino, "path": rel})
	attr, _ := x.ix.Attr(d.Ino)
	entry := Entry{Path: rel, Ino: d.Ino, Mode: modeString(attr, d)}

	data, err := x.ix.ReadFile(d.Ino, x.opts.MaxFileSize)
	if err != nil {
		var se *jffs2.StructuralError
		if errors.As(err, &se) || d.Type == jffs2.DTLnk {
			rep.problem(rel, d.Ino, err)
			log.WithError(err).Warn("not extracted")
			return
		}
		rep.problem(rel, d.Ino, err)
		log.WithError(err).Warn("writing partial file")
		entry.Partial = true
	}

	if d.Type == jffs2.DTLnk {
		entry.Type = "symlink"
		entry.Target = string(data)
		asFile, err := h.createSymlink(p, entry.Target)
		if err != nil {
			rep.problem(rel, d.Ino, fmt.Errorf("creating symlink: %w", err))
			return
		}
		if asFile {
			log.Debug("host has no symlinks, wrote target as file")
		}
		entry.LinkAsFile = asFile
	} else {
		entry.Type = "file"
		entry.Size = int64(len(data))
		sum := blake3.Sum256(data)
		entry.Digest = hex.EncodeToString(sum[:])
		if err := h.createFile(p, data); err != nil {
			rep.problem(rel, d.Ino, fmt.Errorf("creating file: %w", err))
			return
		}
	}

	rep.add(entry)

	if x.opts.Preserve && !(d.Type == jffs2.DTLnk && !entry.LinkAsFile) {
		x.restore(h, rep, d.Ino, rel, p)
	}
}

func (x *Extractor) restore(h *host, rep *Report, ino uint32, rel, p string) {
	attr, ok := x.ix.Attr(ino)
	if !ok {
		return
	}
	mode := attr.FileMode() & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky)
	if err := h.setMetadata(p, mode, attr.Atime, attr.Mtime); err != nil {
		rep.problem(rel, ino, fmt.Errorf("restoring metadata: %w", err))
	}
}

func validName(name string) error {
	switch {
	case name == "":
		return errors.New("empty name")
	case name == "." || name == "..":
		return fmt.Errorf("reserved name %q", name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("name %q contains a path separator or NUL", name)
	}
	return nil
}

func modeString(attr jffs2.Attr, d *jffs2.Dirent) string {
	return (attr.FileMode()&^fs.ModeType | d.Type.FileMode()).String()
}
