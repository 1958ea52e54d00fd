// Package cmd implements the jffs2dump commands.
package cmd

import (
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/lvdlvd/jffs2dump/fsys"
	"github.com/lvdlvd/jffs2dump/fsys/jffs2"
)

// LsOptions controls ls behavior
type LsOptions struct {
	Long bool // Long format (-l)
	All  bool // Show entries whose name starts with a dot (-a)
}

// Ls lists the contents of a path in the filesystem.
// If the path is a file, it shows file information.
// If the path is a directory, it lists its contents.
func Ls(filesystem fsys.FS, fsPath string, out io.Writer, opts LsOptions) error {
	fsPath = normalizePath(fsPath)

	info, err := fs.Stat(filesystem, fsPath)
	if err != nil {
		return err
	}

	if info.IsDir() {
		return listDirectory(filesystem, fsPath, out, opts)
	}

	return showFileInfo(info, out, opts.Long)
}

func normalizePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return "."
	}
	return path.Clean(p)
}

func listDirectory(filesystem fsys.FS, dirPath string, out io.Writer, opts LsOptions) error {
	entries, err := fs.ReadDir(filesystem, dirPath)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()

		if !opts.All && strings.HasPrefix(name, ".") {
			continue
		}

		if opts.Long {
			info, err := entry.Info()
			if err != nil {
				fmt.Fprintf(out, "%-10s %12s %s %s\n", "?????????", "?", "????????????", name)
				continue
			}
			printLongFormat(info, out)
		} else {
			if entry.IsDir() {
				name += "/"
			}
			fmt.Fprintln(out, name)
		}
	}

	return nil
}

func showFileInfo(info fs.FileInfo, out io.Writer, long bool) error {
	if long {
		printLongFormat(info, out)
	} else {
		fmt.Fprintln(out, info.Name())
	}
	return nil
}

func printLongFormat(info fs.FileInfo, out io.Writer) {
	var inode string
	if fi, ok := info.(fsys.FileInfo); ok {
		inode = fmt.Sprintf("%8d ", fi.Inode())
	}

	var owner string
	if attr, ok := info.Sys().(jffs2.Attr); ok {
		owner = fmt.Sprintf(" %5d %5d", attr.UID, attr.GID)
	}

	fmt.Fprintf(out, "%s%s%s %12d %s %s\n", inode, info.Mode(), owner, info.Size(),
		info.ModTime().UTC().Format("Jan _2 15:04"), info.Name())
}
