package cmd

import (
	"fmt"
	"io"
	"io/fs"

	"github.com/lvdlvd/jffs2dump/fsys"
	"github.com/lvdlvd/jffs2dump/fsys/jffs2"
)

// Cat copies the contents of a file to the given writer. Symlinks are
// not followed: their content is the target.
func Cat(filesystem fsys.FS, fsPath string, out io.Writer) error {
	fsPath = normalizePath(fsPath)

	info, err := fs.Stat(filesystem, fsPath)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s: is a directory", fsPath)
	}

	file, err := filesystem.Open(fsPath)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = io.Copy(out, file)
	return err
}

// Stat shows detailed information about a file or directory.
func Stat(filesystem fsys.FS, fsPath string, out io.Writer) error {
	fsPath = normalizePath(fsPath)

	info, err := fs.Stat(filesystem, fsPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "  File: %s\n", info.Name())
	fmt.Fprintf(out, "  Size: %d\n", info.Size())
	fmt.Fprintf(out, "  Mode: %s\n", info.Mode())
	fmt.Fprintf(out, "ModTime: %s\n", info.ModTime().UTC())

	if fi, ok := info.(fsys.FileInfo); ok {
		fmt.Fprintf(out, " Inode: %d\n", fi.Inode())
	}

	if attr, ok := info.Sys().(jffs2.Attr); ok {
		fmt.Fprintf(out, "   Uid: %d\n", attr.UID)
		fmt.Fprintf(out, "   Gid: %d\n", attr.GID)
		fmt.Fprintf(out, " Isize: %d\n", attr.ISize)
		fmt.Fprintf(out, "Access: %s\n", attr.Atime.UTC())
		fmt.Fprintf(out, "Change: %s\n", attr.Ctime.UTC())
	}

	return nil
}
