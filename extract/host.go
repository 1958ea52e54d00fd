package extract

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/spf13/afero"
)

// host creates the extracted tree below root on an afero filesystem.
// Parent directories are resolved with symlinks evaluated inside root,
// and an existing non-directory at a target path is replaced rather
// than written through.
type host struct {
	fs   afero.Fs
	root string
}

// Lstat and Readlink implement securejoin.VFS.

func (h *host) Lstat(name string) (os.FileInfo, error) {
	if l, ok := h.fs.(afero.Lstater); ok {
		fi, _, err := l.LstatIfPossible(name)
		return fi, err
	}
	return h.fs.Stat(name)
}

func (h *host) Readlink(name string) (string, error) {
	if r, ok := h.fs.(afero.LinkReader); ok {
		return r.ReadlinkIfPossible(name)
	}
	return "", &os.PathError{Op: "readlink", Path: name, Err: afero.ErrNoReadlink}
}

// path returns the host path of name inside directory dir, both
// relative to the root.
func (h *host) path(dir, name string) (string, error) {
	parent, err := securejoin.SecureJoinVFS(h.root, dir, h)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", dir, err)
	}
	return filepath.Join(parent, name), nil
}

func (h *host) createRoot() error {
	if err := h.fs.MkdirAll(h.root, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	return nil
}

func (h *host) createDirectory(p string) error {
	err := h.fs.Mkdir(p, 0o755)
	if err == nil {
		return nil
	}
	if !os.IsExist(err) {
		return err
	}
	fi, serr := h.Lstat(p)
	if serr != nil {
		return serr
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", p)
	}
	return nil
}

func (h *host) createFile(p string, data []byte) error {
	if err := h.clear(p); err != nil {
		return err
	}
	return afero.WriteFile(h.fs, p, data, 0o644)
}

// createSymlink links p to target. On filesystems without symlinks the
// target is written as the contents of a regular file, and asFile is
// true.
func (h *host) createSymlink(p, target string) (asFile bool, err error) {
	if err := h.clear(p); err != nil {
		return false, err
	}
	if l, ok := h.fs.(afero.Linker); ok {
		err := l.SymlinkIfPossible(target, p)
		if !errors.Is(err, afero.ErrNoSymlink) {
			return false, err
		}
	}
	return true, afero.WriteFile(h.fs, p, []byte(target), 0o644)
}

func (h *host) setMetadata(p string, mode fs.FileMode, atime, mtime time.Time) error {
	if err := h.fs.Chmod(p, mode); err != nil {
		return err
	}
	return h.fs.Chtimes(p, atime, mtime)
}

// clear removes a non-directory left at p by an earlier run.
func (h *host) clear(p string) error {
	fi, err := h.Lstat(p)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%s exists and is a directory", p)
	}
	return h.fs.Remove(p)
}
