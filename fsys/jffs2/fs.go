package jffs2

import (
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/lvdlvd/jffs2dump/fsys"
)

// DefaultMaxFileSize bounds the size of a single replayed file.
const DefaultMaxFileSize = 1 << 30

// FS implements a read-only view of the final state of a JFFS2 image.
type FS struct {
	ix    *Index
	limit int64
}

// Open scans a little-endian JFFS2 image from the given reader
func Open(r io.ReaderAt, size int64) (fsys.FS, error) {
	f, err := OpenWithOptions(r, size, Options{})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// OpenWithOptions scans the image with the given options and returns
// its filesystem view.
func OpenWithOptions(r io.ReaderAt, size int64, opts Options) (*FS, error) {
	ix, err := BuildIndex(NewScanner(r, size, opts), nil)
	if err != nil {
		return nil, err
	}
	return NewFS(ix), nil
}

// NewFS returns the filesystem view of an already built index.
func NewFS(ix *Index) *FS {
	return &FS{ix: ix, limit: DefaultMaxFileSize}
}

func (f *FS) Type() string  { return "jffs2" }
func (f *FS) Close() error  { return nil }
func (f *FS) Index() *Index { return f.ix }

// FreeBlocks returns the erased regions of the image.
func (f *FS) FreeBlocks() ([]fsys.Range, error) {
	var ranges []fsys.Range
	for _, e := range f.ix.Empty {
		start, end := e.Offset(), e.Offset()+e.Len()
		if n := len(ranges); n > 0 && ranges[n-1].End == start {
			ranges[n-1].End = end
			continue
		}
		ranges = append(ranges, fsys.Range{Start: start, End: end})
	}
	return ranges, nil
}

// fs.FS implementation

func (f *FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	if name == "." {
		return &jffsDir{fs: f, ino: RootIno, info: f.rootInfo()}, nil
	}

	d, err := f.lookup(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	info := f.info(d)
	if d.Type == DTDir {
		return &jffsDir{fs: f, ino: d.Ino, info: info}, nil
	}
	return &jffsFile{fs: f, ino: d.Ino, info: info}, nil
}

func (f *FS) lookup(name string) (*Dirent, error) {
	dir := uint32(RootIno)
	parts := strings.Split(name, "/")

	for i, part := range parts {
		d, ok := f.ix.Lookup(dir, part)
		if !ok {
			return nil, fs.ErrNotExist
		}
		if i == len(parts)-1 {
			return d, nil
		}
		if d.Type != DTDir {
			return nil, fs.ErrNotExist
		}
		dir = d.Ino
	}
	return nil, fs.ErrNotExist
}

func (f *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	file, err := f.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	dir, ok := file.(fs.ReadDirFile)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}

	return dir.ReadDir(-1)
}

func (f *FS) Stat(name string) (fs.FileInfo, error) {
	file, err := f.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return file.Stat()
}

func (f *FS) rootInfo() *fileInfo {
	attr, ok := f.ix.Attr(RootIno)
	mode := fs.ModeDir | 0o755
	if ok {
		mode = fs.ModeDir | attr.FileMode()&^fs.ModeType
	}
	return &fileInfo{name: ".", ino: RootIno, mode: mode, modTime: attr.Mtime, attr: attr}
}

func (f *FS) info(d *Dirent) *fileInfo {
	attr, ok := f.ix.Attr(d.Ino)
	fi := &fileInfo{
		name:    string(d.Name),
		ino:     d.Ino,
		modTime: time.Unix(int64(d.Mctime), 0).UTC(),
		attr:    attr,
	}

	// The dirent type is authoritative; the inode supplies permissions.
	if ok {
		fi.mode = attr.FileMode()&^fs.ModeType | d.Type.FileMode()
		fi.modTime = attr.Mtime
	} else {
		fi.mode = d.Type.FileMode() | 0o444
		if d.Type == DTDir {
			fi.mode |= 0o111
		}
	}

	if d.Type == DTReg || d.Type == DTLnk {
		fi.size = f.ix.Extent(d.Ino)
	}
	return fi
}

// jffsFile implements fs.File for regular files and symlinks. Reading a
// symlink yields its target.
type jffsFile struct {
	fs     *FS
	ino    uint32
	info   *fileInfo
	data   []byte
	offset int64
	loaded bool
	err    error // returned once data is exhausted
}

func (f *jffsFile) Stat() (fs.FileInfo, error) {
	return f.info, nil
}

func (f *jffsFile) Read(b []byte) (int, error) {
	if !f.loaded {
		// A decode error still leaves the readable part of the file.
		data, err := f.fs.ix.ReadFile(f.ino, f.fs.limit)
		if err != nil {
			f.err = &fs.PathError{Op: "read", Path: f.info.name, Err: err}
		}
		f.data = data
		f.loaded = true
	}

	if f.offset >= int64(len(f.data)) {
		if f.err != nil {
			return 0, f.err
		}
		return 0, io.EOF
	}

	n := copy(b, f.data[f.offset:])
	f.offset += int64(n)
	return n, nil
}

func (f *jffsFile) Close() error {
	f.data = nil
	return nil
}

// jffsDir implements fs.File and fs.ReadDirFile for directories
type jffsDir struct {
	fs      *FS
	ino     uint32
	info    *fileInfo
	entries []fs.DirEntry
	offset  int
}

func (d *jffsDir) Stat() (fs.FileInfo, error) {
	return d.info, nil
}

func (d *jffsDir) Read(b []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.name, Err: fs.ErrInvalid}
}

func (d *jffsDir) Close() error {
	d.entries = nil
	return nil
}

func (d *jffsDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.entries == nil {
		children := d.fs.ix.Children(d.ino)
		d.entries = make([]fs.DirEntry, 0, len(children))
		for _, c := range children {
			d.entries = append(d.entries, &dirEntry{info: d.fs.info(c)})
		}
	}

	if n <= 0 {
		entries := d.entries[d.offset:]
		d.offset = len(d.entries)
		return entries, nil
	}

	if d.offset >= len(d.entries) {
		return nil, io.EOF
	}

	end := min(d.offset+n, len(d.entries))
	entries := d.entries[d.offset:end]
	d.offset = end
	return entries, nil
}

// dirEntry implements fs.DirEntry
type dirEntry struct {
	info *fileInfo
}

func (e *dirEntry) Name() string               { return e.info.name }
func (e *dirEntry) IsDir() bool                { return e.info.IsDir() }
func (e *dirEntry) Type() fs.FileMode          { return e.info.mode.Type() }
func (e *dirEntry) Info() (fs.FileInfo, error) { return e.info, nil }

// fileInfo implements fsys.FileInfo. Sys returns the inode's Attr.
type fileInfo struct {
	name    string
	ino     uint32
	size    int64
	mode    fs.FileMode
	modTime time.Time
	attr    Attr
}

func (i *fileInfo) Name() string       { return i.name }
func (i *fileInfo) Size() int64        { return i.size }
func (i *fileInfo) Mode() fs.FileMode  { return i.mode }
func (i *fileInfo) ModTime() time.Time { return i.modTime }
func (i *fileInfo) IsDir() bool        { return i.mode.IsDir() }
func (i *fileInfo) Sys() any           { return i.attr }
func (i *fileInfo) Inode() uint64      { return uint64(i.ino) }
