// Package part provides MTD partition table parsing.
// Raw NAND/NOR dumps carry no on-disk table; the layout comes from the
// kernel command line (mtdparts=). The partitions of an image appear as
// files that can be read or scanned on their own.
package part

import (
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/lvdlvd/jffs2dump/fsys"
)

// Partition represents a single partition entry
type Partition struct {
	Index    int    // Partition index (0-based)
	Name     string // Name from the table, or "Partition_NNN"
	Offset   int64
	Size     int64
	ReadOnly bool
}

// End returns one past the last byte of the partition
func (p *Partition) End() int64 {
	return p.Offset + p.Size
}

// ParseMTDParts parses a partition definition in the format of the
// Linux cmdlinepart driver:
//
//	[mtdparts=][<mtd-id>:]<size>[@<offset>][(<name>)][ro][lk],...
//
// Sizes and offsets are decimal, 0x-prefixed hex, or carry a k/M/G
// suffix. A size of "-" takes the rest of the image. Partitions without
// an offset follow the previous one.
func ParseMTDParts(spec string, size int64) ([]*Partition, error) {
	spec = strings.TrimPrefix(strings.TrimSpace(spec), "mtdparts=")
	if strings.Contains(spec, ";") {
		return nil, fmt.Errorf("mtdparts: only one MTD device is supported: %q", spec)
	}
	if i := strings.IndexByte(spec, ':'); i >= 0 {
		if j := strings.IndexByte(spec, '('); j < 0 || i < j {
			spec = spec[i+1:]
		}
	}
	if spec == "" {
		return nil, fmt.Errorf("mtdparts: empty partition list")
	}

	var (
		parts []*Partition
		next  int64
	)
	for i, def := range splitDefs(spec) {
		p, err := parseDef(def, next, size)
		if err != nil {
			return nil, fmt.Errorf("mtdparts: partition %d %q: %w", i, def, err)
		}
		p.Index = i
		if p.Name == "" {
			p.Name = fmt.Sprintf("Partition_%03d", i)
		}
		parts = append(parts, p)
		next = p.End()
	}

	seen := make(map[string]bool)
	for _, p := range parts {
		if seen[p.Name] {
			return nil, fmt.Errorf("mtdparts: duplicate partition name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return parts, nil
}

// splitDefs splits on commas outside parentheses.
func splitDefs(s string) []string {
	var (
		defs  []string
		depth int
		start int
	)
	for i, c := range s {
		switch c {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				defs = append(defs, s[start:i])
				start = i + 1
			}
		}
	}
	return append(defs, s[start:])
}

func parseDef(def string, next, imageSize int64) (*Partition, error) {
	p := &Partition{Offset: next}

	// Name and flags
	if i := strings.IndexByte(def, '('); i >= 0 {
		j := strings.IndexByte(def[i:], ')')
		if j < 0 {
			return nil, fmt.Errorf("unterminated name")
		}
		p.Name = def[i+1 : i+j]
		flags := def[i+j+1:]
		def = def[:i]
		for flags != "" {
			switch {
			case strings.HasPrefix(flags, "ro"):
				p.ReadOnly = true
				flags = flags[2:]
			case strings.HasPrefix(flags, "lk"):
				flags = flags[2:]
			case strings.HasPrefix(flags, "slc"):
				flags = flags[3:]
			default:
				return nil, fmt.Errorf("unknown flag %q", flags)
			}
		}
	}

	sizeStr, offStr, hasOff := strings.Cut(def, "@")
	if hasOff {
		off, err := parseSize(offStr)
		if err != nil {
			return nil, fmt.Errorf("offset: %w", err)
		}
		p.Offset = off
	}

	if sizeStr == "-" {
		p.Size = imageSize - p.Offset
	} else {
		n, err := parseSize(sizeStr)
		if err != nil {
			return nil, fmt.Errorf("size: %w", err)
		}
		p.Size = n
	}

	if p.Size <= 0 || p.Offset < 0 || p.End() > imageSize {
		return nil, fmt.Errorf("range [%#x, %#x) outside image of %d bytes", p.Offset, p.End(), imageSize)
	}
	return p, nil
}

func parseSize(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 0, 64); err == nil {
		return n, nil
	}
	return units.RAMInBytes(s)
}

// FS implements fsys.FS for an MTD partition table
type FS struct {
	r          io.ReaderAt
	size       int64
	partitions []*Partition
}

// Open applies an mtdparts definition to an image
func Open(r io.ReaderAt, size int64, spec string) (*FS, error) {
	parts, err := ParseMTDParts(spec, size)
	if err != nil {
		return nil, err
	}
	return &FS{r: r, size: size, partitions: parts}, nil
}

// Type returns the partition table type
func (pfs *FS) Type() string {
	return "mtdparts"
}

// Close releases resources
func (pfs *FS) Close() error {
	return nil
}

// Partitions returns the list of partitions
func (pfs *FS) Partitions() []*Partition {
	return pfs.partitions
}

// Section returns a reader over the named partition and its size
func (pfs *FS) Section(name string) (*io.SectionReader, error) {
	p := pfs.findPartition(name)
	if p == nil {
		return nil, fmt.Errorf("partition not found: %s", name)
	}
	return io.NewSectionReader(pfs.r, p.Offset, p.Size), nil
}

// Info returns partition table information
func (pfs *FS) Info() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Partitions: %d\n\n", len(pfs.partitions))
	fmt.Fprintf(&sb, "%-16s %12s %12s %10s %s\n", "NAME", "START", "END", "SIZE", "FLAGS")

	for _, p := range pfs.partitions {
		flags := ""
		if p.ReadOnly {
			flags = "ro"
		}
		fmt.Fprintf(&sb, "%-16s %#12x %#12x %10s %s\n",
			p.Name, p.Offset, p.End(), units.BytesSize(float64(p.Size)), flags)
	}
	return sb.String()
}

// FreeBlocks returns the list of free byte ranges (gaps between partitions)
func (pfs *FS) FreeBlocks() ([]fsys.Range, error) {
	used := make([]*Partition, len(pfs.partitions))
	copy(used, pfs.partitions)
	sort.Slice(used, func(i, j int) bool { return used[i].Offset < used[j].Offset })

	var free []fsys.Range
	var pos int64
	for _, p := range used {
		if p.Offset > pos {
			free = append(free, fsys.Range{Start: pos, End: p.Offset})
		}
		pos = max(pos, p.End())
	}
	if pos < pfs.size {
		free = append(free, fsys.Range{Start: pos, End: pfs.size})
	}
	return free, nil
}

// Open implements fs.FS
func (pfs *FS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		return &rootDir{pfs: pfs}, nil
	}

	part := pfs.findPartition(name)
	if part == nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &partitionFile{part: part, r: io.NewSectionReader(pfs.r, part.Offset, part.Size)}, nil
}

// ReadDir implements fs.ReadDirFS
func (pfs *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	if name == "." {
		entries := make([]fs.DirEntry, 0, len(pfs.partitions))
		for _, p := range pfs.partitions {
			entries = append(entries, &partitionEntry{part: p})
		}
		return entries, nil
	}
	if pfs.findPartition(name) == nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	// Partitions are files, not directories
	return nil, &fs.PathError{Op: "readdir", Path: name, Err: fmt.Errorf("not a directory")}
}

// Stat implements fs.StatFS
func (pfs *FS) Stat(name string) (fs.FileInfo, error) {
	if name == "." {
		return rootInfo{}, nil
	}
	part := pfs.findPartition(name)
	if part == nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return &partitionInfo{part: part}, nil
}

func (pfs *FS) findPartition(name string) *Partition {
	for _, p := range pfs.partitions {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// rootDir represents the root directory
type rootDir struct {
	pfs    *FS
	offset int
}

func (d *rootDir) Read(p []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: ".", Err: fmt.Errorf("is a directory")}
}

func (d *rootDir) Close() error               { return nil }
func (d *rootDir) Stat() (fs.FileInfo, error) { return rootInfo{}, nil }

func (d *rootDir) ReadDir(n int) ([]fs.DirEntry, error) {
	parts := d.pfs.partitions
	if d.offset >= len(parts) {
		if n <= 0 {
			return nil, nil
		}
		return nil, io.EOF
	}

	end := len(parts)
	if n > 0 {
		end = min(d.offset+n, len(parts))
	}

	entries := make([]fs.DirEntry, 0, end-d.offset)
	for _, p := range parts[d.offset:end] {
		entries = append(entries, &partitionEntry{part: p})
	}
	d.offset = end
	return entries, nil
}

type rootInfo struct{}

func (rootInfo) Name() string       { return "." }
func (rootInfo) Size() int64        { return 0 }
func (rootInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (rootInfo) ModTime() time.Time { return time.Time{} }
func (rootInfo) IsDir() bool        { return true }
func (rootInfo) Sys() any           { return nil }

// partitionEntry represents a partition as a directory entry (file)
type partitionEntry struct {
	part *Partition
}

func (e *partitionEntry) Name() string               { return e.part.Name }
func (e *partitionEntry) IsDir() bool                { return false }
func (e *partitionEntry) Type() fs.FileMode          { return 0 }
func (e *partitionEntry) Info() (fs.FileInfo, error) { return &partitionInfo{part: e.part}, nil }

// partitionInfo provides FileInfo for a partition
type partitionInfo struct {
	part *Partition
}

func (i *partitionInfo) Name() string { return i.part.Name }
func (i *partitionInfo) Size() int64  { return i.part.Size }
func (i *partitionInfo) Mode() fs.FileMode {
	if i.part.ReadOnly {
		return 0o444
	}
	return 0o644
}
func (i *partitionInfo) ModTime() time.Time { return time.Time{} }
func (i *partitionInfo) IsDir() bool        { return false }
func (i *partitionInfo) Sys() any           { return i.part }
func (i *partitionInfo) Inode() uint64      { return uint64(i.part.Index) }

// partitionFile represents an open partition as a file
type partitionFile struct {
	part *Partition
	r    *io.SectionReader
}

func (f *partitionFile) Stat() (fs.FileInfo, error) { return &partitionInfo{part: f.part}, nil }
func (f *partitionFile) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *partitionFile) ReadAt(p []byte, off int64) (int, error) {
	return f.r.ReadAt(p, off)
}
func (f *partitionFile) Close() error { return nil }
