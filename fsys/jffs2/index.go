package jffs2

import (
	"bytes"
	"fmt"
	"io/fs"
	"sort"
	"time"
)

// Stats counts what a scan found.
type Stats struct {
	Nodes        int
	Dirents      int
	Fragments    int
	CleanMarkers int
	Paddings     int
	Unknown      int
	Obsolete     int
	Skipped      int   // regions skipped while resynchronising
	SkippedBytes int64 // bytes covered by skipped regions
	EmptyBytes   int64 // erased bytes
}

// Index holds every dirent and fragment of an image, grouped but not
// yet resolved. It is built once and not modified afterwards.
type Index struct {
	sc *Scanner

	// Dirents maps a parent directory inode to its entries in log order.
	Dirents map[uint32][]*Dirent
	// Fragments maps an inode to its fragments in log order.
	Fragments map[uint32][]*Fragment
	// Empty lists the erased regions of the image.
	Empty []*EmptyRun

	Stats Stats
}

// BuildIndex scans the whole image once. visit, if not nil, sees every
// node in log order.
func BuildIndex(sc *Scanner, visit func(Node)) (*Index, error) {
	ix := &Index{
		sc:        sc,
		Dirents:   make(map[uint32][]*Dirent),
		Fragments: make(map[uint32][]*Fragment),
	}

	err := sc.Walk(func(n Node) error {
		if visit != nil {
			visit(n)
		}
		ix.Stats.Nodes++
		switch n := n.(type) {
		case *Dirent:
			ix.Stats.Dirents++
			ix.Dirents[n.Pino] = append(ix.Dirents[n.Pino], n)
		case *Fragment:
			ix.Stats.Fragments++
			ix.Fragments[n.Ino] = append(ix.Fragments[n.Ino], n)
		case *CleanMarker:
			ix.Stats.CleanMarkers++
		case *Padding:
			ix.Stats.Paddings++
		case *EmptyRun:
			ix.Stats.EmptyBytes += n.Len()
			ix.Empty = append(ix.Empty, n)
		case *Unknown:
			switch {
			case n.Reason != "":
				ix.Stats.Skipped++
				ix.Stats.SkippedBytes += n.Len()
			case n.Obsolete():
				ix.Stats.Obsolete++
			default:
				ix.Stats.Unknown++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ix, nil
}

// Children returns the live entries of directory dir: for every name
// the entry with the highest version, unless that entry is a tombstone.
// Entries are sorted by name.
func (ix *Index) Children(dir uint32) []*Dirent {
	latest := make(map[string]*Dirent)
	for _, d := range ix.Dirents[dir] {
		cur, ok := latest[string(d.Name)]
		// Equal versions: the later log entry wins.
		if !ok || d.Version >= cur.Version {
			latest[string(d.Name)] = d
		}
	}

	children := make([]*Dirent, 0, len(latest))
	for _, d := range latest {
		if d.Deleted() {
			continue
		}
		children = append(children, d)
	}
	sort.Slice(children, func(i, j int) bool {
		return bytes.Compare(children[i].Name, children[j].Name) < 0
	})
	return children
}

// Lookup returns the live entry called name in directory dir.
func (ix *Index) Lookup(dir uint32, name string) (*Dirent, bool) {
	var found *Dirent
	for _, d := range ix.Dirents[dir] {
		if string(d.Name) != name {
			continue
		}
		if found == nil || d.Version >= found.Version {
			found = d
		}
	}
	if found == nil || found.Deleted() {
		return nil, false
	}
	return found, true
}

// Extent returns the file size implied by the fragments of ino: the
// furthest byte any of them writes.
func (ix *Index) Extent(ino uint32) int64 {
	var size int64
	for _, f := range ix.Fragments[ino] {
		size = max(size, f.End())
	}
	return size
}

// ReadFile replays the fragments of ino in version order over a zeroed
// buffer, so that wherever fragments overlap the newest one wins. If a
// fragment fails to decode, the bytes assembled so far are returned
// along with the error. limit bounds the file size; zero means no limit.
func (ix *Index) ReadFile(ino uint32, limit int64) ([]byte, error) {
	frags := ix.Fragments[ino]
	size := ix.Extent(ino)
	if limit > 0 && size > limit {
		return nil, &StructuralError{Ino: ino, Reason: fmt.Sprintf("size %d exceeds limit %d", size, limit)}
	}

	ordered := make([]*Fragment, len(frags))
	copy(ordered, frags)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Version < ordered[j].Version
	})

	data := make([]byte, size)
	for _, f := range ordered {
		if f.DSize == 0 {
			continue
		}
		out, err := ix.Decode(f)
		if err != nil {
			return data, fmt.Errorf("inode %d fragment at %#x: %w", ino, f.Offset(), err)
		}
		copy(data[f.FileOffset:], out)
	}
	return data, nil
}

// Decode reads and decompresses the payload of f.
func (ix *Index) Decode(f *Fragment) ([]byte, error) {
	var src []byte
	if f.Compr != ComprZero {
		var err error
		if src, err = ix.sc.Payload(f); err != nil {
			return nil, err
		}
	}
	return Decompress(f.Compr, src, int(f.DSize))
}

// Attr is the metadata of an inode as of its newest fragment.
type Attr struct {
	Ino   uint32
	Mode  uint32
	UID   uint16
	GID   uint16
	ISize uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// Unix file type bits in Attr.Mode.
const (
	sIFMT   = 0o170000
	sIFSOCK = 0o140000
	sIFLNK  = 0o120000
	sIFREG  = 0o100000
	sIFBLK  = 0o060000
	sIFDIR  = 0o040000
	sIFCHR  = 0o020000
	sIFIFO  = 0o010000
)

// FileMode converts the Unix mode bits to an io/fs mode.
func (a Attr) FileMode() fs.FileMode {
	m := fs.FileMode(a.Mode & 0o777)
	if a.Mode&0o4000 != 0 {
		m |= fs.ModeSetuid
	}
	if a.Mode&0o2000 != 0 {
		m |= fs.ModeSetgid
	}
	if a.Mode&0o1000 != 0 {
		m |= fs.ModeSticky
	}
	switch a.Mode & sIFMT {
	case sIFDIR:
		m |= fs.ModeDir
	case sIFLNK:
		m |= fs.ModeSymlink
	case sIFIFO:
		m |= fs.ModeNamedPipe
	case sIFSOCK:
		m |= fs.ModeSocket
	case sIFCHR:
		m |= fs.ModeDevice | fs.ModeCharDevice
	case sIFBLK:
		m |= fs.ModeDevice
	}
	return m
}

// Attr returns the metadata of ino. ok is false if the image holds no
// inode node for it.
func (ix *Index) Attr(ino uint32) (Attr, bool) {
	var newest *Fragment
	for _, f := range ix.Fragments[ino] {
		if newest == nil || f.Version >= newest.Version {
			newest = f
		}
	}
	if newest == nil {
		return Attr{Ino: ino}, false
	}
	return Attr{
		Ino:   ino,
		Mode:  newest.Mode,
		UID:   newest.UID,
		GID:   newest.GID,
		ISize: newest.ISize,
		Atime: time.Unix(int64(newest.Atime), 0).UTC(),
		Mtime: time.Unix(int64(newest.Mtime), 0).UTC(),
		Ctime: time.Unix(int64(newest.Ctime), 0).UTC(),
	}, true
}

// Orphans returns, in ascending order, the directories that have live
// entries but are not in reached.
func (ix *Index) Orphans(reached func(ino uint32) bool) []uint32 {
	var orphans []uint32
	for dir := range ix.Dirents {
		if reached(dir) || len(ix.Children(dir)) == 0 {
			continue
		}
		orphans = append(orphans, dir)
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })
	return orphans
}
