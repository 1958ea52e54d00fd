// Package jffs2 implements read-only JFFS2 image support.
//
// A JFFS2 image is an append-only log of nodes. Directory entries and
// data fragments are versioned; later versions supersede earlier ones.
// The Scanner walks the log, BuildIndex collects the nodes, and the
// Index resolves versions into the final state of each directory and
// file.
package jffs2

import (
	"fmt"
	"io/fs"
)

const (
	magic      = 0x1985
	emptyMagic = 0xFFFF

	// Node type compatibility bits.
	featureIncompat    = 0xC000
	featureRWCompatDel = 0x0000
	nodeAccurate       = 0x2000

	NodeTypeDirent      = featureIncompat | nodeAccurate | 1
	NodeTypeInode       = featureIncompat | nodeAccurate | 2
	NodeTypeCleanMarker = featureRWCompatDel | nodeAccurate | 3
	NodeTypePadding     = featureRWCompatDel | nodeAccurate | 4

	// Fixed header sizes.
	commonHeaderSize = 12
	direntHeaderSize = 40
	inodeHeaderSize  = 68

	// RootIno is the inode number of the root directory.
	RootIno = 1

	// MaxNameLen is the longest name a dirent can carry.
	MaxNameLen = 255
)

// Kind identifies the variant of a Node.
type Kind uint8

const (
	KindDirent Kind = iota + 1
	KindFragment
	KindCleanMarker
	KindPadding
	KindEmpty
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindDirent:
		return "dirent"
	case KindFragment:
		return "inode"
	case KindCleanMarker:
		return "cleanmarker"
	case KindPadding:
		return "padding"
	case KindEmpty:
		return "empty"
	case KindUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// DType is the file type stored in a directory entry.
type DType uint8

const (
	DTUnknown DType = 0
	DTFifo    DType = 1
	DTChr     DType = 2
	DTDir     DType = 4
	DTBlk     DType = 6
	DTReg     DType = 8
	DTLnk     DType = 10
	DTSock    DType = 12
	DTWht     DType = 14
)

func (t DType) String() string {
	switch t {
	case DTFifo:
		return "fifo"
	case DTChr:
		return "char device"
	case DTDir:
		return "directory"
	case DTBlk:
		return "block device"
	case DTReg:
		return "regular file"
	case DTLnk:
		return "symlink"
	case DTSock:
		return "socket"
	case DTWht:
		return "whiteout"
	default:
		return "unknown"
	}
}

// FileMode returns the io/fs type bits for t.
func (t DType) FileMode() fs.FileMode {
	switch t {
	case DTDir:
		return fs.ModeDir
	case DTLnk:
		return fs.ModeSymlink
	case DTFifo:
		return fs.ModeNamedPipe
	case DTChr:
		return fs.ModeDevice | fs.ModeCharDevice
	case DTBlk:
		return fs.ModeDevice
	case DTSock:
		return fs.ModeSocket
	case DTWht:
		return fs.ModeIrregular
	default:
		return 0
	}
}

// Node is one record of the log. The set of implementations is closed:
// *Dirent, *Fragment, *CleanMarker, *Padding, *EmptyRun and *Unknown.
type Node interface {
	// Offset is the position of the node in the image.
	Offset() int64
	// Len is the number of image bytes the node occupies, padding included.
	Len() int64
	Kind() Kind
	String() string

	isNode()
}

type extent struct {
	off    int64
	length int64
}

func (e extent) Offset() int64 { return e.off }
func (e extent) Len() int64    { return e.length }
func (extent) isNode()         {}

// Dirent is a directory entry node. An Ino of zero is a tombstone that
// deletes Name from directory Pino.
type Dirent struct {
	extent
	HdrCRC  uint32
	Pino    uint32
	Version uint32
	Ino     uint32
	Mctime  uint32
	Type    DType
	NodeCRC uint32
	NameCRC uint32
	Name    []byte
}

func (d *Dirent) Kind() Kind { return KindDirent }

// Deleted reports whether d is a tombstone.
func (d *Dirent) Deleted() bool { return d.Ino == 0 }

func (d *Dirent) String() string {
	return fmt.Sprintf("%08X: <Dirent: pino=%d, ino=%d, type: %s, name=%q, ver=%d>",
		d.off, d.Pino, d.Ino, d.Type, d.Name, d.Version)
}

// Fragment is an inode node: a versioned byte range of a file together
// with the inode metadata current at the time it was written. Nodes
// with DSize zero only carry metadata.
type Fragment struct {
	extent
	HdrCRC     uint32
	Ino        uint32
	Version    uint32
	Mode       uint32
	UID        uint16
	GID        uint16
	ISize      uint32
	Atime      uint32
	Mtime      uint32
	Ctime      uint32
	FileOffset uint32
	CSize      uint32
	DSize      uint32
	Compr      Compression
	UserCompr  uint8
	Flags      uint16
	DataCRC    uint32
	NodeCRC    uint32

	// DataOffset locates the CSize payload bytes in the image.
	DataOffset int64
}

func (f *Fragment) Kind() Kind { return KindFragment }

// End is one past the last file byte written by f.
func (f *Fragment) End() int64 { return int64(f.FileOffset) + int64(f.DSize) }

func (f *Fragment) String() string {
	return fmt.Sprintf("%08X: <Inode: ino=%d, ver=%d, offset=%08X, compr=%s, csize=%d, dsize=%d>",
		f.off, f.Ino, f.Version, f.FileOffset, f.Compr, f.CSize, f.DSize)
}

// CleanMarker marks a freshly erased block.
type CleanMarker struct{ extent }

func (*CleanMarker) Kind() Kind { return KindCleanMarker }
func (c *CleanMarker) String() string {
	return fmt.Sprintf("%08X: <Clean marker>", c.off)
}

// Padding fills the unused tail of an erase block.
type Padding struct{ extent }

func (*Padding) Kind() Kind { return KindPadding }
func (p *Padding) String() string {
	return fmt.Sprintf("%08X: <Padding node (%d bytes)>", p.off, p.length)
}

// EmptyRun is a stretch of erased (0xFF) flash.
type EmptyRun struct{ extent }

func (*EmptyRun) Kind() Kind { return KindEmpty }
func (e *EmptyRun) String() string {
	return fmt.Sprintf("%08X: <Empty (%d bytes)>", e.off, e.length)
}

// Unknown is a node of a type this package does not interpret, or a
// run of bytes skipped while resynchronising, in which case Reason says
// why.
type Unknown struct {
	extent
	NodeType uint16
	Reason   string
}

func (*Unknown) Kind() Kind { return KindUnknown }

// Obsolete reports whether the node is a dirent or inode node that the
// filesystem marked obsolete by clearing its accurate bit.
func (u *Unknown) Obsolete() bool {
	t := u.NodeType | nodeAccurate
	return u.NodeType&nodeAccurate == 0 && (t == NodeTypeDirent || t == NodeTypeInode)
}

func (u *Unknown) String() string {
	switch {
	case u.Reason != "":
		return fmt.Sprintf("%08X: <Skipped %d bytes: %s>", u.off, u.length, u.Reason)
	case u.Obsolete():
		return fmt.Sprintf("%08X: <Obsolete node of type %04X, len=%d>", u.off, u.NodeType, u.length)
	default:
		return fmt.Sprintf("%08X: <Unknown node of type %04X, len=%d>", u.off, u.NodeType, u.length)
	}
}

func roundUp4(n int64) int64 {
	return (n + 3) &^ 3
}
