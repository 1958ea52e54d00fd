// Package jffs2test builds JFFS2 images in memory for tests.
package jffs2test

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lvdlvd/jffs2dump/fsys/jffs2"
)

// Common inode modes.
const (
	ModeDir  = 0o040755
	ModeFile = 0o100644
	ModeLink = 0o120777
)

// Builder appends nodes to an image. Methods panic on misuse, which is
// what a test wants.
type Builder struct {
	bo  binary.ByteOrder
	buf bytes.Buffer
}

// New returns a little-endian image builder.
func New() *Builder {
	return &Builder{bo: binary.LittleEndian}
}

// NewBigEndian returns a big-endian image builder.
func NewBigEndian() *Builder {
	return &Builder{bo: binary.BigEndian}
}

// Inode describes an inode node. Payload, when set, is written as is
// with Compr and DSize taken verbatim; otherwise Data is compressed
// with Compr.
type Inode struct {
	Ino     uint32
	Version uint32
	Mode    uint32
	UID     uint16
	GID     uint16
	Atime   uint32
	Mtime   uint32
	Ctime   uint32
	Offset  uint32
	Data    []byte
	Compr   jffs2.Compression

	Payload []byte
	DSize   uint32
}

// Offset returns the offset the next node will be written at.
func (b *Builder) Offset() int64 { return int64(b.buf.Len()) }

// Bytes returns the image.
func (b *Builder) Bytes() []byte { return b.buf.Bytes() }

// Reader returns the image as an io.ReaderAt with its size.
func (b *Builder) Reader() (*bytes.Reader, int64) {
	return bytes.NewReader(b.buf.Bytes()), int64(b.buf.Len())
}

// Dirent appends a directory entry. An ino of zero deletes name.
func (b *Builder) Dirent(pino, version, ino uint32, typ jffs2.DType, name string) *Builder {
	if len(name) > jffs2.MaxNameLen {
		panic(fmt.Sprintf("jffs2test: name of %d bytes", len(name)))
	}
	body := make([]byte, 28)
	b.bo.PutUint32(body[0:4], pino)
	b.bo.PutUint32(body[4:8], version)
	b.bo.PutUint32(body[8:12], ino)
	b.bo.PutUint32(body[12:16], version) // mctime
	body[16] = byte(len(name))
	body[17] = byte(typ)

	node := b.header(jffs2.NodeTypeDirent, 40+len(name))
	node = append(node, body...)
	b.bo.PutUint32(node[32:36], jffs2.CRC(node[:32]))
	b.bo.PutUint32(node[36:40], jffs2.CRC([]byte(name)))
	node = append(node, name...)
	b.write(node)
	return b
}

// Inode appends an inode node.
func (b *Builder) Inode(in Inode) *Builder {
	payload, dsize := in.Payload, in.DSize
	if payload == nil {
		var err error
		if payload, err = jffs2.Compress(in.Compr, in.Data); err != nil {
			panic(err)
		}
		dsize = uint32(len(in.Data))
	}

	node := b.header(jffs2.NodeTypeInode, 68+len(payload))
	body := make([]byte, 56)
	b.bo.PutUint32(body[0:4], in.Ino)
	b.bo.PutUint32(body[4:8], in.Version)
	b.bo.PutUint32(body[8:12], in.Mode)
	b.bo.PutUint16(body[12:14], in.UID)
	b.bo.PutUint16(body[14:16], in.GID)
	b.bo.PutUint32(body[16:20], in.Offset+dsize) // isize
	b.bo.PutUint32(body[20:24], in.Atime)
	b.bo.PutUint32(body[24:28], in.Mtime)
	b.bo.PutUint32(body[28:32], in.Ctime)
	b.bo.PutUint32(body[32:36], in.Offset)
	b.bo.PutUint32(body[36:40], uint32(len(payload)))
	b.bo.PutUint32(body[40:44], dsize)
	body[44] = byte(in.Compr)
	body[45] = byte(in.Compr)
	b.bo.PutUint32(body[48:52], jffs2.CRC(payload))
	node = append(node, body...)
	b.bo.PutUint32(node[64:68], jffs2.CRC(node[:60]))
	node = append(node, payload...)
	b.write(node)
	return b
}

// Dir appends the dirent and inode of a directory.
func (b *Builder) Dir(pino, ino uint32, name string) *Builder {
	b.Inode(Inode{Ino: ino, Version: 1, Mode: ModeDir})
	return b.Dirent(pino, 1, ino, jffs2.DTDir, name)
}

// File appends the dirent and a single uncompressed inode of a file.
func (b *Builder) File(pino, ino uint32, name string, data []byte) *Builder {
	b.Inode(Inode{Ino: ino, Version: 1, Mode: ModeFile, Data: data})
	return b.Dirent(pino, 1, ino, jffs2.DTReg, name)
}

// Symlink appends the dirent and inode of a symbolic link.
func (b *Builder) Symlink(pino, ino uint32, name, target string) *Builder {
	b.Inode(Inode{Ino: ino, Version: 1, Mode: ModeLink, Data: []byte(target)})
	return b.Dirent(pino, 1, ino, jffs2.DTLnk, name)
}

// CleanMarker appends a clean marker node.
func (b *Builder) CleanMarker() *Builder {
	b.write(b.header(jffs2.NodeTypeCleanMarker, 12))
	return b
}

// Padding appends a padding node of n bytes in total.
func (b *Builder) Padding(n int) *Builder {
	node := b.header(jffs2.NodeTypePadding, n)
	b.write(append(node, bytes.Repeat([]byte{0xFF}, n-len(node))...))
	return b
}

// Node appends a node of an arbitrary type with the given body.
func (b *Builder) Node(nodeType uint16, body []byte) *Builder {
	node := b.header(nodeType, 12+len(body))
	b.write(append(node, body...))
	return b
}

// Erased appends n bytes of erased flash.
func (b *Builder) Erased(n int) *Builder {
	b.buf.Write(bytes.Repeat([]byte{0xFF}, n))
	return b
}

// Raw appends bytes verbatim.
func (b *Builder) Raw(p []byte) *Builder {
	b.buf.Write(p)
	return b
}

// Flip inverts the byte at off, for corrupting a node after writing it.
func (b *Builder) Flip(off int64) *Builder {
	b.buf.Bytes()[off] ^= 0xFF
	return b
}

func (b *Builder) header(nodeType uint16, totlen int) []byte {
	hdr := make([]byte, 12, totlen)
	b.bo.PutUint16(hdr[0:2], 0x1985)
	b.bo.PutUint16(hdr[2:4], nodeType)
	b.bo.PutUint32(hdr[4:8], uint32(totlen))
	b.bo.PutUint32(hdr[8:12], jffs2.CRC(hdr[:8]))
	return hdr
}

func (b *Builder) write(node []byte) {
	b.buf.Write(node)
	if pad := len(node) % 4; pad != 0 {
		b.buf.Write(bytes.Repeat([]byte{0xFF}, 4-pad))
	}
}
