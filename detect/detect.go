// Package detect identifies the contents of raw flash images.
package detect

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/lvdlvd/jffs2dump/fsys/jffs2"
)

// Type represents an image type
type Type int

const (
	Unknown Type = iota
	JFFS2LE      // JFFS2, little-endian nodes
	JFFS2BE      // JFFS2, big-endian nodes
	Erased       // nothing but erased flash
	UBI          // UBI erase counter header
	SquashFS
	UImage // U-Boot legacy image header
)

func (t Type) String() string {
	switch t {
	case JFFS2LE:
		return "JFFS2 (little-endian)"
	case JFFS2BE:
		return "JFFS2 (big-endian)"
	case Erased:
		return "erased"
	case UBI:
		return "UBI"
	case SquashFS:
		return "SquashFS"
	case UImage:
		return "uImage"
	default:
		return "unknown"
	}
}

// IsJFFS2 returns true if the type is either JFFS2 byte order
func (t Type) IsJFFS2() bool {
	return t == JFFS2LE || t == JFFS2BE
}

// ByteOrder returns the byte order of a JFFS2 type, or nil.
func (t Type) ByteOrder() binary.ByteOrder {
	switch t {
	case JFFS2LE:
		return binary.LittleEndian
	case JFFS2BE:
		return binary.BigEndian
	default:
		return nil
	}
}

// ErrNotFound is returned by Find when no JFFS2 node header exists.
var ErrNotFound = errors.New("no JFFS2 node found")

// Detect identifies the image type from a reader.
// It reads the first 4KB; erased words at the start are skipped.
func Detect(r io.ReaderAt) (Type, error) {
	header := make([]byte, 4096)
	n, err := r.ReadAt(header, 0)
	if err != nil && err != io.EOF {
		return Unknown, fmt.Errorf("reading header: %w", err)
	}
	if n < 4 {
		return Unknown, fmt.Errorf("file too small: %d bytes", n)
	}
	header = header[:n]

	// Other formats found on flash dumps, by their leading magic
	switch {
	case bytes.HasPrefix(header, []byte("UBI#")):
		return UBI, nil
	case bytes.HasPrefix(header, []byte("hsqs")), bytes.HasPrefix(header, []byte("sqsh")):
		return SquashFS, nil
	case binary.BigEndian.Uint32(header) == 0x27051956:
		return UImage, nil
	}

	off := 0
	for off+4 <= n && binary.LittleEndian.Uint32(header[off:]) == 0xFFFFFFFF {
		off += 4
	}
	if off+4 > n {
		return Erased, nil
	}
	if off+12 > n {
		return Unknown, nil
	}
	return nodeType(header[off : off+12]), nil
}

// Find searches the first size bytes of r for the first 4-byte aligned
// JFFS2 node header whose header CRC is valid, and returns its offset
// and byte order.
func Find(r io.ReaderAt, size int64) (int64, Type, error) {
	const chunk = 64 << 10
	buf := make([]byte, chunk+12)

	for base := int64(0); base < size; base += chunk {
		n := int(min(int64(len(buf)), size-base))
		if _, err := r.ReadAt(buf[:n], base); err != nil && err != io.EOF {
			return 0, Unknown, fmt.Errorf("reading at %#x: %w", base, err)
		}
		for i := 0; i+12 <= n && i < chunk; i += 4 {
			if t := nodeType(buf[i : i+12]); t != Unknown {
				return base + int64(i), t, nil
			}
		}
	}
	return 0, Unknown, ErrNotFound
}

// nodeType checks a 12-byte common node header in both byte orders.
func nodeType(hdr []byte) Type {
	for _, t := range []Type{JFFS2LE, JFFS2BE} {
		bo := t.ByteOrder()
		if bo.Uint16(hdr[0:2]) == 0x1985 && jffs2.CRC(hdr[:8]) == bo.Uint32(hdr[8:12]) {
			return t
		}
	}
	return Unknown
}
