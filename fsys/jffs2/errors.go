package jffs2

import "fmt"

// FormatError reports a node header that cannot be parsed: bad magic,
// an impossible length, or (when CRC verification is enabled) a
// checksum mismatch.
type FormatError struct {
	Offset int64
	Reason string

	// skip is the node length when the header itself was sound.
	skip     int64
	nodeType uint16
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("jffs2: bad node at offset %#08x: %s", e.Offset, e.Reason)
}

// DecodeError reports a fragment whose payload did not decompress to
// the declared size.
type DecodeError struct {
	Method Compression
	Want   int
	Got    int
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("jffs2: %s decode: %s", e.Method, e.Reason)
	}
	return fmt.Sprintf("jffs2: %s decode: got %d bytes, want %d", e.Method, e.Got, e.Want)
}

// UnsupportedCompressionError is returned for compression methods this
// package cannot decode.
type UnsupportedCompressionError struct {
	Method Compression
}

func (e *UnsupportedCompressionError) Error() string {
	return fmt.Sprintf("jffs2: unsupported compression %s", e.Method)
}

// StructuralError reports an inconsistency in the directory graph, such
// as a cycle or entries whose parent is never reached.
type StructuralError struct {
	Ino    uint32
	Path   string
	Reason string
}

func (e *StructuralError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("jffs2: inode %d (%s): %s", e.Ino, e.Path, e.Reason)
	}
	return fmt.Sprintf("jffs2: inode %d: %s", e.Ino, e.Reason)
}
