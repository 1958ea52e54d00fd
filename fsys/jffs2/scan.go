package jffs2

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Options controls how an image is scanned.
type Options struct {
	// ByteOrder of the image. Defaults to little endian.
	ByteOrder binary.ByteOrder

	// Start is the image offset of the first node.
	Start int64

	// VerifyCRC enables header, node, name and data checksum checks.
	VerifyCRC bool

	// Lenient turns malformed nodes into skipped regions instead of
	// failing the scan. The scanner resynchronises on the next valid
	// node header.
	Lenient bool
}

// Scanner decodes nodes from a raw image.
type Scanner struct {
	r    io.ReaderAt
	size int64
	bo   binary.ByteOrder
	opts Options
}

// NewScanner returns a Scanner over the first size bytes of r.
func NewScanner(r io.ReaderAt, size int64, opts Options) *Scanner {
	bo := opts.ByteOrder
	if bo == nil {
		bo = binary.LittleEndian
	}
	return &Scanner{r: r, size: size, bo: bo, opts: opts}
}

// Size returns the size of the scanned image.
func (s *Scanner) Size() int64 { return s.size }

// ByteOrder returns the byte order nodes are decoded with.
func (s *Scanner) ByteOrder() binary.ByteOrder { return s.bo }

// Scan decodes the node at off and returns it with the offset of the
// following node. At the end of the image it returns io.EOF.
func (s *Scanner) Scan(off int64) (Node, int64, error) {
	if off >= s.size {
		return nil, off, io.EOF
	}

	n, err := s.parse(off)
	if err == nil {
		return n, off + n.Len(), nil
	}

	var fe *FormatError
	if !s.opts.Lenient || !errors.As(err, &fe) {
		return nil, off, err
	}

	// The header was intact, only a body checksum failed: trust the
	// declared length.
	if fe.skip > 0 {
		u := &Unknown{extent: extent{off, fe.skip}, NodeType: fe.nodeType, Reason: fe.Reason}
		return u, off + fe.skip, nil
	}

	next, rerr := s.resync(off)
	if rerr != nil {
		return nil, off, rerr
	}
	return &Unknown{extent: extent{off, next - off}, Reason: fe.Reason}, next, nil
}

// Walk calls fn for every node from Options.Start to the end of the
// image, stopping at the first error.
func (s *Scanner) Walk(fn func(Node) error) error {
	off := s.opts.Start
	for {
		n, next, err := s.Scan(off)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(n); err != nil {
			return err
		}
		off = next
	}
}

// Payload reads the compressed data of f from the image.
func (s *Scanner) Payload(f *Fragment) ([]byte, error) {
	data := make([]byte, f.CSize)
	if err := s.readFull(data, f.DataOffset); err != nil {
		return nil, fmt.Errorf("reading payload of inode %d at %#x: %w", f.Ino, f.DataOffset, err)
	}
	return data, nil
}

func (s *Scanner) parse(off int64) (Node, error) {
	avail := s.size - off

	if avail < 4 {
		tail := make([]byte, avail)
		if err := s.readFull(tail, off); err != nil {
			return nil, err
		}
		if isErased(tail) {
			return &EmptyRun{extent{off, avail}}, nil
		}
		return nil, &FormatError{Offset: off, Reason: "truncated node header"}
	}

	hdr := make([]byte, min(avail, commonHeaderSize))
	if err := s.readFull(hdr, off); err != nil {
		return nil, err
	}

	m := s.bo.Uint16(hdr[0:2])
	if m == emptyMagic {
		return s.emptyRun(off)
	}
	if m != magic {
		return nil, &FormatError{Offset: off, Reason: fmt.Sprintf("bad magic %04X", m)}
	}
	if avail < commonHeaderSize {
		return nil, &FormatError{Offset: off, Reason: "truncated node header"}
	}

	nodeType := s.bo.Uint16(hdr[2:4])
	totlen := s.bo.Uint32(hdr[4:8])
	hdrCRC := s.bo.Uint32(hdr[8:12])

	if s.opts.VerifyCRC && CRC(hdr[:8]) != hdrCRC {
		return nil, &FormatError{Offset: off, Reason: "header CRC mismatch"}
	}
	if totlen < commonHeaderSize {
		return nil, &FormatError{Offset: off, Reason: fmt.Sprintf("node length %d shorter than header", totlen)}
	}
	if int64(totlen) > avail {
		return nil, &FormatError{Offset: off, Reason: fmt.Sprintf("node length %d runs past end of image", totlen)}
	}

	e := extent{off, roundUp4(int64(totlen))}
	switch nodeType {
	case NodeTypeDirent:
		return s.parseDirent(e, totlen, hdrCRC)
	case NodeTypeInode:
		return s.parseFragment(e, totlen, hdrCRC)
	case NodeTypeCleanMarker:
		return &CleanMarker{e}, nil
	case NodeTypePadding:
		return &Padding{e}, nil
	default:
		return &Unknown{extent: e, NodeType: nodeType}, nil
	}
}

func (s *Scanner) parseDirent(e extent, totlen, hdrCRC uint32) (Node, error) {
	if totlen < direntHeaderSize {
		return nil, &FormatError{Offset: e.off, Reason: fmt.Sprintf("dirent length %d shorter than header", totlen)}
	}
	buf := make([]byte, direntHeaderSize)
	if err := s.readFull(buf, e.off); err != nil {
		return nil, err
	}

	d := &Dirent{
		extent:  e,
		HdrCRC:  hdrCRC,
		Pino:    s.bo.Uint32(buf[12:16]),
		Version: s.bo.Uint32(buf[16:20]),
		Ino:     s.bo.Uint32(buf[20:24]),
		Mctime:  s.bo.Uint32(buf[24:28]),
		Type:    DType(buf[29]),
		NodeCRC: s.bo.Uint32(buf[32:36]),
		NameCRC: s.bo.Uint32(buf[36:40]),
	}
	nsize := uint32(buf[28])
	if direntHeaderSize+nsize > totlen {
		return nil, &FormatError{Offset: e.off, Reason: fmt.Sprintf("name of %d bytes exceeds node length %d", nsize, totlen)}
	}
	d.Name = make([]byte, nsize)
	if err := s.readFull(d.Name, e.off+direntHeaderSize); err != nil {
		return nil, err
	}

	if s.opts.VerifyCRC {
		if CRC(buf[:direntHeaderSize-8]) != d.NodeCRC {
			return nil, s.bodyCRCError(e, NodeTypeDirent, "dirent node CRC mismatch")
		}
		if CRC(d.Name) != d.NameCRC {
			return nil, s.bodyCRCError(e, NodeTypeDirent, "dirent name CRC mismatch")
		}
	}
	return d, nil
}

func (s *Scanner) parseFragment(e extent, totlen, hdrCRC uint32) (Node, error) {
	if totlen < inodeHeaderSize {
		return nil, &FormatError{Offset: e.off, Reason: fmt.Sprintf("inode length %d shorter than header", totlen)}
	}
	buf := make([]byte, inodeHeaderSize)
	if err := s.readFull(buf, e.off); err != nil {
		return nil, err
	}

	f := &Fragment{
		extent:     e,
		HdrCRC:     hdrCRC,
		Ino:        s.bo.Uint32(buf[12:16]),
		Version:    s.bo.Uint32(buf[16:20]),
		Mode:       s.bo.Uint32(buf[20:24]),
		UID:        s.bo.Uint16(buf[24:26]),
		GID:        s.bo.Uint16(buf[26:28]),
		ISize:      s.bo.Uint32(buf[28:32]),
		Atime:      s.bo.Uint32(buf[32:36]),
		Mtime:      s.bo.Uint32(buf[36:40]),
		Ctime:      s.bo.Uint32(buf[40:44]),
		FileOffset: s.bo.Uint32(buf[44:48]),
		CSize:      s.bo.Uint32(buf[48:52]),
		DSize:      s.bo.Uint32(buf[52:56]),
		Compr:      Compression(buf[56]),
		UserCompr:  buf[57],
		Flags:      s.bo.Uint16(buf[58:60]),
		DataCRC:    s.bo.Uint32(buf[60:64]),
		NodeCRC:    s.bo.Uint32(buf[64:68]),
		DataOffset: e.off + inodeHeaderSize,
	}
	if int64(inodeHeaderSize)+int64(f.CSize) > int64(totlen) {
		return nil, &FormatError{Offset: e.off, Reason: fmt.Sprintf("payload of %d bytes exceeds node length %d", f.CSize, totlen)}
	}

	if s.opts.VerifyCRC {
		if CRC(buf[:inodeHeaderSize-8]) != f.NodeCRC {
			return nil, s.bodyCRCError(e, NodeTypeInode, "inode node CRC mismatch")
		}
		data, err := s.Payload(f)
		if err != nil {
			return nil, err
		}
		if CRC(data) != f.DataCRC {
			return nil, s.bodyCRCError(e, NodeTypeInode, "inode data CRC mismatch")
		}
	}
	return f, nil
}

func (s *Scanner) bodyCRCError(e extent, nodeType uint16, reason string) error {
	return &FormatError{Offset: e.off, Reason: reason, skip: e.length, nodeType: nodeType}
}

// emptyRun measures the erased region starting at off. The first word
// has already been identified by its magic; the run extends over every
// following all-ones word.
func (s *Scanner) emptyRun(off int64) (Node, error) {
	buf := make([]byte, 64<<10)
	end := off + 4
	for end < s.size {
		n := min(int64(len(buf)), s.size-end)
		if err := s.readFull(buf[:n], end); err != nil {
			return nil, err
		}
		i := int64(0)
		for i+4 <= n && isErased(buf[i:i+4]) {
			i += 4
		}
		// A partial word can only remain at the very end of the image.
		if i < n && n-i < 4 && isErased(buf[i:n]) {
			i = n
		}
		end += i
		if i < n {
			break
		}
	}
	return &EmptyRun{extent{off, min(end, s.size) - off}}, nil
}

// resync looks for the next plausible node after a malformed one: a
// matching magic with a valid header CRC at any byte offset, or an
// erased word at an aligned offset.
func (s *Scanner) resync(from int64) (int64, error) {
	const window = 64 << 10
	buf := make([]byte, window+commonHeaderSize)
	for base := from + 1; base < s.size; base += window {
		n := min(int64(len(buf)), s.size-base)
		if err := s.readFull(buf[:n], base); err != nil {
			return 0, err
		}
		for i := int64(0); i < n && i < window; i++ {
			p := base + i
			if p%4 == 0 && i+4 <= n && isErased(buf[i:i+4]) {
				return p, nil
			}
			if i+commonHeaderSize <= n && s.validHeader(buf[i:i+commonHeaderSize]) {
				return p, nil
			}
		}
	}
	return s.size, nil
}

func (s *Scanner) validHeader(h []byte) bool {
	return s.bo.Uint16(h[0:2]) == magic && CRC(h[:8]) == s.bo.Uint32(h[8:12])
}

func (s *Scanner) readFull(p []byte, off int64) error {
	n, err := s.r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("reading %d bytes at %#x: %w", len(p), off, err)
}

func isErased(p []byte) bool {
	for _, b := range p {
		if b != 0xFF {
			return false
		}
	}
	return true
}
