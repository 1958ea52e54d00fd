package jffs2

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/ulikunitz/xz/lzma"
)

// Compression identifies the compressor used for a fragment payload.
// The values are fixed by the on-flash format.
type Compression uint8

const (
	ComprNone      Compression = 0x00
	ComprZero      Compression = 0x01
	ComprRtime     Compression = 0x02
	ComprRubinMIPS Compression = 0x03
	ComprCopy      Compression = 0x04
	ComprDynRubin  Compression = 0x05
	ComprZlib      Compression = 0x06
	ComprLZO       Compression = 0x07
	ComprLZMA      Compression = 0x08
)

func (c Compression) String() string {
	switch c {
	case ComprNone:
		return "none"
	case ComprZero:
		return "zero"
	case ComprRtime:
		return "rtime"
	case ComprRubinMIPS:
		return "rubinmips"
	case ComprCopy:
		return "copy"
	case ComprDynRubin:
		return "dynrubin"
	case ComprZlib:
		return "zlib"
	case ComprLZO:
		return "lzo"
	case ComprLZMA:
		return "lzma"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Parameters used by the LZMA compressor in JFFS2 kernels that ship it.
const (
	lzmaDictSize   = 0x2000
	lzmaProperties = 0 // lc=0, lp=0, pb=0
)

// Decompress decodes a fragment payload compressed with method. The
// result is exactly dsize bytes long or an error is returned.
func Decompress(method Compression, src []byte, dsize int) ([]byte, error) {
	if dsize < 0 {
		return nil, &DecodeError{Method: method, Reason: fmt.Sprintf("negative size %d", dsize)}
	}

	var (
		out []byte
		err error
	)
	switch method {
	case ComprNone:
		out = src
	case ComprZero:
		out = make([]byte, dsize)
	case ComprRtime:
		out, err = decompressRtime(src, dsize)
	case ComprZlib:
		out, err = decompressZlib(src, dsize)
	case ComprLZMA:
		out, err = decompressLZMA(src, dsize)
	default:
		return nil, &UnsupportedCompressionError{Method: method}
	}
	if err != nil {
		return nil, err
	}

	if len(out) != dsize {
		return nil, &DecodeError{Method: method, Want: dsize, Got: len(out)}
	}
	return out, nil
}

// decompressRtime expands the rtime encoding: a sequence of (value,
// repeat) byte pairs. Each pair emits value, then copies repeat bytes
// starting at the position that followed the previous occurrence of
// value. Copies that overlap their own output proceed byte by byte.
func decompressRtime(src []byte, dsize int) ([]byte, error) {
	var positions [256]int
	out := make([]byte, 0, dsize)
	pos := 0

	for len(out) < dsize {
		if pos+2 > len(src) {
			return nil, &DecodeError{Method: ComprRtime, Want: dsize, Got: len(out),
				Reason: fmt.Sprintf("input exhausted after %d of %d bytes", len(out), dsize)}
		}
		value, repeat := src[pos], int(src[pos+1])
		pos += 2

		out = append(out, value)
		backoffs := positions[value]
		positions[value] = len(out)

		if repeat == 0 {
			continue
		}
		if len(out)+repeat > dsize {
			return nil, &DecodeError{Method: ComprRtime, Want: dsize, Got: len(out) + repeat,
				Reason: fmt.Sprintf("repeat of %d overruns output at %d", repeat, len(out))}
		}
		if backoffs+repeat >= len(out) {
			for i := 0; i < repeat; i++ {
				out = append(out, out[backoffs+i])
			}
		} else {
			out = append(out, out[backoffs:backoffs+repeat]...)
		}
	}
	return out, nil
}

func decompressZlib(src []byte, dsize int) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, &DecodeError{Method: ComprZlib, Want: dsize, Reason: err.Error()}
	}
	defer zr.Close()

	// One extra byte lets an oversized stream show up as a length mismatch.
	out, err := io.ReadAll(io.LimitReader(zr, int64(dsize)+1))
	if err != nil {
		return nil, &DecodeError{Method: ComprZlib, Want: dsize, Got: len(out), Reason: err.Error()}
	}
	return out, nil
}

func decompressLZMA(src []byte, dsize int) ([]byte, error) {
	// The reader rejects the encoder's own flush for empty input.
	if dsize == 0 {
		return []byte{}, nil
	}

	// The payload is a raw LZMA stream; give the reader the classic
	// header it expects.
	var hdr [13]byte
	hdr[0] = lzmaProperties
	binary.LittleEndian.PutUint32(hdr[1:5], lzmaDictSize)
	binary.LittleEndian.PutUint64(hdr[5:13], uint64(dsize))

	lr, err := lzma.NewReader(io.MultiReader(bytes.NewReader(hdr[:]), bytes.NewReader(src)))
	if err != nil {
		return nil, &DecodeError{Method: ComprLZMA, Want: dsize, Reason: err.Error()}
	}
	out, err := io.ReadAll(io.LimitReader(lr, int64(dsize)+1))
	if err != nil {
		return nil, &DecodeError{Method: ComprLZMA, Want: dsize, Got: len(out), Reason: err.Error()}
	}
	return out, nil
}

// Compress encodes data with method. It supports none, zero, rtime,
// zlib and lzma.
func Compress(method Compression, data []byte) ([]byte, error) {
	switch method {
	case ComprNone:
		return data, nil
	case ComprZero:
		for _, b := range data {
			if b != 0 {
				return nil, errors.New("jffs2: zero compression of non-zero data")
			}
		}
		return nil, nil
	case ComprRtime:
		return compressRtime(data), nil
	case ComprZlib:
		var buf bytes.Buffer
		zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case ComprLZMA:
		return compressLZMA(data)
	default:
		return nil, &UnsupportedCompressionError{Method: method}
	}
}

func compressLZMA(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	cfg := lzma.WriterConfig{
		Properties:   &lzma.Properties{LC: 0, LP: 0, PB: 0},
		DictCap:      lzmaDictSize,
		SizeInHeader: true,
		Size:         int64(len(data)),
	}
	lw, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := lw.Write(data); err != nil {
		return nil, err
	}
	if err := lw.Close(); err != nil {
		return nil, err
	}
	// Drop the classic header written by the encoder.
	return buf.Bytes()[13:], nil
}

func compressRtime(data []byte) []byte {
	var positions [256]int
	out := make([]byte, 0, len(data)*2)
	pos := 0

	for pos < len(data) {
		value := data[pos]
		out = append(out, value)
		pos++

		backpos := positions[value]
		positions[value] = pos

		runlen := 0
		for backpos < pos && pos < len(data) && data[pos] == data[backpos] && runlen < 255 {
			pos++
			backpos++
			runlen++
		}
		out = append(out, byte(runlen))
	}
	return out
}
