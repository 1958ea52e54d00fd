package jffs2

import (
	"bytes"
	"errors"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestDecompressRtime(t *testing.T) {
	tests := []struct {
		name  string
		src   []byte
		dsize int
		want  string
	}{
		{
			name:  "single run",
			src:   []byte{0x41, 3},
			dsize: 4,
			want:  "AAAA",
		},
		{
			// backref 1 + repeat 2 < 4: block copy of "BC"
			name:  "non-overlapping copy",
			src:   []byte{'A', 0, 'B', 0, 'C', 0, 'A', 2},
			dsize: 6,
			want:  "ABCABC",
		},
		{
			// backref 1 + repeat 3 >= 3: the copy reads bytes it writes
			name:  "overlapping copy",
			src:   []byte{'A', 0, 'B', 0, 'A', 3},
			dsize: 6,
			want:  "ABABAB",
		},
		{
			// backref 0 + repeat 3 >= 3: overlapping path, copying bytes
			// that already exist
			name:  "run against initial position",
			src:   []byte{'A', 0, 'B', 0, 'C', 3},
			dsize: 6,
			want:  "ABCABC",
		},
		{
			name:  "literals",
			src:   []byte{'x', 0, 'y', 0, 'z', 0},
			dsize: 3,
			want:  "xyz",
		},
		{
			name:  "empty",
			src:   nil,
			dsize: 0,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decompress(ComprRtime, tt.src, tt.dsize)
			assert.NilError(t, err)
			assert.Equal(t, string(got), tt.want)
		})
	}
}

func TestDecompressRtimeErrors(t *testing.T) {
	tests := []struct {
		name  string
		src   []byte
		dsize int
	}{
		{name: "input exhausted", src: []byte{'A', 0}, dsize: 2},
		{name: "odd input", src: []byte{'A'}, dsize: 1},
		{name: "repeat overruns", src: []byte{'A', 5}, dsize: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decompress(ComprRtime, tt.src, tt.dsize)
			var de *DecodeError
			assert.Assert(t, errors.As(err, &de), "got %v", err)
			assert.Equal(t, de.Method, ComprRtime)
		})
	}
}

func TestCompressRoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty":    {},
		"text":     []byte("the quick brown fox jumps over the lazy dog, the quick brown fox"),
		"repeated": bytes.Repeat([]byte("ab"), 700),
		"runs":     append(bytes.Repeat([]byte{0}, 300), bytes.Repeat([]byte{1}, 300)...),
		"binary":   pseudoRandom(4096),
	}

	for _, method := range []Compression{ComprNone, ComprRtime, ComprZlib, ComprLZMA} {
		for name, data := range inputs {
			t.Run(method.String()+"/"+name, func(t *testing.T) {
				enc, err := Compress(method, data)
				assert.NilError(t, err)
				dec, err := Decompress(method, enc, len(data))
				assert.NilError(t, err)
				assert.Assert(t, bytes.Equal(dec, data))
			})
		}
	}
}

func TestCompressRtimeMatchesKernel(t *testing.T) {
	// At 'C' the run is compared against position 0, the initial
	// value of every table slot, and covers "ABC".
	assert.DeepEqual(t, compressRtime([]byte("ABCABC")), []byte{'A', 0, 'B', 0, 'C', 3})
	assert.DeepEqual(t, compressRtime([]byte("AAAA")), []byte{'A', 3})
}

func TestLZMAEmpty(t *testing.T) {
	enc, err := Compress(ComprLZMA, nil)
	assert.NilError(t, err)
	dec, err := Decompress(ComprLZMA, enc, 0)
	assert.NilError(t, err)
	assert.Equal(t, len(dec), 0)

	dec, err = Decompress(ComprLZMA, nil, 0)
	assert.NilError(t, err)
	assert.Equal(t, len(dec), 0)
}

func TestDecompressIdempotent(t *testing.T) {
	data := bytes.Repeat([]byte("jffs2 log replay "), 64)
	for _, method := range []Compression{ComprRtime, ComprZlib} {
		enc, err := Compress(method, data)
		assert.NilError(t, err)
		first, err := Decompress(method, enc, len(data))
		assert.NilError(t, err)
		second, err := Decompress(method, enc, len(data))
		assert.NilError(t, err)
		assert.DeepEqual(t, first, second)
	}
}

func TestDecompressZero(t *testing.T) {
	out, err := Decompress(ComprZero, nil, 16)
	assert.NilError(t, err)
	assert.DeepEqual(t, out, make([]byte, 16))
}

func TestDecompressLengthMismatch(t *testing.T) {
	_, err := Decompress(ComprNone, []byte("abc"), 4)
	var de *DecodeError
	assert.Assert(t, errors.As(err, &de))
	assert.Equal(t, de.Want, 4)
	assert.Equal(t, de.Got, 3)

	enc, err := Compress(ComprZlib, []byte("hello world"))
	assert.NilError(t, err)
	_, err = Decompress(ComprZlib, enc, 5)
	assert.Assert(t, errors.As(err, &de))
	assert.Equal(t, de.Method, ComprZlib)
}

func TestDecompressCorruptZlib(t *testing.T) {
	_, err := Decompress(ComprZlib, []byte{0xde, 0xad, 0xbe, 0xef}, 10)
	var de *DecodeError
	assert.Assert(t, errors.As(err, &de))
}

func TestDecompressUnsupported(t *testing.T) {
	for _, method := range []Compression{ComprRubinMIPS, ComprCopy, ComprDynRubin, ComprLZO, 0x42} {
		_, err := Decompress(method, []byte{1, 2, 3}, 3)
		var ue *UnsupportedCompressionError
		assert.Assert(t, errors.As(err, &ue), "method %s", method)
		assert.Equal(t, ue.Method, method)
	}
}

func TestCompressionString(t *testing.T) {
	assert.Equal(t, ComprRtime.String(), "rtime")
	assert.Equal(t, ComprLZMA.String(), "lzma")
	assert.Check(t, is.Contains(Compression(0x42).String(), "66"))
}

func TestCRC(t *testing.T) {
	// JFFS2 CRC of an empty buffer is the zero seed.
	assert.Equal(t, CRC(nil), uint32(0))
	assert.Assert(t, CRC([]byte("a")) != CRC([]byte("b")))
}

func pseudoRandom(n int) []byte {
	b := make([]byte, n)
	x := uint32(2463534242)
	for i := range b {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		b[i] = byte(x)
	}
	return b
}
