package detect

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/lvdlvd/jffs2dump/fsys/jffs2/jffs2test"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		image []byte
		want  Type
	}{
		{"little endian", jffs2test.New().CleanMarker().Bytes(), JFFS2LE},
		{"big endian", jffs2test.NewBigEndian().CleanMarker().Bytes(), JFFS2BE},
		{"erased prefix", jffs2test.New().Erased(256).File(1, 2, "f", nil).Bytes(), JFFS2LE},
		{"all erased", bytes.Repeat([]byte{0xFF}, 8192), Erased},
		{"ubi", append([]byte("UBI#"), make([]byte, 60)...), UBI},
		{"squashfs", append([]byte("hsqs"), make([]byte, 60)...), SquashFS},
		{"uimage", append([]byte{0x27, 0x05, 0x19, 0x56}, make([]byte, 60)...), UImage},
		{"zeros", make([]byte, 512), Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Detect(bytes.NewReader(tt.image))
			assert.NilError(t, err)
			assert.Equal(t, got, tt.want)
		})
	}
}

func TestDetectTooSmall(t *testing.T) {
	_, err := Detect(bytes.NewReader([]byte{1, 2}))
	assert.ErrorContains(t, err, "too small")
}

func TestDetectBadHeaderCRC(t *testing.T) {
	image := jffs2test.New().CleanMarker().Flip(10).Bytes()
	got, err := Detect(bytes.NewReader(image))
	assert.NilError(t, err)
	assert.Equal(t, got, Unknown)
}

func TestFind(t *testing.T) {
	// A bootloader blob in front of the filesystem, crossing a chunk boundary.
	b := jffs2test.NewBigEndian()
	b.Raw(bytes.Repeat([]byte{0xA5}, 70000))
	start := b.Offset()
	b.CleanMarker()

	off, typ, err := Find(bytes.NewReader(b.Bytes()), int64(len(b.Bytes())))
	assert.NilError(t, err)
	assert.Equal(t, off, start)
	assert.Equal(t, typ, JFFS2BE)
	assert.Equal(t, typ.ByteOrder(), binary.ByteOrder(binary.BigEndian))
}

func TestFindNone(t *testing.T) {
	image := make([]byte, 1024)
	_, _, err := Find(bytes.NewReader(image), int64(len(image)))
	assert.Assert(t, errors.Is(err, ErrNotFound))
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, JFFS2LE.String(), "JFFS2 (little-endian)")
	assert.Assert(t, JFFS2BE.IsJFFS2())
	assert.Assert(t, !Erased.IsJFFS2())
	assert.Assert(t, Unknown.ByteOrder() == nil)
}
