package cmd

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/lvdlvd/jffs2dump/detect"
	"github.com/lvdlvd/jffs2dump/fsys/jffs2"
	"github.com/lvdlvd/jffs2dump/fsys/jffs2/jffs2test"
)

func testImage(b *jffs2test.Builder) *jffs2test.Builder {
	b.CleanMarker()
	b.Dir(1, 2, "etc")
	b.File(2, 3, "hostname", []byte("router\n"))
	b.File(1, 4, ".profile", []byte("export PS1='# '\n"))
	b.Symlink(1, 5, "sh", "busybox")
	b.Erased(64)
	return b
}

func openImage(t *testing.T, data []byte, opts ImageOptions) *Image {
	t.Helper()
	img, err := newImage(bytes.NewReader(data), int64(len(data)), opts)
	assert.NilError(t, err)
	img.Name = "test.img"
	return img
}

func openFS(t *testing.T) *jffs2.FS {
	t.Helper()
	f, err := openImage(t, testImage(jffs2test.New()).Bytes(), ImageOptions{}).FS()
	assert.NilError(t, err)
	return f
}

func TestLs(t *testing.T) {
	f := openFS(t)

	var out bytes.Buffer
	assert.NilError(t, Ls(f, "/", &out, LsOptions{}))
	assert.Equal(t, out.String(), "etc/\nsh\n")

	out.Reset()
	assert.NilError(t, Ls(f, ".", &out, LsOptions{All: true}))
	assert.Equal(t, out.String(), ".profile\netc/\nsh\n")

	out.Reset()
	assert.NilError(t, Ls(f, "etc", &out, LsOptions{Long: true}))
	assert.Equal(t, out.String(), "       3 -rw-r--r--     0     0            7 Jan  1 00:00 hostname\n")

	out.Reset()
	assert.NilError(t, Ls(f, "etc/hostname", &out, LsOptions{}))
	assert.Equal(t, out.String(), "hostname\n")

	assert.ErrorContains(t, Ls(f, "nope", &out, LsOptions{}), "not exist")
}

func TestLsOwner(t *testing.T) {
	b := jffs2test.New()
	b.Dirent(1, 1, 2, jffs2.DTReg, "passwd")
	b.Inode(jffs2test.Inode{Ino: 2, Version: 1, Mode: jffs2test.ModeFile, UID: 1000, GID: 100, Data: []byte("x")})
	f, err := openImage(t, b.Bytes(), ImageOptions{}).FS()
	assert.NilError(t, err)

	var out bytes.Buffer
	assert.NilError(t, Ls(f, "passwd", &out, LsOptions{Long: true}))
	assert.Check(t, is.Contains(out.String(), "  1000   100            1 "))
}

func TestCat(t *testing.T) {
	f := openFS(t)

	var out bytes.Buffer
	assert.NilError(t, Cat(f, "/etc/hostname", &out))
	assert.Equal(t, out.String(), "router\n")

	out.Reset()
	assert.NilError(t, Cat(f, "sh", &out))
	assert.Equal(t, out.String(), "busybox")

	assert.ErrorContains(t, Cat(f, "etc", &out), "is a directory")
}

func TestStat(t *testing.T) {
	f := openFS(t)

	var out bytes.Buffer
	assert.NilError(t, Stat(f, "etc/hostname", &out))
	assert.Check(t, is.Contains(out.String(), "  Size: 7\n"))
	assert.Check(t, is.Contains(out.String(), " Inode: 3\n"))
	assert.Check(t, is.Contains(out.String(), "   Uid: 0\n"))
	assert.Check(t, is.Contains(out.String(), " Isize: 7\n"))
}

func TestNodes(t *testing.T) {
	img := openImage(t, testImage(jffs2test.New()).Bytes(), ImageOptions{})

	var out bytes.Buffer
	assert.NilError(t, Nodes(img.Scanner(), &out))
	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	assert.Equal(t, lines[0], "00000000: <Clean marker>")
	assert.Check(t, is.Contains(lines[2], `<Dirent: pino=1, ino=2, type: directory, name="etc", ver=1>`))
	assert.Check(t, strings.HasSuffix(lines[len(lines)-1], "<Empty (64 bytes)>"))

	var logged bytes.Buffer
	log := NewNodeLog(&logged)
	ix, err := img.Index(log.Visit)
	assert.NilError(t, err)
	assert.NilError(t, log.Flush())
	assert.Equal(t, len(lines), ix.Stats.Nodes)
	if diff := cmp.Diff(out.String(), logged.String()); diff != "" {
		t.Errorf("node log mismatch (-nodes +log):\n%s", diff)
	}
}

func TestImageLocate(t *testing.T) {
	le := testImage(jffs2test.New()).Bytes()
	be := testImage(jffs2test.NewBigEndian()).Bytes()
	prefixed := append(make([]byte, 4096), le...)

	tests := []struct {
		name   string
		data   []byte
		opts   ImageOptions
		typ    detect.Type
		offset int64
		order  binary.ByteOrder
	}{
		{"little endian", le, ImageOptions{}, detect.JFFS2LE, 0, binary.LittleEndian},
		{"big endian", be, ImageOptions{Endian: "auto"}, detect.JFFS2BE, 0, binary.BigEndian},
		{"forced endian", be, ImageOptions{Endian: "big"}, detect.JFFS2BE, 0, binary.BigEndian},
		{"auto offset", prefixed, ImageOptions{Offset: "auto"}, detect.JFFS2LE, 4096, binary.LittleEndian},
		{"hex offset", prefixed, ImageOptions{Offset: "0x1000"}, detect.JFFS2LE, 4096, binary.LittleEndian},
		{"no node", prefixed, ImageOptions{}, detect.Unknown, 0, binary.LittleEndian},
		{"partition", prefixed, ImageOptions{MTDParts: "4k(boot),-(rootfs)", Partition: "rootfs"}, detect.JFFS2LE, 0, binary.LittleEndian},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := openImage(t, tt.data, tt.opts)
			assert.Equal(t, img.Type, tt.typ)
			assert.Equal(t, img.Offset, tt.offset)
			assert.Equal(t, img.Scanner().ByteOrder(), tt.order)
		})
	}
}

func TestImagePartition(t *testing.T) {
	data := append(make([]byte, 4096), testImage(jffs2test.New()).Bytes()...)
	img := openImage(t, data, ImageOptions{MTDParts: "mtdparts=flash:4k(boot)ro,-(rootfs)", Partition: "rootfs"})
	assert.Equal(t, img.Partition.Name, "rootfs")
	assert.Equal(t, img.Partition.Offset, int64(4096))
	assert.Equal(t, img.Size(), int64(len(data)-4096))

	f, err := img.FS()
	assert.NilError(t, err)
	var out bytes.Buffer
	assert.NilError(t, Cat(f, "etc/hostname", &out))
	assert.Equal(t, out.String(), "router\n")
}

func TestImageErrors(t *testing.T) {
	le := testImage(jffs2test.New()).Bytes()
	ubi := append([]byte("UBI#"), make([]byte, 60)...)

	tests := []struct {
		name string
		data []byte
		opts ImageOptions
		err  string
	}{
		{"partition without table", le, ImageOptions{Partition: "rootfs"}, "--partition needs --mtdparts"},
		{"table without partition", le, ImageOptions{MTDParts: "-(rootfs)"}, "--mtdparts needs --partition"},
		{"missing partition", le, ImageOptions{MTDParts: "-(rootfs)", Partition: "data"}, "partition not found"},
		{"bad offset", le, ImageOptions{Offset: "ten"}, "invalid offset"},
		{"offset past end", le, ImageOptions{Offset: "0x100000"}, "outside image"},
		{"bad endian", le, ImageOptions{Endian: "middle"}, "unsupported endian"},
		{"not jffs2", ubi, ImageOptions{}, "image holds UBI, not JFFS2"},
		{"nothing found", make([]byte, 1024), ImageOptions{Offset: "auto"}, "no JFFS2 node found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newImage(bytes.NewReader(tt.data), int64(len(tt.data)), tt.opts)
			assert.ErrorContains(t, err, tt.err)
		})
	}
}

func TestInfo(t *testing.T) {
	img := openImage(t, testImage(jffs2test.New()).Bytes(), ImageOptions{})
	ix, err := img.Index(nil)
	assert.NilError(t, err)

	var out bytes.Buffer
	assert.NilError(t, Info(img, ix, &out))
	assert.Check(t, is.Contains(out.String(), "Detected as: JFFS2 (little-endian)\n"))
	assert.Check(t, is.Contains(out.String(), "  clean markers: 1\n"))
	assert.Check(t, is.Contains(out.String(), "Erased: 64B\n"))
}

func TestParts(t *testing.T) {
	data := append(make([]byte, 4096), testImage(jffs2test.New()).Bytes()...)

	var out bytes.Buffer
	assert.NilError(t, Parts(bytes.NewReader(data), int64(len(data)), "4k(boot)ro,-(rootfs)", &out))
	assert.Check(t, is.Contains(out.String(), "Partitions: 2\n"))
	assert.Check(t, is.Contains(out.String(), "rootfs           JFFS2 (little-endian)\n"))
	assert.Check(t, is.Contains(out.String(), "boot             unknown\n"))
	// Listed in table order.
	assert.Check(t, strings.Index(out.String(), "boot             unknown") <
		strings.Index(out.String(), "rootfs           JFFS2"))

	assert.ErrorContains(t, Parts(bytes.NewReader(data), int64(len(data)), "1k(a),1k(a)", &out), "duplicate")
}

func TestExtract(t *testing.T) {
	img := openImage(t, testImage(jffs2test.New()).Bytes(), ImageOptions{})
	host := afero.NewMemMapFs()

	rep, err := Extract(context.Background(), img, host, ExtractOptions{
		Output:   "/root",
		Manifest: "/manifest.yaml",
		NodeLog:  "/log.txt",
	})
	assert.NilError(t, err)
	assert.Check(t, !rep.Failed())

	data, err := afero.ReadFile(host, "/root/etc/hostname")
	assert.NilError(t, err)
	assert.Equal(t, string(data), "router\n")

	manifest, err := afero.ReadFile(host, "/manifest.yaml")
	assert.NilError(t, err)
	assert.Check(t, is.Contains(string(manifest), "image: test.img\n"))
	assert.Check(t, is.Contains(string(manifest), "path: etc/hostname\n"))

	log, err := afero.ReadFile(host, "/log.txt")
	assert.NilError(t, err)
	var want bytes.Buffer
	assert.NilError(t, Nodes(img.Scanner(), &want))
	assert.Equal(t, string(log), want.String())
}

func TestExtractFailOnError(t *testing.T) {
	b := testImage(jffs2test.New())
	b.File(1, 9, "..", []byte("escape"))
	img := openImage(t, b.Bytes(), ImageOptions{})

	rep, err := Extract(context.Background(), img, afero.NewMemMapFs(), ExtractOptions{Output: "/root"})
	assert.NilError(t, err)
	assert.Check(t, rep.Failed())

	_, err = Extract(context.Background(), img, afero.NewMemMapFs(), ExtractOptions{Output: "/root", FailOnError: true})
	assert.ErrorContains(t, err, "1 problems during extraction")
}

func TestExtractScanError(t *testing.T) {
	b := testImage(jffs2test.New())
	b.Raw([]byte{0x85, 0x19, 0x02, 0xe0, 0xff, 0xff, 0xff, 0x7f, 0, 0, 0, 0})
	img := openImage(t, b.Bytes(), ImageOptions{})

	_, err := Extract(context.Background(), img, afero.NewMemMapFs(), ExtractOptions{Output: "/root"})
	var fe *jffs2.FormatError
	assert.Check(t, errors.As(err, &fe), "got %v", err)
}
