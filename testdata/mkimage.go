//go:build ignore

package main

import (
	"fmt"
	"os"

	"github.com/lvdlvd/jffs2dump/fsys/jffs2"
	"github.com/lvdlvd/jffs2dump/fsys/jffs2/jffs2test"
)

const eraseBlock = 64 * 1024

func main() {
	if err := createImage("testdata/rootfs-le.jffs2", jffs2test.New()); err != nil {
		fmt.Fprintf(os.Stderr, "little endian: %v\n", err)
	}
	if err := createImage("testdata/rootfs-be.jffs2", jffs2test.NewBigEndian()); err != nil {
		fmt.Fprintf(os.Stderr, "big endian: %v\n", err)
	}
	if err := createFlashDump("testdata/flash.bin"); err != nil {
		fmt.Fprintf(os.Stderr, "flash dump: %v\n", err)
	}
}

// populate writes a small root filesystem with a history: an
// overwritten file, a deleted file, a renamed directory and fragments
// in every supported compression.
func populate(b *jffs2test.Builder) {
	b.CleanMarker()
	b.Inode(jffs2test.Inode{Ino: 1, Version: 1, Mode: jffs2test.ModeDir, Mtime: 1700000000})

	b.Dir(1, 2, "etc")
	b.File(2, 3, "hostname", []byte("OpenWrt\n"))
	b.Inode(jffs2test.Inode{Ino: 3, Version: 2, Mode: jffs2test.ModeFile, Data: []byte("router\n"), Mtime: 1700000100})

	b.Dir(1, 4, "bin")
	b.Inode(jffs2test.Inode{Ino: 5, Version: 1, Mode: 0o100755, Data: busybox(), Compr: jffs2.ComprZlib})
	b.Dirent(4, 1, 5, jffs2.DTReg, "busybox")
	b.Symlink(4, 6, "sh", "busybox")

	b.Inode(jffs2test.Inode{Ino: 7, Version: 1, Mode: jffs2test.ModeFile, Data: []byte("aaaaaaaabbbbbbbbaaaaaaaa"), Compr: jffs2.ComprRtime})
	b.Dirent(2, 1, 7, jffs2.DTReg, "banner")
	b.Inode(jffs2test.Inode{Ino: 8, Version: 1, Mode: jffs2test.ModeFile, Data: []byte("lzma compressed\n"), Compr: jffs2.ComprLZMA})
	b.Dirent(2, 1, 8, jffs2.DTReg, "motd")

	b.File(1, 9, "tmpfile", []byte("gone"))
	b.Dirent(1, 2, 0, jffs2.DTUnknown, "tmpfile")

	b.Dir(1, 10, "overlay")
	b.Dirent(1, 2, 0, jffs2.DTUnknown, "overlay")
	b.Dirent(1, 3, 10, jffs2.DTDir, "rom")

	b.Padding(32)
}

func busybox() []byte {
	data := make([]byte, 8192)
	for i := range data {
		data[i] = byte(i * 7 % 251)
	}
	return data
}

func createImage(name string, b *jffs2test.Builder) error {
	populate(b)
	b.Erased(eraseBlock - int(b.Offset()%eraseBlock))
	return os.WriteFile(name, b.Bytes(), 0o644)
}

// createFlashDump writes a whole-chip dump: a zero filled boot loader
// partition followed by the filesystem, for
// --mtdparts 64k(u-boot)ro,-(rootfs).
func createFlashDump(name string) error {
	b := jffs2test.New()
	populate(b)
	b.Erased(eraseBlock - int(b.Offset()%eraseBlock))
	return os.WriteFile(name, append(make([]byte, eraseBlock), b.Bytes()...), 0o644)
}
