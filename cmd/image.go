package cmd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/lvdlvd/jffs2dump/detect"
	"github.com/lvdlvd/jffs2dump/fsys/jffs2"
	"github.com/lvdlvd/jffs2dump/fsys/part"
)

// ImageOptions selects which bytes of an image file hold the JFFS2
// log and how they are decoded.
type ImageOptions struct {
	Endian    string // auto, little or big
	Offset    string // byte offset of the first node, or auto
	MTDParts  string // mtdparts table for the image
	Partition string // partition of MTDParts holding the filesystem
	Lenient   bool
	VerifyCRC bool
}

// Image is an opened JFFS2 image, possibly a slice of a larger dump.
type Image struct {
	Name      string
	Type      detect.Type
	Offset    int64
	Partition *part.Partition

	f    io.Closer
	r    io.ReaderAt
	size int64
	opts jffs2.Options
}

// OpenImage opens the image file at name.
func OpenImage(name string, opts ImageOptions) (*Image, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat image: %w", err)
	}

	img, err := newImage(f, info.Size(), opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	img.Name = name
	img.f = f
	return img, nil
}

func newImage(r io.ReaderAt, size int64, opts ImageOptions) (*Image, error) {
	img := &Image{r: r, size: size}

	switch {
	case opts.MTDParts != "" && opts.Partition == "":
		return nil, errors.New("--mtdparts needs --partition")
	case opts.MTDParts == "" && opts.Partition != "":
		return nil, errors.New("--partition needs --mtdparts")
	case opts.MTDParts != "":
		pfs, err := part.Open(r, size, opts.MTDParts)
		if err != nil {
			return nil, err
		}
		sec, err := pfs.Section(opts.Partition)
		if err != nil {
			return nil, err
		}
		for _, p := range pfs.Partitions() {
			if p.Name == opts.Partition {
				img.Partition = p
			}
		}
		img.r, img.size = sec, sec.Size()
		logrus.Debugf("using partition %s at %#x", img.Partition.Name, img.Partition.Offset)
	}

	if err := img.locate(opts.Offset); err != nil {
		return nil, err
	}

	bo, err := img.byteOrder(opts.Endian)
	if err != nil {
		return nil, err
	}

	img.opts = jffs2.Options{
		ByteOrder: bo,
		Start:     img.Offset,
		VerifyCRC: opts.VerifyCRC,
		Lenient:   opts.Lenient,
	}
	return img, nil
}

func (img *Image) locate(offset string) error {
	if offset == "auto" {
		off, typ, err := detect.Find(img.r, img.size)
		if err != nil {
			return err
		}
		img.Offset, img.Type = off, typ
		logrus.Infof("found %s node at %#x", typ, off)
		return nil
	}

	if offset != "" {
		off, err := strconv.ParseInt(offset, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid offset %q: %w", offset, err)
		}
		if off < 0 || off >= img.size {
			return fmt.Errorf("offset %#x outside image of %d bytes", off, img.size)
		}
		img.Offset = off
	}

	typ, err := detect.Detect(io.NewSectionReader(img.r, img.Offset, img.size-img.Offset))
	if err != nil {
		return fmt.Errorf("detecting filesystem: %w", err)
	}
	img.Type = typ
	return nil
}

func (img *Image) byteOrder(endian string) (binary.ByteOrder, error) {
	switch strings.ToLower(endian) {
	case "little", "le":
		return binary.LittleEndian, nil
	case "big", "be":
		return binary.BigEndian, nil
	case "", "auto":
	default:
		return nil, fmt.Errorf("unsupported endian: %q", endian)
	}

	if bo := img.Type.ByteOrder(); bo != nil {
		return bo, nil
	}
	switch img.Type {
	case detect.Unknown, detect.Erased:
		logrus.Warnf("no JFFS2 node at %#x (%s), assuming little endian", img.Offset, img.Type)
		return binary.LittleEndian, nil
	default:
		return nil, fmt.Errorf("image holds %s, not JFFS2", img.Type)
	}
}

// Size returns the number of bytes the image spans.
func (img *Image) Size() int64 { return img.size }

// Scanner returns a node scanner over the image.
func (img *Image) Scanner() *jffs2.Scanner {
	return jffs2.NewScanner(img.r, img.size, img.opts)
}

// Index scans the whole image. visit, if not nil, sees every node.
func (img *Image) Index(visit func(jffs2.Node)) (*jffs2.Index, error) {
	ix, err := jffs2.BuildIndex(img.Scanner(), visit)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", img.Name, err)
	}
	return ix, nil
}

// FS scans the image and returns its filesystem view.
func (img *Image) FS() (*jffs2.FS, error) {
	ix, err := img.Index(nil)
	if err != nil {
		return nil, err
	}
	return jffs2.NewFS(ix), nil
}

func (img *Image) Close() error {
	if img.f == nil {
		return nil
	}
	return img.f.Close()
}
