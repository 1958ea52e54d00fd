package cmd

import (
	"fmt"
	"io"
	"io/fs"

	"github.com/lvdlvd/jffs2dump/detect"
	"github.com/lvdlvd/jffs2dump/fsys/part"
)

// Parts prints the partition table given by spec and what each
// partition appears to hold.
func Parts(r io.ReaderAt, size int64, spec string, out io.Writer) error {
	pfs, err := part.Open(r, size, spec)
	if err != nil {
		return err
	}
	defer pfs.Close()

	fmt.Fprint(out, pfs.Info())
	fmt.Fprintln(out)

	entries, err := fs.ReadDir(pfs, ".")
	if err != nil {
		return err
	}
	for _, e := range entries {
		typ, err := detectPartition(pfs, e.Name())
		if err != nil {
			fmt.Fprintf(out, "%-16s %v\n", e.Name(), err)
			continue
		}
		fmt.Fprintf(out, "%-16s %s\n", e.Name(), typ)
	}
	return nil
}

func detectPartition(fsys fs.FS, name string) (detect.Type, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return detect.Unknown, err
	}
	defer f.Close()

	ra, ok := f.(io.ReaderAt)
	if !ok {
		return detect.Unknown, fmt.Errorf("%s: not randomly readable", name)
	}
	return detect.Detect(ra)
}
