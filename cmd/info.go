package cmd

import (
	"fmt"
	"io"

	"github.com/docker/go-units"

	"github.com/lvdlvd/jffs2dump/fsys/jffs2"
)

// Info describes the image and what a scan of it found.
func Info(img *Image, ix *jffs2.Index, out io.Writer) error {
	fmt.Fprintf(out, "Filesystem type: jffs2\n")
	fmt.Fprintf(out, "Detected as: %s\n", img.Type)
	if img.Partition != nil {
		fmt.Fprintf(out, "Partition: %s (%#x-%#x)\n", img.Partition.Name, img.Partition.Offset, img.Partition.End())
	}
	fmt.Fprintf(out, "First node: %#x\n", img.Offset)
	fmt.Fprintf(out, "Image size: %s\n", units.BytesSize(float64(img.Size())))

	st := ix.Stats
	fmt.Fprintf(out, "\nNodes: %d\n", st.Nodes)
	fmt.Fprintf(out, "  dirents:       %d\n", st.Dirents)
	fmt.Fprintf(out, "  inodes:        %d\n", st.Fragments)
	fmt.Fprintf(out, "  clean markers: %d\n", st.CleanMarkers)
	fmt.Fprintf(out, "  padding:       %d\n", st.Paddings)
	fmt.Fprintf(out, "  obsolete:      %d\n", st.Obsolete)
	fmt.Fprintf(out, "  unknown:       %d\n", st.Unknown)
	if st.Skipped > 0 {
		fmt.Fprintf(out, "Skipped: %d regions, %s\n", st.Skipped, units.BytesSize(float64(st.SkippedBytes)))
	}
	fmt.Fprintf(out, "Erased: %s\n", units.BytesSize(float64(st.EmptyBytes)))
	fmt.Fprintf(out, "Inodes: %d\n", len(ix.Fragments))
	return nil
}
