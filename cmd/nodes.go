package cmd

import (
	"bufio"
	"fmt"
	"io"

	"github.com/lvdlvd/jffs2dump/fsys/jffs2"
)

// Nodes writes one line per node of the image in log order.
func Nodes(sc *jffs2.Scanner, out io.Writer) error {
	return sc.Walk(func(n jffs2.Node) error {
		_, err := fmt.Fprintln(out, n)
		return err
	})
}

// NodeLog writes the lines of Nodes as a side effect of another scan.
type NodeLog struct {
	w   *bufio.Writer
	err error
}

func NewNodeLog(w io.Writer) *NodeLog {
	return &NodeLog{w: bufio.NewWriter(w)}
}

// Visit logs n. It matches the visit argument of jffs2.BuildIndex.
func (l *NodeLog) Visit(n jffs2.Node) {
	if l.err != nil {
		return
	}
	_, l.err = fmt.Fprintln(l.w, n)
}

// Flush writes buffered lines and returns the first write error.
func (l *NodeLog) Flush() error {
	if l.err != nil {
		return l.err
	}
	return l.w.Flush()
}
