package extract

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Entry describes one extracted path.
type Entry struct {
	Path   string `yaml:"path"`
	Ino    uint32 `yaml:"ino"`
	Type   string `yaml:"type"`
	Mode   string `yaml:"mode"`
	Size   int64  `yaml:"size,omitempty"`
	Digest string `yaml:"blake3,omitempty"`
	Target string `yaml:"target,omitempty"`

	// Partial is set when a fragment failed to decode; the file holds
	// the bytes assembled before the failure.
	Partial bool `yaml:"partial,omitempty"`
	// LinkAsFile is set when a symlink was written as a regular file
	// holding its target.
	LinkAsFile bool `yaml:"link_as_file,omitempty"`
}

// Problem is an error scoped to one entry or subtree.
type Problem struct {
	Path string
	Ino  uint32
	Err  error
}

func (p Problem) String() string {
	if p.Path == "" {
		return p.Err.Error()
	}
	return fmt.Sprintf("%s: %v", p.Path, p.Err)
}

// Report collects the outcome of an extraction. It is safe for
// concurrent use while the extraction runs.
type Report struct {
	mu       sync.Mutex
	Entries  []Entry
	Problems []Problem
	Skipped  int // device nodes, sockets, fifos and whiteouts
}

func (r *Report) add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Entries = append(r.Entries, e)
}

func (r *Report) problem(path string, ino uint32, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Problems = append(r.Problems, Problem{Path: path, Ino: ino, Err: err})
}

func (r *Report) skip() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Skipped++
}

func (r *Report) sort() {
	sort.Slice(r.Entries, func(i, j int) bool { return r.Entries[i].Path < r.Entries[j].Path })
	sort.SliceStable(r.Problems, func(i, j int) bool { return r.Problems[i].Path < r.Problems[j].Path })
}

// Failed reports whether any problem was recorded.
func (r *Report) Failed() bool {
	return len(r.Problems) > 0
}

// Entry returns the entry extracted at path.
func (r *Report) Entry(path string) (Entry, bool) {
	for _, e := range r.Entries {
		if e.Path == path {
			return e, true
		}
	}
	return Entry{}, false
}

type manifest struct {
	Image    string   `yaml:"image,omitempty"`
	Files    int      `yaml:"files"`
	Skipped  int      `yaml:"skipped,omitempty"`
	Entries  []Entry  `yaml:"entries"`
	Problems []string `yaml:"problems,omitempty"`
}

// WriteManifest writes the report as YAML.
func (r *Report) WriteManifest(w io.Writer, image string) error {
	m := manifest{
		Image:   image,
		Files:   len(r.Entries),
		Skipped: r.Skipped,
		Entries: r.Entries,
	}
	for _, p := range r.Problems {
		m.Problems = append(m.Problems, p.String())
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	return enc.Close()
}
