package extract

import "sync"

// Tree maps inodes to the host path they were first extracted to.
// Entries are never replaced. It is safe for concurrent use.
type Tree struct {
	mu    sync.Mutex
	paths map[uint32]string
}

// NewTree returns an empty Tree.
func NewTree() *Tree {
	return &Tree{paths: make(map[uint32]string)}
}

// Add records path for ino unless ino already has one, and reports
// whether it did.
func (t *Tree) Add(ino uint32, path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.paths[ino]; ok {
		return false
	}
	t.paths[ino] = path
	return true
}

// Path returns the path recorded for ino.
func (t *Tree) Path(ino uint32) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.paths[ino]
	return p, ok
}

// Len returns the number of recorded inodes.
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.paths)
}
