package arbor

import (
	"sort"
	"strings"
	"time"
)

// FileNode is the stable tree shape exchanged with the rendering layer.
// Paths are workspace-relative, slash-separated, and never contain "."
// or ".." segments.
type FileNode struct {
	Path     string     `json:"path"`
	Name     string     `json:"name"`
	IsFile   bool       `json:"is_file"`
	Size     *int64     `json:"size"`     // nil for folders
	Modified *time.Time `json:"modified"` // nil when the host reports none

	// Children is nil while a folder has not been listed yet. A loaded
	// empty folder holds a non-nil empty slice. Once loaded, Children
	// never reverts to nil.
	Children []*FileNode `json:"children"`

	// IsPending marks a node whose backing storage operation has not
	// resolved yet. Transient; never persisted.
	IsPending bool `json:"isPending,omitempty"`
}

// Loaded reports whether the node's children have been listed.
// Always true for files.
func (n *FileNode) Loaded() bool {
	return n.IsFile || n.Children != nil
}

// Clone returns a fully independent deep copy of the node and its
// loaded descendants. Snapshot/rollback soundness depends on the copy
// sharing no mutable state with the original.
func (n *FileNode) Clone() *FileNode {
	if n == nil {
		return nil
	}
	c := *n
	if n.Size != nil {
		size := *n.Size
		c.Size = &size
	}
	if n.Modified != nil {
		mod := *n.Modified
		c.Modified = &mod
	}
	if n.Children != nil {
		c.Children = CloneNodes(n.Children)
	}
	return &c
}

// CloneNodes deep-copies a sibling slice. A non-nil empty input yields
// a non-nil empty output so loaded-empty folders stay loaded.
func CloneNodes(nodes []*FileNode) []*FileNode {
	if nodes == nil {
		return nil
	}
	out := make([]*FileNode, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

// Child returns the loaded child with the given name, if any.
func (n *FileNode) Child(name string) (*FileNode, bool) {
	for _, c := range n.Children {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// NodeLess is the canonical sibling order: folders before files, then
// case-insensitive name order.
func NodeLess(a, b *FileNode) bool {
	if a.IsFile != b.IsFile {
		return !a.IsFile
	}
	an, bn := strings.ToLower(a.Name), strings.ToLower(b.Name)
	if an != bn {
		return an < bn
	}
	// Stable tiebreak for names differing only by case.
	return a.Name < b.Name
}

// SortNodes sorts a sibling slice in place into the canonical order.
func SortNodes(nodes []*FileNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		return NodeLess(nodes[i], nodes[j])
	})
}

// InsertSorted inserts a node into an already-sorted sibling slice,
// keeping the canonical order, and returns the new slice.
func InsertSorted(nodes []*FileNode, node *FileNode) []*FileNode {
	i := sort.Search(len(nodes), func(i int) bool {
		return NodeLess(node, nodes[i])
	})
	nodes = append(nodes, nil)
	copy(nodes[i+1:], nodes[i:])
	nodes[i] = node
	return nodes
}

// RemoveNode removes the node with the given path from a sibling slice
// and returns the new slice and whether anything was removed.
func RemoveNode(nodes []*FileNode, path string) ([]*FileNode, bool) {
	for i, n := range nodes {
		if n.Path == path {
			return append(nodes[:i], nodes[i+1:]...), true
		}
	}
	return nodes, false
}
