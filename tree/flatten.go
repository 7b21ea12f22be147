package tree

import "github.com/arbormd/arbor"

// CreationPlaceholder is the inline name-entry row shown while the user
// is typing a new entry's name. It lives only in the flat projection,
// never in the tree itself.
type CreationPlaceholder struct {
	ParentPath string
	IsFile     bool
}

// FlatEntry is one row of the flattened tree. Exactly one of Node and
// Placeholder is set.
type FlatEntry struct {
	Index int
	Depth int

	Node        *arbor.FileNode
	Placeholder *CreationPlaceholder

	// HasChildren is the expander-affordance hint: true for any folder
	// that is unloaded or has at least one visible child.
	HasChildren bool
	Expanded    bool
	Active      bool
}

// Flatten projects a tree into the ordered row list a virtualized view
// renders: pre-order, children visible only under expanded and loaded
// folders. Iterative on an explicit stack so depth is bounded by the
// slice, not the goroutine stack.
func Flatten(roots []*arbor.FileNode, expanded map[string]bool, activePath string) []FlatEntry {
	type frame struct {
		node  *arbor.FileNode
		depth int
	}
	entries := make([]FlatEntry, 0, len(roots))
	stack := make([]frame, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{roots[i], 0})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := f.node

		isExpanded := !n.IsFile && expanded[n.Path]
		entries = append(entries, FlatEntry{
			Index:       len(entries),
			Depth:       f.depth,
			Node:        n,
			HasChildren: !n.IsFile && (!n.Loaded() || len(n.Children) > 0),
			Expanded:    isExpanded,
			Active:      activePath != "" && n.Path == activePath,
		})
		if isExpanded && n.Loaded() {
			for i := len(n.Children) - 1; i >= 0; i-- {
				stack = append(stack, frame{n.Children[i], f.depth + 1})
			}
		}
	}
	return entries
}

// Flatten projects the store's current tree, optionally splicing in a
// creation placeholder. The placeholder lands directly after the anchor
// row when one is given (indented one level deeper when the anchor is
// the target folder itself), otherwise at the head of the target
// folder's children. If the target folder is not visible and expanded,
// no placeholder is inserted.
func (s *Store) Flatten(ph *CreationPlaceholder, anchorPath string) []FlatEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := Flatten(s.root.Children, s.expanded, s.activePath)
	if ph == nil {
		return entries
	}
	return insertPlaceholder(entries, ph, anchorPath)
}

func insertPlaceholder(entries []FlatEntry, ph *CreationPlaceholder, anchorPath string) []FlatEntry {
	parentAt := -1
	if ph.ParentPath != "" {
		for i, e := range entries {
			if e.Node != nil && e.Node.Path == ph.ParentPath {
				parentAt = i
				break
			}
		}
		if parentAt < 0 || !entries[parentAt].Expanded {
			return entries
		}
	}

	pos, depth := -1, 0
	if anchorPath != "" {
		for i, e := range entries {
			if e.Node != nil && e.Node.Path == anchorPath {
				pos = i + 1
				depth = e.Depth
				if anchorPath == ph.ParentPath {
					depth++
				}
				break
			}
		}
	}
	if pos < 0 {
		if ph.ParentPath == "" {
			pos, depth = 0, 0
		} else {
			pos, depth = parentAt+1, entries[parentAt].Depth+1
		}
	}

	out := make([]FlatEntry, 0, len(entries)+1)
	out = append(out, entries[:pos]...)
	out = append(out, FlatEntry{Depth: depth, Placeholder: ph})
	out = append(out, entries[pos:]...)
	for i := range out {
		out[i].Index = i
	}
	return out
}
