package tree

import (
	"time"

	"github.com/arbormd/arbor"
	"github.com/google/uuid"
)

// OpKind identifies a mutation type.
type OpKind string

const (
	OpCreateFile   OpKind = "create_file"
	OpCreateFolder OpKind = "create_folder"
	OpRename       OpKind = "rename"
	OpDelete       OpKind = "delete"
)

// PendingOperation tracks one in-flight optimistic mutation. It backs
// the single-flight guard (at most one pending operation per path) and
// holds everything needed to roll the store back wholesale.
type PendingOperation struct {
	ID           uuid.UUID
	Kind         OpKind
	Path         string // target path
	OriginalPath string // renames only: the pre-rename path
	Started      time.Time

	// Full deep copy of the tree taken immediately before the
	// optimistic change; rollback restores it wholesale.
	snapshot   *arbor.FileNode
	expanded   map[string]bool
	prevActive string
	gen        uint64

	// True when the optimistic apply itself cleared the active
	// selection. Rollback only restores a selection this operation
	// disturbed, never one the user changed while it was in flight.
	clearedActive bool

	// Delete bookkeeping for the undo engine: deep copy of the removed
	// node and best-effort captured file content.
	deleted *arbor.FileNode
	content []byte
}

// Event reports the final outcome of a mutation for UI notification.
// A nil Err means the operation committed.
type Event struct {
	OpID uuid.UUID
	Kind OpKind
	Path string
	Err  error
}
