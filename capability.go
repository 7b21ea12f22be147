package arbor

import (
	"context"
	"io"
	"time"
)

// Permission is the host-reported access state of a root capability.
type Permission int

const (
	PermissionUnknown Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// RootHandle is an opaque capability to a host-managed workspace root.
// It is persisted by identity, not by raw path, and every storage
// operation requires it to be in the granted state.
type RootHandle interface {
	// Name returns the workspace display identity (root folder name).
	Name() string

	// ID returns a stable identity string used for session restore.
	ID() string

	// Permission reports the current access state without prompting.
	Permission() Permission

	// RequestPermission asks the host to re-grant access, potentially
	// prompting the user. Returns the resulting state.
	RequestPermission(ctx context.Context) (Permission, error)

	// Dir returns the directory capability for the root itself.
	Dir() DirHandle
}

// EntryInfo describes one directory entry as reported by the host.
type EntryInfo struct {
	Name     string
	IsDir    bool
	Size     int64
	Modified time.Time
}

// DirHandle is a capability to a single directory.
type DirHandle interface {
	Name() string

	// Entries lists the immediate children. Order is host-defined;
	// callers are responsible for sorting.
	Entries(ctx context.Context) ([]EntryInfo, error)

	// Dir resolves an existing child directory. Fails with
	// [ErrNotFound] if absent or not a directory.
	Dir(ctx context.Context, name string) (DirHandle, error)

	// CreateDir creates a child directory. Fails with [ErrExists] if
	// the name is occupied.
	CreateDir(ctx context.Context, name string) (DirHandle, error)

	// File resolves an existing child file. Fails with [ErrNotFound]
	// if absent or not a file.
	File(ctx context.Context, name string) (FileHandle, error)

	// CreateFile creates an empty child file. Fails with [ErrExists]
	// if the name is occupied.
	CreateFile(ctx context.Context, name string) (FileHandle, error)

	// Remove deletes a child entry. Non-empty directories require
	// recursive=true.
	Remove(ctx context.Context, name string, recursive bool) error
}

// FileStat is the host-reported metadata of a file.
type FileStat struct {
	Size     int64
	Modified time.Time
}

// FileHandle is a capability to a single file.
type FileHandle interface {
	Name() string

	Stat(ctx context.Context) (FileStat, error)

	// Read returns the full file contents.
	Read(ctx context.Context) ([]byte, error)

	// Writer opens the file for a full-content replace. The write is
	// finalized on Close; interruption before Close preserves the
	// prior content.
	Writer(ctx context.Context) (io.WriteCloser, error)
}

// Picker prompts the user for a new workspace root capability.
// A nil handle with a nil error means the user cancelled.
type Picker interface {
	Pick(ctx context.Context) (RootHandle, error)
}

// Resolver turns a persisted capability identity back into a live
// handle without prompting. The returned handle may be in any
// permission state.
type Resolver interface {
	Resolve(ctx context.Context, id string) (RootHandle, error)
}
