package arbor

import "errors"

// Error taxonomy shared by all subsystems. Callers match with
// [errors.Is]; messages wrap these sentinels with context via %w.
var (
	// ErrInvalidPath is returned for malformed or root-escaping paths.
	ErrInvalidPath = errors.New("invalid path")

	// ErrNotFound is returned when a path resolves to no entry.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned when the terminal name is already occupied.
	ErrExists = errors.New("already exists")

	// ErrNeedsPermission is returned when the root capability is not in
	// the granted state. It is a guidance state, not a storage failure.
	ErrNeedsPermission = errors.New("workspace permission required")

	// ErrBusy is returned when a mutation targets a path that already
	// has a pending operation in flight. Mutations are never queued.
	ErrBusy = errors.New("operation already pending for path")

	// ErrCycle is returned when a rename destination is nested inside
	// its own source.
	ErrCycle = errors.New("destination is inside source")

	// ErrOversizedAsset is returned when an ingested asset exceeds the
	// configured size cap.
	ErrOversizedAsset = errors.New("asset exceeds maximum size")

	// ErrUnsupportedFormat is returned for file extensions or payloads
	// outside the configured allow-lists.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrStorage wraps unclassified failures from the capability layer.
	ErrStorage = errors.New("storage failure")
)
