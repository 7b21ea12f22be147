// Package session owns workspace identity: persisting the root
// capability's identity for session restore and orchestrating
// capability acquisition, restoration, and permission re-grant.
package session

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arbormd/arbor"
	"github.com/fxamacker/cbor/v2"
)

// recordKey is the fixed key the single workspace record lives under.
const recordKey = "workspace-root"

// Record is the persisted identity of a workspace root capability.
// No other metadata is stored.
type Record struct {
	ID   string `cbor:"id"`
	Name string `cbor:"name"`
}

// HandleStore is a single-record store backed by one CBOR file. Writes
// replace the file atomically via a sibling temp file.
type HandleStore struct {
	path string
}

// NewHandleStore creates a store persisting to the given file path.
func NewHandleStore(path string) *HandleStore {
	return &HandleStore{path: path}
}

// DefaultStorePath returns the conventional per-user record location.
func DefaultStorePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", arbor.ErrStorage, err)
	}
	return filepath.Join(dir, "arbor", "workspace.cbor"), nil
}

// Save persists the record under the fixed key, replacing any previous
// record.
func (s *HandleStore) Save(rec Record) error {
	data, err := cbor.Marshal(map[string]Record{recordKey: rec})
	if err != nil {
		return fmt.Errorf("%w: encode record: %v", arbor.ErrStorage, err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", arbor.ErrStorage, err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("%w: %v", arbor.ErrStorage, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp) // nolint:errcheck
		return fmt.Errorf("%w: %v", arbor.ErrStorage, err)
	}
	return nil
}

// Load returns the persisted record. Fails with [arbor.ErrNotFound] if
// no workspace has ever been stored.
func (s *HandleStore) Load() (Record, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return Record{}, fmt.Errorf("%w: no workspace record", arbor.ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", arbor.ErrStorage, err)
	}
	var records map[string]Record
	if err := cbor.Unmarshal(data, &records); err != nil {
		return Record{}, fmt.Errorf("%w: decode record: %v", arbor.ErrStorage, err)
	}
	rec, ok := records[recordKey]
	if !ok || rec.ID == "" {
		return Record{}, fmt.Errorf("%w: no workspace record", arbor.ErrNotFound)
	}
	return rec, nil
}

// Clear discards the persisted record. Clearing an empty store is a
// no-op.
func (s *HandleStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", arbor.ErrStorage, err)
	}
	return nil
}
