package session

import (
	"context"
	"errors"
	"sync"

	"github.com/arbormd/arbor"
	"github.com/arbormd/arbor/internal/util"
)

// Manager owns the current workspace identity. It orchestrates
// capability acquisition (picker), restoration (store + resolver), and
// permission re-grant, and distinguishes "needs permission" from
// "never selected".
type Manager struct {
	mu       sync.Mutex
	store    *HandleStore
	picker   arbor.Picker
	resolver arbor.Resolver
	handle   arbor.RootHandle
	loading  bool
	err      error
	needs    bool
	onClear  []func()
	log      util.Logger
}

// NewManager creates a session manager. The picker prompts for new
// roots; the resolver restores persisted identities.
func NewManager(store *HandleStore, picker arbor.Picker, resolver arbor.Resolver) *Manager {
	return &Manager{
		store:    store,
		picker:   picker,
		resolver: resolver,
		log:      util.GetLogger("session"),
	}
}

// OnClear registers a hook run whenever the workspace is cleared
// (e.g. preview cache invalidation).
func (m *Manager) OnClear(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onClear = append(m.onClear, fn)
}

// Handle returns the current root capability, or nil if none is loaded.
func (m *Manager) Handle() arbor.RootHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handle
}

// WorkspacePath returns the display identity of the current workspace,
// or "" if none is loaded.
func (m *Manager) WorkspacePath() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handle == nil {
		return ""
	}
	return m.handle.Name()
}

// IsLoading reports whether a load is in progress.
func (m *Manager) IsLoading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// Err returns the last load failure, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// NeedsPermissionGrant reports whether a persisted workspace exists but
// access is not currently granted. This is a guidance state, not an
// error.
func (m *Manager) NeedsPermissionGrant() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.needs
}

// SelectWorkspace prompts for a new root capability, persists it, and
// returns its display identity. User cancellation returns "" with no
// state change.
func (m *Manager) SelectWorkspace(ctx context.Context) (string, error) {
	handle, err := m.picker.Pick(ctx)
	if err != nil {
		return "", err
	}
	if handle == nil {
		m.log.Debug().Msg("Workspace selection cancelled")
		return "", nil
	}
	if err := m.store.Save(Record{ID: handle.ID(), Name: handle.Name()}); err != nil {
		return "", err
	}

	m.mu.Lock()
	m.handle = handle
	m.needs = false
	m.err = nil
	m.mu.Unlock()

	m.log.Info().Str("workspace", handle.Name()).Msg("Workspace selected")
	return handle.Name(), nil
}

// LoadWorkspace makes the workspace usable for this session: it reuses
// the in-memory handle when present, otherwise restores the persisted
// one and attempts an explicit re-grant if access is not granted.
//
// Returns "" without error both when no workspace was ever selected
// (ErrNotFound is swallowed into the idle state) and when a persisted
// workspace needs a permission grant; the two are distinguished via
// NeedsPermissionGrant.
func (m *Manager) LoadWorkspace(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.handle != nil && m.handle.Permission() == arbor.PermissionGranted {
		name := m.handle.Name()
		m.mu.Unlock()
		return name, nil
	}
	m.loading = true
	m.err = nil
	m.mu.Unlock()

	name, err := m.load(ctx)

	m.mu.Lock()
	m.loading = false
	if err != nil {
		m.err = err
	}
	m.mu.Unlock()
	return name, err
}

func (m *Manager) load(ctx context.Context) (string, error) {
	m.mu.Lock()
	handle := m.handle
	m.mu.Unlock()

	if handle == nil {
		rec, err := m.store.Load()
		if errors.Is(err, arbor.ErrNotFound) {
			return "", nil // never selected
		}
		if err != nil {
			return "", err
		}
		handle, err = m.resolver.Resolve(ctx, rec.ID)
		if err != nil {
			return "", err
		}
	}

	if handle.Permission() != arbor.PermissionGranted {
		perm, err := handle.RequestPermission(ctx)
		if err != nil {
			return "", err
		}
		if perm != arbor.PermissionGranted {
			m.mu.Lock()
			m.handle = handle
			m.needs = true
			m.mu.Unlock()
			m.log.Warn().Str("workspace", handle.Name()).Msg("Workspace restored but not granted")
			return "", nil
		}
	}

	m.mu.Lock()
	m.handle = handle
	m.needs = false
	m.mu.Unlock()
	m.log.Info().Str("workspace", handle.Name()).Msg("Workspace loaded")
	return handle.Name(), nil
}

// RegrantPermission re-requests access for the current (or persisted)
// workspace and reports whether it is now granted.
func (m *Manager) RegrantPermission(ctx context.Context) (bool, error) {
	name, err := m.LoadWorkspace(ctx)
	if err != nil {
		return false, err
	}
	return name != "", nil
}

// ClearWorkspace discards the in-memory and persisted handle and runs
// the registered clear hooks.
func (m *Manager) ClearWorkspace() error {
	if err := m.store.Clear(); err != nil {
		return err
	}

	m.mu.Lock()
	m.handle = nil
	m.needs = false
	m.err = nil
	hooks := append([]func(){}, m.onClear...)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	m.log.Info().Msg("Workspace cleared")
	return nil
}
