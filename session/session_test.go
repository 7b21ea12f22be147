package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/arbormd/arbor"
	"github.com/arbormd/arbor/osfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHandle is a root capability with scripted permission behavior.
type fakeHandle struct {
	id      string
	name    string
	perm    arbor.Permission
	granted arbor.Permission // what RequestPermission transitions to
}

func (h *fakeHandle) Name() string                 { return h.name }
func (h *fakeHandle) ID() string                   { return h.id }
func (h *fakeHandle) Permission() arbor.Permission { return h.perm }
func (h *fakeHandle) RequestPermission(context.Context) (arbor.Permission, error) {
	h.perm = h.granted
	return h.perm, nil
}
func (h *fakeHandle) Dir() arbor.DirHandle { return nil }

// fakeResolver returns a scripted handle for any identity.
type fakeResolver struct {
	handle arbor.RootHandle
	err    error
}

func (r fakeResolver) Resolve(context.Context, string) (arbor.RootHandle, error) {
	return r.handle, r.err
}

// fakePicker returns a scripted handle; nil means the user cancelled.
type fakePicker struct {
	handle arbor.RootHandle
	err    error
}

func (p fakePicker) Pick(context.Context) (arbor.RootHandle, error) {
	return p.handle, p.err
}

func TestSelectWorkspace_PersistsAndActivates(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	mgr := NewManager(store, osfs.StaticPicker{Path: dir}, osfs.Resolver{})

	name, err := mgr.SelectWorkspace(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir), name)
	assert.Equal(t, name, mgr.WorkspacePath())

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, dir, rec.ID)
}

func TestSelectWorkspace_CancelKeepsState(t *testing.T) {
	store := newTestStore(t)
	mgr := NewManager(store, osfs.StaticPicker{}, osfs.Resolver{})

	name, err := mgr.SelectWorkspace(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", name)
	assert.Nil(t, mgr.Handle())
	_, err = store.Load()
	assert.ErrorIs(t, err, arbor.ErrNotFound)
}

func TestLoadWorkspace_NeverSelected(t *testing.T) {
	mgr := NewManager(newTestStore(t), fakePicker{}, fakeResolver{})

	name, err := mgr.LoadWorkspace(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", name)
	assert.False(t, mgr.NeedsPermissionGrant())
	assert.NoError(t, mgr.Err())
}

func TestLoadWorkspace_RestoresPersisted(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	require.NoError(t, store.Save(Record{ID: dir, Name: filepath.Base(dir)}))
	mgr := NewManager(store, fakePicker{}, osfs.Resolver{})

	name, err := mgr.LoadWorkspace(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir), name)
	require.NotNil(t, mgr.Handle())
	assert.Equal(t, arbor.PermissionGranted, mgr.Handle().Permission())
}

func TestLoadWorkspace_ReusesGrantedHandle(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	mgr := NewManager(store, osfs.StaticPicker{Path: dir}, fakeResolver{err: errors.New("must not resolve")})

	_, err := mgr.SelectWorkspace(context.Background())
	require.NoError(t, err)

	// Second load must not hit the resolver
	name, err := mgr.LoadWorkspace(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir), name)
}

func TestLoadWorkspace_PermissionNotGranted(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(Record{ID: "x", Name: "x"}))
	handle := &fakeHandle{id: "x", name: "x", perm: arbor.PermissionDenied, granted: arbor.PermissionDenied}
	mgr := NewManager(store, fakePicker{}, fakeResolver{handle: handle})

	name, err := mgr.LoadWorkspace(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", name)
	assert.True(t, mgr.NeedsPermissionGrant())
	assert.Equal(t, "x", mgr.WorkspacePath())
}

func TestLoadWorkspace_GrantOnRequest(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(Record{ID: "x", Name: "x"}))
	handle := &fakeHandle{id: "x", name: "x", perm: arbor.PermissionUnknown, granted: arbor.PermissionGranted}
	mgr := NewManager(store, fakePicker{}, fakeResolver{handle: handle})

	name, err := mgr.LoadWorkspace(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", name)
	assert.False(t, mgr.NeedsPermissionGrant())
}

func TestLoadWorkspace_ResolverFailure(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(Record{ID: "x", Name: "x"}))
	boom := errors.New("resolver down")
	mgr := NewManager(store, fakePicker{}, fakeResolver{err: boom})

	_, err := mgr.LoadWorkspace(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, mgr.Err(), boom)
}

func TestRegrantPermission(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Save(Record{ID: "x", Name: "x"}))
	handle := &fakeHandle{id: "x", name: "x", perm: arbor.PermissionDenied, granted: arbor.PermissionDenied}
	mgr := NewManager(store, fakePicker{}, fakeResolver{handle: handle})

	ok, err := mgr.RegrantPermission(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	// The grant side changes its mind
	handle.granted = arbor.PermissionGranted
	ok, err = mgr.RegrantPermission(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClearWorkspace_RunsHooks(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	mgr := NewManager(store, osfs.StaticPicker{Path: dir}, osfs.Resolver{})
	_, err := mgr.SelectWorkspace(context.Background())
	require.NoError(t, err)

	cleared := 0
	mgr.OnClear(func() { cleared++ })

	require.NoError(t, mgr.ClearWorkspace())
	assert.Equal(t, 1, cleared)
	assert.Nil(t, mgr.Handle())
	_, err = store.Load()
	assert.ErrorIs(t, err, arbor.ErrNotFound)

	// Next load is the never-selected state
	name, err := mgr.LoadWorkspace(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", name)
	assert.False(t, mgr.NeedsPermissionGrant())
}
