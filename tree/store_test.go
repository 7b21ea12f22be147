package tree

import (
	"context"
	"testing"
	"time"

	"github.com/arbormd/arbor"
	"github.com/arbormd/arbor/config"
	"github.com/arbormd/arbor/internal/mocks"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func fileNode(path string) *arbor.FileNode {
	size := int64(1)
	return &arbor.FileNode{Path: path, Name: arbor.BaseName(path), IsFile: true, Size: &size}
}

func folderNode(path string) *arbor.FileNode {
	return &arbor.FileNode{Path: path, Name: arbor.BaseName(path)}
}

func loadedFolder(path string, children ...*arbor.FileNode) *arbor.FileNode {
	n := folderNode(path)
	n.Children = children
	if n.Children == nil {
		n.Children = []*arbor.FileNode{}
	}
	return n
}

// manualScheduler queues continuations so tests can observe the
// optimistic state before storage resolves.
type manualScheduler struct {
	fns []func()
}

func (m *manualScheduler) spawn(fn func()) { m.fns = append(m.fns, fn) }

func (m *manualScheduler) run() {
	fns := m.fns
	m.fns = nil
	for _, fn := range fns {
		fn()
	}
}

// syncStore runs storage calls inline, so mutations resolve before the
// mutation method returns.
func syncStore(st Storage) *Store {
	return NewStore(st, config.New(nil), WithScheduler(func(fn func()) { fn() }))
}

func manualStore(st Storage) (*Store, *manualScheduler) {
	sched := &manualScheduler{}
	return NewStore(st, config.New(nil), WithScheduler(sched.spawn)), sched
}

func lastEvent(t *testing.T, s *Store) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	default:
		t.Fatal("no event published")
		return Event{}
	}
}

func loadStore(t *testing.T, s *Store, st *mocks.MockStorage, roots ...*arbor.FileNode) {
	t.Helper()
	st.On("List", mock.Anything, "").Return(roots, nil).Once()
	require.NoError(t, s.Load(context.Background()))
}

func pathsOf(nodes []*arbor.FileNode) []string {
	var out []string
	for _, n := range nodes {
		out = append(out, n.Path)
	}
	return out
}

func TestLoad_PopulatesRoots(t *testing.T) {
	st := &mocks.MockStorage{}
	s := syncStore(st)
	loadStore(t, s, st, folderNode("notes"), fileNode("a.md"))

	assert.Equal(t, []string{"notes", "a.md"}, pathsOf(s.Roots()))
	st.AssertExpectations(t)
}

func TestCreateFile_OptimisticThenCommit(t *testing.T) {
	st := &mocks.MockStorage{}
	s, sched := manualStore(st)
	loadStore(t, s, st)

	st.On("CreateFile", mock.Anything, "x.md").Return(nil).Once()
	st.On("List", mock.Anything, "").Return([]*arbor.FileNode{fileNode("x.md")}, nil).Once()

	id, err := s.CreateFile("", "x.md")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	// Node visible immediately, marked pending
	roots := s.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, "x.md", roots[0].Path)
	assert.True(t, roots[0].IsPending)

	sched.run()

	roots = s.Roots()
	require.Len(t, roots, 1)
	assert.False(t, roots[0].IsPending)
	assert.Equal(t, "x.md", s.ActivePath())

	ev := lastEvent(t, s)
	assert.Equal(t, id, ev.OpID)
	assert.NoError(t, ev.Err)
	assert.Equal(t, 0, s.pending.Size())
	st.AssertExpectations(t)
}

func TestCreateFile_DefaultExtension(t *testing.T) {
	st := &mocks.MockStorage{}
	s := syncStore(st)
	loadStore(t, s, st)

	st.On("CreateFile", mock.Anything, "notes.md").Return(nil).Once()
	st.On("List", mock.Anything, "").Return([]*arbor.FileNode{fileNode("notes.md")}, nil).Once()

	_, err := s.CreateFile("", "notes")
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.md"}, pathsOf(s.Roots()))
	st.AssertExpectations(t)
}

func TestCreateFile_RollbackOnStorageError(t *testing.T) {
	st := &mocks.MockStorage{}
	s := syncStore(st)
	loadStore(t, s, st, fileNode("existing.md"))
	require.NoError(t, s.SetActiveFile("existing.md"))

	st.On("CreateFile", mock.Anything, "x.md").Return(arbor.ErrExists).Once()

	id, err := s.CreateFile("", "x.md")
	require.NoError(t, err) // the optimistic phase itself succeeds

	// Rolled back wholesale
	assert.Equal(t, []string{"existing.md"}, pathsOf(s.Roots()))
	assert.Equal(t, "existing.md", s.ActivePath())

	ev := lastEvent(t, s)
	assert.Equal(t, id, ev.OpID)
	assert.ErrorIs(t, ev.Err, arbor.ErrExists)
	assert.Equal(t, 0, s.pending.Size())
	st.AssertExpectations(t)
}

func TestRollback_KeepsSelectionClearedMidFlight(t *testing.T) {
	st := &mocks.MockStorage{}
	s, sched := manualStore(st)
	loadStore(t, s, st, fileNode("existing.md"))
	require.NoError(t, s.SetActiveFile("existing.md"))

	st.On("CreateFile", mock.Anything, "x.md").Return(arbor.ErrExists).Once()

	_, err := s.CreateFile("", "x.md")
	require.NoError(t, err)

	// User clears the selection while the create is in flight
	require.NoError(t, s.SetActiveFile(""))
	sched.run()

	// Rollback restores the tree but not a selection this operation
	// never touched
	assert.Equal(t, []string{"existing.md"}, pathsOf(s.Roots()))
	assert.Equal(t, "", s.ActivePath())
	assert.ErrorIs(t, lastEvent(t, s).Err, arbor.ErrExists)
	st.AssertExpectations(t)
}

func TestCreate_UnderUnloadedParentReconciledOnCommit(t *testing.T) {
	st := &mocks.MockStorage{}
	s, sched := manualStore(st)
	loadStore(t, s, st, folderNode("docs")) // children never listed

	st.On("CreateFile", mock.Anything, "docs/new.md").Return(nil).Once()
	st.On("List", mock.Anything, "docs").Return([]*arbor.FileNode{
		fileNode("docs/new.md"), fileNode("docs/old.md"),
	}, nil).Once()

	_, err := s.CreateFile("docs", "new.md")
	require.NoError(t, err)

	// Until the commit refresh, the parent shows only the optimistic
	// child
	docs := s.Roots()[0]
	assert.Equal(t, []string{"docs/new.md"}, pathsOf(docs.Children))
	assert.True(t, s.IsExpanded("docs"))

	sched.run()

	docs = s.Roots()[0]
	assert.Equal(t, []string{"docs/new.md", "docs/old.md"}, pathsOf(docs.Children))
	assert.False(t, docs.Children[0].IsPending)
	st.AssertExpectations(t)
}

func TestCreate_RejectsInvalidName(t *testing.T) {
	st := &mocks.MockStorage{}
	s := syncStore(st)
	loadStore(t, s, st)

	_, err := s.CreateFile("", "bad/name")
	assert.ErrorIs(t, err, arbor.ErrInvalidPath)
	_, err = s.CreateFile("", "script.exe")
	assert.ErrorIs(t, err, arbor.ErrUnsupportedFormat)
	assert.Empty(t, s.Roots())
}

func TestCreate_ParentMissing(t *testing.T) {
	st := &mocks.MockStorage{}
	s := syncStore(st)
	loadStore(t, s, st)

	_, err := s.CreateFile("nowhere", "x.md")
	assert.ErrorIs(t, err, arbor.ErrNotFound)
}

func TestCreate_BusyGuard(t *testing.T) {
	st := &mocks.MockStorage{}
	s, sched := manualStore(st)
	loadStore(t, s, st)

	st.On("CreateFile", mock.Anything, "x.md").Return(nil).Once()
	st.On("List", mock.Anything, "").Return([]*arbor.FileNode{fileNode("x.md")}, nil).Once()

	_, err := s.CreateFile("", "x.md")
	require.NoError(t, err)

	// Same path is guarded while the first operation is in flight
	_, err = s.CreateFile("", "x.md")
	assert.ErrorIs(t, err, arbor.ErrBusy)

	sched.run()
	st.AssertExpectations(t)
}

func TestCreate_RapidDuplicateResolvesToOneNode(t *testing.T) {
	// Second create of the same name after the first committed: it
	// reaches storage, fails there, and rolls back to a single node.
	st := &mocks.MockStorage{}
	s := syncStore(st)
	loadStore(t, s, st)

	st.On("CreateFile", mock.Anything, "x.md").Return(nil).Once()
	st.On("List", mock.Anything, "").Return([]*arbor.FileNode{fileNode("x.md")}, nil).Once()
	_, err := s.CreateFile("", "x.md")
	require.NoError(t, err)

	st.On("CreateFile", mock.Anything, "x.md").Return(arbor.ErrExists).Once()
	_, err = s.CreateFile("", "x.md")
	require.NoError(t, err)

	assert.Equal(t, []string{"x.md"}, pathsOf(s.Roots()))
	st.AssertExpectations(t)
}

func TestCreateFolder_AutoExpandsParent(t *testing.T) {
	st := &mocks.MockStorage{}
	s := syncStore(st)
	loadStore(t, s, st, loadedFolder("notes"))

	st.On("CreateFolder", mock.Anything, "notes/sub").Return(nil).Once()
	st.On("List", mock.Anything, "notes").Return([]*arbor.FileNode{folderNode("notes/sub")}, nil).Once()

	_, err := s.CreateFolder("notes", "sub")
	require.NoError(t, err)

	assert.True(t, s.IsExpanded("notes"))
	ev := lastEvent(t, s)
	assert.NoError(t, ev.Err)
	assert.Equal(t, OpCreateFolder, ev.Kind)
	st.AssertExpectations(t)
}

func TestRenameNode_RewritesSubtreeAndExpansions(t *testing.T) {
	st := &mocks.MockStorage{}
	s, sched := manualStore(st)
	sub := loadedFolder("old/sub", fileNode("old/sub/a.md"))
	loadStore(t, s, st, loadedFolder("old", sub))
	require.NoError(t, s.ToggleFolder(context.Background(), "old"))
	require.NoError(t, s.ToggleFolder(context.Background(), "old/sub"))
	require.NoError(t, s.SetActiveFile("old/sub/a.md"))

	st.On("Rename", mock.Anything, "old", "new").Return(nil).Once()
	st.On("List", mock.Anything, "").Return([]*arbor.FileNode{folderNode("new")}, nil).Once()

	id, err := s.RenameNode("old", "new")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, id)

	// Optimistic state: subtree paths, expansions, and selection follow
	roots := s.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, "new", roots[0].Path)
	assert.True(t, roots[0].IsPending)
	assert.Equal(t, "new/sub/a.md", roots[0].Children[0].Children[0].Path)
	assert.True(t, s.IsExpanded("new"))
	assert.True(t, s.IsExpanded("new/sub"))
	assert.False(t, s.IsExpanded("old"))
	assert.Equal(t, "new/sub/a.md", s.ActivePath())

	// Both old and new paths are guarded while in flight
	assert.Equal(t, 2, s.pending.Size())

	sched.run()
	assert.Equal(t, 0, s.pending.Size())
	ev := lastEvent(t, s)
	assert.NoError(t, ev.Err)
	st.AssertExpectations(t)
}

func TestRenameNode_RollbackRestoresEverything(t *testing.T) {
	st := &mocks.MockStorage{}
	s := syncStore(st)
	loadStore(t, s, st, loadedFolder("old", fileNode("old/a.md")))
	require.NoError(t, s.ToggleFolder(context.Background(), "old"))
	require.NoError(t, s.SetActiveFile("old/a.md"))

	st.On("Rename", mock.Anything, "old", "new").Return(arbor.ErrExists).Once()

	_, err := s.RenameNode("old", "new")
	require.NoError(t, err)

	roots := s.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, "old", roots[0].Path)
	assert.False(t, roots[0].IsPending)
	assert.True(t, s.IsExpanded("old"))
	assert.Equal(t, "old/a.md", s.ActivePath())
	assert.ErrorIs(t, lastEvent(t, s).Err, arbor.ErrExists)
	st.AssertExpectations(t)
}

func TestRenameNode_SameNameIsNoop(t *testing.T) {
	st := &mocks.MockStorage{}
	s := syncStore(st)
	loadStore(t, s, st, fileNode("a.md"))

	id, err := s.RenameNode("a.md", "a.md")
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, id)
	st.AssertNotCalled(t, "Rename", mock.Anything, mock.Anything, mock.Anything)
}

func TestRenameNode_BusyGuardsBothPaths(t *testing.T) {
	st := &mocks.MockStorage{}
	s, sched := manualStore(st)
	loadStore(t, s, st, fileNode("a.md"), fileNode("c.md"))

	st.On("Rename", mock.Anything, "a.md", "b.md").Return(nil).Once()
	st.On("List", mock.Anything, "").Return([]*arbor.FileNode{fileNode("b.md"), fileNode("c.md")}, nil).Once()

	_, err := s.RenameNode("a.md", "b.md")
	require.NoError(t, err)

	_, err = s.DeleteNode("b.md")
	assert.ErrorIs(t, err, arbor.ErrBusy)
	_, err = s.CreateFile("", "b.md")
	assert.ErrorIs(t, err, arbor.ErrBusy)
	// The node now lives at its new path only
	_, err = s.RenameNode("c.md", "b2.md")
	require.NoError(t, err)

	st.On("Rename", mock.Anything, "c.md", "b2.md").Return(nil)
	st.On("List", mock.Anything, "").Return([]*arbor.FileNode{fileNode("b.md"), fileNode("b2.md")}, nil)
	sched.run()
	st.AssertExpectations(t)
}

func TestDeleteNode_CommitCapturesContent(t *testing.T) {
	st := &mocks.MockStorage{}
	s := syncStore(st)
	loadStore(t, s, st, fileNode("a.md"))

	st.On("ReadFile", mock.Anything, "a.md").Return([]byte("hello"), nil).Once()
	st.On("Delete", mock.Anything, "a.md").Return(nil).Once()
	st.On("List", mock.Anything, "").Return([]*arbor.FileNode{}, nil).Once()

	_, err := s.DeleteNode("a.md")
	require.NoError(t, err)

	assert.Empty(t, s.Roots())
	assert.True(t, s.CanUndo())
	assert.NoError(t, lastEvent(t, s).Err)
	st.AssertExpectations(t)
}

func TestDeleteNode_ContentCaptureFailureStillDeletes(t *testing.T) {
	st := &mocks.MockStorage{}
	s := syncStore(st)
	loadStore(t, s, st, fileNode("a.md"))

	st.On("ReadFile", mock.Anything, "a.md").Return(nil, arbor.ErrStorage).Once()
	st.On("Delete", mock.Anything, "a.md").Return(nil).Once()
	st.On("List", mock.Anything, "").Return([]*arbor.FileNode{}, nil).Once()

	_, err := s.DeleteNode("a.md")
	require.NoError(t, err)
	assert.Empty(t, s.Roots())
	assert.NoError(t, lastEvent(t, s).Err)
	st.AssertExpectations(t)
}

func TestDeleteNode_RollbackRestoresNodeAndSelection(t *testing.T) {
	st := &mocks.MockStorage{}
	s, sched := manualStore(st)
	loadStore(t, s, st, loadedFolder("sub", fileNode("sub/a.md")))
	require.NoError(t, s.ToggleFolder(context.Background(), "sub"))
	require.NoError(t, s.SetActiveFile("sub/a.md"))

	st.On("Delete", mock.Anything, "sub").Return(arbor.ErrStorage).Once()

	_, err := s.DeleteNode("sub")
	require.NoError(t, err)

	// Optimistically gone, selection cleared
	assert.Empty(t, s.Roots())
	assert.Equal(t, "", s.ActivePath())

	sched.run()

	roots := s.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, "sub", roots[0].Path)
	assert.Equal(t, "sub/a.md", s.ActivePath())
	assert.False(t, s.CanUndo())
	assert.ErrorIs(t, lastEvent(t, s).Err, arbor.ErrStorage)
	st.AssertExpectations(t)
}

func TestSweep_ForceRollsBackStaleOps(t *testing.T) {
	st := &mocks.MockStorage{}
	s, _ := manualStore(st) // continuation never runs
	loadStore(t, s, st)

	st.On("CreateFile", mock.Anything, "x.md").Return(nil)

	id, err := s.CreateFile("", "x.md")
	require.NoError(t, err)

	// Age the operation past the timeout, then sweep
	op, ok := s.pending.Load("x.md")
	require.True(t, ok)
	op.Started = time.Now().Add(-time.Minute)
	s.sweep()

	assert.Empty(t, s.Roots())
	assert.Equal(t, 0, s.pending.Size())
	ev := lastEvent(t, s)
	assert.Equal(t, id, ev.OpID)
	assert.ErrorIs(t, ev.Err, arbor.ErrStorage)
}

func TestSweep_LateCompletionIsIgnored(t *testing.T) {
	st := &mocks.MockStorage{}
	s, sched := manualStore(st)
	loadStore(t, s, st)

	st.On("CreateFile", mock.Anything, "x.md").Return(nil)

	_, err := s.CreateFile("", "x.md")
	require.NoError(t, err)

	op, ok := s.pending.Load("x.md")
	require.True(t, ok)
	op.Started = time.Now().Add(-time.Minute)
	s.sweep()
	_ = lastEvent(t, s) // sweep outcome

	// The abandoned storage call finally returns; nothing changes
	sched.run()
	assert.Empty(t, s.Roots())
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event after abandonment: %+v", ev)
	default:
	}
}

func TestReset_InvalidatesInFlightWork(t *testing.T) {
	st := &mocks.MockStorage{}
	s, sched := manualStore(st)
	loadStore(t, s, st)

	st.On("CreateFile", mock.Anything, "x.md").Return(nil)

	_, err := s.CreateFile("", "x.md")
	require.NoError(t, err)
	require.NoError(t, s.SetActiveFile("x.md"))

	s.Reset()
	sched.run() // stale continuation must be a no-op

	assert.Empty(t, s.Roots())
	assert.Equal(t, "", s.ActivePath())
	assert.Equal(t, 0, s.pending.Size())
	assert.False(t, s.CanUndo())
}

func TestToggleFolder_LoadsChildrenOnce(t *testing.T) {
	st := &mocks.MockStorage{}
	s := syncStore(st)
	loadStore(t, s, st, folderNode("sub"))

	st.On("List", mock.Anything, "sub").Return([]*arbor.FileNode{fileNode("sub/a.md")}, nil).Once()

	ctx := context.Background()
	require.NoError(t, s.ToggleFolder(ctx, "sub"))
	assert.True(t, s.IsExpanded("sub"))

	require.NoError(t, s.ToggleFolder(ctx, "sub"))
	assert.False(t, s.IsExpanded("sub"))

	// Children stay loaded; re-expanding does not list again
	require.NoError(t, s.ToggleFolder(ctx, "sub"))
	assert.True(t, s.IsExpanded("sub"))
	st.AssertExpectations(t)
}

func TestToggleFolder_Errors(t *testing.T) {
	st := &mocks.MockStorage{}
	s := syncStore(st)
	loadStore(t, s, st, fileNode("a.md"))

	err := s.ToggleFolder(context.Background(), "a.md")
	assert.ErrorIs(t, err, arbor.ErrNotFound)
	err = s.ToggleFolder(context.Background(), "missing")
	assert.ErrorIs(t, err, arbor.ErrNotFound)
}

func TestRefreshNode_ReconcilesWithStorageTruth(t *testing.T) {
	st := &mocks.MockStorage{}
	s, sched := manualStore(st)
	sub := loadedFolder("sub", fileNode("sub/a.md"))
	loadStore(t, s, st, sub, fileNode("stale.md"))

	// A pending create not yet visible in storage must survive refresh
	st.On("CreateFile", mock.Anything, "new.md").Return(nil)
	_, err := s.CreateFile("", "new.md")
	require.NoError(t, err)

	st.On("List", mock.Anything, "").Return([]*arbor.FileNode{folderNode("sub"), fileNode("fresh.md")}, nil).Once()
	require.NoError(t, s.RefreshNode(context.Background(), ""))

	assert.Equal(t, []string{"sub", "fresh.md", "new.md"}, pathsOf(s.Roots()))
	// The surviving folder keeps its loaded subtree
	subNode := s.Roots()[0]
	require.Len(t, subNode.Children, 1)
	assert.Equal(t, "sub/a.md", subNode.Children[0].Path)

	_ = sched // continuation intentionally left unresolved
}

func TestSetActiveFile_Normalizes(t *testing.T) {
	st := &mocks.MockStorage{}
	s := syncStore(st)

	require.NoError(t, s.SetActiveFile("./notes/a.md"))
	assert.Equal(t, "notes/a.md", s.ActivePath())

	err := s.SetActiveFile("../escape")
	assert.ErrorIs(t, err, arbor.ErrInvalidPath)
}

func TestStart_SweepsOnTicker(t *testing.T) {
	st := &mocks.MockStorage{}
	cfg := config.New(nil)
	cfg.StaleOpTimeout = 10 * time.Millisecond
	cfg.SweepInterval = 5 * time.Millisecond
	s := NewStore(st, cfg, WithScheduler(func(func()) {})) // storage call never runs

	st.On("List", mock.Anything, "").Return([]*arbor.FileNode{}, nil).Once()
	require.NoError(t, s.Load(context.Background()))

	st.On("CreateFile", mock.Anything, "x.md").Return(nil)
	_, err := s.CreateFile("", "x.md")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	require.Eventually(t, func() bool {
		return s.pending.Size() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, s.Roots())
}
