// Package tree is the optimistic mutation engine: an in-memory mirror
// of the workspace tree plus the pending-operation catalog, time-boxed
// undo, and the flat projection used for virtualized rendering.
//
// Every mutation follows the same state machine: snapshot the tree,
// register a pending operation, apply the change in memory, run the
// storage call asynchronously, then commit (refresh the parent from
// storage truth) or roll back (restore the snapshot wholesale).
package tree

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arbormd/arbor"
	"github.com/arbormd/arbor/config"
	"github.com/arbormd/arbor/internal/util"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

// Storage is the slice of the storage abstraction the tree store
// drives. *storage.Service implements it.
type Storage interface {
	List(ctx context.Context, path string) ([]*arbor.FileNode, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	CreateFile(ctx context.Context, path string) error
	CreateFolder(ctx context.Context, path string) error
	Delete(ctx context.Context, path string) error
	Rename(ctx context.Context, oldPath, newPath string) error
}

// Store is the single-writer owner of the in-memory tree. All tree
// transitions happen under one mutex; storage calls run outside it and
// their continuations re-enter through the same mutex.
type Store struct {
	mu         sync.Mutex
	root       *arbor.FileNode // synthetic workspace root; Children = top level
	expanded   map[string]bool
	activePath string
	actions    []*UndoableAction
	gen        uint64 // bumped on Reset; stale continuations and timers bail out

	pending *xsync.Map[string, *PendingOperation]
	storage Storage
	cfg     *config.Config
	log     util.Logger
	events  chan Event
	spawn   func(fn func())
	bg      context.Context
}

// Option configures a Store.
type Option func(*Store)

// WithScheduler replaces the default go-routine launcher for storage
// continuations. Hosts with their own event loop can use this to
// serialize completions onto it.
func WithScheduler(spawn func(fn func())) Option {
	return func(s *Store) { s.spawn = spawn }
}

// NewStore creates a tree store over the given storage service.
func NewStore(st Storage, cfg *config.Config, opts ...Option) *Store {
	s := &Store{
		root:     &arbor.FileNode{},
		expanded: make(map[string]bool),
		pending:  xsync.NewMap[string, *PendingOperation](),
		storage:  st,
		cfg:      cfg,
		log:      util.GetLogger("tree"),
		events:   make(chan Event, 64),
		spawn:    func(fn func()) { go fn() },
		bg:       context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Events delivers the final outcome of each mutation. The channel is
// buffered; if no one is listening, outcomes are dropped with a log
// line rather than blocking the engine.
func (s *Store) Events() <-chan Event {
	return s.events
}

func (s *Store) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Str("path", ev.Path).Msg("Event dropped; no listener")
	}
}

// Load initializes the top-level tree from storage truth.
func (s *Store) Load(ctx context.Context) error {
	nodes, err := s.storage.List(ctx, "")
	if err != nil {
		return err
	}
	if nodes == nil {
		nodes = []*arbor.FileNode{}
	}
	s.mu.Lock()
	s.root.Children = nodes
	s.mu.Unlock()
	return nil
}

// Start runs the stale-operation sweep until ctx is cancelled. A
// pending operation older than the configured timeout is force-rolled
// back: tracking is abandoned even though the underlying storage call
// may still be running.
func (s *Store) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Reset discards all in-memory state. In-flight continuations and undo
// expiry timers from before the reset become no-ops.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.root = &arbor.FileNode{}
	s.expanded = make(map[string]bool)
	s.activePath = ""
	s.actions = nil
	s.pending.Clear()
}

// Roots returns the live top-level nodes. The slice is owned by the
// store; callers must treat it as read-only and not retain it across
// mutations.
func (s *Store) Roots() []*arbor.FileNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root.Children
}

// Snapshot returns a fully independent deep copy of the tree.
func (s *Store) Snapshot() []*arbor.FileNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return arbor.CloneNodes(s.root.Children)
}

// ActivePath returns the active selection, or "" when none.
func (s *Store) ActivePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePath
}

// SetActiveFile sets the active selection; "" clears it.
func (s *Store) SetActiveFile(path string) error {
	path, err := arbor.NormalizePath(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activePath = path
	return nil
}

// IsExpanded reports whether a folder path is in the expansion set.
func (s *Store) IsExpanded(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expanded[path]
}

// ToggleFolder expands or collapses a folder. The first expansion of a
// folder loads its children from storage.
func (s *Store) ToggleFolder(ctx context.Context, path string) error {
	path, err := arbor.NormalizePath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	node := findNode(s.root, path)
	if node == nil || node.IsFile {
		s.mu.Unlock()
		return fmt.Errorf("%w: no folder at %q", arbor.ErrNotFound, path)
	}
	if s.expanded[path] {
		delete(s.expanded, path)
		s.mu.Unlock()
		return nil
	}
	loaded := node.Loaded()
	s.mu.Unlock()

	if !loaded {
		nodes, err := s.storage.List(ctx, path)
		if err != nil {
			return err
		}
		s.mu.Lock()
		if node := findNode(s.root, path); node != nil && node.Children == nil {
			if nodes == nil {
				nodes = []*arbor.FileNode{}
			}
			node.Children = nodes
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.expanded[path] = true
	s.mu.Unlock()
	return nil
}

// RefreshNode re-lists a folder from storage truth and reconciles the
// in-memory children with it.
func (s *Store) RefreshNode(ctx context.Context, path string) error {
	path, err := arbor.NormalizePath(path)
	if err != nil {
		return err
	}
	nodes, err := s.storage.List(ctx, path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.applyListingLocked(path, nodes)
	s.mu.Unlock()
	return nil
}

// CreateFile optimistically creates a file under parentPath and kicks
// off the backing storage call. Extensionless names get the default
// document extension. Returns the pending operation id.
func (s *Store) CreateFile(parentPath, name string) (uuid.UUID, error) {
	return s.create(parentPath, name, true)
}

// CreateFolder optimistically creates a folder under parentPath.
func (s *Store) CreateFolder(parentPath, name string) (uuid.UUID, error) {
	return s.create(parentPath, name, false)
}

func (s *Store) create(parentPath, name string, isFile bool) (uuid.UUID, error) {
	name, err := arbor.ValidateName(name, isFile)
	if err != nil {
		return uuid.Nil, err
	}
	parentPath, err = arbor.NormalizePath(parentPath)
	if err != nil {
		return uuid.Nil, err
	}
	path := arbor.JoinPath(parentPath, name)

	s.mu.Lock()
	parent := findNode(s.root, parentPath)
	if parent == nil || parent.IsFile {
		s.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: no folder at %q", arbor.ErrNotFound, parentPath)
	}
	if _, busy := s.pending.Load(path); busy {
		s.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: %s", arbor.ErrBusy, path)
	}

	kind := OpCreateFile
	if !isFile {
		kind = OpCreateFolder
	}
	op := s.registerLocked(kind, path, "")

	node := &arbor.FileNode{Path: path, Name: name, IsFile: isFile, IsPending: true}
	if isFile {
		size := int64(0)
		node.Size = &size
	} else {
		node.Children = []*arbor.FileNode{}
	}
	// An unloaded parent becomes loaded with only the optimistic child;
	// the post-commit parent refresh fills in the rest, and rollback
	// restores the unloaded snapshot.
	if parent.Children == nil {
		parent.Children = []*arbor.FileNode{}
	}
	parent.Children = arbor.InsertSorted(parent.Children, node)
	if parentPath != "" {
		s.expanded[parentPath] = true
	}
	s.mu.Unlock()

	s.spawn(func() {
		var err error
		if isFile {
			err = s.storage.CreateFile(s.bg, path)
		} else {
			err = s.storage.CreateFolder(s.bg, path)
		}
		s.complete(op, err)
	})
	return op.ID, nil
}

// RenameNode renames an entry in place. The node keeps its parent; the
// new name is validated like a creation name. Renaming to the current
// name is a no-op.
func (s *Store) RenameNode(path, newName string) (uuid.UUID, error) {
	path, err := arbor.NormalizePath(path)
	if err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	node := findNode(s.root, path)
	if node == nil || path == "" {
		s.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: %s", arbor.ErrNotFound, path)
	}
	newName, err = arbor.ValidateName(newName, node.IsFile)
	if err != nil {
		s.mu.Unlock()
		return uuid.Nil, err
	}
	newPath := arbor.JoinPath(arbor.ParentPath(path), newName)
	if newPath == path {
		s.mu.Unlock()
		return uuid.Nil, nil
	}
	if _, busy := s.pending.Load(path); busy {
		s.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: %s", arbor.ErrBusy, path)
	}
	if _, busy := s.pending.Load(newPath); busy {
		s.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: %s", arbor.ErrBusy, newPath)
	}

	op := s.registerLocked(OpRename, newPath, path)
	s.pending.Store(path, op)

	node.Name = newName
	node.IsPending = true
	rewritePaths(node, newPath)
	if parent := findNode(s.root, arbor.ParentPath(path)); parent != nil {
		arbor.SortNodes(parent.Children)
	}
	s.rewriteExpansions(path, newPath)
	if s.activePath == path || arbor.IsAncestorPath(path, s.activePath) {
		s.activePath = newPath + strings.TrimPrefix(s.activePath, path)
	}
	s.mu.Unlock()

	s.spawn(func() {
		err := s.storage.Rename(s.bg, path, newPath)
		s.complete(op, err)
	})
	return op.ID, nil
}

// DeleteNode optimistically removes an entry. For files the current
// content is captured best-effort before the storage delete so the
// undo engine can restore it; a capture failure never blocks the
// delete.
func (s *Store) DeleteNode(path string) (uuid.UUID, error) {
	path, err := arbor.NormalizePath(path)
	if err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	node := findNode(s.root, path)
	if node == nil || path == "" {
		s.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: %s", arbor.ErrNotFound, path)
	}
	if _, busy := s.pending.Load(path); busy {
		s.mu.Unlock()
		return uuid.Nil, fmt.Errorf("%w: %s", arbor.ErrBusy, path)
	}

	op := s.registerLocked(OpDelete, path, "")
	op.deleted = node.Clone()

	if parent := findNode(s.root, arbor.ParentPath(path)); parent != nil {
		parent.Children, _ = arbor.RemoveNode(parent.Children, path)
	}
	if s.activePath == path || arbor.IsAncestorPath(path, s.activePath) {
		s.activePath = ""
		op.clearedActive = true
	}
	isFile := node.IsFile
	s.mu.Unlock()

	s.spawn(func() {
		if isFile {
			content, err := s.storage.ReadFile(s.bg, path)
			if err != nil {
				s.log.Debug().Err(err).Str("path", path).Msg("Content capture before delete failed")
			} else {
				op.content = content
			}
		}
		err := s.storage.Delete(s.bg, path)
		s.complete(op, err)
	})
	return op.ID, nil
}

// registerLocked snapshots the tree and expansion set and records a
// new pending operation. Caller must hold s.mu.
func (s *Store) registerLocked(kind OpKind, path, originalPath string) *PendingOperation {
	expanded := make(map[string]bool, len(s.expanded))
	for k, v := range s.expanded {
		expanded[k] = v
	}
	op := &PendingOperation{
		ID:           uuid.New(),
		Kind:         kind,
		Path:         path,
		OriginalPath: originalPath,
		Started:      time.Now(),
		snapshot:     s.root.Clone(),
		expanded:     expanded,
		prevActive:   s.activePath,
		gen:          s.gen,
	}
	s.pending.Store(path, op)
	return op
}

// complete is the continuation of every mutation's storage call. It
// commits (clear pending marker, refresh the parent from storage
// truth) or rolls back (restore the snapshot wholesale) and publishes
// the outcome.
func (s *Store) complete(op *PendingOperation, opErr error) {
	// The store may have been reset or the sweep may have abandoned
	// this operation while the call was in flight.
	if tracked, ok := s.pending.Load(op.Path); !ok || tracked.ID != op.ID {
		s.log.Debug().Str("path", op.Path).Msg("Completion for abandoned operation ignored")
		return
	}

	parentPath := arbor.ParentPath(op.Path)
	var fresh []*arbor.FileNode
	if opErr == nil {
		var err error
		fresh, err = s.storage.List(s.bg, parentPath)
		if err != nil {
			// Post-commit refresh is best-effort.
			s.log.Warn().Err(err).Str("path", parentPath).Msg("Parent refresh after commit failed")
			fresh = nil
		}
	}

	s.mu.Lock()
	if op.gen != s.gen {
		s.mu.Unlock()
		return
	}
	if tracked, ok := s.pending.LoadAndDelete(op.Path); !ok || tracked.ID != op.ID {
		s.mu.Unlock()
		return
	}
	if op.OriginalPath != "" {
		s.pending.Delete(op.OriginalPath)
	}

	if opErr != nil {
		s.rollbackLocked(op, opErr)
		s.mu.Unlock()
		s.emit(Event{OpID: op.ID, Kind: op.Kind, Path: op.Path, Err: opErr})
		return
	}

	switch op.Kind {
	case OpCreateFile, OpCreateFolder, OpRename:
		if node := findNode(s.root, op.Path); node != nil {
			node.IsPending = false
		}
		if op.Kind == OpCreateFile {
			s.activePath = op.Path
		}
	case OpDelete:
		s.pushUndoLocked(op)
	}
	if fresh != nil {
		s.applyListingLocked(parentPath, fresh)
	}
	s.mu.Unlock()

	s.log.Debug().Str("kind", string(op.Kind)).Str("path", op.Path).Msg("Mutation committed")
	s.emit(Event{OpID: op.ID, Kind: op.Kind, Path: op.Path})
}

// rollbackLocked restores the pre-mutation snapshot wholesale, never a
// merge, along with the expansion set and the prior selection when it
// was affected. Caller must hold s.mu.
func (s *Store) rollbackLocked(op *PendingOperation, cause error) {
	s.root = op.snapshot
	s.expanded = op.expanded
	affected := s.activePath == op.Path ||
		arbor.IsAncestorPath(op.Path, s.activePath) ||
		(op.clearedActive && s.activePath == "")
	if affected {
		s.activePath = op.prevActive
	}
	if op.Kind == OpDelete {
		s.dropUndoByPathLocked(op.Path)
	}
	s.log.Error().Err(cause).Str("kind", string(op.Kind)).Str("path", op.Path).
		Msg("Mutation failed; tree rolled back")
}

// sweep force-rolls-back pending operations older than the configured
// timeout. The underlying storage call may still be running; only the
// tracking is abandoned.
func (s *Store) sweep() {
	cutoff := time.Now().Add(-s.cfg.StaleOpTimeout)
	stale := make(map[uuid.UUID]*PendingOperation)
	s.pending.Range(func(_ string, op *PendingOperation) bool {
		if op.Started.Before(cutoff) {
			stale[op.ID] = op
		}
		return true
	})

	for _, op := range stale {
		s.mu.Lock()
		if op.gen != s.gen {
			s.mu.Unlock()
			continue
		}
		if tracked, ok := s.pending.LoadAndDelete(op.Path); !ok || tracked.ID != op.ID {
			s.mu.Unlock()
			continue
		}
		if op.OriginalPath != "" {
			s.pending.Delete(op.OriginalPath)
		}
		err := fmt.Errorf("%w: operation timed out after %s", arbor.ErrStorage, s.cfg.StaleOpTimeout)
		s.rollbackLocked(op, err)
		s.mu.Unlock()
		s.emit(Event{OpID: op.ID, Kind: op.Kind, Path: op.Path, Err: err})
	}
}

// applyListingLocked reconciles a folder's in-memory children with a
// fresh listing from storage truth: metadata comes from the listing,
// loaded subtrees of surviving folders are kept, and optimistic
// pending children not yet visible in storage are preserved. Caller
// must hold s.mu.
func (s *Store) applyListingLocked(parentPath string, fresh []*arbor.FileNode) {
	parent := findNode(s.root, parentPath)
	if parent == nil || parent.IsFile {
		return
	}
	if fresh == nil {
		fresh = []*arbor.FileNode{}
	}
	freshByPath := make(map[string]*arbor.FileNode, len(fresh))
	for _, f := range fresh {
		freshByPath[f.Path] = f
	}
	for _, old := range parent.Children {
		if f, ok := freshByPath[old.Path]; ok {
			if !f.IsFile && f.Children == nil {
				f.Children = old.Children
			}
			continue
		}
		if old.IsPending {
			fresh = arbor.InsertSorted(fresh, old)
		}
	}
	parent.Children = fresh
}

// rewriteExpansions moves every expansion key at or under oldPath to
// its equivalent under newPath.
func (s *Store) rewriteExpansions(oldPath, newPath string) {
	for key, v := range s.expanded {
		if key == oldPath || arbor.IsAncestorPath(oldPath, key) {
			delete(s.expanded, key)
			s.expanded[newPath+strings.TrimPrefix(key, oldPath)] = v
		}
	}
}

// findNode walks a normalized path through loaded children. Returns
// nil if any segment is missing or unloaded.
func findNode(root *arbor.FileNode, path string) *arbor.FileNode {
	if path == "" {
		return root
	}
	cur := root
	for _, seg := range strings.Split(path, "/") {
		child, ok := cur.Child(seg)
		if !ok {
			return nil
		}
		cur = child
	}
	return cur
}

// rewritePaths points a node and all its loaded descendants at a new
// path prefix.
func rewritePaths(node *arbor.FileNode, newPath string) {
	node.Path = newPath
	for _, child := range node.Children {
		rewritePaths(child, arbor.JoinPath(newPath, child.Name))
	}
}
