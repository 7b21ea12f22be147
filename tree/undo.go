package tree

import (
	"context"
	"fmt"
	"time"

	"github.com/arbormd/arbor"
	"github.com/google/uuid"
)

// UndoableAction is a committed delete that can still be reversed.
// Actions expire after the configured undo window and are one-shot: a
// failed undo does not re-arm.
type UndoableAction struct {
	ID      uuid.UUID
	Path    string
	Expires time.Time

	node    *arbor.FileNode
	content []byte
	gen     uint64
	timer   *time.Timer
}

// CanUndo reports whether an undoable delete is currently available.
func (s *Store) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.actions) > 0
}

// Undo reverses the most recent committed delete by recreating the
// deleted node itself: files come back with their captured content,
// folders come back empty. The recreation runs synchronously and its
// failure is returned to the caller; either way the action is consumed.
// An empty or expired stack changes nothing and reports [arbor.ErrNotFound]
// so callers can tell the user there was nothing to undo.
func (s *Store) Undo(ctx context.Context) error {
	s.mu.Lock()
	if len(s.actions) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: nothing to undo", arbor.ErrNotFound)
	}
	action := s.actions[len(s.actions)-1]
	s.actions = s.actions[:len(s.actions)-1]
	action.timer.Stop()

	path := action.Path
	if _, busy := s.pending.Load(path); busy {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", arbor.ErrBusy, path)
	}
	parent := findNode(s.root, arbor.ParentPath(path))
	if parent == nil || parent.IsFile {
		s.mu.Unlock()
		return fmt.Errorf("%w: parent of %q no longer exists", arbor.ErrNotFound, path)
	}
	if _, ok := parent.Child(arbor.BaseName(path)); ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", arbor.ErrExists, path)
	}

	node := action.node.Clone()
	node.IsPending = true
	if !node.IsFile {
		// Folders are restored as single nodes; former descendants stay
		// deleted.
		node.Children = []*arbor.FileNode{}
	}
	kind := OpCreateFile
	if !node.IsFile {
		kind = OpCreateFolder
	}
	op := s.registerLocked(kind, path, "")

	if parent.Children == nil {
		parent.Children = []*arbor.FileNode{}
	}
	parent.Children = arbor.InsertSorted(parent.Children, node)
	s.mu.Unlock()

	s.log.Info().Str("path", path).Msg("Undoing delete")
	var err error
	if node.IsFile {
		err = s.storage.WriteFile(ctx, path, action.content)
	} else {
		err = s.storage.CreateFolder(ctx, path)
	}
	s.complete(op, err)
	return err
}

// pushUndoLocked arms an undo action for a just-committed delete and
// schedules its expiry. Caller must hold s.mu.
func (s *Store) pushUndoLocked(op *PendingOperation) {
	if op.deleted == nil {
		return
	}
	action := &UndoableAction{
		ID:      op.ID,
		Path:    op.Path,
		Expires: time.Now().Add(s.cfg.UndoWindow),
		node:    op.deleted,
		content: op.content,
		gen:     s.gen,
	}
	action.timer = time.AfterFunc(s.cfg.UndoWindow, func() { s.expireUndo(action) })
	s.actions = append(s.actions, action)
}

func (s *Store) expireUndo(action *UndoableAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if action.gen != s.gen {
		return
	}
	for i, a := range s.actions {
		if a.ID == action.ID {
			s.actions = append(s.actions[:i], s.actions[i+1:]...)
			s.log.Debug().Str("path", action.Path).Msg("Undo window expired")
			return
		}
	}
}

// dropUndoByPathLocked removes any armed action for a path. Used when a
// delete is rolled back after its action was (wrongly) armed, and keeps
// rollback idempotent. Caller must hold s.mu.
func (s *Store) dropUndoByPathLocked(path string) {
	for i := 0; i < len(s.actions); {
		if s.actions[i].Path == path {
			s.actions[i].timer.Stop()
			s.actions = append(s.actions[:i], s.actions[i+1:]...)
			continue
		}
		i++
	}
}
