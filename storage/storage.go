// Package storage translates workspace-relative paths into validated
// operations against a host-provided root capability. It owns path
// normalization, listing order, copy-then-delete renames, binary asset
// ingestion, and preview resolution.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/arbormd/arbor"
	"github.com/arbormd/arbor/config"
	"github.com/arbormd/arbor/internal/util"
	"github.com/puzpuzpuz/xsync/v4"
)

// Service performs storage operations scoped to a single workspace
// root. Every call fails closed with [arbor.ErrNeedsPermission] unless
// the root capability is currently granted.
type Service struct {
	root      arbor.RootHandle
	cfg       *config.Config
	log       util.Logger
	previews  *xsync.Map[string, *Preview]
	previewer Previewer
	now       func() int64 // unix seconds; swapped in asset collision tests
}

// Option configures a Service.
type Option func(*Service)

// WithPreviewer replaces the default temp-file preview allocator.
func WithPreviewer(p Previewer) Option {
	return func(s *Service) { s.previewer = p }
}

// New creates a storage service over the given root capability.
func New(root arbor.RootHandle, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		root:      root,
		cfg:       cfg,
		log:       util.GetLogger("storage"),
		previews:  xsync.NewMap[string, *Preview](),
		previewer: tempPreviewer{},
		now:       unixNow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WorkspaceName returns the root's display identity.
func (s *Service) WorkspaceName() string {
	return s.root.Name()
}

func (s *Service) requireGranted() error {
	if perm := s.root.Permission(); perm != arbor.PermissionGranted {
		return fmt.Errorf("%w: root capability is %s", arbor.ErrNeedsPermission, perm)
	}
	return nil
}

// normalize canonicalizes a path and strips a leading workspace
// display-name segment, so display paths like "notes/ideas.md" under a
// workspace named "notes" address the same entries as "ideas.md".
func (s *Service) normalize(p string) (string, error) {
	np, err := arbor.NormalizePath(p)
	if err != nil {
		return "", err
	}
	name := s.root.Name()
	if np == name {
		return "", nil
	}
	if strings.HasPrefix(np, name+"/") {
		np = np[len(name)+1:]
	}
	return np, nil
}

// resolveDir walks a normalized path segment by segment from the root
// directory capability.
func (s *Service) resolveDir(ctx context.Context, path string) (arbor.DirHandle, error) {
	dir := s.root.Dir()
	if path == "" {
		return dir, nil
	}
	for _, seg := range strings.Split(path, "/") {
		child, err := dir.Dir(ctx, seg)
		if err != nil {
			return nil, err
		}
		dir = child
	}
	return dir, nil
}

// resolveParent resolves the parent directory of a normalized path and
// returns it with the leaf name. The workspace root has no parent.
func (s *Service) resolveParent(ctx context.Context, path string) (arbor.DirHandle, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("%w: workspace root has no parent", arbor.ErrInvalidPath)
	}
	dir, err := s.resolveDir(ctx, arbor.ParentPath(path))
	if err != nil {
		return nil, "", err
	}
	return dir, arbor.BaseName(path), nil
}

// List returns the immediate children of a directory in the canonical
// sort order (folders before files, case-insensitive names). Dotfiles
// are excluded unless configured otherwise.
func (s *Service) List(ctx context.Context, path string) ([]*arbor.FileNode, error) {
	if err := s.requireGranted(); err != nil {
		return nil, err
	}
	path, err := s.normalize(path)
	if err != nil {
		return nil, err
	}
	dir, err := s.resolveDir(ctx, path)
	if err != nil {
		return nil, err
	}
	entries, err := dir.Entries(ctx)
	if err != nil {
		return nil, err
	}

	nodes := make([]*arbor.FileNode, 0, len(entries))
	for _, e := range entries {
		if !s.cfg.IncludeHidden && strings.HasPrefix(e.Name, ".") {
			continue
		}
		nodes = append(nodes, entryNode(path, e))
	}
	arbor.SortNodes(nodes)
	return nodes, nil
}

// DirectoryPage is one window of a directory listing, sized for
// incremental rendering of very large folders.
type DirectoryPage struct {
	Nodes      []*arbor.FileNode
	TotalCount int
	HasMore    bool
}

// ListPage returns a window of the canonical sorted listing: up to
// limit entries starting at offset, together with the directory's total
// entry count and whether entries remain past the window. An offset at
// or past the end yields an empty page.
func (s *Service) ListPage(ctx context.Context, path string, offset, limit int) (*DirectoryPage, error) {
	nodes, err := s.List(ctx, path)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit < 0 {
		limit = 0
	}
	total := len(nodes)
	end := offset + limit
	if end > total {
		end = total
	}
	page := []*arbor.FileNode{}
	if offset < total {
		page = nodes[offset:end]
	}
	return &DirectoryPage{Nodes: page, TotalCount: total, HasMore: end < total}, nil
}

// ReadDirectory returns the directory node itself with its immediate
// children populated; the children's own children stay unloaded.
func (s *Service) ReadDirectory(ctx context.Context, path string) (*arbor.FileNode, error) {
	children, err := s.List(ctx, path)
	if err != nil {
		return nil, err
	}
	path, err = s.normalize(path)
	if err != nil {
		return nil, err
	}
	name := arbor.BaseName(path)
	if path == "" {
		name = s.root.Name()
	}
	node := &arbor.FileNode{Path: path, Name: name, Children: children}
	if node.Children == nil {
		node.Children = []*arbor.FileNode{}
	}
	return node, nil
}

// Stat returns metadata for a single entry.
func (s *Service) Stat(ctx context.Context, path string) (*arbor.FileNode, error) {
	if err := s.requireGranted(); err != nil {
		return nil, err
	}
	path, err := s.normalize(path)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return &arbor.FileNode{Path: "", Name: s.root.Name()}, nil
	}
	parent, name, err := s.resolveParent(ctx, path)
	if err != nil {
		return nil, err
	}
	file, err := parent.File(ctx, name)
	if err == nil {
		stat, err := file.Stat(ctx)
		if err != nil {
			return nil, err
		}
		return entryNode(arbor.ParentPath(path), arbor.EntryInfo{
			Name: name, Size: stat.Size, Modified: stat.Modified,
		}), nil
	}
	if _, dirErr := parent.Dir(ctx, name); dirErr == nil {
		return entryNode(arbor.ParentPath(path), arbor.EntryInfo{Name: name, IsDir: true}), nil
	}
	return nil, err
}

// ReadFile returns the full contents of a file. Fails with
// [arbor.ErrNotFound] if the parent or leaf is absent.
func (s *Service) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := s.requireGranted(); err != nil {
		return nil, err
	}
	path, err := s.normalize(path)
	if err != nil {
		return nil, err
	}
	parent, name, err := s.resolveParent(ctx, path)
	if err != nil {
		return nil, err
	}
	file, err := parent.File(ctx, name)
	if err != nil {
		return nil, err
	}
	return file.Read(ctx)
}

// WriteFile replaces the full contents of a file as one unit, creating
// the leaf if needed. The write finalizes on close, so an interruption
// preserves the prior content.
func (s *Service) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := s.requireGranted(); err != nil {
		return err
	}
	path, err := s.normalize(path)
	if err != nil {
		return err
	}
	parent, name, err := s.resolveParent(ctx, path)
	if err != nil {
		return err
	}
	file, err := parent.File(ctx, name)
	if errors.Is(err, arbor.ErrNotFound) {
		file, err = parent.CreateFile(ctx, name)
	}
	if err != nil {
		return err
	}
	w, err := file.Writer(ctx)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close() // nolint:errcheck
		return fmt.Errorf("%w: %v", arbor.ErrStorage, err)
	}
	return w.Close()
}

// CreateFile creates an empty file. Fails with [arbor.ErrExists] if an
// entry already occupies the terminal name.
func (s *Service) CreateFile(ctx context.Context, path string) error {
	if err := s.requireGranted(); err != nil {
		return err
	}
	path, err := s.normalize(path)
	if err != nil {
		return err
	}
	parent, name, err := s.resolveParent(ctx, path)
	if err != nil {
		return err
	}
	_, err = parent.CreateFile(ctx, name)
	return err
}

// CreateFolder creates an empty directory. Fails with [arbor.ErrExists]
// if an entry already occupies the terminal name.
func (s *Service) CreateFolder(ctx context.Context, path string) error {
	if err := s.requireGranted(); err != nil {
		return err
	}
	path, err := s.normalize(path)
	if err != nil {
		return err
	}
	parent, name, err := s.resolveParent(ctx, path)
	if err != nil {
		return err
	}
	_, err = parent.CreateDir(ctx, name)
	return err
}

// Delete removes an entry, recursively for directories.
func (s *Service) Delete(ctx context.Context, path string) error {
	if err := s.requireGranted(); err != nil {
		return err
	}
	path, err := s.normalize(path)
	if err != nil {
		return err
	}
	parent, name, err := s.resolveParent(ctx, path)
	if err != nil {
		return err
	}
	return parent.Remove(ctx, name, true)
}

// Rename moves an entry. The capability model has no native move
// primitive, so this is a recursive copy to the destination followed by
// a recursive delete of the source. A crash mid-rename can leave both
// source and a partial destination; there is no reconciliation pass.
func (s *Service) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := s.requireGranted(); err != nil {
		return err
	}
	oldPath, err := s.normalize(oldPath)
	if err != nil {
		return err
	}
	newPath, err = s.normalize(newPath)
	if err != nil {
		return err
	}
	if oldPath == newPath {
		return nil
	}
	if oldPath == "" {
		return fmt.Errorf("%w: cannot rename workspace root", arbor.ErrInvalidPath)
	}
	if arbor.IsAncestorPath(oldPath, newPath) {
		return fmt.Errorf("%w: %q -> %q", arbor.ErrCycle, oldPath, newPath)
	}

	srcParent, srcName, err := s.resolveParent(ctx, oldPath)
	if err != nil {
		return err
	}
	dstParent, dstName, err := s.resolveParent(ctx, newPath)
	if err != nil {
		return err
	}
	entries, err := dstParent.Entries(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Name == dstName {
			return fmt.Errorf("%w: %s", arbor.ErrExists, newPath)
		}
	}

	if file, err := srcParent.File(ctx, srcName); err == nil {
		if err := s.copyFile(ctx, file, dstParent, dstName); err != nil {
			return err
		}
	} else {
		srcDir, dirErr := srcParent.Dir(ctx, srcName)
		if dirErr != nil {
			return err // original file error carries the NotFound
		}
		if err := s.copyDir(ctx, srcDir, dstParent, dstName); err != nil {
			return err
		}
	}

	if err := srcParent.Remove(ctx, srcName, true); err != nil {
		return fmt.Errorf("source not removed after copy: %w", err)
	}
	s.log.Debug().Str("from", oldPath).Str("to", newPath).Msg("Renamed via copy+delete")
	return nil
}

func (s *Service) copyFile(ctx context.Context, src arbor.FileHandle, dstParent arbor.DirHandle, dstName string) error {
	data, err := src.Read(ctx)
	if err != nil {
		return err
	}
	dst, err := dstParent.CreateFile(ctx, dstName)
	if err != nil {
		return err
	}
	w, err := dst.Writer(ctx)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close() // nolint:errcheck
		return fmt.Errorf("%w: %v", arbor.ErrStorage, err)
	}
	return w.Close()
}

func (s *Service) copyDir(ctx context.Context, src arbor.DirHandle, dstParent arbor.DirHandle, dstName string) error {
	dst, err := dstParent.CreateDir(ctx, dstName)
	if err != nil {
		return err
	}
	entries, err := src.Entries(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir {
			child, err := src.Dir(ctx, e.Name)
			if err != nil {
				return err
			}
			if err := s.copyDir(ctx, child, dst, e.Name); err != nil {
				return err
			}
			continue
		}
		child, err := src.File(ctx, e.Name)
		if err != nil {
			return err
		}
		if err := s.copyFile(ctx, child, dst, e.Name); err != nil {
			return err
		}
	}
	return nil
}

// entryNode builds a FileNode for a listed entry under a normalized
// parent path.
func entryNode(parentPath string, e arbor.EntryInfo) *arbor.FileNode {
	node := &arbor.FileNode{
		Path:   arbor.JoinPath(parentPath, e.Name),
		Name:   e.Name,
		IsFile: !e.IsDir,
	}
	if node.IsFile {
		size := e.Size
		node.Size = &size
	}
	if !e.Modified.IsZero() {
		mod := e.Modified
		node.Modified = &mod
	}
	return node
}
