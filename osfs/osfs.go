// Package osfs implements the arbor capability interfaces on top of the
// local filesystem. It is the host side used by the CLI and by tests;
// UI hosts embedding the engine provide their own implementation.
package osfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/arbormd/arbor"
)

// Root is an OS-backed workspace root capability. Its persisted
// identity is the absolute path of the root directory.
type Root struct {
	path string
	perm arbor.Permission
}

// NewRoot opens a workspace root at the given directory path. The
// returned handle is granted if the directory is accessible.
func NewRoot(path string) (*Root, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", arbor.ErrInvalidPath, err)
	}
	r := &Root{path: abs}
	r.perm = probe(abs)
	if r.perm == arbor.PermissionUnknown {
		return nil, fmt.Errorf("%w: %s", arbor.ErrNotFound, abs)
	}
	return r, nil
}

// probe stats the directory and maps the outcome to a permission state.
func probe(path string) arbor.Permission {
	info, err := os.Stat(path)
	switch {
	case err == nil && info.IsDir():
		return arbor.PermissionGranted
	case os.IsPermission(err):
		return arbor.PermissionDenied
	default:
		return arbor.PermissionUnknown
	}
}

func (r *Root) Name() string { return filepath.Base(r.path) }

func (r *Root) ID() string { return r.path }

func (r *Root) Permission() arbor.Permission { return r.perm }

// RequestPermission re-probes the directory. There is no interactive
// grant for local paths; access either works or it does not.
func (r *Root) RequestPermission(ctx context.Context) (arbor.Permission, error) {
	if err := ctx.Err(); err != nil {
		return r.perm, err
	}
	r.perm = probe(r.path)
	return r.perm, nil
}

func (r *Root) Dir() arbor.DirHandle { return &dirHandle{path: r.path} }

var _ arbor.RootHandle = (*Root)(nil)

// Resolver restores a persisted identity (absolute path) into a live
// root handle.
type Resolver struct{}

func (Resolver) Resolve(_ context.Context, id string) (arbor.RootHandle, error) {
	return NewRoot(id)
}

var _ arbor.Resolver = Resolver{}

// StaticPicker is a non-interactive [arbor.Picker] returning a fixed
// directory, used by the CLI's select command.
type StaticPicker struct {
	Path string
}

func (p StaticPicker) Pick(_ context.Context) (arbor.RootHandle, error) {
	if p.Path == "" {
		return nil, nil // treated as user cancellation
	}
	return NewRoot(p.Path)
}

var _ arbor.Picker = StaticPicker{}

type dirHandle struct {
	path string
}

func (d *dirHandle) Name() string { return filepath.Base(d.path) }

func (d *dirHandle) Entries(ctx context.Context) ([]arbor.EntryInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dirents, err := os.ReadDir(d.path)
	if err != nil {
		return nil, mapErr(err, d.path)
	}
	entries := make([]arbor.EntryInfo, 0, len(dirents))
	for _, de := range dirents {
		info, err := de.Info()
		if err != nil {
			// Entry vanished between ReadDir and Info; skip it.
			continue
		}
		e := arbor.EntryInfo{Name: de.Name(), IsDir: de.IsDir(), Modified: info.ModTime()}
		if !de.IsDir() {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (d *dirHandle) Dir(ctx context.Context, name string) (arbor.DirHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	child := filepath.Join(d.path, name)
	info, err := os.Stat(child)
	if err != nil {
		return nil, mapErr(err, child)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", arbor.ErrNotFound, name)
	}
	return &dirHandle{path: child}, nil
}

func (d *dirHandle) CreateDir(ctx context.Context, name string) (arbor.DirHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	child := filepath.Join(d.path, name)
	if err := os.Mkdir(child, 0o755); err != nil {
		return nil, mapErr(err, child)
	}
	return &dirHandle{path: child}, nil
}

func (d *dirHandle) File(ctx context.Context, name string) (arbor.FileHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	child := filepath.Join(d.path, name)
	info, err := os.Stat(child)
	if err != nil {
		return nil, mapErr(err, child)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", arbor.ErrNotFound, name)
	}
	return &fileHandle{path: child}, nil
}

func (d *dirHandle) CreateFile(ctx context.Context, name string) (arbor.FileHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	child := filepath.Join(d.path, name)
	f, err := os.OpenFile(child, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, mapErr(err, child)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", arbor.ErrStorage, err)
	}
	return &fileHandle{path: child}, nil
}

func (d *dirHandle) Remove(ctx context.Context, name string, recursive bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	child := filepath.Join(d.path, name)
	if _, err := os.Stat(child); err != nil {
		return mapErr(err, child)
	}
	if recursive {
		if err := os.RemoveAll(child); err != nil {
			return mapErr(err, child)
		}
		return nil
	}
	if err := os.Remove(child); err != nil {
		return mapErr(err, child)
	}
	return nil
}

var _ arbor.DirHandle = (*dirHandle)(nil)

type fileHandle struct {
	path string
}

func (f *fileHandle) Name() string { return filepath.Base(f.path) }

func (f *fileHandle) Stat(ctx context.Context) (arbor.FileStat, error) {
	if err := ctx.Err(); err != nil {
		return arbor.FileStat{}, err
	}
	info, err := os.Stat(f.path)
	if err != nil {
		return arbor.FileStat{}, mapErr(err, f.path)
	}
	return arbor.FileStat{Size: info.Size(), Modified: info.ModTime()}, nil
}

func (f *fileHandle) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, mapErr(err, f.path)
	}
	return data, nil
}

// Writer stages the new content in a sibling temp file and renames it
// over the target on Close. Interruption before Close leaves the prior
// content untouched.
func (f *fileHandle) Writer(ctx context.Context) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tmp := f.path + ".tmp"
	w, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, mapErr(err, tmp)
	}
	return &atomicWriter{f: w, tmp: tmp, dst: f.path}, nil
}

var _ arbor.FileHandle = (*fileHandle)(nil)

type atomicWriter struct {
	f   *os.File
	tmp string
	dst string
}

func (w *atomicWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *atomicWriter) Close() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		os.Remove(w.tmp)
		return fmt.Errorf("%w: %v", arbor.ErrStorage, err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.tmp)
		return fmt.Errorf("%w: %v", arbor.ErrStorage, err)
	}
	if err := os.Rename(w.tmp, w.dst); err != nil {
		os.Remove(w.tmp)
		return mapErr(err, w.dst)
	}
	return nil
}

// mapErr translates os errors into the shared taxonomy.
func mapErr(err error, path string) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %s", arbor.ErrNotFound, path)
	case os.IsExist(err):
		return fmt.Errorf("%w: %s", arbor.ErrExists, path)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %s", arbor.ErrNeedsPermission, path)
	default:
		return fmt.Errorf("%w: %v", arbor.ErrStorage, err)
	}
}
