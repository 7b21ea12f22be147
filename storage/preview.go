package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/arbormd/arbor"
)

// Preview is a short-lived, externally-addressable handle to a
// workspace file's current content, issued for embedding in rendered
// documents. It is invalidated and reissued when the backing file's
// size or modified time changes.
type Preview struct {
	URL      string
	path     string
	size     int64
	modified time.Time
	release  func()
}

// Release frees the host resource backing the preview. Safe to call
// more than once.
func (p *Preview) Release() {
	if p.release != nil {
		p.release()
		p.release = nil
	}
}

// Previewer allocates externally-addressable previews from file
// content. Hosts supply their own (e.g. object URLs); the default
// materializes a temp file.
type Previewer interface {
	Allocate(ctx context.Context, path string, data []byte) (url string, release func(), err error)
}

// tempPreviewer materializes preview content into the OS temp dir and
// serves it as a file:// URL.
type tempPreviewer struct{}

func (tempPreviewer) Allocate(_ context.Context, path string, data []byte) (string, func(), error) {
	f, err := os.CreateTemp("", "arbor-preview-*"+extOf(path))
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", arbor.ErrStorage, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()           // nolint:errcheck
		os.Remove(f.Name()) // nolint:errcheck
		return "", nil, fmt.Errorf("%w: %v", arbor.ErrStorage, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name()) // nolint:errcheck
		return "", nil, fmt.Errorf("%w: %v", arbor.ErrStorage, err)
	}
	name := f.Name()
	return "file://" + name, func() { os.Remove(name) }, nil // nolint:errcheck
}

// ResolvePreview turns a reference found in a document into something
// the rendering layer can load. Externally-addressable references
// (absolute URLs, inline data, already-resolved previews) pass through
// unchanged; workspace-relative references resolve against the
// referencing document's directory into a cached preview handle.
func (s *Service) ResolvePreview(ctx context.Context, docPath, ref string) (string, error) {
	if isExternalRef(ref) {
		return ref, nil
	}
	docPath, err := s.normalize(docPath)
	if err != nil {
		return "", err
	}
	resolved, err := resolveRef(arbor.ParentPath(docPath), ref)
	if err != nil {
		return "", err
	}

	node, err := s.Stat(ctx, resolved)
	if err != nil {
		return "", err
	}
	if !node.IsFile {
		return "", fmt.Errorf("%w: %s is not a file", arbor.ErrInvalidPath, resolved)
	}
	var size int64
	if node.Size != nil {
		size = *node.Size
	}
	var modified time.Time
	if node.Modified != nil {
		modified = *node.Modified
	}

	if cached, ok := s.previews.Load(resolved); ok {
		if cached.size == size && cached.modified.Equal(modified) {
			return cached.URL, nil
		}
	}

	data, err := s.ReadFile(ctx, resolved)
	if err != nil {
		return "", err
	}
	url, release, err := s.previewer.Allocate(ctx, resolved, data)
	if err != nil {
		return "", err
	}
	preview := &Preview{URL: url, path: resolved, size: size, modified: modified, release: release}
	if old, ok := s.previews.LoadAndStore(resolved, preview); ok {
		old.Release()
	}
	s.log.Debug().Str("path", resolved).Str("url", url).Msg("Issued preview")
	return url, nil
}

// InvalidatePreviews releases every cached preview. Called when the
// workspace is cleared so preview resources cannot accumulate across
// sessions.
func (s *Service) InvalidatePreviews() {
	s.previews.Range(func(key string, p *Preview) bool {
		p.Release()
		s.previews.Delete(key)
		return true
	})
}

// isExternalRef reports whether a reference is already externally
// addressable and must pass through unchanged.
func isExternalRef(ref string) bool {
	if strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "blob:") || strings.HasPrefix(ref, "file://") {
		return true
	}
	// scheme://... with a letter-led scheme
	if i := strings.Index(ref, "://"); i > 0 {
		for _, r := range ref[:i] {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '+' || r == '-' || r == '.') {
				return false
			}
		}
		return true
	}
	return false
}

// resolveRef resolves a document-relative reference (which may use "."
// and "..") against a normalized base directory. Escaping the workspace
// root fails with [arbor.ErrInvalidPath].
func resolveRef(base, ref string) (string, error) {
	ref = strings.ReplaceAll(ref, "\\", "/")
	var segs []string
	if base != "" {
		segs = strings.Split(base, "/")
	}
	for _, seg := range strings.Split(ref, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(segs) == 0 {
				return "", fmt.Errorf("%w: %q escapes the workspace root", arbor.ErrInvalidPath, ref)
			}
			segs = segs[:len(segs)-1]
		default:
			segs = append(segs, seg)
		}
	}
	if len(segs) == 0 {
		return "", fmt.Errorf("%w: %q resolves to the workspace root", arbor.ErrInvalidPath, ref)
	}
	return strings.Join(segs, "/"), nil
}
