package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arbormd/arbor"
	"github.com/gabriel-vasile/mimetype"
)

func unixNow() int64 { return time.Now().Unix() }

// IngestImage stores a binary image asset under the configured asset
// folder, bucketed by UTC year-month, and returns the workspace-relative
// path of the stored file. The payload must pass the extension
// allow-list, the size cap, and a content sniff agreeing it is an image.
// Name collisions get a UNIX-timestamp suffix, then an incrementing
// disambiguator if that also collides.
func (s *Service) IngestImage(ctx context.Context, filename string, data []byte) (string, error) {
	if err := s.requireGranted(); err != nil {
		return "", err
	}
	if int64(len(data)) > s.cfg.MaxAssetSize {
		return "", fmt.Errorf("%w: %d bytes (max %d)", arbor.ErrOversizedAsset, len(data), s.cfg.MaxAssetSize)
	}

	ext := strings.ToLower(extOf(filename))
	if !s.allowedImageExt(ext) {
		return "", fmt.Errorf("%w: extension %q", arbor.ErrUnsupportedFormat, ext)
	}
	if mtype := mimetype.Detect(data); !strings.HasPrefix(mtype.String(), "image/") {
		return "", fmt.Errorf("%w: payload sniffed as %s", arbor.ErrUnsupportedFormat, mtype.String())
	}

	bucket := arbor.JoinPath(s.cfg.AssetDir, time.Now().UTC().Format("2006-01"))
	dir, err := s.ensureDir(ctx, bucket)
	if err != nil {
		return "", err
	}

	taken := make(map[string]bool)
	entries, err := dir.Entries(ctx)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		taken[e.Name] = true
	}

	stem := sanitizeStem(strings.TrimSuffix(filename, extOf(filename)))
	name := stem + ext
	if taken[name] {
		ts := s.now()
		name = fmt.Sprintf("%s-%d%s", stem, ts, ext)
		for n := 1; taken[name]; n++ {
			name = fmt.Sprintf("%s-%d-%d%s", stem, ts, n, ext)
		}
	}

	file, err := dir.CreateFile(ctx, name)
	if err != nil {
		return "", err
	}
	w, err := file.Writer(ctx)
	if err != nil {
		return "", err
	}
	if _, err := w.Write(data); err != nil {
		w.Close() // nolint:errcheck
		return "", fmt.Errorf("%w: %v", arbor.ErrStorage, err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	rel := arbor.JoinPath(bucket, name)
	s.log.Debug().Str("path", rel).Int("size", len(data)).Msg("Ingested image asset")
	return rel, nil
}

func (s *Service) allowedImageExt(ext string) bool {
	for _, allowed := range s.cfg.ImageExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}

// ensureDir resolves a normalized directory path, creating any missing
// segments along the way (mkdir -p semantics).
func (s *Service) ensureDir(ctx context.Context, path string) (arbor.DirHandle, error) {
	dir := s.root.Dir()
	if path == "" {
		return dir, nil
	}
	for _, seg := range strings.Split(path, "/") {
		child, err := dir.Dir(ctx, seg)
		if errors.Is(err, arbor.ErrNotFound) {
			child, err = dir.CreateDir(ctx, seg)
			if errors.Is(err, arbor.ErrExists) {
				// Lost a creation race; the directory is there now.
				child, err = dir.Dir(ctx, seg)
			}
		}
		if err != nil {
			return nil, err
		}
		dir = child
	}
	return dir, nil
}

// extOf returns the final extension including the dot, or "".
func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[i:]
	}
	return ""
}

// sanitizeStem reduces a filename stem to a safe character set.
func sanitizeStem(stem string) string {
	var b strings.Builder
	for _, r := range stem {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-.")
	if out == "" {
		out = "asset"
	}
	return out
}
