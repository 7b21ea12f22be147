package arbor

import (
	"fmt"
	"strings"
)

// NormalizePath canonicalizes a workspace-relative path: backslashes
// become slashes, a leading "./" is stripped, repeated slashes collapse,
// and leading/trailing slashes are trimmed. The empty result addresses
// the workspace root itself.
//
// Any "." or ".." segment fails with [ErrInvalidPath]; relative
// traversal is resolved by callers that know the referencing document
// (see the storage package's preview resolution), never here.
func NormalizePath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")

	var segs []string
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			continue // collapsed slash or leading/trailing slash
		}
		if seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %q segment in %q", ErrInvalidPath, seg, p)
		}
		segs = append(segs, seg)
	}
	return strings.Join(segs, "/"), nil
}

// JoinPath joins a normalized parent path with a child name.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// ParentPath returns the normalized parent of a normalized path.
// The parent of a top-level entry is "" (the workspace root).
func ParentPath(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[:i]
	}
	return ""
}

// BaseName returns the last segment of a normalized path.
func BaseName(p string) string {
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		return p[i+1:]
	}
	return p
}

// IsAncestorPath reports whether ancestor strictly contains p.
// The workspace root ("") is an ancestor of every non-root path.
func IsAncestorPath(ancestor, p string) bool {
	if ancestor == "" {
		return p != ""
	}
	return strings.HasPrefix(p, ancestor+"/")
}
