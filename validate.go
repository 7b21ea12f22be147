package arbor

import (
	"fmt"
	"strings"
)

// DefaultDocExtension is appended to file names created without an
// explicit extension.
const DefaultDocExtension = ".md"

// DocExtensions is the document-format allow-list for explicitly
// extensioned file names.
var DocExtensions = []string{".md", ".markdown", ".txt"}

// Characters that no entry name may contain, in addition to path
// separators. Matches the strictest host filesystem rules so a name
// valid here is valid everywhere.
const reservedNameChars = `<>:"|?*`

// ValidateName checks a proposed entry name and returns the effective
// name to create. File names without an extension get
// [DefaultDocExtension] appended; explicit extensions must be on the
// [DocExtensions] allow-list.
func ValidateName(name string, isFile bool) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty name", ErrInvalidPath)
	}
	if strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("%w: name %q contains a path separator", ErrInvalidPath, name)
	}
	if strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: name %q starts with a dot", ErrInvalidPath, name)
	}
	if strings.ContainsAny(name, reservedNameChars) {
		return "", fmt.Errorf("%w: name %q contains a reserved character", ErrInvalidPath, name)
	}
	for _, r := range name {
		if r < 0x20 {
			return "", fmt.Errorf("%w: name %q contains a control character", ErrInvalidPath, name)
		}
	}
	if !isFile {
		return name, nil
	}

	dot := strings.LastIndexByte(name, '.')
	if dot < 0 {
		return name + DefaultDocExtension, nil
	}
	ext := strings.ToLower(name[dot:])
	for _, allowed := range DocExtensions {
		if ext == allowed {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: extension %q is not a supported document format", ErrUnsupportedFormat, ext)
}
