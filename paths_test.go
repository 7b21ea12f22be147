package arbor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePath_Canonicalizes(t *testing.T) {
	cases := map[string]string{
		"notes/a.md":       "notes/a.md",
		"./notes/a.md":     "notes/a.md",
		"notes\\sub\\a.md": "notes/sub/a.md",
		"notes//sub/":      "notes/sub",
		"/notes/a.md":      "notes/a.md",
		"":                 "",
		"/":                "",
	}
	for in, want := range cases {
		got, err := NormalizePath(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}
}

func TestNormalizePath_RejectsTraversal(t *testing.T) {
	for _, in := range []string{"..", "notes/../a.md", "a/./b", "../a"} {
		_, err := NormalizePath(in)
		require.Error(t, err, "input %q", in)
		assert.ErrorIs(t, err, ErrInvalidPath, "input %q", in)
	}
}

func TestParentPath(t *testing.T) {
	assert.Equal(t, "notes/sub", ParentPath("notes/sub/a.md"))
	assert.Equal(t, "", ParentPath("a.md"))
	assert.Equal(t, "", ParentPath(""))
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "a.md", BaseName("notes/sub/a.md"))
	assert.Equal(t, "a.md", BaseName("a.md"))
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "a.md", JoinPath("", "a.md"))
	assert.Equal(t, "notes/a.md", JoinPath("notes", "a.md"))
}

func TestIsAncestorPath(t *testing.T) {
	assert.True(t, IsAncestorPath("notes", "notes/sub/a.md"))
	assert.True(t, IsAncestorPath("", "notes"))
	assert.False(t, IsAncestorPath("notes", "notes"))
	assert.False(t, IsAncestorPath("notes", "notes2/a.md"))
	assert.False(t, IsAncestorPath("", ""))
}
