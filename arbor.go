// Package arbor is a local-first workspace mutation engine. It applies
// hierarchical file/folder edits optimistically against an in-memory tree
// mirror while the real storage operation runs asynchronously against a
// host-provided capability, rolling the tree back on failure.
//
// The root package holds the stable shapes exchanged with hosts and
// rendering layers: the capability interfaces, [FileNode], the error
// taxonomy, and path/name validation. The engine itself lives in the
// storage, session, and tree subpackages.
package arbor
