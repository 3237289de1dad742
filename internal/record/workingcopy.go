// Package record implements the working-copy-to-change direction: diffing
// a working tree against the pristine's current tree state to produce a
// Recorded bundle of hunks (spec.md §4.5). The actual working-copy
// capability (reading file bytes, listing directories, detecting
// encoding/line-ending conventions, honoring ignore rules) is explicitly
// out of scope for this core and is treated as an external collaborator
// behind the WorkingCopy interface.
package record

import "github.com/fossdd/pijul-sub000/internal/graph"

// Entry describes one working-copy tree entry as record's DFS walks it.
type Entry struct {
	Name     string
	IsDir    bool
	Inode    graph.Inode // 0 (InodeNil) if this path is new to the working copy
	Contents []byte      // nil for directories
}

// WorkingCopy is the minimal capability record needs from a working tree:
// list a directory's children and fetch a file's current bytes. Encoding
// detection, line-ending normalization and .ignore handling all live
// upstream of this interface (Non-goals).
type WorkingCopy interface {
	// List returns dir's children, in any order; record sorts by Name
	// itself so hunk generation is deterministic.
	List(dir string) ([]Entry, error)
	// ModTime reports when path was last modified. Recorder does not call
	// it: every file already known to the pristine is diffed on each Record
	// pass, whether or not it changed since the channel's last commit.
	ModTime(path string) (unixNano int64, err error)
}
