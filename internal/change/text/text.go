// Package text implements the human-readable rendering of a change: a
// "# Dependencies" section numbering each declared dependency (`[i] hash`),
// followed by a "# Hunks" section listing each hunk with its positions
// written as `i.pos` (a byte offset in dependency i), `0.pos` (a position
// already resolved to a local ChangeId) or `1+` (this change's own,
// not-yet-numbered contents), grounded on the numbered-reference grammar
// libpijul/src/change/text_changes.rs uses (the legacy, pre-numbering
// grammar in text_changes_old.rs is intentionally not ported: the
// dependency-numbered form is strictly more readable and is the only one
// this package emits or accepts).
package text

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fossdd/pijul-sub000/internal/change"
	"github.com/fossdd/pijul-sub000/internal/graph"
)

const (
	depsLine  = "# Dependencies"
	hunksLine = "# Hunks"
)

// Write renders c in text form: dependencies numbered from 2 (1 is
// reserved for this change's own positions, printed as "1+", and 0 marks a
// position already resolved to a local ChangeId), then one line per hunk.
func Write(w io.Writer, c *change.Change) error {
	bw := bufio.NewWriter(w)
	numbers := map[graph.Hash]int{}
	next := 2
	if len(c.Hashed.Dependencies) > 0 {
		fmt.Fprintln(bw, depsLine)
		for _, dep := range c.Hashed.Dependencies {
			numbers[dep] = next
			fmt.Fprintf(bw, "[%d] %s\n", next, dep)
			next++
		}
		fmt.Fprintln(bw)
	}

	fmt.Fprintln(bw, hunksLine)
	for i, h := range c.Hashed.Changes {
		fmt.Fprintf(bw, "%d. ", i+1)
		if err := writeHunk(bw, h, numbers); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeHunk(w io.Writer, h change.Hunk, numbers map[graph.Hash]int) error {
	switch v := h.(type) {
	case change.FileAdd:
		_, err := fmt.Fprintf(w, "File addition: %q in %s\n", v.Name, writePos(v.Parent, numbers))
		return err
	case change.FileDel:
		_, err := fmt.Fprintf(w, "File deletion: %s\n", writePos(v.Name, numbers))
		return err
	case change.FileMove:
		_, err := fmt.Fprintf(w, "Move: %s -> %q in %s\n", writePos(v.Inode, numbers), v.NewName, writePos(v.NewParent, numbers))
		return err
	case change.Edit:
		_, err := fmt.Fprintf(w, "Edit: %d bytes replacing %d position(s)\n", len(v.NewContents), len(v.OldPositions))
		return err
	default:
		_, err := fmt.Fprintf(w, "%T\n", h)
		return err
	}
}

func writePos(p graph.Position, numbers map[graph.Hash]int) string {
	switch p.Change.Kind {
	case graph.PositionThisChange:
		return fmt.Sprintf("%d+", 1) // this_change renders as the reserved "1+" slot
	case graph.PositionByHash:
		if n, ok := numbers[p.Change.Hash]; ok {
			return fmt.Sprintf("%d.%d", n, p.Pos)
		}
		return fmt.Sprintf("%s.%d", p.Change.Hash, p.Pos)
	default:
		return fmt.Sprintf("0.%d", p.Pos) // already-resolved ChangeId has no text-local number
	}
}

// Parse reads the dependency and hunk-count information out of a text
// change file: enough to recover Hashed.Dependencies and drive an
// interactive editor workflow. Parse does not reconstruct full hunk
// semantics from free text (record always regenerates hunks from a diff);
// it exists for the `# Dependencies` round trip and for validating that a
// hand-edited file still numbers references consistently.
func Parse(r io.Reader) (deps []graph.Hash, hunkCount int, err error) {
	sc := bufio.NewScanner(r)
	section := ""
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r\n")
		switch {
		case line == depsLine:
			section = "deps"
			continue
		case line == hunksLine:
			section = "hunks"
			continue
		case line == "":
			continue
		}
		switch section {
		case "deps":
			h, err := parseDepLine(line)
			if err != nil {
				return nil, 0, err
			}
			deps = append(deps, h)
		case "hunks":
			if isNumberedLine(line) {
				hunkCount++
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}
	return deps, hunkCount, nil
}

func parseDepLine(line string) (graph.Hash, error) {
	open := strings.IndexByte(line, '[')
	close := strings.IndexByte(line, ']')
	if open != 0 || close < 0 {
		return graph.Hash{}, fmt.Errorf("text: malformed dependency line %q", line)
	}
	if _, err := strconv.Atoi(line[open+1 : close]); err != nil {
		return graph.Hash{}, fmt.Errorf("text: malformed dependency number in %q: %w", line, err)
	}
	rest := strings.TrimSpace(line[close+1:])
	return graph.ParseHash(rest)
}

func isNumberedLine(line string) bool {
	dot := strings.IndexByte(line, '.')
	if dot <= 0 {
		return false
	}
	_, err := strconv.Atoi(line[:dot])
	return err == nil
}
