package change

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/fossdd/pijul-sub000/internal/graph"
)

// Offsets is the change file's fixed-width table of contents: the lengths
// of its three independently-compressed frames (spec.md §2 "three
// compressed frames: hashed, unhashed, contents"), read up front so a
// reader can seek straight to contents without inflating the hunk list, or
// vice versa.
type Offsets struct {
	Version              uint32
	HashedCompressedLen  uint64
	UnhashedCompressedLen uint64
	ContentsCompressedLen uint64
	ContentsLen          uint64 // uncompressed, so record/apply can size buffers up front
}

const offsetsWidth = 4 + 8 + 8 + 8 + 8

func (o Offsets) encode() []byte {
	b := make([]byte, offsetsWidth)
	binary.BigEndian.PutUint32(b[0:4], o.Version)
	binary.BigEndian.PutUint64(b[4:12], o.HashedCompressedLen)
	binary.BigEndian.PutUint64(b[12:20], o.UnhashedCompressedLen)
	binary.BigEndian.PutUint64(b[20:28], o.ContentsCompressedLen)
	binary.BigEndian.PutUint64(b[28:36], o.ContentsLen)
	return b
}

func decodeOffsets(b []byte) (Offsets, error) {
	if len(b) != offsetsWidth {
		return Offsets{}, fmt.Errorf("change: bad offsets width %d", len(b))
	}
	return Offsets{
		Version:               binary.BigEndian.Uint32(b[0:4]),
		HashedCompressedLen:   binary.BigEndian.Uint64(b[4:12]),
		UnhashedCompressedLen: binary.BigEndian.Uint64(b[12:20]),
		ContentsCompressedLen: binary.BigEndian.Uint64(b[20:28]),
		ContentsLen:           binary.BigEndian.Uint64(b[28:36]),
	}, nil
}

// hunkEnvelope tags a Hunk with its concrete type so the JSON encoding of
// Hashed.Changes round-trips through the Hunk interface.
type hunkEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

var hunkTypeName = map[string]func() Hunk{
	"file_add":               func() Hunk { return &FileAdd{} },
	"file_del":                func() Hunk { return &FileDel{} },
	"file_undel":              func() Hunk { return &FileUndel{} },
	"file_move":               func() Hunk { return &FileMove{} },
	"edit":                    func() Hunk { return &Edit{} },
	"replacement":             func() Hunk { return &Replacement{} },
	"solve_name_conflict":     func() Hunk { return &SolveNameConflict{} },
	"unsolve_name_conflict":   func() Hunk { return &UnsolveNameConflict{} },
	"solve_order_conflict":    func() Hunk { return &SolveOrderConflict{} },
	"unsolve_order_conflict":  func() Hunk { return &UnsolveOrderConflict{} },
	"resurrect_zombies":       func() Hunk { return &ResurrectZombies{} },
	"add_root":                func() Hunk { return &AddRoot{} },
	"del_root":                func() Hunk { return &DelRoot{} },
}

func hunkTypeTag(h Hunk) (string, error) {
	switch h.(type) {
	case FileAdd, *FileAdd:
		return "file_add", nil
	case FileDel, *FileDel:
		return "file_del", nil
	case FileUndel, *FileUndel:
		return "file_undel", nil
	case FileMove, *FileMove:
		return "file_move", nil
	case Replacement, *Replacement:
		return "replacement", nil
	case Edit, *Edit:
		return "edit", nil
	case SolveNameConflict, *SolveNameConflict:
		return "solve_name_conflict", nil
	case UnsolveNameConflict, *UnsolveNameConflict:
		return "unsolve_name_conflict", nil
	case SolveOrderConflict, *SolveOrderConflict:
		return "solve_order_conflict", nil
	case UnsolveOrderConflict, *UnsolveOrderConflict:
		return "unsolve_order_conflict", nil
	case ResurrectZombies, *ResurrectZombies:
		return "resurrect_zombies", nil
	case AddRoot, *AddRoot:
		return "add_root", nil
	case DelRoot, *DelRoot:
		return "del_root", nil
	default:
		return "", fmt.Errorf("change: unknown hunk type %T", h)
	}
}

func marshalHunks(hunks []Hunk) ([]byte, error) {
	envs := make([]hunkEnvelope, len(hunks))
	for i, h := range hunks {
		tag, err := hunkTypeTag(h)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(h)
		if err != nil {
			return nil, err
		}
		envs[i] = hunkEnvelope{Type: tag, Data: data}
	}
	return json.Marshal(envs)
}

func unmarshalHunks(raw []byte) ([]Hunk, error) {
	var envs []hunkEnvelope
	if err := json.Unmarshal(raw, &envs); err != nil {
		return nil, err
	}
	out := make([]Hunk, len(envs))
	for i, e := range envs {
		ctor, ok := hunkTypeName[e.Type]
		if !ok {
			return nil, fmt.Errorf("change: unknown hunk type tag %q", e.Type)
		}
		h := ctor()
		if err := json.Unmarshal(e.Data, h); err != nil {
			return nil, err
		}
		out[i] = derefHunk(h)
	}
	return out, nil
}

// derefHunk undoes the pointer indirection unmarshalHunks needs for
// json.Unmarshal, so callers get back the same value-typed Hunk Atoms()
// is defined on.
func derefHunk(h Hunk) Hunk {
	switch v := h.(type) {
	case *FileAdd:
		return *v
	case *FileDel:
		return *v
	case *FileUndel:
		return *v
	case *FileMove:
		return *v
	case *Edit:
		return *v
	case *Replacement:
		return *v
	case *SolveNameConflict:
		return *v
	case *UnsolveNameConflict:
		return *v
	case *SolveOrderConflict:
		return *v
	case *UnsolveOrderConflict:
		return *v
	case *ResurrectZombies:
		return *v
	case *AddRoot:
		return *v
	case *DelRoot:
		return *v
	default:
		return h
	}
}

// jsonHashed mirrors Hashed but with Changes as raw envelopes, so Hashed can
// be JSON-marshaled without requiring every Hunk implementation to carry
// custom (Un)MarshalJSON methods.
type jsonHashed struct {
	Version      uint32            `json:"version"`
	Header       Header            `json:"header"`
	Dependencies []graph.Hash      `json:"dependencies"`
	ExtraKnown   []graph.Hash      `json:"extra_known"`
	Changes      []hunkEnvelope    `json:"changes"`
	ContentsHash graph.Hash        `json:"contents_hash"`
}

// encodeHashed canonicalizes and JSON-encodes h. Dependencies/ExtraKnown are
// sorted first so that logically-equal Hashed values always produce
// byte-identical encodings (spec.md §8 Determinism).
func encodeHashed(h *Hashed) ([]byte, error) {
	envs := make([]hunkEnvelope, len(h.Changes))
	for i, hunk := range h.Changes {
		tag, err := hunkTypeTag(hunk)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(hunk)
		if err != nil {
			return nil, err
		}
		envs[i] = hunkEnvelope{Type: tag, Data: data}
	}
	jh := jsonHashed{
		Version:      h.Version,
		Header:       h.Header,
		Dependencies: sortedHashes(h.Dependencies),
		ExtraKnown:   sortedHashes(h.ExtraKnown),
		Changes:      envs,
		ContentsHash: h.ContentsHash,
	}
	return json.Marshal(jh)
}

func decodeHashed(raw []byte) (Hashed, error) {
	var jh jsonHashed
	if err := json.Unmarshal(raw, &jh); err != nil {
		return Hashed{}, err
	}
	hunks := make([]Hunk, len(jh.Changes))
	for i, e := range jh.Changes {
		ctor, ok := hunkTypeName[e.Type]
		if !ok {
			return Hashed{}, fmt.Errorf("change: unknown hunk type tag %q", e.Type)
		}
		h := ctor()
		if err := json.Unmarshal(e.Data, h); err != nil {
			return Hashed{}, err
		}
		hunks[i] = derefHunk(h)
	}
	return Hashed{
		Version:      jh.Version,
		Header:       jh.Header,
		Dependencies: jh.Dependencies,
		ExtraKnown:   jh.ExtraKnown,
		Changes:      hunks,
		ContentsHash: jh.ContentsHash,
	}, nil
}

// WriteTo writes c in the on-disk change format: Offsets, then three
// independent zstd frames (hashed, unhashed, contents). Each frame is
// compressed separately so a reader interested only in contents (e.g. to
// export a blob) never has to inflate the hunk list, and vice versa.
func (c *Change) WriteTo(w io.Writer) (int64, error) {
	hashedRaw, err := encodeHashed(&c.Hashed)
	if err != nil {
		return 0, err
	}
	unhashedRaw, err := json.Marshal(c.Unhashed)
	if err != nil {
		return 0, err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return 0, fmt.Errorf("change: zstd writer: %w", err)
	}
	defer enc.Close()

	hashedC := enc.EncodeAll(hashedRaw, nil)
	unhashedC := enc.EncodeAll(unhashedRaw, nil)
	contentsC := enc.EncodeAll(c.Contents, nil)

	off := Offsets{
		Version:               FormatVersion,
		HashedCompressedLen:   uint64(len(hashedC)),
		UnhashedCompressedLen: uint64(len(unhashedC)),
		ContentsCompressedLen: uint64(len(contentsC)),
		ContentsLen:           uint64(len(c.Contents)),
	}

	var buf bytes.Buffer
	buf.Write(off.encode())
	buf.Write(hashedC)
	buf.Write(unhashedC)
	buf.Write(contentsC)
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// ReadFrom parses a change file written by WriteTo.
func (c *Change) ReadFrom(r io.Reader) (int64, error) {
	all, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if len(all) < offsetsWidth {
		return 0, fmt.Errorf("change: truncated file (len=%d)", len(all))
	}
	off, err := decodeOffsets(all[:offsetsWidth])
	if err != nil {
		return 0, err
	}
	if off.Version != FormatVersion {
		return 0, fmt.Errorf("change: unsupported format version %d", off.Version)
	}
	cursor := offsetsWidth
	hashedC := all[cursor : cursor+int(off.HashedCompressedLen)]
	cursor += int(off.HashedCompressedLen)
	unhashedC := all[cursor : cursor+int(off.UnhashedCompressedLen)]
	cursor += int(off.UnhashedCompressedLen)
	contentsC := all[cursor : cursor+int(off.ContentsCompressedLen)]

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return 0, fmt.Errorf("change: zstd reader: %w", err)
	}
	defer dec.Close()

	hashedRaw, err := dec.DecodeAll(hashedC, nil)
	if err != nil {
		return 0, fmt.Errorf("change: inflate hashed frame: %w", err)
	}
	unhashedRaw, err := dec.DecodeAll(unhashedC, nil)
	if err != nil {
		return 0, fmt.Errorf("change: inflate unhashed frame: %w", err)
	}
	contents, err := dec.DecodeAll(contentsC, make([]byte, 0, off.ContentsLen))
	if err != nil {
		return 0, fmt.Errorf("change: inflate contents frame: %w", err)
	}

	hashed, err := decodeHashed(hashedRaw)
	if err != nil {
		return 0, err
	}
	var unhashed Unhashed
	if len(unhashedRaw) > 0 {
		if err := json.Unmarshal(unhashedRaw, &unhashed); err != nil {
			return 0, err
		}
	}

	c.Hashed = hashed
	c.Unhashed = unhashed
	c.Contents = contents
	return int64(len(all)), nil
}
