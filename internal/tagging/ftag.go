// Package tagging encodes and decodes the persistent tags MarFS attaches to
// reference files: the FTAG (per-file position and state record) and the RTAG
// (per-object rebuild state emitted after a degraded close).
//
// Both formats are versioned. Parsers reject unknown major versions and accept
// unknown minor versions best-effort.
package tagging

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// FTagName is the xattr under which the FTAG is stored on a reference file.
	FTagName = "MARFS-FTAG"
	// RTagName is the xattr under which a rebuild tag is stored, if present.
	RTagName = "MARFS-RTAG"

	FTagMajorVersion = 0
	FTagMinorVersion = 1

	// ReservedChars may not appear in ctag values; streamids may contain '|'
	// but not parentheses.
	ReservedChars = "()|"
)

// State is the combined data-state + access-flag field of an FTAG.
// The low two bits hold the data state; the flag bits are orthogonal.
type State uint8

const (
	StateInit  State = 0 // no file data exists
	StateSized State = 1 // known lower bound on file size
	StateFin   State = 2 // known total file size
	StateComp  State = 3 // all data written

	StateDataMask State = 3

	StateWriteable State = 1 << 2 // data writable by arbitrary procs
	StateReadable  State = 1 << 3 // data readable by arbitrary procs
)

// DataState strips the flag bits, leaving only the data-state indicator.
func (s State) DataState() State { return s & StateDataMask }

// Protection describes the erasure scheme applied to a stream's data objects.
type Protection struct {
	N        int    // data blocks per stripe
	E        int    // erasure (parity) blocks per stripe
	O        int    // block rotation offset
	PartSize uint64 // bytes per block per stripe
}

// FTag is the authoritative per-file state record, stored as the MARFS-FTAG
// xattr on the file's metadata reference.
type FTag struct {
	MajorVersion int
	MinorVersion int

	CTag     string // client identifier, at most 32 chars
	StreamID string // globally unique per stream instantiation

	ObjFiles uint64 // max files per object (0 = unlimited)
	ObjSize  uint64 // max object byte size (0 = unlimited)

	FileNo      uint64 // 0-based index of this file within the stream
	ObjNo       uint64 // object index this file's data starts in
	Offset      uint64 // byte offset of this file's data within that object
	EndOfStream bool

	Protection Protection

	Bytes         uint64 // lower bound on file size so far
	AvailBytes    uint64 // caller-visible size
	RecoveryBytes uint64 // length of this file's recovery trailer

	State State
}

// Encode renders the FTAG in its xattr string form. The streamid may contain
// '|' separators (streamids embed their repo and namespace path); the parser
// recovers it by field position, so the ctag must stay free of all reserved
// characters.
func (f *FTag) Encode() (string, error) {
	if strings.ContainsAny(f.CTag, ReservedChars) {
		return "", fmt.Errorf("ftag: reserved character in ctag %q", f.CTag)
	}
	if strings.ContainsAny(f.StreamID, "()") {
		return "", fmt.Errorf("ftag: reserved character in streamid %q", f.StreamID)
	}
	if f.CTag == "" || f.StreamID == "" {
		return "", fmt.Errorf("ftag: empty identifier field")
	}
	if len(f.CTag) > 32 {
		return "", fmt.Errorf("ftag: ctag %q exceeds 32 chars", f.CTag)
	}
	eos := 0
	if f.EndOfStream {
		eos = 1
	}
	return fmt.Sprintf("(%d.%d|%s|%s|%d|%d|%d|%d|%d|%d|%d-%d-%d-%d|%d|%d|%d|%d)",
		f.MajorVersion, f.MinorVersion,
		f.CTag, f.StreamID,
		f.ObjFiles, f.ObjSize,
		f.FileNo, f.ObjNo, f.Offset, eos,
		f.Protection.N, f.Protection.E, f.Protection.O, f.Protection.PartSize,
		f.Bytes, f.AvailBytes, f.RecoveryBytes,
		f.State), nil
}

// ParseFTag decodes an FTAG xattr string. Unknown major versions are rejected;
// minor versions newer than ours parse best-effort.
func ParseFTag(s string) (FTag, error) {
	var f FTag
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return f, fmt.Errorf("ftag: malformed value %q", s)
	}
	fields := strings.Split(s[1:len(s)-1], "|")
	if len(fields) < 14 {
		return f, fmt.Errorf("ftag: expected at least 14 fields, got %d", len(fields))
	}
	if _, err := fmt.Sscanf(fields[0], "%d.%d", &f.MajorVersion, &f.MinorVersion); err != nil {
		return f, fmt.Errorf("ftag: bad version field %q: %w", fields[0], err)
	}
	if f.MajorVersion > FTagMajorVersion {
		return f, fmt.Errorf("ftag: unsupported major version %d", f.MajorVersion)
	}
	f.CTag = fields[1]
	// the streamid may itself contain '|'; the 11 trailing fields are fixed,
	// so it spans everything in between
	f.StreamID = strings.Join(fields[2:len(fields)-11], "|")
	fields = fields[len(fields)-11:]
	if f.CTag == "" || f.StreamID == "" {
		return f, fmt.Errorf("ftag: empty identifier field")
	}
	var err error
	if f.ObjFiles, err = parseUint(fields[0]); err != nil {
		return f, err
	}
	if f.ObjSize, err = parseUint(fields[1]); err != nil {
		return f, err
	}
	if f.FileNo, err = parseUint(fields[2]); err != nil {
		return f, err
	}
	if f.ObjNo, err = parseUint(fields[3]); err != nil {
		return f, err
	}
	if f.Offset, err = parseUint(fields[4]); err != nil {
		return f, err
	}
	switch fields[5] {
	case "0":
		f.EndOfStream = false
	case "1":
		f.EndOfStream = true
	default:
		return f, fmt.Errorf("ftag: bad endofstream field %q", fields[5])
	}
	if _, err := fmt.Sscanf(fields[6], "%d-%d-%d-%d",
		&f.Protection.N, &f.Protection.E, &f.Protection.O, &f.Protection.PartSize); err != nil {
		return f, fmt.Errorf("ftag: bad protection field %q: %w", fields[6], err)
	}
	if f.Protection.N < 1 || f.Protection.E < 0 || f.Protection.O < 0 {
		return f, fmt.Errorf("ftag: protection values out of range in %q", fields[6])
	}
	if f.Bytes, err = parseUint(fields[7]); err != nil {
		return f, err
	}
	if f.AvailBytes, err = parseUint(fields[8]); err != nil {
		return f, err
	}
	if f.RecoveryBytes, err = parseUint(fields[9]); err != nil {
		return f, err
	}
	state, err := parseUint(fields[10])
	if err != nil {
		return f, err
	}
	if state > uint64(StateComp|StateWriteable|StateReadable) {
		return f, fmt.Errorf("ftag: state value %d out of range", state)
	}
	f.State = State(state)
	return f, nil
}

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("ftag: bad numeric field %q: %w", s, err)
	}
	return v, nil
}

// Compare reports whether two FTAGs match in every field.
func Compare(a, b *FTag) bool {
	return a != nil && b != nil && *a == *b
}

// MetaTgt derives the metadata reference name of the file. The name is unique
// per (ctag, streamid, fileno) and is hashed into the repo's reference tree by
// the placement layer.
func (f *FTag) MetaTgt() string {
	return fmt.Sprintf("%s|%s|file.%d", f.CTag, f.StreamID, f.FileNo)
}

// DataTgt derives the name of the data object identified by the FTAG's objno.
// Every file packed into an object derives the same name, regardless of its
// own fileno.
func (f *FTag) DataTgt() string {
	return fmt.Sprintf("%s|%s|obj.%d", f.CTag, f.StreamID, f.ObjNo)
}
