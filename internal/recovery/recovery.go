// Package recovery encodes the self-describing metadata embedded in every
// data object: a per-object header naming the stream, and a per-file trailer
// (finfo) carrying enough attributes to reconstruct the file without the
// metadata service.
//
// Numeric finfo fields are fixed-width, so an encoded finfo's length depends
// only on the length of its path. That property lets a stream reserve trailer
// space (ftag recoverybytes) before the file's final size is known.
package recovery

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

const (
	MajorVersion = 0
	MinorVersion = 1

	headerPrefix = "RECOV("
	finfoPrefix  = "FINFO("
)

// Header is written as the first bytes of every object in a stream.
type Header struct {
	MajorVersion int
	MinorVersion int
	CTag         string
	StreamID     string
}

// Encode renders the header string. The result's length is a pure function of
// the ctag and streamid lengths. The streamid may contain '|' separators; the
// ctag must not.
func (h *Header) Encode() (string, error) {
	if strings.ContainsAny(h.CTag, "()|") || strings.ContainsAny(h.StreamID, "()") {
		return "", fmt.Errorf("recovery: reserved character in header identifiers")
	}
	if h.CTag == "" || h.StreamID == "" {
		return "", fmt.Errorf("recovery: empty header identifier")
	}
	return fmt.Sprintf("%s%d.%d|%s|%s)\n", headerPrefix, h.MajorVersion, h.MinorVersion, h.CTag, h.StreamID), nil
}

// HeaderLen reports the encoded length of a current-version header for the
// given stream identifiers.
func HeaderLen(ctag, streamid string) (uint64, error) {
	h := Header{MajorVersion: MajorVersion, MinorVersion: MinorVersion, CTag: ctag, StreamID: streamid}
	s, err := h.Encode()
	if err != nil {
		return 0, err
	}
	return uint64(len(s)), nil
}

// ParseHeader decodes an object's recovery header from the start of buf.
func ParseHeader(buf []byte) (Header, error) {
	var h Header
	end := bytes.IndexByte(buf, '\n')
	if end < 0 || !bytes.HasPrefix(buf, []byte(headerPrefix)) || buf[end-1] != ')' {
		return h, fmt.Errorf("recovery: malformed object header")
	}
	body := string(buf[len(headerPrefix) : end-1])
	fields := strings.SplitN(body, "|", 3)
	if len(fields) != 3 {
		return h, fmt.Errorf("recovery: expected 3 header fields, got %d", len(fields))
	}
	if _, err := fmt.Sscanf(fields[0], "%d.%d", &h.MajorVersion, &h.MinorVersion); err != nil {
		return h, fmt.Errorf("recovery: bad header version %q: %w", fields[0], err)
	}
	if h.MajorVersion > MajorVersion {
		return h, fmt.Errorf("recovery: unsupported header major version %d", h.MajorVersion)
	}
	h.CTag = fields[1]
	h.StreamID = fields[2] // may itself contain '|'
	return h, nil
}

// FInfo is the per-file recovery record written as a trailer after the file's
// data in each object it occupies.
type FInfo struct {
	Inode uint64
	Mode  uint32 // raw st_mode bits
	UID   uint32
	GID   uint32
	Size  uint64
	MTime time.Time
	EOF   bool // set on the file's final trailer
	Path  string
}

// EncodedLen reports the exact byte length Encode will produce for fi.
func (fi *FInfo) EncodedLen() uint64 {
	// fixed-width numerics: only the path length varies
	return uint64(len(finfoPrefix)) + 20 + 7 + 10 + 10 + 20 + 20 + 9 + 1 + 8 /* separators */ + uint64(len(fi.Path)) + 2 /* ")\n" */
}

// Encode renders the finfo string.
func (fi *FInfo) Encode() (string, error) {
	if fi.Path == "" {
		return "", fmt.Errorf("recovery: finfo has no path")
	}
	if strings.ContainsAny(fi.Path, "()") {
		return "", fmt.Errorf("recovery: reserved character in finfo path %q", fi.Path)
	}
	eof := byte('0')
	if fi.EOF {
		eof = '1'
	}
	s := fmt.Sprintf("%s%020d|%07o|%010d|%010d|%020d|%020d.%09d|%c|%s)\n",
		finfoPrefix, fi.Inode, fi.Mode, fi.UID, fi.GID, fi.Size,
		fi.MTime.Unix(), fi.MTime.Nanosecond(), eof, fi.Path)
	if uint64(len(s)) != fi.EncodedLen() {
		return "", fmt.Errorf("recovery: inconsistent finfo length %d (expected %d)", len(s), fi.EncodedLen())
	}
	return s, nil
}

// EncodePadded renders the finfo into a buffer of exactly size bytes,
// zero-filling the tail. It fails, reporting the needed size, when the encoded
// form does not fit.
func (fi *FInfo) EncodePadded(size uint64) ([]byte, error) {
	s, err := fi.Encode()
	if err != nil {
		return nil, err
	}
	if uint64(len(s)) > size {
		return nil, fmt.Errorf("recovery: finfo needs %d bytes, only %d reserved", len(s), size)
	}
	buf := make([]byte, size)
	copy(buf, s)
	return buf, nil
}

// ParseFInfo decodes a finfo record from buf, tolerating trailing zero fill.
func ParseFInfo(buf []byte) (FInfo, error) {
	var fi FInfo
	buf = bytes.TrimRight(buf, "\x00")
	if !bytes.HasPrefix(buf, []byte(finfoPrefix)) || len(buf) < 2 || !bytes.HasSuffix(buf, []byte(")\n")) {
		return fi, fmt.Errorf("recovery: malformed finfo record")
	}
	body := string(buf[len(finfoPrefix) : len(buf)-2])
	fields := strings.SplitN(body, "|", 8)
	if len(fields) != 8 {
		return fi, fmt.Errorf("recovery: expected 8 finfo fields, got %d", len(fields))
	}
	if _, err := fmt.Sscanf(fields[0], "%d", &fi.Inode); err != nil {
		return fi, fmt.Errorf("recovery: bad inode field %q: %w", fields[0], err)
	}
	if _, err := fmt.Sscanf(fields[1], "%o", &fi.Mode); err != nil {
		return fi, fmt.Errorf("recovery: bad mode field %q: %w", fields[1], err)
	}
	if _, err := fmt.Sscanf(fields[2], "%d", &fi.UID); err != nil {
		return fi, fmt.Errorf("recovery: bad uid field %q: %w", fields[2], err)
	}
	if _, err := fmt.Sscanf(fields[3], "%d", &fi.GID); err != nil {
		return fi, fmt.Errorf("recovery: bad gid field %q: %w", fields[3], err)
	}
	if _, err := fmt.Sscanf(fields[4], "%d", &fi.Size); err != nil {
		return fi, fmt.Errorf("recovery: bad size field %q: %w", fields[4], err)
	}
	var sec int64
	var nsec int
	if _, err := fmt.Sscanf(fields[5], "%d.%d", &sec, &nsec); err != nil {
		return fi, fmt.Errorf("recovery: bad mtime field %q: %w", fields[5], err)
	}
	fi.MTime = time.Unix(sec, int64(nsec))
	switch fields[6] {
	case "0":
		fi.EOF = false
	case "1":
		fi.EOF = true
	default:
		return fi, fmt.Errorf("recovery: bad eof field %q", fields[6])
	}
	fi.Path = fields[7]
	return fi, nil
}

// ScanObject walks a raw object image and returns its header plus every finfo
// record found. Best-effort: records are located by their marker, so a path
// that embeds the marker text can confuse the scan. Intended for diagnostics
// and namespace reconstruction tooling, not the data path.
func ScanObject(data []byte) (Header, []FInfo, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return h, nil, err
	}
	var infos []FInfo
	rest := data[bytes.IndexByte(data, '\n')+1:]
	for {
		idx := bytes.Index(rest, []byte(finfoPrefix))
		if idx < 0 {
			break
		}
		rest = rest[idx:]
		end := bytes.Index(rest, []byte(")\n"))
		if end < 0 {
			break
		}
		fi, err := ParseFInfo(rest[: end+2 : end+2])
		if err == nil {
			infos = append(infos, fi)
		}
		rest = rest[end+2:]
	}
	return h, infos, nil
}
