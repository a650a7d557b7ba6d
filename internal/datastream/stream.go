// Package datastream implements the MarFS datastream engine: the translation
// of file operations into coordinated updates of a metadata backend (MDAL)
// and an erasure-coded object backend (NE), under the FTAG state machine and
// the object packing protocol.
//
// A stream serializes all operations on one handle; distinct streams may run
// concurrently so long as they never target the same reference file.
package datastream

import (
	"fmt"
	"strings"
	"time"

	"github.com/dmp265/marfs/internal/config"
	"github.com/dmp265/marfs/internal/mdal"
	"github.com/dmp265/marfs/internal/ne"
	"github.com/dmp265/marfs/internal/recovery"
	"github.com/dmp265/marfs/internal/tagging"
)

// StreamType selects the access pattern of a stream.
type StreamType int

const (
	CreateStream StreamType = iota + 1
	EditStream
	ReadStream
)

func (t StreamType) String() string {
	switch t {
	case CreateStream:
		return "create"
	case EditStream:
		return "edit"
	case ReadStream:
		return "read"
	}
	return fmt.Sprintf("streamtype(%d)", int(t))
}

// File-list growth constants. Packed create streams grow their file list
// geometrically, capped one slot past the repo's objfiles limit (the extra
// slot holds a file that starts the next object).
const (
	initialFileAlloc = 64
	fileAllocMult    = 2
)

// Position binds a stream to a namespace plus a metadata session.
type Position struct {
	NS   *config.Namespace
	Ctxt mdal.Context
}

// streamFile tracks one file touched by the stream.
type streamFile struct {
	handle  mdal.Handle
	ftag    tagging.FTag
	atime   time.Time
	mtime   time.Time
	doTimes bool
}

// Stream coordinates operations on one or more files sharing recovery
// metadata and placement. Only create streams track more than one file (the
// packed prefix of the current object).
type Stream struct {
	stype StreamType
	ns    *config.Namespace
	ctxt  mdal.Context

	ctag              string
	streamID          string
	recoveryHeaderLen uint64

	// cursor
	fileNo uint64
	objNo  uint64
	offset uint64

	// zeroTail tracks read progress through the zero-filled logical tail
	// past the stored data, so repeated near-EOF reads terminate
	zeroTail uint64

	data ne.Handle // active object handle, at most one

	files   []streamFile
	curFile int

	finfo recovery.FInfo // staged recovery info of the current file

	terminal bool // set once invariants are uncertain; all ops fail
}

// Type reports the stream's access pattern.
func (s *Stream) Type() StreamType { return s.stype }

// CurrentFTag returns a copy of the current file's FTAG.
func (s *Stream) CurrentFTag() tagging.FTag { return s.files[s.curFile].ftag }

// Namespace returns the namespace the stream is bound to.
func (s *Stream) Namespace() *config.Namespace { return s.ns }

// allocFiles grows the file list to its next capacity step, zero-filling new
// slots so teardown can safely skip them. A zero max leaves growth unbounded.
func allocFiles(files []streamFile, max uint64) []streamFile {
	size := uint64(initialFileAlloc)
	if uint64(len(files)) >= size {
		size = uint64(len(files)) * fileAllocMult
	}
	if max != 0 && size > max {
		size = max
	}
	if size <= uint64(len(files)) {
		return files
	}
	grown := make([]streamFile, size)
	copy(grown, files)
	return grown
}

// mintStreamID produces the unique stream identifier for a new create
// stream: "<repo>|<escaped-ns-path>|<sec>.<nsec>", with '/' of the namespace
// path rewritten to '#'. This is the only place streamids originate; every
// other path inherits the value from an FTAG.
func mintStreamID(ns *config.Namespace) (string, error) {
	repo, nspath, err := config.NSInfo(ns.IDStr)
	if err != nil {
		return "", fmt.Errorf("resolve namespace info: %w", err)
	}
	now := time.Now()
	escaped := strings.ReplaceAll(nspath, "/", "#")
	return fmt.Sprintf("%s|%s|%d.%d", repo, escaped, now.Unix(), now.Nanosecond()), nil
}

// free aborts any active object handle and closes every metadata handle.
// Safe on partially constructed streams.
func (s *Stream) free() {
	if s.data != nil {
		s.data.Abort()
		s.data = nil
	}
	for i := range s.files {
		if s.files[i].handle != nil {
			s.files[i].handle.Close()
			s.files[i].handle = nil
		}
	}
	s.terminal = true
}

// genStream builds a stream of the given type against pos, creating or
// opening the first target file.
func genStream(stype StreamType, path string, pos *Position, mode uint32, ctag string) (*Stream, error) {
	s := &Stream{
		stype: stype,
		ns:    pos.NS,
		ctxt:  pos.Ctxt,
	}
	ds := &pos.NS.Repo.Data
	switch stype {
	case ReadStream, EditStream:
		// read streams reference a single file at a time; edit streams will
		// likely never hold more
		s.files = allocFiles(nil, 1)
	case CreateStream:
		s.files = allocFiles(nil, ds.ObjFiles)
	default:
		return nil, fmt.Errorf("%w: unsupported stream type %d", ErrInvalidArgument, stype)
	}

	if stype == CreateStream {
		if strings.ContainsAny(ctag, tagging.ReservedChars) || ctag == "" || len(ctag) > 32 {
			return nil, fmt.Errorf("%w: unusable client tag %q", ErrInvalidArgument, ctag)
		}
		s.ctag = ctag
		sid, err := mintStreamID(pos.NS)
		if err != nil {
			return nil, err
		}
		s.streamID = sid
		hlen, err := recovery.HeaderLen(s.ctag, s.streamID)
		if err != nil {
			return nil, fmt.Errorf("size recovery header: %w", err)
		}
		s.recoveryHeaderLen = hlen
		s.offset = hlen
		if err := s.createNewFile(path, mode); err != nil {
			s.free()
			return nil, err
		}
		return s, nil
	}

	// open an existing file and inherit stream identity from its FTAG
	if err := s.openExistingFile(path); err != nil {
		s.free()
		return nil, err
	}
	state := s.files[s.curFile].ftag.State
	if stype == EditStream &&
		state&tagging.StateWriteable == 0 &&
		state.DataState() != tagging.StateComp {
		s.free()
		return nil, fmt.Errorf("%w: cannot edit a non-complete, non-extended file", ErrPermission)
	}
	if stype == ReadStream && state&tagging.StateReadable == 0 {
		s.free()
		return nil, fmt.Errorf("%w: target file is not yet readable", ErrNotReadable)
	}
	return s, nil
}
