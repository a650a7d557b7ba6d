package datastream

import (
	"fmt"
	"io"
	"time"

	"github.com/dmp265/marfs/internal/metrics"
	"github.com/dmp265/marfs/internal/tagging"
)

// Create opens path for writing. When stream is a live create stream against
// the same namespace whose current file was not extended, the stream is
// continued: the previous file is finalized and, on an object transition, the
// whole packed prefix is completed. Otherwise the old stream is wound down
// and a fresh one is minted.
//
// The returned stream replaces the caller's handle. An ErrStale return means
// the passed stream was rendered unusable and dropped.
func Create(stream *Stream, path string, pos *Position, mode uint32, ctag string) (*Stream, error) {
	if path == "" || pos == nil || pos.NS == nil || pos.Ctxt == nil {
		return stream, fmt.Errorf("%w: missing path or position", ErrInvalidArgument)
	}
	var closeOld *Stream
	releaseOld := false
	newstream := stream
	if newstream != nil {
		if newstream.terminal || newstream.stype != CreateStream {
			return stream, fmt.Errorf("%w: not a usable create stream", ErrInvalidArgument)
		}
		switch {
		case newstream.ns != pos.NS:
			// can't continue a stream from a different namespace
			closeOld = newstream
			newstream = nil
		case newstream.files[newstream.curFile].ftag.State&tagging.StateWriteable != 0:
			// the current file was extended; it must be wound down by release
			closeOld = newstream
			releaseOld = true
			newstream = nil
		default:
			cont, err := createContinue(newstream, path, mode)
			if err != nil {
				return cont, err
			}
			newstream = cont
		}
	}
	if newstream == nil {
		var err error
		newstream, err = genStream(CreateStream, path, pos, mode, ctag)
		if err != nil && closeOld == nil {
			return nil, err
		}
		if err != nil {
			// still wind down the old stream before reporting
			windDown(closeOld, releaseOld)
			return nil, err
		}
	}
	if closeOld != nil {
		if err := windDown(closeOld, releaseOld); err != nil {
			newstream.free()
			return nil, fmt.Errorf("%w: previous stream teardown failed: %s", ErrStale, err.Error())
		}
	}
	return newstream, nil
}

func windDown(s *Stream, release bool) error {
	if release {
		return Release(s)
	}
	return Close(s)
}

// createContinue extends a live create stream with one more file.
func createContinue(s *Stream, path string, mode uint32) (*Stream, error) {
	curobj := s.objNo
	if err := s.finFile(); err != nil {
		s.free()
		return nil, fmt.Errorf("%w: finalize previous file: %s", ErrStale, err.Error())
	}
	s.curFile++
	s.fileNo++
	if err := s.createNewFile(path, mode); err != nil {
		// roll back; the stream remains valid at its current position
		s.curFile--
		s.fileNo--
		return s, err
	}
	newfilepos := s.curFile
	if s.files[newfilepos].ftag.ObjNo != curobj {
		// object transition: the packed prefix is done
		rtagstr, err := s.closeCurrentObj()
		if err != nil {
			s.free()
			return nil, fmt.Errorf("%w: %s", ErrStale, err.Error())
		}
		failed := false
		for s.curFile > 0 {
			s.curFile--
			compfile := &s.files[s.curFile]
			if rtagstr != "" {
				if err := attachRTag(compfile.handle, rtagstr); err != nil {
					failed = true
					continue
				}
			}
			if err := s.completeFile(compfile); err != nil {
				failed = true
			}
		}
		// shift the new file reference to the front of the list
		s.files[0] = s.files[newfilepos]
		s.files[newfilepos] = streamFile{}
		if failed {
			s.free()
			return nil, fmt.Errorf("%w: failed completing packed files", ErrStale)
		}
	} else {
		// at least push out the FINALIZED state of the previous file
		if err := s.putFTag(&s.files[s.curFile-1]); err != nil {
			s.free()
			return nil, fmt.Errorf("%w: persist finalized ftag: %s", ErrStale, err.Error())
		}
	}
	return s, nil
}

// Open opens path for reading or editing. Edit requires a WRITEABLE
// (extended) file or a COMPLETE one; read requires READABLE. A read stream may be
// reused across files of the same object without reopening it.
//
// The returned stream replaces the caller's handle, as with Create.
func Open(stream *Stream, stype StreamType, path string, pos *Position) (*Stream, error) {
	if stype != EditStream && stype != ReadStream {
		return stream, fmt.Errorf("%w: unsupported stream type %s", ErrInvalidArgument, stype)
	}
	if path == "" || pos == nil || pos.NS == nil || pos.Ctxt == nil {
		return stream, fmt.Errorf("%w: missing path or position", ErrInvalidArgument)
	}
	var closeOld *Stream
	newstream := stream
	if newstream != nil {
		if newstream.terminal || newstream.stype != stype {
			return stream, fmt.Errorf("%w: stream does not match requested type", ErrInvalidArgument)
		}
		if newstream.ns != pos.NS || stype == EditStream {
			// edits carry nothing useful between files; mismatched namespaces
			// can't be continued at all
			closeOld = newstream
			newstream = nil
		} else {
			cont, err := readContinue(newstream, path)
			if err != nil {
				return cont, err
			}
			newstream = cont
		}
	}
	if newstream == nil {
		var err error
		newstream, err = genStream(stype, path, pos, 0, "")
		if err != nil {
			if closeOld != nil {
				Release(closeOld)
			}
			return nil, err
		}
	}
	if closeOld != nil {
		if err := Release(closeOld); err != nil {
			newstream.free()
			return nil, fmt.Errorf("%w: previous stream release failed: %s", ErrStale, err.Error())
		}
	}
	return newstream, nil
}

// readContinue retargets a read stream at another file, keeping the data
// handle when the new file shares the current object.
func readContinue(s *Stream, path string) (*Stream, error) {
	oldfile := s.files[s.curFile]
	oldObjNo, oldOffset := s.objNo, s.offset
	s.curFile++
	if s.curFile >= len(s.files) {
		s.files = allocFiles(s.files, 0)
	}
	if err := s.openExistingFile(path); err != nil {
		s.curFile--
		s.objNo, s.offset = oldObjNo, oldOffset
		return s, err
	}
	newfile := &s.files[s.curFile]
	if newfile.ftag.State&tagging.StateReadable == 0 {
		newfile.handle.Close()
		s.files[s.curFile] = streamFile{}
		s.curFile--
		s.objNo, s.offset = oldObjNo, oldOffset
		return s, fmt.Errorf("%w: target file is not yet readable", ErrNotReadable)
	}
	sameObject := oldfile.ftag.StreamID == newfile.ftag.StreamID &&
		oldfile.ftag.CTag == newfile.ftag.CTag &&
		oldfile.ftag.ObjNo == newfile.ftag.ObjNo
	if sameObject {
		// packed neighbor: keep the object handle, repositioned at the new
		// file's data
		s.objNo = newfile.ftag.ObjNo
		s.offset = newfile.ftag.Offset
		if s.data != nil {
			if _, err := s.data.Seek(s.offset); err != nil {
				s.free()
				return nil, fmt.Errorf("%w: reposition object handle: %s", ErrStale, err.Error())
			}
		}
	} else {
		rtagstr, err := s.closeCurrentObj()
		if err != nil {
			s.free()
			return nil, fmt.Errorf("%w: %s", ErrStale, err.Error())
		}
		if rtagstr != "" {
			if err := attachRTag(oldfile.handle, rtagstr); err != nil {
				s.free()
				return nil, fmt.Errorf("%w: %s", ErrStale, err.Error())
			}
		}
	}
	s.zeroTail = 0
	// retire the old reference and move the new file to the front
	oldfile.handle.Close()
	s.files[s.curFile-1] = *newfile
	*newfile = streamFile{}
	s.curFile--
	return s, nil
}

// Release winds a stream down without completing its files. For a create
// stream this is only legal on an extended (WRITEABLE) file, which stays
// finalized for later parallel writers; for an edit stream it flushes the
// current trailer. The stream is always consumed.
func Release(s *Stream) error {
	if s == nil {
		return fmt.Errorf("%w: nil stream", ErrInvalidArgument)
	}
	if s.terminal {
		return fmt.Errorf("%w: stream already terminal", ErrInvalidArgument)
	}
	curfile := &s.files[s.curFile]
	if s.stype == CreateStream {
		// only a file meant for later concurrent extension may be released
		if curfile.ftag.State&tagging.StateWriteable == 0 || s.curFile != 0 {
			s.free()
			return fmt.Errorf("%w: cannot release a non-extended file", ErrInvalidArgument)
		}
		if err := s.finFile(); err != nil {
			s.free()
			return fmt.Errorf("%w: finalize file: %s", ErrStale, err.Error())
		}
	} else if s.stype == EditStream {
		if s.data != nil {
			if err := s.putFInfo(); err != nil {
				s.free()
				return fmt.Errorf("%w: emit trailer: %s", ErrStale, err.Error())
			}
		}
	}
	rtagstr, err := s.closeCurrentObj()
	failed := err != nil
	if !failed && rtagstr != "" && curfile.handle != nil {
		failed = attachRTag(curfile.handle, rtagstr) != nil
	}
	if !failed && s.stype == CreateStream {
		failed = s.putFTag(curfile) != nil
	}
	if !failed && (s.stype == CreateStream || curfile.doTimes) && curfile.handle != nil {
		failed = curfile.handle.SetTimes(curfile.atime, curfile.mtime) != nil
	}
	s.free()
	if failed {
		return fmt.Errorf("%w: stream teardown failed", ErrStale)
	}
	return nil
}

// Close finishes a stream, completing every tracked file: COMPLETE+READABLE
// state, reference truncation, timestamps. Closing a create stream whose
// current file was extended is forbidden; release handles those. The stream
// is always consumed.
func Close(s *Stream) error {
	if s == nil {
		return fmt.Errorf("%w: nil stream", ErrInvalidArgument)
	}
	if s.terminal {
		return fmt.Errorf("%w: stream already terminal", ErrInvalidArgument)
	}
	curfile := &s.files[s.curFile]
	if s.stype == CreateStream {
		if curfile.ftag.State&tagging.StateWriteable != 0 {
			s.free()
			return fmt.Errorf("%w: cannot close an extended file", ErrInvalidArgument)
		}
		curfile.ftag.EndOfStream = true
		if err := s.finFile(); err != nil {
			s.free()
			return fmt.Errorf("%w: finalize file: %s", ErrStale, err.Error())
		}
	} else if s.stype == EditStream {
		state := curfile.ftag.State
		finalized := state&tagging.StateWriteable != 0 && state.DataState() == tagging.StateFin
		if !finalized && state.DataState() != tagging.StateComp {
			s.free()
			return fmt.Errorf("%w: cannot close a non-finalized, non-complete file", ErrInvalidArgument)
		}
		if s.data != nil {
			s.finfo.EOF = true
			s.finfo.Size = curfile.ftag.Bytes
			if err := s.putFInfo(); err != nil {
				s.free()
				return fmt.Errorf("%w: emit trailer: %s", ErrStale, err.Error())
			}
		}
	}
	rtagstr, err := s.closeCurrentObj()
	if err != nil {
		s.free()
		return fmt.Errorf("%w: %s", ErrStale, err.Error())
	}
	failed := false
	for i := s.curFile; i >= 0; i-- {
		compfile := &s.files[i]
		if compfile.handle == nil {
			continue
		}
		if rtagstr != "" {
			if err := attachRTag(compfile.handle, rtagstr); err != nil {
				failed = true
				continue
			}
		}
		if s.stype != ReadStream {
			if err := s.completeFile(compfile); err != nil {
				failed = true
			}
		}
	}
	s.free()
	if failed {
		return fmt.Errorf("%w: failed completing stream files", ErrStale)
	}
	return nil
}

// Read copies file content into p, crossing object boundaries as needed.
// Content beyond the file's stored data but within its logical size is
// zero-filled.
func (s *Stream) Read(p []byte) (int, error) {
	if s == nil || s.terminal {
		return 0, fmt.Errorf("%w: unusable stream", ErrInvalidArgument)
	}
	if s.stype != ReadStream {
		return 0, fmt.Errorf("%w: stream does not support reading", ErrInvalidArgument)
	}
	curfile := &s.files[s.curFile]
	tgt, err := s.getTargets(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	// bound the request by the file's logical size; the tail past the stored
	// data zero-fills. zeroTail tracks progress through that tail across
	// repeated near-EOF reads.
	count := uint64(len(p))
	logical := curfile.ftag.AvailBytes
	if s.finfo.Size > logical {
		logical = s.finfo.Size
	}
	pos := (curfile.ftag.AvailBytes - tgt.remaining) + s.zeroTail
	if pos >= logical {
		return 0, io.EOF
	}
	if count > logical-pos {
		count = logical - pos
	}
	zerotail := uint64(0)
	if count > tgt.remaining {
		zerotail = count - tgt.remaining
		count = tgt.remaining
	}

	readbytes := 0
	for count > 0 {
		toread := tgt.dataPerObj - (s.offset - s.recoveryHeaderLen)
		if toread == 0 {
			// exhausted the current object; progress to the next
			rtagstr, err := s.closeCurrentObj()
			if err == nil && rtagstr != "" {
				err = attachRTag(curfile.handle, rtagstr)
			}
			if err != nil {
				return readbytes, scrub(err)
			}
			s.objNo++
			s.offset = s.recoveryHeaderLen
			toread = tgt.dataPerObj
		}
		if toread > count {
			toread = count
		}
		if s.data == nil {
			if err := s.openCurrentObj(); err != nil {
				if readbytes > 0 {
					return readbytes, nil
				}
				return 0, err
			}
		}
		n, err := s.data.Read(p[readbytes : readbytes+int(toread)])
		if n <= 0 {
			if readbytes > 0 {
				return readbytes, nil
			}
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			return 0, fmt.Errorf("read object %d at offset %d: %w", s.objNo, s.offset, scrub(err))
		}
		readbytes += n
		count -= uint64(n)
		s.offset += uint64(n)
	}

	for i := uint64(0); i < zerotail; i++ {
		p[uint64(readbytes)+i] = 0
	}
	readbytes += int(zerotail)
	s.zeroTail += zerotail
	metrics.BytesRead.Add(float64(readbytes))
	return readbytes, nil
}

// Write appends (create) or fills (edit) file content, emitting trailers and
// rolling objects as capacity runs out. Edit writes never spill past the
// file's existing data extent.
func (s *Stream) Write(p []byte) (int, error) {
	if s == nil || s.terminal {
		return 0, fmt.Errorf("%w: unusable stream", ErrInvalidArgument)
	}
	if s.stype != CreateStream && s.stype != EditStream {
		return 0, fmt.Errorf("%w: stream does not support writing", ErrInvalidArgument)
	}
	curfile := &s.files[s.curFile]
	tgt, err := s.getTargets(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	size := uint64(len(p))
	if s.stype == EditStream {
		if curfile.ftag.State&tagging.StateWriteable == 0 {
			return 0, fmt.Errorf("%w: file is not open for parallel write access", ErrPermission)
		}
		remaining := tgt.remaining
		if curfile.ftag.State.DataState() < tagging.StateFin {
			// the unbounded final chunk belongs to the create stream
			remaining -= remaining % tgt.dataPerObj
		}
		if size > remaining {
			size = remaining
		}
	}

	written := uint64(0)
	finish := func() {
		if s.stype == CreateStream && written > 0 {
			curfile.ftag.Bytes += written
			if curfile.ftag.State.DataState() == tagging.StateInit {
				curfile.ftag.State = tagging.StateSized | (curfile.ftag.State &^ tagging.StateDataMask)
			}
		}
		metrics.BytesWritten.Add(float64(written))
	}
	for size > 0 {
		if s.data == nil {
			if err := s.openCurrentObj(); err != nil {
				finish()
				return int(written), err
			}
		}
		canwrite := tgt.dataPerObj - (s.offset - s.recoveryHeaderLen)
		if canwrite == 0 {
			// object is full: trailer, close, move on
			s.finfo.Size = curfile.ftag.Bytes + written
			if err := s.putFInfo(); err != nil {
				finish()
				s.free()
				return int(written), fmt.Errorf("%w: emit intermediate trailer: %s", ErrStale, err.Error())
			}
			rtagstr, err := s.closeCurrentObj()
			if err != nil {
				finish()
				s.free()
				return int(written), fmt.Errorf("%w: %s", ErrStale, err.Error())
			}
			if rtagstr != "" {
				for i := 0; i <= s.curFile; i++ {
					if s.files[i].handle == nil {
						continue
					}
					if err := attachRTag(s.files[i].handle, rtagstr); err != nil {
						finish()
						s.free()
						return int(written), fmt.Errorf("%w: %s", ErrStale, err.Error())
					}
				}
			}
			s.objNo++
			s.offset = s.recoveryHeaderLen
			continue
		}
		chunk := canwrite
		if chunk > size {
			chunk = size
		}
		n, err := s.data.Write(p[written : written+chunk])
		if n <= 0 {
			finish()
			s.free()
			return int(written), fmt.Errorf("%w: write object %d: %s", ErrStale, s.objNo, errString(err))
		}
		written += uint64(n)
		size -= uint64(n)
		s.offset += uint64(n)
	}
	finish()
	return int(written), nil
}

func errString(err error) string {
	if err == nil {
		return "short write"
	}
	return err.Error()
}

// Seek repositions the stream within the current file. Read streams may land
// anywhere inside the file; edit streams only at object boundaries; create
// streams cannot seek. Seeking past EOF is refused.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	if s == nil || s.terminal {
		return 0, fmt.Errorf("%w: unusable stream", ErrInvalidArgument)
	}
	if s.stype == CreateStream {
		return 0, fmt.Errorf("%w: create streams cannot seek", ErrInvalidArgument)
	}
	curfile := &s.files[s.curFile]
	tgt, err := s.getTargets(offset, whence)
	if err != nil {
		return 0, err
	}
	if s.stype != ReadStream && tgt.offset != 0 {
		return 0, fmt.Errorf("%w: seek target does not align with object boundaries", ErrInvalidArgument)
	}
	// the final chunk of an unbounded file belongs to its create stream
	if curfile.ftag.State.DataState() < tagging.StateFin && tgt.remaining < tgt.dataPerObj {
		return 0, fmt.Errorf("%w: unbounded final chunk is not accessible", ErrInvalidArgument)
	}
	objOffset := tgt.offset + s.recoveryHeaderLen
	if tgt.objNo != s.objNo && s.data != nil {
		if s.stype != ReadStream {
			if err := s.putFInfo(); err != nil {
				s.free()
				return 0, fmt.Errorf("%w: emit trailer: %s", ErrStale, err.Error())
			}
		}
		rtagstr, err := s.closeCurrentObj()
		if err == nil && rtagstr != "" && curfile.handle != nil {
			err = attachRTag(curfile.handle, rtagstr)
		}
		if err != nil {
			s.free()
			return 0, fmt.Errorf("%w: %s", ErrStale, err.Error())
		}
	} else if tgt.objNo == s.objNo && s.data != nil && s.stype == ReadStream {
		// reposition the open object handle
		if _, err := s.data.Seek(objOffset); err != nil {
			return 0, fmt.Errorf("seek object %d: %w", s.objNo, scrub(err))
		}
	}
	s.objNo = tgt.objNo
	s.offset = objOffset
	s.zeroTail = 0
	return int64(curfile.ftag.AvailBytes - tgt.remaining), nil
}

// Extend grows the current file of a create stream by length bytes without
// writing data, marking it SIZED and WRITEABLE for later parallel writers.
// Only legal before any data exists or exactly at an object boundary; the
// file leaves any packed region, and previously packed files are completed.
func (s *Stream) Extend(length uint64) error {
	if s == nil || s.terminal {
		return fmt.Errorf("%w: unusable stream", ErrInvalidArgument)
	}
	if s.stype != CreateStream {
		return fmt.Errorf("%w: only create streams can extend", ErrInvalidArgument)
	}
	curfile := &s.files[s.curFile]
	tgt, err := s.getTargets(0, io.SeekStart)
	if err != nil {
		return err
	}
	atFullBoundary := s.data != nil && s.offset == s.recoveryHeaderLen+tgt.dataPerObj
	switch {
	case curfile.ftag.Bytes == 0:
		if s.offset != s.recoveryHeaderLen || s.curFile != 0 {
			// leave the packed region for a fresh object
			curfile.ftag.ObjNo = s.objNo + 1
			curfile.ftag.Offset = s.recoveryHeaderLen
		}
	case atFullBoundary:
		// the current object is exactly full; its trailer still needs to go out
		s.finfo.Size = curfile.ftag.Bytes
		if err := s.putFInfo(); err != nil {
			s.free()
			return fmt.Errorf("%w: emit trailer: %s", ErrStale, err.Error())
		}
	case s.offset == s.recoveryHeaderLen && s.data == nil:
		// freshly rolled onto a boundary; nothing to flush
	default:
		return fmt.Errorf("%w: existing data does not align with object boundaries", ErrInvalidArgument)
	}

	rtagstr, err := s.closeCurrentObj()
	if err != nil {
		s.free()
		return fmt.Errorf("%w: %s", ErrStale, err.Error())
	}
	failed := false
	if rtagstr != "" {
		for i := 0; i <= s.curFile; i++ {
			if s.files[i].handle == nil {
				continue
			}
			if err := attachRTag(s.files[i].handle, rtagstr); err != nil {
				failed = true
			}
		}
	}
	// complete the packed prefix; the extended file moves to the front
	for i := 0; i < s.curFile && !failed; i++ {
		if err := s.completeFile(&s.files[i]); err != nil {
			failed = true
		}
	}
	if failed {
		s.free()
		return fmt.Errorf("%w: failed completing packed files", ErrStale)
	}
	if s.curFile > 0 {
		s.files[0] = *curfile
		s.files[s.curFile] = streamFile{}
		s.curFile = 0
		curfile = &s.files[0]
	}

	switch {
	case curfile.ftag.Bytes == 0:
		s.objNo = curfile.ftag.ObjNo
		s.offset = curfile.ftag.Offset
	case atFullBoundary:
		s.objNo++
		s.offset = s.recoveryHeaderLen
	default:
		// cursor already rolled onto the boundary
		s.offset = s.recoveryHeaderLen
	}

	curfile.ftag.Bytes += length
	curfile.ftag.AvailBytes += length
	if curfile.ftag.State.DataState() < tagging.StateSized {
		curfile.ftag.State = tagging.StateSized | (curfile.ftag.State &^ tagging.StateDataMask)
	}
	curfile.ftag.State |= tagging.StateWriteable
	if err := s.putFTag(curfile); err != nil {
		s.free()
		return fmt.Errorf("%w: persist extended ftag: %s", ErrStale, err.Error())
	}
	return nil
}

// Truncate reduces the caller-visible size of a complete file. The stored
// objects are untouched; growth requests only adjust the reference file,
// leaving a zero-filled logical tail.
func (s *Stream) Truncate(length uint64) error {
	if s == nil || s.terminal {
		return fmt.Errorf("%w: unusable stream", ErrInvalidArgument)
	}
	if s.stype != EditStream {
		return fmt.Errorf("%w: only edit streams can truncate", ErrInvalidArgument)
	}
	curfile := &s.files[s.curFile]
	if curfile.ftag.State.DataState() != tagging.StateComp {
		return fmt.Errorf("%w: cannot truncate an incomplete file", ErrPermission)
	}
	oldavail := curfile.ftag.AvailBytes
	if length < curfile.ftag.AvailBytes {
		curfile.ftag.AvailBytes = length
	}
	if err := s.putFTag(curfile); err != nil {
		curfile.ftag.AvailBytes = oldavail
		return err
	}
	if err := curfile.handle.Truncate(int64(length)); err != nil {
		return fmt.Errorf("truncate reference file: %w", scrub(err))
	}
	return nil
}

// Utimens sets the file's atime/mtime. Edit streams apply immediately (the
// file must be complete); create streams stash the values for application at
// completion.
func (s *Stream) Utimens(atime, mtime time.Time) error {
	if s == nil || s.terminal {
		return fmt.Errorf("%w: unusable stream", ErrInvalidArgument)
	}
	if s.stype == ReadStream {
		return fmt.Errorf("%w: read streams cannot set times", ErrInvalidArgument)
	}
	curfile := &s.files[s.curFile]
	if s.stype == EditStream {
		if curfile.ftag.State.DataState() != tagging.StateComp {
			return fmt.Errorf("%w: cannot set times on an incomplete file", ErrPermission)
		}
		if err := curfile.handle.SetTimes(atime, mtime); err != nil {
			return fmt.Errorf("set times: %w", scrub(err))
		}
		return nil
	}
	curfile.atime = atime
	curfile.mtime = mtime
	curfile.doTimes = true
	return nil
}

// SetRecoveryPath replaces the path recorded in the file's recovery trailer.
// Create streams may enlarge the trailer reservation before any data exists;
// edit streams must fit the existing reservation.
func (s *Stream) SetRecoveryPath(path string) error {
	if s == nil || s.terminal {
		return fmt.Errorf("%w: unusable stream", ErrInvalidArgument)
	}
	if path == "" {
		return fmt.Errorf("%w: empty recovery path", ErrInvalidArgument)
	}
	if s.stype != CreateStream && s.stype != EditStream {
		return fmt.Errorf("%w: stream type does not carry recovery info", ErrInvalidArgument)
	}
	curfile := &s.files[s.curFile]
	if s.stype == CreateStream && curfile.ftag.Bytes != 0 {
		return fmt.Errorf("%w: recovery path is fixed once data is laid out", ErrInvalidArgument)
	}
	newfinfo := s.finfo
	newfinfo.Path = path
	newlen := newfinfo.EncodedLen()
	if s.stype == EditStream {
		if newlen > curfile.ftag.RecoveryBytes {
			return fmt.Errorf("%w: new recovery path needs %d bytes, reservation is %d",
				ErrNameTooLong, newlen, curfile.ftag.RecoveryBytes)
		}
		s.finfo = newfinfo
		return nil
	}
	if curfile.ftag.ObjSize != 0 && s.recoveryHeaderLen+newlen >= curfile.ftag.ObjSize {
		return fmt.Errorf("%w: new recovery info does not fit the object size", ErrNameTooLong)
	}
	if newlen != curfile.ftag.RecoveryBytes {
		oldlen := curfile.ftag.RecoveryBytes
		curfile.ftag.RecoveryBytes = newlen
		if err := s.putFTag(curfile); err != nil {
			curfile.ftag.RecoveryBytes = oldlen
			return err
		}
	}
	s.finfo = newfinfo
	return nil
}

// ChunkBounds reports the file-relative offset and size of the file's nth
// data region, excluding recovery headers and trailers. Intended for
// diagnostics and parallel-transfer planning.
func (s *Stream) ChunkBounds(n int) (offset, size uint64, err error) {
	if s == nil || s.terminal {
		return 0, 0, fmt.Errorf("%w: unusable stream", ErrInvalidArgument)
	}
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: negative chunk number", ErrInvalidArgument)
	}
	tgt, err := s.getTargets(0, io.SeekStart)
	if err != nil {
		return 0, 0, err
	}
	startoff := tgt.offset
	totsz := tgt.remaining
	switch {
	case n == 0:
		offset = 0
		size = tgt.dataPerObj - startoff
	case uint64(n) <= (totsz+startoff)/tgt.dataPerObj:
		offset = uint64(n)*tgt.dataPerObj - startoff
		size = tgt.dataPerObj
	default:
		return 0, 0, fmt.Errorf("%w: chunk %d is out of bounds", ErrInvalidArgument, n)
	}
	if s.stype == CreateStream {
		// create streams see maximum chunk capacity, assuming expansion
		return offset, size, nil
	}
	if offset+size > totsz {
		state := s.files[s.curFile].ftag.State.DataState()
		if state == tagging.StateSized || state == tagging.StateInit {
			// the unbounded final chunk is off limits outside the create stream
			size = 0
		} else {
			size = totsz - offset
		}
	}
	return offset, size, nil
}
