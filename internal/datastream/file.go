package datastream

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dmp265/marfs/internal/mdal"
	"github.com/dmp265/marfs/internal/metrics"
	"github.com/dmp265/marfs/internal/recovery"
	"github.com/dmp265/marfs/internal/tagging"
)

// putFTag encodes and attaches a file's FTAG to its metadata reference.
func (s *Stream) putFTag(file *streamFile) error {
	val, err := file.ftag.Encode()
	if err != nil {
		return fmt.Errorf("encode ftag of file %d: %w", file.ftag.FileNo, err)
	}
	if err := file.handle.SetXattr(tagging.FTagName, []byte(val)); err != nil {
		return fmt.Errorf("attach ftag of file %d: %w", file.ftag.FileNo, scrub(err))
	}
	return nil
}

// getFTag retrieves and decodes a file's FTAG.
func (s *Stream) getFTag(file *streamFile) error {
	val, err := file.handle.GetXattr(tagging.FTagName)
	if err != nil {
		return fmt.Errorf("retrieve ftag: %w", scrub(err))
	}
	ftag, err := tagging.ParseFTag(string(val))
	if err != nil {
		return err
	}
	file.ftag = ftag
	return nil
}

// refPath resolves a file's FTAG to its reference-tree path.
func (s *Stream) refPath(file *streamFile) string {
	return s.ns.Repo.Tables.RefPath(&file.ftag)
}

// linkFile hard-links a reference file to its user path. An existing target
// is unlinked and the link retried once; a racing unlink by another proc is
// tolerated.
func (s *Stream) linkFile(refpath, tgtpath string) error {
	err := s.ctxt.LinkRef(refpath, tgtpath)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("link reference to %q: %w", tgtpath, scrub(err))
	}
	if err := s.ctxt.Unlink(tgtpath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		// ErrNotExist means another proc unlinked the conflict for us
		return fmt.Errorf("unlink existing %q: %w", tgtpath, scrub(err))
	}
	if err := s.ctxt.LinkRef(refpath, tgtpath); err != nil {
		// racing with another proc, or something more unusual
		return fmt.Errorf("link reference to %q after retry: %w", tgtpath, scrub(err))
	}
	return nil
}

// genRecoveryInfo stats the file's metadata reference and populates the
// stream's staged recovery info, sizing the file's trailer reservation when
// unset.
func (s *Stream) genRecoveryInfo(finfo *recovery.FInfo, file *streamFile, path string) error {
	st, err := file.handle.Stat()
	if err != nil {
		return fmt.Errorf("stat meta file for recovery info: %w", scrub(err))
	}
	finfo.Inode = st.Inode
	finfo.Mode = st.Mode
	finfo.UID = st.UID
	finfo.GID = st.GID
	finfo.Size = 0
	finfo.MTime = st.MTime
	finfo.EOF = false
	if s.stype == ReadStream {
		finfo.Size = uint64(st.Size)
		return nil
	}
	finfo.Path = path

	// align finalized file times with those recorded in recovery info
	file.atime = st.ATime
	file.mtime = st.MTime

	// size the trailer reservation; an inconsistent existing value surfaces
	// when the trailer is written out
	if file.ftag.RecoveryBytes == 0 {
		file.ftag.RecoveryBytes = finfo.EncodedLen()
	}
	return nil
}

// createNewFile creates the next reference file of a create stream at the
// stream's current position, installs its INIT FTAG, and links it at path.
// The caller must have set curFile/fileNo/objNo/offset to the new file's
// start position.
func (s *Stream) createNewFile(path string, mode uint32) error {
	ds := &s.ns.Repo.Data
	newfile := streamFile{
		ftag: tagging.FTag{
			MajorVersion: tagging.FTagMajorVersion,
			MinorVersion: tagging.FTagMinorVersion,
			CTag:         s.ctag,
			StreamID:     s.streamID,
			ObjFiles:     ds.ObjFiles,
			ObjSize:      ds.ObjSize,
			FileNo:       s.fileNo,
			ObjNo:        s.objNo,  // potentially shifted below
			Offset:       s.offset, // potentially shifted below
			Protection: tagging.Protection{
				N:        ds.Protection.N,
				E:        ds.Protection.E,
				PartSize: ds.Protection.PartSize,
			},
			State: tagging.StateInit,
		},
		doTimes: true,
	}

	refpath := s.refPath(&newfile)
	handle, err := s.ctxt.OpenRef(refpath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fs.FileMode(mode))
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			// a BUSY error is more indicative of the real problem
			return fmt.Errorf("%w: reference %q exists", ErrBusy, refpath)
		}
		return fmt.Errorf("create reference %q: %w", refpath, scrub(err))
	}
	newfile.handle = handle

	var newfinfo recovery.FInfo
	if err := s.genRecoveryInfo(&newfinfo, &newfile, path); err != nil {
		s.abandonRef(&newfile, refpath)
		return err
	}

	// the object must fit the header, this file's trailer, and some data
	if newfile.ftag.ObjSize != 0 && s.recoveryHeaderLen+newfile.ftag.RecoveryBytes >= newfile.ftag.ObjSize {
		s.abandonRef(&newfile, refpath)
		return fmt.Errorf("%w: header %d + trailer %d vs objsize %d",
			ErrNameTooLong, s.recoveryHeaderLen, newfile.ftag.RecoveryBytes, newfile.ftag.ObjSize)
	}

	// shift to a new object when the current one can't take this file
	if newfile.ftag.ObjSize != 0 && newfile.ftag.ObjSize-s.offset < newfile.ftag.RecoveryBytes {
		newfile.ftag.ObjNo++
		newfile.ftag.Offset = s.recoveryHeaderLen
	} else if newfile.ftag.ObjFiles != 0 && uint64(s.curFile) >= newfile.ftag.ObjFiles {
		newfile.ftag.ObjNo++
		newfile.ftag.Offset = s.recoveryHeaderLen
	}

	if err := s.putFTag(&newfile); err != nil {
		s.abandonRef(&newfile, refpath)
		return err
	}
	if err := s.linkFile(refpath, path); err != nil {
		s.abandonRef(&newfile, refpath)
		return err
	}

	if s.curFile >= len(s.files) {
		// one slot past the packing limit holds the file that forces the
		// object transition
		max := ds.ObjFiles
		if max != 0 {
			max++
		}
		s.files = allocFiles(s.files, max)
		if s.curFile >= len(s.files) {
			s.abandonRef(&newfile, refpath)
			return fmt.Errorf("file list exhausted at %d entries", len(s.files))
		}
	}

	s.files[s.curFile] = newfile
	s.finfo = newfinfo
	s.fileNo = newfile.ftag.FileNo
	s.objNo = newfile.ftag.ObjNo
	s.offset = newfile.ftag.Offset
	return nil
}

// abandonRef drops a half-created reference file.
func (s *Stream) abandonRef(file *streamFile, refpath string) {
	if file.handle != nil {
		file.handle.Close()
		file.handle = nil
	}
	s.ctxt.UnlinkRef(refpath)
}

// openExistingFile opens the metadata of an existing file into the current
// slot and aligns the stream with its FTAG.
func (s *Stream) openExistingFile(path string) error {
	flags := os.O_WRONLY
	if s.stype == ReadStream {
		flags = os.O_RDONLY
	}
	handle, err := s.ctxt.Open(path, flags)
	if err != nil {
		return fmt.Errorf("open metadata of %q: %w", path, scrub(err))
	}
	file := &s.files[s.curFile]
	file.handle = handle
	file.doTimes = false
	if err := s.getFTag(file); err != nil {
		handle.Close()
		file.handle = nil
		return fmt.Errorf("file %q: %w", path, err)
	}
	if err := s.genRecoveryInfo(&s.finfo, file, path); err != nil {
		handle.Close()
		file.handle = nil
		return err
	}
	// the stream inherits identity and position from the FTAG
	s.ctag = file.ftag.CTag
	s.streamID = file.ftag.StreamID
	s.fileNo = file.ftag.FileNo
	s.objNo = file.ftag.ObjNo
	s.offset = file.ftag.Offset
	hlen, err := recovery.HeaderLen(s.ctag, s.streamID)
	if err != nil {
		handle.Close()
		file.handle = nil
		return fmt.Errorf("size recovery header: %w", err)
	}
	s.recoveryHeaderLen = hlen
	return nil
}

// finFile finalizes the current file of a create stream: its trailer is
// emitted (opening the object for a zero-length file), or, for an extended
// file, the stream advances to the next object. The data state becomes
// FINALIZED exactly once.
func (s *Stream) finFile() error {
	file := &s.files[s.curFile]
	if file.ftag.State.DataState() >= tagging.StateFin {
		return nil
	}
	if file.ftag.Bytes == 0 && s.data == nil {
		// non-extended create file with no data: open the object so its
		// trailer still gets recorded
		if err := s.openCurrentObj(); err != nil {
			return fmt.Errorf("open object for zero-length file: %w", err)
		}
	}
	if s.data != nil {
		s.finfo.EOF = true
		s.finfo.Size = file.ftag.Bytes
		if err := s.putFInfo(); err != nil {
			s.finfo.EOF = false
			return fmt.Errorf("emit trailer of file %d: %w", file.ftag.FileNo, err)
		}
	} else {
		// an extended file can't pack, so proceed to the next object
		s.objNo++
		s.offset = s.recoveryHeaderLen
	}
	if file.ftag.AvailBytes < file.ftag.Bytes {
		file.ftag.AvailBytes = file.ftag.Bytes
	}
	file.ftag.State = tagging.StateFin | (file.ftag.State &^ tagging.StateDataMask)
	return nil
}

// completeFile drives one file to its terminal state: truncated to its
// available size, FTAG COMPLETE+READABLE, times applied, handle closed.
func (s *Stream) completeFile(file *streamFile) error {
	if file.handle == nil {
		return fmt.Errorf("file %d already closed", file.ftag.FileNo)
	}
	if file.ftag.State&tagging.StateWriteable != 0 && s.stype == CreateStream {
		return fmt.Errorf("cannot complete extended file %d from its create stream", file.ftag.FileNo)
	}
	if file.ftag.State.DataState() < tagging.StateFin && s.stype == EditStream {
		return fmt.Errorf("cannot complete non-finalized file %d from an edit stream", file.ftag.FileNo)
	}
	closeDrop := func() {
		file.handle.Close()
		file.handle = nil // never double close
	}
	file.ftag.State = (tagging.StateComp | tagging.StateReadable) | (file.ftag.State &^ tagging.StateDataMask)
	if err := file.handle.Truncate(int64(file.ftag.AvailBytes)); err != nil {
		closeDrop()
		return fmt.Errorf("truncate file %d: %w", file.ftag.FileNo, scrub(err))
	}
	if err := s.putFTag(file); err != nil {
		closeDrop()
		return err
	}
	if err := file.handle.SetTimes(file.atime, file.mtime); err != nil {
		closeDrop()
		return fmt.Errorf("set times on file %d: %w", file.ftag.FileNo, scrub(err))
	}
	if err := file.handle.Close(); err != nil {
		file.handle = nil
		return fmt.Errorf("close meta handle of file %d: %w", file.ftag.FileNo, scrub(err))
	}
	file.handle = nil
	metrics.FilesCompleted.Inc()
	return nil
}

// attachRTag records a rebuild tag on a file's metadata reference.
func attachRTag(handle mdal.Handle, rtagstr string) error {
	if err := handle.SetXattr(tagging.RTagName, []byte(rtagstr)); err != nil {
		return fmt.Errorf("attach rebuild tag: %w", scrub(err))
	}
	metrics.RebuildTags.Inc()
	return nil
}
