package datastream

import (
	"fmt"

	"github.com/dmp265/marfs/internal/metrics"
	"github.com/dmp265/marfs/internal/ne"
	"github.com/dmp265/marfs/internal/placement"
	"github.com/dmp265/marfs/internal/recovery"
	"github.com/dmp265/marfs/internal/tagging"
)

// openCurrentObj opens the object at the stream's cursor. Write handles emit
// the recovery header exactly once, leaving the cursor at the first payload
// byte; read handles seek to the cursor offset.
func (s *Stream) openCurrentObj() error {
	tgttag := s.files[s.curFile].ftag
	tgttag.ObjNo = s.objNo // the stream cursor, not the file's start object
	objname := tgttag.DataTgt()

	repo := s.ns.Repo
	loc := repo.Tables.ObjectLocation(objname)
	erasure := ne.Erasure{
		N:        tgttag.Protection.N,
		E:        tgttag.Protection.E,
		PartSize: tgttag.Protection.PartSize,
	}
	erasure.O = placement.RangeHash(objname, erasure.Width())

	mode := ne.ModeWrite
	if s.stype == ReadStream {
		mode = ne.ModeRead
	}
	handle, err := repo.NE.Open(objname, loc, erasure, mode)
	if err != nil {
		return fmt.Errorf("open object %q: %w", objname, scrub(err))
	}

	if s.stype == ReadStream {
		if s.offset != 0 {
			if _, err := handle.Seek(s.offset); err != nil {
				handle.Abort()
				return fmt.Errorf("seek object %q to %d: %w", objname, s.offset, scrub(err))
			}
		}
		s.data = handle
		metrics.ObjectsOpened.WithLabelValues("read").Inc()
		return nil
	}

	// a write handle must start exactly past the recovery header
	if s.offset != s.recoveryHeaderLen {
		handle.Abort()
		return fmt.Errorf("stream offset %d does not match recovery header length %d", s.offset, s.recoveryHeaderLen)
	}
	header := recovery.Header{
		MajorVersion: recovery.MajorVersion,
		MinorVersion: recovery.MinorVersion,
		CTag:         s.ctag,
		StreamID:     s.streamID,
	}
	hstr, err := header.Encode()
	if err != nil {
		handle.Abort()
		return fmt.Errorf("encode recovery header: %w", err)
	}
	if uint64(len(hstr)) != s.recoveryHeaderLen {
		handle.Abort()
		return fmt.Errorf("recovery header length %d inconsistent with expected %d", len(hstr), s.recoveryHeaderLen)
	}
	if n, err := handle.Write([]byte(hstr)); err != nil || uint64(n) != s.recoveryHeaderLen {
		handle.Abort()
		return fmt.Errorf("write recovery header to %q: %w", objname, scrub(err))
	}
	s.data = handle
	metrics.ObjectsOpened.WithLabelValues("write").Inc()
	return nil
}

// closeCurrentObj closes the active object handle, if any. A degraded but
// durable close yields an encoded rebuild tag for the caller to attach; a
// close failure is returned after the handle is dropped unconditionally
// (never retried).
func (s *Stream) closeCurrentObj() (rtagstr string, err error) {
	if s.data == nil {
		return "", nil
	}
	state, err := s.data.Close()
	s.data = nil // never reattempt this handle
	if err != nil {
		metrics.ObjectsClosed.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("close object %d: %w", s.objNo, scrub(err))
	}
	if state == nil {
		metrics.ObjectsClosed.WithLabelValues("clean").Inc()
		return "", nil
	}
	// object synced, but with errors: record per-stripe state for repair
	metrics.ObjectsClosed.WithLabelValues("degraded").Inc()
	rtag := tagging.RTag{
		MajorVersion: tagging.RTagMajorVersion,
		MinorVersion: tagging.RTagMinorVersion,
		StripeWidth:  state.Blocks,
		PartSize:     state.PartSize,
		TotalSize:    state.TotalSize,
		DataHealth:   state.DataHealth,
		MetaHealth:   state.MetaHealth,
	}
	str, encErr := rtag.Encode()
	if encErr != nil {
		return "", fmt.Errorf("encode rebuild tag for object %d: %w", s.objNo, encErr)
	}
	return str, nil
}

// putFInfo writes the current file's recovery trailer, padded to exactly its
// FTAG reservation. Callers guarantee the object has that much capacity.
func (s *Stream) putFInfo() error {
	rbytes := s.files[s.curFile].ftag.RecoveryBytes
	buf, err := s.finfo.EncodePadded(rbytes)
	if err != nil {
		return err
	}
	if n, err := s.data.Write(buf); err != nil || uint64(n) != rbytes {
		return fmt.Errorf("store recovery trailer: %w", scrub(err))
	}
	s.offset += rbytes
	return nil
}
