package datastream

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/dmp265/marfs/internal/recovery"
	"github.com/dmp265/marfs/internal/tagging"
)

func mustFTag(t *testing.T, env *testEnv, userpath string) tagging.FTag {
	t.Helper()
	raw, ok := env.md.xattrOf(userpath, tagging.FTagName)
	if !ok {
		t.Fatalf("no %s xattr on %q", tagging.FTagName, userpath)
	}
	ftag, err := tagging.ParseFTag(string(raw))
	if err != nil {
		t.Fatalf("parse ftag of %q: %v", userpath, err)
	}
	return ftag
}

func fillPattern(n int, seed byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = seed + byte(i%251)
	}
	return buf
}

func writeAll(t *testing.T, s *Stream, data []byte) {
	t.Helper()
	n, err := s.Write(data)
	if err != nil {
		t.Fatalf("write %d bytes: %v", len(data), err)
	}
	if n != len(data) {
		t.Fatalf("short write: %d of %d", n, len(data))
	}
}

func TestPackThreeFilesInOneObject(t *testing.T) {
	env := newTestEnv(64*1024, 3)
	paths := []string{"f0", "f1", "f2"}
	var s *Stream
	var err error
	for _, p := range paths {
		s, err = Create(s, p, env.pos, 0o644, "client")
		if err != nil {
			t.Fatalf("create %q: %v", p, err)
		}
		writeAll(t, s, fillPattern(1024, 7))
	}
	if err := Close(s); err != nil {
		t.Fatalf("close stream: %v", err)
	}

	if got := env.objectCount(); got != 1 {
		t.Fatalf("expected 1 packed object, got %d", got)
	}

	var streamid string
	for i, p := range paths {
		ftag := mustFTag(t, env, p)
		if ftag.State.DataState() != tagging.StateComp || ftag.State&tagging.StateReadable == 0 {
			t.Errorf("%q: state %d not COMPLETE+READABLE", p, ftag.State)
		}
		if ftag.AvailBytes != 1024 {
			t.Errorf("%q: availbytes %d, want 1024", p, ftag.AvailBytes)
		}
		if ftag.FileNo != uint64(i) {
			t.Errorf("%q: fileno %d, want %d", p, ftag.FileNo, i)
		}
		if ftag.ObjNo != 0 {
			t.Errorf("%q: objno %d, want 0", p, ftag.ObjNo)
		}
		if streamid == "" {
			streamid = ftag.StreamID
		} else if ftag.StreamID != streamid {
			t.Errorf("%q: streamid %q differs from %q", p, ftag.StreamID, streamid)
		}
	}

	// exact object layout: header, then per file data + trailer
	ftag := mustFTag(t, env, "f0")
	hlen, err := recovery.HeaderLen(ftag.CTag, ftag.StreamID)
	if err != nil {
		t.Fatalf("header len: %v", err)
	}
	img := env.ne.objects[ftag.DataTgt()]
	want := hlen + 3*(1024+ftag.RecoveryBytes)
	if uint64(len(img)) != want {
		t.Fatalf("object size %d, want %d", len(img), want)
	}
	hdr, infos, err := recovery.ScanObject(img)
	if err != nil {
		t.Fatalf("scan object: %v", err)
	}
	if hdr.StreamID != streamid {
		t.Errorf("object header streamid %q, want %q", hdr.StreamID, streamid)
	}
	if len(infos) != 3 {
		t.Fatalf("expected 3 recovery trailers, found %d", len(infos))
	}
	for i, fi := range infos {
		if fi.Path != paths[i] {
			t.Errorf("trailer %d path %q, want %q", i, fi.Path, paths[i])
		}
		if !fi.EOF {
			t.Errorf("trailer %d should mark eof", i)
		}
	}
}

func TestPackRespectsObjFilesLimit(t *testing.T) {
	env := newTestEnv(1024*1024, 2)
	var s *Stream
	var err error
	for _, p := range []string{"a", "b", "c"} {
		s, err = Create(s, p, env.pos, 0o644, "client")
		if err != nil {
			t.Fatalf("create %q: %v", p, err)
		}
		writeAll(t, s, fillPattern(100, 3))
	}
	if err := Close(s); err != nil {
		t.Fatalf("close: %v", err)
	}
	a, b, c := mustFTag(t, env, "a"), mustFTag(t, env, "b"), mustFTag(t, env, "c")
	if a.ObjNo != 0 || b.ObjNo != 0 {
		t.Errorf("first two files should pack in object 0 (got %d, %d)", a.ObjNo, b.ObjNo)
	}
	if c.ObjNo != 1 {
		t.Errorf("third file should start object 1, got %d", c.ObjNo)
	}
	if env.objectCount() != 2 {
		t.Errorf("expected 2 objects, got %d", env.objectCount())
	}
}

func TestStripeLargeFileAcrossObjects(t *testing.T) {
	env := newTestEnv(8192, 0)
	payload := fillPattern(20000, 11)
	s, err := Create(nil, "big", env.pos, 0o644, "client")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	writeAll(t, s, payload)
	if err := Close(s); err != nil {
		t.Fatalf("close: %v", err)
	}

	ftag := mustFTag(t, env, "big")
	hlen, _ := recovery.HeaderLen(ftag.CTag, ftag.StreamID)
	dataPerObj := 8192 - hlen - ftag.RecoveryBytes
	wantObjs := int((uint64(len(payload)) + dataPerObj - 1) / dataPerObj)
	if env.objectCount() != wantObjs {
		t.Fatalf("expected %d objects, got %d", wantObjs, env.objectCount())
	}
	for objno := 0; objno < wantObjs; objno++ {
		tag := ftag
		tag.ObjNo = uint64(objno)
		img, ok := env.ne.objects[tag.DataTgt()]
		if !ok {
			t.Fatalf("object %d missing", objno)
		}
		if objno < wantObjs-1 {
			if uint64(len(img)) != 8192 {
				t.Errorf("object %d size %d, want 8192", objno, len(img))
			}
		} else {
			tail := uint64(len(payload)) - dataPerObj*uint64(wantObjs-1)
			if uint64(len(img)) != hlen+tail+ftag.RecoveryBytes {
				t.Errorf("final object size %d, want %d", len(img), hlen+tail+ftag.RecoveryBytes)
			}
		}
	}

	// byte-for-byte read back
	r, err := Open(nil, ReadStream, "big", env.pos)
	if err != nil {
		t.Fatalf("open read: %v", err)
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("read data differs from written data")
	}
	if err := Close(r); err != nil {
		t.Fatalf("close read stream: %v", err)
	}
}

func TestReadPackedNeighborsReusesStream(t *testing.T) {
	env := newTestEnv(64*1024, 4)
	var s *Stream
	var err error
	payloads := map[string][]byte{}
	for _, p := range []string{"p0", "p1", "p2"} {
		s, err = Create(s, p, env.pos, 0o644, "client")
		if err != nil {
			t.Fatalf("create %q: %v", p, err)
		}
		data := fillPattern(512, p[1])
		payloads[p] = data
		writeAll(t, s, data)
	}
	if err := Close(s); err != nil {
		t.Fatalf("close: %v", err)
	}

	var r *Stream
	for _, p := range []string{"p0", "p1", "p2"} {
		r, err = Open(r, ReadStream, p, env.pos)
		if err != nil {
			t.Fatalf("open %q: %v", p, err)
		}
		got := make([]byte, 512)
		if _, err := io.ReadFull(r, got); err != nil {
			t.Fatalf("read %q: %v", p, err)
		}
		if !bytes.Equal(got, payloads[p]) {
			t.Errorf("%q: read data differs", p)
		}
	}
	if err := Close(r); err != nil {
		t.Fatalf("close read stream: %v", err)
	}
}

func TestExtendReleaseThenEditResume(t *testing.T) {
	env := newTestEnv(4*1024*1024, 4)
	const length = 1 << 20

	s, err := Create(nil, "grow", env.pos, 0o644, "client")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Extend(length); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if err := Release(s); err != nil {
		t.Fatalf("release: %v", err)
	}

	ftag := mustFTag(t, env, "grow")
	if ftag.State.DataState() != tagging.StateFin || ftag.State&tagging.StateWriteable == 0 {
		t.Fatalf("released extended file state %d, want FINALIZED+WRITEABLE", ftag.State)
	}
	if ftag.AvailBytes != length {
		t.Fatalf("availbytes %d, want %d", ftag.AvailBytes, length)
	}

	e, err := Open(nil, EditStream, "grow", env.pos)
	if err != nil {
		t.Fatalf("open edit: %v", err)
	}
	payload := fillPattern(length, 42)
	writeAll(t, e, payload)
	if err := Close(e); err != nil {
		t.Fatalf("close edit: %v", err)
	}

	final := mustFTag(t, env, "grow")
	if final.State.DataState() != tagging.StateComp || final.State&tagging.StateReadable == 0 {
		t.Fatalf("final state %d, want COMPLETE+READABLE", final.State)
	}
	if final.AvailBytes != length {
		t.Fatalf("final availbytes %d, want %d", final.AvailBytes, length)
	}

	r, err := Open(nil, ReadStream, "grow", env.pos)
	if err != nil {
		t.Fatalf("open read: %v", err)
	}
	got := make([]byte, length)
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("read data differs from edited data")
	}
	Close(r)
}

func TestEditRequiresWriteableState(t *testing.T) {
	env := newTestEnv(64*1024, 4)
	s, err := Create(nil, "plain", env.pos, 0o644, "client")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	writeAll(t, s, fillPattern(100, 1))
	// still INIT/SIZED and not writeable from another handle
	if _, err := Open(nil, EditStream, "plain", env.pos); !errors.Is(err, ErrPermission) {
		t.Fatalf("edit of in-flight file: err %v, want ErrPermission", err)
	}
	if err := Close(s); err != nil {
		t.Fatalf("close: %v", err)
	}
	// once complete, edits are legal even without WRITEABLE
	e, err := Open(nil, EditStream, "plain", env.pos)
	if err != nil {
		t.Fatalf("edit of complete file: %v", err)
	}
	Release(e)
}

func TestReadRequiresReadableState(t *testing.T) {
	env := newTestEnv(64*1024, 4)
	s, err := Create(nil, "hidden", env.pos, 0o644, "client")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Extend(4096); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if err := Release(s); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := Open(nil, ReadStream, "hidden", env.pos); !errors.Is(err, ErrNotReadable) {
		t.Fatalf("read of unreadable file: err %v, want ErrNotReadable", err)
	}
}

func TestDegradedClosePromotesRTag(t *testing.T) {
	env := newTestEnv(64*1024, 3)
	env.ne.degradeCloses = true
	var s *Stream
	var err error
	paths := []string{"d0", "d1", "d2"}
	for _, p := range paths {
		s, err = Create(s, p, env.pos, 0o644, "client")
		if err != nil {
			t.Fatalf("create %q: %v", p, err)
		}
		writeAll(t, s, fillPattern(256, 9))
	}
	if err := Close(s); err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, p := range paths {
		raw, ok := env.md.xattrOf(p, tagging.RTagName)
		if !ok {
			t.Errorf("%q: missing %s xattr after degraded close", p, tagging.RTagName)
			continue
		}
		rtag, err := tagging.ParseRTag(string(raw))
		if err != nil {
			t.Errorf("%q: rtag does not round-trip: %v", p, err)
			continue
		}
		if rtag.DataHealth[0] {
			t.Errorf("%q: rtag should mark block 0 unhealthy", p)
		}
		// the tag round-trips bit for bit
		re, err := rtag.Encode()
		if err != nil || re != string(raw) {
			t.Errorf("%q: rtag re-encode mismatch (%v)", p, err)
		}
	}
}

func TestCreateCollisionReportsBusy(t *testing.T) {
	env := newTestEnv(64*1024, 3)
	env.md.refExistOnce = true
	refsBefore := len(env.md.refs)
	if _, err := Create(nil, "contended", env.pos, 0o644, "client"); !errors.Is(err, ErrBusy) {
		t.Fatalf("create with colliding reference: err %v, want ErrBusy", err)
	}
	if len(env.md.refs) != refsBefore {
		t.Errorf("loser left %d orphaned reference files", len(env.md.refs)-refsBefore)
	}
	if _, ok := env.md.users["contended"]; ok {
		t.Error("loser should not have linked the user path")
	}
}

func TestTruncateShrink(t *testing.T) {
	env := newTestEnv(64*1024, 3)
	payload := fillPattern(10000, 5)
	s, err := Create(nil, "trunc", env.pos, 0o644, "client")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	writeAll(t, s, payload)
	if err := Close(s); err != nil {
		t.Fatalf("close: %v", err)
	}
	objsBefore := env.objectCount()

	e, err := Open(nil, EditStream, "trunc", env.pos)
	if err != nil {
		t.Fatalf("open edit: %v", err)
	}
	if err := e.Truncate(4096); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if err := Close(e); err != nil {
		t.Fatalf("close edit: %v", err)
	}

	ftag := mustFTag(t, env, "trunc")
	if ftag.AvailBytes != 4096 {
		t.Fatalf("availbytes %d, want 4096", ftag.AvailBytes)
	}
	if env.objectCount() != objsBefore {
		t.Errorf("truncate should not touch stored objects")
	}

	r, err := Open(nil, ReadStream, "trunc", env.pos)
	if err != nil {
		t.Fatalf("open read: %v", err)
	}
	got := make([]byte, 10000)
	n, _ := r.Read(got)
	if n != 4096 {
		t.Fatalf("read %d bytes after truncate, want 4096", n)
	}
	if !bytes.Equal(got[:4096], payload[:4096]) {
		t.Error("surviving data differs")
	}
	if _, err := r.Read(got); err != io.EOF {
		t.Errorf("read past truncated end: err %v, want EOF", err)
	}
	Close(r)
}

func TestTruncateUpZeroFillsTail(t *testing.T) {
	env := newTestEnv(64*1024, 3)
	payload := fillPattern(1000, 8)
	s, err := Create(nil, "sparse", env.pos, 0o644, "client")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	writeAll(t, s, payload)
	if err := Close(s); err != nil {
		t.Fatalf("close: %v", err)
	}
	e, err := Open(nil, EditStream, "sparse", env.pos)
	if err != nil {
		t.Fatalf("open edit: %v", err)
	}
	// growing the reference leaves availbytes alone; the logical tail reads
	// as zeros
	if err := e.Truncate(3000); err != nil {
		t.Fatalf("truncate up: %v", err)
	}
	// release rather than close: completion re-truncates to availbytes
	if err := Release(e); err != nil {
		t.Fatalf("release edit: %v", err)
	}

	r, err := Open(nil, ReadStream, "sparse", env.pos)
	if err != nil {
		t.Fatalf("open read: %v", err)
	}
	got := make([]byte, 3000)
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got[:1000], payload) {
		t.Error("stored data differs")
	}
	for i := 1000; i < 3000; i++ {
		if got[i] != 0 {
			t.Fatalf("tail byte %d = %d, want zero fill", i, got[i])
		}
	}
	if _, err := r.Read(got); err != io.EOF {
		t.Errorf("second read past tail: err %v, want EOF", err)
	}
	Close(r)
}

func TestSeekReadStream(t *testing.T) {
	env := newTestEnv(8192, 0)
	payload := fillPattern(20000, 19)
	s, err := Create(nil, "seekme", env.pos, 0o644, "client")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	writeAll(t, s, payload)
	if err := Close(s); err != nil {
		t.Fatalf("close: %v", err)
	}
	r, err := Open(nil, ReadStream, "seekme", env.pos)
	if err != nil {
		t.Fatalf("open read: %v", err)
	}
	defer Close(r)

	if _, err := r.Seek(30000, io.SeekStart); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("seek past EOF: err %v, want ErrInvalidArgument", err)
	}
	pos, err := r.Seek(12345, io.SeekStart)
	if err != nil {
		t.Fatalf("seek: %v", err)
	}
	if pos != 12345 {
		t.Fatalf("seek returned %d, want 12345", pos)
	}
	got := make([]byte, 100)
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("read after seek: %v", err)
	}
	if !bytes.Equal(got, payload[12345:12445]) {
		t.Error("data after seek differs")
	}
}

func TestSeekWriteStreamBoundariesOnly(t *testing.T) {
	env := newTestEnv(8192, 0)
	payload := fillPattern(20000, 23)
	s, err := Create(nil, "chunked", env.pos, 0o644, "client")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	writeAll(t, s, payload)
	if err := Close(s); err != nil {
		t.Fatalf("close: %v", err)
	}

	ftag := mustFTag(t, env, "chunked")
	hlen, _ := recovery.HeaderLen(ftag.CTag, ftag.StreamID)
	dataPerObj := 8192 - hlen - ftag.RecoveryBytes

	e, err := Open(nil, EditStream, "chunked", env.pos)
	if err != nil {
		t.Fatalf("open edit: %v", err)
	}
	if _, err := e.Seek(int64(dataPerObj)+1, io.SeekStart); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("non-boundary seek: err %v, want ErrInvalidArgument", err)
	}
	if _, err := e.Seek(int64(dataPerObj), io.SeekStart); err != nil {
		t.Errorf("boundary seek: %v", err)
	}
	Release(e)
}

func TestChunkBounds(t *testing.T) {
	env := newTestEnv(8192, 0)
	payload := fillPattern(20000, 31)
	s, err := Create(nil, "chunks", env.pos, 0o644, "client")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	writeAll(t, s, payload)
	if err := Close(s); err != nil {
		t.Fatalf("close: %v", err)
	}
	r, err := Open(nil, ReadStream, "chunks", env.pos)
	if err != nil {
		t.Fatalf("open read: %v", err)
	}
	defer Close(r)

	ftag := mustFTag(t, env, "chunks")
	hlen, _ := recovery.HeaderLen(ftag.CTag, ftag.StreamID)
	dataPerObj := 8192 - hlen - ftag.RecoveryBytes

	off, size, err := r.ChunkBounds(0)
	if err != nil {
		t.Fatalf("chunk 0: %v", err)
	}
	if off != 0 || size != dataPerObj {
		t.Errorf("chunk 0 = (%d, %d), want (0, %d)", off, size, dataPerObj)
	}
	off, size, err = r.ChunkBounds(2)
	if err != nil {
		t.Fatalf("chunk 2: %v", err)
	}
	if off != 2*dataPerObj {
		t.Errorf("chunk 2 offset %d, want %d", off, 2*dataPerObj)
	}
	if size != 20000-2*dataPerObj {
		t.Errorf("chunk 2 size %d, want %d", size, 20000-2*dataPerObj)
	}
	if _, _, err := r.ChunkBounds(3); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("out-of-bounds chunk: err %v, want ErrInvalidArgument", err)
	}
}

func TestRecoveryPathTooLargeForObject(t *testing.T) {
	// an object too small for header + trailer is refused outright
	env := newTestEnv(64, 0)
	if _, err := Create(nil, "tiny", env.pos, 0o644, "client"); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("create with oversized recovery info: err %v, want ErrNameTooLong", err)
	}
}

func TestSetRecoveryPath(t *testing.T) {
	env := newTestEnv(64*1024, 3)
	s, err := Create(nil, "moveme", env.pos, 0o644, "client")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before := mustFTag(t, env, "moveme").RecoveryBytes
	longpath := "renamed/into/a/deeper/location/with/a/much/longer/path/moveme"
	if err := s.SetRecoveryPath(longpath); err != nil {
		t.Fatalf("set recovery path: %v", err)
	}
	after := mustFTag(t, env, "moveme").RecoveryBytes
	if after <= before {
		t.Errorf("recoverybytes %d should grow past %d for the longer path", after, before)
	}
	writeAll(t, s, fillPattern(64, 2))
	// after data exists the path is frozen
	if err := s.SetRecoveryPath("too/late"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("late recovery path change: err %v, want ErrInvalidArgument", err)
	}
	if err := Close(s); err != nil {
		t.Fatalf("close: %v", err)
	}
	movedFTag := mustFTag(t, env, "moveme")
	img := env.ne.objects[movedFTag.DataTgt()]
	_, infos, err := recovery.ScanObject(img)
	if err != nil || len(infos) != 1 {
		t.Fatalf("scan object: %v (%d trailers)", err, len(infos))
	}
	if infos[0].Path != longpath {
		t.Errorf("trailer path %q, want %q", infos[0].Path, longpath)
	}
}

func TestUtimensStashedUntilComplete(t *testing.T) {
	env := newTestEnv(64*1024, 3)
	s, err := Create(nil, "timed", env.pos, 0o644, "client")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	atime := time.Unix(1111111111, 0)
	mtime := time.Unix(2222222222, 500)
	if err := s.Utimens(atime, mtime); err != nil {
		t.Fatalf("utimens: %v", err)
	}
	writeAll(t, s, fillPattern(10, 1))
	if err := Close(s); err != nil {
		t.Fatalf("close: %v", err)
	}
	ctxt, _ := env.md.NewContext("/")
	st, err := ctxt.Stat("timed")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !st.MTime.Equal(mtime) || !st.ATime.Equal(atime) {
		t.Errorf("times (%v, %v), want (%v, %v)", st.ATime, st.MTime, atime, mtime)
	}
}

func TestCloseFailureMarksStreamStale(t *testing.T) {
	env := newTestEnv(64*1024, 3)
	s, err := Create(nil, "doomed", env.pos, 0o644, "client")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	writeAll(t, s, fillPattern(100, 6))
	env.ne.failClose = true
	if err := Close(s); !errors.Is(err, ErrStale) {
		t.Fatalf("close with failing object sync: err %v, want ErrStale", err)
	}
	// the file never became readable
	ftag := mustFTag(t, env, "doomed")
	if ftag.State&tagging.StateReadable != 0 {
		t.Error("file should not be readable after a failed close")
	}
}

func TestReleaseOfNonExtendedCreateIsInvalid(t *testing.T) {
	env := newTestEnv(64*1024, 3)
	s, err := Create(nil, "plainrel", env.pos, 0o644, "client")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	writeAll(t, s, fillPattern(10, 1))
	if err := Release(s); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("release of non-extended create file: err %v, want ErrInvalidArgument", err)
	}
}

func TestZeroByteFileStillCarriesTrailer(t *testing.T) {
	env := newTestEnv(64*1024, 3)
	s, err := Create(nil, "empty", env.pos, 0o644, "client")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := Close(s); err != nil {
		t.Fatalf("close: %v", err)
	}
	ftag := mustFTag(t, env, "empty")
	if ftag.AvailBytes != 0 {
		t.Errorf("availbytes %d, want 0", ftag.AvailBytes)
	}
	img, ok := env.ne.objects[ftag.DataTgt()]
	if !ok {
		t.Fatal("zero-byte file should still emit an object for its trailer")
	}
	hlen, _ := recovery.HeaderLen(ftag.CTag, ftag.StreamID)
	if uint64(len(img)) != hlen+ftag.RecoveryBytes {
		t.Errorf("object size %d, want header %d + trailer %d", len(img), hlen, ftag.RecoveryBytes)
	}
}
