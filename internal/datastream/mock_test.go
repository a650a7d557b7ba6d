package datastream

import (
	"bytes"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/dmp265/marfs/internal/config"
	"github.com/dmp265/marfs/internal/mdal"
	"github.com/dmp265/marfs/internal/ne"
	"github.com/dmp265/marfs/internal/placement"
)

// fakeMDAL keeps a single-namespace metadata tree in memory.
type fakeMDAL struct {
	mu      sync.Mutex
	nextIno uint64
	inodes  map[uint64]*fakeInode
	refs    map[string]uint64
	users   map[string]uint64

	// refExistOnce makes the next exclusive OpenRef collide, simulating a
	// racing stream that derived the same reference path.
	refExistOnce bool
}

type fakeInode struct {
	mode   uint32
	size   int64
	atime  time.Time
	mtime  time.Time
	xattrs map[string][]byte
}

func newFakeMDAL() *fakeMDAL {
	return &fakeMDAL{
		inodes: map[uint64]*fakeInode{},
		refs:   map[string]uint64{},
		users:  map[string]uint64{},
	}
}

func (m *fakeMDAL) NewContext(nspath string) (mdal.Context, error) { return &fakeCtxt{m: m}, nil }

func (m *fakeMDAL) Verify(nspath string, refdirs []string, fix bool) error { return nil }

func (m *fakeMDAL) Close() error { return nil }

type fakeCtxt struct {
	m *fakeMDAL
}

func (c *fakeCtxt) OpenRef(refpath string, flags int, mode fs.FileMode) (mdal.Handle, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if ino, ok := c.m.refs[refpath]; ok {
		if flags&os.O_EXCL != 0 {
			return nil, fs.ErrExist
		}
		return &fakeHandle{m: c.m, ino: ino}, nil
	}
	if flags&os.O_CREATE == 0 {
		return nil, fs.ErrNotExist
	}
	if c.m.refExistOnce {
		c.m.refExistOnce = false
		return nil, fs.ErrExist
	}
	c.m.nextIno++
	ino := c.m.nextIno
	now := time.Unix(1700000000, 123456789)
	c.m.inodes[ino] = &fakeInode{
		mode:   uint32(mode.Perm()) | 0o100000,
		atime:  now,
		mtime:  now,
		xattrs: map[string][]byte{},
	}
	c.m.refs[refpath] = ino
	return &fakeHandle{m: c.m, ino: ino}, nil
}

func (c *fakeCtxt) UnlinkRef(refpath string) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if _, ok := c.m.refs[refpath]; !ok {
		return fs.ErrNotExist
	}
	delete(c.m.refs, refpath)
	return nil
}

func (c *fakeCtxt) LinkRef(refpath, userpath string) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	ino, ok := c.m.refs[refpath]
	if !ok {
		return fs.ErrNotExist
	}
	if _, exists := c.m.users[userpath]; exists {
		return fs.ErrExist
	}
	c.m.users[userpath] = ino
	return nil
}

func (c *fakeCtxt) Open(userpath string, flags int) (mdal.Handle, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	ino, ok := c.m.users[userpath]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return &fakeHandle{m: c.m, ino: ino}, nil
}

func (c *fakeCtxt) Unlink(userpath string) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if _, ok := c.m.users[userpath]; !ok {
		return fs.ErrNotExist
	}
	delete(c.m.users, userpath)
	return nil
}

func (c *fakeCtxt) Stat(userpath string) (mdal.Stat, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	ino, ok := c.m.users[userpath]
	if !ok {
		return mdal.Stat{}, fs.ErrNotExist
	}
	return c.m.statLocked(ino), nil
}

func (c *fakeCtxt) ReadDir(userpath string) ([]mdal.DirEnt, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	var out []mdal.DirEnt
	for p := range c.m.users {
		out = append(out, mdal.DirEnt{Name: p})
	}
	return out, nil
}

func (c *fakeCtxt) Close() error { return nil }

func (m *fakeMDAL) statLocked(ino uint64) mdal.Stat {
	node := m.inodes[ino]
	return mdal.Stat{
		Inode: ino,
		Mode:  node.mode,
		UID:   1000,
		GID:   1000,
		Size:  node.size,
		ATime: node.atime,
		MTime: node.mtime,
	}
}

type fakeHandle struct {
	m   *fakeMDAL
	ino uint64
}

func (h *fakeHandle) node() *fakeInode { return h.m.inodes[h.ino] }

func (h *fakeHandle) Close() error { return nil }

func (h *fakeHandle) Truncate(size int64) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	h.node().size = size
	return nil
}

func (h *fakeHandle) SetTimes(atime, mtime time.Time) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	h.node().atime = atime
	h.node().mtime = mtime
	return nil
}

func (h *fakeHandle) Stat() (mdal.Stat, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	return h.m.statLocked(h.ino), nil
}

func (h *fakeHandle) SetXattr(name string, value []byte) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	h.node().xattrs[name] = append([]byte{}, value...)
	return nil
}

func (h *fakeHandle) GetXattr(name string) ([]byte, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	v, ok := h.node().xattrs[name]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return append([]byte{}, v...), nil
}

// xattrOf is a test helper reading an xattr straight off the user path.
func (m *fakeMDAL) xattrOf(userpath, name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ino, ok := m.users[userpath]
	if !ok {
		return nil, false
	}
	v, ok := m.inodes[ino].xattrs[name]
	return v, ok
}

// fakeNE keeps finished object images in memory.
type fakeNE struct {
	mu      sync.Mutex
	objects map[string][]byte

	// degradeCloses makes write-handle closes report a degraded (but
	// durable) stripe until reset.
	degradeCloses bool
	// failClose makes the next write-handle close fail outright.
	failClose bool
}

func newFakeNE() *fakeNE { return &fakeNE{objects: map[string][]byte{}} }

func (f *fakeNE) Open(objname string, loc placement.Location, erasure ne.Erasure, mode ne.Mode) (ne.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if mode == ne.ModeWrite {
		return &fakeWriter{f: f, name: objname, erasure: erasure}, nil
	}
	img, ok := f.objects[objname]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return &fakeReader{img: append([]byte{}, img...)}, nil
}

type fakeWriter struct {
	f       *fakeNE
	name    string
	erasure ne.Erasure
	buf     bytes.Buffer
}

func (w *fakeWriter) Read(p []byte) (int, error) { return 0, fs.ErrInvalid }

func (w *fakeWriter) Seek(off uint64) (uint64, error) { return 0, fs.ErrInvalid }

func (w *fakeWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *fakeWriter) Close() (*ne.State, error) {
	w.f.mu.Lock()
	defer w.f.mu.Unlock()
	if w.f.failClose {
		w.f.failClose = false
		return nil, fs.ErrInvalid
	}
	w.f.objects[w.name] = append([]byte{}, w.buf.Bytes()...)
	if w.f.degradeCloses {
		width := w.erasure.Width()
		state := &ne.State{
			Blocks:     width,
			PartSize:   w.erasure.PartSize,
			TotalSize:  uint64(w.buf.Len()),
			DataHealth: make([]bool, width),
			MetaHealth: make([]bool, width),
		}
		for i := range state.DataHealth {
			state.DataHealth[i] = true
			state.MetaHealth[i] = true
		}
		state.DataHealth[0] = false
		return state, nil
	}
	return nil, nil
}

func (w *fakeWriter) Abort() error { return nil }

type fakeReader struct {
	img []byte
	off uint64
}

func (r *fakeReader) Write(p []byte) (int, error) { return 0, fs.ErrInvalid }

func (r *fakeReader) Read(p []byte) (int, error) {
	if r.off >= uint64(len(r.img)) {
		return 0, io.EOF
	}
	n := copy(p, r.img[r.off:])
	r.off += uint64(n)
	return n, nil
}

func (r *fakeReader) Seek(off uint64) (uint64, error) {
	if off > uint64(len(r.img)) {
		return r.off, fs.ErrInvalid
	}
	r.off = off
	return off, nil
}

func (r *fakeReader) Close() (*ne.State, error) { return nil, nil }

func (r *fakeReader) Abort() error { return nil }

// testEnv wires a fake-backed repo and namespace for stream tests.
type testEnv struct {
	md  *fakeMDAL
	ne  *fakeNE
	ns  *config.Namespace
	pos *Position
}

func newTestEnv(objsize, objfiles uint64) *testEnv {
	md := newFakeMDAL()
	store := newFakeNE()
	repo := &config.Repo{
		Name: "testrepo",
		Data: config.DataScheme{
			Protection: config.Protection{N: 2, E: 1, PartSize: 512},
			ObjFiles:   objfiles,
			ObjSize:    objsize,
		},
		Tables: placement.Tables{Pods: 2, Caps: 2, Scatters: 8, RefDirs: 16},
		MDAL:   md,
		NE:     store,
	}
	ns := &config.Namespace{
		Name:   "root",
		Path:   "/",
		IDStr:  "testrepo|/",
		Repo:   repo,
		Parent: -1,
	}
	ctxt, _ := md.NewContext("/")
	return &testEnv{
		md:  md,
		ne:  store,
		ns:  ns,
		pos: &Position{NS: ns, Ctxt: ctxt},
	}
}

// objectCount reports how many object images the fake store holds.
func (e *testEnv) objectCount() int {
	e.ne.mu.Lock()
	defer e.ne.mu.Unlock()
	return len(e.ne.objects)
}
