package ne

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/reedsolomon"

	"github.com/dmp265/marfs/internal/placement"
)

// blockHeaderFmt prefixes every block file so a reader can validate that the
// block belongs to the object and recover the true object length.
const blockHeaderFmt = "NEBLK(%d|%d|%d|%d)\n" // totalsize | blockno | width | partsz

// Local is an NE storing each object as N+E block files under
// <root>/pod<P>/cap<C>/scat<S>/. Parity is computed with Reed-Solomon
// over N contiguous data shards.
type Local struct {
	root string
}

// NewLocal returns a local object store rooted at root.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("ne: empty local store root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("ne: resolve root %q: %w", root, err)
	}
	return &Local{root: abs}, nil
}

func (l *Local) objDir(loc placement.Location) string {
	return filepath.Join(l.root,
		fmt.Sprintf("pod%d", loc.Pod),
		fmt.Sprintf("cap%d", loc.Cap),
		fmt.Sprintf("scat%d", loc.Scatter))
}

func sanitize(objname string) string {
	s := strings.ReplaceAll(objname, "/", "#")
	return strings.ReplaceAll(s, "\x00", "#")
}

func (l *Local) blockPath(objname string, loc placement.Location, block int) string {
	return filepath.Join(l.objDir(loc), fmt.Sprintf("%s.b%d", sanitize(objname), block))
}

// Open opens the named object for reading or writing.
func (l *Local) Open(objname string, loc placement.Location, erasure Erasure, mode Mode) (Handle, error) {
	if err := erasure.Validate(); err != nil {
		return nil, err
	}
	switch mode {
	case ModeWrite:
		if err := os.MkdirAll(l.objDir(loc), 0o755); err != nil {
			return nil, fmt.Errorf("ne: create scatter dir: %w", err)
		}
		return &localWriter{store: l, name: objname, loc: loc, erasure: erasure}, nil
	case ModeRead:
		r := &localReader{store: l, name: objname, loc: loc, erasure: erasure}
		if err := r.load(); err != nil {
			return nil, err
		}
		return r, nil
	}
	return nil, fmt.Errorf("ne: unsupported open mode %d", mode)
}

// localWriter accumulates the object image in memory and lays down blocks at
// close. Object sizes are bounded by the repo's objsize, so buffering the
// image is acceptable for a single-node store.
type localWriter struct {
	store   *Local
	name    string
	loc     placement.Location
	erasure Erasure
	buf     bytes.Buffer
	done    bool
}

func (w *localWriter) Read(p []byte) (int, error) {
	return 0, fmt.Errorf("ne: object %q open for write", w.name)
}

func (w *localWriter) Seek(offset uint64) (uint64, error) {
	return 0, fmt.Errorf("ne: cannot seek a write handle")
}

func (w *localWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("ne: write after close of object %q", w.name)
	}
	return w.buf.Write(p)
}

func (w *localWriter) Close() (*State, error) {
	if w.done {
		return nil, fmt.Errorf("ne: double close of object %q", w.name)
	}
	w.done = true

	width := w.erasure.Width()
	data := w.buf.Bytes()
	totsz := uint64(len(data))

	// pad the image to a whole stripe, split into N contiguous shards
	stripe := uint64(w.erasure.N) * w.erasure.PartSize
	padded := data
	if rem := totsz % stripe; rem != 0 {
		padded = append(append([]byte{}, data...), make([]byte, stripe-rem)...)
	} else if totsz == 0 {
		padded = make([]byte, stripe)
	}
	enc, err := reedsolomon.New(w.erasure.N, w.erasure.E)
	if err != nil {
		w.Abort()
		return nil, fmt.Errorf("ne: init encoder: %w", err)
	}
	shards, err := enc.Split(padded)
	if err != nil {
		w.Abort()
		return nil, fmt.Errorf("ne: split object %q: %w", w.name, err)
	}
	if err := enc.Encode(shards); err != nil {
		w.Abort()
		return nil, fmt.Errorf("ne: encode parity for %q: %w", w.name, err)
	}

	state := &State{
		Blocks:     width,
		PartSize:   w.erasure.PartSize,
		TotalSize:  totsz,
		DataHealth: make([]bool, width),
		MetaHealth: make([]bool, width),
	}
	failed := 0
	for shardno := 0; shardno < width; shardno++ {
		block := (shardno + w.erasure.O) % width
		path := w.store.blockPath(w.name, w.loc, block)
		if err := writeBlock(path, totsz, block, width, w.erasure.PartSize, shards[shardno]); err != nil {
			failed++
			continue
		}
		state.DataHealth[block] = true
		state.MetaHealth[block] = true
	}
	if failed > w.erasure.E {
		return nil, fmt.Errorf("ne: lost %d of %d blocks writing %q", failed, width, w.name)
	}
	if failed > 0 {
		return state, nil
	}
	return nil, nil
}

func (w *localWriter) Abort() error {
	w.done = true
	w.buf.Reset()
	for block := 0; block < w.erasure.Width(); block++ {
		os.Remove(w.store.blockPath(w.name, w.loc, block))
	}
	return nil
}

func writeBlock(path string, totsz uint64, block, width int, partsz uint64, shard []byte) error {
	tmp := path + ".partial"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, blockHeaderFmt, totsz, block, width, partsz); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if _, err := f.Write(shard); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// localReader loads and (when blocks are damaged) reconstructs the object
// image at open, then serves reads from memory.
type localReader struct {
	store   *Local
	name    string
	loc     placement.Location
	erasure Erasure
	image   []byte
	off     uint64
	state   *State
}

func (r *localReader) load() error {
	width := r.erasure.Width()
	shards := make([][]byte, width)
	state := &State{
		Blocks:     width,
		PartSize:   r.erasure.PartSize,
		DataHealth: make([]bool, width),
		MetaHealth: make([]bool, width),
	}
	var totsz uint64
	found := 0
	for block := 0; block < width; block++ {
		shardno := ((block - r.erasure.O) + width) % width
		raw, err := os.ReadFile(r.store.blockPath(r.name, r.loc, block))
		if err != nil {
			continue
		}
		var btotsz, bpartsz uint64
		var bblock, bwidth int
		hdrEnd := bytes.IndexByte(raw, '\n')
		if hdrEnd < 0 {
			continue
		}
		if _, err := fmt.Sscanf(string(raw[:hdrEnd+1]), blockHeaderFmt, &btotsz, &bblock, &bwidth, &bpartsz); err != nil {
			continue
		}
		if bblock != block || bwidth != width || bpartsz != r.erasure.PartSize {
			continue
		}
		shards[shardno] = raw[hdrEnd+1:]
		state.DataHealth[block] = true
		state.MetaHealth[block] = true
		totsz = btotsz
		found++
	}
	if found < r.erasure.N {
		return fmt.Errorf("ne: object %q unrecoverable: %d of %d blocks present", r.name, found, width)
	}
	if found < width {
		enc, err := reedsolomon.New(r.erasure.N, r.erasure.E)
		if err != nil {
			return fmt.Errorf("ne: init decoder: %w", err)
		}
		if err := enc.Reconstruct(shards); err != nil {
			return fmt.Errorf("ne: reconstruct object %q: %w", r.name, err)
		}
	}
	image := make([]byte, 0, totsz)
	for shardno := 0; shardno < r.erasure.N && uint64(len(image)) < totsz; shardno++ {
		image = append(image, shards[shardno]...)
	}
	if uint64(len(image)) < totsz {
		return fmt.Errorf("ne: object %q truncated: have %d of %d bytes", r.name, len(image), totsz)
	}
	r.image = image[:totsz]
	state.TotalSize = totsz
	if found < width {
		r.state = state // report degradation at close
	}
	return nil
}

func (r *localReader) Read(p []byte) (int, error) {
	if r.off >= uint64(len(r.image)) {
		return 0, io.EOF
	}
	n := copy(p, r.image[r.off:])
	r.off += uint64(n)
	return n, nil
}

func (r *localReader) Write(p []byte) (int, error) {
	return 0, fmt.Errorf("ne: object %q open for read", r.name)
}

func (r *localReader) Seek(offset uint64) (uint64, error) {
	if offset > uint64(len(r.image)) {
		return r.off, fmt.Errorf("ne: seek beyond object end (%d > %d)", offset, len(r.image))
	}
	r.off = offset
	return r.off, nil
}

func (r *localReader) Close() (*State, error) {
	state := r.state
	r.image = nil
	r.state = nil
	return state, nil
}

func (r *localReader) Abort() error {
	r.image = nil
	r.state = nil
	return nil
}
