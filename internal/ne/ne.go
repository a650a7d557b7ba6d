// Package ne defines the erasure-coded object layer consumed by the
// datastream engine, plus a local filesystem implementation that stripes
// objects with Reed-Solomon parity across a pod/cap/scatter directory tree.
package ne

import (
	"fmt"

	"github.com/dmp265/marfs/internal/placement"
)

// Erasure describes the protection scheme of one object.
type Erasure struct {
	N        int    // data blocks per stripe
	E        int    // parity blocks per stripe
	O        int    // block rotation offset
	PartSize uint64 // bytes per block per stripe
}

// Width is the total block count of a stripe.
func (e Erasure) Width() int { return e.N + e.E }

// Validate rejects unusable erasure definitions.
func (e Erasure) Validate() error {
	if e.N < 1 || e.E < 0 || e.PartSize < 1 {
		return fmt.Errorf("ne: bad erasure definition N=%d E=%d partsz=%d", e.N, e.E, e.PartSize)
	}
	if e.O < 0 || e.O >= e.Width() {
		return fmt.Errorf("ne: rotation offset %d outside stripe width %d", e.O, e.Width())
	}
	return nil
}

// Mode selects the access direction of an object handle.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

// State reports the per-block health of an object after a close. A nil
// *State from Close means the object synced cleanly.
type State struct {
	Blocks    int // stripe width at close
	PartSize  uint64
	TotalSize uint64 // object bytes written

	// false marks a block needing rebuild
	DataHealth []bool
	MetaHealth []bool
}

// Degraded reports whether any block needs rebuild.
func (s *State) Degraded() bool {
	for _, ok := range s.DataHealth {
		if !ok {
			return true
		}
	}
	for _, ok := range s.MetaHealth {
		if !ok {
			return true
		}
	}
	return false
}

// NE opens named objects at hashed locations. Implementations must be safe
// for concurrent use; handles are exclusively owned by one stream.
type NE interface {
	Open(objname string, loc placement.Location, erasure Erasure, mode Mode) (Handle, error)
}

// Handle is an open object. At most one of the read/write directions is
// usable, per the mode it was opened with.
type Handle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)

	// Seek repositions a read handle to an absolute object offset.
	Seek(offset uint64) (uint64, error)

	// Close syncs the object. A nil state means a clean close; a non-nil
	// state means the object is durable but degraded and callers should
	// record a rebuild tag. A non-nil error means the object's durability is
	// unknown.
	Close() (*State, error)

	// Abort drops the object without syncing. Always safe.
	Abort() error
}
