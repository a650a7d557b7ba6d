// Package mdal defines the metadata abstraction layer consumed by the
// datastream engine: directory entries, reference files, xattrs, and
// timestamps, behind an interface with pluggable backends.
//
// Two backends ship with the engine: a POSIX backend storing metadata as real
// files with user xattrs, and a SQLite backend keeping the whole namespace in
// a single database file.
package mdal

import (
	"io/fs"
	"time"
)

// Stat carries the file attributes the engine records in recovery info.
type Stat struct {
	Inode uint64
	Mode  uint32 // raw st_mode bits
	UID   uint32
	GID   uint32
	Size  int64
	ATime time.Time
	MTime time.Time
	IsDir bool
}

// DirEnt is one entry of a namespace directory listing.
type DirEnt struct {
	Name  string
	IsDir bool
}

// MDAL is a shared, threadsafe metadata backend. Each stream holds its own
// Context (a sub-session scoped to one namespace).
type MDAL interface {
	// NewContext opens a session against the named namespace. The namespace
	// must already exist (see Verify).
	NewContext(nspath string) (Context, error)

	// Verify checks the namespace and its reference tree. When fix is set it
	// creates them if absent; otherwise it reports them as missing.
	Verify(nspath string, refdirs []string, fix bool) error

	// Close releases the backend.
	Close() error
}

// Context is a per-stream metadata session. Reference paths are relative to
// the namespace's reference tree; user paths are relative to its root.
type Context interface {
	// OpenRef opens a reference file. Flags follow os.OpenFile; exclusive
	// creation collisions surface as fs.ErrExist.
	OpenRef(refpath string, flags int, mode fs.FileMode) (Handle, error)
	UnlinkRef(refpath string) error

	// LinkRef hard-links a reference file to a user-visible path. Fails with
	// fs.ErrExist when the target exists.
	LinkRef(refpath, userpath string) error

	Open(userpath string, flags int) (Handle, error)
	Unlink(userpath string) error

	Stat(userpath string) (Stat, error)
	ReadDir(userpath string) ([]DirEnt, error)

	Close() error
}

// Handle is an open metadata file.
type Handle interface {
	Close() error
	Truncate(size int64) error
	SetTimes(atime, mtime time.Time) error
	Stat() (Stat, error)

	// SetXattr attaches a named attribute, replacing any existing value.
	SetXattr(name string, value []byte) error
	// GetXattr retrieves a named attribute; absent attributes surface as
	// fs.ErrNotExist.
	GetXattr(name string) ([]byte, error)
}
