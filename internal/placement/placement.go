// Package placement maps metadata reference names to directories of a repo's
// reference tree, and object names to (pod, cap, scatter, O) storage targets.
//
// All mappings are pure hash functions of the name, so any process holding the
// same topology derives the same locations.
package placement

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/dmp265/marfs/internal/tagging"
)

// Location selects the storage target of one data object.
type Location struct {
	Pod     int
	Cap     int
	Scatter int
}

// Tables holds the placement dimensions of a repo's data scheme plus the
// reference-tree fan-out of its metadata scheme.
type Tables struct {
	Pods     int
	Caps     int
	Scatters int

	RefDirs int // directory count of the reference tree
}

// Validate rejects unusable table dimensions.
func (t *Tables) Validate() error {
	if t.Pods < 1 || t.Caps < 1 || t.Scatters < 1 {
		return fmt.Errorf("placement: pod/cap/scatter counts must be positive (%d/%d/%d)", t.Pods, t.Caps, t.Scatters)
	}
	if t.RefDirs < 1 {
		return fmt.Errorf("placement: reference dir count must be positive (%d)", t.RefDirs)
	}
	return nil
}

// Pod/cap/scatter draws are salted so the three dimensions hash independently.
func tableHash(salt, name string, buckets int) int {
	d := xxhash.New()
	d.WriteString(salt)
	d.WriteString("|")
	d.WriteString(name)
	return int(d.Sum64() % uint64(buckets))
}

// ObjectLocation derives the storage target of the named object.
func (t *Tables) ObjectLocation(objname string) Location {
	return Location{
		Pod:     tableHash("pod", objname, t.Pods),
		Cap:     tableHash("cap", objname, t.Caps),
		Scatter: tableHash("scatter", objname, t.Scatters),
	}
}

// RangeHash maps the named object into [0, width), used to derive the erasure
// rotation offset O of a stripe of the given width.
func RangeHash(objname string, width int) int {
	if width < 1 {
		return 0
	}
	return tableHash("offset", objname, width)
}

// RefDir returns the reference-tree directory the named metadata reference
// hashes into, as a relative path ("ref.0042/").
func (t *Tables) RefDir(refname string) string {
	return fmt.Sprintf("ref.%04d/", tableHash("ref", refname, t.RefDirs))
}

// RefPath resolves an FTAG to the full reference-tree path of its metadata
// file.
func (t *Tables) RefPath(ftag *tagging.FTag) string {
	name := ftag.MetaTgt()
	return t.RefDir(name) + name
}

// AllRefDirs enumerates every directory of the reference tree, for
// verification tooling that must pre-create the tree.
func (t *Tables) AllRefDirs() []string {
	dirs := make([]string, t.RefDirs)
	for i := range dirs {
		dirs[i] = fmt.Sprintf("ref.%04d/", i)
	}
	return dirs
}
