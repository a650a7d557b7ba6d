//go:build linux
// +build linux

// Package fusefs exposes a MarFS namespace read-only through FUSE. Directory
// listings come straight from the metadata layer; file reads open READ
// datastreams against the erasure-coded objects.
package fusefs

import (
	"context"
	"path"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/dmp265/marfs/internal/config"
	"github.com/dmp265/marfs/internal/mdal"
)

// Root is the mounted namespace's root directory.
type Root struct {
	fs.Inode
	NS   *config.Namespace
	Ctxt mdal.Context
}

var _ fs.NodeLookuper = (*Root)(nil)
var _ fs.NodeReaddirer = (*Root)(nil)

func (r *Root) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return lookup(ctx, r, r.NS, r.Ctxt, name, out)
}

func (r *Root) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	return readdir(r.Ctxt, "")
}

// DirNode is a directory below the namespace root.
type DirNode struct {
	fs.Inode
	NS   *config.Namespace
	Ctxt mdal.Context
	Path string // namespace-relative
}

var _ fs.NodeLookuper = (*DirNode)(nil)
var _ fs.NodeReaddirer = (*DirNode)(nil)

func (d *DirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return lookup(ctx, d, d.NS, d.Ctxt, path.Join(d.Path, name), out)
}

func (d *DirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	return readdir(d.Ctxt, d.Path)
}

type inodeHolder interface {
	NewInode(ctx context.Context, node fs.InodeEmbedder, attr fs.StableAttr) *fs.Inode
}

func lookup(ctx context.Context, holder inodeHolder, ns *config.Namespace, mctxt mdal.Context, relpath string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	st, err := mctxt.Stat(relpath)
	if err != nil {
		return nil, syscall.ENOENT
	}
	key := ns.IDStr + ":" + relpath
	out.SetEntryTimeout(1 * time.Second)
	out.SetAttrTimeout(1 * time.Second)
	if st.IsDir {
		node := &DirNode{NS: ns, Ctxt: mctxt, Path: relpath}
		ch := holder.NewInode(ctx, node, fs.StableAttr{Mode: fuse.S_IFDIR, Ino: inoFromString("dir:" + key)})
		out.Mode = fuse.S_IFDIR | 0o755
		return ch, 0
	}
	node := &FileNode{NS: ns, Ctxt: mctxt, Path: relpath, Size: uint64(st.Size)}
	ch := holder.NewInode(ctx, node, fs.StableAttr{Mode: fuse.S_IFREG, Ino: inoFromString("file:" + key)})
	fillAttr(&out.Attr, st)
	return ch, 0
}

func readdir(mctxt mdal.Context, relpath string) (fs.DirStream, syscall.Errno) {
	ents, err := mctxt.ReadDir(relpath)
	if err != nil {
		return nil, syscall.EIO
	}
	out := make([]fuse.DirEntry, 0, len(ents))
	for _, e := range ents {
		mode := uint32(fuse.S_IFREG)
		if e.IsDir {
			mode = fuse.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return fs.NewListDirStream(out), 0
}

func fillAttr(attr *fuse.Attr, st mdal.Stat) {
	attr.Mode = fuse.S_IFREG | 0o444
	attr.Size = uint64(st.Size)
	attr.Uid = st.UID
	attr.Gid = st.GID
	attr.SetTimes(nil, &st.MTime, nil)
}
