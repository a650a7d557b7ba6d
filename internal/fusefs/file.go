//go:build linux
// +build linux

package fusefs

import (
	"context"
	"io"
	"log"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/dmp265/marfs/internal/config"
	"github.com/dmp265/marfs/internal/datastream"
	"github.com/dmp265/marfs/internal/mdal"
)

// FileNode is one user-visible file. Opens bind a READ datastream; reads seek
// it as the kernel's offsets demand.
type FileNode struct {
	fs.Inode
	NS   *config.Namespace
	Ctxt mdal.Context
	Path string
	Size uint64
}

var _ fs.NodeGetattrer = (*FileNode)(nil)
var _ fs.NodeOpener = (*FileNode)(nil)
var _ fs.NodeReader = (*FileNode)(nil)
var _ fs.NodeReleaser = (*FileNode)(nil)

func (n *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	st, err := n.Ctxt.Stat(n.Path)
	if err != nil {
		return syscall.ENOENT
	}
	fillAttr(&out.Attr, st)
	return 0
}

type fileHandle struct {
	mu     sync.Mutex
	stream *datastream.Stream
	pos    int64
}

func (n *FileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	pos := &datastream.Position{NS: n.NS, Ctxt: n.Ctxt}
	stream, err := datastream.Open(nil, datastream.ReadStream, n.Path, pos)
	if err != nil {
		log.Printf("fusefs: open path=%q err=%v", n.Path, err)
		return nil, 0, syscall.EACCES
	}
	return &fileHandle{stream: stream}, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *FileNode) Read(ctx context.Context, fh fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h, ok := fh.(*fileHandle)
	if !ok || h.stream == nil {
		return nil, syscall.EBADF
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if off != h.pos {
		if _, err := h.stream.Seek(off, io.SeekStart); err != nil {
			// past EOF or unusable: nothing to deliver
			return fuse.ReadResultData(dest[:0]), 0
		}
		h.pos = off
	}
	n2, err := h.stream.Read(dest)
	if n2 > 0 {
		h.pos += int64(n2)
		return fuse.ReadResultData(dest[:n2]), 0
	}
	if err != nil && err != io.EOF {
		log.Printf("fusefs: read path=%q off=%d err=%v", n.Path, off, err)
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:0]), 0
}

func (n *FileNode) Release(ctx context.Context, fh fs.FileHandle) syscall.Errno {
	h, ok := fh.(*fileHandle)
	if !ok || h.stream == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := datastream.Release(h.stream); err != nil {
		log.Printf("fusefs: release path=%q err=%v", n.Path, err)
	}
	h.stream = nil
	return 0
}
