//go:build linux
// +build linux

package fusefs

import (
	"fmt"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/dmp265/marfs/internal/config"
)

// Mount exposes the given namespace read-only at mountPoint and returns the
// running server. Callers unmount via server.Unmount().
func Mount(mountPoint string, ns *config.Namespace, allowOther bool) (*fuse.Server, error) {
	ctxt, err := ns.Repo.MDAL.NewContext(ns.Path)
	if err != nil {
		return nil, fmt.Errorf("fusefs: namespace context: %w", err)
	}
	root := &Root{NS: ns, Ctxt: ctxt}
	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:     "marfs",
			Name:       "marfs",
			AllowOther: allowOther,
		},
	}
	server, err := fs.Mount(mountPoint, root, opts)
	if err != nil {
		return nil, fmt.Errorf("fusefs: mount %q: %w", mountPoint, err)
	}
	return server, nil
}
