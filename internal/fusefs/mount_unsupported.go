//go:build !linux
// +build !linux

package fusefs

import (
	"errors"

	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/dmp265/marfs/internal/config"
)

// Mount is only supported on Linux.
func Mount(mountPoint string, ns *config.Namespace, allowOther bool) (*fuse.Server, error) {
	return nil, errors.New("fusefs: mounting is only supported on linux")
}
