package mdal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/xattr"
	"golang.org/x/sys/unix"
)

// refSubdir holds a namespace's reference tree, out of sight of user paths.
const refSubdir = ".marfs-refs"

// xattrPrefix namespaces our attributes under the "user" class.
const xattrPrefix = "user."

// Posix is an MDAL backed by a directory tree on a POSIX filesystem.
// Reference files live under <base>/<ns>/.marfs-refs/ and are hard-linked
// into user paths under <base>/<ns>/.
type Posix struct {
	base string
}

// NewPosix returns a POSIX MDAL rooted at base.
func NewPosix(base string) (*Posix, error) {
	if base == "" {
		return nil, fmt.Errorf("mdal: empty posix base path")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("mdal: resolve base %q: %w", base, err)
	}
	return &Posix{base: abs}, nil
}

func (m *Posix) nsroot(nspath string) (string, error) {
	clean := filepath.Clean("/" + nspath)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("mdal: bad namespace path %q", nspath)
	}
	return filepath.Join(m.base, clean), nil
}

// Verify creates the namespace root and reference tree when fix is set.
func (m *Posix) Verify(nspath string, refdirs []string, fix bool) error {
	root, err := m.nsroot(nspath)
	if err != nil {
		return err
	}
	if !fix {
		if _, err := os.Stat(filepath.Join(root, refSubdir)); err != nil {
			return fmt.Errorf("mdal: namespace %q not initialized: %w", nspath, err)
		}
		return nil
	}
	for _, rd := range refdirs {
		if err := os.MkdirAll(filepath.Join(root, refSubdir, rd), 0o755); err != nil {
			return fmt.Errorf("mdal: create reference dir: %w", err)
		}
	}
	return nil
}

// NewContext opens a session against the named namespace.
func (m *Posix) NewContext(nspath string) (Context, error) {
	root, err := m.nsroot(nspath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("mdal: namespace %q: %w", nspath, err)
	}
	return &posixCtxt{root: root}, nil
}

// Close is a no-op for the POSIX backend.
func (m *Posix) Close() error { return nil }

type posixCtxt struct {
	root string
}

func (c *posixCtxt) refAbs(refpath string) string {
	return filepath.Join(c.root, refSubdir, filepath.Clean("/"+refpath))
}

func (c *posixCtxt) userAbs(userpath string) string {
	return filepath.Join(c.root, filepath.Clean("/"+userpath))
}

func (c *posixCtxt) OpenRef(refpath string, flags int, mode fs.FileMode) (Handle, error) {
	f, err := os.OpenFile(c.refAbs(refpath), flags, mode)
	if err != nil {
		return nil, err
	}
	return &posixHandle{f: f}, nil
}

func (c *posixCtxt) UnlinkRef(refpath string) error {
	return os.Remove(c.refAbs(refpath))
}

func (c *posixCtxt) LinkRef(refpath, userpath string) error {
	tgt := c.userAbs(userpath)
	if err := os.MkdirAll(filepath.Dir(tgt), 0o755); err != nil {
		return err
	}
	return os.Link(c.refAbs(refpath), tgt)
}

func (c *posixCtxt) Open(userpath string, flags int) (Handle, error) {
	f, err := os.OpenFile(c.userAbs(userpath), flags, 0)
	if err != nil {
		return nil, err
	}
	return &posixHandle{f: f}, nil
}

func (c *posixCtxt) Unlink(userpath string) error {
	return os.Remove(c.userAbs(userpath))
}

func (c *posixCtxt) Stat(userpath string) (Stat, error) {
	fi, err := os.Stat(c.userAbs(userpath))
	if err != nil {
		return Stat{}, err
	}
	return statFromInfo(fi), nil
}

func (c *posixCtxt) ReadDir(userpath string) ([]DirEnt, error) {
	ents, err := os.ReadDir(c.userAbs(userpath))
	if err != nil {
		return nil, err
	}
	out := make([]DirEnt, 0, len(ents))
	for _, e := range ents {
		if e.Name() == refSubdir {
			continue
		}
		out = append(out, DirEnt{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}

func (c *posixCtxt) Close() error { return nil }

type posixHandle struct {
	f *os.File
}

func (h *posixHandle) Close() error { return h.f.Close() }

func (h *posixHandle) Truncate(size int64) error { return h.f.Truncate(size) }

func (h *posixHandle) SetTimes(atime, mtime time.Time) error {
	ts := [2]unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	return unix.UtimesNanoAt(unix.AT_FDCWD, "/proc/self/fd/"+strconv.Itoa(int(h.f.Fd())), ts[:], 0)
}

func (h *posixHandle) Stat() (Stat, error) {
	fi, err := h.f.Stat()
	if err != nil {
		return Stat{}, err
	}
	return statFromInfo(fi), nil
}

func (h *posixHandle) SetXattr(name string, value []byte) error {
	return xattr.FSet(h.f, xattrPrefix+name, value)
}

func (h *posixHandle) GetXattr(name string) ([]byte, error) {
	v, err := xattr.FGet(h.f, xattrPrefix+name)
	if err != nil {
		var xerr *xattr.Error
		if errors.As(err, &xerr) && xerr.Err == xattr.ENOATTR {
			return nil, fs.ErrNotExist
		}
		return nil, err
	}
	return v, nil
}

func statFromInfo(fi fs.FileInfo) Stat {
	st := Stat{
		Mode:  uint32(fi.Mode()),
		Size:  fi.Size(),
		MTime: fi.ModTime(),
		ATime: fi.ModTime(),
		IsDir: fi.IsDir(),
	}
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		st.Inode = sys.Ino
		st.Mode = uint32(sys.Mode)
		st.UID = sys.Uid
		st.GID = sys.Gid
		st.ATime = time.Unix(sys.Atim.Sec, sys.Atim.Nsec)
		st.MTime = time.Unix(sys.Mtim.Sec, sys.Mtim.Nsec)
	}
	return st
}
