package mdal

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is an MDAL keeping an entire metadata namespace in one database
// file: inodes, reference/user name links, and xattrs. Useful for single-node
// deployments and for inspection tooling that wants the namespace in a
// queryable form.
type SQLite struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS inodes (
	ino        INTEGER PRIMARY KEY AUTOINCREMENT,
	mode       INTEGER NOT NULL,
	uid        INTEGER NOT NULL DEFAULT 0,
	gid        INTEGER NOT NULL DEFAULT 0,
	size       INTEGER NOT NULL DEFAULT 0,
	atime_ns   INTEGER NOT NULL,
	mtime_ns   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS links (
	ns   TEXT NOT NULL,
	kind INTEGER NOT NULL, -- 0 = reference tree, 1 = user namespace
	path TEXT NOT NULL,
	ino  INTEGER NOT NULL REFERENCES inodes(ino),
	PRIMARY KEY (ns, kind, path)
);
CREATE TABLE IF NOT EXISTS xattrs (
	ino   INTEGER NOT NULL REFERENCES inodes(ino),
	name  TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (ino, name)
);
CREATE TABLE IF NOT EXISTS namespaces (
	ns TEXT PRIMARY KEY
);
`

const (
	kindRef  = 0
	kindUser = 1
)

// NewSQLite opens (creating if needed) the metadata database at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("mdal: open sqlite db %q: %w", dbPath, err)
	}
	// the engine serializes per-stream access; one connection keeps
	// transactions simple under modernc's file locking
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("mdal: init sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (m *SQLite) Verify(nspath string, refdirs []string, fix bool) error {
	ns := cleanNS(nspath)
	if !fix {
		var found string
		err := m.db.QueryRow(`SELECT ns FROM namespaces WHERE ns = ?`, ns).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("mdal: namespace %q not initialized", nspath)
		}
		return err
	}
	// reference dirs are implicit in a path-keyed table
	_, err := m.db.Exec(`INSERT OR IGNORE INTO namespaces (ns) VALUES (?)`, ns)
	return err
}

func (m *SQLite) NewContext(nspath string) (Context, error) {
	ns := cleanNS(nspath)
	var found string
	if err := m.db.QueryRow(`SELECT ns FROM namespaces WHERE ns = ?`, ns).Scan(&found); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("mdal: namespace %q: %w", nspath, fs.ErrNotExist)
		}
		return nil, err
	}
	return &sqliteCtxt{db: m.db, ns: ns}, nil
}

func (m *SQLite) Close() error { return m.db.Close() }

func cleanNS(nspath string) string { return path.Clean("/" + nspath) }

func cleanPath(p string) string { return strings.TrimPrefix(path.Clean("/"+p), "/") }

type sqliteCtxt struct {
	db *sql.DB
	ns string
}

func (c *sqliteCtxt) lookup(kind int, p string) (int64, error) {
	var ino int64
	err := c.db.QueryRow(`SELECT ino FROM links WHERE ns = ? AND kind = ? AND path = ?`,
		c.ns, kind, cleanPath(p)).Scan(&ino)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fs.ErrNotExist
	}
	return ino, err
}

func (c *sqliteCtxt) OpenRef(refpath string, flags int, mode fs.FileMode) (Handle, error) {
	ino, err := c.lookup(kindRef, refpath)
	if err == nil {
		if flags&os.O_EXCL != 0 {
			return nil, fs.ErrExist
		}
		return &sqliteHandle{db: c.db, ino: ino}, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if flags&os.O_CREATE == 0 {
		return nil, fs.ErrNotExist
	}
	now := time.Now().UnixNano()
	res, err := c.db.Exec(`INSERT INTO inodes (mode, uid, gid, size, atime_ns, mtime_ns) VALUES (?, ?, ?, 0, ?, ?)`,
		uint32(mode.Perm())|0o100000, os.Getuid(), os.Getgid(), now, now)
	if err != nil {
		return nil, fmt.Errorf("mdal: create inode: %w", err)
	}
	ino, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if _, err := c.db.Exec(`INSERT INTO links (ns, kind, path, ino) VALUES (?, ?, ?, ?)`,
		c.ns, kindRef, cleanPath(refpath), ino); err != nil {
		// raced with another creator
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fs.ErrExist
		}
		return nil, err
	}
	return &sqliteHandle{db: c.db, ino: ino}, nil
}

func (c *sqliteCtxt) UnlinkRef(refpath string) error { return c.unlink(kindRef, refpath) }

func (c *sqliteCtxt) Unlink(userpath string) error { return c.unlink(kindUser, userpath) }

func (c *sqliteCtxt) unlink(kind int, p string) error {
	res, err := c.db.Exec(`DELETE FROM links WHERE ns = ? AND kind = ? AND path = ?`,
		c.ns, kind, cleanPath(p))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fs.ErrNotExist
	}
	return nil
}

func (c *sqliteCtxt) LinkRef(refpath, userpath string) error {
	ino, err := c.lookup(kindRef, refpath)
	if err != nil {
		return err
	}
	if _, err := c.db.Exec(`INSERT INTO links (ns, kind, path, ino) VALUES (?, ?, ?, ?)`,
		c.ns, kindUser, cleanPath(userpath), ino); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fs.ErrExist
		}
		return err
	}
	return nil
}

func (c *sqliteCtxt) Open(userpath string, flags int) (Handle, error) {
	ino, err := c.lookup(kindUser, userpath)
	if err != nil {
		return nil, err
	}
	return &sqliteHandle{db: c.db, ino: ino}, nil
}

func (c *sqliteCtxt) Stat(userpath string) (Stat, error) {
	if cleanPath(userpath) == "" {
		return Stat{Mode: 0o040755, IsDir: true}, nil
	}
	ino, err := c.lookup(kindUser, userpath)
	if err != nil {
		return Stat{}, err
	}
	h := sqliteHandle{db: c.db, ino: ino}
	return h.Stat()
}

func (c *sqliteCtxt) ReadDir(userpath string) ([]DirEnt, error) {
	prefix := cleanPath(userpath)
	if prefix != "" {
		prefix += "/"
	}
	rows, err := c.db.Query(`SELECT path FROM links WHERE ns = ? AND kind = ? AND path LIKE ?`,
		c.ns, kindUser, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seen := map[string]bool{}
	var out []DirEnt
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		rest := strings.TrimPrefix(p, prefix)
		if rest == "" {
			continue
		}
		name, isDir := rest, false
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name, isDir = rest[:i], true
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, DirEnt{Name: name, IsDir: isDir})
		}
	}
	return out, rows.Err()
}

func (c *sqliteCtxt) Close() error { return nil }

type sqliteHandle struct {
	db  *sql.DB
	ino int64
}

func (h *sqliteHandle) Close() error { return nil }

func (h *sqliteHandle) Truncate(size int64) error {
	_, err := h.db.Exec(`UPDATE inodes SET size = ? WHERE ino = ?`, size, h.ino)
	return err
}

func (h *sqliteHandle) SetTimes(atime, mtime time.Time) error {
	_, err := h.db.Exec(`UPDATE inodes SET atime_ns = ?, mtime_ns = ? WHERE ino = ?`,
		atime.UnixNano(), mtime.UnixNano(), h.ino)
	return err
}

func (h *sqliteHandle) Stat() (Stat, error) {
	var st Stat
	var mode uint32
	var atime, mtime int64
	err := h.db.QueryRow(`SELECT mode, uid, gid, size, atime_ns, mtime_ns FROM inodes WHERE ino = ?`, h.ino).
		Scan(&mode, &st.UID, &st.GID, &st.Size, &atime, &mtime)
	if errors.Is(err, sql.ErrNoRows) {
		return st, fs.ErrNotExist
	}
	if err != nil {
		return st, err
	}
	st.Inode = uint64(h.ino)
	st.Mode = mode
	st.ATime = time.Unix(0, atime)
	st.MTime = time.Unix(0, mtime)
	return st, nil
}

func (h *sqliteHandle) SetXattr(name string, value []byte) error {
	_, err := h.db.Exec(`INSERT INTO xattrs (ino, name, value) VALUES (?, ?, ?)
		ON CONFLICT (ino, name) DO UPDATE SET value = excluded.value`, h.ino, name, value)
	return err
}

func (h *sqliteHandle) GetXattr(name string) ([]byte, error) {
	var v []byte
	err := h.db.QueryRow(`SELECT value FROM xattrs WHERE ino = ? AND name = ?`, h.ino, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fs.ErrNotExist
	}
	return v, err
}
