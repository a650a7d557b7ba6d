// Package config loads the MarFS topology: repos, their data and metadata
// schemes, and the namespace tree. The file format is YAML; a handful of
// environment variables override paths for deployment (see env.go).
package config

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dmp265/marfs/internal/mdal"
	"github.com/dmp265/marfs/internal/ne"
	"github.com/dmp265/marfs/internal/placement"
)

// Protection mirrors the erasure definition of a repo's data scheme.
type Protection struct {
	N        int    `yaml:"n"`
	E        int    `yaml:"e"`
	PartSize uint64 `yaml:"partsz"`
}

// DataScheme describes how a repo lays out data objects.
type DataScheme struct {
	Protection Protection `yaml:"protection"`
	ObjFiles   uint64     `yaml:"objfiles"` // max files packed per object (0 = unlimited)
	ObjSize    uint64     `yaml:"objsize"`  // max object bytes (0 = unlimited)
	Pods       int        `yaml:"pods"`
	Caps       int        `yaml:"caps"`
	Scatters   int        `yaml:"scatters"`
	Store      string     `yaml:"store"` // root of the local object store
}

// MetaScheme describes how a repo stores metadata.
type MetaScheme struct {
	MDAL    string `yaml:"mdal"` // "posix" or "sqlite"
	Path    string `yaml:"path"` // base directory (posix) or db file (sqlite)
	RefDirs int    `yaml:"refdirs"`
}

type nsYAML struct {
	Name      string   `yaml:"name"`
	FQuota    uint64   `yaml:"fquota"`
	DQuota    uint64   `yaml:"dquota"`
	Subspaces []nsYAML `yaml:"subspaces"`
}

type repoYAML struct {
	Name       string     `yaml:"name"`
	Data       DataScheme `yaml:"data"`
	Meta       MetaScheme `yaml:"meta"`
	Namespaces []nsYAML   `yaml:"namespaces"`
}

type configYAML struct {
	Version    string     `yaml:"version"`
	MountPoint string     `yaml:"mountpoint"`
	CTag       string     `yaml:"ctag"`
	Repos      []repoYAML `yaml:"repos"`
}

// Repo is one storage repository with initialized backends.
type Repo struct {
	Name   string
	Data   DataScheme
	Meta   MetaScheme
	Tables placement.Tables
	MDAL   mdal.MDAL
	NE     ne.NE
}

// Namespace is one node of the namespace tree. Nodes live in the Config's
// arena; Parent is an arena index (-1 at a repo root) kept for upward lookup
// without shared ownership.
type Namespace struct {
	Name   string
	Path   string // absolute within the repo ("/", "/proj", ...)
	IDStr  string // "<repo>|<path>"
	FQuota uint64
	DQuota uint64
	Repo   *Repo
	Parent int
}

// Config is the loaded, initialized topology.
type Config struct {
	Version    string
	MountPoint string
	CTag       string
	Repos      []*Repo
	Namespaces []*Namespace
}

// Load parses and initializes the topology at cpath.
func Load(cpath string) (*Config, error) {
	raw, err := os.ReadFile(cpath)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", cpath, err)
	}
	return Parse(raw)
}

// Parse initializes a topology from YAML bytes.
func Parse(raw []byte) (*Config, error) {
	var y configYAML
	if err := yaml.Unmarshal(raw, &y); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if len(y.Repos) == 0 {
		return nil, fmt.Errorf("config: no repos defined")
	}
	c := &Config{
		Version:    y.Version,
		MountPoint: y.MountPoint,
		CTag:       y.CTag,
	}
	if c.CTag == "" {
		c.CTag = "marfs"
	}
	for _, ry := range y.Repos {
		repo, err := initRepo(ry)
		if err != nil {
			return nil, err
		}
		c.Repos = append(c.Repos, repo)
		nss := ry.Namespaces
		if len(nss) == 0 {
			nss = []nsYAML{{Name: "root"}}
		}
		for _, nsy := range nss {
			if err := c.addNS(repo, nsy, "/", -1); err != nil {
				return nil, err
			}
		}
	}
	return c, nil
}

func initRepo(ry repoYAML) (*Repo, error) {
	if ry.Name == "" {
		return nil, fmt.Errorf("config: repo with no name")
	}
	if strings.ContainsAny(ry.Name, "()|") {
		return nil, fmt.Errorf("config: repo name %q contains reserved characters", ry.Name)
	}
	repo := &Repo{Name: ry.Name, Data: ry.Data, Meta: ry.Meta}
	if repo.Data.Protection.N < 1 {
		return nil, fmt.Errorf("config: repo %q: protection N must be positive", ry.Name)
	}
	if repo.Data.Protection.PartSize < 1 {
		return nil, fmt.Errorf("config: repo %q: protection partsz must be positive", ry.Name)
	}
	if repo.Meta.RefDirs < 1 {
		repo.Meta.RefDirs = 1024
	}
	repo.Tables = placement.Tables{
		Pods:     ry.Data.Pods,
		Caps:     ry.Data.Caps,
		Scatters: ry.Data.Scatters,
		RefDirs:  repo.Meta.RefDirs,
	}
	if err := repo.Tables.Validate(); err != nil {
		return nil, fmt.Errorf("config: repo %q: %w", ry.Name, err)
	}
	switch ry.Meta.MDAL {
	case "", "posix":
		m, err := mdal.NewPosix(ry.Meta.Path)
		if err != nil {
			return nil, fmt.Errorf("config: repo %q: %w", ry.Name, err)
		}
		repo.MDAL = m
	case "sqlite":
		m, err := mdal.NewSQLite(ry.Meta.Path)
		if err != nil {
			return nil, fmt.Errorf("config: repo %q: %w", ry.Name, err)
		}
		repo.MDAL = m
	default:
		return nil, fmt.Errorf("config: repo %q: unknown mdal kind %q", ry.Name, ry.Meta.MDAL)
	}
	store, err := ne.NewLocal(ry.Data.Store)
	if err != nil {
		return nil, fmt.Errorf("config: repo %q: %w", ry.Name, err)
	}
	repo.NE = store
	return repo, nil
}

func (c *Config) addNS(repo *Repo, nsy nsYAML, parentPath string, parent int) error {
	if nsy.Name == "" {
		return fmt.Errorf("config: repo %q: namespace with no name", repo.Name)
	}
	nspath := parentPath
	if parent >= 0 {
		nspath = path.Join(parentPath, nsy.Name)
	}
	ns := &Namespace{
		Name:   nsy.Name,
		Path:   nspath,
		IDStr:  repo.Name + "|" + nspath,
		FQuota: nsy.FQuota,
		DQuota: nsy.DQuota,
		Repo:   repo,
		Parent: parent,
	}
	c.Namespaces = append(c.Namespaces, ns)
	idx := len(c.Namespaces) - 1
	for _, sub := range nsy.Subspaces {
		if err := c.addNS(repo, sub, nspath, idx); err != nil {
			return err
		}
	}
	return nil
}

// LookupNS finds the namespace owning nspath (longest-prefix match within any
// repo's tree).
func (c *Config) LookupNS(nspath string) (*Namespace, error) {
	clean := path.Clean("/" + nspath)
	var best *Namespace
	for _, ns := range c.Namespaces {
		if clean == ns.Path || strings.HasPrefix(clean, strings.TrimSuffix(ns.Path, "/")+"/") {
			if best == nil || len(ns.Path) > len(best.Path) {
				best = ns
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("config: no namespace owns %q", nspath)
	}
	return best, nil
}

// Verify creates (when fix is set) or checks every namespace and reference
// tree of the topology, returning the count of uncorrected problems.
func (c *Config) Verify(fix bool) (int, error) {
	problems := 0
	for _, ns := range c.Namespaces {
		refdirs := ns.Repo.Tables.AllRefDirs()
		if err := ns.Repo.MDAL.Verify(ns.Path, refdirs, fix); err != nil {
			problems++
		}
	}
	return problems, nil
}

// NSInfo splits a namespace ID string into its repo name and path.
func NSInfo(idstr string) (repo, nspath string, err error) {
	i := strings.IndexByte(idstr, '|')
	if i <= 0 || i == len(idstr)-1 {
		return "", "", fmt.Errorf("config: malformed namespace id %q", idstr)
	}
	return idstr[:i], idstr[i+1:], nil
}
