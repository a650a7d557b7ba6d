// Command marfs-streamutil drives the datastream API interactively: create,
// open, read, write, seek, extend, truncate, and inspect files across a set
// of numbered stream slots. Useful for poking at a repo without a mount.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dmp265/marfs/internal/config"
	"github.com/dmp265/marfs/internal/datastream"
)

const prompt = "> "

type shell struct {
	cfg     *config.Config
	pos     *datastream.Position
	streams []*datastream.Stream
	out     io.Writer
}

func main() {
	config.LoadEnvFile(".env")
	cfgPath := flag.String("config", config.ConfigPathFromEnv("marfs.yaml"), "Topology file")
	nsPath := flag.String("ns", "/", "Namespace to operate in")
	initialize := flag.Bool("init", false, "Create namespaces and reference trees first")
	script := flag.String("i", "", "Read commands from a file instead of stdin")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if problems, err := cfg.Verify(*initialize); err != nil {
		log.Fatalf("verify config: %v", err)
	} else if problems > 0 {
		log.Fatalf("topology has %d uncorrected problems (rerun with -init?)", problems)
	}
	ns, err := cfg.LookupNS(*nsPath)
	if err != nil {
		log.Fatalf("lookup namespace: %v", err)
	}
	ctxt, err := ns.Repo.MDAL.NewContext(ns.Path)
	if err != nil {
		log.Fatalf("namespace context: %v", err)
	}

	in := io.Reader(os.Stdin)
	interactive := true
	if *script != "" {
		f, err := os.Open(*script)
		if err != nil {
			log.Fatalf("open command file: %v", err)
		}
		defer f.Close()
		in = f
		interactive = false
	}

	sh := &shell{
		cfg:     cfg,
		pos:     &datastream.Position{NS: ns, Ctxt: ctxt},
		streams: make([]*datastream.Stream, 8),
		out:     os.Stdout,
	}
	fmt.Fprintln(sh.out, "ready for commands ('help' lists them)")
	sc := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(sh.out, prompt)
		}
		if !sc.Scan() {
			break
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		if err := sh.dispatch(line); err != nil {
			fmt.Fprintf(sh.out, "ERROR: %v\n", err)
		}
	}
	// wind down anything still open
	for i, s := range sh.streams {
		if s == nil {
			continue
		}
		if err := datastream.Close(s); err != nil {
			fmt.Fprintf(sh.out, "ERROR: close stream %d: %v\n", i, err)
		}
	}
}

// args holds the parsed "-x value" options of one command line.
type args struct {
	vals map[byte]string
}

func parseArgs(fields []string) (*args, error) {
	a := &args{vals: map[byte]string{}}
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if len(f) != 2 || f[0] != '-' {
			return nil, fmt.Errorf("unrecognized argument %q", f)
		}
		if i+1 >= len(fields) {
			return nil, fmt.Errorf("%q lacks a value", f)
		}
		if _, dup := a.vals[f[1]]; dup {
			return nil, fmt.Errorf("duplicate %q argument", f)
		}
		a.vals[f[1]] = fields[i+1]
		i++
	}
	return a, nil
}

func (a *args) str(c byte, def string) string {
	if v, ok := a.vals[c]; ok {
		return v
	}
	return def
}

func (a *args) num(c byte, def uint64) (uint64, error) {
	v, ok := a.vals[c]
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad numeric value %q for -%c", v, c)
	}
	return n, nil
}

func (sh *shell) slot(a *args) (int, error) {
	n, err := a.num('s', 0)
	if err != nil {
		return 0, err
	}
	if n >= 256 {
		return 0, fmt.Errorf("stream number %d out of range", n)
	}
	for uint64(len(sh.streams)) <= n {
		sh.streams = append(sh.streams, nil)
	}
	return int(n), nil
}

func (sh *shell) dispatch(line string) error {
	fields := strings.Fields(line)
	op := fields[0]
	a, err := parseArgs(fields[1:])
	if err != nil {
		return err
	}
	switch op {
	case "help":
		sh.usage()
		return nil
	case "create":
		return sh.create(a)
	case "open":
		return sh.open(a)
	case "write":
		return sh.write(a)
	case "read":
		return sh.read(a)
	case "seek":
		return sh.seek(a)
	case "extend":
		return sh.extend(a)
	case "truncate":
		return sh.truncate(a)
	case "utime":
		return sh.utime(a)
	case "recovpath":
		return sh.recovpath(a)
	case "chunkbounds":
		return sh.chunkbounds(a)
	case "tag":
		return sh.tag(a)
	case "streamlist":
		return sh.streamlist()
	case "release":
		return sh.finish(a, datastream.Release)
	case "close":
		return sh.finish(a, datastream.Close)
	}
	return fmt.Errorf("unknown op %q", op)
}

func (sh *shell) usage() {
	for _, l := range []string{
		"create      -p path [-m mode] [-c ctag] [-s streamnum]",
		"open        -t read|edit -p path [-s streamnum]",
		"write       -s streamnum (-b bytes | -i inputfile)",
		"read        -s streamnum -b bytes [-o outputfile]",
		"seek        -s streamnum -@ offset -f set|cur|end",
		"extend      -s streamnum -l length",
		"truncate    -s streamnum -l length",
		"utime       -s streamnum",
		"recovpath   -s streamnum -p path",
		"chunkbounds -s streamnum -n chunknum",
		"tag         -s streamnum",
		"streamlist",
		"release     -s streamnum",
		"close       -s streamnum",
		"exit",
	} {
		fmt.Fprintln(sh.out, "  "+l)
	}
}

func (sh *shell) create(a *args) error {
	path := a.str('p', "")
	if path == "" {
		return fmt.Errorf("create requires -p path")
	}
	mode, err := a.num('m', 0o644)
	if err != nil {
		return err
	}
	slot, err := sh.slot(a)
	if err != nil {
		return err
	}
	ctag := a.str('c', config.CTagFromEnv(sh.cfg.CTag))
	s, err := datastream.Create(sh.streams[slot], path, sh.pos, uint32(mode), ctag)
	sh.streams[slot] = s
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "stream %d: created %q\n", slot, path)
	return nil
}

func (sh *shell) open(a *args) error {
	var stype datastream.StreamType
	switch a.str('t', "") {
	case "read":
		stype = datastream.ReadStream
	case "edit":
		stype = datastream.EditStream
	default:
		return fmt.Errorf("open requires -t read|edit")
	}
	path := a.str('p', "")
	if path == "" {
		return fmt.Errorf("open requires -p path")
	}
	slot, err := sh.slot(a)
	if err != nil {
		return err
	}
	s, err := datastream.Open(sh.streams[slot], stype, path, sh.pos)
	sh.streams[slot] = s
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "stream %d: opened %q for %s\n", slot, path, a.str('t', ""))
	return nil
}

func (sh *shell) active(a *args) (int, *datastream.Stream, error) {
	slot, err := sh.slot(a)
	if err != nil {
		return 0, nil, err
	}
	if sh.streams[slot] == nil {
		return 0, nil, fmt.Errorf("stream %d is not active", slot)
	}
	return slot, sh.streams[slot], nil
}

func (sh *shell) write(a *args) error {
	_, s, err := sh.active(a)
	if err != nil {
		return err
	}
	var data []byte
	if in := a.str('i', ""); in != "" {
		data, err = os.ReadFile(in)
		if err != nil {
			return err
		}
	} else {
		n, err := a.num('b', 0)
		if err != nil {
			return err
		}
		data = make([]byte, n)
		for i := range data {
			data[i] = byte(i)
		}
	}
	n, err := s.Write(data)
	fmt.Fprintf(sh.out, "wrote %d bytes\n", n)
	return err
}

func (sh *shell) read(a *args) error {
	_, s, err := sh.active(a)
	if err != nil {
		return err
	}
	n, err := a.num('b', 0)
	if err != nil {
		return err
	}
	buf := make([]byte, n)
	got, err := s.Read(buf)
	if err != nil && err != io.EOF {
		return err
	}
	if out := a.str('o', ""); out != "" {
		if err := os.WriteFile(out, buf[:got], 0o644); err != nil {
			return err
		}
	}
	fmt.Fprintf(sh.out, "read %d bytes\n", got)
	return nil
}

func (sh *shell) seek(a *args) error {
	_, s, err := sh.active(a)
	if err != nil {
		return err
	}
	off, err := a.num('@', 0)
	if err != nil {
		return err
	}
	var whence int
	switch a.str('f', "set") {
	case "set":
		whence = io.SeekStart
	case "cur":
		whence = io.SeekCurrent
	case "end":
		whence = io.SeekEnd
	default:
		return fmt.Errorf("-f accepts set/cur/end")
	}
	pos, err := s.Seek(int64(off), whence)
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "position %d\n", pos)
	return nil
}

func (sh *shell) extend(a *args) error {
	_, s, err := sh.active(a)
	if err != nil {
		return err
	}
	l, err := a.num('l', 0)
	if err != nil {
		return err
	}
	return s.Extend(l)
}

func (sh *shell) truncate(a *args) error {
	_, s, err := sh.active(a)
	if err != nil {
		return err
	}
	l, err := a.num('l', 0)
	if err != nil {
		return err
	}
	return s.Truncate(l)
}

func (sh *shell) utime(a *args) error {
	_, s, err := sh.active(a)
	if err != nil {
		return err
	}
	now := time.Now()
	return s.Utimens(now, now)
}

func (sh *shell) recovpath(a *args) error {
	_, s, err := sh.active(a)
	if err != nil {
		return err
	}
	path := a.str('p', "")
	if path == "" {
		return fmt.Errorf("recovpath requires -p path")
	}
	return s.SetRecoveryPath(path)
}

func (sh *shell) chunkbounds(a *args) error {
	_, s, err := sh.active(a)
	if err != nil {
		return err
	}
	n, err := a.num('n', 0)
	if err != nil {
		return err
	}
	off, size, err := s.ChunkBounds(int(n))
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "chunk %d: offset %d, size %d\n", n, off, size)
	return nil
}

func (sh *shell) tag(a *args) error {
	_, s, err := sh.active(a)
	if err != nil {
		return err
	}
	ftag := s.CurrentFTag()
	enc, err := ftag.Encode()
	if err != nil {
		return err
	}
	fmt.Fprintln(sh.out, enc)
	return nil
}

func (sh *shell) streamlist() error {
	for i, s := range sh.streams {
		if s == nil {
			continue
		}
		ftag := s.CurrentFTag()
		fmt.Fprintf(sh.out, "%d: %s stream, file %d of %q\n", i, s.Type(), ftag.FileNo, ftag.StreamID)
	}
	return nil
}

func (sh *shell) finish(a *args, fn func(*datastream.Stream) error) error {
	slot, s, err := sh.active(a)
	if err != nil {
		return err
	}
	sh.streams[slot] = nil
	return fn(s)
}
