package placement

import (
	"strings"
	"testing"

	"github.com/dmp265/marfs/internal/tagging"
)

func testTables() *Tables {
	return &Tables{Pods: 4, Caps: 3, Scatters: 512, RefDirs: 64}
}

func TestObjectLocationDeterministic(t *testing.T) {
	tb := testTables()
	a := tb.ObjectLocation("client|repo|#ns|123.456|obj.0")
	b := tb.ObjectLocation("client|repo|#ns|123.456|obj.0")
	if a != b {
		t.Fatalf("location not stable: %+v vs %+v", a, b)
	}
	if a.Pod < 0 || a.Pod >= tb.Pods || a.Cap < 0 || a.Cap >= tb.Caps || a.Scatter < 0 || a.Scatter >= tb.Scatters {
		t.Fatalf("location out of table bounds: %+v", a)
	}
}

func TestObjectLocationSpreads(t *testing.T) {
	tb := testTables()
	pods := map[int]bool{}
	scatters := map[int]bool{}
	for i := 0; i < 256; i++ {
		loc := tb.ObjectLocation("stream|obj." + strings.Repeat("x", i%7) + string(rune('a'+i%26)))
		pods[loc.Pod] = true
		scatters[loc.Scatter] = true
	}
	if len(pods) < 2 {
		t.Error("pod hashing should use more than one pod over 256 names")
	}
	if len(scatters) < 32 {
		t.Errorf("scatter hashing spread too narrow: %d buckets", len(scatters))
	}
}

func TestRangeHash(t *testing.T) {
	for width := 1; width < 20; width++ {
		v := RangeHash("some|object|name", width)
		if v < 0 || v >= width {
			t.Fatalf("range hash %d outside [0,%d)", v, width)
		}
	}
	if RangeHash("x", 0) != 0 {
		t.Error("zero width should collapse to 0")
	}
}

func TestRefPath(t *testing.T) {
	tb := testTables()
	ftag := &tagging.FTag{CTag: "ct", StreamID: "repo|#ns|1.2", FileNo: 9}
	p1 := tb.RefPath(ftag)
	p2 := tb.RefPath(ftag)
	if p1 != p2 {
		t.Fatalf("ref path not stable: %q vs %q", p1, p2)
	}
	if !strings.HasPrefix(p1, "ref.") || !strings.Contains(p1, "/") {
		t.Errorf("ref path %q should live under a hashed reference dir", p1)
	}
	if !strings.HasSuffix(p1, ftag.MetaTgt()) {
		t.Errorf("ref path %q should end with the meta target name", p1)
	}
	other := *ftag
	other.FileNo = 10
	if tb.RefPath(&other) == p1 {
		t.Error("distinct filenos must map to distinct reference paths")
	}
}

func TestAllRefDirsCoversTable(t *testing.T) {
	tb := testTables()
	dirs := tb.AllRefDirs()
	if len(dirs) != tb.RefDirs {
		t.Fatalf("expected %d dirs, got %d", tb.RefDirs, len(dirs))
	}
	seen := map[string]bool{}
	for _, d := range dirs {
		seen[d] = true
	}
	// every hashed dir must be one of the enumerated dirs
	for i := 0; i < 100; i++ {
		d := tb.RefDir("name" + string(rune('a'+i%26)) + strings.Repeat("y", i%5))
		if !seen[d] {
			t.Fatalf("hashed dir %q not in enumeration", d)
		}
	}
}

func TestValidate(t *testing.T) {
	bad := &Tables{Pods: 0, Caps: 1, Scatters: 1, RefDirs: 1}
	if err := bad.Validate(); err == nil {
		t.Error("zero pod count should be rejected")
	}
	if err := testTables().Validate(); err != nil {
		t.Errorf("valid tables rejected: %v", err)
	}
}
