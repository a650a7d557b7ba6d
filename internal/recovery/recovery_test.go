package recovery

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func sampleFInfo() FInfo {
	return FInfo{
		Inode: 123456,
		Mode:  0o100644,
		UID:   1000,
		GID:   1000,
		Size:  987654321,
		MTime: time.Unix(1700000000, 123456789),
		EOF:   true,
		Path:  "proj/data/run42/output.dat",
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	h := Header{
		MajorVersion: MajorVersion,
		MinorVersion: MinorVersion,
		CTag:         "client1",
		StreamID:     "repo|#ns#path|1700000000.42",
	}
	enc, err := h.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := ParseHeader([]byte(enc))
	if err != nil {
		t.Fatalf("parse %q: %v", enc, err)
	}
	if got != h {
		t.Errorf("round trip mismatch: %+v vs %+v", got, h)
	}
}

func TestHeaderLenPureFunctionOfIdentifiers(t *testing.T) {
	l1, err := HeaderLen("ct", "sid")
	if err != nil {
		t.Fatalf("header len: %v", err)
	}
	l2, _ := HeaderLen("ct", "sid")
	if l1 != l2 {
		t.Errorf("header length unstable: %d vs %d", l1, l2)
	}
	l3, _ := HeaderLen("ct", "sid-longer")
	if l3 != l1+7 {
		t.Errorf("header length should grow with streamid: %d vs %d", l3, l1)
	}
}

func TestHeaderVersionGate(t *testing.T) {
	h := Header{MajorVersion: MajorVersion + 1, MinorVersion: 0, CTag: "c", StreamID: "s"}
	enc, _ := h.Encode()
	if _, err := ParseHeader([]byte(enc)); err == nil {
		t.Error("future header major version should be rejected")
	}
}

func TestFInfoRoundTrip(t *testing.T) {
	fi := sampleFInfo()
	enc, err := fi.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if uint64(len(enc)) != fi.EncodedLen() {
		t.Fatalf("encoded length %d, EncodedLen %d", len(enc), fi.EncodedLen())
	}
	got, err := ParseFInfo([]byte(enc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Inode != fi.Inode || got.Mode != fi.Mode || got.UID != fi.UID ||
		got.GID != fi.GID || got.Size != fi.Size || !got.MTime.Equal(fi.MTime) ||
		got.EOF != fi.EOF || got.Path != fi.Path {
		t.Errorf("round trip mismatch:\n in  %+v\n out %+v", fi, got)
	}
}

func TestFInfoLengthDependsOnlyOnPath(t *testing.T) {
	a := sampleFInfo()
	b := sampleFInfo()
	b.Inode = 1
	b.Size = 0
	b.EOF = false
	if a.EncodedLen() != b.EncodedLen() {
		t.Errorf("length should not vary with numeric fields: %d vs %d", a.EncodedLen(), b.EncodedLen())
	}
	b.Path += "x"
	if b.EncodedLen() != a.EncodedLen()+1 {
		t.Errorf("length should grow with path: %d vs %d", b.EncodedLen(), a.EncodedLen())
	}
}

func TestFInfoZeroPadding(t *testing.T) {
	fi := sampleFInfo()
	reserve := fi.EncodedLen() + 40
	buf, err := fi.EncodePadded(reserve)
	if err != nil {
		t.Fatalf("encode padded: %v", err)
	}
	if uint64(len(buf)) != reserve {
		t.Fatalf("padded length %d, want %d", len(buf), reserve)
	}
	for _, b := range buf[fi.EncodedLen():] {
		if b != 0 {
			t.Fatal("padding must be zero bytes")
		}
	}
	// padded content parses unchanged
	got, err := ParseFInfo(buf)
	if err != nil {
		t.Fatalf("parse padded: %v", err)
	}
	if got.Path != fi.Path || got.Size != fi.Size {
		t.Error("padded round trip mismatch")
	}
}

func TestFInfoReservationTooSmall(t *testing.T) {
	fi := sampleFInfo()
	if _, err := fi.EncodePadded(fi.EncodedLen() - 1); err == nil {
		t.Error("undersized reservation should be reported")
	}
	if !strings.Contains(func() string {
		_, err := fi.EncodePadded(1)
		return err.Error()
	}(), "needs") {
		t.Error("error should report the needed size")
	}
}

func TestScanObject(t *testing.T) {
	h := Header{MajorVersion: MajorVersion, MinorVersion: MinorVersion, CTag: "ct", StreamID: "sid"}
	hstr, _ := h.Encode()
	var img bytes.Buffer
	img.WriteString(hstr)
	var want []string
	for i, p := range []string{"a", "b/c", "d"} {
		img.Write(bytes.Repeat([]byte{byte(i + 1)}, 100)) // file data
		fi := sampleFInfo()
		fi.Path = p
		fi.EOF = true
		padded, err := fi.EncodePadded(fi.EncodedLen() + 10)
		if err != nil {
			t.Fatalf("encode trailer: %v", err)
		}
		img.Write(padded)
		want = append(want, p)
	}
	hdr, infos, err := ScanObject(img.Bytes())
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if hdr.CTag != "ct" || hdr.StreamID != "sid" {
		t.Errorf("scanned header %+v", hdr)
	}
	if len(infos) != len(want) {
		t.Fatalf("found %d trailers, want %d", len(infos), len(want))
	}
	for i, fi := range infos {
		if fi.Path != want[i] {
			t.Errorf("trailer %d path %q, want %q", i, fi.Path, want[i])
		}
	}
}
