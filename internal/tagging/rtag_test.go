package tagging

import "testing"

func TestRTagRoundTrip(t *testing.T) {
	r := RTag{
		MajorVersion: RTagMajorVersion,
		MinorVersion: RTagMinorVersion,
		StripeWidth:  4,
		PartSize:     1024,
		TotalSize:    987654,
		DataHealth:   []bool{true, false, true, true},
		MetaHealth:   []bool{true, true, true, false},
	}
	enc, err := r.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := ParseRTag(enc)
	if err != nil {
		t.Fatalf("parse %q: %v", enc, err)
	}
	if got.StripeWidth != r.StripeWidth || got.PartSize != r.PartSize || got.TotalSize != r.TotalSize {
		t.Errorf("scalar fields mismatch: %+v vs %+v", got, r)
	}
	for i := range r.DataHealth {
		if got.DataHealth[i] != r.DataHealth[i] || got.MetaHealth[i] != r.MetaHealth[i] {
			t.Errorf("health bit %d mismatch", i)
		}
	}
	// byte-identical re-encode
	re, err := got.Encode()
	if err != nil || re != enc {
		t.Errorf("re-encode mismatch: %q vs %q (%v)", re, enc, err)
	}
}

func TestRTagRejectsMismatchedHealth(t *testing.T) {
	r := RTag{StripeWidth: 3, DataHealth: []bool{true}, MetaHealth: []bool{true, true, true}}
	if _, err := r.Encode(); err == nil {
		t.Error("health shorter than stripe width should be rejected")
	}
}

func TestRTagParseGarbage(t *testing.T) {
	for _, bad := range []string{
		"",
		"(1.0|x|1|1|d.1|m.1)",
		"(0.1|2|1|1|d.10|m.1)",  // meta width mismatch
		"(0.1|2|1|1|d.1x|m.11)", // bad health bit
		"(9.0|2|1|1|d.11|m.11)", // future major version
	} {
		if _, err := ParseRTag(bad); err == nil {
			t.Errorf("ParseRTag(%q) should fail", bad)
		}
	}
}
