package tagging

import (
	"fmt"
	"strings"
)

const (
	RTagMajorVersion = 0
	RTagMinorVersion = 1
)

// RTag records the per-stripe health of a data object whose close reported a
// recoverable degradation. It is attached as the MARFS-RTAG xattr to every
// reference file with data in the degraded object, and consumed later by the
// rebuild machinery.
type RTag struct {
	MajorVersion int
	MinorVersion int

	StripeWidth int    // blocks per stripe (N+E)
	PartSize    uint64 // bytes per block per stripe
	TotalSize   uint64 // total object bytes at close

	// Per-block health. false marks a block needing rebuild.
	DataHealth []bool
	MetaHealth []bool
}

// Encode renders the RTAG in its xattr string form.
func (r *RTag) Encode() (string, error) {
	if r.StripeWidth < 1 || len(r.DataHealth) != r.StripeWidth || len(r.MetaHealth) != r.StripeWidth {
		return "", fmt.Errorf("rtag: health lists do not match stripe width %d", r.StripeWidth)
	}
	return fmt.Sprintf("(%d.%d|%d|%d|%d|d.%s|m.%s)",
		r.MajorVersion, r.MinorVersion,
		r.StripeWidth, r.PartSize, r.TotalSize,
		healthString(r.DataHealth), healthString(r.MetaHealth)), nil
}

// ParseRTag decodes an RTAG xattr string.
func ParseRTag(s string) (RTag, error) {
	var r RTag
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return r, fmt.Errorf("rtag: malformed value %q", s)
	}
	fields := strings.Split(s[1:len(s)-1], "|")
	if len(fields) != 6 {
		return r, fmt.Errorf("rtag: expected 6 fields, got %d", len(fields))
	}
	if _, err := fmt.Sscanf(fields[0], "%d.%d", &r.MajorVersion, &r.MinorVersion); err != nil {
		return r, fmt.Errorf("rtag: bad version field %q: %w", fields[0], err)
	}
	if r.MajorVersion > RTagMajorVersion {
		return r, fmt.Errorf("rtag: unsupported major version %d", r.MajorVersion)
	}
	if _, err := fmt.Sscanf(fields[1], "%d", &r.StripeWidth); err != nil || r.StripeWidth < 1 {
		return r, fmt.Errorf("rtag: bad stripe width %q", fields[1])
	}
	if _, err := fmt.Sscanf(fields[2], "%d", &r.PartSize); err != nil {
		return r, fmt.Errorf("rtag: bad partsz field %q", fields[2])
	}
	if _, err := fmt.Sscanf(fields[3], "%d", &r.TotalSize); err != nil {
		return r, fmt.Errorf("rtag: bad totsz field %q", fields[3])
	}
	var err error
	if r.DataHealth, err = parseHealth(fields[4], "d.", r.StripeWidth); err != nil {
		return r, err
	}
	if r.MetaHealth, err = parseHealth(fields[5], "m.", r.StripeWidth); err != nil {
		return r, err
	}
	return r, nil
}

func healthString(h []bool) string {
	var b strings.Builder
	for _, ok := range h {
		if ok {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

func parseHealth(field, prefix string, width int) ([]bool, error) {
	if !strings.HasPrefix(field, prefix) {
		return nil, fmt.Errorf("rtag: health field %q lacks %q prefix", field, prefix)
	}
	bits := field[len(prefix):]
	if len(bits) != width {
		return nil, fmt.Errorf("rtag: health field %q does not match stripe width %d", field, width)
	}
	h := make([]bool, width)
	for i := 0; i < width; i++ {
		switch bits[i] {
		case '1':
			h[i] = true
		case '0':
			h[i] = false
		default:
			return nil, fmt.Errorf("rtag: bad health bit %q in %q", bits[i], field)
		}
	}
	return h, nil
}
