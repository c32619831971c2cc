package datachannel

import (
	"strings"

	"github.com/rs/xid"
)

// Labels carry a channel's identity on the wire as name@suffix. The
// suffix is an xid, which sorts in creation order, so a later instance
// of a name always carries a greater suffix.

func parseLabel(label string) (name, suffix string) {
	name, suffix, _ = strings.Cut(label, "@")
	return name, suffix
}

func newLabel(name string) string {
	return name + "@" + xid.New().String()
}

// newerLabel reports whether label a names a later instance than b.
func newerLabel(a, b string) bool {
	_, sa := parseLabel(a)
	_, sb := parseLabel(b)
	return sa > sb
}

func validName(name string) error {
	if name == "" || strings.Contains(name, "@") {
		return ErrInvalidName
	}
	return nil
}
