// Package nested resolves chained addresses that reach bytes inside
// arbitrarily nested containers, for example
//
//	capsule:/opt/app.cap!/app/lib/dep.zip!/pkg/data.bin
//
// Each "!/" step descends into a nested container. Resolution caches
// opened containers process-wide so a nested container's index is built at
// most once, no matter how many chains terminate at it.
package nested

import (
	"fmt"
	"strings"
)

// Scheme is the address scheme the resolver registers with the generic
// resource registry.
const Scheme = "capsule"

const delimiter = "!/"

// Address is the parsed form of a chained address: a root container
// location plus the ordered entry segments descending from it. The chained
// string form exists only at the external boundary; resolution always
// walks the explicit segment list.
type Address struct {
	Root     string
	Segments []string
}

// ParseAddress parses the chained string form. The "capsule:" scheme
// prefix is optional.
func ParseAddress(raw string) (Address, error) {
	rest := strings.TrimPrefix(raw, Scheme+":")
	parts := strings.Split(rest, delimiter)
	if parts[0] == "" {
		return Address{}, fmt.Errorf("nested: address %q has no root container", raw)
	}
	addr := Address{Root: parts[0]}
	for _, seg := range parts[1:] {
		if seg == "" {
			return Address{}, fmt.Errorf("nested: address %q has an empty segment", raw)
		}
		addr.Segments = append(addr.Segments, seg)
	}
	return addr, nil
}

// String renders the chained form with the scheme prefix. It round-trips
// with ParseAddress.
func (a Address) String() string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteByte(':')
	b.WriteString(a.Root)
	for _, seg := range a.Segments {
		b.WriteString(delimiter)
		b.WriteString(seg)
	}
	return b.String()
}
