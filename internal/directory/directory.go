// Package directory defines the Directory Port (component D): the single
// abstract capability every concrete backend (SQL, INI, HTTP-JSON, Redis —
// all out of scope per §1/§6) and every cache layer (component E) must
// implement, plus a StaticDirectory reference/test backend.
package directory

import (
	"context"

	"github.com/AdguardTeam/golibs/errors"

	"github.com/flandhcp/staticdhcpd/internal/addr"
	"github.com/flandhcp/staticdhcpd/internal/lease"
)

// Port is the Directory Port contract (§4.D): resolve a MAC to zero, one,
// or many candidate lease definitions. Implementations must be safe for
// concurrent use; Lookup may block (e.g. a remote backend), which is why
// every call site takes a context.
type Port interface {
	// Lookup resolves mac to its candidate lease definitions. A nil slice
	// with a nil error means "no definition known for this MAC" — callers
	// compare against lease.ErrNotFound only when the backend chooses to
	// report absence as an error rather than an empty result; both forms
	// are legal and the pipeline (component G) treats them identically.
	Lookup(ctx context.Context, mac addr.MAC) ([]*lease.Definition, error)
}

// Reinitialiser is the optional second capability (§4.D): an administrative
// flush invoked on SIGHUP or a web-triggered reload. Backends and caches
// that have no state to discard simply don't implement it; callers type-
// assert for it rather than requiring it on Port.
type Reinitialiser interface {
	Reinitialise(ctx context.Context) error
}

// StaticDirectory is the in-process reference backend (§4.D): a map
// populated once (typically at startup, from an embedder's own config
// source) standing in for the out-of-scope SQL/INI/HTTP-JSON/Redis
// backends, the same role internal/dhcpsvc's Empty implementation plays for
// its Interface type in the teacher.
type StaticDirectory struct {
	entries map[addr.MAC][]*lease.Definition
}

var _ Port = (*StaticDirectory)(nil)

// NewStaticDirectory builds a StaticDirectory from a pre-populated mapping.
// A nil map is treated as empty.
func NewStaticDirectory(entries map[addr.MAC][]*lease.Definition) *StaticDirectory {
	if entries == nil {
		entries = make(map[addr.MAC][]*lease.Definition)
	}
	return &StaticDirectory{entries: entries}
}

// Lookup implements [Port].
func (d *StaticDirectory) Lookup(_ context.Context, mac addr.MAC) ([]*lease.Definition, error) {
	defs, ok := d.entries[mac]
	if !ok {
		return nil, nil
	}
	out := make([]*lease.Definition, len(defs))
	for i, def := range defs {
		out[i] = def.Clone()
	}
	return out, nil
}

// Set installs (or replaces) the candidate definitions for mac, dropping any
// that fail [lease.Definition.Validate]. It is not part of the Port
// contract; it exists so tests and simple embedders can populate a
// StaticDirectory without a real backend.
func (d *StaticDirectory) Set(mac addr.MAC, defs ...*lease.Definition) {
	valid := make([]*lease.Definition, 0, len(defs))
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			continue
		}
		valid = append(valid, def)
	}
	d.entries[mac] = valid
}

// ErrBackend is the sentinel a concrete backend wraps when its I/O fails
// (§7 "DirectoryError"); the pipeline matches on it with errors.Is to
// decide whether to apply the directory-failure notification cooldown.
const ErrBackend errors.Error = "directory: backend lookup failed"
