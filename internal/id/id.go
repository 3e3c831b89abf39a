// Package id generates unique, time-ordered identifiers scoped to one
// database instance. Every instance owns its own generator, so two
// databases opened in the same process never share a counter.
package id

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/xid"
)

// Generator produces ids of the form "<prefix>-<xid>-<seq>". The xid
// part carries a second-resolution timestamp plus per-process
// randomness, the sequence disambiguates ids minted within the same
// second by the same generator, and the prefix names the id space
// ("txn", "wal", "doc").
type Generator struct {
	prefix string
	seq    atomic.Uint64
}

// NewGenerator creates a Generator for the given id space.
func NewGenerator(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// Next mints a new id. Safe for concurrent use.
func (g *Generator) Next() string {
	return fmt.Sprintf("%s-%s-%d", g.prefix, xid.New().String(), g.seq.Add(1))
}
