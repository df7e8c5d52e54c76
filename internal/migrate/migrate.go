// Package migrate runs versioned transforms over persisted state documents.
//
// A Chain maps target versions to transforms. Migrating from version V to T
// applies the transforms registered for V+1..T in ascending order, carrying
// the result of each into the next. Versions without a transform are skipped
// and reported; the chain never invents a transform.
//
// Transforms run against arbitrarily old snapshots, so they must be total:
// every field may be missing or have the wrong shape.
package migrate

import (
	"fmt"
	"log/slog"
	"slices"
)

// Doc is a decoded JSON document.
type Doc = map[string]any

// Transform brings a document from version v-1 to version v. It may modify
// doc in place and must return the resulting document.
type Transform func(doc Doc) Doc

// Chain is an ordered set of transforms keyed by target version.
// A Chain is immutable after construction and safe for concurrent use.
type Chain struct {
	transforms map[int]Transform
	latest     int
	logger     *slog.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the logger used to report applied and skipped versions.
func WithLogger(l *slog.Logger) Option {
	return func(c *Chain) {
		c.logger = l
	}
}

// NewChain creates a chain from the given transforms.
// The map is copied.
func NewChain(transforms map[int]Transform, opts ...Option) *Chain {
	c := &Chain{
		transforms: make(map[int]Transform, len(transforms)),
	}
	for v, fn := range transforms {
		c.transforms[v] = fn
		if v > c.latest {
			c.latest = v
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Latest returns the highest registered target version.
func (c *Chain) Latest() int {
	return c.latest
}

// Versions returns the registered target versions in ascending order.
func (c *Chain) Versions() []int {
	vs := make([]int, 0, len(c.transforms))
	for v := range c.transforms {
		vs = append(vs, v)
	}
	slices.Sort(vs)
	return vs
}

// Result describes one Migrate call.
type Result struct {
	From    int
	To      int
	Applied []int
	// Skipped lists versions in (From, To] with no registered transform.
	// A non-empty Skipped means the document may be under-migrated.
	Skipped []int
}

// Migrate applies transforms for every version in (from, to].
// from == to is a no-op; to < from is an error since versions never go backwards.
func (c *Chain) Migrate(doc Doc, from, to int) (Doc, error) {
	doc, _, err := c.MigrateResult(doc, from, to)
	return doc, err
}

// MigrateResult is like Migrate but also reports which versions ran.
func (c *Chain) MigrateResult(doc Doc, from, to int) (Doc, Result, error) {
	res := Result{From: from, To: to}
	if to < from {
		return doc, res, fmt.Errorf("migrate: target version %d is older than %d", to, from)
	}
	if doc == nil {
		doc = Doc{}
	}

	for v := from + 1; v <= to; v++ {
		fn, ok := c.transforms[v]
		if !ok {
			res.Skipped = append(res.Skipped, v)
			continue
		}
		if next := fn(doc); next != nil {
			doc = next
		}
		res.Applied = append(res.Applied, v)
	}

	if len(res.Skipped) > 0 {
		c.log().Warn("migration versions without transform", "from", from, "to", to, "skipped", res.Skipped)
	} else if len(res.Applied) > 0 {
		c.log().Debug("migrated document", "from", from, "to", to, "applied", res.Applied)
	}
	return doc, res, nil
}

func (c *Chain) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}
