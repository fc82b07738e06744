// Package filter narrows a run to a subset of file names.
package filter

import (
	"fmt"
	"path/filepath"
)

// Rule is one include or exclude glob, matched against a base name.
type Rule struct {
	Glob    string
	Include bool
}

// Chain is an ordered rule list plus size bounds. The first matching rule
// decides; a name no rule matches is included.
type Chain struct {
	rules   []Rule
	minSize int64
	maxSize int64
}

// NewChain creates an empty filter chain.
func NewChain() *Chain {
	return &Chain{}
}

func (c *Chain) add(glob string, include bool) error {
	if _, err := filepath.Match(glob, ""); err != nil {
		return fmt.Errorf("bad pattern %q: %w", glob, err)
	}
	c.rules = append(c.rules, Rule{Glob: glob, Include: include})
	return nil
}

// AddExclude appends an exclude rule.
func (c *Chain) AddExclude(glob string) error { return c.add(glob, false) }

// AddInclude appends an include rule.
func (c *Chain) AddInclude(glob string) error { return c.add(glob, true) }

// SetMinSize drops files smaller than n. Zero disables the bound.
func (c *Chain) SetMinSize(n int64) { c.minSize = n }

// SetMaxSize drops files larger than n. Zero disables the bound.
func (c *Chain) SetMaxSize(n int64) { c.maxSize = n }

// Empty reports whether the chain has no rules and no size bounds.
func (c *Chain) Empty() bool {
	return c == nil || (len(c.rules) == 0 && c.minSize == 0 && c.maxSize == 0)
}

// Match reports whether the file should be kept. A nil chain keeps
// everything.
func (c *Chain) Match(name string, size int64) bool {
	if c == nil {
		return true
	}
	if c.minSize > 0 && size < c.minSize {
		return false
	}
	if c.maxSize > 0 && size > c.maxSize {
		return false
	}

	base := filepath.Base(name)
	for _, r := range c.rules {
		// Patterns were validated in add.
		if ok, _ := filepath.Match(r.Glob, base); ok {
			return r.Include
		}
	}
	return true
}
