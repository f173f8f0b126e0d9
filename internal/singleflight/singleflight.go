// Package singleflight wraps golang.org/x/sync/singleflight with the
// leader/follower/tier semantics spec §4.7 and §5 require: every caller
// sharing a key while a flight is in progress gets the same outcome
// (success or error). Which tier a follower reports is decided by the
// pipeline, not here.
package singleflight

import (
	"golang.org/x/sync/singleflight"
)

// Outcome is whatever a flight produces; the pipeline stores its own
// result type here.
type Outcome = any

// Group coordinates concurrent misses on the same cache key.
type Group struct {
	g singleflight.Group
}

// Do runs fn for the first caller on key (the leader); concurrent callers
// on the same key (followers) block and share the leader's result,
// including error results, without re-triggering fn. The entry is removed
// from the group as soon as the outcome is published — a caller arriving
// after that point runs fn again as a new leader.
func (g *Group) Do(key string, fn func() (Outcome, error)) (result Outcome, shared bool, err error) {
	v, err, shared := g.g.Do(key, fn)
	return v, shared, err
}

// Forget removes key from the group immediately, so the next caller on key
// becomes a fresh leader even while an earlier flight is still running.
func (g *Group) Forget(key string) {
	g.g.Forget(key)
}
