// Package ectx implements the ExecutionContext described in spec.md
// §3: the mutable per-machine dictionary threaded through every action
// during a tick.
package ectx

import "strings"

// Context is the mutable per-machine dictionary. It always contains
// machine_name and, once a job is claimed, job_id/current_job/
// event_data/last_error as populated by the engine and built-in
// actions (spec.md §3).
type Context map[string]any

// New returns an empty Context seeded with machine_name and any
// user-injected initial context (e.g. --initial-context on the CLI).
func New(machineName string, initial map[string]any) Context {
	c := Context{"machine_name": machineName}
	for k, v := range initial {
		c[k] = v
	}
	return c
}

// Get resolves a dot-path (e.g. "current_job.id") against the
// context, returning (nil, false) if any segment is missing or an
// intermediate value is not a map.
func (c Context) Get(dotpath string) (any, bool) {
	parts := strings.Split(dotpath, ".")
	var cur any = map[string]any(c)
	for _, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		val, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = val
	}
	return cur, true
}

// Set assigns a top-level key.
func (c Context) Set(key string, value any) {
	c[key] = value
}

// Flatten copies every top-level key of data into the context root,
// for interpolation convenience. Applied to current_job.data on job
// claim (spec.md §3 "Flattening rule"); current_job.id remains
// addressable via dot notation because current_job itself is also set.
func (c Context) Flatten(data map[string]any) {
	for k, v := range data {
		c[k] = v
	}
}

// Map returns the context as a plain map[string]any, the shape
// expected by internal/interpolate.
func (c Context) Map() map[string]any {
	return map[string]any(c)
}

// Clone returns a shallow copy whose top-level keys can be set
// independently of the original.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
