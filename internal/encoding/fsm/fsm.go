// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fsm

import (
	"fmt"

	"github.com/ManuGH/vencode/internal/encoding/model"
)

// Edge describes a single permitted move between two states.
type Edge[S ~string] struct {
	From S
	To   S
}

// Table is a strict transition table: unknown edges are errors.
// It is immutable after construction and safe for concurrent use.
type Table[S ~string] struct {
	index    map[string]struct{}
	terminal map[S]struct{}
}

// New builds a table from the given edges. Duplicate edges are rejected.
func New[S ~string](edges []Edge[S]) (*Table[S], error) {
	idx := make(map[string]struct{}, len(edges))
	sources := make(map[S]struct{})
	states := make(map[S]struct{})
	for _, e := range edges {
		k := key(e.From, e.To)
		if _, exists := idx[k]; exists {
			return nil, fmt.Errorf("duplicate transition: %s -> %s", e.From, e.To)
		}
		idx[k] = struct{}{}
		sources[e.From] = struct{}{}
		states[e.From] = struct{}{}
		states[e.To] = struct{}{}
	}
	terminal := make(map[S]struct{})
	for s := range states {
		if _, ok := sources[s]; !ok {
			terminal[s] = struct{}{}
		}
	}
	return &Table[S]{index: idx, terminal: terminal}, nil
}

// MustNew is New for package-level tables.
func MustNew[S ~string](edges []Edge[S]) *Table[S] {
	t, err := New(edges)
	if err != nil {
		panic(err)
	}
	return t
}

// Allowed reports whether from -> to is a permitted edge.
func (t *Table[S]) Allowed(from, to S) bool {
	_, ok := t.index[key(from, to)]
	return ok
}

// Check returns an error naming the rejected edge.
func (t *Table[S]) Check(from, to S) error {
	if !t.Allowed(from, to) {
		return fmt.Errorf("invalid transition: state=%s target=%s", from, to)
	}
	return nil
}

// Terminal reports whether s has no outgoing edges.
func (t *Table[S]) Terminal(s S) bool {
	_, ok := t.terminal[s]
	return ok
}

func key[S ~string](from, to S) string {
	return string(from) + "|" + string(to)
}

// Jobs is the job lifecycle: queued -> running -> {completed, failed}, with
// queued -> failed for failures detected before the transcoder starts.
var Jobs = MustNew([]Edge[model.JobStatus]{
	{From: model.JobQueued, To: model.JobRunning},
	{From: model.JobQueued, To: model.JobFailed},
	{From: model.JobRunning, To: model.JobCompleted},
	{From: model.JobRunning, To: model.JobFailed},
})
