// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import "fmt"

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Options selects and parameterizes a backend.
type Options struct {
	Backend     string
	SQLitePath  string
	PostgresDSN string
}

// Open constructs the configured backend wrapped with metrics.
func Open(opts Options) (Store, error) {
	var (
		s   Store
		err error
	)
	switch opts.Backend {
	case BackendMemory:
		s = NewMemoryStore()
	case BackendSQLite, "":
		s, err = NewSQLiteStore(opts.SQLitePath)
	case BackendPostgres:
		s, err = NewPostgresStore(opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
	if err != nil {
		return nil, err
	}
	backend := opts.Backend
	if backend == "" {
		backend = BackendSQLite
	}
	return NewInstrumentedStore(s, backend), nil
}
