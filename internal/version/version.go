// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package version

import "fmt"

// Populated via -ldflags "-X github.com/ManuGH/vencode/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String renders the build identity for --version and logs.
func String() string {
	return fmt.Sprintf("vencoded %s (commit %s, built %s)", Version, Commit, Date)
}
