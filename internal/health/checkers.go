// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"os/exec"
)

// FuncChecker adapts a ping style function. A failing critical check is
// unhealthy; a failing optional one only degrades.
type FuncChecker struct {
	name     string
	critical bool
	fn       func(context.Context) error
}

func NewFuncChecker(name string, critical bool, fn func(context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, critical: critical, fn: fn}
}

func (c *FuncChecker) Name() string { return c.name }

func (c *FuncChecker) Check(ctx context.Context) CheckResult {
	if err := c.fn(ctx); err != nil {
		st := StatusDegraded
		if c.critical {
			st = StatusUnhealthy
		}
		return CheckResult{Status: st, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// BinaryChecker verifies the transcoder binary resolves on PATH.
type BinaryChecker struct {
	Bin string
}

func (c BinaryChecker) Name() string { return "transcoder" }

func (c BinaryChecker) Check(context.Context) CheckResult {
	path, err := exec.LookPath(c.Bin)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: path}
}
