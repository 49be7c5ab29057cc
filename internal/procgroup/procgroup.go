// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts child processes in their own process group so a
// transcoder and anything it forks can be stopped together.
package procgroup

import (
	"os/exec"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	terminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vencode_proc_terminate_total",
		Help: "Signals sent to child process groups, by signal and result",
	}, []string{"signal", "result"})

	waitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vencode_proc_wait_total",
		Help: "Child exits observed during termination",
	}, []string{"outcome"})
)

func recordSignal(sig string, err error) {
	if err != nil {
		terminateTotal.WithLabelValues(sig, "error").Inc()
		return
	}
	terminateTotal.WithLabelValues(sig, "sent").Inc()
}

// Terminate stops a started command's process group: SIGTERM, wait up to
// grace for waitCh, then SIGKILL. It always drains waitCh and returns the
// Wait error. Safe on nil commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	recordSignal("SIGTERM", Kill(cmd, sigTerm))

	select {
	case err := <-waitCh:
		if err == nil {
			waitTotal.WithLabelValues("exit0").Inc()
		} else {
			waitTotal.WithLabelValues("exit_nonzero").Inc()
		}
		return err
	case <-time.After(grace):
		recordSignal("SIGKILL", Kill(cmd, sigKill))
		err := <-waitCh
		waitTotal.WithLabelValues("forced").Inc()
		return err
	}
}
