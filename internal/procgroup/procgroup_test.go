// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startGroup(t *testing.T, script string) (*exec.Cmd, chan error) {
	t.Helper()
	cmd := exec.Command("sh", "-c", script)
	Set(cmd)
	require.NoError(t, cmd.Start())

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()
	return cmd, waitCh
}

func TestSet_MakesGroupLeader(t *testing.T) {
	cmd, waitCh := startGroup(t, "sleep 10")
	defer func() { _ = Terminate(cmd, waitCh, 100*time.Millisecond) }()

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	require.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, pgid)
}

func TestTerminate_GracefulStopsWholeGroup(t *testing.T) {
	cmd, waitCh := startGroup(t, "sleep 10 & sleep 10")
	time.Sleep(100 * time.Millisecond)
	pgid := cmd.Process.Pid

	err := Terminate(cmd, waitCh, 2*time.Second)
	require.Error(t, err)
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))

	assert.Eventually(t, func() bool {
		return errors.Is(syscall.Kill(-pgid, syscall.Signal(0)), syscall.ESRCH)
	}, 2*time.Second, 20*time.Millisecond, "process group should be gone")
}

func TestTerminate_EscalatesToKill(t *testing.T) {
	cmd, waitCh := startGroup(t, "trap '' TERM; while true; do sleep 1; done")
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	err := Terminate(cmd, waitCh, 200*time.Millisecond)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr))
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	assert.True(t, status.Signaled())
	assert.Equal(t, syscall.SIGKILL, status.Signal())
}

func TestKill_NilAndExited(t *testing.T) {
	assert.NoError(t, Kill(nil, syscall.SIGTERM))
	assert.NoError(t, Terminate(nil, nil, time.Millisecond))

	cmd := exec.Command("true")
	Set(cmd)
	require.NoError(t, cmd.Run())
	assert.NoError(t, Kill(cmd, syscall.SIGTERM))
}
