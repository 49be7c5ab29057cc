// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package worker

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/vencode/internal/encoding/ffmpeg"
	"github.com/ManuGH/vencode/internal/encoding/model"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nfor a; do out=$a; done\n"+body+"\n"), 0o755))
	return path
}

func TestExecutor_EndToEnd1080p(t *testing.T) {
	argv := filepath.Join(t.TempDir(), "argv")
	bin := writeScript(t, `echo "$@" > `+argv+`
printf 'encoded' > "$out"`)

	h := newHarness(t, ffmpeg.NewExecutor(bin, time.Second, 20), Config{Workers: 1}, nil)
	pid := h.profile(t, "1080p", hd1080())
	h.start(t)

	job := h.submit(t, "sample.mp4", pid)
	final := h.waitTerminal(t, job.ID)

	require.Equal(t, model.JobCompleted, final.Status, final.Detail)
	assert.Equal(t, "sample_1080p_encoded.mp4", final.OutputFilename)

	raw, err := os.ReadFile(h.orch.OutputPath(final))
	require.NoError(t, err)
	assert.Equal(t, "encoded", string(raw))

	got, err := os.ReadFile(argv)
	require.NoError(t, err)
	fields := strings.Fields(string(got))
	require.GreaterOrEqual(t, len(fields), 4)
	assert.Equal(t, "-i", fields[0])
	assert.True(t, strings.HasSuffix(fields[1], "_sample.mp4"))
	assert.Equal(t, []string{"-s", "1920x1080", "-c:v", "libx264", "-c:a", "aac"}, fields[2:8])
	assert.True(t, strings.HasSuffix(fields[len(fields)-1], "sample_1080p_encoded.mp4"))
}

func TestExecutor_CancelKillsProcess(t *testing.T) {
	bin := writeScript(t, `printf 'partial' > "$out"
sleep 30`)

	h := newHarness(t, ffmpeg.NewExecutor(bin, 200*time.Millisecond, 20), Config{Workers: 1}, nil)
	pid := h.profile(t, "1080p", hd1080())
	h.start(t)

	job := h.submit(t, "sample.mp4", pid)
	require.Eventually(t, func() bool {
		j, err := h.orch.Status(context.Background(), job.ID)
		return err == nil && j.Status == model.JobRunning
	}, 5*time.Second, 5*time.Millisecond)

	final, err := h.orch.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, final.Status)
	assert.Equal(t, "cancelled", final.Detail)
	assert.Empty(t, final.OutputFilename)
}
