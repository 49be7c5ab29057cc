// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package uploads persists uploaded source videos under generated,
// collision-free names. Stored files are written atomically and never
// overwritten.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/ManuGH/vencode/internal/encoding/model"
	"github.com/ManuGH/vencode/internal/log"
)

const maxNameLen = 200

// Store writes uploads into a single flat directory.
type Store struct {
	dir      string
	maxBytes int64
}

// New creates the upload directory if needed. maxBytes <= 0 disables the
// size limit.
func New(dir string, maxBytes int64) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("uploads: directory is required")
	}
	// #nosec G301
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("uploads: create dir: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string { return s.dir }

// SanitizeFilename reduces a client supplied name to a safe base name:
// NFC-normalized, no path components, no control characters.
func SanitizeFilename(name string) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	switch name {
	case "", ".", "..", "/":
		return "", &model.ValidationError{Field: "filename", Msg: "empty or invalid filename"}
	}
	if len(name) > maxNameLen {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = truncateUTF8(strings.TrimSuffix(name, filepath.Ext(name)), maxNameLen-len(ext)) + ext
	}
	return name, nil
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// Save stores the body under "<uuid>_<sanitized original>" and returns that
// generated name.
func (s *Store) Save(ctx context.Context, body io.Reader, original string) (string, error) {
	clean, err := SanitizeFilename(original)
	if err != nil {
		return "", err
	}
	stored := uuid.NewString() + "_" + clean
	path := filepath.Join(s.dir, stored)

	if _, err := os.Lstat(path); err == nil {
		return "", fmt.Errorf("uploads: %s: %w", stored, model.ErrConflict)
	}

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o640))
	if err != nil {
		return "", fmt.Errorf("uploads: create pending file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger := log.WithComponent("uploads")
			logger.Debug().Err(err).Msg("cleanup pending upload")
		}
	}()

	src := body
	if s.maxBytes > 0 {
		src = io.LimitReader(body, s.maxBytes+1)
	}
	n, err := io.Copy(pending, contextReader{ctx: ctx, r: src})
	if err != nil {
		return "", fmt.Errorf("uploads: write %s: %w", stored, err)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		return "", &model.ValidationError{Field: "video", Msg: fmt.Sprintf("upload exceeds %d bytes", s.maxBytes)}
	}
	if n == 0 {
		return "", &model.ValidationError{Field: "video", Msg: "upload is empty"}
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("uploads: commit %s: %w", stored, err)
	}

	logger := log.WithContext(ctx, log.WithComponent("uploads"))
	logger.Debug().
		Str(log.FieldEvent, "upload.stored").
		Str(log.FieldPath, stored).
		Int64("bytes", n).
		Msg("upload stored")
	return stored, nil
}

// Path resolves a stored name to its absolute location. Names that would
// escape the directory are rejected.
func (s *Store) Path(stored string) (string, error) {
	if stored == "" || stored != filepath.Base(stored) || stored == "." || stored == ".." {
		return "", &model.ValidationError{Field: "filename", Msg: "invalid stored name"}
	}
	return filepath.Join(s.dir, stored), nil
}

// Remove deletes a stored upload. Removing a missing file is not an error.
func (s *Store) Remove(stored string) error {
	path, err := s.Path(stored)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("uploads: remove %s: %w", stored, err)
	}
	return nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
