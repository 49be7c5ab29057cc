// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/vencode/internal/encoding/model"
	"github.com/ManuGH/vencode/internal/persistence/sqlite"
)

const schemaVersion = 1

// SQLiteStore implements Store on a single SQLite database file.
// Writes are serialized in-process; WAL keeps readers concurrent.
type SQLiteStore struct {
	DB *sql.DB

	writeMu sync.Mutex
	now     func() time.Time
}

// NewSQLiteStore opens (and migrates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{DB: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("encoding store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS encode_profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS encode_profile_details (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		profile_id INTEGER NOT NULL REFERENCES encode_profiles(id) ON DELETE CASCADE,
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		video_bitrate INTEGER NOT NULL DEFAULT 0,
		audio_bitrate INTEGER NOT NULL DEFAULT 0,
		audio_channel INTEGER NOT NULL DEFAULT 0,
		audio_frequency TEXT NOT NULL DEFAULT '',
		sc_threshold INTEGER NOT NULL DEFAULT 0,
		profile TEXT NOT NULL DEFAULT '',
		level REAL NOT NULL DEFAULT 0,
		max_bitrate INTEGER NOT NULL DEFAULT 0,
		bufsize INTEGER NOT NULL DEFAULT 0,
		movflags TEXT NOT NULL DEFAULT '',
		pix_fmt TEXT NOT NULL DEFAULT '',
		acodec TEXT NOT NULL DEFAULT '',
		vcodec TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_details_profile ON encode_profile_details(profile_id);

	CREATE TABLE IF NOT EXISTS video_jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		video_filename TEXT NOT NULL,
		original_filename TEXT NOT NULL DEFAULT '',
		encoding_profile INTEGER NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		output_filename TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON video_jobs(status);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }
func (s *SQLiteStore) Close() error                   { return s.DB.Close() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) CreateProfile(ctx context.Context, name string) (*model.Profile, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	created := s.now().UTC()
	res, err := s.DB.ExecContext(ctx, `INSERT INTO encode_profiles (name, created_at) VALUES (?, ?)`, name, formatTime(created))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("profile %q: %w", name, model.ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &model.Profile{ID: id, Name: name, CreatedAt: created}, nil
}

func (s *SQLiteStore) GetProfile(ctx context.Context, id int64) (*model.Profile, error) {
	return s.profileWhere(ctx, "id = ?", id, profileNotFound(id))
}

func (s *SQLiteStore) FindProfileByName(ctx context.Context, name string) (*model.Profile, error) {
	return s.profileWhere(ctx, "name = ?", name, fmt.Errorf("profile %q: %w", name, model.ErrNotFound))
}

func (s *SQLiteStore) profileWhere(ctx context.Context, cond string, arg any, notFound error) (*model.Profile, error) {
	var (
		p       model.Profile
		created string
	)
	err := s.DB.QueryRowContext(ctx, `SELECT id, name, created_at FROM encode_profiles WHERE `+cond, arg).
		Scan(&p.ID, &p.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(created)

	details, err := s.details(ctx, "WHERE profile_id = ?", p.ID)
	if err != nil {
		return nil, err
	}
	p.Details = details[p.ID]
	return &p, nil
}

func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]*model.Profile, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, name, created_at FROM encode_profiles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Profile
	for rows.Next() {
		var (
			p       model.Profile
			created string
		)
		if err := rows.Scan(&p.ID, &p.Name, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(created)
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	details, err := s.details(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, p := range out {
		p.Details = details[p.ID]
	}
	return out, nil
}

const detailColumns = `id, profile_id, width, height, video_bitrate, audio_bitrate, audio_channel, audio_frequency,
	sc_threshold, profile, level, max_bitrate, bufsize, movflags, pix_fmt, acodec, vcodec, created_at`

func (s *SQLiteStore) details(ctx context.Context, where string, args ...any) (map[int64][]model.ProfileDetail, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+detailColumns+` FROM encode_profile_details `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int64][]model.ProfileDetail)
	for rows.Next() {
		var (
			d       model.ProfileDetail
			created string
		)
		if err := rows.Scan(&d.ID, &d.ProfileID, &d.Width, &d.Height, &d.VideoBitrateK, &d.AudioBitrateK,
			&d.AudioChannels, &d.AudioSampleRate, &d.SceneChangeThreshold, &d.EncoderProfile, &d.EncoderLevel,
			&d.MaxBitrateK, &d.BufSizeK, &d.ContainerFlags, &d.PixelFormat, &d.AudioCodec, &d.VideoCodec, &created); err != nil {
			return nil, err
		}
		d.CreatedAt = parseTime(created)
		out[d.ProfileID] = append(out[d.ProfileID], d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteProfile(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.DB.ExecContext(ctx, `DELETE FROM encode_profiles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return profileNotFound(id)
	}
	return nil
}

func (s *SQLiteStore) AddDetail(ctx context.Context, profileID int64, d model.ProfileDetail) (*model.ProfileDetail, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var exists int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM encode_profiles WHERE id = ?`, profileID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, profileNotFound(profileID)
	}
	if err != nil {
		return nil, err
	}

	d.ProfileID = profileID
	d.CreatedAt = s.now().UTC()
	res, err := s.DB.ExecContext(ctx, `INSERT INTO encode_profile_details (profile_id, width, height, video_bitrate,
		audio_bitrate, audio_channel, audio_frequency, sc_threshold, profile, level, max_bitrate, bufsize, movflags,
		pix_fmt, acodec, vcodec, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ProfileID, d.Width, d.Height, d.VideoBitrateK, d.AudioBitrateK, d.AudioChannels, d.AudioSampleRate,
		d.SceneChangeThreshold, d.EncoderProfile, d.EncoderLevel, d.MaxBitrateK, d.BufSizeK, d.ContainerFlags,
		d.PixelFormat, d.AudioCodec, d.VideoCodec, formatTime(d.CreatedAt))
	if err != nil {
		return nil, err
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return &d, nil
}

const jobColumns = `id, video_filename, original_filename, encoding_profile, status, reason, detail, output_filename, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*model.Job, error) {
	var (
		j                model.Job
		created, updated string
	)
	if err := r.Scan(&j.ID, &j.SourceFilename, &j.OriginalFilename, &j.ProfileID, &j.Status, &j.Reason,
		&j.Detail, &j.OutputFilename, &created, &updated); err != nil {
		return nil, err
	}
	j.CreatedAt = parseTime(created)
	j.UpdatedAt = parseTime(updated)
	return &j, nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.Job) (*model.Job, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.DB.ExecContext(ctx, `INSERT INTO video_jobs (video_filename, original_filename, encoding_profile,
		status, reason, detail, output_filename, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.SourceFilename, j.OriginalFilename, j.ProfileID, j.Status, j.Reason, j.Detail, j.OutputFilename,
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt))
	if err != nil {
		return nil, err
	}
	out := j.Clone()
	if out.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	j, err := scanJob(s.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM video_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobNotFound(id)
	}
	return j, err
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, id int64, fn func(*model.Job) error) (*model.Job, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	j, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM video_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, jobNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	if err := fn(j); err != nil {
		return nil, err
	}
	j.ID = id

	if _, err := tx.ExecContext(ctx, `UPDATE video_jobs SET video_filename = ?, original_filename = ?,
		encoding_profile = ?, status = ?, reason = ?, detail = ?, output_filename = ?, created_at = ?, updated_at = ?
		WHERE id = ?`,
		j.SourceFilename, j.OriginalFilename, j.ProfileID, j.Status, j.Reason, j.Detail, j.OutputFilename,
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]*model.Job, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ProfileID > 0 {
		conds = append(conds, "encoding_profile = ?")
		args = append(args, filter.ProfileID)
	}
	query := `SELECT ` + jobColumns + ` FROM video_jobs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

var _ Store = (*SQLiteStore)(nil)
