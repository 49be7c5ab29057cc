// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/vencode/internal/encoding/model"
	"github.com/ManuGH/vencode/internal/log"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

type profileRow struct {
	ID        int64       `gorm:"primaryKey;autoIncrement"`
	Name      string      `gorm:"uniqueIndex;not null"`
	CreatedAt time.Time   `gorm:"not null"`
	Details   []detailRow `gorm:"foreignKey:ProfileID;constraint:OnDelete:CASCADE"`
}

func (profileRow) TableName() string { return "encode_profiles" }

type detailRow struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	ProfileID      int64  `gorm:"index;not null"`
	Width          int    `gorm:"not null;default:0"`
	Height         int    `gorm:"not null;default:0"`
	VideoBitrate   int    `gorm:"not null;default:0"`
	AudioBitrate   int    `gorm:"not null;default:0"`
	AudioChannel   int    `gorm:"not null;default:0"`
	AudioFrequency string `gorm:"not null;default:''"`
	ScThreshold    int    `gorm:"not null;default:0"`
	Profile        string `gorm:"not null;default:''"`
	Level          float64
	MaxBitrate     int    `gorm:"not null;default:0"`
	Bufsize        int    `gorm:"not null;default:0"`
	Movflags       string `gorm:"not null;default:''"`
	PixFmt         string `gorm:"not null;default:''"`
	Acodec         string `gorm:"not null;default:''"`
	Vcodec         string `gorm:"not null;default:''"`
	CreatedAt      time.Time
}

func (detailRow) TableName() string { return "encode_profile_details" }

type jobRow struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	VideoFilename    string `gorm:"not null"`
	OriginalFilename string `gorm:"not null;default:''"`
	EncodingProfile  int64  `gorm:"not null"`
	Status           string `gorm:"index;not null"`
	Reason           string `gorm:"not null;default:''"`
	Detail           string `gorm:"not null;default:''"`
	OutputFilename   string `gorm:"not null;default:''"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (jobRow) TableName() string { return "video_jobs" }

func detailFromRow(r detailRow) model.ProfileDetail {
	return model.ProfileDetail{
		ID: r.ID, ProfileID: r.ProfileID, Width: r.Width, Height: r.Height,
		VideoBitrateK: r.VideoBitrate, AudioBitrateK: r.AudioBitrate, AudioChannels: r.AudioChannel,
		AudioSampleRate: r.AudioFrequency, SceneChangeThreshold: r.ScThreshold, EncoderProfile: r.Profile,
		EncoderLevel: r.Level, MaxBitrateK: r.MaxBitrate, BufSizeK: r.Bufsize, ContainerFlags: r.Movflags,
		PixelFormat: r.PixFmt, AudioCodec: r.Acodec, VideoCodec: r.Vcodec, CreatedAt: r.CreatedAt,
	}
}

func rowFromDetail(d model.ProfileDetail) detailRow {
	return detailRow{
		ProfileID: d.ProfileID, Width: d.Width, Height: d.Height, VideoBitrate: d.VideoBitrateK,
		AudioBitrate: d.AudioBitrateK, AudioChannel: d.AudioChannels, AudioFrequency: d.AudioSampleRate,
		ScThreshold: d.SceneChangeThreshold, Profile: d.EncoderProfile, Level: d.EncoderLevel,
		MaxBitrate: d.MaxBitrateK, Bufsize: d.BufSizeK, Movflags: d.ContainerFlags, PixFmt: d.PixelFormat,
		Acodec: d.AudioCodec, Vcodec: d.VideoCodec, CreatedAt: d.CreatedAt,
	}
}

func profileFromRow(r profileRow) *model.Profile {
	p := &model.Profile{ID: r.ID, Name: r.Name, CreatedAt: r.CreatedAt}
	for _, d := range r.Details {
		p.Details = append(p.Details, detailFromRow(d))
	}
	return p
}

func jobFromRow(r jobRow) *model.Job {
	return &model.Job{
		ID: r.ID, SourceFilename: r.VideoFilename, OriginalFilename: r.OriginalFilename,
		ProfileID: r.EncodingProfile, Status: model.JobStatus(r.Status), Reason: model.ReasonCode(r.Reason),
		Detail: r.Detail, OutputFilename: r.OutputFilename, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func rowFromJob(j *model.Job) jobRow {
	return jobRow{
		ID: j.ID, VideoFilename: j.SourceFilename, OriginalFilename: j.OriginalFilename,
		EncodingProfile: j.ProfileID, Status: string(j.Status), Reason: string(j.Reason), Detail: j.Detail,
		OutputFilename: j.OutputFilename, CreatedAt: j.CreatedAt, UpdatedAt: j.UpdatedAt,
	}
}

// zerologWriter routes gorm's printf-style logger into zerolog.
type zerologWriter struct{ l zerolog.Logger }

func (w zerologWriter) Printf(format string, args ...any) {
	w.l.Warn().Str(log.FieldEvent, "gorm").Msg(fmt.Sprintf(format, args...))
}

// GormStore implements Store on any gorm dialector; the daemon uses it for
// the postgres backend.
type GormStore struct {
	db *gorm.DB
}

// NewPostgresStore connects to dsn and migrates the schema.
func NewPostgresStore(dsn string) (*GormStore, error) {
	return NewGormStore(postgres.Open(dsn))
}

// NewGormStore opens dialector and migrates the schema.
func NewGormStore(dialector gorm.Dialector) (*GormStore, error) {
	logger := gormlogger.New(zerologWriter{l: log.WithComponent("store")}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
	})
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger, TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("gorm store: open: %w", err)
	}
	if err := db.AutoMigrate(&profileRow{}, &detailRow{}, &jobRow{}); err != nil {
		return nil, fmt.Errorf("gorm store: migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *GormStore) CreateProfile(ctx context.Context, name string) (*model.Profile, error) {
	row := profileRow{Name: name, CreatedAt: time.Now().UTC()}
	err := g.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("profile %q: %w", name, model.ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	return profileFromRow(row), nil
}

func (g *GormStore) GetProfile(ctx context.Context, id int64) (*model.Profile, error) {
	var row profileRow
	err := g.db.WithContext(ctx).Preload("Details", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, profileNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return profileFromRow(row), nil
}

func (g *GormStore) FindProfileByName(ctx context.Context, name string) (*model.Profile, error) {
	var row profileRow
	err := g.db.WithContext(ctx).Preload("Details", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("profile %q: %w", name, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return profileFromRow(row), nil
}

func (g *GormStore) ListProfiles(ctx context.Context) ([]*model.Profile, error) {
	var rows []profileRow
	if err := g.db.WithContext(ctx).Preload("Details", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Profile, 0, len(rows))
	for _, r := range rows {
		out = append(out, profileFromRow(r))
	}
	return out, nil
}

func (g *GormStore) DeleteProfile(ctx context.Context, id int64) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("profile_id = ?", id).Delete(&detailRow{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&profileRow{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return profileNotFound(id)
		}
		return nil
	})
}

func (g *GormStore) AddDetail(ctx context.Context, profileID int64, d model.ProfileDetail) (*model.ProfileDetail, error) {
	var out model.ProfileDetail
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p profileRow
		if err := tx.Select("id").First(&p, profileID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return profileNotFound(profileID)
			}
			return err
		}
		d.ProfileID = profileID
		d.CreatedAt = time.Now().UTC()
		row := rowFromDetail(d)
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		out = detailFromRow(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *GormStore) CreateJob(ctx context.Context, j *model.Job) (*model.Job, error) {
	row := rowFromJob(j)
	row.ID = 0
	if err := g.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	return jobFromRow(row), nil
}

func (g *GormStore) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	var row jobRow
	err := g.db.WithContext(ctx).First(&row, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, jobNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return jobFromRow(row), nil
}

func (g *GormStore) UpdateJob(ctx context.Context, id int64, fn func(*model.Job) error) (*model.Job, error) {
	var out *model.Job
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row jobRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return jobNotFound(id)
			}
			return err
		}
		j := jobFromRow(row)
		if err := fn(j); err != nil {
			return err
		}
		j.ID = id
		next := rowFromJob(j)
		// UpdateColumns leaves UpdatedAt as set by the registry clock.
		if err := tx.Model(&jobRow{ID: id}).Select("*").UpdateColumns(next).Error; err != nil {
			return err
		}
		out = j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (g *GormStore) ListJobs(ctx context.Context, filter model.JobFilter) ([]*model.Job, error) {
	q := g.db.WithContext(ctx).Order("id")
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.ProfileID > 0 {
		q = q.Where("encoding_profile = ?", filter.ProfileID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []jobRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Job, 0, len(rows))
	for _, r := range rows {
		out = append(out, jobFromRow(r))
	}
	return out, nil
}

var _ Store = (*GormStore)(nil)
