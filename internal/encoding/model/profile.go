// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Detail defaults applied when a field is omitted at creation.
const (
	DefaultAudioChannels   = 2
	DefaultAudioSampleRate = "44100"
	DefaultEncoderProfile  = "high"
	DefaultContainerFlags  = "faststart"
	DefaultPixelFormat     = "yuv420p"
)

// Profile is a named set of encoding parameters. Name doubles as the output
// label embedded in encoded filenames.
type Profile struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	CreatedAt time.Time       `json:"created_at"`
	Details   []ProfileDetail `json:"details,omitempty"`
}

// ActiveDetail returns the detail record used for execution: the one with
// the highest id.
func (p *Profile) ActiveDetail() (ProfileDetail, bool) {
	var (
		best  ProfileDetail
		found bool
	)
	for _, d := range p.Details {
		if !found || d.ID > best.ID {
			best = d
			found = true
		}
	}
	return best, found
}

// Clone returns a deep copy.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	c := *p
	c.Details = append([]ProfileDetail(nil), p.Details...)
	return &c
}

// ProfileDetail carries the transcoder parameters of a Profile.
// Numeric zero means the field is absent and is omitted from invocations.
// Bitrates and buffer sizes are in kbps.
type ProfileDetail struct {
	ID                   int64     `json:"id" yaml:"-"`
	ProfileID            int64     `json:"profile_id" yaml:"-"`
	Width                int       `json:"width,omitempty" yaml:"width,omitempty"`
	Height               int       `json:"height,omitempty" yaml:"height,omitempty"`
	VideoBitrateK        int       `json:"video_bitrate,omitempty" yaml:"videoBitrate,omitempty"`
	AudioBitrateK        int       `json:"audio_bitrate,omitempty" yaml:"audioBitrate,omitempty"`
	AudioChannels        int       `json:"audio_channel,omitempty" yaml:"audioChannels,omitempty"`
	AudioSampleRate      string    `json:"audio_frequency,omitempty" yaml:"audioSampleRate,omitempty"`
	SceneChangeThreshold int       `json:"sc_threshold,omitempty" yaml:"sceneChangeThreshold,omitempty"`
	EncoderProfile       string    `json:"profile,omitempty" yaml:"encoderProfile,omitempty"`
	EncoderLevel         float64   `json:"level,omitempty" yaml:"encoderLevel,omitempty"`
	MaxBitrateK          int       `json:"max_bitrate,omitempty" yaml:"maxBitrate,omitempty"`
	BufSizeK             int       `json:"bufsize,omitempty" yaml:"bufSize,omitempty"`
	ContainerFlags       string    `json:"movflags,omitempty" yaml:"containerFlags,omitempty"`
	PixelFormat          string    `json:"pix_fmt,omitempty" yaml:"pixelFormat,omitempty"`
	AudioCodec           string    `json:"acodec,omitempty" yaml:"audioCodec,omitempty"`
	VideoCodec           string    `json:"vcodec,omitempty" yaml:"videoCodec,omitempty"`
	CreatedAt            time.Time `json:"created_at" yaml:"-"`
}

// ApplyDefaults fills omitted fields with the service defaults.
func (d *ProfileDetail) ApplyDefaults() {
	if d.AudioChannels == 0 {
		d.AudioChannels = DefaultAudioChannels
	}
	if d.AudioSampleRate == "" {
		d.AudioSampleRate = DefaultAudioSampleRate
	}
	if d.EncoderProfile == "" {
		d.EncoderProfile = DefaultEncoderProfile
	}
	if d.ContainerFlags == "" {
		d.ContainerFlags = DefaultContainerFlags
	}
	if d.PixelFormat == "" {
		d.PixelFormat = DefaultPixelFormat
	}
}

// Validate rejects negative numeric fields, a non-numeric sample rate and a
// half-specified resolution.
func (d ProfileDetail) Validate() error {
	ints := []struct {
		name string
		v    int
	}{
		{"width", d.Width},
		{"height", d.Height},
		{"video_bitrate", d.VideoBitrateK},
		{"audio_bitrate", d.AudioBitrateK},
		{"audio_channel", d.AudioChannels},
		{"sc_threshold", d.SceneChangeThreshold},
		{"max_bitrate", d.MaxBitrateK},
		{"bufsize", d.BufSizeK},
	}
	for _, f := range ints {
		if f.v < 0 {
			return &ValidationError{Field: f.name, Msg: "must be positive"}
		}
	}
	if d.EncoderLevel < 0 {
		return &ValidationError{Field: "level", Msg: "must be positive"}
	}
	if (d.Width == 0) != (d.Height == 0) {
		return &ValidationError{Field: "width", Msg: "width and height must be set together"}
	}
	if d.AudioSampleRate != "" {
		n, err := strconv.Atoi(d.AudioSampleRate)
		if err != nil || n <= 0 {
			return &ValidationError{Field: "audio_frequency", Msg: fmt.Sprintf("not a positive integer: %q", d.AudioSampleRate)}
		}
	}
	return nil
}

// Executable reports whether the detail names both codecs.
func (d ProfileDetail) Executable() error {
	var missing []string
	if strings.TrimSpace(d.VideoCodec) == "" {
		missing = append(missing, "vcodec")
	}
	if strings.TrimSpace(d.AudioCodec) == "" {
		missing = append(missing, "acodec")
	}
	if len(missing) > 0 {
		return &ValidationError{Field: strings.Join(missing, ","), Msg: "codec missing"}
	}
	return nil
}
