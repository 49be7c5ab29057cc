// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	"github.com/ManuGH/vencode/internal/encoding/model"
)

// Arg is one flag/value pair of a transcoder invocation.
type Arg struct {
	Flag  string
	Value string
}

// Args is an ordered flag set. Order is part of the contract.
type Args []Arg

// Flatten returns the flags as argv entries.
func (a Args) Flatten() []string {
	out := make([]string, 0, len(a)*2)
	for _, arg := range a {
		out = append(out, arg.Flag, arg.Value)
	}
	return out
}

// String renders the flag set for logs.
func (a Args) String() string {
	return strings.Join(a.Flatten(), " ")
}

// AcceptedExtension is the only source container the service transcodes.
const AcceptedExtension = ".mp4"

// ValidateInput accepts MP4 sources only (case-insensitive extension match).
func ValidateInput(filename string) error {
	ext := filepath.Ext(filename)
	if !strings.EqualFold(ext, AcceptedExtension) {
		return &model.UnsupportedFormatError{Filename: filename, Extension: strings.ToLower(ext)}
	}
	return nil
}

// ResolveOutputPath derives the encoded filename from the original upload
// name and the profile label: sample.mp4 + 1080p -> sample_1080p_encoded.mp4.
func ResolveOutputPath(inputFilename, profileLabel string) string {
	base := filepath.Base(inputFilename)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s_%s_encoded%s", stem, sanitizeLabel(profileLabel), ext)
}

func sanitizeLabel(label string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, strings.TrimSpace(label))
}

// BuildArgs maps a profile detail onto transcoder flags. Absent fields are
// omitted; the flag order is fixed so equal details produce equal argv.
func BuildArgs(d model.ProfileDetail) Args {
	var args Args
	add := func(flag, value string) {
		if value != "" {
			args = append(args, Arg{Flag: flag, Value: value})
		}
	}
	kbps := func(v int) string {
		if v <= 0 {
			return ""
		}
		return strconv.Itoa(v) + "k"
	}
	num := func(v int) string {
		if v <= 0 {
			return ""
		}
		return strconv.Itoa(v)
	}

	if d.Width > 0 && d.Height > 0 {
		add("-s", fmt.Sprintf("%dx%d", d.Width, d.Height))
	}
	add("-c:v", strings.TrimSpace(d.VideoCodec))
	add("-c:a", strings.TrimSpace(d.AudioCodec))
	add("-b:v", kbps(d.VideoBitrateK))
	add("-b:a", kbps(d.AudioBitrateK))
	add("-ac", num(d.AudioChannels))
	add("-ar", strings.TrimSpace(d.AudioSampleRate))
	add("-sc_threshold", num(d.SceneChangeThreshold))
	add("-profile:v", strings.TrimSpace(d.EncoderProfile))
	if d.EncoderLevel > 0 {
		add("-level", strconv.FormatFloat(d.EncoderLevel, 'f', -1, 64))
	}
	add("-maxrate", kbps(d.MaxBitrateK))
	add("-bufsize", kbps(d.BufSizeK))
	add("-movflags", strings.TrimSpace(d.ContainerFlags))
	add("-pix_fmt", strings.TrimSpace(d.PixelFormat))
	return args
}

// Command assembles the full argv: -i <input> <flags...> <output>.
func Command(input, output string, args Args) []string {
	argv := make([]string, 0, len(args)*2+3)
	argv = append(argv, "-i", input)
	argv = append(argv, args.Flatten()...)
	return append(argv, output)
}
