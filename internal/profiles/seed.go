// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package profiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/vencode/internal/encoding/model"
	"github.com/ManuGH/vencode/internal/log"
)

// Seed is the on-disk profile catalogue:
//
//	profiles:
//	  - name: 1080p
//	    detail:
//	      width: 1920
//	      height: 1080
//	      videoCodec: libx264
//	      audioCodec: aac
type Seed struct {
	Profiles []SeedProfile `yaml:"profiles"`
}

type SeedProfile struct {
	Name   string              `yaml:"name"`
	Detail model.ProfileDetail `yaml:"detail"`
}

// SeedResult counts what ApplySeed changed.
type SeedResult struct {
	Created   int
	Updated   int
	Unchanged int
}

// LoadSeed parses a seed file strictly: unknown keys and multiple YAML
// documents are rejected.
func LoadSeed(path string) (Seed, error) {
	// #nosec G304 -- operator supplied path
	raw, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(raw)
}

func ParseSeed(raw []byte) (Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		if errors.Is(err, io.EOF) {
			return Seed{}, nil
		}
		return Seed{}, fmt.Errorf("parse seed file: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Seed{}, errors.New("parse seed file: multiple YAML documents are not supported")
	}

	seen := make(map[string]struct{}, len(seed.Profiles))
	for i, p := range seed.Profiles {
		if p.Name == "" {
			return Seed{}, fmt.Errorf("seed profile #%d: name is required", i+1)
		}
		if _, dup := seen[p.Name]; dup {
			return Seed{}, fmt.Errorf("seed profile %q: duplicate name", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return seed, nil
}

// ApplySeed creates missing profiles and appends a new active detail when
// the seeded parameters differ from the current ones. Profiles absent from
// the seed are left alone.
func (m *Manager) ApplySeed(ctx context.Context, seed Seed) (SeedResult, error) {
	var res SeedResult
	for _, sp := range seed.Profiles {
		want := sp.Detail
		want.ApplyDefaults()
		if err := want.Validate(); err != nil {
			return res, fmt.Errorf("seed profile %q: %w", sp.Name, err)
		}

		p, err := m.store.FindProfileByName(ctx, sp.Name)
		switch {
		case errors.Is(err, model.ErrNotFound):
			p, err = m.Create(ctx, sp.Name)
			if err != nil {
				return res, fmt.Errorf("seed profile %q: %w", sp.Name, err)
			}
			if _, err := m.store.AddDetail(ctx, p.ID, want); err != nil {
				return res, fmt.Errorf("seed profile %q: %w", sp.Name, err)
			}
			res.Created++
			continue
		case err != nil:
			return res, fmt.Errorf("seed profile %q: %w", sp.Name, err)
		}

		if cur, ok := p.ActiveDetail(); ok && sameParams(cur, want) {
			res.Unchanged++
			continue
		}
		if _, err := m.store.AddDetail(ctx, p.ID, want); err != nil {
			return res, fmt.Errorf("seed profile %q: %w", sp.Name, err)
		}
		res.Updated++
	}

	logger := log.WithContext(ctx, log.WithComponent("profiles"))
	logger.Info().
		Str(log.FieldEvent, "profiles.seeded").
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("unchanged", res.Unchanged).
		Msg("profile seed applied")
	return res, nil
}

// sameParams compares encoding parameters, ignoring identity fields.
func sameParams(a, b model.ProfileDetail) bool {
	a.ID, a.ProfileID, a.CreatedAt = b.ID, b.ProfileID, b.CreatedAt
	return a == b
}
