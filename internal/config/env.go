// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/vencode/internal/log"
	"github.com/rs/zerolog"
)

// EnvPrefix is prepended to every environment key read by the loader.
const EnvPrefix = "VENCODE_"

func isSensitive(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "password") ||
		strings.Contains(k, "secret") || strings.Contains(k, "dsn")
}

// parseEnv implements the shared lookup: unset or empty keeps the default,
// unparseable values log a warning and keep the default.
func parseEnv[T any](key string, def T, parse func(string) (T, error), field func(*zerolog.Event, string, T) *zerolog.Event) T {
	logger := log.WithComponent("config")
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		logger.Debug().Str("key", key).Str("source", "default").Msg("using default value")
		return def
	}
	v, err := parse(raw)
	if err != nil {
		ev := logger.Warn().Str("key", key)
		if !isSensitive(key) {
			ev = ev.Str("value", raw)
		}
		ev.Err(err).Msg("invalid environment value, using default")
		return def
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitive(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = field(ev, "value", v)
	}
	ev.Msg("using environment variable")
	return v
}

// ParseString reads a string from the environment or returns def.
func ParseString(key, def string) string {
	return parseEnv(key, def, func(s string) (string, error) { return s, nil }, (*zerolog.Event).Str)
}

// ParseInt reads an integer from the environment or returns def.
func ParseInt(key string, def int) int {
	return parseEnv(key, def, strconv.Atoi, (*zerolog.Event).Int)
}

func ParseInt64(key string, def int64) int64 {
	return parseEnv(key, def, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	}, (*zerolog.Event).Int64)
}

// ParseBool accepts true/false, 1/0 and yes/no in any case.
func ParseBool(key string, def bool) bool {
	return parseEnv(key, def, func(s string) (bool, error) {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "yes", "on":
			return true, nil
		case "no", "off":
			return false, nil
		}
		return strconv.ParseBool(s)
	}, (*zerolog.Event).Bool)
}

// ParseDuration reads a Go duration string such as "5s".
func ParseDuration(key string, def time.Duration) time.Duration {
	return parseEnv(key, def, time.ParseDuration, (*zerolog.Event).Dur)
}

func ParseFloat(key string, def float64) float64 {
	return parseEnv(key, def, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	}, (*zerolog.Event).Float64)
}

// ParseList reads a comma separated list; blank items are dropped.
func ParseList(key string, def []string) []string {
	return parseEnv(key, def, func(s string) ([]string, error) {
		var out []string
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out, nil
	}, (*zerolog.Event).Strs)
}
