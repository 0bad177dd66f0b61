// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package config loads and validates the YAML configuration for an xrpa
// participant, grounded on the teacher's internal/config/agent.go and
// server.go: raw/parsed field pairs for human-readable sizes, defaults
// applied in validate() after unmarshaling, wrapped errors throughout.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// StreamConfig is the complete configuration for one xrpa participant: the
// backing store it attaches regions through, and the named
// TransportStreams it owns.
type StreamConfig struct {
	Store   StoreConfig    `yaml:"store"`
	Streams []StreamEntry  `yaml:"streams"`
	Logging LoggingInfo    `yaml:"logging"`
}

// StoreConfig selects and configures the BackingStore implementation.
type StoreConfig struct {
	// Backend is "heap" (process-local, for tests and single-process demos)
	// or "mmap" (real cross-process shared memory). Default: "heap".
	Backend string `yaml:"backend"`
	// Dir is the directory mmap-backed regions are created in. Required
	// when Backend is "mmap".
	Dir string `yaml:"dir"`
}

// StreamEntry names one region this participant attaches, its ring
// capacity, and which role it plays.
type StreamEntry struct {
	Name string `yaml:"name"`
	// Role is "writer" or "reader".
	Role string `yaml:"role"`
	// ChangelogSize is a human-readable byte size ("4mb", "256kb") sizing
	// the ring before it's rounded up to a power of two.
	ChangelogSize    string `yaml:"changelog_size"`
	ChangelogSizeRaw int64  `yaml:"-"`
}

// LoggingInfo configures the slog handler, per the teacher's config
// package convention.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	// File, if set, tees logs to this path in addition to stdout.
	File string `yaml:"file"`
}

// LoadStreamConfig reads and validates path as a StreamConfig.
func LoadStreamConfig(path string) (*StreamConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading stream config: %w", err)
	}

	var cfg StreamConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing stream config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating stream config: %w", err)
	}

	return &cfg, nil
}

func (c *StreamConfig) validate() error {
	if c.Store.Backend == "" {
		c.Store.Backend = "heap"
	}
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend != "heap" && c.Store.Backend != "mmap" {
		return fmt.Errorf("store.backend must be heap or mmap, got %q", c.Store.Backend)
	}
	if c.Store.Backend == "mmap" && c.Store.Dir == "" {
		return fmt.Errorf("store.dir is required when store.backend is mmap")
	}

	if len(c.Streams) == 0 {
		return fmt.Errorf("streams must have at least one entry")
	}
	for i := range c.Streams {
		s := &c.Streams[i]
		if s.Name == "" {
			return fmt.Errorf("streams[%d].name is required", i)
		}
		s.Role = strings.ToLower(strings.TrimSpace(s.Role))
		if s.Role != "writer" && s.Role != "reader" {
			return fmt.Errorf("streams[%d].role must be writer or reader, got %q", i, s.Role)
		}
		if s.ChangelogSize == "" {
			s.ChangelogSize = "1mb"
		}
		parsed, err := ParseByteSize(s.ChangelogSize)
		if err != nil {
			return fmt.Errorf("streams[%d].changelog_size: %w", i, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("streams[%d].changelog_size must be > 0, got %s", i, s.ChangelogSize)
		}
		s.ChangelogSizeRaw = parsed
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

// ParseByteSize converts human-readable sizes like "256mb" or "1gb" to
// bytes, identical in behavior to the teacher's helper of the same name.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}
