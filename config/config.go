// Copyright 2024 The Mergin Maps Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config holds the environment-derived settings and the on-disk
// Project Store that every other package in this module builds on.
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
)

var (
	// ErrNoProjectContext is returned when a directory is not (or no longer)
	// a Mergin project: either the directory itself is missing or its
	// metadata document has never been written.
	ErrNoProjectContext = errors.New("directory is not a mergin project: run init or cd into one")

	// ErrNoSuchDbKey ends a checksum cache transaction when the bucket or
	// key is absent. It is not returned to callers: CachedChecksum reports
	// a miss as ok == false, and callers fall back to hashing.
	ErrNoSuchDbKey = errors.New("no such cache entry")
)

const (
	// MetaDirName is the directory inside every project holding mergin.json,
	// the basefile mirror, and transient sync state.
	MetaDirName = ".mergin"

	// MetadataFileName is the project metadata document.
	MetadataFileName = "mergin.json"

	// ChecksumCacheFileName is the boltdb file memoizing Inventory checksums.
	ChecksumCacheFileName = "checksums.db"

	// DefaultDiffsLimitSize is the size, in bytes, under which Pull Planner
	// always prefers a full download over reconstructing from diffs.
	DefaultDiffsLimitSize = int64(1024 * 1024)

	// ChunkSize is the fixed upload/download granularity Push Planner sizes
	// chunk identifiers against.
	ChunkSize = int64(10 * 1024 * 1024)

	// O_RWForAll mirrors the permission bits used for every file this module
	// creates under the meta directory.
	O_RWForAll = 0666
)

// Config is environment-derived settings the sync engine and its transport
// collaborator share. The engine itself never dials ServerURL; it only
// carries the value for a transport implementation to read.
type Config struct {
	ServerURL      string `env:"MERGIN_URL"`
	AuthToken      string `env:"MERGIN_AUTH"`
	DiffsLimitSize int64  `env:"DIFFS_LIMIT_SIZE" envDefault:"1048576"`
	DisableDiff    bool   `env:"MERGIN_DISABLE_GEODIFF" envDefault:"false"`
}

// LoadConfig parses Config from the process environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.DiffsLimitSize <= 0 {
		cfg.DiffsLimitSize = DefaultDiffsLimitSize
	}
	return cfg, nil
}
