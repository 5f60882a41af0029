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

package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/boltdb/bolt"
	"github.com/jonboulle/clockwork"
	"github.com/odeke-em/log"
)

var checksumBucket = []byte("checksums")

// Project owns every on-disk mutation inside one project directory: the
// working tree, the meta directory, the basefile mirror and the metadata
// document. No other package in this module touches the filesystem of a
// synced project directly.
type Project struct {
	Dir     string
	MetaDir string
	Cfg     *Config
	Clock   clockwork.Clock
	Log     *log.Logger

	db *bolt.DB
}

// OpenProject validates dir exists and ensures its meta directory exists,
// creating it if absent.
func OpenProject(dir string, cfg *Config) (*Project, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(absDir); statErr != nil {
		if os.IsNotExist(statErr) {
			return nil, ErrNoProjectContext
		}
		return nil, statErr
	}

	metaDir := filepath.Join(absDir, MetaDirName)
	if _, statErr := os.Stat(metaDir); os.IsNotExist(statErr) {
		if mkErr := os.MkdirAll(metaDir, 0777); mkErr != nil {
			return nil, mkErr
		}
	}

	if cfg == nil {
		cfg, err = LoadConfig()
		if err != nil {
			return nil, err
		}
	}

	return &Project{
		Dir:     absDir,
		MetaDir: metaDir,
		Cfg:     cfg,
		Clock:   clockwork.NewRealClock(),
		Log:     log.New(nil, os.Stdout, os.Stderr),
	}, nil
}

// Path returns the absolute path of a project-relative file, creating any
// missing parent directories as a side effect.
func (p *Project) Path(rel string) string {
	return p.resolve(p.Dir, rel)
}

// MetaPath returns the absolute path of a file inside the meta directory,
// creating any missing parent directories as a side effect.
func (p *Project) MetaPath(rel string) string {
	return p.resolve(p.MetaDir, rel)
}

func (p *Project) resolve(root, rel string) string {
	abs := filepath.Join(root, filepath.FromSlash(rel))
	os.MkdirAll(filepath.Dir(abs), 0777)
	return abs
}

// MetadataGet reads and parses the project metadata document. It fails
// with ErrNoProjectContext if the document has not been created yet.
func (p *Project) MetadataGet() (*Metadata, error) {
	path := p.MetaPath(MetadataFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoProjectContext
		}
		return nil, err
	}
	meta := &Metadata{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("config: corrupt metadata document: %w", err)
	}
	return meta, nil
}

// MetadataSet writes the project metadata document. It is only ever called
// once an Apply completes.
func (p *Project) MetadataSet(meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p.MetaPath(MetadataFileName), data, os.FileMode(O_RWForAll))
}

// Name returns the project's qualified name from its metadata document, or
// "" if no metadata document exists yet.
func (p *Project) Name() string {
	meta, err := p.MetadataGet()
	if err != nil {
		return ""
	}
	return meta.Name
}

// Move performs a rename, falling back to copy+delete when src and dst
// straddle a device boundary (os.Rename's only failure mode that isn't a
// genuine error).
func (p *Project) Move(src, dst string) error {
	os.MkdirAll(filepath.Dir(dst), 0777)
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) {
		return err
	}

	in, openErr := os.Open(src)
	if openErr != nil {
		return openErr
	}
	defer in.Close()

	out, createErr := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(O_RWForAll))
	if createErr != nil {
		return createErr
	}
	if _, copyErr := io.Copy(out, in); copyErr != nil {
		out.Close()
		return copyErr
	}
	if closeErr := out.Close(); closeErr != nil {
		return closeErr
	}
	return os.Remove(src)
}

func isCrossDevice(err error) bool {
	return strings.Contains(err.Error(), "cross-device") || strings.Contains(err.Error(), "invalid cross-device link")
}

// checksumDB lazily opens the boltdb-backed checksum cache. Any open or
// read error is treated as a cache miss: the cache is a pure optimization
// and never authoritative.
func (p *Project) checksumDB() *bolt.DB {
	if p.db != nil {
		return p.db
	}
	db, err := bolt.Open(filepath.Join(p.MetaDir, ChecksumCacheFileName), os.FileMode(O_RWForAll), nil)
	if err != nil {
		return nil
	}
	db.Update(func(tx *bolt.Tx) error {
		_, bErr := tx.CreateBucketIfNotExists(checksumBucket)
		return bErr
	})
	p.db = db
	return p.db
}

// CachedChecksum looks up a previously computed checksum for a file whose
// (path, size, mtime) signature matches exactly. A miss is never an error:
// callers always fall back to a real streaming hash.
func (p *Project) CachedChecksum(path string, size int64, mtime time.Time) (string, bool) {
	db := p.checksumDB()
	if db == nil {
		return "", false
	}
	key := checksumCacheKey(path, size, mtime)
	var value string
	db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(checksumBucket)
		if b == nil {
			return ErrNoSuchDbKey
		}
		v := b.Get(key)
		if v == nil {
			return ErrNoSuchDbKey
		}
		value = string(v)
		return nil
	})
	if value == "" {
		return "", false
	}
	return value, true
}

// StoreChecksum remembers a freshly computed checksum for later inspects.
// Failure to persist is silently ignored; it only costs a future cache
// miss, never correctness.
func (p *Project) StoreChecksum(path string, size int64, mtime time.Time, checksum string) {
	db := p.checksumDB()
	if db == nil {
		return
	}
	key := checksumCacheKey(path, size, mtime)
	db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(checksumBucket)
		if b == nil {
			return ErrNoSuchDbKey
		}
		return b.Put(key, []byte(checksum))
	})
}

func checksumCacheKey(path string, size int64, mtime time.Time) []byte {
	return []byte(path + "|" + strconv.FormatInt(size, 10) + "|" + strconv.FormatInt(mtime.UnixNano(), 10))
}

// Close releases resources the Project holds open, namely the checksum
// cache database.
func (p *Project) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}
