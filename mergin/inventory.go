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

package mergin

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mergin-maps/sync-client/config"
)

var (
	ignoreSuffixes = []string{"-shm", "-wal", "~", "pyc", "swap"}
	ignoreNames    = map[string]bool{".DS_Store": true, ".directory": true}

	structuredExtensions = map[string]bool{".gpkg": true, ".sqlite": true}
)

// IsStructuredFile reports whether path's extension marks it as a
// structured, diffable file. Only structured files participate in
// changeset-based sync, have basefiles, or produce conflict rebases.
func IsStructuredFile(path string) bool {
	return structuredExtensions[strings.ToLower(filepath.Ext(path))]
}

// ignoreFile reports whether a bare file name should be excluded from
// Inventory, per the fixed suffix/exact-name ignore rules.
func ignoreFile(name string) bool {
	if ignoreNames[name] {
		return true
	}
	for _, suffix := range ignoreSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// Inspect walks the project's working tree and returns a fingerprint for
// every non-ignored file, excluding the meta directory subtree. Checksums
// are computed in a single streaming pass, consulting the project's
// checksum cache first. Re-running Inspect on an unchanged tree produces
// identical fingerprints modulo ordering.
func Inspect(p *config.Project) ([]config.Fingerprint, error) {
	var out []config.Fingerprint

	err := filepath.WalkDir(p.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == config.MetaDirName {
				return filepath.SkipDir
			}
			return nil
		}
		if ignoreFile(d.Name()) {
			return nil
		}

		rel, relErr := filepath.Rel(p.Dir, path)
		if relErr != nil {
			return relErr
		}
		projPath := filepath.ToSlash(rel)

		info, infoErr := d.Info()
		if infoErr != nil {
			return infoErr
		}

		checksum, checksumErr := checksumFile(p, path, info)
		if checksumErr != nil {
			return checksumErr
		}

		out = append(out, config.Fingerprint{
			Path:     projPath,
			Checksum: checksum,
			Size:     info.Size(),
			Mtime:    info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, filesystemFailureErr(err)
	}
	return out, nil
}

// checksumFile returns a file's SHA-1 hex digest, consulting the checksum
// cache keyed on (path, size, mtime) before doing real I/O.
func checksumFile(p *config.Project, absPath string, info fs.FileInfo) (string, error) {
	rel, err := filepath.Rel(p.Dir, absPath)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)

	if cached, ok := p.CachedChecksum(rel, info.Size(), info.ModTime()); ok {
		return cached, nil
	}

	f, err := os.Open(absPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	sum := hex.EncodeToString(h.Sum(nil))

	p.StoreChecksum(rel, info.Size(), info.ModTime(), sum)
	return sum, nil
}

// sha1File hashes an arbitrary file outside the working tree (e.g. a
// transient changeset under the meta directory), bypassing the checksum
// cache entirely.
func sha1File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
