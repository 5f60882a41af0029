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
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mergin-maps/sync-client/config"
)

// ApplyPull executes a pull plan against the working tree and basefile
// mirror. tempDir holds the downloaded full files and/or changeset files
// named according to the plan's references; for Renamed entries the
// source is instead the current working-tree file, per the contract with
// the transport collaborator (it is responsible for ensuring the
// renamed-from basefile is already positioned where ApplyPull expects it).
//
// Processing order across change kinds is not required to be anything in
// particular; each file's working-tree mutation and its basefile mutation
// (if any) happen together, so a failure partway through leaves earlier
// files fully applied ("prefix-consistent").
func ApplyPull(p *config.Project, changes ChangeSet, tempDir string, engine DiffEngine) ([]string, error) {
	localMeta, err := p.MetadataGet()
	if err != nil {
		return nil, err
	}
	localChanges, err := PushPlan(p, localMeta, engine)
	if err != nil {
		return nil, err
	}

	modified := map[string]bool{}
	for _, f := range localChanges.Added {
		modified[f.Path] = true
	}
	for _, f := range localChanges.Updated {
		modified[f.Path] = true
	}
	for _, f := range localChanges.Renamed {
		modified[f.NewPath] = true
	}

	localInventory, err := Inspect(p)
	if err != nil {
		return nil, err
	}
	localByPath := make(map[string]config.Fingerprint, len(localInventory))
	for _, f := range localInventory {
		localByPath[f.Path] = f
	}

	var conflicts []string

	for _, item := range changes.Updated {
		path := item.Path
		dest := p.Path(path)
		base := p.MetaPath(path)

		if IsStructuredFile(path) {
			src, srcErr := resolvePullSource(p, engine, tempDir, item, base)
			if srcErr != nil {
				return conflicts, srcErr
			}

			if modified[path] {
				conflict, rebaseErr := rebaseStructuredUpdate(p, engine, path, base, src, dest)
				if rebaseErr != nil {
					return conflicts, rebaseErr
				}
				if conflict != "" {
					conflicts = append(conflicts, conflict)
				}
			} else {
				if err := copyFile(src, dest); err != nil {
					return conflicts, filesystemFailureErr(err)
				}
				if err := copyFile(src, base); err != nil {
					return conflicts, filesystemFailureErr(err)
				}
			}
			continue
		}

		src := tempPath(tempDir, path)
		if modified[path] {
			if local, ok := localByPath[path]; ok && local.Checksum != item.Checksum {
				conflict, cErr := conflictCopy(p, path)
				if cErr != nil {
					return conflicts, cErr
				}
				conflicts = append(conflicts, conflict)
			}
		}
		if err := copyFile(src, dest); err != nil {
			return conflicts, filesystemFailureErr(err)
		}
	}

	for _, item := range changes.Removed {
		dest := p.Path(item.Path)
		if err := removeIfExists(dest); err != nil {
			return conflicts, filesystemFailureErr(err)
		}
		if IsStructuredFile(item.Path) {
			if err := removeIfExists(p.MetaPath(item.Path)); err != nil {
				return conflicts, filesystemFailureErr(err)
			}
		}
	}

	for _, item := range changes.Added {
		src := tempPath(tempDir, item.Path)
		dest := p.Path(item.Path)
		if err := copyFile(src, dest); err != nil {
			return conflicts, filesystemFailureErr(err)
		}
		if IsStructuredFile(item.Path) {
			if err := copyFile(src, p.MetaPath(item.Path)); err != nil {
				return conflicts, filesystemFailureErr(err)
			}
		}
	}

	for _, item := range changes.Renamed {
		src := p.Path(item.Path)
		dest := p.Path(item.NewPath)
		if err := p.Move(src, dest); err != nil {
			return conflicts, filesystemFailureErr(err)
		}
		if IsStructuredFile(item.NewPath) {
			if err := p.Move(p.MetaPath(item.Path), p.MetaPath(item.NewPath)); err != nil {
				return conflicts, filesystemFailureErr(err)
			}
		}
	}

	return conflicts, nil
}

// resolvePullSource returns a path to the full server-side content of an
// updated structured file. When the plan attached a list of changesets
// (item.Diffs), it reconstructs that content by applying them in order to
// a scratch copy of the current basefile; otherwise the plan's full file
// was already downloaded into tempDir.
func resolvePullSource(p *config.Project, engine DiffEngine, tempDir string, item UpdatedEntry, base string) (string, error) {
	if len(item.Diffs) == 0 {
		return tempPath(tempDir, item.Path), nil
	}

	scratch := p.MetaPath(item.Path + "-pull_reconstruct-" + clockSuffix(p))
	if err := copyFile(base, scratch); err != nil {
		return "", filesystemFailureErr(err)
	}
	for _, diffPath := range item.Diffs {
		diffFile := tempPath(tempDir, diffPath)
		if err := engine.ApplyChangeset(scratch, diffFile); err != nil {
			return "", err
		}
	}
	return scratch, nil
}

// rebaseStructuredUpdate performs the three-way rebase of one locally
// modified structured file against an incoming server version, per
// spec.md 4.7.1 step 3. It returns the conflict copy path, if any was
// produced.
func rebaseStructuredUpdate(p *config.Project, engine DiffEngine, path, base, src, dest string) (string, error) {
	suffix := clockSuffix(p)
	localDiff := p.MetaPath(path + "-local_diff-" + suffix)
	serverDiff := p.MetaPath(path + "-server_diff-" + suffix)
	serverBackup := p.MetaPath(path + "-server_backup-" + suffix)
	tmpLocal := p.MetaPath(path + "-local_backup-" + suffix)

	if err := copyFile(src, serverBackup); err != nil {
		return "", filesystemFailureErr(err)
	}

	if err := engine.CreateChangeset(base, dest, localDiff); err != nil {
		if err := copyFile(dest, tmpLocal); err != nil {
			return "", filesystemFailureErr(err)
		}
	} else {
		if err := copyFile(base, tmpLocal); err != nil {
			return "", filesystemFailureErr(err)
		}
		if err := engine.ApplyChangeset(tmpLocal, localDiff); err != nil {
			// Fall back to a raw snapshot of the working-tree file. This
			// loses any pending write-ahead-log state that hadn't been
			// checkpointed into dest yet.
			if err := copyFile(dest, tmpLocal); err != nil {
				return "", filesystemFailureErr(err)
			}
		}
	}

	rebaseErr := func() error {
		if err := engine.CreateChangeset(base, src, serverDiff); err != nil {
			return err
		}
		if err := engine.Rebase(base, src, dest); err != nil {
			return err
		}
		return engine.ApplyChangeset(base, serverDiff)
	}()

	if rebaseErr == nil {
		return "", nil
	}

	// Unresolvable conflict: restore local edits, preserve them in a
	// conflict copy, then force-adopt the server version everywhere.
	if err := copyFile(tmpLocal, dest); err != nil {
		return "", filesystemFailureErr(err)
	}
	conflict, err := conflictCopy(p, path)
	if err != nil {
		return "", err
	}
	if err := copyFile(serverBackup, base); err != nil {
		return "", filesystemFailureErr(err)
	}
	if err := copyFile(serverBackup, dest); err != nil {
		return "", filesystemFailureErr(err)
	}
	removeIfExists(dest + "-wal")
	removeIfExists(dest + "-shm")

	return conflict, nil
}

// ApplyPush updates the basefile mirror after the server has accepted a
// push, per spec.md 4.7.2.
func ApplyPush(p *config.Project, changes ChangeSet, engine DiffEngine) error {
	for _, item := range changes.Renamed {
		if !IsStructuredFile(item.NewPath) {
			continue
		}
		if err := p.Move(p.MetaPath(item.Path), p.MetaPath(item.NewPath)); err != nil {
			return filesystemFailureErr(err)
		}
	}

	for _, item := range changes.Removed {
		if !IsStructuredFile(item.Path) {
			continue
		}
		if err := removeIfExists(p.MetaPath(item.Path)); err != nil {
			return filesystemFailureErr(err)
		}
	}

	for _, item := range changes.Added {
		if !IsStructuredFile(item.Path) {
			continue
		}
		if err := copyFile(p.Path(item.Path), p.MetaPath(item.Path)); err != nil {
			return filesystemFailureErr(err)
		}
	}

	for _, item := range changes.Updated {
		if !IsStructuredFile(item.Path) {
			continue
		}
		if item.Diff == nil {
			// Force-uploaded file: server state is ambiguous until next
			// pull, no-op.
			continue
		}
		basefile := p.MetaPath(item.Path)
		changeset := p.MetaPath(item.Diff.Path)
		if err := engine.ApplyChangeset(basefile, changeset); err != nil {
			// Safer to drop the basefile than leave it inconsistent; it
			// is re-fetched on the next pull.
			p.Log.LogErrf("push: apply_changeset failed for %s, dropping basefile: %v\n", item.Path, err)
			removeIfExists(basefile)
		}
	}

	return nil
}

// conflictCopy creates a byte-for-byte sibling of a locally modified file
// at "<path>_conflict_copy", or the first free "<path>_conflict_copyN"
// suffix starting at N=2.
func conflictCopy(p *config.Project, relPath string) (string, error) {
	src := p.Path(relPath)
	if _, err := os.Stat(src); err != nil {
		return "", filesystemFailureErr(err)
	}

	candidate := relPath + "_conflict_copy"
	index := 2
	for {
		abs := p.Path(candidate)
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			if copyErr := copyFile(src, abs); copyErr != nil {
				return "", filesystemFailureErr(copyErr)
			}
			p.Log.Logf("conflict: preserved local edit of %s as %s\n", relPath, candidate)
			return candidate, nil
		}
		candidate = relPath + "_conflict_copy" + strconv.Itoa(index)
		index++
	}
}

// tempPath resolves a plan-relative path against the temp directory a
// transport populated, independent of the project's own path resolution
// (tempDir lives outside the project tree).
func tempPath(tempDir, rel string) string {
	return filepath.Join(tempDir, filepath.FromSlash(rel))
}

// clockSuffix names a transient file against the project's injected clock
// rather than time.Now: the suffix is the clock reading in nanoseconds, so
// scratch files of two rebases of the same path differ whenever the clock
// reads differently, and a faked clock can pin or vary the names.
func clockSuffix(p *config.Project) string {
	return strconv.FormatInt(p.Clock.Now().UnixNano(), 10)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if mkErr := os.MkdirAll(filepath.Dir(dst), 0777); mkErr != nil {
		return mkErr
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(config.O_RWForAll))
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
