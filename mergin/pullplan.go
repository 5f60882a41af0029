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
	"sort"

	"github.com/mergin-maps/sync-client/config"
)

// PullPlan turns a server inventory, local metadata, and local diff-engine
// availability into a concrete set of pull changes: each Updated entry
// ends up either carrying Diffs (reconstruct by applying them, in order,
// to the basefile) or none (fetch the file in full).
func PullPlan(localMeta *config.Metadata, serverFiles []config.ServerFile, engine DiffEngine, diffsLimitSize int64) (ChangeSet, error) {
	serverFingerprints := make([]config.Fingerprint, len(serverFiles))
	byPath := make(map[string]config.ServerFile, len(serverFiles))
	for i, f := range serverFiles {
		serverFingerprints[i] = f.Fingerprint
		byPath[f.Path] = f
	}

	changes := DetectChanges(localMeta.Files, serverFingerprints)
	if !engine.Available() {
		return changes, nil
	}

	localVersion, err := config.IntVersion(localMeta.Version)
	if err != nil {
		return ChangeSet{}, invalidProjectErr(err)
	}

	if diffsLimitSize <= 0 {
		diffsLimitSize = config.DefaultDiffsLimitSize
	}

	var kept []UpdatedEntry
	for _, entry := range changes.Updated {
		if !IsStructuredFile(entry.Path) {
			kept = append(kept, entry)
			continue
		}

		server, ok := byPath[entry.Path]
		if !ok || len(server.History) == 0 {
			kept = append(kept, entry)
			continue
		}

		versions := make([]string, 0, len(server.History))
		for v := range server.History {
			versions = append(versions, v)
		}
		sort.Slice(versions, func(i, j int) bool {
			vi, _ := config.IntVersion(versions[i])
			vj, _ := config.IntVersion(versions[j])
			return vi < vj
		})

		var diffs []string
		var diffsSize int64
		sawLaterVersion := false

		for _, v := range versions {
			vn, vErr := config.IntVersion(v)
			if vErr != nil {
				continue
			}
			if vn <= localVersion {
				continue
			}
			sawLaterVersion = true

			hist := server.History[v]
			if hist.Diff != nil {
				diffs = append(diffs, hist.Diff.Path)
				diffsSize += hist.Diff.Size
			} else {
				// Forced full replacement somewhere in the window: no
				// point reconstructing from diffs any more.
				diffs = nil
				break
			}
		}

		if !sawLaterVersion {
			// Nothing changed for this client despite the checksum
			// mismatch DetectChanges found between the local metadata and
			// the server inventory: no history version is newer than the
			// local one; drop it.
			continue
		}

		if len(diffs) > 0 && entry.Size > diffsLimitSize && diffsSize < entry.Size/2 {
			entry.Diffs = diffs
			entry.DiffsSize = diffsSize
		}
		kept = append(kept, entry)
	}

	changes.Updated = kept
	return changes, nil
}
