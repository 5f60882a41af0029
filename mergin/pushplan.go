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
	"encoding/json"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/mergin-maps/sync-client/config"
)

// PushPlan computes the changes needed to push the working tree to the
// server: a symmetric diff against local metadata, with chunk identifiers
// allocated for every added/updated file and, for structured files, a
// changeset derived against the basefile wherever the diff engine is
// available.
func PushPlan(p *config.Project, localMeta *config.Metadata, engine DiffEngine) (ChangeSet, error) {
	inventory, err := Inspect(p)
	if err != nil {
		return ChangeSet{}, err
	}

	changes := DetectChanges(localMeta.Files, inventory)

	for i := range changes.Added {
		changes.Added[i].Chunks = ChunksFor(changes.Added[i].Size)
	}
	for i := range changes.Updated {
		changes.Updated[i].Chunks = ChunksFor(changes.Updated[i].Size)
	}

	if !engine.Available() {
		return changes, nil
	}

	var kept []UpdatedEntry
	for _, entry := range changes.Updated {
		if !IsStructuredFile(entry.Path) {
			kept = append(kept, entry)
			continue
		}

		current := p.Path(entry.Path)
		origin := p.MetaPath(entry.Path)
		diffID := uuid.New().String()
		diffName := entry.Path + "-diff-" + diffID
		diffFile := p.MetaPath(diffName)

		if err := engine.CreateChangeset(origin, current, diffFile); err != nil {
			// Per spec, a failed create_changeset during push planning is
			// recovered as a full-file upload: keep the existing
			// full-file chunk plan untouched.
			p.Log.LogErrf("push: create_changeset failed for %s, falling back to full-file upload: %v\n", entry.Path, err)
			kept = append(kept, entry)
			continue
		}

		hasChanges, hcErr := engine.HasChanges(diffFile)
		if hcErr != nil {
			p.Log.LogErrf("push: has_changes failed for %s, falling back to full-file upload: %v\n", entry.Path, hcErr)
			kept = append(kept, entry)
			continue
		}
		if !hasChanges {
			// Not actually changed; drop it from updated entirely.
			continue
		}

		info, statErr := os.Stat(diffFile)
		if statErr != nil {
			p.Log.LogErrf("push: stat changeset failed for %s, falling back to full-file upload: %v\n", entry.Path, statErr)
			kept = append(kept, entry)
			continue
		}
		diffChecksum, sumErr := sha1File(diffFile)
		if sumErr != nil {
			p.Log.LogErrf("push: checksum changeset failed for %s, falling back to full-file upload: %v\n", entry.Path, sumErr)
			kept = append(kept, entry)
			continue
		}

		fileInfo, fiErr := os.Stat(current)
		if fiErr != nil {
			p.Log.LogErrf("push: stat working file failed for %s, falling back to full-file upload: %v\n", entry.Path, fiErr)
			kept = append(kept, entry)
			continue
		}

		diffMtime := info.ModTime()
		entry.Checksum = entry.OriginChecksum
		entry.Chunks = ChunksFor(info.Size())
		entry.Mtime = fileInfo.ModTime()
		entry.Diff = &config.DiffRef{
			Path:     diffName,
			Checksum: diffChecksum,
			Size:     info.Size(),
			Mtime:    &diffMtime,
		}
		kept = append(kept, entry)
	}

	changes.Updated = kept
	return changes, nil
}

// ChunksFor allocates a fresh chunk identifier for each chunk of a
// transfer of the given size, sized against the configured upload
// granularity.
func ChunksFor(size int64) []string {
	n := (size + config.ChunkSize - 1) / config.ChunkSize
	if n <= 0 {
		n = 1
	}
	chunks := make([]string, n)
	for i := range chunks {
		chunks[i] = uuid.New().String()
	}
	return chunks
}

// ChangeSummary is the per-table insert/update/delete breakdown a
// structured-file changeset produces, keyed by table name.
type ChangeSummary struct {
	Table  string `json:"table"`
	Insert int    `json:"insert"`
	Update int    `json:"update"`
	Delete int    `json:"delete"`
}

// Summarize asks the diff engine for a list-changes-summary of every
// updated entry that carries a diff, keyed by file path. Files where the
// diff engine fails are silently omitted, matching the recovery policy for
// DiffFailure during list_changes_summary.
func Summarize(p *config.Project, plan ChangeSet, engine DiffEngine) map[string][]ChangeSummary {
	out := map[string][]ChangeSummary{}
	if !engine.Available() {
		return out
	}

	for idx, entry := range plan.Updated {
		if entry.Diff == nil {
			continue
		}
		changesetPath := p.MetaPath(entry.Diff.Path)
		resultFile := p.MetaPath("change_list" + strconv.Itoa(idx))

		if err := engine.ListChangesSummary(changesetPath, resultFile); err != nil {
			continue
		}
		data, readErr := os.ReadFile(resultFile)
		os.Remove(resultFile)
		if readErr != nil {
			continue
		}
		var summary []ChangeSummary
		if jsonErr := json.Unmarshal(data, &summary); jsonErr != nil {
			continue
		}
		out[entry.Path] = summary
	}
	return out
}
