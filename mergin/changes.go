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

import "github.com/mergin-maps/sync-client/config"

// RenamedEntry pairs a file's old and new path, discovered when a removal
// and an addition share the same (checksum, size) signature.
type RenamedEntry struct {
	config.Fingerprint
	NewPath string
}

// AddedEntry is a new file. Chunks is populated by the Push Planner only;
// it is meaningless (left nil) on a pull change set.
type AddedEntry struct {
	config.Fingerprint
	Chunks []string
}

// UpdatedEntry is a changed file, carrying the extra planning fields the
// Pull and Push Planners attach (Diffs/DiffsSize on pull, Diff/Chunks on
// push). Those fields are left unpopulated by the Change Detector itself.
type UpdatedEntry struct {
	config.Fingerprint
	Diffs     []string
	DiffsSize int64
	Diff      *config.DiffRef
	Chunks    []string
}

// ChangeSet is the symmetric diff between two fingerprint lists: every
// path from either side appears in exactly one of Added, Removed, Updated,
// Renamed (by NewPath), or neither (unchanged).
type ChangeSet struct {
	Added   []AddedEntry
	Removed []config.Fingerprint
	Updated []UpdatedEntry
	Renamed []RenamedEntry
}

// IsEmpty reports whether the change set carries no changes at all.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Updated) == 0 && len(c.Renamed) == 0
}

// DetectChanges computes the change set transforming origin into current.
//
// Renames are found by scanning removed entries in order and matching each
// against the first not-yet-claimed added entry with an identical
// (checksum, size) pair; first match wins. Matched pairs are removed from
// added/removed and reported as Renamed instead.
func DetectChanges(origin, current []config.Fingerprint) ChangeSet {
	originByPath := make(map[string]config.Fingerprint, len(origin))
	for _, f := range origin {
		originByPath[f.Path] = f
	}
	currentByPath := make(map[string]config.Fingerprint, len(current))
	for _, f := range current {
		currentByPath[f.Path] = f
	}

	var removed []config.Fingerprint
	for _, f := range origin {
		if _, ok := currentByPath[f.Path]; !ok {
			removed = append(removed, f)
		}
	}

	var added []config.Fingerprint
	for _, f := range current {
		if _, ok := originByPath[f.Path]; !ok {
			added = append(added, f)
		}
	}

	var renamed []RenamedEntry
	claimed := make(map[int]bool)
	for _, rf := range removed {
		for i, af := range added {
			if claimed[i] {
				continue
			}
			if af.Checksum == rf.Checksum && af.Size == rf.Size {
				renamed = append(renamed, RenamedEntry{Fingerprint: rf, NewPath: af.Path})
				claimed[i] = true
				break
			}
		}
	}

	renamedOld := make(map[string]bool, len(renamed))
	renamedNew := make(map[string]bool, len(renamed))
	for _, r := range renamed {
		renamedOld[r.Path] = true
		renamedNew[r.NewPath] = true
	}

	var finalAdded []AddedEntry
	for _, f := range added {
		if !renamedNew[f.Path] {
			finalAdded = append(finalAdded, AddedEntry{Fingerprint: f})
		}
	}
	finalRemoved := removed[:0:0]
	for _, f := range removed {
		if !renamedOld[f.Path] {
			finalRemoved = append(finalRemoved, f)
		}
	}

	var updated []UpdatedEntry
	for _, f := range current {
		of, ok := originByPath[f.Path]
		if !ok || of.Checksum == f.Checksum {
			continue
		}
		entry := UpdatedEntry{Fingerprint: f}
		entry.OriginChecksum = of.Checksum
		updated = append(updated, entry)
	}

	return ChangeSet{
		Added:   finalAdded,
		Removed: finalRemoved,
		Updated: updated,
		Renamed: renamed,
	}
}
