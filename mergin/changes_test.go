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
	"testing"

	"github.com/mergin-maps/sync-client/config"
)

func fp(path, checksum string, size int64) config.Fingerprint {
	return config.Fingerprint{Path: path, Checksum: checksum, Size: size}
}

func TestDetectChangesIdenticalInventories(t *testing.T) {
	origin := []config.Fingerprint{fp("a.txt", "1", 1), fp("b.txt", "2", 2)}
	current := []config.Fingerprint{fp("a.txt", "1", 1), fp("b.txt", "2", 2)}

	cs := DetectChanges(origin, current)
	if !cs.IsEmpty() {
		t.Errorf("expected no changes between identical inventories, got %+v", cs)
	}
}

func TestDetectChangesAddedRemovedUpdated(t *testing.T) {
	origin := []config.Fingerprint{
		fp("keep.txt", "k1", 1),
		fp("gone.txt", "g1", 1),
		fp("changed.txt", "c1", 1),
	}
	current := []config.Fingerprint{
		fp("keep.txt", "k1", 1),
		fp("changed.txt", "c2", 2),
		fp("new.txt", "n1", 1),
	}

	cs := DetectChanges(origin, current)

	if len(cs.Added) != 1 || cs.Added[0].Path != "new.txt" {
		t.Errorf("Added = %+v, want [new.txt]", cs.Added)
	}
	if len(cs.Removed) != 1 || cs.Removed[0].Path != "gone.txt" {
		t.Errorf("Removed = %+v, want [gone.txt]", cs.Removed)
	}
	if len(cs.Updated) != 1 || cs.Updated[0].Path != "changed.txt" {
		t.Errorf("Updated = %+v, want [changed.txt]", cs.Updated)
	}
	if cs.Updated[0].OriginChecksum != "c1" {
		t.Errorf("Updated[0].OriginChecksum = %q, want %q", cs.Updated[0].OriginChecksum, "c1")
	}
	if len(cs.Renamed) != 0 {
		t.Errorf("Renamed = %+v, want none", cs.Renamed)
	}
}

func TestDetectChangesRename(t *testing.T) {
	origin := []config.Fingerprint{fp("old/name.txt", "same", 5)}
	current := []config.Fingerprint{fp("new/name.txt", "same", 5)}

	cs := DetectChanges(origin, current)

	if len(cs.Added) != 0 || len(cs.Removed) != 0 {
		t.Errorf("expected a rename, not an add+remove pair: %+v", cs)
	}
	if len(cs.Renamed) != 1 {
		t.Fatalf("Renamed = %+v, want exactly one entry", cs.Renamed)
	}
	if cs.Renamed[0].Path != "old/name.txt" || cs.Renamed[0].NewPath != "new/name.txt" {
		t.Errorf("Renamed[0] = %+v, want old/name.txt -> new/name.txt", cs.Renamed[0])
	}
}

func TestDetectChangesRenameFirstMatchWins(t *testing.T) {
	origin := []config.Fingerprint{fp("a.txt", "dup", 3), fp("b.txt", "dup", 3)}
	current := []config.Fingerprint{fp("c.txt", "dup", 3)}

	cs := DetectChanges(origin, current)

	if len(cs.Renamed) != 1 || cs.Renamed[0].Path != "a.txt" {
		t.Fatalf("Renamed = %+v, want a.txt claimed first", cs.Renamed)
	}
	if len(cs.Removed) != 1 || cs.Removed[0].Path != "b.txt" {
		t.Errorf("Removed = %+v, want b.txt left over", cs.Removed)
	}
}

func TestDetectChangesSymmetric(t *testing.T) {
	// Running the detector in reverse should swap the sizes of the added
	// and removed sets.
	origin := []config.Fingerprint{fp("a.txt", "1", 1), fp("b.txt", "2", 2)}
	current := []config.Fingerprint{fp("b.txt", "2", 2), fp("c.txt", "3", 3)}

	forward := DetectChanges(origin, current)
	backward := DetectChanges(current, origin)

	if len(forward.Added) != len(backward.Removed) {
		t.Errorf("forward.Added and backward.Removed should have matching cardinality: %d vs %d", len(forward.Added), len(backward.Removed))
	}
	if len(forward.Removed) != len(backward.Added) {
		t.Errorf("forward.Removed and backward.Added should have matching cardinality: %d vs %d", len(forward.Removed), len(backward.Added))
	}
}
