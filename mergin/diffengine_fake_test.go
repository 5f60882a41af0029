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

import "os"

// fakeDiffEngine is a DiffEngine test double that treats a "changeset" as a
// plain copy of the newer file, so apply_changeset can be verified without
// a real geodiff binary. has_changes reports true whenever the changeset
// file is non-empty, unless noChanges is set.
type fakeDiffEngine struct {
	failCreate    bool
	failApply     bool
	failHasChange bool
	failRebase    bool
	noChanges     bool
}

func (f *fakeDiffEngine) Available() bool { return true }

func (f *fakeDiffEngine) CreateChangeset(base, current, outDiff string) error {
	if f.failCreate {
		return diffFailureErr(nil)
	}
	data, err := os.ReadFile(current)
	if err != nil {
		return diffFailureErr(err)
	}
	return os.WriteFile(outDiff, data, 0666)
}

func (f *fakeDiffEngine) HasChanges(diff string) (bool, error) {
	if f.failHasChange {
		return false, diffFailureErr(nil)
	}
	if f.noChanges {
		return false, nil
	}
	info, err := os.Stat(diff)
	if err != nil {
		return false, diffFailureErr(err)
	}
	return info.Size() > 0, nil
}

func (f *fakeDiffEngine) ApplyChangeset(target, diff string) error {
	if f.failApply {
		return diffFailureErr(nil)
	}
	data, err := os.ReadFile(diff)
	if err != nil {
		return diffFailureErr(err)
	}
	return os.WriteFile(target, data, 0666)
}

func (f *fakeDiffEngine) Rebase(base, server, local string) error {
	if f.failRebase {
		return diffFailureErr(nil)
	}
	// Treat the server copy as always winning; good enough for exercising
	// the plumbing around Rebase without re-implementing real row merging.
	data, err := os.ReadFile(server)
	if err != nil {
		return diffFailureErr(err)
	}
	return os.WriteFile(local, data, 0666)
}

func (f *fakeDiffEngine) ListChangesSummary(diff, outJSON string) error {
	return os.WriteFile(outJSON, []byte(`[{"table":"points","insert":1,"update":0,"delete":0}]`), 0666)
}
