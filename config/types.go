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

import "time"

// Fingerprint identifies the state of one project file: its path, a
// content checksum, its size, and the modification time it was observed
// at. Path is always a forward-slash path relative to the project root.
type Fingerprint struct {
	Path     string    `json:"path"`
	Checksum string    `json:"checksum"`
	Size     int64     `json:"size"`
	Mtime    time.Time `json:"mtime"`

	// OriginChecksum is populated on Updated entries only: the checksum the
	// file had before the change this fingerprint describes.
	OriginChecksum string `json:"origin_checksum,omitempty"`
}

// DiffRef points at a changeset file plus the metadata needed to verify and
// place it: its relative path (under the meta directory on push; in server
// history, the path a pull downloads into its temp directory), checksum,
// size and (on push) the mtime of the changeset file itself.
type DiffRef struct {
	Path     string     `json:"path"`
	Checksum string     `json:"checksum"`
	Size     int64      `json:"size"`
	Mtime    *time.Time `json:"mtime,omitempty"`
}

// HistoryEntry is one version's worth of server-side history for a
// structured file: either a changeset since the prior version (Diff set)
// or a forced full replacement (Diff nil).
type HistoryEntry struct {
	Diff *DiffRef `json:"diff,omitempty"`
}

// ServerFile is a Fingerprint plus, for structured files, its version
// history as delivered by the server's file inventory. The server
// inventory endpoint itself is an external collaborator; this module only
// consumes its shape.
type ServerFile struct {
	Fingerprint
	History map[string]HistoryEntry `json:"history,omitempty"`
}

// Metadata is the project metadata document persisted at
// <meta>/mergin.json.
type Metadata struct {
	Name    string        `json:"name"`
	Version string        `json:"version"`
	Files   []Fingerprint `json:"files"`
}
