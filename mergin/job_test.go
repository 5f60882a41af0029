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
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalTransportRoundTrip(t *testing.T) {
	remoteDir := t.TempDir()
	localDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(remoteDir, "a.txt"), []byte("hello"), 0666); err != nil {
		t.Fatalf("seed remote: %v", err)
	}

	tr := NewLocalTransport(remoteDir)

	dest, err := os.Create(filepath.Join(localDir, "a.txt"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := tr.Download(context.Background(), "a.txt", dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	dest.Close()

	data, err := os.ReadFile(filepath.Join(localDir, "a.txt"))
	if err != nil || string(data) != "hello" {
		t.Fatalf("downloaded content = %q, %v, want %q", data, err, "hello")
	}
}

func TestPullJobDownloadsEveryFile(t *testing.T) {
	remoteDir := t.TempDir()
	tempDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(remoteDir, "a.txt"), []byte("aaa"), 0666); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(remoteDir, "b.txt"), []byte("bbbbb"), 0666); err != nil {
		t.Fatalf("seed: %v", err)
	}

	changes := ChangeSet{
		Added: []AddedEntry{
			{Fingerprint: fp("a.txt", "x", 3)},
			{Fingerprint: fp("b.txt", "y", 5)},
		},
	}

	job := NewPullJob(NewLocalTransport(remoteDir), changes, tempDir, 2)
	if job.TotalSize() != 8 {
		t.Errorf("TotalSize() = %d, want 8", job.TotalSize())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if job.TransferredSize() != 8 {
		t.Errorf("TransferredSize() = %d, want 8", job.TransferredSize())
	}
	if job.IsRunning() {
		t.Errorf("expected IsRunning() to be false once Run has returned")
	}

	for _, want := range []struct{ name, content string }{{"a.txt", "aaa"}, {"b.txt", "bbbbb"}} {
		data, err := os.ReadFile(filepath.Join(tempDir, want.name))
		if err != nil || string(data) != want.content {
			t.Errorf("downloaded %s = %q, %v, want %q", want.name, data, err, want.content)
		}
	}
}

func TestPushJobUploadsEveryFile(t *testing.T) {
	p := newTestProject(t)
	writeFile(t, p, "new.txt", "pushed content")
	remoteDir := t.TempDir()

	changes := ChangeSet{
		Added: []AddedEntry{{Fingerprint: fp("new.txt", "x", 15), Chunks: []string{"chunk-1"}}},
	}

	job := NewPushJob(p, NewLocalTransport(remoteDir), changes, 1)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(remoteDir, "new.txt"))
	if err != nil || string(data) != "pushed content" {
		t.Errorf("remote content = %q, %v, want %q", data, err, "pushed content")
	}
}

func TestJobFinalizeReturnsAggregateError(t *testing.T) {
	tempDir := t.TempDir()
	changes := ChangeSet{
		Added: []AddedEntry{{Fingerprint: fp("missing.txt", "x", 1)}},
	}
	job := NewPullJob(NewLocalTransport(t.TempDir()), changes, tempDir, 1)
	if err := job.Run(context.Background()); err == nil {
		t.Fatalf("expected Run to fail when the remote file does not exist")
	}
	if err := job.Finalize(); err == nil {
		t.Errorf("expected Finalize to surface the same aggregate error")
	}
}
