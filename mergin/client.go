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

	"github.com/mergin-maps/sync-client/config"
)

// defaultParallelism bounds the worker pool a parallel pull or push
// dispatches chunk transfers through.
const defaultParallelism = 4

// ServerInfo is the external collaborator that knows a project's remote
// inventory: its current file list, per-structured-file history, and
// latest version token. Everything about how it talks to a server (HTTP,
// auth) is out of this package's scope, per spec.md 1.
type ServerInfo interface {
	Files(ctx context.Context) (files []config.ServerFile, version string, err error)
}

// Client is the public surface of the sync engine: project_status, pull,
// push, and their async variants, wired to a Project Store, a Diff Engine
// Adapter, a Transport, and a ServerInfo collaborator.
type Client struct {
	Project   *config.Project
	Engine    DiffEngine
	Transport Transport
	Server    ServerInfo
}

// NewClient builds a Client over an already-opened project. engine may be
// nil, in which case the structured-diff capability is disabled; it is also
// disabled when the project's Config sets DisableDiff.
func NewClient(p *config.Project, engine DiffEngine, transport Transport, server ServerInfo) *Client {
	if engine == nil || (p.Cfg != nil && p.Cfg.DisableDiff) {
		engine = &noopDiffEngine{}
	}
	return &Client{Project: p, Engine: engine, Transport: transport, Server: server}
}

// ProjectStatus reports what a pull and a push would each do right now,
// without mutating anything.
func (c *Client) ProjectStatus(ctx context.Context) (pull, push ChangeSet, pushSummary map[string][]ChangeSummary, err error) {
	localMeta, err := c.Project.MetadataGet()
	if err != nil {
		return ChangeSet{}, ChangeSet{}, nil, err
	}

	serverFiles, _, err := c.Server.Files(ctx)
	if err != nil {
		return ChangeSet{}, ChangeSet{}, nil, transportErr(err)
	}

	pull, err = PullPlan(localMeta, serverFiles, c.Engine, c.Project.Cfg.DiffsLimitSize)
	if err != nil {
		return ChangeSet{}, ChangeSet{}, nil, err
	}

	push, err = PushPlan(c.Project, localMeta, c.Engine)
	if err != nil {
		return ChangeSet{}, ChangeSet{}, nil, err
	}

	pushSummary = Summarize(c.Project, push, c.Engine)
	return pull, push, pushSummary, nil
}

// Pull synchronously downloads and applies the outstanding server changes.
// parallel selects the worker pool width used for the transfer; it never
// changes the outcome, only how long it takes. It returns the relative
// paths of any conflict copies the Apply Engine had to produce.
func (c *Client) Pull(ctx context.Context, parallel bool) ([]string, error) {
	op, err := c.buildPullOperation(ctx, parallel)
	if err != nil {
		return nil, err
	}
	if err := op.job.Run(ctx); err != nil {
		return nil, err
	}
	return op.finish()
}

// Push synchronously pushes local changes and reconciles the basefile
// mirror.
func (c *Client) Push(ctx context.Context, parallel bool) error {
	op, err := c.buildPushOperation(ctx, parallel)
	if err != nil {
		return err
	}
	if err := op.job.Run(ctx); err != nil {
		return err
	}
	_, err = op.finish()
	return err
}

// AsyncOperation is a pull or push whose byte transfer has been handed to a
// background Job. Its Job can be polled for progress (IsRunning,
// TransferredSize, TotalSize) and stopped early (Cancel); Finalize blocks
// for the transfer to finish, then runs the Apply Engine and commits the
// updated project metadata.
type AsyncOperation struct {
	job    *Job
	finish func() ([]string, error)
}

// Job exposes the underlying transfer job for progress polling.
func (o *AsyncOperation) Job() *Job { return o.job }

// IsRunning reports whether the transfer is still in flight.
func (o *AsyncOperation) IsRunning() bool { return o.job.IsRunning() }

// Cancel requests the transfer stop early; already-applied files are
// unaffected; Finalize still needs to be called to see the result of what
// did complete.
func (o *AsyncOperation) Cancel() { o.job.Cancel() }

// TransferredSize is the number of bytes moved so far.
func (o *AsyncOperation) TransferredSize() int64 { return o.job.TransferredSize() }

// TotalSize is the number of bytes the operation expects to move in total.
func (o *AsyncOperation) TotalSize() int64 { return o.job.TotalSize() }

// Finalize blocks until the transfer completes, then applies it and
// returns any conflict copies produced (pull only; always empty for push).
func (o *AsyncOperation) Finalize() ([]string, error) {
	if err := o.job.Finalize(); err != nil {
		return nil, err
	}
	return o.finish()
}

// PullAsync starts the download in the background and returns immediately
// with a handle to poll and finalize.
func (c *Client) PullAsync(ctx context.Context, parallel bool) (*AsyncOperation, error) {
	op, err := c.buildPullOperation(ctx, parallel)
	if err != nil {
		return nil, err
	}
	go op.job.Run(ctx)
	return op, nil
}

func (c *Client) buildPullOperation(ctx context.Context, parallel bool) (*AsyncOperation, error) {
	localMeta, err := c.Project.MetadataGet()
	if err != nil {
		return nil, err
	}

	serverFiles, serverVersion, err := c.Server.Files(ctx)
	if err != nil {
		return nil, transportErr(err)
	}

	plan, err := PullPlan(localMeta, serverFiles, c.Engine, c.Project.Cfg.DiffsLimitSize)
	if err != nil {
		return nil, err
	}

	tempDir, err := os.MkdirTemp("", "mergin-pull-")
	if err != nil {
		return nil, filesystemFailureErr(err)
	}

	concurrency := 1
	if parallel {
		concurrency = defaultParallelism
	}
	job := NewPullJob(c.Transport, plan, tempDir, concurrency)

	serverByPath := make(map[string]config.Fingerprint, len(serverFiles))
	for _, f := range serverFiles {
		serverByPath[f.Path] = f.Fingerprint
	}

	finish := func() ([]string, error) {
		defer os.RemoveAll(tempDir)

		conflicts, applyErr := ApplyPull(c.Project, plan, tempDir, c.Engine)
		if applyErr != nil {
			return conflicts, applyErr
		}

		if setErr := c.commitPulledMetadata(localMeta, plan, serverByPath, serverVersion); setErr != nil {
			return conflicts, setErr
		}
		return conflicts, nil
	}

	return &AsyncOperation{job: job, finish: finish}, nil
}

// PushAsync starts the upload in the background and returns immediately
// with a handle to poll and finalize.
func (c *Client) PushAsync(ctx context.Context, parallel bool) (*AsyncOperation, error) {
	op, err := c.buildPushOperation(ctx, parallel)
	if err != nil {
		return nil, err
	}
	go op.job.Run(ctx)
	return op, nil
}

func (c *Client) buildPushOperation(ctx context.Context, parallel bool) (*AsyncOperation, error) {
	localMeta, err := c.Project.MetadataGet()
	if err != nil {
		return nil, err
	}

	plan, err := PushPlan(c.Project, localMeta, c.Engine)
	if err != nil {
		return nil, err
	}

	concurrency := 1
	if parallel {
		concurrency = defaultParallelism
	}
	job := NewPushJob(c.Project, c.Transport, plan, concurrency)

	finish := func() ([]string, error) {
		if applyErr := ApplyPush(c.Project, plan, c.Engine); applyErr != nil {
			return nil, applyErr
		}

		serverFiles, serverVersion, sErr := c.Server.Files(ctx)
		if sErr != nil {
			// The push itself already landed; a stale local metadata
			// document only costs an extra round of change detection on
			// the next status check.
			return nil, nil
		}
		meta := &config.Metadata{Name: localMeta.Name, Version: serverVersion, Files: make([]config.Fingerprint, len(serverFiles))}
		for i, f := range serverFiles {
			meta.Files[i] = f.Fingerprint
		}
		return nil, c.Project.MetadataSet(meta)
	}

	return &AsyncOperation{job: job, finish: finish}, nil
}

// commitPulledMetadata rewrites the project metadata document to reflect
// the post-pull state: every server fingerprint the plan just materialized
// locally, plus anything untouched by the pull, at the server's reported
// version.
func (c *Client) commitPulledMetadata(localMeta *config.Metadata, plan ChangeSet, serverByPath map[string]config.Fingerprint, serverVersion string) error {
	removedPaths := make(map[string]bool, len(plan.Removed))
	for _, f := range plan.Removed {
		removedPaths[f.Path] = true
	}
	renamedFrom := make(map[string]bool, len(plan.Renamed))
	for _, r := range plan.Renamed {
		renamedFrom[r.Path] = true
	}

	touched := make(map[string]bool)
	for _, f := range plan.Added {
		touched[f.Path] = true
	}
	for _, f := range plan.Updated {
		touched[f.Path] = true
	}

	var files []config.Fingerprint
	for _, f := range localMeta.Files {
		if removedPaths[f.Path] || renamedFrom[f.Path] || touched[f.Path] {
			continue
		}
		files = append(files, f)
	}
	for _, r := range plan.Renamed {
		if fp, ok := serverByPath[r.NewPath]; ok {
			files = append(files, fp)
		}
	}
	for path := range touched {
		if fp, ok := serverByPath[path]; ok {
			files = append(files, fp)
		}
	}

	return c.Project.MetadataSet(&config.Metadata{
		Name:    localMeta.Name,
		Version: serverVersion,
		Files:   files,
	})
}
