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
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/odeke-em/semalim"
	"github.com/odeke-em/statos"

	"github.com/mergin-maps/sync-client/config"
)

// Transport is the external collaborator a Job dispatches file transfers
// through (spec.md 1's "transport layer"). A chunk identifier is opaque to
// this package; it exists so a concrete transport can address, resume, or
// checksum individual pieces of a transfer on its own wire format.
type Transport interface {
	// Download streams remotePath's current content into w.
	Download(ctx context.Context, remotePath string, w io.Writer) error
	// Upload streams size bytes from r as remotePath, tagged with the
	// chunk identifiers the Push Planner allocated for it.
	Upload(ctx context.Context, remotePath string, chunkIDs []string, r io.Reader, size int64) error
}

// Direction distinguishes which way a Job moves bytes.
type Direction int

const (
	DirectionPull Direction = iota
	DirectionPush
)

// fileTransfer is one file (or diff) a Job moves between the transport and
// local disk.
type fileTransfer struct {
	remotePath string
	localPath  string
	chunkIDs   []string
	size       int64
}

// Job runs a batch of file transfers through a bounded worker pool,
// tracking aggregate progress independently of the Apply Engine, which only
// ever sees the job's result once it finalizes. A Job is used once.
type Job struct {
	Direction   Direction
	Concurrency int

	transport Transport
	transfers []fileTransfer
	totalSize int64

	transferred int64 // atomic
	cancelled   int32 // atomic bool

	mu      sync.Mutex
	started bool
	done    chan struct{}
	err     error
}

// NewPullJob builds a Job that downloads every full file and diff a
// PullPlan's change set needs into tempDir, preserving relative layout so
// ApplyPull can find them by path.
func NewPullJob(transport Transport, changes ChangeSet, tempDir string, concurrency int) *Job {
	var transfers []fileTransfer
	for _, item := range changes.Added {
		transfers = append(transfers, fileTransfer{
			remotePath: item.Path,
			localPath:  tempPath(tempDir, item.Path),
			size:       item.Size,
		})
	}
	for _, item := range changes.Updated {
		if len(item.Diffs) > 0 {
			for k, diffPath := range item.Diffs {
				t := fileTransfer{
					remotePath: diffPath,
					localPath:  tempPath(tempDir, diffPath),
				}
				if k == 0 {
					// The entry carries only the chain's total size, so
					// the first diff declares it for the whole chain.
					t.size = item.DiffsSize
				}
				transfers = append(transfers, t)
			}
			continue
		}
		transfers = append(transfers, fileTransfer{
			remotePath: item.Path,
			localPath:  tempPath(tempDir, item.Path),
			size:       item.Size,
		})
	}
	return newJob(DirectionPull, transport, transfers, concurrency)
}

// NewPushJob builds a Job that uploads every added file, updated file (or
// its changeset, when the Push Planner attached one), from a project's
// working tree and meta directory.
func NewPushJob(p *config.Project, transport Transport, changes ChangeSet, concurrency int) *Job {
	var transfers []fileTransfer
	for _, item := range changes.Added {
		transfers = append(transfers, fileTransfer{
			remotePath: item.Path,
			localPath:  p.Path(item.Path),
			chunkIDs:   item.Chunks,
			size:       item.Size,
		})
	}
	for _, item := range changes.Updated {
		if item.Diff != nil {
			transfers = append(transfers, fileTransfer{
				remotePath: item.Diff.Path,
				localPath:  p.MetaPath(item.Diff.Path),
				chunkIDs:   item.Chunks,
				size:       item.Diff.Size,
			})
			continue
		}
		transfers = append(transfers, fileTransfer{
			remotePath: item.Path,
			localPath:  p.Path(item.Path),
			chunkIDs:   item.Chunks,
			size:       item.Size,
		})
	}
	return newJob(DirectionPush, transport, transfers, concurrency)
}

func newJob(dir Direction, transport Transport, transfers []fileTransfer, concurrency int) *Job {
	if concurrency <= 0 {
		concurrency = 1
	}
	var total int64
	for _, t := range transfers {
		total += t.size
	}
	return &Job{
		Direction:   dir,
		Concurrency: concurrency,
		transport:   transport,
		transfers:   transfers,
		totalSize:   total,
		done:        make(chan struct{}),
	}
}

// TotalSize is the sum of every transfer's declared size. It never changes
// once the Job is constructed.
func (j *Job) TotalSize() int64 { return j.totalSize }

// TransferredSize is the number of bytes moved so far, monotonically
// non-decreasing for the lifetime of the Job.
func (j *Job) TransferredSize() int64 { return atomic.LoadInt64(&j.transferred) }

// IsRunning reports whether Run has been called and has not yet returned.
func (j *Job) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.started {
		return false
	}
	select {
	case <-j.done:
		return false
	default:
		return true
	}
}

// Cancel requests the job stop dispatching new transfers. It is idempotent
// and safe to call before, during, or after Run. In-flight transfers are
// allowed to complete; no partial local file is left in place for any
// transfer Cancel manages to preempt.
func (j *Job) Cancel() {
	atomic.StoreInt32(&j.cancelled, 1)
}

// Finalize blocks until the job's dispatch loop has drained, returning the
// aggregate error (nil if every transfer succeeded). Calling Finalize more
// than once returns the same result.
func (j *Job) Finalize() error {
	<-j.done
	return j.err
}

// Run dispatches every transfer through a bounded worker pool and blocks
// until they all complete or ctx is cancelled. It must be called exactly
// once.
func (j *Job) Run(ctx context.Context) error {
	j.mu.Lock()
	if j.started {
		j.mu.Unlock()
		return j.Finalize()
	}
	j.started = true
	j.mu.Unlock()
	defer close(j.done)

	jobsChan := make(chan semalim.Job)
	go func() {
		defer close(jobsChan)
		for i, t := range j.transfers {
			if atomic.LoadInt32(&j.cancelled) != 0 {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			jobsChan <- transferJob{id: i, job: j, transfer: t, ctx: ctx}
		}
	}()

	results := semalim.Run(jobsChan, uint64(j.Concurrency))
	var agg error
	for result := range results {
		if err := result.Err(); err != nil {
			agg = multierror.Append(agg, err)
		}
	}
	j.err = agg
	return agg
}

// transferJob adapts one fileTransfer into the semalim.Job interface
// (Id()/Do()) the worker pool expects.
type transferJob struct {
	id       int
	job      *Job
	transfer fileTransfer
	ctx      context.Context
}

func (t transferJob) Id() interface{} { return t.id }

func (t transferJob) Do() (interface{}, error) {
	switch t.job.Direction {
	case DirectionPull:
		return t.transfer.remotePath, t.job.runDownload(t.ctx, t.transfer)
	default:
		return t.transfer.remotePath, t.job.runUpload(t.ctx, t.transfer)
	}
}

func (j *Job) runDownload(ctx context.Context, t fileTransfer) error {
	if err := os.MkdirAll(filepath.Dir(t.localPath), 0777); err != nil {
		return filesystemFailureErr(err)
	}
	f, err := os.OpenFile(t.localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(config.O_RWForAll))
	if err != nil {
		return filesystemFailureErr(err)
	}
	defer f.Close()

	sw := statos.NewWriteCloser(f)
	progressDone := make(chan struct{})
	go j.drainProgress(sw.ProgressChan(), progressDone)

	err = j.transport.Download(ctx, t.remotePath, sw)
	sw.Close()
	<-progressDone
	if err != nil {
		return transportErr(err)
	}
	return nil
}

func (j *Job) runUpload(ctx context.Context, t fileTransfer) error {
	f, err := os.Open(t.localPath)
	if err != nil {
		return filesystemFailureErr(err)
	}
	defer f.Close()

	sr := statos.NewReadCloser(f)
	progressDone := make(chan struct{})
	go j.drainProgress(sr.ProgressChan(), progressDone)

	err = j.transport.Upload(ctx, t.remotePath, t.chunkIDs, sr, t.size)
	sr.Close()
	<-progressDone
	if err != nil {
		return transportErr(err)
	}
	return nil
}

func (j *Job) drainProgress(ch chan int, done chan struct{}) {
	defer close(done)
	for n := range ch {
		atomic.AddInt64(&j.transferred, int64(n))
	}
}

// LocalTransport copies files between two local directories, addressing
// them by the same project-relative paths the sync engine uses. It exists
// for tests and for embedders who mirror projects over a mounted
// filesystem rather than HTTP.
type LocalTransport struct {
	RemoteDir string
}

func NewLocalTransport(remoteDir string) *LocalTransport {
	return &LocalTransport{RemoteDir: remoteDir}
}

func (t *LocalTransport) Download(ctx context.Context, remotePath string, w io.Writer) error {
	f, err := os.Open(filepath.Join(t.RemoteDir, filepath.FromSlash(remotePath)))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func (t *LocalTransport) Upload(ctx context.Context, remotePath string, chunkIDs []string, r io.Reader, size int64) error {
	dest := filepath.Join(t.RemoteDir, filepath.FromSlash(remotePath))
	if err := os.MkdirAll(filepath.Dir(dest), 0777); err != nil {
		return err
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(config.O_RWForAll))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, r)
	return err
}
