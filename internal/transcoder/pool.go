// Package transcoder implements the Transcoder Pool (spec §4.G): a
// bounded-parallelism supervisor over an ffmpeg-compatible encoder
// binary, scraping progress from stderr and reporting completion.
package transcoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sync"
)

// Job describes one encode: src/dst paths, the target video bitrate and
// the identifiers needed to route progress/completion notifications.
type Job struct {
	Src          string
	Dst          string
	VideoBitrate uint64
	MediaId      string
	UserId       string
}

// Progress is one stderr-scraped progress update for a job. Per-job
// order is preserved; delivery across jobs is not ordered and may drop
// updates if the reader is slow (spec §4.G).
type Progress struct {
	MediaId string
	UserId  string
	Text    string
}

// DMsg is the human-facing error payload carried by a failed Result.
type DMsg struct {
	Msg     string
	Details string
	SrcFile string
	UserId  string
}

// Result reports a job's completion.
type Result struct {
	Success bool
	DstFile string
	MediaId string
	UserId  string
	Stdout  string
	Stderr  string
	DMsg    *DMsg
}

// EncoderBinary is the ffmpeg-compatible executable name, overridable in tests.
var EncoderBinary = "ffmpeg"

// ErrClosed is returned by Submit once the pool has begun shutting down.
var ErrClosed = errors.New("transcoder: pool is closed")

// Pool runs at most `workers` concurrent encodes.
type Pool struct {
	workers  int
	jobs     chan Job
	progress chan Progress
	results  chan Result

	mu     sync.Mutex
	closed bool
}

// New creates a Pool sized to run at most `workers` jobs concurrently (0
// defaults to 1; the caller is expected to have resolved CPU-count sizing).
func New(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		workers:  workers,
		jobs:     make(chan Job, 1024),
		progress: make(chan Progress, 256),
		results:  make(chan Result, 64),
	}
}

// Progress returns the lossy per-job progress channel.
func (p *Pool) Progress() <-chan Progress { return p.progress }

// Results returns the job-completion channel.
func (p *Pool) Results() <-chan Result { return p.results }

// Submit enqueues a job. Returns ErrClosed once Shutdown has been called.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.jobs <- job
	return nil
}

// Shutdown closes the job-input channel. In-flight encodes run to
// completion; any job still sitting in the queue when Shutdown is called
// is discarded rather than started.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.jobs)
}

// Run spawns the worker pool and blocks until every worker has exited
// (i.e. the job channel has been closed and drained).
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}
	wg.Wait()
	close(p.progress)
	close(p.results)
}

func (p *Pool) worker(ctx context.Context) {
	for job := range p.jobs {
		p.mu.Lock()
		discard := p.closed
		p.mu.Unlock()
		if discard {
			continue
		}
		p.runJob(ctx, job)
	}
}

func (p *Pool) pushProgress(update Progress) {
	select {
	case p.progress <- update:
	default:
		// Reader is behind; drop the stale update rather than block a worker.
	}
}

var timeRe = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2})\.(\d+)`)

func (p *Pool) runJob(ctx context.Context, job Job) {
	cmd := exec.CommandContext(ctx, EncoderBinary,
		"-y",
		"-i", job.Src,
		"-b:v", fmt.Sprintf("%d", job.VideoBitrate),
		job.Dst,
	)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		p.results <- failureResult(job, "", "", err)
		return
	}
	var stdoutBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf

	var stderrBuf bytes.Buffer
	if err := cmd.Start(); err != nil {
		p.results <- failureResult(job, stdoutBuf.String(), stderrBuf.String(), err)
		return
	}

	scanner := bufio.NewScanner(stderrPipe)
	scanner.Buffer(make([]byte, 0, 4096), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		stderrBuf.WriteString(line)
		stderrBuf.WriteByte('\n')
		if timeRe.MatchString(line) {
			p.pushProgress(Progress{MediaId: job.MediaId, UserId: job.UserId, Text: line})
		}
	}

	err = cmd.Wait()
	if err != nil {
		p.results <- failureResult(job, stdoutBuf.String(), stderrBuf.String(), err)
		return
	}

	p.results <- Result{
		Success: true,
		DstFile: job.Dst,
		MediaId: job.MediaId,
		UserId:  job.UserId,
		Stdout:  stdoutBuf.String(),
		Stderr:  stderrBuf.String(),
	}
}

func failureResult(job Job, stdout, stderr string, err error) Result {
	return Result{
		Success: false,
		MediaId: job.MediaId,
		UserId:  job.UserId,
		Stdout:  stdout,
		Stderr:  stderr,
		DMsg: &DMsg{
			Msg:     "Transcoding failed",
			Details: err.Error(),
			SrcFile: job.Src,
			UserId:  job.UserId,
		},
	}
}
