// Package probe implements the Metadata Extractor (spec §4.D): a worker
// pool that shells out to an ffprobe-compatible binary and parses its
// JSON output into a structured record.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"github.com/buulam/clapshot/internal/incoming"
	"github.com/buulam/clapshot/internal/logger"
)

// Result is the structured record produced for one successfully probed
// input (spec §4.D).
type Result struct {
	SrcFile      string
	UserId       string
	Duration     float64
	TotalFrames  int
	Fps          string
	Bitrate      uint64
	OrigCodec    string
	MetadataAll  string
}

// ErrorRecord carries a user-facing failure for one input.
type ErrorRecord struct {
	Msg     string
	Details string
	SrcFile string
	UserId  string
}

func (e *ErrorRecord) Error() string { return fmt.Sprintf("%s: %s", e.Msg, e.Details) }

// ProbeBinary is the ffprobe-compatible executable name, overridable in tests.
var ProbeBinary = "ffprobe"

// Extractor runs a fixed-size pool of probe workers consuming incoming
// Events and producing Result/ErrorRecord values. Input order is NOT
// preserved across workers (spec §4.D).
type Extractor struct {
	workers int
	in      <-chan incoming.Event
	results chan Result
	errs    chan *ErrorRecord
}

// New creates an Extractor with the given worker count (0 defaults to 1,
// the caller is expected to have already resolved CPU-count sizing).
func New(workers int, in <-chan incoming.Event) *Extractor {
	if workers <= 0 {
		workers = 1
	}
	return &Extractor{
		workers: workers,
		in:      in,
		results: make(chan Result, workers*2),
		errs:    make(chan *ErrorRecord, workers*2),
	}
}

// Results returns the channel successfully-probed files are emitted on.
func (e *Extractor) Results() <-chan Result { return e.results }

// Errors returns the channel probe failures are emitted on.
func (e *Extractor) Errors() <-chan *ErrorRecord { return e.errs }

// Run spawns the worker pool and blocks until ctx is canceled or the
// input channel is closed and drained.
func (e *Extractor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.work(ctx)
		}()
	}
	wg.Wait()
	close(e.results)
	close(e.errs)
}

func (e *Extractor) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-e.in:
			if !ok {
				return
			}
			e.probe(ctx, ev)
		}
	}
}

func (e *Extractor) probe(ctx context.Context, ev incoming.Event) {
	out, err := Probe(ctx, ev.Path)
	if err != nil {
		rec := &ErrorRecord{Msg: "Could not read media file", Details: err.Error(), SrcFile: ev.Path, UserId: ev.UserId}
		logger.Warn("probe: %s: %v", ev.Path, err)
		select {
		case e.errs <- rec:
		case <-ctx.Done():
		}
		return
	}

	res := Result{
		SrcFile:     ev.Path,
		UserId:      ev.UserId,
		Duration:    out.durationSeconds(),
		TotalFrames: out.totalFrames(),
		Fps:         out.fps(),
		Bitrate:     out.bitrate(),
		OrigCodec:   out.codec(),
		MetadataAll: out.raw,
	}

	select {
	case e.results <- res:
	case <-ctx.Done():
	}
}

// Probe shells out to ProbeBinary in ffprobe's `-print_format json
// -show_streams -show_format` mode and parses its output.
func Probe(ctx context.Context, path string) (*probeOutput, error) {
	cmd := exec.CommandContext(ctx, ProbeBinary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		"-show_format",
		path,
	)
	raw, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("ffprobe exited %d: %s", exitErr.ExitCode(), string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var parsed rawProbe
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	po := &probeOutput{raw: string(raw), parsed: parsed}
	if po.codec() == "" {
		return nil, fmt.Errorf("no video stream in probe output")
	}
	return po, nil
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NbFrames     string `json:"nb_frames"`
	BitRate      string `json:"bit_rate"`
	Duration     string `json:"duration"`
}

type rawProbe struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

type probeOutput struct {
	raw    string
	parsed rawProbe
}

func (p *probeOutput) videoStream() *probeStream {
	for i := range p.parsed.Streams {
		if p.parsed.Streams[i].CodecType == "video" {
			return &p.parsed.Streams[i]
		}
	}
	return nil
}

func (p *probeOutput) codec() string {
	if v := p.videoStream(); v != nil {
		return v.CodecName
	}
	return ""
}

func (p *probeOutput) fps() string {
	v := p.videoStream()
	if v == nil {
		return ""
	}
	if v.AvgFrameRate != "" && v.AvgFrameRate != "0/0" {
		return v.AvgFrameRate
	}
	return v.RFrameRate
}

func (p *probeOutput) totalFrames() int {
	v := p.videoStream()
	if v == nil || v.NbFrames == "" {
		return 0
	}
	n, _ := strconv.Atoi(v.NbFrames)
	return n
}

func (p *probeOutput) durationSeconds() float64 {
	v := p.videoStream()
	if v != nil && v.Duration != "" {
		if d, err := strconv.ParseFloat(v.Duration, 64); err == nil {
			return d
		}
	}
	if d, err := strconv.ParseFloat(p.parsed.Format.Duration, 64); err == nil {
		return d
	}
	return 0
}

func (p *probeOutput) bitrate() uint64 {
	v := p.videoStream()
	if v != nil && v.BitRate != "" {
		if b, err := strconv.ParseUint(v.BitRate, 10, 64); err == nil {
			return b
		}
	}
	if b, err := strconv.ParseUint(p.parsed.Format.BitRate, 10, 64); err == nil {
		return b
	}
	return 0
}
