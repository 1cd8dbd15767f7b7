// Package ingest implements the Ingest Dispatcher (spec §4.F): the
// single-threaded state machine that turns a probed file into a catalog
// row plus an optional transcode job, and reacts to the Transcoder
// Pool's progress and completion events.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/buulam/clapshot/internal/catalog"
	"github.com/buulam/clapshot/internal/cleaner"
	"github.com/buulam/clapshot/internal/identity"
	"github.com/buulam/clapshot/internal/incoming"
	"github.com/buulam/clapshot/internal/logger"
	"github.com/buulam/clapshot/internal/notify"
	"github.com/buulam/clapshot/internal/organizer"
	"github.com/buulam/clapshot/internal/probe"
	"github.com/buulam/clapshot/internal/transcoder"
)

const ingestTopic = "ingest"
const transcodeTopic = "transcode"

// Dispatcher owns every filesystem mutation under <data>/videos/<id>/
// except the transcoder's own output file (spec §3 "Ownership").
type Dispatcher struct {
	dataDir       string
	targetBitrate uint64

	store *catalog.Store
	bus   *notify.Bus
	pool  *transcoder.Pool

	// extractorIn lets an API-submitted upload re-enter the same
	// extraction pipeline the Incoming Monitor feeds, so it is probed
	// exactly like a spooled file before the Dispatcher ever sees it.
	extractorIn chan<- incoming.Event

	probeResults <-chan probe.Result
	probeErrors  <-chan *probe.ErrorRecord
	uploads      <-chan incoming.Event

	terminate *atomic.Bool
	organizer *organizer.Client
}

// SetOrganizer attaches an optional organizer peer. When set, every
// successful ingest is handed to it for a rename-or-veto decision
// (spec §1, §6); the peer's own transaction wrapping happens inside
// organizer.Client.RunDecision, off the Dispatcher's select loop so a
// slow peer never stalls probing or transcoding.
func (d *Dispatcher) SetOrganizer(c *organizer.Client) {
	d.organizer = c
}

// New builds a Dispatcher. terminate is a process-wide flag the
// Dispatcher sets on a fatal (closed) channel, per spec §5.
func New(
	dataDir string,
	targetBitrate uint64,
	store *catalog.Store,
	bus *notify.Bus,
	pool *transcoder.Pool,
	extractorIn chan<- incoming.Event,
	probeResults <-chan probe.Result,
	probeErrors <-chan *probe.ErrorRecord,
	uploads <-chan incoming.Event,
	terminate *atomic.Bool,
) *Dispatcher {
	return &Dispatcher{
		dataDir:       dataDir,
		targetBitrate: targetBitrate,
		store:         store,
		bus:           bus,
		pool:          pool,
		extractorIn:   extractorIn,
		probeResults:  probeResults,
		probeErrors:   probeErrors,
		uploads:       uploads,
		terminate:     terminate,
	}
}

// Run multiplexes every input with a single select statement. Go's
// runtime already picks pseudo-randomly among simultaneously-ready
// cases, which is what gives this loop the "fair select" property spec
// §5 asks for — no additional round-robin bookkeeping is needed.
func (d *Dispatcher) Run(ctx context.Context) {
	probeResults := d.probeResults
	probeErrors := d.probeErrors
	transcodeProgress := d.pool.Progress()
	transcodeResults := d.pool.Results()
	uploads := d.uploads

	for {
		if probeResults == nil && probeErrors == nil && transcodeProgress == nil && transcodeResults == nil && uploads == nil {
			return
		}
		select {
		case <-ctx.Done():
			return

		case res, ok := <-probeResults:
			if !ok {
				probeResults = nil
				continue
			}
			d.handleProbeResult(res)

		case rec, ok := <-probeErrors:
			if !ok {
				probeErrors = nil
				continue
			}
			d.handleProbeError(rec)

		case p, ok := <-transcodeProgress:
			if !ok {
				transcodeProgress = nil
				continue
			}
			d.handleTranscodeProgress(p)

		case r, ok := <-transcodeResults:
			if !ok {
				transcodeResults = nil
				continue
			}
			d.handleTranscodeResult(r)

		case ev, ok := <-uploads:
			if !ok {
				uploads = nil
				continue
			}
			d.forwardUpload(ev)
		}
	}
}

// forwardUpload re-injects an API-submitted (path, user_id) pair into
// the extraction pipeline. A blocked send here would stall the whole
// Dispatcher loop, so the send never blocks: when the extractor input is
// full the upload is logged and dropped.
func (d *Dispatcher) forwardUpload(ev incoming.Event) {
	if d.extractorIn == nil {
		return
	}
	select {
	case d.extractorIn <- ev:
	default:
		logger.Warn("dispatcher: extractor input full, dropping upload %s", ev.Path)
	}
}

func (d *Dispatcher) handleProbeError(rec *probe.ErrorRecord) {
	logger.Warn("dispatcher: %s", rec.Error())
	d.publish(notify.Message{
		Topic:     ingestTopic,
		EventName: catalog.EventError,
		UserId:    rec.UserId,
		Msg:       rec.Msg,
		Details:   rec.Details,
		Persist:   true,
	})
	if err := cleaner.Clean(d.dataDir, rec.SrcFile, ""); err != nil {
		logger.Error("dispatcher: clean rejected %s: %v", rec.SrcFile, err)
	}
}

func (d *Dispatcher) handleProbeResult(res probe.Result) {
	id, err := identity.Hash(res.SrcFile, res.UserId)
	if err != nil {
		d.publish(notify.Message{
			Topic: ingestTopic, EventName: catalog.EventError, UserId: res.UserId,
			Msg: "Could not compute media identity", Details: err.Error(), Persist: true,
		})
		d.reject(res.SrcFile, "")
		return
	}

	videoDir := filepath.Join(d.dataDir, "videos", id)
	if dirExists(videoDir) {
		switch handled, err := d.resolveDuplicate(videoDir, id, res); {
		case err != nil:
			d.publish(notify.Message{
				Topic: ingestTopic, EventName: catalog.EventError, UserId: res.UserId,
				Msg: "Catalog lookup failed", Details: err.Error(), Persist: true,
			})
			return
		case handled:
			return
		}
		// Directory existed with no catalog row: resolveDuplicate already
		// removed it, fall through and ingest normally.
	}

	origDir := filepath.Join(videoDir, "orig")
	if err := os.MkdirAll(origDir, 0o755); err != nil {
		d.publish(notify.Message{
			Topic: ingestTopic, EventName: catalog.EventError, UserId: res.UserId,
			Msg: "Could not prepare storage", Details: err.Error(), Persist: true,
		})
		return
	}
	dst := filepath.Join(origDir, filepath.Base(res.SrcFile))
	if err := cleaner.MoveFile(res.SrcFile, dst); err != nil {
		d.publish(notify.Message{
			Topic: ingestTopic, EventName: catalog.EventError, UserId: res.UserId,
			Msg: "Could not store media file", Details: err.Error(), Persist: true,
		})
		return
	}

	userId := res.UserId
	origName := filepath.Base(res.SrcFile)
	row := &catalog.MediaFile{
		Id:              id,
		UserId:          &userId,
		OrigFilename:    &origName,
		TotalFrames:     res.TotalFrames,
		DurationSeconds: res.Duration,
		Fps:             res.Fps,
		RawProbeData:    res.MetadataAll,
	}
	if err := d.store.InsertMediaFile(row); err != nil {
		d.publish(notify.Message{
			Topic: ingestTopic, EventName: catalog.EventError, UserId: res.UserId,
			Msg: "Could not record media in catalog", Details: err.Error(), Persist: true,
		})
		return
	}

	suffix := ""
	if needsTranscode(dst, res.OrigCodec, res.Bitrate, targetBitrate(res.Bitrate, d.targetBitrate)) {
		rate := targetBitrate(res.Bitrate, d.targetBitrate)
		outName := fmt.Sprintf("transcoded_br%d_%s.mp4", rate, uuid.New().String())
		job := transcoder.Job{
			Src:          dst,
			Dst:          filepath.Join(videoDir, outName),
			VideoBitrate: rate,
			MediaId:      id,
			UserId:       userId,
		}
		if err := d.pool.Submit(job); err != nil {
			logger.Error("dispatcher: submit transcode job for %s: %v", id, err)
			d.terminate.Store(true)
		} else {
			suffix = " Transcoding..."
		}
	}

	d.publish(notify.Message{
		Topic: ingestTopic, EventName: catalog.EventMediaFileAdded, UserId: userId,
		MediaId: &id, Persist: true,
	})
	d.publish(notify.Message{
		Topic: ingestTopic, EventName: catalog.EventOk, UserId: userId,
		MediaId: &id, Msg: "Media added." + suffix, Persist: true,
	})

	d.askOrganizer(row, "media-file-added")
}

// askOrganizer consults the optional organizer peer about a just-written
// row. A veto only logs: the media file is already committed by this
// point, so the Dispatcher does not undo it (spec §1 scopes the
// organizer down to its transactional interface, not policy authority
// over ingestion itself).
func (d *Dispatcher) askOrganizer(row *catalog.MediaFile, event string) {
	if d.organizer == nil {
		return
	}
	go func() {
		req := organizer.DecisionRequest{
			MediaId:         row.Id,
			Event:           event,
			DurationSeconds: row.DurationSeconds,
			TotalFrames:     row.TotalFrames,
		}
		if row.UserId != nil {
			req.UserId = *row.UserId
		}
		if row.OrigFilename != nil {
			req.OrigFilename = *row.OrigFilename
		}
		if row.Title != nil {
			req.Title = *row.Title
		}
		if err := d.organizer.RunDecision(d.store, req); err != nil {
			logger.Warn("dispatcher: organizer decision for %s: %v", row.Id, err)
		}
	}()
}

// resolveDuplicate implements spec §4.F step 2. The bool return reports
// whether the caller is already done (either a benign duplicate or a
// fatal collision); when false with a nil error, the stale directory has
// been removed and normal ingestion should proceed.
func (d *Dispatcher) resolveDuplicate(videoDir, id string, res probe.Result) (bool, error) {
	row, err := d.store.GetMediaFile(id)
	switch {
	case err == nil:
		if row.UserId != nil && *row.UserId == res.UserId {
			d.publish(notify.Message{
				Topic: ingestTopic, EventName: catalog.EventOk, UserId: res.UserId,
				Msg: "You already have this media.", Persist: true,
			})
			d.reject(res.SrcFile, "")
			return true, nil
		}
		d.publish(notify.Message{
			Topic: ingestTopic, EventName: catalog.EventError, UserId: res.UserId,
			Msg: "Media identity collision", Details: fmt.Sprintf("id %s is already claimed by another user", id), Persist: true,
		})
		d.reject(res.SrcFile, "")
		return true, nil

	case isNotFound(err):
		if rmErr := os.RemoveAll(videoDir); rmErr != nil {
			return false, fmt.Errorf("remove stale tree %s: %w", videoDir, rmErr)
		}
		return false, nil

	default:
		return false, err
	}
}

func (d *Dispatcher) handleTranscodeProgress(p transcoder.Progress) {
	mediaId := p.MediaId
	d.publish(notify.Message{
		Topic: transcodeTopic, EventName: catalog.EventProgress, UserId: p.UserId,
		MediaId: &mediaId, Msg: p.Text,
	})
}

func (d *Dispatcher) handleTranscodeResult(r transcoder.Result) {
	if !r.Success {
		d.publish(notify.Message{
			Topic: transcodeTopic, EventName: catalog.EventError, UserId: r.DMsg.UserId,
			MediaId: &r.MediaId, Msg: r.DMsg.Msg, Details: r.DMsg.Details, Persist: true,
		})
		return
	}

	videoDir := filepath.Join(d.dataDir, "videos", r.MediaId)
	if err := os.WriteFile(filepath.Join(videoDir, "stdout"), []byte(r.Stdout), 0o644); err != nil {
		logger.Error("dispatcher: write stdout for %s: %v", r.MediaId, err)
	}
	if err := os.WriteFile(filepath.Join(videoDir, "stderr"), []byte(r.Stderr), 0o644); err != nil {
		logger.Error("dispatcher: write stderr for %s: %v", r.MediaId, err)
	}

	symlink := filepath.Join(videoDir, "video.mp4")
	_ = os.Remove(symlink)
	if err := os.Symlink(filepath.Base(r.DstFile), symlink); err != nil {
		logger.Error("dispatcher: symlink video.mp4 for %s: %v", r.MediaId, err)
	}

	now := time.Now().UTC()
	if err := d.store.SetRecompressionDone(r.MediaId, now); err != nil {
		logger.Error("dispatcher: set recompression_done for %s: %v", r.MediaId, err)
	}

	mediaId := r.MediaId
	d.publish(notify.Message{
		Topic: transcodeTopic, EventName: catalog.EventOk, UserId: r.UserId,
		MediaId: &mediaId, Msg: "Transcoding complete.", Persist: true,
	})
	d.publish(notify.Message{
		Topic: transcodeTopic, EventName: catalog.EventMediaFileUpdated, UserId: r.UserId,
		MediaId: &mediaId, Persist: true,
	})
}

// reject invokes the Cleaner, surfacing the error (it cannot itself
// produce a user-facing message; the caller has already published one).
func (d *Dispatcher) reject(srcPath, mediaId string) {
	if err := cleaner.Clean(d.dataDir, srcPath, mediaId); err != nil {
		logger.Error("dispatcher: clean %s: %v", srcPath, err)
	}
}

// publish delivers a message through the Bus. A failure here is treated
// as the "channel send" error class of spec §7: fatal, since it means a
// user can no longer be told what the pipeline is doing.
func (d *Dispatcher) publish(msg notify.Message) {
	if err := d.bus.Publish(msg); err != nil {
		logger.Error("dispatcher: publish message: %v", err)
		d.terminate.Store(true)
	}
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isNotFound(err error) bool {
	return errors.Is(err, catalog.ErrNotFound)
}
