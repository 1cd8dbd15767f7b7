// Command clapshotd is the ingestion core's entry point: it wires the
// Catalog Store, Incoming Monitor, Metadata Extractor, Ingest
// Dispatcher, Transcoder Pool, Notification Bus, optional Organizer
// peer and the thin API boundary together, then runs until a signal or
// a fatal channel closure asks it to stop (spec §5).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/buulam/clapshot/internal/api"
	"github.com/buulam/clapshot/internal/catalog"
	"github.com/buulam/clapshot/internal/config"
	"github.com/buulam/clapshot/internal/incoming"
	"github.com/buulam/clapshot/internal/ingest"
	"github.com/buulam/clapshot/internal/logger"
	"github.com/buulam/clapshot/internal/notify"
	"github.com/buulam/clapshot/internal/organizer"
	"github.com/buulam/clapshot/internal/probe"
	"github.com/buulam/clapshot/internal/transcoder"
)

func main() {
	if err := run(); err != nil {
		logger.Error("clapshotd: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open log file %s: %w", cfg.LogFile, err)
		}
		defer f.Close()
		logger.SetOutput(f)
	}
	logger.SetDebug(cfg.Debug)
	logger.Mute(cfg.MuteTopics)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("mkdir data dir %s: %w", cfg.DataDir, err)
	}

	store, err := catalog.Open(filepath.Join(cfg.DataDir, "clapshot.sqlite"))
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	bus := notify.New(store)
	bus.Mute(cfg.MuteTopics)

	monitor := incoming.New(cfg.DataDir, cfg.PollInterval, cfg.ResubmitDelay)

	// extractorInput is the merge point for files the Monitor spools and
	// files an API upload hands the pipeline directly; both look
	// identical to the Extractor (spec §4.D, §6).
	extractorInput := make(chan incoming.Event, 64)
	uploads := make(chan incoming.Event, 64)

	extractor := probe.New(cfg.Workers, extractorInput)
	pool := transcoder.New(cfg.Workers)

	var terminate atomic.Bool
	dispatcher := ingest.New(
		cfg.DataDir, cfg.TargetBitrate, store, bus, pool,
		extractorInput, extractor.Results(), extractor.Errors(), uploads, &terminate,
	)

	if cfg.OrganizerPlugin != "" {
		hlog := hclog.New(&hclog.LoggerOptions{Name: "organizer", Level: hclog.Warn})
		client, err := organizer.Launch(cfg.OrganizerPlugin, hlog)
		if err != nil {
			return fmt.Errorf("launch organizer plugin: %w", err)
		}
		defer client.Close()
		dispatcher.SetOrganizer(client)
	}

	apiServer := api.New(cfg.URLBase, uploads, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go forwardMonitorEvents(monitor, extractorInput)
	go monitor.Run()
	go extractor.Run(ctx)
	go pool.Run(ctx)
	go dispatcher.Run(ctx)

	apiErrCh := make(chan error, 1)
	go func() { apiErrCh <- apiServer.Run(ctx, cfg.Host, cfg.Port) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("clapshotd: shutting down on signal")
	case <-terminateWatch(&terminate):
		logger.Error("clapshotd: fatal channel closure, shutting down")
	case err := <-apiErrCh:
		if err != nil {
			logger.Error("clapshotd: api server exited: %v", err)
		}
	}

	cancel()
	monitor.Stop()
	return nil
}

// forwardMonitorEvents re-publishes every stable file the Incoming
// Monitor finds onto the shared Extractor input channel, the other
// producer being API-submitted uploads.
func forwardMonitorEvents(m *incoming.Monitor, out chan<- incoming.Event) {
	for ev := range m.Events() {
		out <- ev
	}
}

// terminateWatch polls the shared termination flag the Dispatcher sets
// on a fatal channel-send failure (spec §5, §7 FatalChannel) and closes
// the returned channel once it is observed.
func terminateWatch(flag *atomic.Bool) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		for !flag.Load() {
			time.Sleep(200 * time.Millisecond)
		}
		close(ch)
	}()
	return ch
}
