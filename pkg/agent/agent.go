// Package agent wires the durable queue, debouncer, watcher, uploader, and
// worker into the single long-running sync process described in spec.md §5.
package agent

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/labsync/agent/pkg/config"
	"github.com/labsync/agent/pkg/debounce"
	"github.com/labsync/agent/pkg/taskqueue"
	"github.com/labsync/agent/pkg/uploader"
	"github.com/labsync/agent/pkg/watcher"
	"github.com/labsync/agent/pkg/worker"
)

// Agent owns every long-lived goroutine of the running sync process: the
// filesystem watcher, the debounce scanner, the stable-file consumer, and
// the sync worker.
type Agent struct {
	cfg       config.Config
	log       *logrus.Entry
	store     *taskqueue.Store
	debouncer *debounce.Scanner
	watcher   *watcher.Watcher
	client    *uploader.Client
	worker    *worker.Worker

	wg sync.WaitGroup
}

// New constructs an Agent from a resolved Config. The returned Agent owns
// the task store and must be Closed.
func New(cfg config.Config, log *logrus.Entry) (*Agent, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	store, err := taskqueue.Open(cfg.DBPath, taskqueue.Options{Log: log})
	if err != nil {
		return nil, err
	}

	debouncer := debounce.New()

	machineID := cfg.InstrumentAlias
	w, err := watcher.New(cfg.WatchDir, machineID, store, debouncer, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	client := uploader.New(cfg.ServerBaseURL(), cfg.AuthToken, machineID, uploader.Options{Log: log})
	wk := worker.New(store, client, log)

	return &Agent{
		cfg:       cfg,
		log:       log,
		store:     store,
		debouncer: debouncer,
		watcher:   w,
		client:    client,
		worker:    wk,
	}, nil
}

// Run starts the watcher, debouncer, stable-file consumer, and worker, then
// blocks until ctx is canceled. It stops every goroutine cooperatively
// before returning, per spec.md §5's cancellation requirement: any
// in-flight UPLOAD whose Complete has not yet run is safe to retry on
// restart because the upload protocol is content-addressed.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.watcher.Start(ctx); err != nil {
		return err
	}

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		a.debouncer.Run()
	}()
	go func() {
		defer a.wg.Done()
		a.consumeStable(ctx)
	}()
	go func() {
		defer a.wg.Done()
		a.worker.Run(ctx)
	}()

	<-ctx.Done()
	a.log.Info("🛑 shutdown requested, stopping agent")

	a.debouncer.Stop()
	if err := a.watcher.Close(); err != nil {
		a.log.WithError(err).Warn("⚠️ error closing watcher")
	}
	a.wg.Wait()

	return nil
}

// consumeStable drains the debouncer's Stable() channel, handing each path
// to the watcher's stable-file handler. This runs on its own goroutine, not
// the fsnotify event goroutine, matching where process_stable_file runs in
// the Python source (spec.md §5).
func (a *Agent) consumeStable(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-a.debouncer.Stable():
			if !ok {
				return
			}
			a.watcher.ProcessStableFile(path)
		}
	}
}

// Close releases the task store. Call after Run returns.
func (a *Agent) Close() error {
	return a.store.Close()
}

// Store exposes the task store for callers that need read-only access
// alongside the running agent (e.g. `labsync queue inspect`).
func (a *Agent) Store() *taskqueue.Store {
	return a.store
}

// Client exposes the uploader client, e.g. for the rescan command sharing
// one Agent's configuration.
func (a *Agent) Client() *uploader.Client {
	return a.client
}
