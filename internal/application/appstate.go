// Package application wires every singleton component (C1-C7) into one
// explicit container, replacing the teacher's process-global
// initialization in cmd/gateway/main.go with a struct cmd/gateway and
// cmd/cli both construct and share.
package application

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aistudioproxy/gateway/internal/application/pipeline"
	"github.com/aistudioproxy/gateway/internal/application/queue"
	"github.com/aistudioproxy/gateway/internal/domain/entity"
	"github.com/aistudioproxy/gateway/internal/domain/service"
	"github.com/aistudioproxy/gateway/internal/domain/valueobject"
	"github.com/aistudioproxy/gateway/internal/infrastructure/browser"
	"github.com/aistudioproxy/gateway/internal/infrastructure/catalogue"
	"github.com/aistudioproxy/gateway/internal/infrastructure/certauthority"
	"github.com/aistudioproxy/gateway/internal/infrastructure/config"
	"github.com/aistudioproxy/gateway/internal/infrastructure/disconnect"
	"github.com/aistudioproxy/gateway/internal/infrastructure/mitmproxy"
)

// seedModels is the catalogue AppState starts with absent a live DOM
// scrape of the provider's model picker (out of scope per spec.md §1;
// see internal/infrastructure/catalogue's doc comment). Entries are
// drawn from the capability table so GET /v1/models and
// GET /api/model-capabilities agree on what exists.
var seedModels = []valueobject.ModelEntry{
	{ID: "gemini-3-pro-preview", Name: "Gemini 3 Pro Preview"},
	{ID: "gemini-3-flash-preview", Name: "Gemini 3 Flash Preview"},
	{ID: "gemini-2.5-pro", Name: "Gemini 2.5 Pro"},
	{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash"},
	{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash"},
}

// AppState is the full set of long-lived singletons a running gateway
// process holds, built once at startup and handed to the HTTP server,
// the queue worker, and the operator CLI/TUI alike.
type AppState struct {
	Config        *config.Config
	ConfigWatcher *config.Watcher
	Logger        *zap.Logger

	CA    *certauthority.Authority
	Index *certauthority.Index
	Proxy *mitmproxy.Proxy

	Bus       *service.StreamBus
	Cache     *service.ParamCache
	Catalogue *catalogue.Static
	Session   browser.Session

	SessionState *pipeline.SessionState
	Pipeline     *pipeline.Pipeline

	Queue  *queue.Queue
	Worker *queue.Worker

	processingMu *sync.Mutex
}

// NewAppState constructs every singleton from cfg. It does not start
// any background loop (the proxy listener, the queue worker, the
// config watcher) — callers decide what to run and in what order, per
// the launch mode requested on the command line.
func NewAppState(cfg *config.Config, logger *zap.Logger) (*AppState, error) {
	if err := os.MkdirAll(cfg.CertDir, 0o755); err != nil {
		return nil, fmt.Errorf("appstate: create cert dir: %w", err)
	}
	indexDSN := filepath.Join(cfg.CertDir, "leaf_index.sqlite3")
	index, err := certauthority.OpenIndex(indexDSN)
	if err != nil {
		return nil, fmt.Errorf("appstate: open cert index: %w", err)
	}
	ca, err := certauthority.New(cfg.CertDir, index, logger)
	if err != nil {
		return nil, fmt.Errorf("appstate: init certificate authority: %w", err)
	}

	bus := service.NewStreamBus(cfg.Proxy.StreamBusSize)

	proxy := mitmproxy.New(
		mitmproxy.Config{
			ListenAddr:    fmt.Sprintf(":%d", cfg.Proxy.ListenPort),
			UpstreamProxy: cfg.Proxy.UpstreamProxy,
		},
		ca, cfg.Proxy.InterceptHost, bus, logger,
	)

	cache := service.NewParamCache()
	cat := catalogue.NewStatic(seedModels, cfg.Browser.DefaultModel, nil)
	session := browser.NewFake()
	sessionState := pipeline.NewSessionState(cfg.Browser.DefaultModel)

	sandboxRoot := filepath.Join(cfg.CertDir, "..", "sandboxes")
	snapshotDir := filepath.Join(cfg.CertDir, "..", "snapshots")
	if err := os.MkdirAll(sandboxRoot, 0o755); err != nil {
		return nil, fmt.Errorf("appstate: create sandbox root: %w", err)
	}
	if err := os.MkdirAll(snapshotDir, 0o755); err != nil {
		return nil, fmt.Errorf("appstate: create snapshot dir: %w", err)
	}

	completionTimeout := time.Duration(cfg.Timeouts.CompletionMS) * time.Millisecond
	streamIdleTimeout := time.Duration(cfg.Timeouts.StreamIdleMS) * time.Millisecond
	submitTimeout := time.Duration(cfg.Timeouts.SelectorMS) * time.Millisecond

	pipe := &pipeline.Pipeline{
		Session:            session,
		Bus:                bus,
		SessionState:       sessionState,
		ModelSwitchMu:      &sync.Mutex{},
		StreamProxyEnabled: cfg.Proxy.ListenPort != 0,
		CompletionTimeout:  completionTimeout,
		StreamIdleTimeout:  streamIdleTimeout,
		SubmitTimeout:      submitTimeout,
		ThinkingBudget:     0,
		SearchEnabled:      cfg.Features.Search,
		URLContextEnabled:  cfg.Features.URLContext,
		SandboxRoot:        sandboxRoot,
		SnapshotDir:        snapshotDir,
		Logger:             logger,
	}

	q := queue.New()
	processingMu := &sync.Mutex{}
	worker := &queue.Worker{
		Queue:             q,
		Pipeline:          pipe,
		Session:           session,
		Bus:               bus,
		ProcessingMu:      processingMu,
		Catalogue:         cat,
		Cache:             cache,
		QueueWait:         time.Duration(cfg.Timeouts.QueueWaitMS) * time.Millisecond,
		StreamCooldown:    time.Duration(cfg.Timeouts.StreamCooldownMS) * time.Millisecond,
		CompletionExtra:   60 * time.Second,
		CompletionTimeout: completionTimeout,
		Logger:            logger,
	}

	return &AppState{
		Config:       cfg,
		Logger:       logger,
		CA:           ca,
		Index:        index,
		Proxy:        proxy,
		Bus:          bus,
		Cache:        cache,
		Catalogue:    cat,
		Session:      session,
		SessionState: sessionState,
		Pipeline:     pipe,
		Queue:        q,
		Worker:       worker,
		processingMu: processingMu,
	}, nil
}

// NewMonitor builds the per-request disconnect monitor (C4) watching
// liveness, for callers enqueuing a new envelope (spec §4.4).
func (a *AppState) NewMonitor(liveness entity.LivenessHandle) service.DisconnectMonitor {
	return disconnect.New(liveness)
}

// ProcessingLocked reports whether a request currently holds the
// global single-inflight lock, for GET /v1/queue's
// is_processing_locked field (spec §6).
func (a *AppState) ProcessingLocked() bool {
	return a.Worker.ProcessingLocked()
}

// WatchConfig starts hot-reloading the allow-list and completion
// timeout from path, applying live changes onto the mitmproxy allow
// list and the queue worker's completion budget. Safe to call at most
// once; the returned Watcher must be Closed at shutdown.
func (a *AppState) WatchConfig(path string) error {
	w, err := config.WatchFile(path, a.Config, a.Logger, func(next *config.Config) {
		a.Proxy.SetAllowHosts(next.Proxy.InterceptHost)
		timeout := time.Duration(next.Timeouts.CompletionMS) * time.Millisecond
		a.Pipeline.CompletionTimeout = timeout
		a.Worker.CompletionTimeout = timeout
	})
	if err != nil {
		return err
	}
	a.ConfigWatcher = w
	return nil
}

// Close releases resources that hold file handles: the cert index and
// the config watcher (if started).
func (a *AppState) Close() error {
	if a.ConfigWatcher != nil {
		_ = a.ConfigWatcher.Close()
	}
	return a.Index.Close()
}
