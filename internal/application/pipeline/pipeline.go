// Package pipeline is C7: the eight-stage pass that turns one queued
// request into either a resolved result or an in-flight streaming
// handoff (spec §4.7). Re-architected per spec §9 Design Notes: the
// teacher's worker/pipeline pair talks back and forth through shared
// struct fields; this pipeline instead returns an explicit Handoff
// record. The queue worker (C6) holds the only reference to it — there
// is no pointer back from the pipeline into worker state.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aistudioproxy/gateway/internal/domain/entity"
	"github.com/aistudioproxy/gateway/internal/domain/service"
	"github.com/aistudioproxy/gateway/internal/infrastructure/browser"
	"github.com/aistudioproxy/gateway/internal/infrastructure/emitter"
	domainerrors "github.com/aistudioproxy/gateway/pkg/errors"
)

// Handoff is everything the queue worker needs back from Run. Streaming
// is false once the result future is already resolved (error, or a
// non-streaming JSON result); when true, Done is the channel C5's
// streaming emitter closes on completion, and the worker's completion
// wait (spec §4.6 step g) selects on it.
type Handoff struct {
	Streaming bool
	Done      <-chan struct{}

	// SandboxDir is the per-request upload sandbox Run created, set
	// whenever init got far enough to create one. The queue worker
	// deletes it unconditionally in its per-item cleanup step (spec
	// §4.6 step i) regardless of which branch resolved the future.
	SandboxDir string
}

// SessionState is the process-wide singleton tracking which model the
// UI session currently sits on (spec §3, "Global singletons"). It
// outlives any one request; the pipeline reads it at step 2 and
// updates it at step 3.
type SessionState struct {
	mu      sync.Mutex
	current string
}

// NewSessionState returns a SessionState seeded at the catalogue's
// default sentinel model.
func NewSessionState(initialModelID string) *SessionState {
	return &SessionState{current: initialModelID}
}

// Current returns the model id the UI session is presently on.
func (s *SessionState) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *SessionState) set(modelID string) {
	s.mu.Lock()
	s.current = modelID
	s.mu.Unlock()
}

// Pipeline holds everything C7 needs across requests: the singleton UI
// session, the stream bus C3 publishes onto, and the locks/timeouts
// spec §5 assigns to this layer.
type Pipeline struct {
	Session       browser.Session
	Bus           *service.StreamBus
	SessionState  *SessionState
	ModelSwitchMu *sync.Mutex

	StreamProxyEnabled bool
	CompletionTimeout  time.Duration
	StreamIdleTimeout  time.Duration
	SubmitTimeout      time.Duration
	ThinkingBudget     int
	SearchEnabled      bool
	URLContextEnabled  bool

	SandboxRoot string // parent directory for per-request upload sandboxes
	SnapshotDir string // parent directory for debug snapshots (spec §7)

	Logger *zap.Logger
}

// Run drives one envelope through all eight stages, resolving its
// result future exactly once before returning (spec §4.7 "Termination").
func (p *Pipeline) Run(ctx context.Context, env *entity.RequestEnvelope, catalogue entity.ModelCatalogue, cache entity.ParamCacheStore, checker service.DisconnectChecker) Handoff {
	reqCtx := &entity.RequestContext{
		ReqID:          env.ReqID,
		Logger:         p.Logger.With(zap.String("req_id", env.ReqID)),
		Catalogue:      catalogue,
		Cache:          cache,
		CurrentModelID: p.SessionState.Current(),
	}

	sandboxDir, err := os.MkdirTemp(p.SandboxRoot, "upload-"+env.ReqID+"-")
	if err != nil {
		return p.fail(ctx, env, reqCtx, domainerrors.ServerError("init_context", "create upload sandbox", err))
	}
	reqCtx.UploadSandboxDir = sandboxDir

	if err := checker.Check("analyze_model"); err != nil {
		return p.fail(ctx, env, reqCtx, err)
	}
	if err := analyzeModel(reqCtx, env.Request.Model); err != nil {
		return p.fail(ctx, env, reqCtx, err)
	}

	if err := checker.Check("switch_model"); err != nil {
		return p.fail(ctx, env, reqCtx, err)
	}
	if reqCtx.NeedsModelSwitching {
		if err := p.runSwitchModel(ctx, reqCtx); err != nil {
			return p.fail(ctx, env, reqCtx, err)
		}
		p.SessionState.set(reqCtx.CurrentModelID)
	}

	reconcileParameterCache(reqCtx)

	if err := checker.Check("prepare_prompt"); err != nil {
		return p.fail(ctx, env, reqCtx, err)
	}
	hasAny, hasNonSystem := promptHasContent(env.Request)
	if !hasAny {
		return p.fail(ctx, env, reqCtx, domainerrors.BadRequest("prepare_prompt", entity.ErrEmptyPrompt.Error()))
	}
	if !hasNonSystem {
		return p.fail(ctx, env, reqCtx, domainerrors.BadRequest("prepare_prompt", entity.ErrOnlySystemMessages.Error()))
	}
	prompt := buildCombinedPrompt(env.Request)
	attachments, err := extractAttachments(env.Request, reqCtx.UploadSandboxDir)
	if err != nil {
		return p.fail(ctx, env, reqCtx, domainerrors.BadRequest("prepare_prompt", err.Error()))
	}

	if err := checker.Check("adjust_parameters"); err != nil {
		return p.fail(ctx, env, reqCtx, err)
	}
	if err := p.adjustParameters(ctx, reqCtx, env.Request); err != nil {
		return p.fail(ctx, env, reqCtx, err)
	}

	if err := checker.Check("submit_prompt"); err != nil {
		return p.fail(ctx, env, reqCtx, err)
	}
	if err := p.submitPrompt(ctx, reqCtx, prompt, attachments); err != nil {
		return p.fail(ctx, env, reqCtx, err)
	}

	if err := checker.Check("harvest"); err != nil {
		return p.fail(ctx, env, reqCtx, err)
	}
	return p.harvest(ctx, env, reqCtx, checker)
}

// runSwitchModel runs the switch-model stage under the
// model-switching lock (spec §5: "Lock ordering: processing →
// model-switching → parameter-cache" — the caller already holds the
// processing lock, so taking this one here respects the order).
func (p *Pipeline) runSwitchModel(ctx context.Context, reqCtx *entity.RequestContext) error {
	p.ModelSwitchMu.Lock()
	defer p.ModelSwitchMu.Unlock()
	adapter := func(rc *entity.RequestContext, targetModelID string) error {
		return p.Session.SwitchModel(ctx, targetModelID)
	}
	return switchModel(ctx, reqCtx, adapter)
}

// adjustParameters implements spec §4.7 step 6 over the fixed set of
// UI-visible sampling parameters, applying only those that changed and
// invalidating the whole cache entry on any verify mismatch (P4).
func (p *Pipeline) adjustParameters(ctx context.Context, reqCtx *entity.RequestContext, req entity.ChatCompletionRequest) error {
	baseline, _ := reqCtx.Cache.Get(reqCtx.CurrentModelID)
	baseline.ThinkingBudget = p.ThinkingBudget
	baseline.SearchEnabled = p.SearchEnabled
	baseline.URLContextEnabled = p.URLContextEnabled

	requested := requestedSamplingParams(req, baseline)
	diffs := diffParams(baseline, requested)
	if len(diffs) == 0 {
		return nil
	}

	mismatch := false
	for _, d := range diffs {
		readBack, err := p.Session.SetParameter(ctx, d.name, d.requested)
		if err != nil {
			return domainerrors.ServerError("adjust_parameters", "set "+d.name, err)
		}
		if !paramReadBackMatches(d, readBack) {
			mismatch = true
		}
	}

	if mismatch {
		reqCtx.Cache.Invalidate()
		return nil
	}
	reqCtx.Cache.Update(reqCtx.CurrentModelID, requested)
	return nil
}

// submitPrompt implements spec §4.7 step 7.
func (p *Pipeline) submitPrompt(ctx context.Context, reqCtx *entity.RequestContext, prompt string, attachments []string) error {
	if err := p.Session.FillPrompt(ctx, prompt, attachments); err != nil {
		return domainerrors.ServerError("submit_prompt", "fill prompt", err)
	}
	if err := p.Session.ClickSubmit(ctx, p.SubmitTimeout); err != nil {
		return domainerrors.Wrap(domainerrors.KindServerError, "submit_prompt", entity.ErrSubmitNeverEnabled.Error(), err)
	}
	return nil
}

// harvest implements spec §4.7 step 8's two variants.
func (p *Pipeline) harvest(ctx context.Context, env *entity.RequestEnvelope, reqCtx *entity.RequestContext, checker service.DisconnectChecker) Handoff {
	model := reqCtx.CurrentModelID
	if model == "" {
		model = reqCtx.RequestedModelID
	}
	e := emitter.New(env.ReqID, model, p.CompletionTimeout, p.StreamIdleTimeout)

	if !p.StreamProxyEnabled {
		// DOM-scrape fallback (spec §4.5 "Fallback path"): always a
		// single final body, regardless of the client's requested
		// stream flag — there is no token-by-token signal to relay
		// without the stream bus.
		if err := p.Session.WaitDone(ctx); err != nil {
			return p.fail(ctx, env, reqCtx, domainerrors.UpstreamError("harvest", "UI never reached done state", err))
		}
		text, err := p.Session.ExtractText(ctx)
		if err != nil {
			return p.fail(ctx, env, reqCtx, domainerrors.UpstreamError("harvest", "extract response text", err))
		}
		env.Resolve(entity.Result{JSON: e.AssembleFromText(text)})
		return Handoff{SandboxDir: sandboxDirOf(reqCtx)}
	}

	if env.Request.Stream {
		chunks, done := e.Stream(p.Bus, checker.Disconnected())
		env.Resolve(entity.Result{Stream: &entity.StreamingResult{Chunks: chunks, Done: done}})
		return Handoff{Streaming: true, Done: done, SandboxDir: sandboxDirOf(reqCtx)}
	}

	resp, err := e.DrainToJSON(p.Bus, checker.Disconnected())
	if err != nil {
		return p.fail(ctx, env, reqCtx, err)
	}
	env.Resolve(entity.Result{JSON: resp})
	return Handoff{SandboxDir: sandboxDirOf(reqCtx)}
}

// fail classifies err, resolves the envelope's future with it, takes a
// debug snapshot for the kinds spec §7 names, and returns a resolved
// (non-streaming) Handoff.
func (p *Pipeline) fail(ctx context.Context, env *entity.RequestEnvelope, reqCtx *entity.RequestContext, err error) Handoff {
	gerr := domainerrors.Classify("pipeline", err)
	env.Resolve(entity.Result{Err: gerr})
	p.maybeSnapshot(ctx, reqCtx, gerr)
	return Handoff{SandboxDir: sandboxDirOf(reqCtx)}
}

// sandboxDirOf returns reqCtx's upload sandbox directory, or "" if
// init never got far enough to create one. Every Handoff returned from
// Run carries this so the queue worker's unconditional per-item
// cleanup (spec §4.6 step i) always has something to remove, even on
// an early failure.
func sandboxDirOf(reqCtx *entity.RequestContext) string {
	if reqCtx == nil {
		return ""
	}
	return reqCtx.UploadSandboxDir
}

// maybeSnapshot captures a DebugSnapshot on 500/502/422 (spec §7,
// "Debug snapshots"). Best-effort: a snapshot failure is logged, never
// raised, since the pipeline has already resolved the future.
func (p *Pipeline) maybeSnapshot(ctx context.Context, reqCtx *entity.RequestContext, gerr *domainerrors.GatewayError) {
	switch gerr.Kind {
	case domainerrors.KindServerError, domainerrors.KindUpstreamError, domainerrors.KindQuotaExceeded, domainerrors.KindUnprocessable:
	default:
		return
	}
	if reqCtx == nil || p.Session == nil {
		return
	}

	snap, err := p.Session.Snapshot(ctx)
	if err != nil {
		p.Logger.Warn("pipeline: debug snapshot capture failed", zap.String("req_id", reqCtx.ReqID), zap.Error(err))
		return
	}
	dir, err := browser.WriteSnapshot(p.SnapshotDir, browser.SnapshotMeta{
		ReqID:     reqCtx.ReqID,
		Stage:     gerr.Stage,
		Timestamp: time.Now(),
		ErrType:   string(gerr.Kind),
		ErrMsg:    gerr.Message,
	}, snap)
	if err != nil {
		p.Logger.Warn("pipeline: debug snapshot write failed", zap.String("req_id", reqCtx.ReqID), zap.Error(err))
		return
	}
	p.Logger.Info("pipeline: debug snapshot written", zap.String("req_id", reqCtx.ReqID), zap.String("dir", dir))
}

// CleanupSandbox removes a request's upload sandbox directory. Called
// unconditionally from the queue worker's per-item cleanup step (spec
// §4.6 step i), independent of which branch resolved the future.
func CleanupSandbox(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("pipeline: remove upload sandbox %s: %w", dir, err)
	}
	return nil
}
