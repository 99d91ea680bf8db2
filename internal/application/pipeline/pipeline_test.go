package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aistudioproxy/gateway/internal/domain/entity"
	"github.com/aistudioproxy/gateway/internal/domain/service"
	"github.com/aistudioproxy/gateway/internal/domain/valueobject"
	"github.com/aistudioproxy/gateway/internal/infrastructure/browser"
	domainerrors "github.com/aistudioproxy/gateway/pkg/errors"
)

type fakeCatalogue struct {
	ids     map[string]struct{}
	defaultID string
}

func (c *fakeCatalogue) Has(id string) bool          { _, ok := c.ids[id]; return ok }
func (c *fakeCatalogue) DefaultSentinel() string      { return c.defaultID }
func (c *fakeCatalogue) List() []valueobject.ModelEntry {
	out := make([]valueobject.ModelEntry, 0, len(c.ids))
	for id := range c.ids {
		out = append(out, valueobject.ModelEntry{ID: id})
	}
	return out
}

type fakeCache struct {
	params valueobject.SamplingParams
	valid  bool
}

func (c *fakeCache) Get(modelID string) (valueobject.SamplingParams, bool) {
	if !c.valid || c.params.LastKnownModelID != modelID {
		return valueobject.SamplingParams{}, false
	}
	return c.params, true
}
func (c *fakeCache) Invalidate() { c.valid = false }
func (c *fakeCache) Update(modelID string, p valueobject.SamplingParams) {
	p.LastKnownModelID = modelID
	c.params = p
	c.valid = true
}

type alwaysConnected struct{}

func (alwaysConnected) Check(stage string) error         { return nil }
func (alwaysConnected) Disconnected() <-chan struct{}     { return make(chan struct{}) }

func newTestPipeline(t *testing.T, streamProxy bool) (*Pipeline, *browser.Fake) {
	t.Helper()
	fake := browser.NewFake()
	return &Pipeline{
		Session:            fake,
		Bus:                service.NewStreamBus(8),
		SessionState:       NewSessionState("default"),
		ModelSwitchMu:      &sync.Mutex{},
		StreamProxyEnabled: streamProxy,
		CompletionTimeout:  200 * time.Millisecond,
		SubmitTimeout:      time.Second,
		SandboxRoot:        t.TempDir(),
		SnapshotDir:        t.TempDir(),
		Logger:             zap.NewNop(),
	}, fake
}

func TestAnalyzeModel_NoSwitchOnCurrentOrSentinel(t *testing.T) {
	reqCtx := &entity.RequestContext{
		Catalogue:      &fakeCatalogue{ids: map[string]struct{}{"m1": {}}, defaultID: "m1"},
		CurrentModelID: "m1",
	}
	if err := analyzeModel(reqCtx, "m1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reqCtx.NeedsModelSwitching {
		t.Fatal("requesting the current model must not trigger a switch")
	}
}

func TestAnalyzeModel_UnknownModelIsBadRequest(t *testing.T) {
	reqCtx := &entity.RequestContext{
		Catalogue:      &fakeCatalogue{ids: map[string]struct{}{"m1": {}}, defaultID: "m1"},
		CurrentModelID: "m1",
	}
	err := analyzeModel(reqCtx, "ghost-model")
	if !domainerrors.Is(err, domainerrors.KindBadRequest) {
		t.Fatalf("expected BadRequest, got %v", err)
	}
}

func TestAnalyzeModel_NeedsSwitchForKnownOtherModel(t *testing.T) {
	reqCtx := &entity.RequestContext{
		Catalogue:      &fakeCatalogue{ids: map[string]struct{}{"m1": {}, "m2": {}}, defaultID: "m1"},
		CurrentModelID: "m1",
	}
	if err := analyzeModel(reqCtx, "m2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reqCtx.NeedsModelSwitching {
		t.Fatal("expected a switch to be required")
	}
}

func TestDiffParams_SkipsUnchangedFields(t *testing.T) {
	baseline := valueobject.SamplingParams{Temperature: 0.7, TopP: 0.9}
	requested := baseline
	if diffs := diffParams(baseline, requested); len(diffs) != 0 {
		t.Fatalf("expected no diffs for identical params, got %v", diffs)
	}
}

func TestDiffParams_DetectsChangedField(t *testing.T) {
	baseline := valueobject.SamplingParams{Temperature: 0.7}
	requested := valueobject.SamplingParams{Temperature: 0.2}
	diffs := diffParams(baseline, requested)
	if len(diffs) != 1 || diffs[0].name != "temperature" {
		t.Fatalf("expected a single temperature diff, got %v", diffs)
	}
}

func TestRun_EmptyPromptIsBadRequest(t *testing.T) {
	p, _ := newTestPipeline(t, false)
	env := entity.NewRequestEnvelope("r1", entity.ChatCompletionRequest{
		Model:    "default",
		Messages: nil,
	}, nil)
	cat := &fakeCatalogue{ids: map[string]struct{}{"default": {}}, defaultID: "default"}
	cache := &fakeCache{}

	p.Run(context.Background(), env, cat, cache, alwaysConnected{})

	result := <-env.Future()
	if !domainerrors.Is(result.Err, domainerrors.KindBadRequest) {
		t.Fatalf("expected BadRequest for empty prompt, got %v", result.Err)
	}
}

func TestRun_OnlySystemMessagesIsBadRequest(t *testing.T) {
	p, _ := newTestPipeline(t, false)
	env := entity.NewRequestEnvelope("r1", entity.ChatCompletionRequest{
		Model: "default",
		Messages: []valueobject.ChatMessage{
			{Role: "system", Content: "be nice"},
		},
	}, nil)
	cat := &fakeCatalogue{ids: map[string]struct{}{"default": {}}, defaultID: "default"}
	cache := &fakeCache{}

	p.Run(context.Background(), env, cat, cache, alwaysConnected{})

	result := <-env.Future()
	if !domainerrors.Is(result.Err, domainerrors.KindBadRequest) {
		t.Fatalf("expected BadRequest for only-system messages, got %v", result.Err)
	}
}

func TestRun_DOMScrapeModeResolvesJSON(t *testing.T) {
	p, _ := newTestPipeline(t, false)
	env := entity.NewRequestEnvelope("r1", entity.ChatCompletionRequest{
		Model: "default",
		Messages: []valueobject.ChatMessage{
			{Role: "user", Content: "ping"},
		},
	}, nil)
	cat := &fakeCatalogue{ids: map[string]struct{}{"default": {}}, defaultID: "default"}
	cache := &fakeCache{}

	handoff := p.Run(context.Background(), env, cat, cache, alwaysConnected{})
	if handoff.Streaming {
		t.Fatal("DOM-scrape mode must never report a streaming handoff")
	}

	result := <-env.Future()
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.JSON == nil {
		t.Fatal("expected a JSON result")
	}
}

func TestRun_ProxyStreamingReturnsHandoff(t *testing.T) {
	p, _ := newTestPipeline(t, true)
	env := entity.NewRequestEnvelope("r1", entity.ChatCompletionRequest{
		Model:  "default",
		Stream: true,
		Messages: []valueobject.ChatMessage{
			{Role: "user", Content: "ping"},
		},
	}, nil)
	cat := &fakeCatalogue{ids: map[string]struct{}{"default": {}}, defaultID: "default"}
	cache := &fakeCache{}

	p.Bus.Publish(entity.ParsedFrame{Body: "pong", Done: true})

	handoff := p.Run(context.Background(), env, cat, cache, alwaysConnected{})
	if !handoff.Streaming {
		t.Fatal("expected a streaming handoff in proxy mode")
	}

	result := <-env.Future()
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Stream == nil {
		t.Fatal("expected a streaming result")
	}

	select {
	case <-handoff.Done:
	case <-time.After(time.Second):
		t.Fatal("handoff.Done never closed")
	}
}
