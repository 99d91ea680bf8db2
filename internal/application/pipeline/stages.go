package pipeline

import (
	"context"

	"github.com/aistudioproxy/gateway/internal/domain/entity"
	"github.com/aistudioproxy/gateway/internal/domain/valueobject"
	domainerrors "github.com/aistudioproxy/gateway/pkg/errors"
)

// analyzeModel implements spec §4.7 step 2: compare the requested
// model id against the session's current model and the parsed
// catalogue, deciding whether a switch is needed.
func analyzeModel(reqCtx *entity.RequestContext, requestedModel string) error {
	reqCtx.RequestedModelID = requestedModel

	if requestedModel == "" || requestedModel == reqCtx.CurrentModelID || requestedModel == reqCtx.Catalogue.DefaultSentinel() {
		reqCtx.NeedsModelSwitching = false
		return nil
	}
	if !reqCtx.Catalogue.Has(requestedModel) {
		return domainerrors.BadRequest("analyze_model", "unknown model id: "+requestedModel)
	}
	reqCtx.NeedsModelSwitching = true
	return nil
}

// switchModel implements spec §4.7 step 3 under the caller-held
// model-switching lock: apply the new local-storage preference and
// reload; on failure restore the previous model id.
func switchModel(ctx context.Context, reqCtx *entity.RequestContext, switcher modelSwitchFunc) error {
	previous := reqCtx.CurrentModelID
	if err := switcher(reqCtx, reqCtx.RequestedModelID); err != nil {
		reqCtx.CurrentModelID = previous
		return domainerrors.Unprocessable("switch_model", "model switch failed", err)
	}
	reqCtx.CurrentModelID = reqCtx.RequestedModelID
	reqCtx.ModelActuallySwitched = true
	return nil
}

// modelSwitchFunc adapts a browser.Session (ctx, modelID) method to the
// entity.RequestContext-shaped service.ModelSwitcher contract, keeping
// the pipeline's own stage signatures uniform.
type modelSwitchFunc func(reqCtx *entity.RequestContext, targetModelID string) error

// reconcileParameterCache implements spec §4.7 step 4: a real model
// switch, or a cache whose last-known model differs from the current
// one, forces every parameter to be re-read from the UI next.
func reconcileParameterCache(reqCtx *entity.RequestContext) {
	if reqCtx.ModelActuallySwitched {
		reqCtx.Cache.Invalidate()
		return
	}
	if _, fresh := reqCtx.Cache.Get(reqCtx.CurrentModelID); !fresh {
		reqCtx.Cache.Invalidate()
	}
}

// requestedSamplingParams folds the wire request's optional sampling
// fields onto a baseline (the current cache contents, or zero values on
// a cache miss) so fields the client omitted keep their prior value
// instead of being coerced to zero and wrongly treated as a change.
func requestedSamplingParams(req entity.ChatCompletionRequest, baseline valueobject.SamplingParams) valueobject.SamplingParams {
	next := baseline
	if req.Temperature != nil {
		next.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil {
		next.MaxOutputTokens = *req.MaxTokens
	}
	if req.TopP != nil {
		next.TopP = *req.TopP
	}
	if req.Stop != nil {
		set := make(map[string]struct{}, len(req.Stop))
		for _, s := range req.Stop {
			set[s] = struct{}{}
		}
		next.StopSequences = set
	}
	return next
}

// uiParam names one of the UI-adjustable sampling fields (spec §4.7
// step 6) paired with the value the request asks for.
type uiParam struct {
	name      string
	requested interface{}
}

// diffParams lists the UI parameters whose requested value differs
// from the baseline, in the fixed order spec §4.7 step 6 names them.
func diffParams(baseline, requested valueobject.SamplingParams) []uiParam {
	var diffs []uiParam
	if baseline.Temperature != requested.Temperature {
		diffs = append(diffs, uiParam{name: "temperature", requested: requested.Temperature})
	}
	if baseline.MaxOutputTokens != requested.MaxOutputTokens {
		diffs = append(diffs, uiParam{name: "max_output_tokens", requested: requested.MaxOutputTokens})
	}
	if !stopSetEqual(baseline.StopSequences, requested.StopSequences) {
		diffs = append(diffs, uiParam{name: "stop_sequences", requested: stopSetSlice(requested.StopSequences)})
	}
	if baseline.TopP != requested.TopP {
		diffs = append(diffs, uiParam{name: "top_p", requested: requested.TopP})
	}
	if baseline.ThinkingBudget != requested.ThinkingBudget {
		diffs = append(diffs, uiParam{name: "thinking_budget", requested: requested.ThinkingBudget})
	}
	if baseline.SearchEnabled != requested.SearchEnabled {
		diffs = append(diffs, uiParam{name: "search_enabled", requested: requested.SearchEnabled})
	}
	if baseline.URLContextEnabled != requested.URLContextEnabled {
		diffs = append(diffs, uiParam{name: "url_context_enabled", requested: requested.URLContextEnabled})
	}
	return diffs
}

func stopSetEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}

func stopSetSlice(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

// paramReadBackMatches compares a UI read-back value against what was
// requested. stop_sequences carries a []string, which isn't a
// comparable type, so it gets its own order-independent check; every
// other parameter is a plain comparable scalar.
func paramReadBackMatches(p uiParam, readBack interface{}) bool {
	if p.name == "stop_sequences" {
		want, _ := p.requested.([]string)
		got, ok := readBack.([]string)
		if !ok {
			return false
		}
		if len(want) != len(got) {
			return false
		}
		wantSet := make(map[string]struct{}, len(want))
		for _, s := range want {
			wantSet[s] = struct{}{}
		}
		for _, s := range got {
			if _, ok := wantSet[s]; !ok {
				return false
			}
		}
		return true
	}
	return readBack == p.requested
}
