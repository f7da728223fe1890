// Package intent classifies free-form user speech into portal actions.
// The classification itself is delegated to the model under a strict
// JSON contract; this package owns the closed action/target taxonomy
// and the safe degradation to "unknown".
package intent

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/grameenconnect/portal/internal/gemini"
	"github.com/grameenconnect/portal/internal/jsonx"
)

// Actions.
const (
	ActionNavigate    = "navigate"
	ActionHealthInput = "type_health_input"
	ActionMobility    = "plan_mobility"
	ActionUnknown     = "unknown"
)

// Targets are the portal tool identifiers a navigate action can open.
var Targets = []string{
	"resume_builder",
	"scheme_matcher",
	"mobility_planner",
	"governance_aid",
	"swasthya_saathi",
	"kisan_mandi",
	"vision_assist",
	"community_help",
}

// Result is one classified utterance. Callers treat ActionUnknown as a
// no-op, never as an error.
type Result struct {
	Action      string `json:"action"`
	Target      string `json:"target,omitempty"`
	Text        string `json:"text,omitempty"`
	Source      string `json:"source_location,omitempty"`
	Destination string `json:"destination_location,omitempty"`
}

// Unknown is the safe no-op result returned on any failure.
func Unknown() Result {
	return Result{Action: ActionUnknown}
}

// ModelClient is the slice of the model client the router consumes.
type ModelClient interface {
	Generate(ctx context.Context, req gemini.Request) (*gemini.Result, error)
}

// Router classifies utterances.
type Router struct {
	model  ModelClient
	logger *zap.Logger
}

// NewRouter creates a Router.
func NewRouter(model ModelClient, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{model: model, logger: logger.Named("intent")}
}

const classifyInstruction = `You are the voice intent router for a rural civic services portal.
Classify the user's utterance into exactly one action:
- "navigate": the user asks to open one of the portal tools. Set target to the matching tool:
  resume_builder (resume, job application, biodata),
  scheme_matcher (government schemes, yojana, subsidies, pension eligibility),
  mobility_planner (route, travel, reach a place),
  governance_aid (complaint, grievance, letter to authority),
  swasthya_saathi (open the health assistant),
  kisan_mandi (market, mandi, buy or sell produce),
  vision_assist (explain a photo or document image),
  community_help (ask neighbours for help, volunteer).
- "plan_mobility": ONLY when the utterance itself names BOTH a starting place and a destination
  (e.g. "from X ... to Y"). Fill source_location and destination_location with the exact phrases.
- "type_health_input": ONLY when the utterance directly describes symptoms
  (e.g. "I have a fever and headache"), not a request to open the health tool.
  Copy the symptom description into text.
- "unknown": anything else.
Output strict JSON only.`

// classifySchema constrains the model to the Result shape.
var classifySchema = gemini.StringObjectSchema(
	"action", "target", "text", "source_location", "destination_location").
	EnumProperty("action", ActionNavigate, ActionHealthInput, ActionMobility, ActionUnknown).
	EnumProperty("target", Targets...).
	NullableProperty("target").
	NullableProperty("text").
	NullableProperty("source_location").
	NullableProperty("destination_location")

// Classify routes one utterance. Any transport, parse or schema failure
// yields Unknown().
func (r *Router) Classify(ctx context.Context, utterance, language string) Result {
	if strings.TrimSpace(utterance) == "" {
		return Unknown()
	}

	res, err := r.model.Generate(ctx, gemini.Request{
		System:   classifyInstruction,
		Contents: gemini.UserText(utterance),
		Schema:   classifySchema,
	})
	if err != nil {
		r.logger.Warn("intent classification failed", zap.Error(err))
		return Unknown()
	}

	var out Result
	if err := jsonx.UnmarshalFromString(res.Text, &out); err != nil {
		r.logger.Warn("intent reply was not valid JSON", zap.Error(err))
		return Unknown()
	}
	return sanitize(out)
}

// sanitize enforces the closed taxonomy and the per-action field
// requirements; anything inconsistent collapses to unknown.
func sanitize(res Result) Result {
	switch res.Action {
	case ActionNavigate:
		if !validTarget(res.Target) {
			return Unknown()
		}
		res.Source, res.Destination, res.Text = "", "", ""
	case ActionMobility:
		if res.Source == "" || res.Destination == "" {
			return Unknown()
		}
		res.Target, res.Text = "", ""
	case ActionHealthInput:
		if strings.TrimSpace(res.Text) == "" {
			return Unknown()
		}
		res.Target, res.Source, res.Destination = "", "", ""
	default:
		return Unknown()
	}
	return res
}

func validTarget(target string) bool {
	for _, t := range Targets {
		if t == target {
			return true
		}
	}
	return false
}
