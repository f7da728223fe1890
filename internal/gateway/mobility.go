package gateway

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/grameenconnect/portal/internal/gemini"
	"github.com/grameenconnect/portal/internal/lang"
)

// Plan is a route suggestion with optional grounding citations.
type Plan struct {
	Text  string        `json:"text"`
	Links []gemini.Link `json:"links,omitempty"`
}

// PlanRoute asks for an accessible route between two places with web
// grounding enabled, so the reply can cite live map and transit
// sources. Failures degrade to a plan holding only the fixed fallback
// text; links may be empty on success too.
func (g *Gateway) PlanRoute(ctx context.Context, trip Trip, departAt, language string) Plan {
	var sb strings.Builder
	fmt.Fprintf(&sb,
		"Suggest a safe, accessible route from %s to %s for a rural traveler.",
		trip.Start, trip.End)
	if trip.Aid != "" && trip.Aid != "None" {
		fmt.Fprintf(&sb, " The traveler uses a %s.", strings.ToLower(trip.Aid))
	}
	if departAt != "" {
		fmt.Fprintf(&sb, " They want to leave around %s.", departAt)
	}
	sb.WriteString(" Mention road condition, lighting and any transport options. Keep it short.")

	res, err := g.model.Generate(ctx, gemini.Request{
		System:   "You are a local mobility assistant for rural India." + lang.Directive(language),
		Contents: gemini.UserText(sb.String()),
		Grounded: true,
	})
	if err != nil {
		g.logger.Warn("route planning failed", zap.Error(err))
		return Plan{Text: FallbackRoute}
	}
	return Plan{Text: res.Text, Links: res.Links}
}
