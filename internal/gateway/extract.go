package gateway

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/grameenconnect/portal/internal/gemini"
	"github.com/grameenconnect/portal/internal/jsonx"
)

// Structured extraction turns one free-form utterance into a flat
// record of named string fields. Every extractor returns a fully
// populated record on both success and failure; fields default to
// empty string unless a field documents another default.

// Profile holds resume-builder fields.
type Profile struct {
	Name       string `json:"name"`
	Location   string `json:"location"`
	Skills     string `json:"skills"`
	Experience string `json:"experience"`
	Education  string `json:"education"`
}

// SchemeSeeker holds scheme-matcher fields. Gender defaults to "Male"
// when the utterance does not state one.
type SchemeSeeker struct {
	Age        string `json:"age"`
	Gender     string `json:"gender"`
	Occupation string `json:"occupation"`
	Income     string `json:"income"`
	State      string `json:"state"`
}

// Trip holds mobility-planner fields. Aid defaults to "None".
type Trip struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Aid   string `json:"aid"`
}

// Listing holds marketplace posting fields.
type Listing struct {
	Name     string `json:"name"`
	Price    string `json:"price"`
	Contact  string `json:"contact"`
	Location string `json:"location"`
}

// extractJSON performs one schema-constrained call and decodes the
// reply into out. The caller pre-fills out with defaults; on any
// failure out is left untouched so those defaults survive.
func (g *Gateway) extractJSON(ctx context.Context, utterance, instruction string, schema *gemini.Schema, out any) {
	if strings.TrimSpace(utterance) == "" {
		return
	}

	res, err := g.model.Generate(ctx, gemini.Request{
		System:   instruction,
		Contents: gemini.UserText(utterance),
		Schema:   schema,
	})
	if err != nil {
		g.logger.Warn("structured extraction failed", zap.Error(err))
		return
	}
	if err := jsonx.UnmarshalFromString(res.Text, out); err != nil {
		g.logger.Warn("structured extraction returned malformed JSON",
			zap.String("body", truncate(res.Text, 120)),
			zap.Error(err))
	}
}

// ExtractProfile pulls resume fields out of a spoken self-description.
func (g *Gateway) ExtractProfile(ctx context.Context, utterance string) Profile {
	p := Profile{}
	schema := gemini.StringObjectSchema("name", "location", "skills", "experience", "education")
	g.extractJSON(ctx, utterance,
		"Extract resume details from the user's description of themselves. "+
			"Fill every field; use an empty string for anything not mentioned. "+
			"Output strict JSON only.",
		schema, &p)
	return p
}

// ExtractSchemeSeeker pulls scheme-eligibility fields.
func (g *Gateway) ExtractSchemeSeeker(ctx context.Context, utterance string) SchemeSeeker {
	s := SchemeSeeker{Gender: "Male"}
	schema := gemini.StringObjectSchema("age", "gender", "occupation", "income", "state").
		EnumProperty("gender", "Male", "Female", "Other")
	g.extractJSON(ctx, utterance,
		"Extract scheme eligibility details from the user's description. "+
			"Fill every field; use an empty string for anything not mentioned, "+
			"except gender which defaults to Male. Output strict JSON only.",
		schema, &s)
	if s.Gender == "" {
		s.Gender = "Male"
	}
	return s
}

// ExtractTrip pulls start, destination and mobility aid from a travel
// request.
func (g *Gateway) ExtractTrip(ctx context.Context, utterance string) Trip {
	t := Trip{Aid: "None"}
	schema := gemini.StringObjectSchema("start", "end", "aid").
		EnumProperty("aid", "None", "Wheelchair", "Walking Stick", "Crutches")
	g.extractJSON(ctx, utterance,
		"Extract the start location, destination and any mobility aid from "+
			"the user's travel request. Use an empty string for unknown "+
			"locations and None when no aid is mentioned. Output strict JSON only.",
		schema, &t)
	if t.Aid == "" {
		t.Aid = "None"
	}
	return t
}

// ExtractListing pulls marketplace listing fields from a seller's
// description of their produce.
func (g *Gateway) ExtractListing(ctx context.Context, utterance string) Listing {
	l := Listing{}
	schema := gemini.StringObjectSchema("name", "price", "contact", "location")
	g.extractJSON(ctx, utterance,
		"Extract the item name, expected price, contact number and location "+
			"from the seller's description. Fill every field; use an empty "+
			"string for anything not mentioned. Output strict JSON only.",
		schema, &l)
	return l
}

// BuildResume generates a formatted resume summary from profile fields.
func (g *Gateway) BuildResume(ctx context.Context, p Profile, language string) string {
	prompt := fmt.Sprintf(
		"Create a professional resume summary for a rural worker based on this info: "+
			"Name: %s, Location: %s, Skills: %s, Experience: %s, Education: %s. "+
			"Format nicely with sections.",
		p.Name, p.Location, p.Skills, p.Experience, p.Education)
	return g.GenerateText(ctx, prompt, language, "")
}

// MatchSchemes lists government schemes matching the seeker's profile.
func (g *Gateway) MatchSchemes(ctx context.Context, s SchemeSeeker, language string) string {
	prompt := fmt.Sprintf(
		"List 3 specific Indian government schemes for a %s year old %s working as %s "+
			"in %s with income ₹%s. Return as a concise bulleted list.",
		s.Age, s.Gender, s.Occupation, s.State, s.Income)
	return g.GenerateText(ctx, prompt, language, "")
}

// DraftGrievance turns a spoken concern into a formal grievance letter.
func (g *Gateway) DraftGrievance(ctx context.Context, concern, language string) string {
	system := "Draft a formal government grievance letter in India. " +
		"Use a very professional and authoritative tone. " +
		"Address the relevant local authority."
	prompt := fmt.Sprintf(
		"Draft a grievance letter about: %q. Provide placeholders for personal details.",
		concern)
	return g.GenerateText(ctx, prompt, language, system)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
