package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grameenconnect/portal/internal/gemini"
)

type fakeModel struct {
	lastReq gemini.Request
	reply   string
	err     error
}

func (f *fakeModel) Generate(_ context.Context, req gemini.Request) (*gemini.Result, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &gemini.Result{Text: f.reply}, nil
}

func TestClassifyMobilityWithBothLocations(t *testing.T) {
	model := &fakeModel{reply: `{"action":"plan_mobility","source_location":"Sonapur","destination_location":"the clinic"}`}
	r := NewRouter(model, nil)

	res := r.Classify(context.Background(), "I want to go from Sonapur to the clinic", "en")
	assert.Equal(t, ActionMobility, res.Action)
	assert.Equal(t, "Sonapur", res.Source)
	assert.Equal(t, "the clinic", res.Destination)
}

func TestClassifyMobilityMissingLocationCollapses(t *testing.T) {
	model := &fakeModel{reply: `{"action":"plan_mobility","destination_location":"the clinic"}`}
	r := NewRouter(model, nil)

	res := r.Classify(context.Background(), "take me to the clinic", "en")
	assert.Equal(t, Unknown(), res)
}

func TestClassifyNavigateMarket(t *testing.T) {
	model := &fakeModel{reply: `{"action":"navigate","target":"kisan_mandi"}`}
	r := NewRouter(model, nil)

	res := r.Classify(context.Background(), "open the market", "en")
	assert.Equal(t, ActionNavigate, res.Action)
	assert.Equal(t, "kisan_mandi", res.Target)
}

func TestClassifyNavigateInvalidTarget(t *testing.T) {
	model := &fakeModel{reply: `{"action":"navigate","target":"weather_widget"}`}
	r := NewRouter(model, nil)

	res := r.Classify(context.Background(), "show the weather", "en")
	assert.Equal(t, Unknown(), res)
}

func TestClassifyHealthInputCarriesText(t *testing.T) {
	model := &fakeModel{reply: `{"action":"type_health_input","text":"fever and headache since yesterday"}`}
	r := NewRouter(model, nil)

	res := r.Classify(context.Background(), "I have fever and headache since yesterday", "en")
	assert.Equal(t, ActionHealthInput, res.Action)
	assert.Equal(t, "fever and headache since yesterday", res.Text)
	assert.Empty(t, res.Target)
}

func TestClassifyFailuresYieldUnknown(t *testing.T) {
	cases := []struct {
		name  string
		model *fakeModel
	}{
		{"transport error", &fakeModel{err: errors.New("dial tcp: timeout")}},
		{"malformed json", &fakeModel{reply: "I think you want the market?"}},
		{"unlisted action", &fakeModel{reply: `{"action":"reboot"}`}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRouter(tc.model, nil)
			res := r.Classify(context.Background(), "do something", "en")
			assert.Equal(t, Unknown(), res)
		})
	}
}

func TestClassifyEmptyUtterance(t *testing.T) {
	model := &fakeModel{reply: `{"action":"navigate","target":"kisan_mandi"}`}
	r := NewRouter(model, nil)

	assert.Equal(t, Unknown(), r.Classify(context.Background(), "   ", "en"))
	assert.Empty(t, model.lastReq.Contents, "blank utterance must not reach the model")
}

func TestClassifySendsStrictSchema(t *testing.T) {
	model := &fakeModel{reply: `{"action":"navigate","target":"vision_assist"}`}
	r := NewRouter(model, nil)

	r.Classify(context.Background(), "explain this photo", "en")
	require.NotNil(t, model.lastReq.Schema)
	action := model.lastReq.Schema.Properties["action"]
	require.NotNil(t, action)
	assert.ElementsMatch(t,
		[]string{ActionNavigate, ActionHealthInput, ActionMobility, ActionUnknown},
		action.Enum)
	target := model.lastReq.Schema.Properties["target"]
	require.NotNil(t, target)
	assert.True(t, target.Nullable)
	assert.ElementsMatch(t, Targets, target.Enum)
}
