package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/grameenconnect/portal/internal/auth"
	"github.com/grameenconnect/portal/internal/community"
	"github.com/grameenconnect/portal/internal/gateway"
	"github.com/grameenconnect/portal/internal/gemini"
	"github.com/grameenconnect/portal/internal/intent"
	"github.com/grameenconnect/portal/internal/jsonx"
	"github.com/grameenconnect/portal/internal/market"
	"github.com/grameenconnect/portal/internal/schemes"
)

type fakeModel struct {
	reply string
	err   error
}

func (f *fakeModel) Generate(_ context.Context, _ gemini.Request) (*gemini.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &gemini.Result{Text: f.reply}, nil
}

type testEnv struct {
	server  *httptest.Server
	offline *atomic.Bool
	token   string
}

func newTestEnv(t *testing.T, model *fakeModel) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	var offline atomic.Bool
	gw, err := gateway.New(gateway.Options{
		Model:   model,
		Offline: offline.Load,
		Logger:  logger,
	})
	require.NoError(t, err)

	catalog, err := schemes.NewCatalog(nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { catalog.Close() })

	board, err := community.NewBoard(nil, logger)
	require.NoError(t, err)
	t.Cleanup(board.Close)

	srv := NewServer(Options{
		Gateway:   gw,
		Router:    intent.NewRouter(model, logger),
		Auth:      auth.New("server-test-secret-0123456789abcdef", logger),
		Catalog:   catalog,
		Market:    market.NewBoard(logger),
		Community: board,
		Offline:   &offline,
		Logger:    logger,
	})

	r := mux.NewRouter()
	srv.SetupRoutes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	env := &testEnv{server: ts, offline: &offline}
	env.token = env.register(t, "Asha", "9876500001", "strongpass")
	return env
}

func (e *testEnv) register(t *testing.T, name, phone, password string) string {
	t.Helper()
	var out struct {
		AccessToken string `json:"access_token"`
	}
	status := e.post(t, "", "/api/register", map[string]string{
		"name": name, "phone": phone, "password": password,
	}, &out)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, out.AccessToken)
	return out.AccessToken
}

func (e *testEnv) do(t *testing.T, method, token, path string, body, out interface{}) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := jsonx.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, jsonx.DecodeReader(resp.Body, out))
	}
	return resp.StatusCode
}

func (e *testEnv) post(t *testing.T, token, path string, body, out interface{}) int {
	return e.do(t, http.MethodPost, token, path, body, out)
}

func (e *testEnv) get(t *testing.T, token, path string, out interface{}) int {
	return e.do(t, http.MethodGet, token, path, nil, out)
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t, &fakeModel{reply: "hi"})

	var out map[string]interface{}
	status := env.get(t, "", "/health", &out)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", out["status"])
}

func TestProtectedEndpointRequiresToken(t *testing.T) {
	env := newTestEnv(t, &fakeModel{reply: "hi"})

	status := env.post(t, "", "/api/generate", map[string]string{"prompt": "hello"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	env := newTestEnv(t, &fakeModel{reply: "hi"})

	status := env.post(t, "", "/api/login", map[string]string{
		"phone": "9876500001", "password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestGenerate(t *testing.T) {
	env := newTestEnv(t, &fakeModel{reply: "Namaste! How can I help?"})

	var out map[string]string
	status := env.post(t, env.token, "/api/generate", map[string]string{
		"prompt": "greet me", "language": "hi",
	}, &out)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Namaste! How can I help?", out["response"])
}

func TestGenerateOffline(t *testing.T) {
	env := newTestEnv(t, &fakeModel{reply: "should not be reached"})

	status := env.post(t, env.token, "/api/offline", map[string]bool{"offline": true}, nil)
	require.Equal(t, http.StatusOK, status)

	var out map[string]string
	env.post(t, env.token, "/api/generate", map[string]string{"prompt": "anything"}, &out)
	assert.Equal(t, gateway.OfflineMessage, out["response"])
}

func TestChatEmitsUpgradeSentinelVerbatim(t *testing.T) {
	env := newTestEnv(t, &fakeModel{err: gemini.ErrUpgradeRequired})

	var out struct {
		Response        string `json:"response"`
		UpgradeRequired bool   `json:"upgrade_required"`
	}
	status := env.post(t, env.token, "/api/chat", map[string]interface{}{
		"message": "hello",
	}, &out)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ERROR_PRO_KEY_REQUIRED", out.Response)
	assert.True(t, out.UpgradeRequired)
}

func TestChatTransportFailureDegrades(t *testing.T) {
	env := newTestEnv(t, &fakeModel{err: context.DeadlineExceeded})

	var out map[string]string
	status := env.post(t, env.token, "/api/chat", map[string]interface{}{
		"message": "hello",
	}, &out)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, gateway.FallbackChat, out["response"])
}

func TestVisionRequiresImage(t *testing.T) {
	env := newTestEnv(t, &fakeModel{reply: "a cow"})

	status := env.post(t, env.token, "/api/vision", map[string]string{"prompt": "describe"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestIntent(t *testing.T) {
	env := newTestEnv(t, &fakeModel{reply: `{"action":"navigate","target":"kisan_mandi"}`})

	var out intent.Result
	status := env.post(t, env.token, "/api/intent", map[string]string{
		"utterance": "open the market", "language": "en",
	}, &out)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, intent.ActionNavigate, out.Action)
	assert.Equal(t, "kisan_mandi", out.Target)
}

func TestFaceLoginRejected(t *testing.T) {
	env := newTestEnv(t, &fakeModel{reply: "NO: face is blurry"})

	var out struct {
		Verified bool   `json:"verified"`
		Reason   string `json:"reason"`
	}
	status := env.post(t, "", "/api/face-login", map[string]string{
		"image_base64": "Zm9v", "mime_type": "image/jpeg",
	}, &out)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, out.Verified)
	assert.Equal(t, "face is blurry", out.Reason)
}

func TestFaceLoginVerified(t *testing.T) {
	env := newTestEnv(t, &fakeModel{reply: "YES"})

	var out struct {
		Verified bool `json:"verified"`
		Token    struct {
			AccessToken string `json:"access_token"`
			Name        string `json:"name"`
		} `json:"token"`
	}
	status := env.post(t, "", "/api/face-login", map[string]string{
		"image_base64": "Zm9v", "mime_type": "image/jpeg",
	}, &out)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, out.Verified)
	assert.NotEmpty(t, out.Token.AccessToken)
	assert.Equal(t, "Verified Citizen", out.Token.Name)
}

func TestSchemeSearchOffline(t *testing.T) {
	env := newTestEnv(t, &fakeModel{reply: "unused"})

	var out struct {
		Matches []schemes.Match `json:"matches"`
	}
	status := env.get(t, env.token, "/api/schemes?q=farmer", &out)
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, out.Matches)
}

func TestSchemeListAll(t *testing.T) {
	env := newTestEnv(t, &fakeModel{reply: "unused"})

	var out struct {
		Schemes []schemes.Scheme `json:"schemes"`
	}
	status := env.get(t, env.token, "/api/schemes", &out)
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, out.Schemes)
}

func TestMarketPostAndRemove(t *testing.T) {
	env := newTestEnv(t, &fakeModel{reply: "unused"})

	var posted market.Listing
	status := env.post(t, env.token, "/api/market", map[string]string{
		"name": "Fresh Okra", "price": "30", "contact": "9876512345",
	}, &posted)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Asha", posted.Seller, "seller defaults to the signed-in citizen")

	var listed struct {
		Listings []market.Listing `json:"listings"`
	}
	env.get(t, env.token, "/api/market", &listed)
	require.NotEmpty(t, listed.Listings)
	assert.Equal(t, posted.ID, listed.Listings[0].ID)

	status = env.do(t, http.MethodDelete, env.token, "/api/market/"+posted.ID, nil, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestMarketPostFromUtterance(t *testing.T) {
	env := newTestEnv(t, &fakeModel{
		reply: `{"name":"Organic Rice","price":"55","contact":"9876512345"}`,
	})

	var posted market.Listing
	status := env.post(t, env.token, "/api/market", map[string]string{
		"utterance": "selling organic rice at 55 rupees, call 9876512345",
	}, &posted)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Organic Rice", posted.Name)
	assert.Equal(t, "55", posted.Price)
}

func TestCommunityRaiseAndList(t *testing.T) {
	env := newTestEnv(t, &fakeModel{reply: "unused"})

	var raised community.HelpRequest
	status := env.post(t, env.token, "/api/community/help", map[string]interface{}{
		"type": community.TypeFoodWater, "description": "well ran dry", "urgent": true,
	}, &raised)
	require.Equal(t, http.StatusCreated, status)
	assert.NotEmpty(t, raised.ID)

	var listed struct {
		Requests []community.HelpRequest `json:"requests"`
	}
	env.get(t, env.token, "/api/community/help", &listed)
	require.Len(t, listed.Requests, 1)
	assert.Equal(t, raised.ID, listed.Requests[0].ID)
}

func TestCacheStatsUnavailable(t *testing.T) {
	env := newTestEnv(t, &fakeModel{reply: "unused"})

	status := env.get(t, env.token, "/api/cache/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestMobility(t *testing.T) {
	env := newTestEnv(t, &fakeModel{reply: `{"start":"Sonapur","end":"district hospital","aid":"wheelchair"}`})

	var out struct {
		Trip gateway.Trip `json:"trip"`
	}
	status := env.post(t, env.token, "/api/mobility", map[string]string{
		"utterance": "I need to get from Sonapur to the district hospital with a wheelchair",
		"depart_at": "09:00",
		"language":  "en",
	}, &out)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Sonapur", out.Trip.Start)
	assert.Equal(t, "wheelchair", out.Trip.Aid)
}
