// Package server exposes the portal over HTTP and WebSocket. Handlers
// stay thin: decode, call the owning package, encode. Model failures
// arrive here already collapsed into fallback strings, so the only
// error this layer translates is the upgrade gate on chat.
package server

import (
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/valyala/bytebufferpool"
	"go.uber.org/zap"

	"github.com/grameenconnect/portal/internal/auth"
	"github.com/grameenconnect/portal/internal/cache"
	"github.com/grameenconnect/portal/internal/community"
	"github.com/grameenconnect/portal/internal/gateway"
	"github.com/grameenconnect/portal/internal/intent"
	"github.com/grameenconnect/portal/internal/jsonx"
	"github.com/grameenconnect/portal/internal/market"
	"github.com/grameenconnect/portal/internal/schemes"
)

// UpgradeSentinel is the exact string clients key error UI off. It is
// emitted only here, at the wire boundary; internally the condition
// travels as gateway.ErrUpgradeRequired.
const UpgradeSentinel = "ERROR_PRO_KEY_REQUIRED"

// Server wires every portal service behind one router.
type Server struct {
	gw        *gateway.Gateway
	router    *intent.Router
	auth      *auth.Service
	catalog   *schemes.Catalog
	market    *market.Board
	community *community.Board
	cache     *cache.ResponseCache
	offline   *atomic.Bool
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// Options collects the server's collaborators. Catalog, Market,
// Community and Cache may be nil; their endpoints then answer 503.
type Options struct {
	Gateway   *gateway.Gateway
	Router    *intent.Router
	Auth      *auth.Service
	Catalog   *schemes.Catalog
	Market    *market.Board
	Community *community.Board
	Cache     *cache.ResponseCache
	// Offline is the shared connectivity flag toggled by the operator
	// endpoint and read by the gateway's offline probe.
	Offline *atomic.Bool
	Logger  *zap.Logger
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Offline == nil {
		opts.Offline = &atomic.Bool{}
	}
	return &Server{
		gw:        opts.Gateway,
		router:    opts.Router,
		auth:      opts.Auth,
		catalog:   opts.Catalog,
		market:    opts.Market,
		community: opts.Community,
		cache:     opts.Cache,
		offline:   opts.Offline,
		logger:    opts.Logger.Named("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// SetupRoutes registers all endpoints on the router.
func (s *Server) SetupRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/ws/chat", s.handleWebSocketChat)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.auth.Middleware)

	api.HandleFunc("/register", s.handleRegister).Methods("POST")
	api.HandleFunc("/login", s.handleLogin).Methods("POST")
	api.HandleFunc("/face-login", s.handleFaceLogin).Methods("POST")

	api.HandleFunc("/generate", s.handleGenerate).Methods("POST")
	api.HandleFunc("/vision", s.handleVision).Methods("POST")
	api.HandleFunc("/chat", s.handleChat).Methods("POST")
	api.HandleFunc("/intent", s.handleIntent).Methods("POST")
	api.HandleFunc("/transliterate", s.handleTransliterate).Methods("POST")

	api.HandleFunc("/resume", s.handleResume).Methods("POST")
	api.HandleFunc("/grievance", s.handleGrievance).Methods("POST")
	api.HandleFunc("/mobility", s.handleMobility).Methods("POST")
	api.HandleFunc("/schemes", s.handleSchemeSearch).Methods("GET")
	api.HandleFunc("/schemes/match", s.handleSchemeMatch).Methods("POST")

	api.HandleFunc("/market", s.handleMarketList).Methods("GET")
	api.HandleFunc("/market", s.handleMarketPost).Methods("POST")
	api.HandleFunc("/market/{id}", s.handleMarketRemove).Methods("DELETE")

	api.HandleFunc("/community/help", s.handleCommunityList).Methods("GET")
	api.HandleFunc("/community/help", s.handleCommunityRaise).Methods("POST")

	api.HandleFunc("/offline", s.handleOfflineStatus).Methods("GET")
	api.HandleFunc("/offline", s.handleOfflineToggle).Methods("POST")
	api.HandleFunc("/cache/stats", s.handleCacheStats).Methods("GET")
}

func (s *Server) respond(w http.ResponseWriter, status int, v interface{}) {
	data, err := jsonx.Marshal(v)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	_, _ = buf.Write(data)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.B)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respond(w, status, map[string]string{"error": message})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := jsonx.DecodeReader(r.Body, v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"offline": s.offline.Load(),
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	if _, err := s.auth.Register(req.Name, req.Phone, req.Password); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, err := s.auth.Login(req.Phone, req.Password)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "registration succeeded but login failed")
		return
	}
	s.respond(w, http.StatusCreated, token)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	token, err := s.auth.Login(req.Phone, req.Password)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid phone or password")
		return
	}
	s.respond(w, http.StatusOK, token)
}

func (s *Server) handleFaceLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageBase64 string `json:"image_base64"`
		MimeType    string `json:"mime_type"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.ImageBase64 == "" {
		s.respondError(w, http.StatusBadRequest, "image_base64 is required")
		return
	}

	ok, reason := s.gw.VerifyFace(r.Context(), req.ImageBase64, req.MimeType)
	if !ok {
		s.respond(w, http.StatusUnauthorized, map[string]interface{}{
			"verified": false,
			"reason":   reason,
		})
		return
	}

	token, err := s.auth.FaceLogin()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{
		"verified": true,
		"token":    token,
	})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt            string `json:"prompt"`
		Language          string `json:"language"`
		SystemInstruction string `json:"system_instruction"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	text := s.gw.GenerateText(r.Context(), req.Prompt, req.Language, req.SystemInstruction)
	s.respond(w, http.StatusOK, map[string]string{"response": text})
}

func (s *Server) handleVision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt      string `json:"prompt"`
		ImageBase64 string `json:"image_base64"`
		MimeType    string `json:"mime_type"`
		Language    string `json:"language"`
		Technical   bool   `json:"technical"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.ImageBase64 == "" {
		s.respondError(w, http.StatusBadRequest, "image_base64 is required")
		return
	}

	text := s.gw.GenerateVision(r.Context(), req.Prompt, req.ImageBase64, req.MimeType, req.Language, req.Technical)
	s.respond(w, http.StatusOK, map[string]string{"response": text})
}

type chatRequest struct {
	History           []gateway.ChatTurn `json:"history"`
	Message           string             `json:"message"`
	SystemInstruction string             `json:"system_instruction"`
	Language          string             `json:"language"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}

	reply, err := s.gw.Chat(r.Context(), req.History, req.Message, req.SystemInstruction, req.Language)
	if err != nil {
		// The one error the gateway surfaces. Clients match this exact
		// string to show the upgrade prompt.
		s.respond(w, http.StatusOK, map[string]interface{}{
			"response":         UpgradeSentinel,
			"upgrade_required": true,
		})
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"response": reply})
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Utterance string `json:"utterance"`
		Language  string `json:"language"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	s.respond(w, http.StatusOK, s.router.Classify(r.Context(), req.Utterance, req.Language))
}

func (s *Server) handleTransliterate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	s.respond(w, http.StatusOK, map[string]string{
		"text": s.gw.Transliterate(r.Context(), req.Text, req.Language),
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Utterance string `json:"utterance"`
		Language  string `json:"language"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	profile := s.gw.ExtractProfile(r.Context(), req.Utterance)
	resume := s.gw.BuildResume(r.Context(), profile, req.Language)
	s.respond(w, http.StatusOK, map[string]interface{}{
		"profile": profile,
		"resume":  resume,
	})
}

func (s *Server) handleGrievance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Concern  string `json:"concern"`
		Language string `json:"language"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Concern == "" {
		s.respondError(w, http.StatusBadRequest, "concern is required")
		return
	}

	s.respond(w, http.StatusOK, map[string]string{
		"draft": s.gw.DraftGrievance(r.Context(), req.Concern, req.Language),
	})
}

func (s *Server) handleMobility(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Utterance string `json:"utterance"`
		DepartAt  string `json:"depart_at"`
		Language  string `json:"language"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	trip := s.gw.ExtractTrip(r.Context(), req.Utterance)
	plan := s.gw.PlanRoute(r.Context(), trip, req.DepartAt, req.Language)
	s.respond(w, http.StatusOK, map[string]interface{}{
		"trip": trip,
		"plan": plan,
	})
}

func (s *Server) handleSchemeSearch(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.respondError(w, http.StatusServiceUnavailable, "scheme catalog not available")
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		s.respond(w, http.StatusOK, map[string]interface{}{"schemes": s.catalog.All()})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	matches, err := s.catalog.Search(query, limit)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "scheme search failed")
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"matches": matches})
}

func (s *Server) handleSchemeMatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Utterance string `json:"utterance"`
		Language  string `json:"language"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	seeker := s.gw.ExtractSchemeSeeker(r.Context(), req.Utterance)
	schemesText := s.gw.MatchSchemes(r.Context(), seeker, req.Language)
	s.respond(w, http.StatusOK, map[string]interface{}{
		"seeker":  seeker,
		"schemes": schemesText,
	})
}

func (s *Server) handleMarketList(w http.ResponseWriter, r *http.Request) {
	if s.market == nil {
		s.respondError(w, http.StatusServiceUnavailable, "market not available")
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"listings": s.market.All()})
}

func (s *Server) handleMarketPost(w http.ResponseWriter, r *http.Request) {
	if s.market == nil {
		s.respondError(w, http.StatusServiceUnavailable, "market not available")
		return
	}

	var req struct {
		market.Listing
		// Utterance, when set, is extracted into a listing first and
		// the explicit fields act as overrides.
		Utterance string `json:"utterance"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	listing := req.Listing
	if req.Utterance != "" {
		extracted := s.gw.ExtractListing(r.Context(), req.Utterance)
		if listing.Name == "" {
			listing.Name = extracted.Name
		}
		if listing.Price == "" {
			listing.Price = extracted.Price
		}
		if listing.Contact == "" {
			listing.Contact = extracted.Contact
		}
	}
	if listing.Seller == "" {
		listing.Seller = auth.DisplayName(r.Context())
	}

	posted, err := s.market.Post(listing)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respond(w, http.StatusCreated, posted)
}

func (s *Server) handleMarketRemove(w http.ResponseWriter, r *http.Request) {
	if s.market == nil {
		s.respondError(w, http.StatusServiceUnavailable, "market not available")
		return
	}

	id := mux.Vars(r)["id"]
	if !s.market.Remove(id, auth.DisplayName(r.Context())) {
		s.respondError(w, http.StatusNotFound, "listing not found")
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"removed": id})
}

func (s *Server) handleCommunityList(w http.ResponseWriter, r *http.Request) {
	if s.community == nil {
		s.respondError(w, http.StatusServiceUnavailable, "community board not available")
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"requests": s.community.Active()})
}

func (s *Server) handleCommunityRaise(w http.ResponseWriter, r *http.Request) {
	if s.community == nil {
		s.respondError(w, http.StatusServiceUnavailable, "community board not available")
		return
	}

	var req community.HelpRequest
	if !s.decode(w, r, &req) {
		return
	}

	raised, err := s.community.Raise(req)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respond(w, http.StatusCreated, raised)
}

func (s *Server) handleOfflineStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]bool{"offline": s.offline.Load()})
}

func (s *Server) handleOfflineToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Offline bool `json:"offline"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	s.offline.Store(req.Offline)
	s.logger.Info("offline mode toggled", zap.Bool("offline", req.Offline))
	s.respond(w, http.StatusOK, map[string]bool{"offline": req.Offline})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.respondError(w, http.StatusServiceUnavailable, "cache not available")
		return
	}
	s.respond(w, http.StatusOK, s.cache.Stats())
}
