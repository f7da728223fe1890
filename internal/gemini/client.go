// Package gemini is a thin REST client for the hosted generateContent
// API. It speaks the wire format directly; request policy (caching,
// fallbacks, language directives) lives in the gateway.
package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/grameenconnect/portal/internal/jsonx"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultTextModel handles generation, chat and structured extraction.
	DefaultTextModel = "gemini-2.5-flash"
	// DefaultVisionModel handles image analysis and face verification.
	DefaultVisionModel = "gemini-2.5-flash"
)

// ErrUpgradeRequired reports that the configured API key lacks the
// entitlement for the requested capability (vision and live features on
// free-tier keys). Callers test for it with errors.Is.
var ErrUpgradeRequired = errors.New("model capability requires an upgraded API key")

// ErrEmptyResponse reports a well-formed reply that carried no text.
var ErrEmptyResponse = errors.New("model returned no content")

// Link is one grounded web source attached to a reply.
type Link struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// Request is one generateContent call.
type Request struct {
	// Model overrides the client default when non-empty.
	Model string
	// System is the system instruction, already carrying any language
	// directive.
	System string
	// Contents is the ordered conversation. Most calls send a single
	// user turn; chat sends reconstructed history.
	Contents []Content
	// Temperature, when non-nil, overrides the model default.
	Temperature *float32
	// Schema switches the call to structured JSON output.
	Schema *Schema
	// Grounded enables web search grounding.
	Grounded bool
}

// Result is the extracted reply.
type Result struct {
	Text  string
	Links []Link
}

// Client calls the hosted model over HTTPS.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	httpc   *http.Client
	logger  *zap.Logger
}

// Config configures a Client.
type Config struct {
	APIKey string
	// Model is the default model name; DefaultTextModel when empty.
	Model string
	// BaseURL overrides the hosted endpoint, used by tests.
	BaseURL string
	// Timeout bounds one call end to end. Zero means 60s.
	Timeout time.Duration
	Logger  *zap.Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultTextModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		httpc: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger: cfg.Logger.Named("gemini"),
	}, nil
}

// UserText builds a single user turn from text.
func UserText(text string) []Content {
	return []Content{{Role: "user", Parts: []Part{{Text: text}}}}
}

// UserImage builds a single user turn carrying text plus one inline
// image.
func UserImage(text, mimeType, base64Data string) []Content {
	return []Content{{
		Role: "user",
		Parts: []Part{
			{InlineData: &InlineData{MimeType: mimeType, Data: base64Data}},
			{Text: text},
		},
	}}
}

// Generate performs one generateContent call and extracts the reply.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	wire := generateRequest{Contents: req.Contents}
	if req.System != "" {
		wire.SystemInstruction = &Content{Parts: []Part{{Text: req.System}}}
	}
	if req.Temperature != nil || req.Schema != nil {
		wire.GenerationConfig = &GenerationConfig{Temperature: req.Temperature}
		if req.Schema != nil {
			wire.GenerationConfig.ResponseMimeType = "application/json"
			wire.GenerationConfig.ResponseSchema = req.Schema
		}
	}
	if req.Grounded {
		wire.Tools = []Tool{{GoogleSearch: &struct{}{}}}
	}

	body, err := jsonx.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read model response: %w", err)
	}

	var parsed generateResponse
	if err := jsonx.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode model response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.apiError(resp.StatusCode, parsed.Error, model)
	}

	result := extract(&parsed)
	if result.Text == "" && len(result.Links) == 0 {
		return nil, ErrEmptyResponse
	}

	c.logger.Debug("model call completed",
		zap.String("model", model),
		zap.Bool("grounded", req.Grounded),
		zap.Int("reply_bytes", len(result.Text)),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// apiError maps an error envelope to a typed error. Entitlement and
// quota rejections become ErrUpgradeRequired so callers can branch
// without string sniffing.
func (c *Client) apiError(statusCode int, env *errorEnvelope, model string) error {
	msg := "unknown error"
	status := ""
	if env != nil {
		msg = env.Message
		status = env.Status
	}

	c.logger.Warn("model call rejected",
		zap.String("model", model),
		zap.Int("http_status", statusCode),
		zap.String("api_status", status))

	if isEntitlement(statusCode, status, msg) {
		return fmt.Errorf("%w: %s", ErrUpgradeRequired, msg)
	}
	return fmt.Errorf("model API error (HTTP %d, %s): %s", statusCode, status, msg)
}

func isEntitlement(statusCode int, status, msg string) bool {
	if statusCode == http.StatusTooManyRequests || status == "RESOURCE_EXHAUSTED" {
		return true
	}
	lower := strings.ToLower(msg)
	return statusCode == http.StatusForbidden &&
		(strings.Contains(lower, "quota") || strings.Contains(lower, "billing") ||
			strings.Contains(lower, "tier"))
}

// extract pulls the reply text and any grounded web sources out of the
// first candidate.
func extract(resp *generateResponse) *Result {
	result := &Result{}
	if len(resp.Candidates) == 0 {
		return result
	}
	cand := resp.Candidates[0]

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		sb.WriteString(part.Text)
	}
	result.Text = strings.TrimSpace(sb.String())

	if cand.GroundingMetadata != nil {
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk.Web != nil && chunk.Web.URI != "" {
				result.Links = append(result.Links, Link{
					URI:   chunk.Web.URI,
					Title: chunk.Web.Title,
				})
			}
		}
	}
	return result
}
