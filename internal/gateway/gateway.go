// Package gateway is the uniform call surface over the hosted model.
// It applies the language directive, consults the response cache,
// short-circuits when offline and collapses every failure into a fixed
// user-safe string so callers never see a raised transport error.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/grameenconnect/portal/internal/cache"
	"github.com/grameenconnect/portal/internal/gemini"
	"github.com/grameenconnect/portal/internal/lang"
)

// ErrUpgradeRequired signals that the call needs an upgraded API key.
// It is the only error Chat surfaces; everything else degrades to a
// fallback string.
var ErrUpgradeRequired = gemini.ErrUpgradeRequired

// Fixed fallback strings. One per operation, language-agnostic, and
// never written to the cache.
const (
	FallbackGenerate = "I am having trouble connecting right now. Please try again in a moment."
	FallbackEmpty    = "No response generated."
	FallbackVision   = "Error analyzing the image."
	FallbackAnalysis = "Analysis failed."
	FallbackChat     = "Connection error. Please check your internet and try again."
	FallbackRoute    = "Unable to plan a route right now. Please try again in a moment."

	// OfflineMessage is returned by GenerateText without a network
	// attempt when the offline probe reports no connectivity.
	OfflineMessage = "You are offline. Saved answers are still available. Reconnect to ask something new."
)

// technicalVisionInstruction replaces the language directive for
// verification-style vision calls whose verdicts are parsed by exact
// keyword match.
const technicalVisionInstruction = "You are a specialized vision analysis system. " +
	"Provide technical responses as requested. " +
	"Answer ONLY with the specific keywords provided in the prompt."

const transliterateInstruction = "Output ONLY the transliterated native script. No explanations or English."

// ModelClient is the slice of the model client the gateway consumes.
type ModelClient interface {
	Generate(ctx context.Context, req gemini.Request) (*gemini.Result, error)
}

// ChatTurn is one prior turn of a caller-owned conversation.
type ChatTurn struct {
	Role string `json:"role"` // "user" or "model"
	Text string `json:"text"`
}

// Gateway wraps a ModelClient with caching, offline handling and
// failure normalization. Conversation state is caller-owned; the
// gateway holds nothing between calls except the response memo.
type Gateway struct {
	model    ModelClient
	store    cache.Store
	offline  func() bool
	translit *expirable.LRU[string, string]
	logger   *zap.Logger
}

// Options configures a Gateway.
type Options struct {
	Model ModelClient
	// Store is the response memo. Nil disables caching.
	Store cache.Store
	// Offline reports whether the portal should avoid the network.
	// Nil means always online.
	Offline func() bool
	Logger  *zap.Logger
}

// New creates a Gateway.
func New(opts Options) (*Gateway, error) {
	if opts.Model == nil {
		return nil, errors.New("gateway: model client is required")
	}
	if opts.Offline == nil {
		opts.Offline = func() bool { return false }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Gateway{
		model:    opts.Model,
		store:    opts.Store,
		offline:  opts.Offline,
		translit: expirable.NewLRU[string, string](512, nil, time.Hour),
		logger:   opts.Logger.Named("gateway"),
	}, nil
}

// GenerateText answers a free-text prompt. Cache first, then the
// offline short-circuit, then at most one network attempt. Only real
// non-empty model output is cached.
func (g *Gateway) GenerateText(ctx context.Context, prompt, language, systemInstruction string) string {
	key := cache.Key(language, prompt, systemInstruction)
	if g.store != nil {
		if cached, found := g.store.Get(ctx, key); found {
			return cached
		}
	}

	if g.offline() {
		return OfflineMessage
	}

	res, err := g.model.Generate(ctx, gemini.Request{
		System:   systemInstruction + lang.Directive(language),
		Contents: gemini.UserText(prompt),
	})
	if err != nil {
		if errors.Is(err, gemini.ErrEmptyResponse) {
			return FallbackEmpty
		}
		g.logger.Warn("text generation failed", zap.Error(err))
		return FallbackGenerate
	}

	if g.store != nil {
		g.store.Put(ctx, key, res.Text)
	}
	return res.Text
}

// GenerateVision analyzes one image with a text prompt. Image inputs
// are never memoized. With skipDirective the language directive is
// replaced by the constrained technical instruction so keyword verdicts
// survive untranslated.
func (g *Gateway) GenerateVision(ctx context.Context, prompt, imageBase64, mimeType, language string, skipDirective bool) string {
	system := lang.Directive(language)
	if skipDirective {
		system = technicalVisionInstruction
	}

	res, err := g.model.Generate(ctx, gemini.Request{
		System:   system,
		Contents: gemini.UserImage(prompt, mimeType, imageBase64),
	})
	if err != nil {
		if errors.Is(err, gemini.ErrEmptyResponse) {
			return FallbackAnalysis
		}
		g.logger.Warn("vision analysis failed", zap.Error(err))
		return FallbackVision
	}
	return res.Text
}

// Chat sends one message with the caller's full ordered history
// reconstructed into model-visible context. The returned error is
// non-nil only for the capability gate; transport failures degrade to
// FallbackChat.
func (g *Gateway) Chat(ctx context.Context, history []ChatTurn, message, systemInstruction, language string) (string, error) {
	contents := make([]gemini.Content, 0, len(history)+1)
	for _, turn := range history {
		role := "user"
		if turn.Role == "model" {
			role = "model"
		}
		contents = append(contents, gemini.Content{
			Role:  role,
			Parts: []gemini.Part{{Text: turn.Text}},
		})
	}
	contents = append(contents, gemini.UserText(message)...)

	temp := float32(0.7)
	res, err := g.model.Generate(ctx, gemini.Request{
		System:      systemInstruction + lang.Directive(language),
		Contents:    contents,
		Temperature: &temp,
	})
	if err != nil {
		if errors.Is(err, gemini.ErrUpgradeRequired) {
			return "", ErrUpgradeRequired
		}
		g.logger.Warn("chat turn failed", zap.Error(err))
		return FallbackChat, nil
	}
	return res.Text, nil
}

// Transliterate renders latin-typed text into the target language's
// native script. The input is returned unchanged for the base language
// and on any failure. Results are memoized in a small expiring LRU
// since users retype the same phrases while composing.
func (g *Gateway) Transliterate(ctx context.Context, text, targetLang string) string {
	if text == "" || targetLang == lang.Default || !lang.Recognized(targetLang) {
		return text
	}

	memoKey := targetLang + "\x1f" + text
	if cached, found := g.translit.Get(memoKey); found {
		return cached
	}

	res, err := g.model.Generate(ctx, gemini.Request{
		System: transliterateInstruction,
		Contents: gemini.UserText(fmt.Sprintf(
			"Transliterate the following text into the %s script: %q",
			lang.Name(targetLang), text)),
	})
	if err != nil {
		return text
	}

	out := strings.TrimSpace(res.Text)
	if out == "" {
		return text
	}
	g.translit.Add(memoKey, out)
	return out
}

// faceVerifyPrompt asks for an exact-match verdict; the technical
// instruction keeps the reply out of the portal language.
const faceVerifyPrompt = "Focus ONLY on the person in the very front center. " +
	"IGNORE background patterns, shadows, or other objects. " +
	"Is there exactly one clear human face in the foreground? " +
	`Reply "YES" or "NO: [reason]".`

// VerifyFace checks a captured frame for exactly one foreground face.
// A false verdict carries a short user-facing reason.
func (g *Gateway) VerifyFace(ctx context.Context, imageBase64, mimeType string) (bool, string) {
	verdict := g.GenerateVision(ctx, faceVerifyPrompt, imageBase64, mimeType, lang.Default, true)
	if strings.Contains(strings.ToUpper(verdict), "YES") {
		return true, ""
	}

	reason := "Ensure face is clear"
	if _, after, found := strings.Cut(verdict, "NO:"); found {
		if r := strings.TrimSpace(after); r != "" {
			reason, _, _ = strings.Cut(r, ".")
		}
	}
	return false, strings.TrimSpace(reason)
}
