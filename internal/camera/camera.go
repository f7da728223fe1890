// Package camera manages capture sessions for face sign-in and produce
// photos. The hardware sits behind an interface; this package enforces
// the one rule that matters: every acquired track is stopped on every
// teardown path, so closing a dialog can never leak a camera handle.
package camera

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Constraints describe the requested stream. Face sign-in uses the
// front camera at a modest resolution; higher is wasted on a 320x240
// verification frame.
type Constraints struct {
	FacingFront bool
	Width       int
	Height      int
}

// DefaultConstraints is the portal's standard capture request.
var DefaultConstraints = Constraints{FacingFront: true, Width: 640, Height: 480}

// Track is one live media track.
type Track interface {
	Stop()
}

// Device opens media streams.
type Device interface {
	Open(ctx context.Context, c Constraints) ([]Track, error)
	// Frame grabs the current frame as encoded image bytes.
	Frame(ctx context.Context) (data []byte, mimeType string, err error)
}

// ErrPermissionDenied reports that camera access was refused.
var ErrPermissionDenied = errors.New("camera access denied")

// Session is one open capture session. Close is idempotent and safe
// from any goroutine.
type Session struct {
	device Device
	tracks []Track
	logger *zap.Logger
	once   sync.Once
}

// Manager acquires sessions.
type Manager struct {
	device Device
	logger *zap.Logger
}

// NewManager creates a Manager.
func NewManager(device Device, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{device: device, logger: logger.Named("camera")}
}

// Acquire opens a session with the given constraints. On failure no
// tracks are left running.
func (m *Manager) Acquire(ctx context.Context, c Constraints) (*Session, error) {
	tracks, err := m.device.Open(ctx, c)
	if err != nil {
		// A partial grant still hands back tracks that must be stopped.
		for _, t := range tracks {
			t.Stop()
		}
		if errors.Is(err, ErrPermissionDenied) {
			return nil, ErrPermissionDenied
		}
		return nil, fmt.Errorf("failed to open camera: %w", err)
	}

	return &Session{device: m.device, tracks: tracks, logger: m.logger}, nil
}

// Capture grabs one frame. The session stays open for retries; the
// caller closes it when done.
func (s *Session) Capture(ctx context.Context) ([]byte, string, error) {
	data, mimeType, err := s.device.Frame(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to capture frame: %w", err)
	}
	return data, mimeType, nil
}

// CaptureAndClose grabs one frame and tears the session down whether or
// not the grab succeeded.
func (s *Session) CaptureAndClose(ctx context.Context) ([]byte, string, error) {
	defer s.Close()
	return s.Capture(ctx)
}

// Close stops every track exactly once.
func (s *Session) Close() {
	s.once.Do(func() {
		for _, t := range s.tracks {
			t.Stop()
		}
		s.logger.Debug("camera session closed", zap.Int("tracks", len(s.tracks)))
	})
}
