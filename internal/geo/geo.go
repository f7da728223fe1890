// Package geo supplies a best-effort device location fix. A missing fix
// never blocks the dependent operation; callers proceed without
// location grounding.
package geo

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds one fix attempt. Rural GPS cold starts are
// slow; waiting longer than this hurts more than answering without a
// location.
const DefaultTimeout = 3 * time.Second

// Fix is one position reading.
type Fix struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy_meters,omitempty"`
	At        time.Time `json:"at"`
}

// Provider is the positioning device.
type Provider interface {
	Current(ctx context.Context) (Fix, error)
}

// Locator wraps a Provider with the timeout and degrade-to-nothing
// policy.
type Locator struct {
	provider Provider
	timeout  time.Duration
	logger   *zap.Logger
}

// NewLocator creates a Locator. Zero timeout means DefaultTimeout.
func NewLocator(provider Provider, timeout time.Duration, logger *zap.Logger) *Locator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{provider: provider, timeout: timeout, logger: logger.Named("geo")}
}

// Resolve attempts one fix within the timeout. It returns (fix, true)
// on success and (zero, false) on timeout, error or missing provider.
func (l *Locator) Resolve(ctx context.Context) (Fix, bool) {
	if l.provider == nil {
		return Fix{}, false
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	fix, err := l.provider.Current(ctx)
	if err != nil {
		l.logger.Debug("location fix unavailable", zap.Error(err))
		return Fix{}, false
	}
	if fix.At.IsZero() {
		fix.At = time.Now()
	}
	return fix, true
}
