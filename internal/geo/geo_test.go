package geo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	fix   Fix
	err   error
	delay time.Duration
}

func (f *fakeProvider) Current(ctx context.Context) (Fix, error) {
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return Fix{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.fix, f.err
}

func TestResolveSuccess(t *testing.T) {
	l := NewLocator(&fakeProvider{fix: Fix{Latitude: 26.14, Longitude: 91.73}}, 0, nil)

	fix, ok := l.Resolve(context.Background())
	require.True(t, ok)
	assert.InDelta(t, 26.14, fix.Latitude, 1e-9)
	assert.False(t, fix.At.IsZero(), "timestamp is filled in")
}

func TestResolveTimeoutDegrades(t *testing.T) {
	l := NewLocator(&fakeProvider{delay: time.Second}, 20*time.Millisecond, nil)

	start := time.Now()
	_, ok := l.Resolve(context.Background())
	assert.False(t, ok)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "must not wait for the slow fix")
}

func TestResolveErrorDegrades(t *testing.T) {
	l := NewLocator(&fakeProvider{err: errors.New("position unavailable")}, 0, nil)
	_, ok := l.Resolve(context.Background())
	assert.False(t, ok)
}

func TestResolveWithoutProvider(t *testing.T) {
	l := NewLocator(nil, 0, nil)
	_, ok := l.Resolve(context.Background())
	assert.False(t, ok)
}
