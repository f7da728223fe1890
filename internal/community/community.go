// Package community broadcasts help requests between neighbouring
// villages over NATS. A kiosk without a broker keeps working: requests
// stay on the local board and nothing is published.
package community

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/grameenconnect/portal/internal/jsonx"
)

// Subject is the broadcast subject shared by all portal nodes in a
// district.
const Subject = "grameen.community.help"

// Request types.
const (
	TypeMedical   = "Medical"
	TypeFoodWater = "Food/Water"
	TypeDocuments = "Documents"
)

// HelpRequest is one broadcasted plea.
type HelpRequest struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Urgent      bool      `json:"urgent"`
	CreatedAt   time.Time `json:"created_at"`
}

// Board keeps active requests and fans new ones out over the broker.
type Board struct {
	nc     *nats.Conn
	logger *zap.Logger

	mu       sync.RWMutex
	requests []HelpRequest
	sub      *nats.Subscription
}

// Connect dials the broker with retry semantics. An empty address
// returns (nil, nil): the caller passes the nil conn to NewBoard and
// runs local-only.
func Connect(address string, logger *zap.Logger) (*nats.Conn, error) {
	if address == "" {
		return nil, nil
	}
	nc, err := nats.Connect(address,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	logger.Info("community broker connected", zap.String("address", address))
	return nc, nil
}

// NewBoard creates a Board. With a live conn it also subscribes so
// requests raised on other nodes appear on this board.
func NewBoard(nc *nats.Conn, logger *zap.Logger) (*Board, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Board{nc: nc, logger: logger.Named("community")}

	if nc != nil {
		sub, err := nc.Subscribe(Subject, b.onRemoteRequest)
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe to %s: %w", Subject, err)
		}
		b.sub = sub
	}
	return b, nil
}

// Raise validates, records and broadcasts a help request. Broadcast
// failure is logged, never surfaced; the local record is the source of
// truth for this node.
func (b *Board) Raise(req HelpRequest) (HelpRequest, error) {
	if req.Description == "" {
		return HelpRequest{}, errors.New("description is required")
	}
	if req.Type == "" {
		req.Type = TypeMedical
	}
	req.ID = uuid.New().String()
	req.CreatedAt = time.Now()

	b.mu.Lock()
	b.requests = append([]HelpRequest{req}, b.requests...)
	b.mu.Unlock()

	if b.nc != nil {
		payload, err := jsonx.Marshal(req)
		if err == nil {
			err = b.nc.Publish(Subject, payload)
		}
		if err != nil {
			b.logger.Warn("help request broadcast failed",
				zap.String("request_id", req.ID),
				zap.Error(err))
		}
	}

	b.logger.Info("help request raised",
		zap.String("request_id", req.ID),
		zap.String("type", req.Type),
		zap.Bool("urgent", req.Urgent))
	return req, nil
}

// Active returns requests newest first.
func (b *Board) Active() []HelpRequest {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]HelpRequest, len(b.requests))
	copy(out, b.requests)
	return out
}

// onRemoteRequest merges a request raised elsewhere into the local
// board, skipping ones this node already has.
func (b *Board) onRemoteRequest(msg *nats.Msg) {
	var req HelpRequest
	if err := jsonx.Unmarshal(msg.Data, &req); err != nil {
		b.logger.Warn("discarding malformed help request", zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.requests {
		if existing.ID == req.ID {
			return
		}
	}
	b.requests = append([]HelpRequest{req}, b.requests...)
}

// Close drops the subscription. The conn is owned by the caller.
func (b *Board) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
}
