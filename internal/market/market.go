// Package market is the Kisan Mandi listing board: villagers post
// produce with a photo and buyers call the seller directly. Listings
// live in memory, newest first.
package market

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Listing is one item for sale.
type Listing struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Price    string    `json:"price"`
	Seller   string    `json:"seller"`
	Location string    `json:"location"`
	Contact  string    `json:"contact"`
	Image    string    `json:"image,omitempty"`
	PostedAt time.Time `json:"posted_at"`
}

// Board holds the live listings.
type Board struct {
	logger *zap.Logger

	mu       sync.RWMutex
	listings []Listing
}

// NewBoard creates a Board pre-seeded with the demo listings so a fresh
// kiosk never shows an empty market.
func NewBoard(logger *zap.Logger) *Board {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Board{logger: logger.Named("market")}
	b.listings = []Listing{
		{
			ID: uuid.New().String(), Name: "Organic Wheat", Price: "₹25/kg",
			Seller: "Ramesh Kumar", Location: "Sonapur", Contact: "9876543210",
			PostedAt: time.Now(),
		},
		{
			ID: uuid.New().String(), Name: "Fresh Potatoes", Price: "₹15/kg",
			Seller: "Savitri Devi", Location: "Village East", Contact: "9123456780",
			PostedAt: time.Now(),
		},
	}
	return b
}

// Post validates and publishes a listing, returning it with its
// assigned ID. New listings appear first.
func (b *Board) Post(l Listing) (Listing, error) {
	if l.Name == "" || l.Price == "" || l.Contact == "" {
		return Listing{}, errors.New("name, price and contact are required")
	}
	if l.Location == "" {
		l.Location = "My Village"
	}
	l.ID = uuid.New().String()
	l.PostedAt = time.Now()

	b.mu.Lock()
	b.listings = append([]Listing{l}, b.listings...)
	b.mu.Unlock()

	b.logger.Info("listing posted",
		zap.String("listing_id", l.ID),
		zap.String("name", l.Name))
	return l, nil
}

// All returns listings newest first.
func (b *Board) All() []Listing {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Listing, len(b.listings))
	copy(out, b.listings)
	return out
}

// Remove deletes a listing by ID, but only when seller matches the
// requester.
func (b *Board) Remove(id, seller string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listings {
		if l.ID == id && l.Seller == seller {
			b.listings = append(b.listings[:i], b.listings[i+1:]...)
			return true
		}
	}
	return false
}
