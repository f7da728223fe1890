// Package schemes keeps a locally searchable catalog of government
// schemes so eligibility lookups keep working while the portal is
// offline. Search is fuzzy to absorb misspelled scheme names typed or
// transliterated by users.
package schemes

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"
)

// Scheme is one catalog entry.
type Scheme struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Ministry    string `json:"ministry"`
	Description string `json:"description"`
	Eligibility string `json:"eligibility"`
	Benefit     string `json:"benefit"`
}

// Match is one search hit.
type Match struct {
	Scheme Scheme  `json:"scheme"`
	Score  float64 `json:"score"`
}

// Catalog indexes schemes for fuzzy lookup.
type Catalog struct {
	index  bleve.Index
	logger *zap.Logger

	mu      sync.RWMutex
	schemes map[string]Scheme
}

// NewCatalog builds an in-memory index over the given schemes. Nil
// schemes loads the built-in seed catalog.
func NewCatalog(schemes []Scheme, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if schemes == nil {
		schemes = seedCatalog
	}

	index, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create scheme index: %w", err)
	}

	c := &Catalog{
		index:   index,
		logger:  logger.Named("schemes"),
		schemes: make(map[string]Scheme, len(schemes)),
	}

	start := time.Now()
	batch := index.NewBatch()
	for _, s := range schemes {
		c.schemes[s.ID] = s
		if err := batch.Index(s.ID, s); err != nil {
			return nil, fmt.Errorf("failed to index scheme %s: %w", s.ID, err)
		}
	}
	if err := index.Batch(batch); err != nil {
		return nil, fmt.Errorf("failed to commit scheme batch: %w", err)
	}

	c.logger.Info("scheme catalog indexed",
		zap.Int("schemes", len(schemes)),
		zap.Duration("elapsed", time.Since(start)))
	return c, nil
}

func buildMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	text.Store = true
	text.IncludeInAll = true
	doc.AddFieldMappingsAt("name", text)
	doc.AddFieldMappingsAt("description", text)
	doc.AddFieldMappingsAt("eligibility", text)
	doc.AddFieldMappingsAt("benefit", text)
	doc.AddFieldMappingsAt("ministry", text)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Search returns up to limit schemes ranked by relevance. Queries match
// across name, description, eligibility and benefit, with fuzziness so
// "fasal bima" still finds PMFBY.
func (c *Catalog) Search(queryText string, limit int) ([]Match, error) {
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	match := bleve.NewMatchQuery(queryText)
	match.SetFuzziness(1)
	prefix := bleve.NewPrefixQuery(strings.ToLower(queryText))
	search := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(match, prefix))
	search.Size = limit

	res, err := c.index.Search(search)
	if err != nil {
		return nil, fmt.Errorf("scheme search failed: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	matches := make([]Match, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if s, ok := c.schemes[hit.ID]; ok {
			matches = append(matches, Match{Scheme: s, Score: hit.Score})
		}
	}
	return matches, nil
}

// Get returns one scheme by ID.
func (c *Catalog) Get(id string) (Scheme, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemes[id]
	return s, ok
}

// All returns the whole catalog.
func (c *Catalog) All() []Scheme {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Scheme, 0, len(c.schemes))
	for _, s := range c.schemes {
		out = append(out, s)
	}
	return out
}

// Close releases the index.
func (c *Catalog) Close() error {
	return c.index.Close()
}

// seedCatalog covers the schemes rural users ask about most. The AI
// scheme matcher answers open questions; this local list is the
// offline floor.
var seedCatalog = []Scheme{
	{
		ID:          "pm-kisan",
		Name:        "PM-KISAN",
		Ministry:    "Ministry of Agriculture and Farmers Welfare",
		Description: "Income support for landholding farmer families.",
		Eligibility: "All landholding farmer families, subject to exclusion criteria.",
		Benefit:     "₹6,000 per year in three instalments.",
	},
	{
		ID:          "pmfby",
		Name:        "Pradhan Mantri Fasal Bima Yojana",
		Ministry:    "Ministry of Agriculture and Farmers Welfare",
		Description: "Crop insurance against natural calamities, pests and diseases.",
		Eligibility: "Farmers growing notified crops in notified areas, including sharecroppers.",
		Benefit:     "Insured sum for crop loss at low premium rates.",
	},
	{
		ID:          "mgnrega",
		Name:        "MGNREGA",
		Ministry:    "Ministry of Rural Development",
		Description: "Guaranteed wage employment for rural households.",
		Eligibility: "Adult members of rural households willing to do unskilled manual work.",
		Benefit:     "At least 100 days of paid work per household per year.",
	},
	{
		ID:          "ayushman-bharat",
		Name:        "Ayushman Bharat PM-JAY",
		Ministry:    "Ministry of Health and Family Welfare",
		Description: "Health insurance for poor and vulnerable families.",
		Eligibility: "Families identified through deprivation criteria in SECC data.",
		Benefit:     "Health cover of ₹5 lakh per family per year.",
	},
	{
		ID:          "pmay-g",
		Name:        "Pradhan Mantri Awas Yojana - Gramin",
		Ministry:    "Ministry of Rural Development",
		Description: "Pucca housing for houseless rural families.",
		Eligibility: "Houseless families and those in kutcha houses per SECC data.",
		Benefit:     "Financial assistance to construct a pucca house.",
	},
	{
		ID:          "ujjwala",
		Name:        "Pradhan Mantri Ujjwala Yojana",
		Ministry:    "Ministry of Petroleum and Natural Gas",
		Description: "LPG connections for women from poor households.",
		Eligibility: "Adult women from poor households without an LPG connection.",
		Benefit:     "Free LPG connection with first refill and stove support.",
	},
	{
		ID:          "atal-pension",
		Name:        "Atal Pension Yojana",
		Ministry:    "Ministry of Finance",
		Description: "Guaranteed pension for workers in the unorganised sector.",
		Eligibility: "Citizens aged 18 to 40 with a savings bank account.",
		Benefit:     "Fixed pension of ₹1,000 to ₹5,000 per month after 60.",
	},
	{
		ID:          "sukanya",
		Name:        "Sukanya Samriddhi Yojana",
		Ministry:    "Ministry of Finance",
		Description: "Savings scheme for the girl child.",
		Eligibility: "Parents or guardians of a girl child below 10 years.",
		Benefit:     "High-interest savings with tax benefits for education and marriage.",
	},
}
