// Package fingerprint derives comparable representations of event records.
// A fingerprint is always recomputed from the source record, never
// persisted independently.
package fingerprint

import (
	"math"
	"time"

	"github.com/scenescout/meld/pkg/models"
	"github.com/scenescout/meld/pkg/normalizers"
)

// PriceTier buckets event pricing for coarse comparison.
type PriceTier string

const (
	PriceTierUnknown PriceTier = "unknown"
	PriceTierFree    PriceTier = "free"
	PriceTierLow     PriceTier = "low"
	PriceTierMid     PriceTier = "mid"
	PriceTierHigh    PriceTier = "high"
	PriceTierPremium PriceTier = "premium"
)

// dateBucketUnknown marks a fingerprint whose start date was missing or
// unparseable. Scoring degrades gracefully instead of failing.
const dateBucketUnknown = int64(-1)

// Fingerprint is the normalized, comparable representation of an event.
type Fingerprint struct {
	EventID     string    `json:"event_id"`
	Title       string    `json:"title"`
	TitleTokens []string  `json:"title_tokens"`
	Venue       string    `json:"venue"`
	City        string    `json:"city"`
	HasGeo      bool      `json:"has_geo"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	DateBucket  int64     `json:"date_bucket"`
	StartTime   time.Time `json:"start_time"`
	PriceTier   PriceTier `json:"price_tier"`
	Category    string    `json:"category"`
	ContentHash string    `json:"content_hash"`
}

// DateKnown reports whether the source record carried a usable start date.
func (f Fingerprint) DateKnown() bool {
	return f.DateBucket != dateBucketUnknown
}

// Generator produces fingerprints under configured tolerances.
type Generator struct {
	geoPrecision int
	dateBucket   time.Duration
}

// NewGenerator creates a fingerprint generator.
// geoPrecision is decimal places to round coordinates to; bucketHours is
// the date tolerance window.
func NewGenerator(geoPrecision int, bucketHours int) *Generator {
	if geoPrecision <= 0 {
		geoPrecision = 3
	}
	if bucketHours <= 0 {
		bucketHours = 24
	}
	return &Generator{
		geoPrecision: geoPrecision,
		dateBucket:   time.Duration(bucketHours) * time.Hour,
	}
}

// Generate computes the fingerprint for an event. Deterministic: the same
// record always yields the same fingerprint. Missing or malformed fields
// produce sentinel values rather than errors.
func (g *Generator) Generate(event *models.EventRecord) Fingerprint {
	fp := Fingerprint{
		EventID:    event.ID,
		Title:      normalizers.NormalizeTitle(event.Title),
		Venue:      normalizers.NormalizeVenue(event.VenueName),
		City:       normalizers.NormalizeCity(event.City),
		DateBucket: dateBucketUnknown,
		PriceTier:  TierOf(event),
		Category:   normalizers.NormalizeCategory(event.Category),
	}
	fp.TitleTokens = normalizers.Tokenize(fp.Title)

	if event.Coordinates != nil {
		fp.HasGeo = true
		fp.Lat = roundTo(event.Coordinates.Lat, g.geoPrecision)
		fp.Lng = roundTo(event.Coordinates.Lng, g.geoPrecision)
	}

	if !event.StartTime.IsZero() {
		fp.StartTime = event.StartTime.UTC()
		fp.DateBucket = fp.StartTime.Unix() / int64(g.dateBucket.Seconds())
	}

	fp.ContentHash = ContentHash(event)
	return fp
}

// TierOf derives the price tier from the event's price fields.
func TierOf(event *models.EventRecord) PriceTier {
	if event.IsFree {
		return PriceTierFree
	}
	price := 0.0
	switch {
	case event.PriceMin != nil:
		price = *event.PriceMin
	case event.PriceMax != nil:
		price = *event.PriceMax
	default:
		return PriceTierUnknown
	}

	switch {
	case price == 0:
		return PriceTierFree
	case price < 15:
		return PriceTierLow
	case price < 50:
		return PriceTierMid
	case price < 150:
		return PriceTierHigh
	default:
		return PriceTierPremium
	}
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow10(places)
	return math.Round(v*factor) / factor
}
