// Package matching implements event duplicate detection: pairwise
// similarity scoring across five dimensions and ranked match finding.
package matching

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/Gobusters/ectologger"

	"github.com/scenescout/meld/internal/tracing"
	"github.com/scenescout/meld/pkg/fingerprint"
	"github.com/scenescout/meld/pkg/models"
	"github.com/scenescout/meld/pkg/similarity"
)

// neutralScore marks a dimension with insufficient evidence on both sides.
// It is neither a boost nor a penalty.
const neutralScore = 0.5

// Thresholds gates match acceptance. Overall is the floor for the weighted
// score; the per-dimension values are floors an otherwise-strong pair must
// still clear (a high overall with a near-zero date match does not qualify).
type Thresholds struct {
	Overall  float64 `json:"overall" validate:"gte=0,lte=1"`
	Title    float64 `json:"title" validate:"gte=0,lte=1"`
	Venue    float64 `json:"venue" validate:"gte=0,lte=1"`
	Location float64 `json:"location" validate:"gte=0,lte=1"`
	Date     float64 `json:"date" validate:"gte=0,lte=1"`
	Semantic float64 `json:"semantic" validate:"gte=0,lte=1"`
}

// Config contains configuration for the match engine.
type Config struct {
	Weights            models.SimilarityWeights
	Thresholds         Thresholds
	StringAlgorithm    similarity.Algorithm
	LocationFalloff    string  // "linear" or "inverse"
	DateHorizonDays    int     // date sub-score reaches 0 past this
	MaxLocationRadiusM float64 // location sub-score reaches 0 past this
	MaxCandidates      int     // cap on matches returned per target
	EnableCaching      bool
}

// DefaultConfig returns default engine configuration.
func DefaultConfig() Config {
	return Config{
		Weights: models.SimilarityWeights{
			Title:    0.35,
			Venue:    0.25,
			Location: 0.20,
			Date:     0.15,
			Semantic: 0.05,
		},
		Thresholds: Thresholds{
			Overall: 0.80,
			Title:   0.40,
			Venue:   0.30,
			Date:    0.30,
		},
		StringAlgorithm:    similarity.AlgorithmHybrid,
		LocationFalloff:    "linear",
		DateHorizonDays:    30,
		MaxLocationRadiusM: 1000,
		MaxCandidates:      100,
		EnableCaching:      true,
	}
}

// Engine implements event matching logic.
type Engine struct {
	logger    ectologger.Logger
	generator *fingerprint.Generator
	config    Config
	cache     *scoreCache

	comparisons atomic.Int64
	cacheHits   atomic.Int64
}

// NewEngine creates a new match engine.
func NewEngine(logger ectologger.Logger, generator *fingerprint.Generator, config Config) *Engine {
	e := &Engine{
		logger:    logger,
		generator: generator,
		config:    config,
	}
	if config.EnableCaching {
		e.cache = newScoreCache()
	}
	return e
}

// Config returns the engine's configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Fingerprint returns the fingerprint for an event, from cache when the
// record's match-relevant content is unchanged.
func (e *Engine) Fingerprint(event *models.EventRecord) fingerprint.Fingerprint {
	if e.cache == nil {
		return e.generator.Generate(event)
	}
	hash := fingerprint.ContentHash(event)
	if fp, ok := e.cache.getFingerprint(event.ID, hash); ok {
		e.cacheHits.Add(1)
		return fp
	}
	fp := e.generator.Generate(event)
	e.cache.putFingerprint(event.ID, hash, fp)
	return fp
}

// CalculateSimilarity computes the five sub-scores and the weighted overall
// score for a fingerprint pair. Deterministic for fixed configuration.
func (e *Engine) CalculateSimilarity(a, b fingerprint.Fingerprint) models.SimilarityScore {
	e.comparisons.Add(1)

	score := models.SimilarityScore{
		Title:    e.titleScore(a, b),
		Venue:    e.venueScore(a, b),
		Location: e.locationScore(a, b),
		Date:     e.dateScore(a, b),
		Semantic: e.priceScore(a, b),
	}
	score.Overall = e.config.Weights.Combine(score)
	return score
}

// CompareEvents scores a pair of event records, caching the result keyed by
// id pair and content hash. Disabling the cache does not change results.
func (e *Engine) CompareEvents(ctx context.Context, a, b *models.EventRecord) models.SimilarityScore {
	_, span := tracing.StartSpan(ctx, "matching.Engine.CompareEvents")
	defer span.End()

	fpA := e.Fingerprint(a)
	fpB := e.Fingerprint(b)

	if e.cache == nil {
		return e.CalculateSimilarity(fpA, fpB)
	}

	key := pairKey(a.ID, fpA.ContentHash, b.ID, fpB.ContentHash)
	if score, ok := e.cache.getPairScore(key); ok {
		e.cacheHits.Add(1)
		return score
	}
	score := e.CalculateSimilarity(fpA, fpB)
	e.cache.putPairScore(key, score)
	return score
}

// FindMatches returns the candidates that are plausible duplicates of the
// target, ranked by confidence. A target whose fingerprint carries no usable
// evidence yields an empty list rather than an error.
func (e *Engine) FindMatches(ctx context.Context, target *models.EventRecord, candidates []*models.EventRecord) []models.Match {
	ctx, span := tracing.StartSpan(ctx, "matching.Engine.FindMatches")
	defer span.End()

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"event_id":        target.ID,
		"candidate_count": len(candidates),
	})

	targetFP := e.Fingerprint(target)
	if targetFP.Title == "" {
		log.Warn("Target event has no usable title; skipping match pass")
		return []models.Match{}
	}

	type scored struct {
		match      models.Match
		ingestedAt int64
	}

	results := make([]scored, 0)
	for _, candidate := range candidates {
		if candidate.ID == target.ID {
			continue
		}

		score := e.CompareEvents(ctx, target, candidate)
		if !e.passes(score) {
			continue
		}

		candidateFP := e.Fingerprint(candidate)
		match := models.Match{
			TargetEventID:    target.ID,
			CandidateEventID: candidate.ID,
			Confidence:       score.Overall,
			Scores:           score,
			Reasons:          e.reasons(score, targetFP, candidateFP),
			RiskFactors:      e.riskFactors(score, targetFP, candidateFP),
		}
		results = append(results, scored{match: match, ingestedAt: candidate.IngestedAt.UnixNano()})
	}

	// Rank by overall score; break ties on venue similarity, then prefer the
	// older (presumably more complete) candidate record.
	sort.Slice(results, func(i, j int) bool {
		si, sj := results[i].match.Scores, results[j].match.Scores
		if si.Overall != sj.Overall {
			return si.Overall > sj.Overall
		}
		if si.Venue != sj.Venue {
			return si.Venue > sj.Venue
		}
		return results[i].ingestedAt < results[j].ingestedAt
	})

	if e.config.MaxCandidates > 0 && len(results) > e.config.MaxCandidates {
		results = results[:e.config.MaxCandidates]
	}

	matches := make([]models.Match, len(results))
	for i, r := range results {
		matches[i] = r.match
	}

	log.WithFields(map[string]any{"match_count": len(matches)}).Debug("Found matches")
	return matches
}

// Stats returns comparison and cache-hit counters since engine creation.
func (e *Engine) Stats() (comparisons, cacheHits int64) {
	return e.comparisons.Load(), e.cacheHits.Load()
}

// passes applies the overall threshold and the per-dimension floors.
func (e *Engine) passes(score models.SimilarityScore) bool {
	t := e.config.Thresholds
	if score.Overall < t.Overall {
		return false
	}
	if score.Title < t.Title {
		return false
	}
	if score.Venue < t.Venue {
		return false
	}
	if score.Location < t.Location {
		return false
	}
	if score.Date < t.Date {
		return false
	}
	if score.Semantic < t.Semantic {
		return false
	}
	return true
}

func (e *Engine) titleScore(a, b fingerprint.Fingerprint) float64 {
	if a.Title == "" || b.Title == "" {
		return 0.0
	}
	return similarity.Score(a.Title, b.Title, e.config.StringAlgorithm)
}

func (e *Engine) venueScore(a, b fingerprint.Fingerprint) float64 {
	if a.Venue == "" && b.Venue == "" {
		return neutralScore
	}
	if a.Venue == "" || b.Venue == "" {
		return 0.0
	}
	if a.Venue == b.Venue {
		return 1.0
	}
	return similarity.Score(a.Venue, b.Venue, e.config.StringAlgorithm)
}

func (e *Engine) locationScore(a, b fingerprint.Fingerprint) float64 {
	if a.HasGeo && b.HasGeo {
		dist := similarity.HaversineDistance(a.Lat, a.Lng, b.Lat, b.Lng)
		return similarity.DistanceDecay(dist, e.config.MaxLocationRadiusM, e.config.LocationFalloff)
	}
	// Coordinates missing on either side: fall back to venue-name evidence.
	if a.Venue != "" && b.Venue != "" {
		if a.Venue == b.Venue {
			return 1.0
		}
		return similarity.Score(a.Venue, b.Venue, e.config.StringAlgorithm)
	}
	return neutralScore
}

func (e *Engine) dateScore(a, b fingerprint.Fingerprint) float64 {
	if !a.DateKnown() || !b.DateKnown() {
		return neutralScore
	}
	if a.DateBucket == b.DateBucket {
		return 1.0
	}
	return similarity.DateProximity(a.StartTime, b.StartTime, e.config.DateHorizonDays)
}

func (e *Engine) priceScore(a, b fingerprint.Fingerprint) float64 {
	if a.PriceTier == fingerprint.PriceTierUnknown || b.PriceTier == fingerprint.PriceTierUnknown {
		return neutralScore
	}
	if a.PriceTier == b.PriceTier {
		return 1.0
	}
	aFree := a.PriceTier == fingerprint.PriceTierFree
	bFree := b.PriceTier == fingerprint.PriceTierFree
	if aFree != bFree {
		return 0.0
	}
	// Both paid, different tiers
	return 0.3
}

func (e *Engine) reasons(score models.SimilarityScore, a, b fingerprint.Fingerprint) []string {
	reasons := make([]string, 0, 4)
	if score.Title >= 0.95 {
		reasons = append(reasons, "titles are near-identical after normalization")
	} else if score.Title >= 0.8 {
		reasons = append(reasons, fmt.Sprintf("titles are similar (%.2f)", score.Title))
	}
	if a.Venue != "" && a.Venue == b.Venue {
		reasons = append(reasons, "same venue")
	} else if score.Venue >= 0.8 {
		reasons = append(reasons, fmt.Sprintf("venue names are similar (%.2f)", score.Venue))
	}
	if a.DateKnown() && b.DateKnown() && a.DateBucket == b.DateBucket {
		reasons = append(reasons, "same date window")
	}
	if a.HasGeo && b.HasGeo && score.Location >= 0.9 {
		reasons = append(reasons, "locations are within radius")
	}
	if a.PriceTier == b.PriceTier && a.PriceTier != fingerprint.PriceTierUnknown {
		reasons = append(reasons, fmt.Sprintf("same price tier (%s)", a.PriceTier))
	}
	return reasons
}

// riskFactors lists signals that argue against merging despite a passing
// overall score.
func (e *Engine) riskFactors(score models.SimilarityScore, a, b fingerprint.Fingerprint) []string {
	risks := make([]string, 0, 2)
	if !a.DateKnown() || !b.DateKnown() {
		risks = append(risks, "missing_date")
	} else if score.Date < 0.8 {
		risks = append(risks, "date_differs")
	}
	if !a.HasGeo || !b.HasGeo {
		risks = append(risks, "missing_coordinates")
	}
	if score.Venue < 0.6 {
		risks = append(risks, "low_venue_similarity")
	}
	if score.Semantic == 0.0 {
		risks = append(risks, "free_vs_paid_price")
	}
	if a.Category != "" && b.Category != "" && a.Category != b.Category {
		risks = append(risks, "category_mismatch")
	}
	return risks
}
