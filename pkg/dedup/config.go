package dedup

import (
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/scenescout/meld/config"
	"github.com/scenescout/meld/pkg/matching"
	"github.com/scenescout/meld/pkg/merging"
	"github.com/scenescout/meld/pkg/models"
	"github.com/scenescout/meld/pkg/similarity"
)

// weightSumTolerance absorbs float rounding when checking that similarity
// weights sum to 1.0.
const weightSumTolerance = 1e-9

// Config is the full configuration surface of the dedup system. Zero values
// fall back to documented defaults at construction; Validate rejects bad
// configuration before any scoring happens.
type Config struct {
	Weights    models.SimilarityWeights `json:"weights"`
	Thresholds matching.Thresholds      `json:"thresholds"`

	Algorithms struct {
		StringMatching  similarity.Algorithm `json:"string_matching"`
		LocationFalloff string               `json:"location_falloff" validate:"oneof=linear inverse"`
		DateBucketHours int                  `json:"date_bucket_hours" validate:"gte=0"`
		DateHorizonDays int                  `json:"date_horizon_days" validate:"gte=0"`
		GeoPrecision    int                  `json:"geo_precision" validate:"gte=0,lte=8"`
	} `json:"algorithms"`

	Performance struct {
		BatchSize          int     `json:"batch_size" validate:"gte=0"`
		MaxCandidates      int     `json:"max_candidates" validate:"gte=0"`
		MaxLocationRadiusM float64 `json:"max_location_radius_m" validate:"gte=0"`
		EnableCaching      bool    `json:"enable_caching"`
		ParallelProcessing bool    `json:"parallel_processing"`
		WorkerCount        int     `json:"worker_count" validate:"gte=0"`
	} `json:"performance"`

	Quality struct {
		MinimumQualityScore float64                  `json:"minimum_quality_score" validate:"gte=0,lte=1"`
		RequireManualReview bool                     `json:"require_manual_review"`
		AutoMergeThreshold  float64                  `json:"auto_merge_threshold" validate:"gte=0,lte=1"`
		AutoMergeEnabled    bool                     `json:"auto_merge_enabled"`
		DefaultStrategy     models.MergeStrategyType `json:"default_strategy"`
	} `json:"quality"`
}

// DefaultConfig returns the documented default configuration.
func DefaultConfig() Config {
	var cfg Config
	engineDefaults := matching.DefaultConfig()

	cfg.Weights = engineDefaults.Weights
	cfg.Thresholds = engineDefaults.Thresholds

	cfg.Algorithms.StringMatching = engineDefaults.StringAlgorithm
	cfg.Algorithms.LocationFalloff = engineDefaults.LocationFalloff
	cfg.Algorithms.DateBucketHours = 24
	cfg.Algorithms.DateHorizonDays = engineDefaults.DateHorizonDays
	cfg.Algorithms.GeoPrecision = 3

	cfg.Performance.BatchSize = 100
	cfg.Performance.MaxCandidates = engineDefaults.MaxCandidates
	cfg.Performance.MaxLocationRadiusM = engineDefaults.MaxLocationRadiusM
	cfg.Performance.EnableCaching = true
	cfg.Performance.ParallelProcessing = true
	cfg.Performance.WorkerCount = 4

	cfg.Quality.RequireManualReview = true
	cfg.Quality.AutoMergeThreshold = 0.95
	cfg.Quality.AutoMergeEnabled = true
	cfg.Quality.DefaultStrategy = models.MergeStrategyEnhancePrimary

	return cfg
}

// FromAppConfig maps the environment configuration onto a dedup config.
func FromAppConfig(app *config.Config) Config {
	cfg := DefaultConfig()

	cfg.Weights = models.SimilarityWeights{
		Title:    app.WeightTitle,
		Venue:    app.WeightVenue,
		Location: app.WeightLocation,
		Date:     app.WeightDate,
		Semantic: app.WeightSemantic,
	}
	cfg.Thresholds = matching.Thresholds{
		Overall:  app.ThresholdOverall,
		Title:    app.ThresholdTitle,
		Venue:    app.ThresholdVenue,
		Location: app.ThresholdLocation,
		Date:     app.ThresholdDate,
		Semantic: app.ThresholdSemantic,
	}

	cfg.Algorithms.StringMatching = similarity.Algorithm(app.StringMatchingAlgorithm)
	cfg.Algorithms.LocationFalloff = app.LocationFalloff
	cfg.Algorithms.DateBucketHours = app.DateBucketHours
	cfg.Algorithms.DateHorizonDays = app.DateHorizonDays
	cfg.Algorithms.GeoPrecision = app.GeoPrecision

	cfg.Performance.BatchSize = app.BatchSize
	cfg.Performance.MaxCandidates = app.MaxCandidates
	cfg.Performance.MaxLocationRadiusM = app.MaxLocationRadiusM
	cfg.Performance.EnableCaching = app.EnableCaching
	cfg.Performance.ParallelProcessing = app.ParallelProcessing
	cfg.Performance.WorkerCount = app.WorkerCount

	cfg.Quality.MinimumQualityScore = app.MinimumQualityScore
	cfg.Quality.RequireManualReview = app.RequireManualReview
	cfg.Quality.AutoMergeThreshold = app.AutoMergeThreshold
	cfg.Quality.AutoMergeEnabled = app.AutoMergeEnabled

	return cfg
}

// Validate checks the configuration. Called at construction so bad
// configuration fails before first use.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid dedup configuration: %w", err)
	}

	if sum := c.Weights.Sum(); math.Abs(sum-1.0) > weightSumTolerance {
		return fmt.Errorf("similarity weights must sum to 1.0, got %v", sum)
	}
	for name, w := range map[string]float64{
		"title":    c.Weights.Title,
		"venue":    c.Weights.Venue,
		"location": c.Weights.Location,
		"date":     c.Weights.Date,
		"semantic": c.Weights.Semantic,
	} {
		if w < 0 || w > 1 {
			return fmt.Errorf("similarity weight %q must be in [0,1], got %v", name, w)
		}
	}

	if !similarity.KnownAlgorithm(c.Algorithms.StringMatching) {
		return fmt.Errorf("unknown string matching algorithm %q", c.Algorithms.StringMatching)
	}
	if !merging.KnownStrategy(c.Quality.DefaultStrategy) {
		return fmt.Errorf("unknown merge strategy %q", c.Quality.DefaultStrategy)
	}
	if c.Quality.AutoMergeThreshold < c.Thresholds.Overall {
		return fmt.Errorf("auto merge threshold %v must not be below the overall threshold %v", c.Quality.AutoMergeThreshold, c.Thresholds.Overall)
	}
	return nil
}

// engineConfig projects the facade configuration onto the match engine.
func (c *Config) engineConfig() matching.Config {
	return matching.Config{
		Weights:            c.Weights,
		Thresholds:         c.Thresholds,
		StringAlgorithm:    c.Algorithms.StringMatching,
		LocationFalloff:    c.Algorithms.LocationFalloff,
		DateHorizonDays:    c.Algorithms.DateHorizonDays,
		MaxLocationRadiusM: c.Performance.MaxLocationRadiusM,
		MaxCandidates:      c.Performance.MaxCandidates,
		EnableCaching:      c.Performance.EnableCaching,
	}
}
