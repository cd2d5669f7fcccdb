package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/scenescout/meld/pkg/models"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_WeightSum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights.Title = 0.9
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestValidate_UnknownAlgorithm(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Algorithms.StringMatching = "soundex"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "algorithm")
}

func TestValidate_UnknownDefaultStrategy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Quality.DefaultStrategy = "smash_together"
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "merge strategy")
}

func TestValidate_AutoMergeBelowOverallThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Quality.AutoMergeThreshold = 0.5
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "auto merge threshold")
}

func TestValidate_BadLocationFalloff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Algorithms.LocationFalloff = "exponential"
	assert.Error(t, cfg.Validate())
}

func TestNewSystem_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Weights.Venue = 0.5
	_, err := NewSystem(testLogger(), cfg, nil, noopRecorder{})
	assert.Error(t, err)
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 0.80, cfg.Thresholds.Overall)
	assert.Equal(t, 0.95, cfg.Quality.AutoMergeThreshold)
	assert.Equal(t, models.MergeStrategyEnhancePrimary, cfg.Quality.DefaultStrategy)
	assert.Equal(t, 24, cfg.Algorithms.DateBucketHours)
	assert.Equal(t, 30, cfg.Algorithms.DateHorizonDays)
	assert.InDelta(t, 1.0, cfg.Weights.Sum(), 1e-9)
}
