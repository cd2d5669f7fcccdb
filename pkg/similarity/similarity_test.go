package similarity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScore_ExactAndEmpty(t *testing.T) {
	for _, alg := range []Algorithm{AlgorithmLevenshtein, AlgorithmJaroWinkler, AlgorithmTokenCosine, AlgorithmHybrid} {
		assert.Equal(t, 1.0, Score("jazz night", "jazz night", alg), "exact match under %s", alg)
		assert.Equal(t, 0.0, Score("", "jazz night", alg), "empty side under %s", alg)
		assert.Equal(t, 0.0, Score("jazz night", "", alg), "empty side under %s", alg)
	}
}

func TestScore_SimilarStringsScoreHigh(t *testing.T) {
	a := "jazz night at the blue note"
	b := "jazz night at blue note"
	for _, alg := range []Algorithm{AlgorithmLevenshtein, AlgorithmJaroWinkler, AlgorithmTokenCosine, AlgorithmHybrid} {
		score := Score(a, b, alg)
		assert.Greater(t, score, 0.8, "algorithm %s", alg)
		assert.LessOrEqual(t, score, 1.0, "algorithm %s", alg)
	}
}

func TestScore_UnrelatedStringsScoreLow(t *testing.T) {
	score := Score("jazz night", "pottery workshop", AlgorithmHybrid)
	assert.Less(t, score, 0.5)
}

func TestScore_Symmetric(t *testing.T) {
	a, b := "summer festival", "sumer festival"
	for _, alg := range []Algorithm{AlgorithmLevenshtein, AlgorithmJaroWinkler, AlgorithmTokenCosine, AlgorithmHybrid} {
		assert.InDelta(t, Score(a, b, alg), Score(b, a, alg), 1e-12, "algorithm %s", alg)
	}
}

func TestKnownAlgorithm(t *testing.T) {
	assert.True(t, KnownAlgorithm(AlgorithmHybrid))
	assert.True(t, KnownAlgorithm(AlgorithmLevenshtein))
	assert.False(t, KnownAlgorithm("soundex"))
}

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"same", "same", 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, LevenshteinDistance(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestJaroWinkler_PrefixBoost(t *testing.T) {
	// Shared prefix should score higher than the same edits elsewhere.
	withPrefix := JaroWinkler("martha", "marhta")
	assert.Greater(t, withPrefix, 0.9)
	assert.Equal(t, 1.0, JaroWinkler("abc", "abc"))
	assert.Equal(t, 0.0, Jaro("abc", ""))
}

func TestTokenCosine(t *testing.T) {
	assert.Equal(t, 1.0, TokenCosine("a b c", "c b a"))
	assert.Equal(t, 0.0, TokenCosine("a b", "c d"))
	assert.Equal(t, 0.0, TokenCosine("", "a"))

	partial := TokenCosine("jazz night live", "jazz night")
	assert.Greater(t, partial, 0.7)
	assert.Less(t, partial, 1.0)
}

func TestDateProximity(t *testing.T) {
	base := time.Date(2026, 6, 15, 20, 0, 0, 0, time.UTC)

	t.Run("same instant", func(t *testing.T) {
		assert.Equal(t, 1.0, DateProximity(base, base, 30))
	})

	t.Run("linear decay", func(t *testing.T) {
		score := DateProximity(base, base.AddDate(0, 0, 15), 30)
		assert.InDelta(t, 0.5, score, 1e-9)
	})

	t.Run("beyond horizon", func(t *testing.T) {
		assert.Equal(t, 0.0, DateProximity(base, base.AddDate(0, 0, 45), 30))
	})

	t.Run("zero time gives no evidence", func(t *testing.T) {
		assert.Equal(t, 0.0, DateProximity(time.Time{}, base, 30))
	})
}

func TestNumericProximity(t *testing.T) {
	assert.Equal(t, 1.0, NumericProximity(10, 10, 5))
	assert.InDelta(t, 0.5, NumericProximity(10, 12.5, 5), 1e-9)
	assert.Equal(t, 0.0, NumericProximity(10, 20, 5))
}

func TestHaversineDistance(t *testing.T) {
	t.Run("zero distance", func(t *testing.T) {
		assert.InDelta(t, 0, HaversineDistance(37.7749, -122.4194, 37.7749, -122.4194), 0.001)
	})

	t.Run("known city pair", func(t *testing.T) {
		// San Francisco to Los Angeles, roughly 559km.
		dist := HaversineDistance(37.7749, -122.4194, 34.0522, -118.2437)
		assert.InDelta(t, 559000, dist, 5000)
	})

	t.Run("short distance", func(t *testing.T) {
		// Two points ~150m apart in the same city block range.
		dist := HaversineDistance(37.7749, -122.4194, 37.7762, -122.4194)
		assert.InDelta(t, 145, dist, 10)
	})
}

func TestDistanceDecay(t *testing.T) {
	t.Run("linear", func(t *testing.T) {
		assert.Equal(t, 1.0, DistanceDecay(0, 1000, "linear"))
		assert.InDelta(t, 0.5, DistanceDecay(500, 1000, "linear"), 1e-9)
		assert.Equal(t, 0.0, DistanceDecay(1000, 1000, "linear"))
		assert.Equal(t, 0.0, DistanceDecay(2000, 1000, "linear"))
	})

	t.Run("inverse", func(t *testing.T) {
		assert.Equal(t, 1.0, DistanceDecay(0, 1000, "inverse"))
		mid := DistanceDecay(500, 1000, "inverse")
		assert.Greater(t, mid, 0.0)
		assert.Less(t, mid, 0.5)
		assert.Equal(t, 0.0, DistanceDecay(1500, 1000, "inverse"))
	})
}
