package resolution

import (
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenescout/meld/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func newTestResolver() *Resolver {
	return NewResolver(testLogger(), NewSourceRegistry())
}

var (
	earlier = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	later   = time.Date(2026, 6, 10, 0, 0, 0, 0, time.UTC)
)

func TestResolveFieldConflict_SingleCarrier(t *testing.T) {
	r := newTestResolver()

	res, ok := r.ResolveFieldConflict("description", []FieldCandidate{
		{Value: "only value", EventID: "a"},
		{Value: "", EventID: "b"},
		{Value: nil, EventID: "c"},
	}, models.ResolutionLatestWins)

	require.True(t, ok)
	assert.Equal(t, "only value", res.Value)
	assert.Equal(t, "a", res.SourceEventID)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestResolveFieldConflict_NoValues(t *testing.T) {
	r := newTestResolver()

	_, ok := r.ResolveFieldConflict("description", []FieldCandidate{
		{Value: "", EventID: "a"},
		{Value: nil, EventID: "b"},
	}, models.ResolutionMostComplete)
	assert.False(t, ok)
}

func TestResolveFieldConflict_PrimaryWins(t *testing.T) {
	r := newTestResolver()

	t.Run("primary carries the field", func(t *testing.T) {
		res, ok := r.ResolveFieldConflict("title", []FieldCandidate{
			{Value: "duplicate title", EventID: "b"},
			{Value: "primary title", EventID: "a", IsPrimary: true},
		}, models.ResolutionPrimaryWins)

		require.True(t, ok)
		assert.Equal(t, "primary title", res.Value)
		assert.Equal(t, "a", res.SourceEventID)
		assert.Equal(t, models.ResolutionPrimaryWins, res.Strategy)
		assert.Equal(t, 1.0, res.Confidence)
	})

	t.Run("primary missing falls back to most complete", func(t *testing.T) {
		res, ok := r.ResolveFieldConflict("description", []FieldCandidate{
			{Value: "short", EventID: "b"},
			{Value: "a much longer description", EventID: "c"},
		}, models.ResolutionPrimaryWins)

		require.True(t, ok)
		assert.Equal(t, "a much longer description", res.Value)
		assert.Equal(t, models.ResolutionPrimaryWins, res.Strategy)
	})
}

func TestResolveFieldConflict_LatestWins(t *testing.T) {
	r := newTestResolver()

	res, ok := r.ResolveFieldConflict("title", []FieldCandidate{
		{Value: "old", EventID: "a", UpdatedAt: earlier},
		{Value: "new", EventID: "b", UpdatedAt: later},
	}, models.ResolutionLatestWins)

	require.True(t, ok)
	assert.Equal(t, "new", res.Value)
	assert.Equal(t, "b", res.SourceEventID)
}

func TestResolveFieldConflict_LatestWins_TieKeepsDeterministicOrder(t *testing.T) {
	r := newTestResolver()

	res, ok := r.ResolveFieldConflict("title", []FieldCandidate{
		{Value: "from b", EventID: "b", UpdatedAt: earlier},
		{Value: "from a", EventID: "a", UpdatedAt: earlier},
	}, models.ResolutionLatestWins)

	require.True(t, ok)
	// Equal timestamps: the lowest event id wins regardless of input order.
	assert.Equal(t, "a", res.SourceEventID)
}

func TestResolveFieldConflict_MostComplete(t *testing.T) {
	r := newTestResolver()

	res, ok := r.ResolveFieldConflict("description", []FieldCandidate{
		{Value: "short", EventID: "a"},
		{Value: "the longest description of them all", EventID: "b"},
		{Value: "medium length", EventID: "c"},
	}, models.ResolutionMostComplete)

	require.True(t, ok)
	assert.Equal(t, "the longest description of them all", res.Value)
	assert.Equal(t, "b", res.SourceEventID)
}

func TestResolveFieldConflict_HighestQuality(t *testing.T) {
	registry := NewSourceRegistry()
	registry.Register(models.DataSource{Name: "trusted", Reliability: 0.95, DataQuality: 0.9})
	registry.Register(models.DataSource{Name: "sketchy", Reliability: 0.2, DataQuality: 0.3})
	r := NewResolver(testLogger(), registry)

	res, ok := r.ResolveFieldConflict("title", []FieldCandidate{
		{Value: "from sketchy", EventID: "a", Source: "sketchy"},
		{Value: "from trusted", EventID: "b", Source: "trusted"},
	}, models.ResolutionHighestQuality)

	require.True(t, ok)
	assert.Equal(t, "from trusted", res.Value)
	assert.InDelta(t, 0.935, res.Confidence, 1e-9)
}

func TestResolveFieldConflict_HighestQuality_UnregisteredSourceIsNeutral(t *testing.T) {
	registry := NewSourceRegistry()
	registry.Register(models.DataSource{Name: "trusted", Reliability: 0.95, DataQuality: 0.9})
	r := NewResolver(testLogger(), registry)

	res, ok := r.ResolveFieldConflict("title", []FieldCandidate{
		{Value: "from unknown", EventID: "a", Source: "unknown"},
		{Value: "from trusted", EventID: "b", Source: "trusted"},
	}, models.ResolutionHighestQuality)

	require.True(t, ok)
	assert.Equal(t, "from trusted", res.Value)
}

func TestResolveFieldConflict_MergeValues(t *testing.T) {
	r := newTestResolver()

	res, ok := r.ResolveFieldConflict("tags", []FieldCandidate{
		{Value: []any{"music", "jazz"}, EventID: "a"},
		{Value: []any{"jazz", "live"}, EventID: "b"},
	}, models.ResolutionMergeValues)

	require.True(t, ok)
	assert.ElementsMatch(t, []any{"music", "jazz", "live"}, res.Value)
	assert.Equal(t, "a", res.SourceEventID)
}

func TestResolveFieldConflict_MergeValues_ScalarsBecomeLists(t *testing.T) {
	r := newTestResolver()

	res, ok := r.ResolveFieldConflict("category", []FieldCandidate{
		{Value: "music", EventID: "a"},
		{Value: []any{"music", "nightlife"}, EventID: "b"},
	}, models.ResolutionMergeValues)

	require.True(t, ok)
	assert.ElementsMatch(t, []any{"music", "nightlife"}, res.Value)
}

func TestResolveFieldConflict_ManualReviewFlags(t *testing.T) {
	r := newTestResolver()

	res, ok := r.ResolveFieldConflict("title", []FieldCandidate{
		{Value: "one", EventID: "a"},
		{Value: "two", EventID: "b"},
	}, models.ResolutionManualReview)

	assert.False(t, ok)
	assert.Equal(t, models.ResolutionManualReview, res.Strategy)
	assert.Equal(t, "title", res.Field)
}

func TestResolveFieldConflict_UnknownStrategyFallsBack(t *testing.T) {
	r := newTestResolver()

	res, ok := r.ResolveFieldConflict("description", []FieldCandidate{
		{Value: "short", EventID: "a"},
		{Value: "much longer value", EventID: "b"},
	}, models.ResolutionStrategy("coin_flip"))

	require.True(t, ok)
	assert.Equal(t, "much longer value", res.Value)
}

func TestResolveFieldConflict_OrderIndependent(t *testing.T) {
	r := newTestResolver()

	forward := []FieldCandidate{
		{Value: "alpha", EventID: "a", UpdatedAt: earlier},
		{Value: "bravo", EventID: "b", UpdatedAt: later},
		{Value: "charlie", EventID: "c", UpdatedAt: earlier},
	}
	reversed := []FieldCandidate{forward[2], forward[1], forward[0]}

	for _, strategy := range []models.ResolutionStrategy{
		models.ResolutionLatestWins,
		models.ResolutionMostComplete,
		models.ResolutionHighestQuality,
	} {
		a, okA := r.ResolveFieldConflict("title", forward, strategy)
		b, okB := r.ResolveFieldConflict("title", reversed, strategy)
		assert.Equal(t, okA, okB, "strategy %s", strategy)
		assert.Equal(t, a, b, "strategy %s", strategy)
	}
}

func TestKnownStrategy(t *testing.T) {
	assert.True(t, KnownStrategy(models.ResolutionPrimaryWins))
	assert.True(t, KnownStrategy(models.ResolutionManualReview))
	assert.False(t, KnownStrategy("coin_flip"))
}

func TestSourceRegistry(t *testing.T) {
	registry := NewSourceRegistry()

	t.Run("unregistered source gets default trust", func(t *testing.T) {
		assert.Equal(t, defaultTrustScore, registry.TrustScore("nobody"))
	})

	t.Run("register and look up", func(t *testing.T) {
		registry.Register(models.DataSource{Name: "eventful", Reliability: 0.8, DataQuality: 0.6})
		source, ok := registry.Get("eventful")
		require.True(t, ok)
		assert.InDelta(t, 0.74, source.TrustScore(), 1e-9)
		assert.InDelta(t, 0.74, registry.TrustScore("eventful"), 1e-9)
	})

	t.Run("list is sorted by name", func(t *testing.T) {
		registry.Register(models.DataSource{Name: "allevents", Reliability: 0.5, DataQuality: 0.5})
		list := registry.List()
		require.Len(t, list, 2)
		assert.Equal(t, "allevents", list[0].Name)
		assert.Equal(t, "eventful", list[1].Name)
	})
}
