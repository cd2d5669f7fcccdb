package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenescout/meld/pkg/history"
	"github.com/scenescout/meld/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type noopRecorder struct{}

func (noopRecorder) RecordMerge(_ context.Context, _ *models.MergeDecision, _, _ *models.EventRecord, _ string, _ int64, _ float64) (string, error) {
	return "noop", nil
}

func newTestSystem(t *testing.T, mutate func(*Config)) (*System, *history.Tracker) {
	t.Helper()
	cfg := DefaultConfig()
	// Deterministic single-threaded batches unless a test opts back in.
	cfg.Performance.ParallelProcessing = false
	if mutate != nil {
		mutate(&cfg)
	}
	tracker := history.NewTracker(testLogger())
	system, err := NewSystem(testLogger(), cfg, nil, tracker)
	require.NoError(t, err)
	return system, tracker
}

var testStart = time.Date(2026, 6, 15, 20, 0, 0, 0, time.UTC)

func makeEvent(id, title, venue, city string, start time.Time) *models.EventRecord {
	return &models.EventRecord{
		ID:         id,
		Title:      title,
		VenueName:  venue,
		City:       city,
		StartTime:  start,
		Source:     "test",
		IngestedAt: testStart.Add(-24 * time.Hour),
		UpdatedAt:  testStart.Add(-24 * time.Hour),
	}
}

func TestCheckForDuplicates(t *testing.T) {
	system, _ := newTestSystem(t, nil)
	ctx := context.Background()

	target := makeEvent("t", "Jazz Night at The Blue Note", "Blue Note", "New York", testStart)
	dup := makeEvent("d", "Jazz Night at Blue Note", "The Blue Note Club", "New York", testStart)
	unrelated := makeEvent("u", "Pottery Workshop", "Craft Studio", "Boston", testStart.AddDate(0, 2, 0))

	result := system.CheckForDuplicates(ctx, target, []*models.EventRecord{dup, unrelated})
	assert.True(t, result.IsDuplicate)
	assert.Equal(t, []string{"d"}, result.DuplicateEventIDs)
	assert.Greater(t, result.Confidence, 0.8)
	assert.NotEmpty(t, result.PrimaryEventID)
}

func TestCheckForDuplicates_NoMatches(t *testing.T) {
	system, _ := newTestSystem(t, nil)

	target := makeEvent("t", "Jazz Night", "Blue Note", "New York", testStart)
	other := makeEvent("o", "Pottery Workshop", "Craft Studio", "Boston", testStart.AddDate(0, 2, 0))

	result := system.CheckForDuplicates(context.Background(), target, []*models.EventRecord{other})
	assert.False(t, result.IsDuplicate)
	assert.Empty(t, result.Matches)
	assert.Empty(t, result.PrimaryEventID)
}

func TestCheckForDuplicates_PrimaryIsHighestQuality(t *testing.T) {
	system, _ := newTestSystem(t, nil)

	target := makeEvent("t", "Jazz Night", "Blue Note", "New York", testStart)
	richer := makeEvent("r", "Jazz Night", "Blue Note", "New York", testStart)
	richer.Description = "A complete listing with venue and pricing details"
	richer.Address = "131 W 3rd St"
	richer.Coordinates = &models.Coordinates{Lat: 40.7306, Lng: -73.9352}
	richer.Category = "music"

	result := system.CheckForDuplicates(context.Background(), target, []*models.EventRecord{richer})
	require.True(t, result.IsDuplicate)
	assert.Equal(t, "r", result.PrimaryEventID)
}

func TestCheckForDuplicates_NotifiesListener(t *testing.T) {
	system, _ := newTestSystem(t, nil)

	var got []LifecycleEvent
	system.Subscribe(func(_ context.Context, event LifecycleEvent) {
		got = append(got, event)
	})

	target := makeEvent("t", "Jazz Night", "Blue Note", "New York", testStart)
	dup := makeEvent("d", "Jazz Night", "Blue Note", "New York", testStart)
	system.CheckForDuplicates(context.Background(), target, []*models.EventRecord{dup})

	require.Len(t, got, 1)
	assert.Equal(t, EventDuplicateFlagged, got[0].Type)
	assert.Equal(t, "t", got[0].EventID)
	require.NotNil(t, got[0].Match)
	assert.Equal(t, "d", got[0].Match.CandidateEventID)
}

func TestExecuteMerge_FullLifecycle(t *testing.T) {
	system, tracker := newTestSystem(t, nil)
	ctx := context.Background()

	primary := makeEvent("p", "Jazz Night", "Blue Note", "New York", testStart)
	dup := makeEvent("d", "Jazz Night", "", "New York", testStart)
	dup.Description = "An evening of live jazz"
	system.events.load([]*models.EventRecord{primary, dup})

	decision, err := system.CreateMergeDecision(ctx, primary, []*models.EventRecord{dup}, "")
	require.NoError(t, err)
	assert.Equal(t, models.MergeStrategyEnhancePrimary, decision.Strategy)

	validation := system.ValidateMergeDecision(ctx, decision)
	require.True(t, validation.IsValid)

	result := system.ExecuteMerge(ctx, decision, "tester")
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, "An evening of live jazz", result.MergedEvent.Description)
	assert.Equal(t, 1, tracker.Len())

	// The consumed duplicate cannot be merged again.
	_, err = system.events.Get(ctx, "d")
	assert.ErrorContains(t, err, "consumed by a prior merge")

	repeat := system.ExecuteMerge(ctx, decision, "tester")
	assert.False(t, repeat.Success)
}

func TestExecuteMerge_NotifiesListeners(t *testing.T) {
	system, _ := newTestSystem(t, nil)
	ctx := context.Background()

	var types []string
	system.Subscribe(func(_ context.Context, event LifecycleEvent) {
		types = append(types, event.Type)
	})

	primary := makeEvent("p", "Jazz Night", "Blue Note", "New York", testStart)
	dup := makeEvent("d", "Jazz Night", "Blue Note", "New York", testStart)
	system.events.load([]*models.EventRecord{primary, dup})

	decision, err := system.CreateMergeDecision(ctx, primary, []*models.EventRecord{dup}, "")
	require.NoError(t, err)
	system.ExecuteMerge(ctx, decision, "tester")

	assert.Contains(t, types, EventMergeExecuted)
}

func TestBatchProcessEvents_UnknownMode(t *testing.T) {
	system, _ := newTestSystem(t, nil)
	_, err := system.BatchProcessEvents(context.Background(), nil, "turbo")
	assert.Error(t, err)
}

func TestBatchProcessEvents_AutoMergesCleanDuplicates(t *testing.T) {
	system, tracker := newTestSystem(t, nil)

	// Identical events with coordinates and prices, so no risk factors block
	// the auto-merge.
	a := makeEvent("a", "Jazz Night", "Blue Note", "New York", testStart)
	a.Coordinates = &models.Coordinates{Lat: 40.7306, Lng: -73.9352}
	a.IsFree = true
	b := makeEvent("b", "Jazz Night", "Blue Note", "New York", testStart)
	b.Coordinates = &models.Coordinates{Lat: 40.7306, Lng: -73.9352}
	b.IsFree = true

	result, err := system.BatchProcessEvents(context.Background(), []*models.EventRecord{a, b}, ModeBatch)
	require.NoError(t, err)

	assert.Equal(t, 2, result.ProcessedCount)
	assert.Equal(t, 1, result.MergesCompleted)
	assert.Equal(t, 0, result.FailedCount)
	assert.Equal(t, 1, tracker.Len())
	assert.Greater(t, result.Performance.ClustersFormed, 0)
}

func TestBatchProcessEvents_ReviewBandIsFlaggedNotMerged(t *testing.T) {
	var reviews []models.Match
	system, tracker := newTestSystem(t, nil)
	system.Subscribe(func(_ context.Context, event LifecycleEvent) {
		if event.Type == EventReviewRequired {
			reviews = append(reviews, *event.Match)
		}
	})

	// Similar but not identical: passes the match threshold while staying
	// under the auto-merge bar (missing coordinates is also a risk factor).
	a := makeEvent("a", "Jazz Night at The Blue Note", "Blue Note", "New York", testStart)
	b := makeEvent("b", "Jazz Nite at Blue Note", "The Blue Note Club", "New York", testStart.Add(26*time.Hour))

	result, err := system.BatchProcessEvents(context.Background(), []*models.EventRecord{a, b}, ModeBatch)
	require.NoError(t, err)

	assert.Equal(t, 0, result.MergesCompleted)
	assert.Greater(t, result.FlaggedReview, 0)
	assert.Equal(t, 0, tracker.Len())
	assert.NotEmpty(t, reviews)
}

func TestExecuteMerge_IdentityMergeReturnsUnchanged(t *testing.T) {
	system, tracker := newTestSystem(t, nil)
	ctx := context.Background()

	primary := makeEvent("p", "Jazz Night", "Blue Note", "New York", testStart)
	system.events.load([]*models.EventRecord{primary})

	decision, err := system.CreateMergeDecision(ctx, primary, nil, "")
	require.NoError(t, err)
	assert.Empty(t, decision.DuplicateEventIDs)

	result := system.ExecuteMerge(ctx, decision, "tester")
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, "Jazz Night", result.MergedEvent.Title)
	assert.Empty(t, result.MergedEvent.MergedFrom)
	assert.Nil(t, result.MergedEvent.MergedAt)
	assert.Equal(t, 1, tracker.Len())

	// The primary was not consumed.
	_, err = system.events.Get(ctx, "p")
	assert.NoError(t, err)
}

func TestBatchProcessEvents_QualityFloorBlocksAutoMerge(t *testing.T) {
	system, tracker := newTestSystem(t, func(cfg *Config) {
		cfg.Quality.MinimumQualityScore = 1.0
	})

	// A clean pair that would otherwise auto-merge; neither record is
	// complete enough to clear the floor.
	a := makeEvent("a", "Jazz Night", "Blue Note", "New York", testStart)
	a.Coordinates = &models.Coordinates{Lat: 40.7306, Lng: -73.9352}
	a.IsFree = true
	b := makeEvent("b", "Jazz Night", "Blue Note", "New York", testStart)
	b.Coordinates = &models.Coordinates{Lat: 40.7306, Lng: -73.9352}
	b.IsFree = true

	result, err := system.BatchProcessEvents(context.Background(), []*models.EventRecord{a, b}, ModeBatch)
	require.NoError(t, err)
	assert.Equal(t, 0, result.MergesCompleted)
	assert.Greater(t, result.FlaggedReview, 0)
	assert.Equal(t, 0, tracker.Len())
}

func TestBatchProcessEvents_BandAutoMergesWhenReviewDisabled(t *testing.T) {
	bandPair := func() []*models.EventRecord {
		// Same venue, coordinates, date and price tier; titles similar enough
		// to match but not enough to clear the auto-merge threshold.
		a := makeEvent("a", "Jazz Night", "Blue Note", "New York", testStart)
		a.Coordinates = &models.Coordinates{Lat: 40.7306, Lng: -73.9352}
		a.IsFree = true
		b := makeEvent("b", "Jazz Night Live Session", "Blue Note", "New York", testStart)
		b.Coordinates = &models.Coordinates{Lat: 40.7306, Lng: -73.9352}
		b.IsFree = true
		return []*models.EventRecord{a, b}
	}

	t.Run("review required keeps the band flagged", func(t *testing.T) {
		system, tracker := newTestSystem(t, nil)
		result, err := system.BatchProcessEvents(context.Background(), bandPair(), ModeBatch)
		require.NoError(t, err)
		assert.Equal(t, 0, result.MergesCompleted)
		assert.Greater(t, result.FlaggedReview, 0)
		assert.Equal(t, 0, tracker.Len())
	})

	t.Run("review disabled lets the band merge with a risk marker", func(t *testing.T) {
		system, tracker := newTestSystem(t, func(cfg *Config) {
			cfg.Quality.RequireManualReview = false
		})
		var flagged []models.Match
		system.Subscribe(func(_ context.Context, event LifecycleEvent) {
			if event.Type == EventDuplicateFlagged {
				flagged = append(flagged, *event.Match)
			}
		})

		result, err := system.BatchProcessEvents(context.Background(), bandPair(), ModeBatch)
		require.NoError(t, err)
		assert.Equal(t, 1, result.MergesCompleted)
		assert.Equal(t, 1, tracker.Len())
		require.NotEmpty(t, flagged)
		assert.Contains(t, flagged[0].RiskFactors, "low_confidence_auto_merge")
	})
}

func TestBatchProcessEvents_AutoMergeDisabled(t *testing.T) {
	system, tracker := newTestSystem(t, func(cfg *Config) {
		cfg.Quality.AutoMergeEnabled = false
	})

	a := makeEvent("a", "Jazz Night", "Blue Note", "New York", testStart)
	a.Coordinates = &models.Coordinates{Lat: 40.7306, Lng: -73.9352}
	a.IsFree = true
	b := makeEvent("b", "Jazz Night", "Blue Note", "New York", testStart)
	b.Coordinates = &models.Coordinates{Lat: 40.7306, Lng: -73.9352}
	b.IsFree = true

	result, err := system.BatchProcessEvents(context.Background(), []*models.EventRecord{a, b}, ModeBatch)
	require.NoError(t, err)
	assert.Equal(t, 0, result.MergesCompleted)
	assert.Greater(t, result.FlaggedReview, 0)
	assert.Equal(t, 0, tracker.Len())
}

func TestBatchProcessEvents_FullScanMatchesBatchOutcome(t *testing.T) {
	events := func() []*models.EventRecord {
		a := makeEvent("a", "Jazz Night", "Blue Note", "New York", testStart)
		a.Coordinates = &models.Coordinates{Lat: 40.7306, Lng: -73.9352}
		a.IsFree = true
		b := makeEvent("b", "Jazz Night", "Blue Note", "New York", testStart)
		b.Coordinates = &models.Coordinates{Lat: 40.7306, Lng: -73.9352}
		b.IsFree = true
		c := makeEvent("c", "Pottery Workshop", "Craft Studio", "Boston", testStart.AddDate(0, 1, 0))
		return []*models.EventRecord{a, b, c}
	}

	batchSystem, _ := newTestSystem(t, nil)
	batchResult, err := batchSystem.BatchProcessEvents(context.Background(), events(), ModeBatch)
	require.NoError(t, err)

	scanSystem, _ := newTestSystem(t, nil)
	scanResult, err := scanSystem.BatchProcessEvents(context.Background(), events(), ModeFullScan)
	require.NoError(t, err)

	assert.Equal(t, scanResult.MergesCompleted, batchResult.MergesCompleted)
	assert.Equal(t, scanResult.DuplicatesFound, batchResult.DuplicatesFound)
	// The cluster index skips cross-city comparisons.
	assert.LessOrEqual(t, batchResult.Performance.ComparisonsRun, scanResult.Performance.ComparisonsRun)
}

func TestBatchProcessEvents_ParallelWorkers(t *testing.T) {
	system, _ := newTestSystem(t, func(cfg *Config) {
		cfg.Performance.ParallelProcessing = true
		cfg.Performance.WorkerCount = 4
	})

	events := make([]*models.EventRecord, 0, 20)
	for i := 0; i < 20; i++ {
		id := string(rune('a' + i))
		e := makeEvent(id, "Event "+id, "Venue "+id, "City "+id, testStart.AddDate(0, 0, i))
		events = append(events, e)
	}

	result, err := system.BatchProcessEvents(context.Background(), events, ModeBatch)
	require.NoError(t, err)
	assert.Equal(t, 20, result.ProcessedCount)
	assert.Equal(t, 0, result.MergesCompleted)
}

func TestRegisterDataSource(t *testing.T) {
	system, _ := newTestSystem(t, nil)
	assert.Empty(t, system.Sources())

	system.RegisterDataSource(models.DataSource{Name: "ticketbase", Reliability: 0.9, DataQuality: 0.8})
	sources := system.Sources()
	require.Len(t, sources, 1)
	assert.Equal(t, "ticketbase", sources[0].Name)
}

func TestGetPerformanceMetrics(t *testing.T) {
	system, _ := newTestSystem(t, nil)

	target := makeEvent("t", "Jazz Night", "Blue Note", "New York", testStart)
	dup := makeEvent("d", "Jazz Night", "Blue Note", "New York", testStart)
	system.CheckForDuplicates(context.Background(), target, []*models.EventRecord{dup})
	system.CheckForDuplicates(context.Background(), target, []*models.EventRecord{dup})

	metrics := system.GetPerformanceMetrics()
	assert.Greater(t, metrics.Comparisons+metrics.CacheHits, int64(0))
	assert.Greater(t, metrics.CacheHits, int64(0))
	assert.True(t, metrics.CachingEnabled)
}

func TestHealthCheck(t *testing.T) {
	t.Run("defaults are ok", func(t *testing.T) {
		system, _ := newTestSystem(t, nil)
		health := system.HealthCheck(context.Background())
		assert.Equal(t, "ok", health.Status)
		assert.Equal(t, "ok", health.Components["score_cache"])
	})

	t.Run("caching disabled yields recommendation", func(t *testing.T) {
		system, _ := newTestSystem(t, func(cfg *Config) {
			cfg.Performance.EnableCaching = false
		})
		health := system.HealthCheck(context.Background())
		assert.Equal(t, "disabled", health.Components["score_cache"])
		assert.NotEmpty(t, health.Recommendations)
	})

	t.Run("quality strategy without sources warns", func(t *testing.T) {
		system, _ := newTestSystem(t, func(cfg *Config) {
			cfg.Quality.DefaultStrategy = models.MergeStrategyQualityBased
		})
		health := system.HealthCheck(context.Background())
		assert.Equal(t, "warning", health.Status)
		assert.Equal(t, "empty", health.Components["source_registry"])
	})
}

func TestChoosePrimary(t *testing.T) {
	rich := makeEvent("rich", "Jazz Night", "Blue Note", "New York", testStart)
	rich.Description = "full description"
	rich.Coordinates = &models.Coordinates{Lat: 40.7, Lng: -73.9}
	poor := makeEvent("poor", "Jazz Night", "", "", time.Time{})

	t.Run("quality wins", func(t *testing.T) {
		assert.Equal(t, "rich", choosePrimary([]*models.EventRecord{poor, rich}).ID)
	})

	t.Run("earlier ingestion breaks quality ties", func(t *testing.T) {
		older := makeEvent("older", "Jazz Night", "Blue Note", "New York", testStart)
		older.IngestedAt = testStart.Add(-48 * time.Hour)
		newer := makeEvent("newer", "Jazz Night", "Blue Note", "New York", testStart)
		assert.Equal(t, "older", choosePrimary([]*models.EventRecord{newer, older}).ID)
	})

	t.Run("id breaks full ties", func(t *testing.T) {
		a := makeEvent("aaa", "Jazz Night", "Blue Note", "New York", testStart)
		b := makeEvent("bbb", "Jazz Night", "Blue Note", "New York", testStart)
		assert.Equal(t, "aaa", choosePrimary([]*models.EventRecord{b, a}).ID)
	})
}
