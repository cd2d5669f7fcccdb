package history

import (
	"context"
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

func testDecision(primary string, duplicates []string, strategy models.MergeStrategyType) *models.MergeDecision {
	return &models.MergeDecision{
		ID:                "decision-" + primary,
		PrimaryEventID:    primary,
		DuplicateEventIDs: duplicates,
		Strategy:          strategy,
		Status:            models.DecisionStatusValidated,
	}
}

func record(t *testing.T, tracker *Tracker, primary string, duplicates []string, strategy models.MergeStrategyType, durationMs int64, delta float64) string {
	t.Helper()
	before := &models.EventRecord{ID: primary, Title: "before"}
	after := &models.EventRecord{ID: primary, Title: "after"}
	id, err := tracker.RecordMerge(context.Background(), testDecision(primary, duplicates, strategy), before, after, "tester", durationMs, delta)
	require.NoError(t, err)
	return id
}

func TestRecordMerge_SequenceIsMonotonic(t *testing.T) {
	tracker := NewTracker(testLogger())

	record(t, tracker, "a", []string{"b"}, models.MergeStrategyEnhancePrimary, 5, 0.1)
	record(t, tracker, "c", []string{"d"}, models.MergeStrategyEnhancePrimary, 5, 0.1)
	record(t, tracker, "e", []string{"f"}, models.MergeStrategyEnhancePrimary, 5, 0.1)

	assert.Equal(t, 3, tracker.Len())
	entriesA := tracker.GetEventHistory(context.Background(), "a")
	entriesE := tracker.GetEventHistory(context.Background(), "e")
	require.Len(t, entriesA, 1)
	require.Len(t, entriesE, 1)
	assert.Equal(t, int64(1), entriesA[0].Sequence)
	assert.Equal(t, int64(3), entriesE[0].Sequence)
}

func TestGetEventHistory_CoversPrimaryAndDuplicates(t *testing.T) {
	tracker := NewTracker(testLogger())

	record(t, tracker, "primary", []string{"dup1", "dup2"}, models.MergeStrategyEnhancePrimary, 5, 0.1)
	record(t, tracker, "primary", []string{"dup3"}, models.MergeStrategyMergeFields, 5, 0.1)

	assert.Len(t, tracker.GetEventHistory(context.Background(), "primary"), 2)
	assert.Len(t, tracker.GetEventHistory(context.Background(), "dup1"), 1)
	assert.Len(t, tracker.GetEventHistory(context.Background(), "dup3"), 1)
	assert.Empty(t, tracker.GetEventHistory(context.Background(), "unknown"))
}

func TestGetEventHistory_OldestFirst(t *testing.T) {
	tracker := NewTracker(testLogger())

	record(t, tracker, "primary", []string{"dup1"}, models.MergeStrategyEnhancePrimary, 5, 0.1)
	record(t, tracker, "primary", []string{"dup2"}, models.MergeStrategyEnhancePrimary, 5, 0.1)

	entries := tracker.GetEventHistory(context.Background(), "primary")
	require.Len(t, entries, 2)
	assert.Less(t, entries[0].Sequence, entries[1].Sequence)
}

func TestRecordMerge_SnapshotsAreImmutable(t *testing.T) {
	tracker := NewTracker(testLogger())

	decision := testDecision("a", []string{"b"}, models.MergeStrategyEnhancePrimary)
	before := &models.EventRecord{ID: "a", Title: "original"}
	after := &models.EventRecord{ID: "a", Title: "merged"}
	_, err := tracker.RecordMerge(context.Background(), decision, before, after, "tester", 5, 0.1)
	require.NoError(t, err)

	// Later caller mutations must not reach the stored snapshot.
	after.Title = "tampered"
	decision.PrimaryEventID = "z"

	entries := tracker.GetEventHistory(context.Background(), "a")
	require.Len(t, entries, 1)
	assert.Contains(t, string(entries[0].AfterEvent), "merged")
	assert.Equal(t, "a", entries[0].PrimaryEventID)
}

func TestGetAnalytics(t *testing.T) {
	tracker := NewTracker(testLogger())

	record(t, tracker, "a", []string{"b"}, models.MergeStrategyEnhancePrimary, 10, 0.2)
	record(t, tracker, "c", []string{"d"}, models.MergeStrategyEnhancePrimary, 20, 0.4)
	record(t, tracker, "e", []string{"f"}, models.MergeStrategyMergeFields, 30, -0.1)

	t.Run("unfiltered", func(t *testing.T) {
		analytics := tracker.GetAnalytics(context.Background(), models.AnalyticsFilter{})
		assert.Equal(t, 3, analytics.MergeCount)
		assert.InDelta(t, 20, analytics.AvgDurationMs, 1e-9)
		assert.InDelta(t, 0.5/3, analytics.AvgQualityDelta, 1e-9)
		assert.Equal(t, 2, analytics.StrategyBreakdown[string(models.MergeStrategyEnhancePrimary)])
		assert.Equal(t, 1, analytics.StrategyBreakdown[string(models.MergeStrategyMergeFields)])
	})

	t.Run("filtered by strategy", func(t *testing.T) {
		analytics := tracker.GetAnalytics(context.Background(), models.AnalyticsFilter{
			Strategy: string(models.MergeStrategyMergeFields),
		})
		assert.Equal(t, 1, analytics.MergeCount)
		assert.InDelta(t, 30, analytics.AvgDurationMs, 1e-9)
	})

	t.Run("filtered by time range excludes everything in the future", func(t *testing.T) {
		past := time.Now().Add(-time.Hour)
		analytics := tracker.GetAnalytics(context.Background(), models.AnalyticsFilter{To: &past})
		assert.Equal(t, 0, analytics.MergeCount)
	})

	t.Run("empty tracker", func(t *testing.T) {
		empty := NewTracker(testLogger())
		analytics := empty.GetAnalytics(context.Background(), models.AnalyticsFilter{})
		assert.Equal(t, 0, analytics.MergeCount)
		assert.Equal(t, 0.0, analytics.AvgDurationMs)
	})
}

func TestGenerateAuditReport(t *testing.T) {
	tracker := NewTracker(testLogger())

	for i := 0; i < 5; i++ {
		record(t, tracker, "a", []string{"b"}, models.MergeStrategyEnhancePrimary, 10, 0.2)
	}
	negativeID := record(t, tracker, "c", []string{"d"}, models.MergeStrategyEnhancePrimary, 10, -0.3)
	slowID := record(t, tracker, "e", []string{"f"}, models.MergeStrategyEnhancePrimary, 500, 0.1)

	report := tracker.GenerateAuditReport(context.Background())
	assert.Equal(t, 7, report.Analytics.MergeCount)

	types := make(map[string]string)
	for _, anomaly := range report.Anomalies {
		types[anomaly.Type] = anomaly.HistoryID
	}
	assert.Equal(t, negativeID, types["negative_quality_delta"])
	assert.Equal(t, slowID, types["slow_merge"])
}

func TestGenerateAuditReport_NoAnomalies(t *testing.T) {
	tracker := NewTracker(testLogger())
	record(t, tracker, "a", []string{"b"}, models.MergeStrategyEnhancePrimary, 10, 0.2)
	record(t, tracker, "c", []string{"d"}, models.MergeStrategyEnhancePrimary, 12, 0.1)

	report := tracker.GenerateAuditReport(context.Background())
	assert.Empty(t, report.Anomalies)
}
