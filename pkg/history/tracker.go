// Package history keeps the append-only merge audit log and derives
// analytics from it.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/scenescout/meld/internal/tracing"
	"github.com/scenescout/meld/pkg/models"
)

// slowMergeFactor flags entries whose duration exceeds this multiple of the
// average in the audit report.
const slowMergeFactor = 5.0

// Tracker is an in-memory append-only merge history store. Entries are
// immutable after the append and ordered by a monotonic sequence.
type Tracker struct {
	logger ectologger.Logger

	mu      sync.RWMutex
	entries []models.MergeHistoryEntry
	byEvent map[string][]int
	seq     int64
}

// NewTracker creates an empty history tracker.
func NewTracker(logger ectologger.Logger) *Tracker {
	return &Tracker{
		logger:  logger,
		byEvent: make(map[string][]int),
	}
}

// RecordMerge appends an audit entry for an executed merge and returns its
// id. Never fails on valid input; snapshots are deep-copied via JSON so later
// caller mutations cannot reach the log.
func (t *Tracker) RecordMerge(ctx context.Context, decision *models.MergeDecision, before, after *models.EventRecord, actorID string, durationMs int64, qualityDelta float64) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "history.Tracker.RecordMerge")
	defer span.End()

	decisionJSON, err := json.Marshal(decision)
	if err != nil {
		return "", fmt.Errorf("snapshotting decision: %w", err)
	}
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return "", fmt.Errorf("snapshotting before event: %w", err)
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return "", fmt.Errorf("snapshotting after event: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	entry := models.MergeHistoryEntry{
		ID:                uuid.NewString(),
		Sequence:          t.seq,
		PrimaryEventID:    decision.PrimaryEventID,
		DuplicateEventIDs: append([]string(nil), decision.DuplicateEventIDs...),
		Decision:          decisionJSON,
		BeforeEvent:       beforeJSON,
		AfterEvent:        afterJSON,
		StrategyUsed:      string(decision.Strategy),
		ActorID:           actorID,
		DurationMs:        durationMs,
		QualityDelta:      qualityDelta,
		CreatedAt:         time.Now().UTC(),
	}

	idx := len(t.entries)
	t.entries = append(t.entries, entry)
	t.byEvent[entry.PrimaryEventID] = append(t.byEvent[entry.PrimaryEventID], idx)
	for _, id := range entry.DuplicateEventIDs {
		if id == entry.PrimaryEventID {
			continue
		}
		t.byEvent[id] = append(t.byEvent[id], idx)
	}

	t.logger.WithContext(ctx).WithFields(map[string]any{
		"history_id":       entry.ID,
		"sequence":         entry.Sequence,
		"primary_event_id": entry.PrimaryEventID,
	}).Debug("Recorded merge history entry")

	return entry.ID, nil
}

// GetEventHistory returns every entry where the event participated as
// primary or duplicate, oldest first.
func (t *Tracker) GetEventHistory(ctx context.Context, eventID string) []models.MergeHistoryEntry {
	_, span := tracing.StartSpan(ctx, "history.Tracker.GetEventHistory")
	defer span.End()

	t.mu.RLock()
	defer t.mu.RUnlock()

	indices := t.byEvent[eventID]
	out := make([]models.MergeHistoryEntry, len(indices))
	for i, idx := range indices {
		out[i] = t.entries[idx]
	}
	return out
}

// GetAnalytics aggregates stored entries. Read-only, no side effects.
func (t *Tracker) GetAnalytics(ctx context.Context, filter models.AnalyticsFilter) models.MergeAnalytics {
	_, span := tracing.StartSpan(ctx, "history.Tracker.GetAnalytics")
	defer span.End()

	t.mu.RLock()
	defer t.mu.RUnlock()

	analytics := models.MergeAnalytics{
		StrategyBreakdown: make(map[string]int),
	}

	var deltaSum, durationSum float64
	for _, entry := range t.entries {
		if !matchesFilter(entry, filter) {
			continue
		}
		analytics.MergeCount++
		analytics.StrategyBreakdown[entry.StrategyUsed]++
		deltaSum += entry.QualityDelta
		durationSum += float64(entry.DurationMs)
	}

	if analytics.MergeCount > 0 {
		analytics.AvgQualityDelta = deltaSum / float64(analytics.MergeCount)
		analytics.AvgDurationMs = durationSum / float64(analytics.MergeCount)
	}
	return analytics
}

// GenerateAuditReport combines analytics with flagged anomalies: merges that
// lowered record quality and merges that took unusually long.
func (t *Tracker) GenerateAuditReport(ctx context.Context) models.AuditReport {
	ctx, span := tracing.StartSpan(ctx, "history.Tracker.GenerateAuditReport")
	defer span.End()

	analytics := t.GetAnalytics(ctx, models.AnalyticsFilter{})

	t.mu.RLock()
	defer t.mu.RUnlock()

	report := models.AuditReport{
		GeneratedAt: time.Now().UTC(),
		Analytics:   analytics,
	}

	for _, entry := range t.entries {
		if entry.QualityDelta < 0 {
			report.Anomalies = append(report.Anomalies, models.AuditAnomaly{
				HistoryID: entry.ID,
				Type:      "negative_quality_delta",
				Detail:    fmt.Sprintf("merge of %s reduced quality by %.3f", entry.PrimaryEventID, -entry.QualityDelta),
			})
		}
		if analytics.MergeCount > 1 && analytics.AvgDurationMs > 0 &&
			float64(entry.DurationMs) > analytics.AvgDurationMs*slowMergeFactor {
			report.Anomalies = append(report.Anomalies, models.AuditAnomaly{
				HistoryID: entry.ID,
				Type:      "slow_merge",
				Detail:    fmt.Sprintf("merge took %dms against an average of %.0fms", entry.DurationMs, analytics.AvgDurationMs),
			})
		}
	}
	return report
}

// Len returns the number of stored entries.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func matchesFilter(entry models.MergeHistoryEntry, filter models.AnalyticsFilter) bool {
	if filter.From != nil && entry.CreatedAt.Before(*filter.From) {
		return false
	}
	if filter.To != nil && entry.CreatedAt.After(*filter.To) {
		return false
	}
	if filter.Strategy != "" && entry.StrategyUsed != filter.Strategy {
		return false
	}
	return true
}
