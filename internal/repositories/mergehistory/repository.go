// Package mergehistory persists the append-only merge audit log.
package mergehistory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/scenescout/meld/internal/database"
	"github.com/scenescout/meld/internal/tracing"
	"github.com/scenescout/meld/pkg/models"
)

const slowMergeFactor = 5.0

var historyColumns = []string{
	"id", "sequence", "primary_event_id", "duplicate_event_ids", "decision",
	"before_event", "after_event", "strategy_used", "actor_id",
	"duration_ms", "quality_delta", "created_at",
}

// Repository handles merge history persistence. Rows are insert-only; there
// is no update or delete path.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new merge history repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// RecordMerge appends an audit entry and returns its id. The sequence column
// is assigned by the database, keeping ordering monotonic across instances.
func (r *Repository) RecordMerge(ctx context.Context, decision *models.MergeDecision, before, after *models.EventRecord, actorID string, durationMs int64, qualityDelta float64) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "mergehistory.Repository.RecordMerge")
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
	duplicateIDs, err := json.Marshal(decision.DuplicateEventIDs)
	if err != nil {
		return "", fmt.Errorf("encoding duplicate ids: %w", err)
	}

	id := uuid.NewString()
	query := `
		INSERT INTO merge_history (id, primary_event_id, duplicate_event_ids, decision, before_event, after_event, strategy_used, actor_id, duration_ms, quality_delta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	if _, err := r.db.ExecContext(ctx, query, id, decision.PrimaryEventID, duplicateIDs, decisionJSON, beforeJSON, afterJSON, string(decision.Strategy), actorID, durationMs, qualityDelta, time.Now().UTC()); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"decision_id": decision.ID}).Error("Failed to record merge history")
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to record merge history")
	}

	return id, nil
}

// GetEventHistory returns every entry where the event participated as
// primary or duplicate, oldest first.
func (r *Repository) GetEventHistory(ctx context.Context, eventID string) ([]models.MergeHistoryEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "mergehistory.Repository.GetEventHistory")
	defer span.End()

	query := `
		SELECT id, sequence, primary_event_id, duplicate_event_ids, decision, before_event, after_event, strategy_used, actor_id, duration_ms, quality_delta, created_at
		FROM merge_history
		WHERE primary_event_id = $1 OR duplicate_event_ids @> to_jsonb($1::text)
		ORDER BY sequence ASC
	`

	var rows []historyRow
	if err := r.db.SelectContext(ctx, &rows, query, eventID); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get event merge history")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get event merge history")
	}

	return rowsToModels(rows)
}

// GetAnalytics aggregates stored entries under the given filter.
func (r *Repository) GetAnalytics(ctx context.Context, filter models.AnalyticsFilter) (models.MergeAnalytics, error) {
	ctx, span := tracing.StartSpan(ctx, "mergehistory.Repository.GetAnalytics")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("strategy_used", "COUNT(*) AS merge_count", "AVG(quality_delta) AS avg_quality_delta", "AVG(duration_ms) AS avg_duration_ms")
	sb.From("merge_history")
	where := make([]string, 0, 3)
	if filter.From != nil {
		where = append(where, sb.GreaterEqualThan("created_at", *filter.From))
	}
	if filter.To != nil {
		where = append(where, sb.LessEqualThan("created_at", *filter.To))
	}
	if filter.Strategy != "" {
		where = append(where, sb.Equal("strategy_used", filter.Strategy))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.GroupBy("strategy_used")

	query, args := sb.Build()
	var rows []struct {
		StrategyUsed    string  `db:"strategy_used"`
		MergeCount      int     `db:"merge_count"`
		AvgQualityDelta float64 `db:"avg_quality_delta"`
		AvgDurationMs   float64 `db:"avg_duration_ms"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get merge analytics")
		return models.MergeAnalytics{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get merge analytics")
	}

	analytics := models.MergeAnalytics{StrategyBreakdown: make(map[string]int)}
	var deltaSum, durationSum float64
	for _, row := range rows {
		analytics.MergeCount += row.MergeCount
		analytics.StrategyBreakdown[row.StrategyUsed] = row.MergeCount
		deltaSum += row.AvgQualityDelta * float64(row.MergeCount)
		durationSum += row.AvgDurationMs * float64(row.MergeCount)
	}
	if analytics.MergeCount > 0 {
		analytics.AvgQualityDelta = deltaSum / float64(analytics.MergeCount)
		analytics.AvgDurationMs = durationSum / float64(analytics.MergeCount)
	}
	return analytics, nil
}

// GenerateAuditReport combines analytics with flagged anomalies.
func (r *Repository) GenerateAuditReport(ctx context.Context) (models.AuditReport, error) {
	ctx, span := tracing.StartSpan(ctx, "mergehistory.Repository.GenerateAuditReport")
	defer span.End()

	analytics, err := r.GetAnalytics(ctx, models.AnalyticsFilter{})
	if err != nil {
		return models.AuditReport{}, err
	}

	report := models.AuditReport{
		GeneratedAt: time.Now().UTC(),
		Analytics:   analytics,
	}

	var anomalyRows []struct {
		ID             string  `db:"id"`
		PrimaryEventID string  `db:"primary_event_id"`
		DurationMs     int64   `db:"duration_ms"`
		QualityDelta   float64 `db:"quality_delta"`
	}
	query := `
		SELECT id, primary_event_id, duration_ms, quality_delta
		FROM merge_history
		WHERE quality_delta < 0 OR duration_ms > $1
		ORDER BY sequence ASC
	`
	slowThreshold := int64(analytics.AvgDurationMs * slowMergeFactor)
	if analytics.MergeCount < 2 {
		slowThreshold = int64(^uint64(0) >> 1)
	}
	if err := r.db.SelectContext(ctx, &anomalyRows, query, slowThreshold); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to query merge anomalies")
		return models.AuditReport{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to generate audit report")
	}

	for _, row := range anomalyRows {
		if row.QualityDelta < 0 {
			report.Anomalies = append(report.Anomalies, models.AuditAnomaly{
				HistoryID: row.ID,
				Type:      "negative_quality_delta",
				Detail:    fmt.Sprintf("merge of %s reduced quality by %.3f", row.PrimaryEventID, -row.QualityDelta),
			})
		}
		if row.DurationMs > slowThreshold {
			report.Anomalies = append(report.Anomalies, models.AuditAnomaly{
				HistoryID: row.ID,
				Type:      "slow_merge",
				Detail:    fmt.Sprintf("merge took %dms against an average of %.0fms", row.DurationMs, analytics.AvgDurationMs),
			})
		}
	}
	return report, nil
}

type historyRow struct {
	ID                string          `db:"id"`
	Sequence          int64           `db:"sequence"`
	PrimaryEventID    string          `db:"primary_event_id"`
	DuplicateEventIDs []byte          `db:"duplicate_event_ids"`
	Decision          json.RawMessage `db:"decision"`
	BeforeEvent       json.RawMessage `db:"before_event"`
	AfterEvent        json.RawMessage `db:"after_event"`
	StrategyUsed      string          `db:"strategy_used"`
	ActorID           string          `db:"actor_id"`
	DurationMs        int64           `db:"duration_ms"`
	QualityDelta      float64         `db:"quality_delta"`
	CreatedAt         time.Time       `db:"created_at"`
}

func rowsToModels(rows []historyRow) ([]models.MergeHistoryEntry, error) {
	entries := make([]models.MergeHistoryEntry, 0, len(rows))
	for _, row := range rows {
		entry := models.MergeHistoryEntry{
			ID:             row.ID,
			Sequence:       row.Sequence,
			PrimaryEventID: row.PrimaryEventID,
			Decision:       row.Decision,
			BeforeEvent:    row.BeforeEvent,
			AfterEvent:     row.AfterEvent,
			StrategyUsed:   row.StrategyUsed,
			ActorID:        row.ActorID,
			DurationMs:     row.DurationMs,
			QualityDelta:   row.QualityDelta,
			CreatedAt:      row.CreatedAt,
		}
		if len(row.DuplicateEventIDs) > 0 {
			if err := json.Unmarshal(row.DuplicateEventIDs, &entry.DuplicateEventIDs); err != nil {
				return nil, fmt.Errorf("decoding duplicate ids for entry %s: %w", row.ID, err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
