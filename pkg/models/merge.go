package models

import (
	"encoding/json"
	"time"
)

// ResolutionStrategy picks a winning value for one contested field.
type ResolutionStrategy string

const (
	// ResolutionPrimaryWins always keeps the designated primary event's value
	ResolutionPrimaryWins ResolutionStrategy = "primary_wins"
	// ResolutionLatestWins keeps the most recently updated source's value
	ResolutionLatestWins ResolutionStrategy = "latest_wins"
	// ResolutionMostComplete keeps the longest/most-populated value
	ResolutionMostComplete ResolutionStrategy = "most_complete"
	// ResolutionHighestQuality keeps the value from the most reliable registered source
	ResolutionHighestQuality ResolutionStrategy = "highest_quality"
	// ResolutionMergeValues unions array-like values instead of picking one
	ResolutionMergeValues ResolutionStrategy = "merge_values"
	// ResolutionManualReview flags the conflict; the caller must supply a value
	ResolutionManualReview ResolutionStrategy = "manual_review"
)

// MergeStrategyType is a global merge policy; each maps to default per-field
// resolution strategies.
type MergeStrategyType string

const (
	// MergeStrategyEnhancePrimary keeps the primary's values and fills its gaps
	MergeStrategyEnhancePrimary MergeStrategyType = "enhance_primary"
	// MergeStrategyKeepPrimary keeps the primary's values strictly
	MergeStrategyKeepPrimary MergeStrategyType = "keep_primary"
	// MergeStrategyMergeFields prefers the most complete value per field
	MergeStrategyMergeFields MergeStrategyType = "merge_fields"
	// MergeStrategyQualityBased prefers values from the most reliable source
	MergeStrategyQualityBased MergeStrategyType = "quality_based"
	// MergeStrategyTemporalPriority prefers the most recently updated value
	MergeStrategyTemporalPriority MergeStrategyType = "temporal_priority"
	// MergeStrategySourcePriority prefers values by registered source rank
	MergeStrategySourcePriority MergeStrategyType = "source_priority"
)

// DecisionStatus tracks a merge decision through its lifecycle.
// proposed -> validated -> executed | rejected, or proposed -> blocked when
// a manual_review field is unresolved. executed and rejected are terminal.
type DecisionStatus string

const (
	DecisionStatusProposed  DecisionStatus = "proposed"
	DecisionStatusValidated DecisionStatus = "validated"
	DecisionStatusBlocked   DecisionStatus = "blocked"
	DecisionStatusRejected  DecisionStatus = "rejected"
	DecisionStatusExecuted  DecisionStatus = "executed"
)

// FieldResolution records which value was chosen for a contested field,
// where it came from, and why.
type FieldResolution struct {
	Field         string             `json:"field"`
	Value         any                `json:"value"`
	SourceEventID string             `json:"source_event_id"`
	Strategy      ResolutionStrategy `json:"strategy"`
	Confidence    float64            `json:"confidence"`
	Reason        string             `json:"reason,omitempty"`
}

// MergeDecision is an executable instruction for folding duplicates into
// one canonical record. Immutable once executed.
type MergeDecision struct {
	ID                string                     `json:"id"`
	PrimaryEventID    string                     `json:"primary_event_id"`
	DuplicateEventIDs []string                   `json:"duplicate_event_ids"`
	Strategy          MergeStrategyType          `json:"strategy"`
	Resolutions       map[string]FieldResolution `json:"resolutions"`
	UnresolvedFields  []string                   `json:"unresolved_fields,omitempty"`
	Status            DecisionStatus             `json:"status"`
	CreatedAt         time.Time                  `json:"created_at"`
}

// ResolveManually supplies a value for a manual_review field, unblocking
// the decision once no unresolved fields remain.
func (d *MergeDecision) ResolveManually(field string, value any, actorID string) bool {
	remaining := make([]string, 0, len(d.UnresolvedFields))
	found := false
	for _, f := range d.UnresolvedFields {
		if f == field {
			found = true
			continue
		}
		remaining = append(remaining, f)
	}
	if !found {
		return false
	}
	d.UnresolvedFields = remaining
	d.Resolutions[field] = FieldResolution{
		Field:         field,
		Value:         value,
		SourceEventID: actorID,
		Strategy:      ResolutionManualReview,
		Confidence:    1.0,
		Reason:        "manually resolved",
	}
	if len(d.UnresolvedFields) == 0 && d.Status == DecisionStatusBlocked {
		d.Status = DecisionStatusProposed
	}
	return true
}

// ValidationResult reports merge decision validation. Validation failure is
// an expected outcome, not an error.
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
}

// MergeResult is the outcome of executing a merge decision.
type MergeResult struct {
	Success     bool         `json:"success"`
	MergedEvent *EventRecord `json:"merged_event,omitempty"`
	Error       string       `json:"error,omitempty"`
	HistoryID   string       `json:"history_id,omitempty"`
	DurationMs  int64        `json:"duration_ms"`
}

// MergeHistoryEntry is the immutable audit record of one executed merge.
type MergeHistoryEntry struct {
	ID                string          `json:"id" db:"id"`
	Sequence          int64           `json:"sequence" db:"sequence"`
	PrimaryEventID    string          `json:"primary_event_id" db:"primary_event_id"`
	DuplicateEventIDs []string        `json:"duplicate_event_ids"`
	Decision          json.RawMessage `json:"decision" db:"decision"`
	BeforeEvent       json.RawMessage `json:"before_event" db:"before_event"`
	AfterEvent        json.RawMessage `json:"after_event" db:"after_event"`
	StrategyUsed      string          `json:"strategy_used" db:"strategy_used"`
	ActorID           string          `json:"actor_id" db:"actor_id"`
	DurationMs        int64           `json:"duration_ms" db:"duration_ms"`
	QualityDelta      float64         `json:"quality_delta" db:"quality_delta"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
}

// AnalyticsFilter narrows merge analytics queries.
type AnalyticsFilter struct {
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
	Strategy string     `json:"strategy,omitempty"`
}

// MergeAnalytics aggregates stored history entries.
type MergeAnalytics struct {
	MergeCount        int            `json:"merge_count"`
	AvgQualityDelta   float64        `json:"avg_quality_delta"`
	AvgDurationMs     float64        `json:"avg_duration_ms"`
	StrategyBreakdown map[string]int `json:"strategy_breakdown"`
}

// AuditAnomaly flags a history entry worth human attention.
type AuditAnomaly struct {
	HistoryID string `json:"history_id"`
	Type      string `json:"type"`
	Detail    string `json:"detail"`
}

// AuditReport combines analytics with flagged anomalies.
type AuditReport struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Analytics   MergeAnalytics `json:"analytics"`
	Anomalies   []AuditAnomaly `json:"anomalies,omitempty"`
}

// BatchPerformance reports timing for a bulk dedup pass.
type BatchPerformance struct {
	ProcessingTimeMs int64 `json:"processing_time_ms"`
	ComparisonsRun   int64 `json:"comparisons_run"`
	CacheHits        int64 `json:"cache_hits"`
	ClustersFormed   int   `json:"clusters_formed"`
}

// BatchResult is the outcome of a bulk dedup pass.
type BatchResult struct {
	ProcessedCount  int              `json:"processed_count"`
	DuplicatesFound int              `json:"duplicates_found"`
	MergesCompleted int              `json:"merges_completed"`
	FlaggedReview   int              `json:"flagged_review"`
	FailedCount     int              `json:"failed_count"`
	Performance     BatchPerformance `json:"performance"`
}
