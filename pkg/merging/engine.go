// Package merging builds merge decisions from duplicate event sets and
// executes them into canonical records.
package merging

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/scenescout/meld/internal/tracing"
	"github.com/scenescout/meld/pkg/models"
	"github.com/scenescout/meld/pkg/resolution"
)

// EventGetter fetches event records by id. Execution reads through it to
// detect events consumed by a prior merge; it never writes.
type EventGetter interface {
	Get(ctx context.Context, id string) (*models.EventRecord, error)
}

// HistoryRecorder appends executed merges to the audit trail.
type HistoryRecorder interface {
	RecordMerge(ctx context.Context, decision *models.MergeDecision, before, after *models.EventRecord, actorID string, durationMs int64, qualityDelta float64) (string, error)
}

// Engine turns a primary event plus duplicates into an executable merge
// decision and applies it.
type Engine struct {
	logger         ectologger.Logger
	resolver       *resolution.Resolver
	events         EventGetter
	history        HistoryRecorder
	fieldOverrides map[string]models.ResolutionStrategy
}

// NewEngine creates a merge engine. fieldOverrides pins specific fields to a
// resolution strategy regardless of the global merge strategy; it may be nil.
func NewEngine(
	logger ectologger.Logger,
	resolver *resolution.Resolver,
	events EventGetter,
	history HistoryRecorder,
	fieldOverrides map[string]models.ResolutionStrategy,
) *Engine {
	return &Engine{
		logger:         logger,
		resolver:       resolver,
		events:         events,
		history:        history,
		fieldOverrides: fieldOverrides,
	}
}

// CreateMergeDecision resolves every contested field across the primary and
// its duplicates into a decision ready for validation. Fields carried by only
// one event transfer unconditionally, except under keep_primary, which never
// imports duplicate-only fields. An unresolved manual_review conflict leaves
// the decision blocked. An empty duplicates list yields an identity decision:
// every field traces to the primary and execution returns it unchanged.
func (e *Engine) CreateMergeDecision(ctx context.Context, primary *models.EventRecord, duplicates []*models.EventRecord, strategy models.MergeStrategyType) (*models.MergeDecision, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.CreateMergeDecision")
	defer span.End()

	if !KnownStrategy(strategy) {
		return nil, fmt.Errorf("unknown merge strategy %q", strategy)
	}
	if primary == nil {
		return nil, fmt.Errorf("primary event is required")
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"primary_event_id": primary.ID,
		"duplicate_count":  len(duplicates),
		"strategy":         string(strategy),
	})

	type participant struct {
		event  *models.EventRecord
		fields map[string]any
	}

	participants := make([]participant, 0, len(duplicates)+1)
	for _, event := range append([]*models.EventRecord{primary}, duplicates...) {
		fields, err := event.Fields()
		if err != nil {
			return nil, fmt.Errorf("extracting fields for event %s: %w", event.ID, err)
		}
		participants = append(participants, participant{event: event, fields: fields})
	}

	fieldNames := make(map[string]bool)
	for _, p := range participants {
		for name := range p.fields {
			fieldNames[name] = true
		}
	}
	sortedFields := make([]string, 0, len(fieldNames))
	for name := range fieldNames {
		sortedFields = append(sortedFields, name)
	}
	sort.Strings(sortedFields)

	decision := &models.MergeDecision{
		ID:             uuid.NewString(),
		PrimaryEventID: primary.ID,
		Strategy:       strategy,
		Resolutions:    make(map[string]models.FieldResolution),
		Status:         models.DecisionStatusProposed,
		CreatedAt:      time.Now().UTC(),
	}
	for _, dup := range duplicates {
		decision.DuplicateEventIDs = append(decision.DuplicateEventIDs, dup.ID)
	}

	for _, field := range sortedFields {
		candidates := make([]resolution.FieldCandidate, 0, len(participants))
		for _, p := range participants {
			value, ok := p.fields[field]
			if !ok || value == nil {
				continue
			}
			candidates = append(candidates, resolution.FieldCandidate{
				Value:     value,
				EventID:   p.event.ID,
				Source:    p.event.Source,
				UpdatedAt: p.event.UpdatedAt,
				IsPrimary: p.event.ID == primary.ID,
			})
		}
		if len(candidates) == 0 {
			continue
		}

		if len(candidates) == 1 && strategy == models.MergeStrategyKeepPrimary && !candidates[0].IsPrimary {
			continue
		}

		if agreed, res := agreement(field, candidates, primary.ID); agreed {
			decision.Resolutions[field] = res
			continue
		}

		res, resolved := e.resolver.ResolveFieldConflict(field, candidates, e.resolutionFor(field, strategy))
		if !resolved {
			decision.UnresolvedFields = append(decision.UnresolvedFields, field)
			continue
		}
		decision.Resolutions[field] = res
	}

	if len(decision.UnresolvedFields) > 0 {
		sort.Strings(decision.UnresolvedFields)
		decision.Status = models.DecisionStatusBlocked
	}

	log.WithFields(map[string]any{
		"decision_id":      decision.ID,
		"resolved_count":   len(decision.Resolutions),
		"unresolved_count": len(decision.UnresolvedFields),
		"status":           string(decision.Status),
	}).Debug("Created merge decision")

	return decision, nil
}

// agreement detects fields where every carrier holds the same value. The
// primary's copy is preferred for traceability.
func agreement(field string, candidates []resolution.FieldCandidate, primaryID string) (bool, models.FieldResolution) {
	first := fmt.Sprintf("%v", candidates[0].Value)
	for _, c := range candidates[1:] {
		if fmt.Sprintf("%v", c.Value) != first {
			return false, models.FieldResolution{}
		}
	}

	winner := candidates[0]
	for _, c := range candidates {
		if c.EventID == primaryID {
			winner = c
			break
		}
	}
	return true, models.FieldResolution{
		Field:         field,
		Value:         winner.Value,
		SourceEventID: winner.EventID,
		Confidence:    1.0,
		Reason:        "values agree",
	}
}

// ValidateMergeDecision checks decision invariants before execution. A valid
// proposed decision advances to validated; an invalid one is rejected.
// Blocked decisions stay blocked so manual resolution can still unblock them.
func (e *Engine) ValidateMergeDecision(ctx context.Context, decision *models.MergeDecision) models.ValidationResult {
	_, span := tracing.StartSpan(ctx, "merging.Engine.ValidateMergeDecision")
	defer span.End()

	var errs []string

	if decision.PrimaryEventID == "" {
		errs = append(errs, "primary event id is required")
	}

	seen := make(map[string]bool)
	for _, id := range decision.DuplicateEventIDs {
		if id == decision.PrimaryEventID {
			errs = append(errs, fmt.Sprintf("primary event %s also listed as duplicate", id))
		}
		if seen[id] {
			errs = append(errs, fmt.Sprintf("duplicate event %s listed more than once", id))
		}
		seen[id] = true
	}

	if len(decision.UnresolvedFields) > 0 {
		errs = append(errs, fmt.Sprintf("unresolved manual review fields: %s", strings.Join(decision.UnresolvedFields, ", ")))
	}

	participants := map[string]bool{decision.PrimaryEventID: true}
	for _, id := range decision.DuplicateEventIDs {
		participants[id] = true
	}
	for field, res := range decision.Resolutions {
		if !models.IsMergeableField(field) {
			errs = append(errs, fmt.Sprintf("field %q is not mergeable", field))
		}
		if res.Strategy == models.ResolutionManualReview {
			// Manually supplied values trace to the actor, not an event.
			continue
		}
		if !participants[res.SourceEventID] {
			errs = append(errs, fmt.Sprintf("field %q traces to event %s which is not part of this merge", field, res.SourceEventID))
		}
	}

	switch decision.Status {
	case models.DecisionStatusExecuted, models.DecisionStatusRejected:
		errs = append(errs, fmt.Sprintf("decision is already %s", decision.Status))
	}

	result := models.ValidationResult{IsValid: len(errs) == 0, Errors: errs}

	if result.IsValid && decision.Status == models.DecisionStatusProposed {
		decision.Status = models.DecisionStatusValidated
	}
	if !result.IsValid && decision.Status == models.DecisionStatusValidated {
		decision.Status = models.DecisionStatusRejected
	}
	return result
}

// ExecuteMerge applies a decision onto a fresh copy of the primary event and
// records the merge in history. All-or-nothing: any failure returns an
// unsuccessful result and no merged record. Caller-owned storage is never
// mutated here; the caller persists the returned record and supersedes the
// duplicates.
func (e *Engine) ExecuteMerge(ctx context.Context, decision *models.MergeDecision, actorID string) *models.MergeResult {
	ctx, span := tracing.StartSpan(ctx, "merging.Engine.ExecuteMerge")
	defer span.End()

	start := time.Now()
	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"decision_id":      decision.ID,
		"primary_event_id": decision.PrimaryEventID,
		"actor_id":         actorID,
	})

	fail := func(msg string) *models.MergeResult {
		log.WithFields(map[string]any{"error": msg}).Warn("Merge execution failed")
		return &models.MergeResult{
			Success:    false,
			Error:      msg,
			DurationMs: time.Since(start).Milliseconds(),
		}
	}

	if validation := e.ValidateMergeDecision(ctx, decision); !validation.IsValid {
		return fail("validation failed: " + strings.Join(validation.Errors, "; "))
	}

	primary, err := e.events.Get(ctx, decision.PrimaryEventID)
	if err != nil || primary == nil {
		return fail(fmt.Sprintf("primary event %s not found", decision.PrimaryEventID))
	}
	for _, id := range decision.DuplicateEventIDs {
		if _, err := e.events.Get(ctx, id); err != nil {
			return fail(fmt.Sprintf("duplicate event %s not found; it may have been consumed by a prior merge", id))
		}
	}

	before := primary.Clone()

	fields := make(map[string]any, len(decision.Resolutions))
	for name, res := range decision.Resolutions {
		fields[name] = res.Value
	}

	merged, err := primary.ApplyFields(fields)
	if err != nil {
		return fail(fmt.Sprintf("applying resolved fields: %v", err))
	}

	// An identity merge folds nothing in; the record comes back unchanged.
	if len(decision.DuplicateEventIDs) > 0 {
		now := time.Now().UTC()
		merged.MergedFrom = mergeIDs(primary.MergedFrom, decision.DuplicateEventIDs)
		merged.MergedAt = &now
		merged.UpdatedAt = now
	}

	qualityDelta := merged.QualityScore() - before.QualityScore()
	durationMs := time.Since(start).Milliseconds()

	historyID, err := e.history.RecordMerge(ctx, decision, before, merged, actorID, durationMs, qualityDelta)
	if err != nil {
		return fail(fmt.Sprintf("recording merge history: %v", err))
	}

	decision.Status = models.DecisionStatusExecuted

	log.WithFields(map[string]any{
		"history_id":    historyID,
		"quality_delta": qualityDelta,
		"duration_ms":   durationMs,
	}).Info("Merge executed")

	return &models.MergeResult{
		Success:     true,
		MergedEvent: merged,
		HistoryID:   historyID,
		DurationMs:  durationMs,
	}
}

func mergeIDs(existing, added []string) []string {
	seen := make(map[string]bool, len(existing)+len(added))
	out := make([]string, 0, len(existing)+len(added))
	for _, id := range append(append([]string{}, existing...), added...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
