// Package events publishes dedup lifecycle changes to the output topic.
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/scenescout/meld/internal/tracing"
	"github.com/scenescout/meld/pkg/dedup"
	"github.com/scenescout/meld/pkg/kafka"
	"github.com/scenescout/meld/pkg/models"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

// Emitter translates dedup outcomes into Kafka events.
type Emitter struct {
	producer    *kafka.Producer
	logger      ectologger.Logger
	reviewQueue bool
}

// NewEmitter creates a new event emitter. reviewQueueEnabled controls whether
// review.required events reach the output topic; flagged matches stay
// queryable through the API either way.
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger, reviewQueueEnabled bool) *Emitter {
	return &Emitter{
		producer:    producer,
		logger:      logger,
		reviewQueue: reviewQueueEnabled,
	}
}

// EmitEventMerged emits the canonical record produced by an executed merge.
func (e *Emitter) EmitEventMerged(ctx context.Context, decision *models.MergeDecision, result *models.MergeResult) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitEventMerged")
	defer span.End()

	data, err := json.Marshal(result.MergedEvent)
	if err != nil {
		return err
	}

	event := &kafka.DedupEvent{
		EventType:         "event.merged",
		EventID:           decision.PrimaryEventID,
		PrimaryEventID:    decision.PrimaryEventID,
		DuplicateEventIDs: decision.DuplicateEventIDs,
		HistoryID:         result.HistoryID,
		Data:              data,
	}

	if err := e.producer.PublishDedupEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit event.merged")
		return err
	}
	return nil
}

// EmitDuplicateFlagged emits a detected duplicate pair.
func (e *Emitter) EmitDuplicateFlagged(ctx context.Context, match *models.Match) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitDuplicateFlagged")
	defer span.End()

	event := &kafka.DedupEvent{
		EventType:         "duplicate.flagged",
		EventID:           match.TargetEventID,
		DuplicateEventIDs: []string{match.CandidateEventID},
		Confidence:        match.Confidence,
	}

	if err := e.producer.PublishDedupEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit duplicate.flagged")
		return err
	}
	return nil
}

// EmitReviewRequired emits a match held for manual review. A no-op when the
// review queue is disabled.
func (e *Emitter) EmitReviewRequired(ctx context.Context, match *models.Match) error {
	if !e.reviewQueue {
		return nil
	}

	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitReviewRequired")
	defer span.End()

	event := &kafka.DedupEvent{
		EventType:         "review.required",
		EventID:           match.TargetEventID,
		DuplicateEventIDs: []string{match.CandidateEventID},
		Confidence:        match.Confidence,
	}

	if err := e.producer.PublishDedupEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit review.required")
		return err
	}
	return nil
}

// EmitMergeFailed emits a failed merge attempt for operations visibility.
func (e *Emitter) EmitMergeFailed(ctx context.Context, decision *models.MergeDecision, result *models.MergeResult) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitMergeFailed")
	defer span.End()

	event := &kafka.DedupEvent{
		EventType:         "merge.failed",
		EventID:           decision.PrimaryEventID,
		PrimaryEventID:    decision.PrimaryEventID,
		DuplicateEventIDs: decision.DuplicateEventIDs,
	}

	if err := e.producer.PublishDedupEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit merge.failed")
		return err
	}
	return nil
}

// Listener bridges dedup lifecycle callbacks onto the output topic. Publish
// failures are logged, not propagated; emission never blocks a merge.
func (e *Emitter) Listener() dedup.Listener {
	return func(ctx context.Context, event dedup.LifecycleEvent) {
		switch event.Type {
		case dedup.EventMergeExecuted:
			_ = e.EmitEventMerged(ctx, event.Decision, event.Result)
		case dedup.EventMergeFailed:
			if event.Decision != nil {
				_ = e.EmitMergeFailed(ctx, event.Decision, event.Result)
			}
		case dedup.EventReviewRequired:
			if event.Match != nil {
				_ = e.EmitReviewRequired(ctx, event.Match)
			}
		case dedup.EventDuplicateFlagged:
			if event.Match != nil {
				_ = e.EmitDuplicateFlagged(ctx, event.Match)
			}
		}
	}
}
