// Package processor runs the ingestion pipeline: persist incoming events,
// check them for duplicates, fold in what qualifies and flag the rest.
package processor

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/scenescout/meld/internal/tracing"
	"github.com/scenescout/meld/pkg/dedup"
	"github.com/scenescout/meld/pkg/events"
	"github.com/scenescout/meld/pkg/kafka"
	"github.com/scenescout/meld/pkg/models"
)

// EventStore is the persistence surface the processor drives.
type EventStore interface {
	Upsert(ctx context.Context, event *models.EventRecord) (bool, error)
	Get(ctx context.Context, id string) (*models.EventRecord, error)
	ListCandidates(ctx context.Context, city string, from, to time.Time, limit int) ([]*models.EventRecord, error)
	MarkSuperseded(ctx context.Context, ids []string, primaryID string) error
}

// Projector mirrors canonical events into the graph. Optional.
type Projector interface {
	ProjectEvent(ctx context.Context, event *models.EventRecord) error
	RemoveEvents(ctx context.Context, ids []string) error
}

// candidatePoolLimit caps how many stored events one duplicate check loads.
const candidatePoolLimit = 1000

// Processor wires the consumer stream into the dedup system.
type Processor struct {
	logger    ectologger.Logger
	system    *dedup.System
	store     EventStore
	emitter   *events.Emitter
	projector Projector
}

// NewProcessor creates an ingestion processor. emitter and projector may be
// nil; the pipeline degrades to persistence plus matching.
func NewProcessor(logger ectologger.Logger, system *dedup.System, store EventStore, emitter *events.Emitter, projector Projector) *Processor {
	return &Processor{
		logger:    logger,
		system:    system,
		store:     store,
		emitter:   emitter,
		projector: projector,
	}
}

// HandleMessage is the Kafka consumer entry point. Malformed records are
// logged and dropped so one bad message never wedges the partition.
func (p *Processor) HandleMessage(ctx context.Context, msg *kafka.IncomingMessage) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.HandleMessage")
	defer span.End()

	event, err := msg.ParseEvent()
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"topic":  msg.Topic,
			"offset": msg.Offset,
		}).Warn("Dropping malformed event message")
		return nil
	}

	return p.ProcessEvent(ctx, event)
}

// ProcessEvent persists one event and runs it through duplicate detection.
// Qualifying matches merge unattended; the review band is flagged instead.
func (p *Processor) ProcessEvent(ctx context.Context, event *models.EventRecord) error {
	ctx, span := tracing.StartSpan(ctx, "processor.Processor.ProcessEvent")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_id": event.ID,
		"source":   event.Source,
	})

	changed, err := p.store.Upsert(ctx, event)
	if err != nil {
		return err
	}
	if !changed {
		log.Debug("Event content unchanged; skipping duplicate check")
		return nil
	}

	candidates, err := p.loadCandidates(ctx, event)
	if err != nil {
		return err
	}

	result := p.system.CheckForDuplicates(ctx, event, candidates)
	if !result.IsDuplicate {
		return p.project(ctx, event)
	}

	log = log.WithFields(map[string]any{
		"confidence":      result.Confidence,
		"duplicate_count": len(result.DuplicateEventIDs),
	})

	cfg := p.system.Config()
	if !cfg.Quality.AutoMergeEnabled || result.Confidence < cfg.Quality.AutoMergeThreshold || hasRiskFactors(result.Matches) {
		log.Info("Duplicate flagged for review")
		return p.flagForReview(ctx, result.Matches)
	}

	return p.autoMerge(ctx, event, result, candidates, log)
}

func (p *Processor) loadCandidates(ctx context.Context, event *models.EventRecord) ([]*models.EventRecord, error) {
	cfg := p.system.Config()
	horizon := time.Duration(cfg.Algorithms.DateHorizonDays) * 24 * time.Hour
	bucket := time.Duration(cfg.Algorithms.DateBucketHours) * time.Hour

	from := event.StartTime.Add(-(horizon + bucket))
	to := event.StartTime.Add(horizon + bucket)
	if event.StartTime.IsZero() {
		now := time.Now().UTC()
		from = now.Add(-horizon)
		to = now.Add(horizon * 2)
	}

	return p.store.ListCandidates(ctx, event.City, from, to, candidatePoolLimit)
}

func (p *Processor) autoMerge(ctx context.Context, event *models.EventRecord, result models.DuplicateCheckResult, candidates []*models.EventRecord, log ectologger.Logger) error {
	byID := make(map[string]*models.EventRecord, len(candidates)+1)
	byID[event.ID] = event
	for _, c := range candidates {
		byID[c.ID] = c
	}

	primary := byID[result.PrimaryEventID]
	if primary == nil {
		primary = event
	}
	if primary.QualityScore() < p.system.Config().Quality.MinimumQualityScore {
		log.Info("Surviving event below minimum quality; flagging for review")
		return p.flagForReview(ctx, result.Matches)
	}

	duplicates := make([]*models.EventRecord, 0, len(result.DuplicateEventIDs)+1)
	for _, id := range append(result.DuplicateEventIDs, event.ID) {
		if id == primary.ID {
			continue
		}
		if dup := byID[id]; dup != nil {
			duplicates = append(duplicates, dup)
		}
	}
	if len(duplicates) == 0 {
		return p.project(ctx, event)
	}

	decision, err := p.system.CreateMergeDecision(ctx, primary, duplicates, "")
	if err != nil {
		return err
	}
	if decision.Status == models.DecisionStatusBlocked {
		log.Info("Merge decision blocked; flagging for review")
		return p.flagForReview(ctx, result.Matches)
	}

	mergeResult := p.system.ExecuteMerge(ctx, decision, "system:processor")
	if !mergeResult.Success {
		log.WithFields(map[string]any{"error": mergeResult.Error}).Warn("Auto merge failed")
		return p.flagForReview(ctx, result.Matches)
	}

	if _, err := p.store.Upsert(ctx, mergeResult.MergedEvent); err != nil {
		return err
	}
	if err := p.store.MarkSuperseded(ctx, decision.DuplicateEventIDs, decision.PrimaryEventID); err != nil {
		return err
	}

	if p.projector != nil {
		if err := p.projector.RemoveEvents(ctx, decision.DuplicateEventIDs); err != nil {
			log.WithError(err).Warn("Failed to remove superseded events from graph")
		}
	}

	log.WithFields(map[string]any{
		"primary_event_id": decision.PrimaryEventID,
		"history_id":       mergeResult.HistoryID,
	}).Info("Auto merged duplicate events")

	return p.project(ctx, mergeResult.MergedEvent)
}

// hasRiskFactors reports whether any match carries a signal against
// unattended merging.
func hasRiskFactors(matches []models.Match) bool {
	for i := range matches {
		if len(matches[i].RiskFactors) > 0 {
			return true
		}
	}
	return false
}

// flagForReview emits review.required for each held match. Emission failures
// are logged only; the flagged matches remain queryable through the API.
func (p *Processor) flagForReview(ctx context.Context, matches []models.Match) error {
	if p.emitter == nil {
		return nil
	}
	for i := range matches {
		if err := p.emitter.EmitReviewRequired(ctx, &matches[i]); err != nil {
			p.logger.WithContext(ctx).WithError(err).Warn("Failed to emit review.required")
		}
	}
	return nil
}

func (p *Processor) project(ctx context.Context, event *models.EventRecord) error {
	if p.projector == nil {
		return nil
	}
	if err := p.projector.ProjectEvent(ctx, event); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_id": event.ID,
		}).Warn("Failed to project event to graph")
	}
	return nil
}
