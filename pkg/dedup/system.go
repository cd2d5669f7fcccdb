// Package dedup composes fingerprinting, matching, resolution, merging and
// history behind a single check/merge/report facade.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/scenescout/meld/internal/tracing"
	"github.com/scenescout/meld/pkg/fingerprint"
	"github.com/scenescout/meld/pkg/matching"
	"github.com/scenescout/meld/pkg/merging"
	"github.com/scenescout/meld/pkg/models"
	"github.com/scenescout/meld/pkg/resolution"
)

// Batch processing modes.
const (
	ModeBatch    = "batch"     // cluster pre-filter, score within buckets
	ModeFullScan = "full_scan" // score every pair
)

// Lifecycle event types emitted to registered listeners.
const (
	EventDuplicateFlagged = "duplicate.flagged"
	EventReviewRequired   = "review.required"
	EventMergeExecuted    = "merge.executed"
	EventMergeFailed      = "merge.failed"
)

// LifecycleEvent notifies listeners of dedup outcomes. Listeners run
// synchronously on the calling goroutine.
type LifecycleEvent struct {
	Type     string                `json:"type"`
	EventID  string                `json:"event_id"`
	Match    *models.Match         `json:"match,omitempty"`
	Decision *models.MergeDecision `json:"decision,omitempty"`
	Result   *models.MergeResult   `json:"result,omitempty"`
}

// Listener receives lifecycle events.
type Listener func(ctx context.Context, event LifecycleEvent)

// HealthStatus is the facade health surface polled by operations tooling.
type HealthStatus struct {
	Status          string            `json:"status"`
	Components      map[string]string `json:"components"`
	Recommendations []string          `json:"recommendations,omitempty"`
}

// PerformanceMetrics reports engine counters since system creation.
type PerformanceMetrics struct {
	Comparisons    int64   `json:"comparisons"`
	CacheHits      int64   `json:"cache_hits"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	CachingEnabled bool    `json:"caching_enabled"`
	WorkerCount    int     `json:"worker_count"`
	MergesRecorded int64   `json:"merges_recorded"`
}

// System is the deduplication facade.
type System struct {
	logger    ectologger.Logger
	config    Config
	engine    *matching.Engine
	resolver  *resolution.Resolver
	merger    *merging.Engine
	clusterer *matching.Clusterer
	events    *eventSource

	mergeMu sync.Mutex
	merges  int64

	listenerMu sync.RWMutex
	listeners  []Listener
}

// NewSystem builds a dedup system from configuration. backing may be nil for
// purely in-memory use; recorder receives the audit trail writes.
// Configuration errors surface here, before any scoring happens.
func NewSystem(logger ectologger.Logger, cfg Config, backing merging.EventGetter, recorder merging.HistoryRecorder) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	generator := fingerprint.NewGenerator(cfg.Algorithms.GeoPrecision, cfg.Algorithms.DateBucketHours)
	registry := resolution.NewSourceRegistry()
	resolver := resolution.NewResolver(logger, registry)
	events := &eventSource{
		backing:     backing,
		local:       make(map[string]*models.EventRecord),
		consumedIDs: make(map[string]bool),
	}

	return &System{
		logger:    logger,
		config:    cfg,
		engine:    matching.NewEngine(logger, generator, cfg.engineConfig()),
		resolver:  resolver,
		merger:    merging.NewEngine(logger, resolver, events, recorder, nil),
		clusterer: matching.NewClusterer(cfg.Algorithms.DateHorizonDays),
		events:    events,
	}, nil
}

// Config returns the system configuration.
func (s *System) Config() Config {
	return s.config
}

// Subscribe registers a lifecycle listener.
func (s *System) Subscribe(listener Listener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, listener)
}

// RegisterDataSource records trust scores for a data source, used by the
// highest_quality resolution strategy and the audit trail.
func (s *System) RegisterDataSource(source models.DataSource) {
	s.resolver.Sources().Register(source)
}

// Sources returns the registered data sources.
func (s *System) Sources() []models.DataSource {
	return s.resolver.Sources().List()
}

// CheckForDuplicates runs match finding and folds the output into a
// decision-ready summary.
func (s *System) CheckForDuplicates(ctx context.Context, target *models.EventRecord, candidates []*models.EventRecord) models.DuplicateCheckResult {
	ctx, span := tracing.StartSpan(ctx, "dedup.System.CheckForDuplicates")
	defer span.End()

	matches := s.engine.FindMatches(ctx, target, candidates)

	result := models.DuplicateCheckResult{Matches: matches}
	if len(matches) == 0 {
		return result
	}

	byID := make(map[string]*models.EventRecord, len(candidates)+1)
	byID[target.ID] = target
	for _, c := range candidates {
		byID[c.ID] = c
	}

	result.IsDuplicate = true
	result.Confidence = matches[0].Confidence
	participants := []*models.EventRecord{target}
	for i := range matches {
		matches[i].ReviewRequired = s.reviewRequired(matches[i])
		result.DuplicateEventIDs = append(result.DuplicateEventIDs, matches[i].CandidateEventID)
		if event := byID[matches[i].CandidateEventID]; event != nil {
			participants = append(participants, event)
		}
	}
	result.PrimaryEventID = choosePrimary(participants).ID

	s.notify(ctx, LifecycleEvent{
		Type:    EventDuplicateFlagged,
		EventID: target.ID,
		Match:   &matches[0],
	})
	return result
}

// CreateMergeDecision builds a merge decision using the configured default
// strategy when none is given.
func (s *System) CreateMergeDecision(ctx context.Context, primary *models.EventRecord, duplicates []*models.EventRecord, strategy models.MergeStrategyType) (*models.MergeDecision, error) {
	if strategy == "" {
		strategy = s.config.Quality.DefaultStrategy
	}
	return s.merger.CreateMergeDecision(ctx, primary, duplicates, strategy)
}

// ValidateMergeDecision checks a decision against the merge invariants.
func (s *System) ValidateMergeDecision(ctx context.Context, decision *models.MergeDecision) models.ValidationResult {
	return s.merger.ValidateMergeDecision(ctx, decision)
}

// ExecuteMerge executes a decision. Panics from strategy plugins or listeners
// are caught here, surfaced as a failed result, never swallowed silently.
func (s *System) ExecuteMerge(ctx context.Context, decision *models.MergeDecision, actorID string) (result *models.MergeResult) {
	ctx, span := tracing.StartSpan(ctx, "dedup.System.ExecuteMerge")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.logger.WithContext(ctx).WithFields(map[string]any{
				"decision_id": decision.ID,
				"panic":       fmt.Sprintf("%v", r),
			}).Error("Merge execution panicked")
			result = &models.MergeResult{Success: false, Error: fmt.Sprintf("unexpected error: %v", r)}
			s.notify(ctx, LifecycleEvent{Type: EventMergeFailed, EventID: decision.PrimaryEventID, Decision: decision, Result: result})
		}
	}()

	result = s.merger.ExecuteMerge(ctx, decision, actorID)
	if result.Success {
		s.mergeMu.Lock()
		s.merges++
		s.mergeMu.Unlock()
		s.events.put(result.MergedEvent)
		s.events.consume(decision.DuplicateEventIDs)
		s.notify(ctx, LifecycleEvent{Type: EventMergeExecuted, EventID: decision.PrimaryEventID, Decision: decision, Result: result})
	} else {
		s.notify(ctx, LifecycleEvent{Type: EventMergeFailed, EventID: decision.PrimaryEventID, Decision: decision, Result: result})
	}
	return result
}

// BatchProcessEvents runs a bulk dedup pass over the given events. Mode
// "batch" pre-filters candidates through the cluster index; "full_scan"
// scores every pair. Auto-merge applies only at or above the configured
// threshold; everything else in the passing band is flagged for review.
func (s *System) BatchProcessEvents(ctx context.Context, events []*models.EventRecord, mode string) (*models.BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "dedup.System.BatchProcessEvents")
	defer span.End()

	if mode != ModeBatch && mode != ModeFullScan {
		return nil, fmt.Errorf("unknown batch mode %q", mode)
	}

	start := time.Now()
	comparisonsBefore, cacheHitsBefore := s.engine.Stats()

	s.events.load(events)

	var index *matching.Index
	if mode == ModeBatch {
		index = s.clusterer.Build(events)
	}

	result := &models.BatchResult{}
	var resultMu sync.Mutex

	process := func(target *models.EventRecord) {
		if s.events.consumed(target.ID) {
			return
		}

		candidates := events
		if index != nil {
			candidates = index.CandidatesFor(target)
		}

		matches := s.engine.FindMatches(ctx, target, candidates)
		live := matches[:0]
		for _, m := range matches {
			if !s.events.consumed(m.CandidateEventID) {
				live = append(live, m)
			}
		}
		if len(live) == 0 {
			return
		}

		resultMu.Lock()
		result.DuplicatesFound += len(live)
		resultMu.Unlock()

		merged, flagged, failed := s.resolveBatchMatches(ctx, target, live)
		resultMu.Lock()
		result.MergesCompleted += merged
		result.FlaggedReview += flagged
		result.FailedCount += failed
		resultMu.Unlock()
	}

	if s.config.Performance.ParallelProcessing && s.config.Performance.WorkerCount > 1 {
		jobs := make(chan *models.EventRecord)
		var wg sync.WaitGroup
		for i := 0; i < s.config.Performance.WorkerCount; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for target := range jobs {
					process(target)
				}
			}()
		}
		for _, target := range events {
			jobs <- target
		}
		close(jobs)
		wg.Wait()
	} else {
		for _, target := range events {
			process(target)
		}
	}

	comparisonsAfter, cacheHitsAfter := s.engine.Stats()
	result.ProcessedCount = len(events)
	result.Performance = models.BatchPerformance{
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		ComparisonsRun:   comparisonsAfter - comparisonsBefore,
		CacheHits:        cacheHitsAfter - cacheHitsBefore,
	}
	if index != nil {
		result.Performance.ClustersFormed = index.ClusterCount()
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"mode":             mode,
		"processed":        result.ProcessedCount,
		"duplicates_found": result.DuplicatesFound,
		"merges_completed": result.MergesCompleted,
		"flagged_review":   result.FlaggedReview,
	}).Info("Batch dedup pass complete")

	return result, nil
}

// resolveBatchMatches auto-merges qualifying matches for one target and
// flags the rest. Merge execution is serialized: concurrent merges touching
// the same primary are not safe.
func (s *System) resolveBatchMatches(ctx context.Context, target *models.EventRecord, matches []models.Match) (merged, flagged, failed int) {
	autoIDs := make([]string, 0, len(matches))
	for _, m := range matches {
		if s.shouldAutoMerge(m) {
			if m.Confidence < s.config.Quality.AutoMergeThreshold {
				m.RiskFactors = append(m.RiskFactors, "low_confidence_auto_merge")
				mm := m
				s.notify(ctx, LifecycleEvent{Type: EventDuplicateFlagged, EventID: target.ID, Match: &mm})
			}
			autoIDs = append(autoIDs, m.CandidateEventID)
			continue
		}
		flagged++
		m := m
		s.notify(ctx, LifecycleEvent{Type: EventReviewRequired, EventID: target.ID, Match: &m})
	}
	if len(autoIDs) == 0 {
		return merged, flagged, failed
	}

	s.mergeMu.Lock()
	defer s.mergeMu.Unlock()

	participants := []*models.EventRecord{target}
	for _, id := range autoIDs {
		if s.events.consumed(id) {
			continue
		}
		if event, err := s.events.Get(ctx, id); err == nil {
			participants = append(participants, event)
		}
	}
	if len(participants) < 2 {
		return merged, flagged, failed
	}

	primary := choosePrimary(participants)
	if primary.QualityScore() < s.config.Quality.MinimumQualityScore {
		// Unattended merges need a survivor above the quality floor.
		return merged, flagged + 1, failed
	}
	duplicates := make([]*models.EventRecord, 0, len(participants)-1)
	for _, p := range participants {
		if p.ID != primary.ID {
			duplicates = append(duplicates, p)
		}
	}

	decision, err := s.merger.CreateMergeDecision(ctx, primary, duplicates, s.config.Quality.DefaultStrategy)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"event_id": target.ID}).Error("Failed to create batch merge decision")
		return merged, flagged, failed + 1
	}
	if decision.Status == models.DecisionStatusBlocked {
		return merged, flagged + 1, failed
	}

	execResult := s.merger.ExecuteMerge(ctx, decision, "system:batch")
	if !execResult.Success {
		s.notify(ctx, LifecycleEvent{Type: EventMergeFailed, EventID: primary.ID, Decision: decision, Result: execResult})
		return merged, flagged, failed + 1
	}

	s.merges++
	s.events.put(execResult.MergedEvent)
	s.events.consume(decision.DuplicateEventIDs)
	s.notify(ctx, LifecycleEvent{Type: EventMergeExecuted, EventID: primary.ID, Decision: decision, Result: execResult})
	return merged + 1, flagged, failed
}

// shouldAutoMerge gates unattended merges. The band between the overall
// threshold and the auto-merge threshold goes to review unless
// RequireManualReview is disabled; risk factors always block.
func (s *System) shouldAutoMerge(m models.Match) bool {
	if !s.config.Quality.AutoMergeEnabled || len(m.RiskFactors) > 0 {
		return false
	}
	if m.Confidence >= s.config.Quality.AutoMergeThreshold {
		return true
	}
	return !s.config.Quality.RequireManualReview
}

func (s *System) reviewRequired(m models.Match) bool {
	if s.shouldAutoMerge(m) {
		return false
	}
	return s.config.Quality.RequireManualReview
}

// GetPerformanceMetrics returns engine counters and cache effectiveness.
func (s *System) GetPerformanceMetrics() PerformanceMetrics {
	comparisons, cacheHits := s.engine.Stats()
	metrics := PerformanceMetrics{
		Comparisons:    comparisons,
		CacheHits:      cacheHits,
		CachingEnabled: s.config.Performance.EnableCaching,
		WorkerCount:    s.config.Performance.WorkerCount,
	}
	if total := comparisons + cacheHits; total > 0 {
		metrics.CacheHitRate = float64(cacheHits) / float64(total)
	}
	s.mergeMu.Lock()
	metrics.MergesRecorded = s.merges
	s.mergeMu.Unlock()
	return metrics
}

// HealthCheck reports component status and tuning recommendations.
func (s *System) HealthCheck(ctx context.Context) HealthStatus {
	_, span := tracing.StartSpan(ctx, "dedup.System.HealthCheck")
	defer span.End()

	status := HealthStatus{
		Status:     "ok",
		Components: map[string]string{"matching_engine": "ok", "merge_engine": "ok"},
	}

	if s.config.Performance.EnableCaching {
		status.Components["score_cache"] = "ok"
	} else {
		status.Components["score_cache"] = "disabled"
		status.Recommendations = append(status.Recommendations, "enable score caching for repeated dedup passes")
	}

	if len(s.resolver.Sources().List()) == 0 {
		status.Components["source_registry"] = "empty"
		if s.config.Quality.DefaultStrategy == models.MergeStrategyQualityBased || s.config.Quality.DefaultStrategy == models.MergeStrategySourcePriority {
			status.Status = "warning"
			status.Recommendations = append(status.Recommendations, "register data sources before quality-based merging; unregistered sources fall back to a neutral trust score")
		}
	} else {
		status.Components["source_registry"] = "ok"
	}

	metrics := s.GetPerformanceMetrics()
	if metrics.CachingEnabled && metrics.Comparisons > 1000 && metrics.CacheHitRate < 0.1 {
		status.Recommendations = append(status.Recommendations, "cache hit rate is low; consider widening batch windows")
	}

	return status
}

func (s *System) notify(ctx context.Context, event LifecycleEvent) {
	s.listenerMu.RLock()
	listeners := s.listeners
	s.listenerMu.RUnlock()
	for _, listener := range listeners {
		listener(ctx, event)
	}
}

// choosePrimary picks the surviving record: highest quality score, then
// earliest ingestion, then lowest id. Deterministic for fixed input.
func choosePrimary(participants []*models.EventRecord) *models.EventRecord {
	primary := participants[0]
	for _, p := range participants[1:] {
		pq, bq := p.QualityScore(), primary.QualityScore()
		switch {
		case pq > bq:
			primary = p
		case pq == bq && p.IngestedAt.Before(primary.IngestedAt):
			primary = p
		case pq == bq && p.IngestedAt.Equal(primary.IngestedAt) && p.ID < primary.ID:
			primary = p
		}
	}
	return primary
}

// eventSource resolves events for merge execution: batch-local records
// first, then the backing store. Consumed duplicates are dropped so a stale
// decision referencing them fails instead of double-merging.
type eventSource struct {
	backing merging.EventGetter

	mu          sync.RWMutex
	local       map[string]*models.EventRecord
	consumedIDs map[string]bool
}

func (s *eventSource) Get(ctx context.Context, id string) (*models.EventRecord, error) {
	s.mu.RLock()
	if s.consumedIDs[id] {
		s.mu.RUnlock()
		return nil, fmt.Errorf("event %s was consumed by a prior merge", id)
	}
	if event, ok := s.local[id]; ok {
		s.mu.RUnlock()
		return event, nil
	}
	s.mu.RUnlock()

	if s.backing == nil {
		return nil, fmt.Errorf("event %s not found", id)
	}
	return s.backing.Get(ctx, id)
}

func (s *eventSource) load(events []*models.EventRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumedIDs == nil {
		s.consumedIDs = make(map[string]bool)
	}
	for _, event := range events {
		s.local[event.ID] = event
	}
}

func (s *eventSource) put(event *models.EventRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local[event.ID] = event
}

func (s *eventSource) consume(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumedIDs == nil {
		s.consumedIDs = make(map[string]bool)
	}
	for _, id := range ids {
		s.consumedIDs[id] = true
		delete(s.local, id)
	}
}

func (s *eventSource) consumed(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.consumedIDs[id]
}
