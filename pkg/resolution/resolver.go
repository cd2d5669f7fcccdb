// Package resolution picks winning values for fields that disagree across
// duplicate-linked events.
package resolution

import (
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/scenescout/meld/pkg/models"
)

// FieldCandidate is one event's value for a contested field.
type FieldCandidate struct {
	Value     any
	EventID   string
	Source    string
	UpdatedAt time.Time
	IsPrimary bool
}

// Resolver applies resolution strategies to field conflicts.
type Resolver struct {
	logger  ectologger.Logger
	sources *SourceRegistry
}

// NewResolver creates a resolver backed by the given source registry.
func NewResolver(logger ectologger.Logger, sources *SourceRegistry) *Resolver {
	return &Resolver{
		logger:  logger,
		sources: sources,
	}
}

// Sources returns the resolver's source registry.
func (r *Resolver) Sources() *SourceRegistry {
	return r.sources
}

// KnownStrategy reports whether the name is a supported resolution strategy.
func KnownStrategy(name models.ResolutionStrategy) bool {
	switch name {
	case models.ResolutionPrimaryWins, models.ResolutionLatestWins,
		models.ResolutionMostComplete, models.ResolutionHighestQuality,
		models.ResolutionMergeValues, models.ResolutionManualReview:
		return true
	}
	return false
}

// ResolveFieldConflict picks the value to keep for one contested field.
// The second return is false only for manual_review, which flags the
// conflict instead of resolving it. Deterministic: identical candidates and
// registry state always produce the same resolution.
func (r *Resolver) ResolveFieldConflict(field string, candidates []FieldCandidate, strategy models.ResolutionStrategy) (models.FieldResolution, bool) {
	values := nonEmpty(candidates)
	if len(values) == 0 {
		return models.FieldResolution{}, false
	}

	// Candidate order must not influence the outcome.
	sort.Slice(values, func(i, j int) bool { return values[i].EventID < values[j].EventID })

	if len(values) == 1 {
		return models.FieldResolution{
			Field:         field,
			Value:         values[0].Value,
			SourceEventID: values[0].EventID,
			Strategy:      strategy,
			Confidence:    1.0,
			Reason:        "only one event carries this field",
		}, true
	}

	switch strategy {
	case models.ResolutionPrimaryWins:
		return r.primaryWins(field, values), true
	case models.ResolutionLatestWins:
		return r.latestWins(field, values), true
	case models.ResolutionMostComplete:
		return r.mostComplete(field, values), true
	case models.ResolutionHighestQuality:
		return r.highestQuality(field, values), true
	case models.ResolutionMergeValues:
		return r.mergeValues(field, values), true
	case models.ResolutionManualReview:
		return models.FieldResolution{Field: field, Strategy: models.ResolutionManualReview}, false
	default:
		r.logger.WithFields(map[string]any{
			"field":    field,
			"strategy": string(strategy),
		}).Warn("Unknown resolution strategy; falling back to most_complete")
		return r.mostComplete(field, values), true
	}
}

func (r *Resolver) primaryWins(field string, values []FieldCandidate) models.FieldResolution {
	for _, v := range values {
		if v.IsPrimary {
			return models.FieldResolution{
				Field:         field,
				Value:         v.Value,
				SourceEventID: v.EventID,
				Strategy:      models.ResolutionPrimaryWins,
				Confidence:    1.0,
				Reason:        "primary event's value kept",
			}
		}
	}
	// Primary carries no value for this field; fall back to the first
	// duplicate in deterministic order.
	res := r.mostComplete(field, values)
	res.Strategy = models.ResolutionPrimaryWins
	res.Reason = "primary missing value; most complete duplicate used"
	return res
}

func (r *Resolver) latestWins(field string, values []FieldCandidate) models.FieldResolution {
	winner := values[0]
	for _, v := range values[1:] {
		if v.UpdatedAt.After(winner.UpdatedAt) {
			winner = v
		}
	}
	return models.FieldResolution{
		Field:         field,
		Value:         winner.Value,
		SourceEventID: winner.EventID,
		Strategy:      models.ResolutionLatestWins,
		Confidence:    0.8,
		Reason:        fmt.Sprintf("most recently updated (%s)", winner.UpdatedAt.UTC().Format(time.RFC3339)),
	}
}

func (r *Resolver) mostComplete(field string, values []FieldCandidate) models.FieldResolution {
	winner := values[0]
	winnerSize := valueSize(winner.Value)
	for _, v := range values[1:] {
		if size := valueSize(v.Value); size > winnerSize {
			winner = v
			winnerSize = size
		}
	}
	return models.FieldResolution{
		Field:         field,
		Value:         winner.Value,
		SourceEventID: winner.EventID,
		Strategy:      models.ResolutionMostComplete,
		Confidence:    0.7,
		Reason:        "most populated value kept",
	}
}

func (r *Resolver) highestQuality(field string, values []FieldCandidate) models.FieldResolution {
	winner := values[0]
	winnerTrust := r.sources.TrustScore(winner.Source)
	for _, v := range values[1:] {
		if trust := r.sources.TrustScore(v.Source); trust > winnerTrust {
			winner = v
			winnerTrust = trust
		}
	}
	return models.FieldResolution{
		Field:         field,
		Value:         winner.Value,
		SourceEventID: winner.EventID,
		Strategy:      models.ResolutionHighestQuality,
		Confidence:    winnerTrust,
		Reason:        fmt.Sprintf("most trusted source %q (%.2f)", winner.Source, winnerTrust),
	}
}

// mergeValues unions array-like values instead of picking one. Scalars are
// treated as single-element lists, so mixed shapes still merge.
func (r *Resolver) mergeValues(field string, values []FieldCandidate) models.FieldResolution {
	merged := make([]any, 0, len(values))
	seen := make(map[string]bool)

	for _, v := range values {
		for _, elem := range flatten(v.Value) {
			key := fmt.Sprintf("%v", elem)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, elem)
		}
	}

	return models.FieldResolution{
		Field:         field,
		Value:         merged,
		SourceEventID: values[0].EventID,
		Strategy:      models.ResolutionMergeValues,
		Confidence:    0.9,
		Reason:        fmt.Sprintf("union of %d values", len(values)),
	}
}

func nonEmpty(candidates []FieldCandidate) []FieldCandidate {
	values := make([]FieldCandidate, 0, len(candidates))
	for _, c := range candidates {
		if isEmpty(c.Value) {
			continue
		}
		values = append(values, c)
	}
	return values
}

func flatten(v any) []any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return []any{v}
	}
	out := make([]any, 0, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out = append(out, rv.Index(i).Interface())
	}
	return out
}

// valueSize ranks values by how much information they carry.
func valueSize(v any) int {
	switch val := v.(type) {
	case string:
		return len(val)
	case []any:
		return len(val)
	case map[string]any:
		return len(val)
	default:
		return len(fmt.Sprintf("%v", v))
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}
