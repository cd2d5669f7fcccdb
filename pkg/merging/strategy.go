package merging

import "github.com/scenescout/meld/pkg/models"

// arrayFields are fields whose values union under merge_fields rather than
// competing.
var arrayFields = map[string]bool{
	"tags": true,
}

// KnownStrategy reports whether the name is a supported global merge
// strategy.
func KnownStrategy(name models.MergeStrategyType) bool {
	switch name {
	case models.MergeStrategyEnhancePrimary, models.MergeStrategyKeepPrimary,
		models.MergeStrategyMergeFields, models.MergeStrategyQualityBased,
		models.MergeStrategyTemporalPriority, models.MergeStrategySourcePriority:
		return true
	}
	return false
}

// resolutionFor maps a global merge strategy to the per-field resolution
// strategy, honoring any per-field override configured on the engine.
func (e *Engine) resolutionFor(field string, strategy models.MergeStrategyType) models.ResolutionStrategy {
	if override, ok := e.fieldOverrides[field]; ok {
		return override
	}

	switch strategy {
	case models.MergeStrategyEnhancePrimary, models.MergeStrategyKeepPrimary:
		return models.ResolutionPrimaryWins
	case models.MergeStrategyMergeFields:
		if arrayFields[field] {
			return models.ResolutionMergeValues
		}
		return models.ResolutionMostComplete
	case models.MergeStrategyQualityBased, models.MergeStrategySourcePriority:
		return models.ResolutionHighestQuality
	case models.MergeStrategyTemporalPriority:
		return models.ResolutionLatestWins
	default:
		return models.ResolutionMostComplete
	}
}
