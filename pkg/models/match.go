package models

// SimilarityScore holds per-dimension scores in [0,1] and the derived
// overall score. Overall is always the weighted sum of the five dimensions
// under the configured weight vector; it is recomputable from the stored
// sub-scores.
type SimilarityScore struct {
	Title    float64 `json:"title"`
	Venue    float64 `json:"venue"`
	Location float64 `json:"location"`
	Date     float64 `json:"date"`
	Semantic float64 `json:"semantic"`
	Overall  float64 `json:"overall"`
}

// SimilarityWeights is the configured weight vector for the overall score.
type SimilarityWeights struct {
	Title    float64 `json:"title"`
	Venue    float64 `json:"venue"`
	Location float64 `json:"location"`
	Date     float64 `json:"date"`
	Semantic float64 `json:"semantic"`
}

// Sum returns the total weight.
func (w SimilarityWeights) Sum() float64 {
	return w.Title + w.Venue + w.Location + w.Date + w.Semantic
}

// Combine computes the weighted overall score for a set of sub-scores.
func (w SimilarityWeights) Combine(s SimilarityScore) float64 {
	return s.Title*w.Title + s.Venue*w.Venue + s.Location*w.Location + s.Date*w.Date + s.Semantic*w.Semantic
}

// Match is a candidate duplicate pairing.
type Match struct {
	TargetEventID    string          `json:"target_event_id"`
	CandidateEventID string          `json:"candidate_event_id"`
	Confidence       float64         `json:"confidence"`
	Scores           SimilarityScore `json:"scores"`
	Reasons          []string        `json:"reasons,omitempty"`
	RiskFactors      []string        `json:"risk_factors,omitempty"`
	ReviewRequired   bool            `json:"review_required"`
}

// DuplicateCheckResult is the facade's decision-ready summary of a
// duplicate check.
type DuplicateCheckResult struct {
	IsDuplicate       bool     `json:"is_duplicate"`
	Confidence        float64  `json:"confidence"`
	Matches           []Match  `json:"matches"`
	DuplicateEventIDs []string `json:"duplicate_event_ids"`
	PrimaryEventID    string   `json:"primary_event_id,omitempty"`
}
