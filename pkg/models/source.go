package models

// DataSource is a registered data provider with configured trust scores.
// Used by the highest_quality resolution strategy and the audit trail.
type DataSource struct {
	Name        string  `json:"name" validate:"required"`
	Reliability float64 `json:"reliability" validate:"gte=0,lte=1"`
	DataQuality float64 `json:"data_quality" validate:"gte=0,lte=1"`
}

// TrustScore is the combined score used for source ranking.
func (s DataSource) TrustScore() float64 {
	return 0.7*s.Reliability + 0.3*s.DataQuality
}

// RegisterDataSourceRequest is the request to register a data source.
type RegisterDataSourceRequest struct {
	Name        string  `json:"name" validate:"required"`
	Reliability float64 `json:"reliability" validate:"gte=0,lte=1"`
	DataQuality float64 `json:"data_quality" validate:"gte=0,lte=1"`
}
