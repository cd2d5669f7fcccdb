package models

import (
	"encoding/json"
	"time"
)

// Coordinates is a WGS84 point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// EventRecord is a candidate real-world event observation from one data
// source. The dedup core treats it as immutable once handed in, except for
// the merge metadata fields it writes back on merge.
type EventRecord struct {
	ID          string       `json:"id" db:"id"`
	Title       string       `json:"title" db:"title"`
	Description string       `json:"description,omitempty" db:"description"`
	StartTime   time.Time    `json:"start_time" db:"start_time"`
	EndTime     *time.Time   `json:"end_time,omitempty" db:"end_time"`
	VenueName   string       `json:"venue_name,omitempty" db:"venue_name"`
	Address     string       `json:"address,omitempty" db:"address"`
	City        string       `json:"city,omitempty" db:"city"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
	PriceMin    *float64     `json:"price_min,omitempty" db:"price_min"`
	PriceMax    *float64     `json:"price_max,omitempty" db:"price_max"`
	Currency    string       `json:"currency,omitempty" db:"currency"`
	IsFree      bool         `json:"is_free" db:"is_free"`
	Category    string       `json:"category,omitempty" db:"category"`
	Tags        []string     `json:"tags,omitempty"`

	// Source identity and hints from the ingestion layer.
	Source        string  `json:"source" db:"source"`
	SourceQuality float64 `json:"source_quality,omitempty" db:"source_quality"`

	IngestedAt time.Time `json:"ingested_at" db:"ingested_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`

	// Merge metadata, written by executeMerge.
	MergedFrom []string   `json:"merged_from,omitempty"`
	MergedAt   *time.Time `json:"merged_at,omitempty"`
}

// Clone returns a deep copy of the event.
func (e *EventRecord) Clone() *EventRecord {
	cp := *e
	if e.EndTime != nil {
		t := *e.EndTime
		cp.EndTime = &t
	}
	if e.Coordinates != nil {
		c := *e.Coordinates
		cp.Coordinates = &c
	}
	if e.PriceMin != nil {
		v := *e.PriceMin
		cp.PriceMin = &v
	}
	if e.PriceMax != nil {
		v := *e.PriceMax
		cp.PriceMax = &v
	}
	if e.MergedAt != nil {
		t := *e.MergedAt
		cp.MergedAt = &t
	}
	cp.Tags = append([]string(nil), e.Tags...)
	cp.MergedFrom = append([]string(nil), e.MergedFrom...)
	return &cp
}

// Fields returns the event as a field map for field-level merge resolution.
// Identity and merge metadata are excluded; they are never contested fields.
func (e *EventRecord) Fields() (map[string]any, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for _, k := range nonMergeableFields {
		delete(m, k)
	}
	return m, nil
}

// ApplyFields overlays resolved field values onto the event.
func (e *EventRecord) ApplyFields(fields map[string]any) (*EventRecord, error) {
	base, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for k, v := range fields {
		if isNonMergeableField(k) {
			continue
		}
		if v == nil {
			delete(m, k)
			continue
		}
		m[k] = v
	}
	merged, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out EventRecord
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QualityScore is a completeness measure in [0,1] used for the
// quality-improvement delta recorded on merge history entries.
func (e *EventRecord) QualityScore() float64 {
	var score, total float64

	count := func(weight float64, present bool) {
		total += weight
		if present {
			score += weight
		}
	}

	count(2, e.Title != "")
	count(1, e.Description != "")
	count(2, !e.StartTime.IsZero())
	count(0.5, e.EndTime != nil)
	count(1.5, e.VenueName != "")
	count(1, e.Address != "")
	count(1, e.Coordinates != nil)
	count(0.5, e.PriceMin != nil || e.IsFree)
	count(0.5, e.Category != "")
	count(0.5, len(e.Tags) > 0)

	if total == 0 {
		return 0
	}
	return score / total
}

var nonMergeableFields = []string{"id", "source", "ingested_at", "updated_at", "merged_from", "merged_at"}

// IsMergeableField reports whether a field name may appear in a merge
// decision's resolution map.
func IsMergeableField(name string) bool {
	return !isNonMergeableField(name)
}

func isNonMergeableField(name string) bool {
	for _, f := range nonMergeableFields {
		if f == name {
			return true
		}
	}
	return false
}
