package matching

import (
	"time"

	"github.com/scenescout/meld/pkg/models"
	"github.com/scenescout/meld/pkg/normalizers"
)

// Clusterer buckets events by normalized city and date window so that batch
// dedup passes only score pairs that could plausibly match. Windows are sized
// at the date horizon and lookups span adjacent windows, so any pair close
// enough to clear the date floor always lands in the same candidate set.
type Clusterer struct {
	window time.Duration
}

// NewClusterer creates a clusterer with the given window size in days.
func NewClusterer(windowDays int) *Clusterer {
	if windowDays <= 0 {
		windowDays = 30
	}
	return &Clusterer{window: time.Duration(windowDays) * 24 * time.Hour}
}

type bucketKey struct {
	city   string
	window int64
}

// Index is a prebuilt candidate index over a fixed event set.
type Index struct {
	window  time.Duration
	buckets map[bucketKey][]*models.EventRecord

	// Events missing a city or start date cannot be bucketed; they are
	// candidates for every target.
	unbucketed []*models.EventRecord

	all []*models.EventRecord
}

// Build indexes the given events. The input slice is not retained.
func (c *Clusterer) Build(events []*models.EventRecord) *Index {
	idx := &Index{
		window:  c.window,
		buckets: make(map[bucketKey][]*models.EventRecord),
		all:     make([]*models.EventRecord, len(events)),
	}
	copy(idx.all, events)

	for _, event := range events {
		key, ok := idx.keyFor(event)
		if !ok {
			idx.unbucketed = append(idx.unbucketed, event)
			continue
		}
		idx.buckets[key] = append(idx.buckets[key], event)
	}
	return idx
}

// ClusterCount returns the number of distinct buckets formed.
func (idx *Index) ClusterCount() int {
	return len(idx.buckets)
}

// Size returns the number of indexed events.
func (idx *Index) Size() int {
	return len(idx.all)
}

// CandidatesFor returns the events worth scoring against the target: the
// target's own bucket, the adjacent date windows, and every unbucketed
// event. A target that cannot be bucketed gets the full set.
func (idx *Index) CandidatesFor(target *models.EventRecord) []*models.EventRecord {
	key, ok := idx.keyFor(target)
	if !ok {
		return idx.all
	}

	candidates := make([]*models.EventRecord, 0)
	for _, w := range []int64{key.window - 1, key.window, key.window + 1} {
		candidates = append(candidates, idx.buckets[bucketKey{city: key.city, window: w}]...)
	}
	candidates = append(candidates, idx.unbucketed...)
	return candidates
}

func (idx *Index) keyFor(event *models.EventRecord) (bucketKey, bool) {
	city := normalizers.NormalizeCity(event.City)
	if city == "" || event.StartTime.IsZero() {
		return bucketKey{}, false
	}
	return bucketKey{
		city:   city,
		window: event.StartTime.UTC().Unix() / int64(idx.window.Seconds()),
	}, true
}
