package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/scenescout/meld/pkg/models"
)

func TestIndex_BucketsByCityAndWindow(t *testing.T) {
	c := NewClusterer(30)

	nyJune := makeEvent("ny-june", "Show A", "", "New York", testStart)
	nyJuneToo := makeEvent("ny-june-2", "Show B", "", "new  york", testStart.AddDate(0, 0, 3))
	bostonJune := makeEvent("bos-june", "Show C", "", "Boston", testStart)

	idx := c.Build([]*models.EventRecord{nyJune, nyJuneToo, bostonJune})
	assert.Equal(t, 3, idx.Size())

	candidates := idx.CandidatesFor(nyJune)
	ids := idSet(candidates)
	assert.Contains(t, ids, "ny-june-2")
	assert.NotContains(t, ids, "bos-june")
}

func TestIndex_AdjacentWindowsCovered(t *testing.T) {
	c := NewClusterer(30)

	// Two events a few days apart can still straddle a window boundary;
	// adjacent-window lookup must keep them as mutual candidates.
	a := makeEvent("a", "Show", "", "New York", testStart)
	b := makeEvent("b", "Show", "", "New York", testStart.AddDate(0, 0, 29))

	idx := c.Build([]*models.EventRecord{a, b})
	assert.Contains(t, idSet(idx.CandidatesFor(a)), "b")
	assert.Contains(t, idSet(idx.CandidatesFor(b)), "a")
}

func TestIndex_UnbucketedEventsAreGlobalCandidates(t *testing.T) {
	c := NewClusterer(30)

	noCity := makeEvent("no-city", "Show", "", "", testStart)
	noDate := makeEvent("no-date", "Show", "", "New York", time.Time{})
	normal := makeEvent("normal", "Show", "", "New York", testStart)

	idx := c.Build([]*models.EventRecord{noCity, noDate, normal})

	// Unbucketable events appear in every candidate set.
	ids := idSet(idx.CandidatesFor(normal))
	assert.Contains(t, ids, "no-city")
	assert.Contains(t, ids, "no-date")

	// And an unbucketable target is compared against everything.
	assert.Len(t, idx.CandidatesFor(noCity), 3)
}

func TestIndex_ClusterCount(t *testing.T) {
	c := NewClusterer(30)

	idx := c.Build([]*models.EventRecord{
		makeEvent("a", "Show", "", "New York", testStart),
		makeEvent("b", "Show", "", "New York", testStart),
		makeEvent("c", "Show", "", "Boston", testStart),
	})
	assert.Equal(t, 2, idx.ClusterCount())
}

func TestNewClusterer_DefaultWindow(t *testing.T) {
	c := NewClusterer(0)
	assert.Equal(t, 30*24*time.Hour, c.window)
}

func idSet(events []*models.EventRecord) map[string]bool {
	ids := make(map[string]bool, len(events))
	for _, e := range events {
		ids[e.ID] = true
	}
	return ids
}
