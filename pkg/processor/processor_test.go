package processor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenescout/meld/pkg/dedup"
	"github.com/scenescout/meld/pkg/history"
	"github.com/scenescout/meld/pkg/kafka"
	"github.com/scenescout/meld/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fakeStore struct {
	events     map[string]*models.EventRecord
	unchanged  map[string]bool
	upserts    []string
	listCalls  int
	superseded []string
	primaryID  string
}

func newFakeStore(events ...*models.EventRecord) *fakeStore {
	s := &fakeStore{
		events:    make(map[string]*models.EventRecord),
		unchanged: make(map[string]bool),
	}
	for _, e := range events {
		s.events[e.ID] = e
	}
	return s
}

func (s *fakeStore) Upsert(_ context.Context, event *models.EventRecord) (bool, error) {
	s.upserts = append(s.upserts, event.ID)
	s.events[event.ID] = event
	return !s.unchanged[event.ID], nil
}

func (s *fakeStore) Get(_ context.Context, id string) (*models.EventRecord, error) {
	event, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event %s not found", id)
	}
	return event, nil
}

func (s *fakeStore) ListCandidates(_ context.Context, _ string, _, _ time.Time, _ int) ([]*models.EventRecord, error) {
	s.listCalls++
	out := make([]*models.EventRecord, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeStore) MarkSuperseded(_ context.Context, ids []string, primaryID string) error {
	s.superseded = append(s.superseded, ids...)
	s.primaryID = primaryID
	return nil
}

type fakeProjector struct {
	projected []string
	removed   []string
}

func (p *fakeProjector) ProjectEvent(_ context.Context, event *models.EventRecord) error {
	p.projected = append(p.projected, event.ID)
	return nil
}

func (p *fakeProjector) RemoveEvents(_ context.Context, ids []string) error {
	p.removed = append(p.removed, ids...)
	return nil
}

var testStart = time.Date(2026, 6, 15, 20, 0, 0, 0, time.UTC)

func storedEvent(id string) *models.EventRecord {
	return &models.EventRecord{
		ID:          id,
		Title:       "Jazz Night",
		VenueName:   "Blue Note",
		City:        "New York",
		StartTime:   testStart,
		Coordinates: &models.Coordinates{Lat: 40.7306, Lng: -73.9352},
		IsFree:      true,
		Source:      "ticketbase",
		IngestedAt:  testStart.Add(-48 * time.Hour),
		UpdatedAt:   testStart.Add(-48 * time.Hour),
	}
}

func newTestProcessor(t *testing.T, store *fakeStore, projector Projector) *Processor {
	t.Helper()
	cfg := dedup.DefaultConfig()
	cfg.Performance.ParallelProcessing = false
	system, err := dedup.NewSystem(testLogger(), cfg, store, history.NewTracker(testLogger()))
	require.NoError(t, err)
	return NewProcessor(testLogger(), system, store, nil, projector)
}

func TestHandleMessage_MalformedRecordIsDropped(t *testing.T) {
	store := newFakeStore()
	proc := newTestProcessor(t, store, nil)

	err := proc.HandleMessage(context.Background(), &kafka.IncomingMessage{Value: []byte(`{not json`)})
	assert.NoError(t, err)
	assert.Empty(t, store.upserts)
}

func TestHandleMessage_ValidRecordIsProcessed(t *testing.T) {
	store := newFakeStore()
	proc := newTestProcessor(t, store, nil)

	err := proc.HandleMessage(context.Background(), &kafka.IncomingMessage{
		Value:     []byte(`{"id": "evt-1", "title": "Jazz Night", "source": "ticketbase", "start_time": "2026-06-15T20:00:00Z"}`),
		Timestamp: testStart,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"evt-1"}, store.upserts)
}

func TestProcessEvent_NoDuplicatesProjects(t *testing.T) {
	store := newFakeStore(storedEvent("existing"))
	projector := &fakeProjector{}
	proc := newTestProcessor(t, store, projector)

	incoming := &models.EventRecord{
		ID:        "new",
		Title:     "Pottery Workshop",
		VenueName: "Craft Studio",
		City:      "Boston",
		StartTime: testStart.AddDate(0, 2, 0),
		Source:    "craftlist",
	}
	require.NoError(t, proc.ProcessEvent(context.Background(), incoming))

	assert.Equal(t, []string{"new"}, projector.projected)
	assert.Empty(t, store.superseded)
}

func TestProcessEvent_UnchangedContentSkipsDetection(t *testing.T) {
	store := newFakeStore()
	store.unchanged["same"] = true
	proc := newTestProcessor(t, store, nil)

	require.NoError(t, proc.ProcessEvent(context.Background(), storedEvent("same")))
	assert.Equal(t, 0, store.listCalls)
}

func TestProcessEvent_AutoMergesCleanDuplicate(t *testing.T) {
	stored := storedEvent("a")
	store := newFakeStore(stored)
	projector := &fakeProjector{}
	proc := newTestProcessor(t, store, projector)

	incoming := storedEvent("new")
	incoming.IngestedAt = testStart.Add(-1 * time.Hour)
	require.NoError(t, proc.ProcessEvent(context.Background(), incoming))

	// The earlier-ingested stored record survives; the incoming one folds in.
	assert.Equal(t, []string{"new"}, store.superseded)
	assert.Equal(t, "a", store.primaryID)
	assert.Equal(t, []string{"new"}, projector.removed)
	assert.Contains(t, projector.projected, "a")
}

func TestProcessEvent_RiskFactorsForceReview(t *testing.T) {
	stored := storedEvent("a")
	stored.Coordinates = nil
	store := newFakeStore(stored)
	proc := newTestProcessor(t, store, nil)

	incoming := storedEvent("new")
	incoming.Coordinates = nil
	require.NoError(t, proc.ProcessEvent(context.Background(), incoming))

	assert.Empty(t, store.superseded)
}

func TestProcessEvent_QualityFloorForcesReview(t *testing.T) {
	store := newFakeStore(storedEvent("a"))
	cfg := dedup.DefaultConfig()
	cfg.Performance.ParallelProcessing = false
	cfg.Quality.MinimumQualityScore = 1.0
	system, err := dedup.NewSystem(testLogger(), cfg, store, history.NewTracker(testLogger()))
	require.NoError(t, err)
	proc := NewProcessor(testLogger(), system, store, nil, nil)

	require.NoError(t, proc.ProcessEvent(context.Background(), storedEvent("new")))
	assert.Empty(t, store.superseded)
}

func TestProcessEvent_AutoMergeDisabledForcesReview(t *testing.T) {
	store := newFakeStore(storedEvent("a"))
	cfg := dedup.DefaultConfig()
	cfg.Performance.ParallelProcessing = false
	cfg.Quality.AutoMergeEnabled = false
	system, err := dedup.NewSystem(testLogger(), cfg, store, history.NewTracker(testLogger()))
	require.NoError(t, err)
	proc := NewProcessor(testLogger(), system, store, nil, nil)

	require.NoError(t, proc.ProcessEvent(context.Background(), storedEvent("new")))
	assert.Empty(t, store.superseded)
}
