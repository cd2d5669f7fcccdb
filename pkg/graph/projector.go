package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/scenescout/meld/internal/tracing"
	"github.com/scenescout/meld/pkg/models"
	"github.com/scenescout/meld/pkg/normalizers"
)

// Projector maintains the (:Event)-[:HELD_AT]->(:Venue) projection of the
// canonical event store. All writes are MERGE-based upserts, safe to replay.
type Projector struct {
	client *Client
	logger ectologger.Logger
}

// NewProjector creates a new graph projector
func NewProjector(client *Client, logger ectologger.Logger) *Projector {
	return &Projector{
		client: client,
		logger: logger,
	}
}

// ProjectEvent upserts the event node and, when the record names a venue,
// the venue node plus the HELD_AT edge.
func (p *Projector) ProjectEvent(ctx context.Context, event *models.EventRecord) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.ProjectEvent")
	defer span.End()

	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"event_id": event.ID,
	})

	props := map[string]any{
		"id":         event.ID,
		"title":      event.Title,
		"start_time": event.StartTime.UTC().Format("2006-01-02T15:04:05Z"),
		"city":       event.City,
		"category":   event.Category,
		"source":     event.Source,
		"is_free":    event.IsFree,
	}
	if event.Coordinates != nil {
		props["lat"] = event.Coordinates.Lat
		props["lng"] = event.Coordinates.Lng
	}
	if len(event.MergedFrom) > 0 {
		props["merged_from"] = event.MergedFrom
	}

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			MERGE (e:Event {id: $id})
			SET e = $props
		`, map[string]any{"id": event.ID, "props": props})
		if err != nil {
			return nil, err
		}
		if _, err := result.Consume(ctx); err != nil {
			return nil, err
		}

		if event.VenueName == "" {
			return nil, nil
		}

		venueKey := venueKeyOf(event)
		result, err = tx.Run(ctx, `
			MERGE (v:Venue {key: $venue_key})
			SET v.name = $venue_name, v.city = $city, v.address = $address
			WITH v
			MATCH (e:Event {id: $event_id})
			MERGE (e)-[:HELD_AT]->(v)
		`, map[string]any{
			"venue_key":  venueKey,
			"venue_name": event.VenueName,
			"city":       event.City,
			"address":    event.Address,
			"event_id":   event.ID,
		})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		log.WithError(err).Error("Failed to project event to graph")
		return fmt.Errorf("failed to project event %s: %w", event.ID, err)
	}

	log.Debug("Projected event to graph")
	return nil
}

// ProjectEvents upserts multiple events in one transaction.
func (p *Projector) ProjectEvents(ctx context.Context, events []*models.EventRecord) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.ProjectEvents")
	defer span.End()

	for _, event := range events {
		if err := p.ProjectEvent(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// RemoveEvents detaches and deletes superseded event nodes. Venues are kept;
// other events may still be held there.
func (p *Projector) RemoveEvents(ctx context.Context, ids []string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.Projector.RemoveEvents")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}

	_, err := p.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			UNWIND $ids AS id
			MATCH (e:Event {id: id})
			DETACH DELETE e
		`, map[string]any{"ids": ids})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})

	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Error("Failed to remove events from graph")
		return fmt.Errorf("failed to remove events: %w", err)
	}
	return nil
}

// venueKeyOf builds a stable venue identity from normalized name and city,
// so the same venue reported by different sources collapses to one node.
func venueKeyOf(event *models.EventRecord) string {
	return normalizers.NormalizeVenue(event.VenueName) + "|" + normalizers.NormalizeCity(event.City)
}
