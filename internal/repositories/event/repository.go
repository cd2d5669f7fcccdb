// Package event persists canonical event records.
package event

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/scenescout/meld/internal/database"
	"github.com/scenescout/meld/internal/tracing"
	"github.com/scenescout/meld/pkg/fingerprint"
	"github.com/scenescout/meld/pkg/models"
	"github.com/scenescout/meld/pkg/normalizers"
)

var eventColumns = []string{
	"id", "title", "description", "start_time", "end_time",
	"venue_name", "address", "city", "normalized_city", "lat", "lng",
	"price_min", "price_max", "currency", "is_free", "category", "tags",
	"source", "source_quality", "content_hash", "superseded_by",
	"ingested_at", "updated_at", "merged_from", "merged_at",
}

// Repository handles event record persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new event repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Upsert inserts or updates an event. The stored content hash gates the
// update: a record whose match-relevant fields are unchanged is left alone.
// Returns whether the row was written.
func (r *Repository) Upsert(ctx context.Context, event *models.EventRecord) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.Upsert")
	defer span.End()

	row, err := toRow(event)
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid event record: %v", err))
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("events")
	sb.Cols(eventColumns...)
	sb.Values(
		row.ID, row.Title, row.Description, row.StartTime, row.EndTime,
		row.VenueName, row.Address, row.City, row.NormalizedCity, row.Lat, row.Lng,
		row.PriceMin, row.PriceMax, row.Currency, row.IsFree, row.Category, row.Tags,
		row.Source, row.SourceQuality, row.ContentHash, row.SupersededBy,
		row.IngestedAt, row.UpdatedAt, row.MergedFrom, row.MergedAt,
	)

	query, args := sb.Build()
	query += ` ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		description = EXCLUDED.description,
		start_time = EXCLUDED.start_time,
		end_time = EXCLUDED.end_time,
		venue_name = EXCLUDED.venue_name,
		address = EXCLUDED.address,
		city = EXCLUDED.city,
		normalized_city = EXCLUDED.normalized_city,
		lat = EXCLUDED.lat,
		lng = EXCLUDED.lng,
		price_min = EXCLUDED.price_min,
		price_max = EXCLUDED.price_max,
		currency = EXCLUDED.currency,
		is_free = EXCLUDED.is_free,
		category = EXCLUDED.category,
		tags = EXCLUDED.tags,
		source = EXCLUDED.source,
		source_quality = EXCLUDED.source_quality,
		content_hash = EXCLUDED.content_hash,
		updated_at = EXCLUDED.updated_at,
		merged_from = EXCLUDED.merged_from,
		merged_at = EXCLUDED.merged_at
		WHERE events.content_hash IS DISTINCT FROM EXCLUDED.content_hash`

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"event_id": event.ID}).Error("Failed to upsert event")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert event")
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// Get retrieves an event by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.EventRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(eventColumns...)
	sb.From("events")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var row eventRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("event %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get event")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get event")
	}

	return row.toModel()
}

// ListCandidates returns active events in the given city whose start time
// falls inside the window. The window feeds the clustering pre-filter, so
// callers size it wider than the scoring horizon.
func (r *Repository) ListCandidates(ctx context.Context, city string, from, to time.Time, limit int) ([]*models.EventRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.ListCandidates")
	defer span.End()

	if limit < 1 || limit > 5000 {
		limit = 1000
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(eventColumns...)
	sb.From("events")
	where := []string{
		sb.IsNull("superseded_by"),
		sb.GreaterEqualThan("start_time", from),
		sb.LessEqualThan("start_time", to),
	}
	if city != "" {
		where = append(where, sb.Equal("normalized_city", normalizers.NormalizeCity(city)))
	}
	sb.Where(where...)
	sb.OrderBy("start_time ASC", "id ASC")
	sb.Limit(limit)

	query, args := sb.Build()
	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list candidate events")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list candidate events")
	}

	return rowsToModels(rows)
}

// ListActive returns active (non-superseded) events for full-scan passes.
func (r *Repository) ListActive(ctx context.Context, limit int) ([]*models.EventRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.ListActive")
	defer span.End()

	if limit < 1 || limit > 10000 {
		limit = 5000
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(eventColumns...)
	sb.From("events")
	sb.Where(sb.IsNull("superseded_by"))
	sb.OrderBy("ingested_at ASC", "id ASC")
	sb.Limit(limit)

	query, args := sb.Build()
	var rows []eventRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list active events")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list active events")
	}

	return rowsToModels(rows)
}

// MarkSuperseded marks folded duplicates as superseded by the surviving
// primary. Superseded events drop out of candidate listings but stay
// readable for audit lookups.
func (r *Repository) MarkSuperseded(ctx context.Context, ids []string, primaryID string) error {
	ctx, span := tracing.StartSpan(ctx, "event.Repository.MarkSuperseded")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("events")
	sb.Set(
		sb.Assign("superseded_by", primaryID),
		sb.Assign("updated_at", now),
	)
	sb.Where(sb.In("id", idsToAny(ids)...))

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"primary_id": primaryID}).Error("Failed to mark events superseded")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark events superseded")
	}

	return nil
}

// eventRow is the flat database shape of an event record.
type eventRow struct {
	ID             string          `db:"id"`
	Title          string          `db:"title"`
	Description    sql.NullString  `db:"description"`
	StartTime      time.Time       `db:"start_time"`
	EndTime        sql.NullTime    `db:"end_time"`
	VenueName      sql.NullString  `db:"venue_name"`
	Address        sql.NullString  `db:"address"`
	City           sql.NullString  `db:"city"`
	NormalizedCity sql.NullString  `db:"normalized_city"`
	Lat            sql.NullFloat64 `db:"lat"`
	Lng            sql.NullFloat64 `db:"lng"`
	PriceMin       sql.NullFloat64 `db:"price_min"`
	PriceMax       sql.NullFloat64 `db:"price_max"`
	Currency       sql.NullString  `db:"currency"`
	IsFree         bool            `db:"is_free"`
	Category       sql.NullString  `db:"category"`
	Tags           []byte          `db:"tags"`
	Source         string          `db:"source"`
	SourceQuality  float64         `db:"source_quality"`
	ContentHash    string          `db:"content_hash"`
	SupersededBy   sql.NullString  `db:"superseded_by"`
	IngestedAt     time.Time       `db:"ingested_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
	MergedFrom     []byte          `db:"merged_from"`
	MergedAt       sql.NullTime    `db:"merged_at"`
}

func toRow(event *models.EventRecord) (*eventRow, error) {
	tags, err := json.Marshal(event.Tags)
	if err != nil {
		return nil, err
	}
	mergedFrom, err := json.Marshal(event.MergedFrom)
	if err != nil {
		return nil, err
	}

	row := &eventRow{
		ID:             event.ID,
		Title:          event.Title,
		Description:    nullString(event.Description),
		StartTime:      event.StartTime.UTC(),
		VenueName:      nullString(event.VenueName),
		Address:        nullString(event.Address),
		City:           nullString(event.City),
		NormalizedCity: nullString(normalizers.NormalizeCity(event.City)),
		Currency:       nullString(event.Currency),
		IsFree:         event.IsFree,
		Category:       nullString(event.Category),
		Tags:           tags,
		Source:         event.Source,
		SourceQuality:  event.SourceQuality,
		ContentHash:    fingerprint.ContentHash(event),
		IngestedAt:     event.IngestedAt.UTC(),
		UpdatedAt:      event.UpdatedAt.UTC(),
		MergedFrom:     mergedFrom,
	}
	if event.EndTime != nil {
		row.EndTime = sql.NullTime{Time: event.EndTime.UTC(), Valid: true}
	}
	if event.Coordinates != nil {
		row.Lat = sql.NullFloat64{Float64: event.Coordinates.Lat, Valid: true}
		row.Lng = sql.NullFloat64{Float64: event.Coordinates.Lng, Valid: true}
	}
	if event.PriceMin != nil {
		row.PriceMin = sql.NullFloat64{Float64: *event.PriceMin, Valid: true}
	}
	if event.PriceMax != nil {
		row.PriceMax = sql.NullFloat64{Float64: *event.PriceMax, Valid: true}
	}
	if event.MergedAt != nil {
		row.MergedAt = sql.NullTime{Time: event.MergedAt.UTC(), Valid: true}
	}
	return row, nil
}

func (row *eventRow) toModel() (*models.EventRecord, error) {
	event := &models.EventRecord{
		ID:            row.ID,
		Title:         row.Title,
		Description:   row.Description.String,
		StartTime:     row.StartTime,
		VenueName:     row.VenueName.String,
		Address:       row.Address.String,
		City:          row.City.String,
		Currency:      row.Currency.String,
		IsFree:        row.IsFree,
		Category:      row.Category.String,
		Source:        row.Source,
		SourceQuality: row.SourceQuality,
		IngestedAt:    row.IngestedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if row.EndTime.Valid {
		t := row.EndTime.Time
		event.EndTime = &t
	}
	if row.Lat.Valid && row.Lng.Valid {
		event.Coordinates = &models.Coordinates{Lat: row.Lat.Float64, Lng: row.Lng.Float64}
	}
	if row.PriceMin.Valid {
		v := row.PriceMin.Float64
		event.PriceMin = &v
	}
	if row.PriceMax.Valid {
		v := row.PriceMax.Float64
		event.PriceMax = &v
	}
	if row.MergedAt.Valid {
		t := row.MergedAt.Time
		event.MergedAt = &t
	}
	if len(row.Tags) > 0 {
		if err := json.Unmarshal(row.Tags, &event.Tags); err != nil {
			return nil, fmt.Errorf("decoding tags for event %s: %w", row.ID, err)
		}
	}
	if len(row.MergedFrom) > 0 {
		if err := json.Unmarshal(row.MergedFrom, &event.MergedFrom); err != nil {
			return nil, fmt.Errorf("decoding merged_from for event %s: %w", row.ID, err)
		}
	}
	return event, nil
}

func rowsToModels(rows []eventRow) ([]*models.EventRecord, error) {
	events := make([]*models.EventRecord, 0, len(rows))
	for i := range rows {
		event, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func idsToAny(ids []string) []any {
	result := make([]any, len(ids))
	for i, id := range ids {
		result[i] = id
	}
	return result
}
