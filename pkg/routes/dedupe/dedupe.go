// Package dedupe exposes the duplicate check and merge operations over HTTP.
package dedupe

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/scenescout/meld/internal/appcontext"
	"github.com/scenescout/meld/internal/repositories/event"
	"github.com/scenescout/meld/pkg/dedup"
	"github.com/scenescout/meld/pkg/models"
)

var validate = validator.New()

// Register registers dedup routes
func Register(g *echo.Group) {
	g.POST("/check", CheckForDuplicates)
	g.POST("/decisions", CreateMergeDecision)
	g.POST("/decisions/execute", ExecuteMerge)
	g.POST("/batch", BatchProcess)
	g.GET("/metrics", GetMetrics)
}

// CheckRequest carries a target event and an optional explicit candidate
// pool. Without candidates the stored pool around the target's window is
// used.
type CheckRequest struct {
	Target     models.EventRecord   `json:"target" validate:"required"`
	Candidates []models.EventRecord `json:"candidates,omitempty"`
}

// CheckForDuplicates scores the target against the candidate pool.
func CheckForDuplicates(c echo.Context) error {
	ctx := c.Request().Context()

	var req CheckRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Target.ID == "" || req.Target.Title == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "target event requires id and title")
	}

	ctx, system, err := ectoinject.GetContext[*dedup.System](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "dedup system unavailable")
	}

	candidates := make([]*models.EventRecord, 0, len(req.Candidates))
	for i := range req.Candidates {
		candidates = append(candidates, &req.Candidates[i])
	}

	if len(candidates) == 0 {
		ctx, repo, err := ectoinject.GetContext[*event.Repository](ctx)
		if err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "event repository unavailable")
		}
		cfg := system.Config()
		horizon := cfg.Algorithms.DateHorizonDays
		from := req.Target.StartTime.AddDate(0, 0, -horizon-1)
		to := req.Target.StartTime.AddDate(0, 0, horizon+1)
		candidates, err = repo.ListCandidates(ctx, req.Target.City, from, to, 1000)
		if err != nil {
			return err
		}
	}

	result := system.CheckForDuplicates(ctx, &req.Target, candidates)
	return c.JSON(http.StatusOK, result)
}

// DecisionRequest names the events to merge and the strategy to apply.
// An empty duplicate list builds an identity decision over the primary.
type DecisionRequest struct {
	PrimaryEventID    string                   `json:"primary_event_id" validate:"required"`
	DuplicateEventIDs []string                 `json:"duplicate_event_ids,omitempty"`
	Strategy          models.MergeStrategyType `json:"strategy,omitempty"`
}

// CreateMergeDecision builds a merge decision from stored events.
func CreateMergeDecision(c echo.Context) error {
	ctx := c.Request().Context()

	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, repo, err := ectoinject.GetContext[*event.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "event repository unavailable")
	}
	ctx, system, err := ectoinject.GetContext[*dedup.System](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "dedup system unavailable")
	}

	primary, err := repo.Get(ctx, req.PrimaryEventID)
	if err != nil {
		return err
	}
	duplicates := make([]*models.EventRecord, 0, len(req.DuplicateEventIDs))
	for _, id := range req.DuplicateEventIDs {
		dup, err := repo.Get(ctx, id)
		if err != nil {
			return err
		}
		duplicates = append(duplicates, dup)
	}

	decision, err := system.CreateMergeDecision(ctx, primary, duplicates, req.Strategy)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return c.JSON(http.StatusCreated, decision)
}

// ExecuteRequest carries a decision, optionally with manual field values
// supplied by a reviewer.
type ExecuteRequest struct {
	Decision         models.MergeDecision `json:"decision" validate:"required"`
	ManualValues     map[string]any       `json:"manual_values,omitempty"`
	SupersedeInStore bool                 `json:"supersede_in_store"`
}

// ExecuteMerge validates and executes a merge decision. With
// supersede_in_store set, the merged record is written back and the folded
// duplicates are marked superseded.
func ExecuteMerge(c echo.Context) error {
	ctx := c.Request().Context()
	actorID := appcontext.GetActorID(ctx)
	if actorID == "" {
		actorID = "api"
	}

	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	for field, value := range req.ManualValues {
		req.Decision.ResolveManually(field, value, actorID)
	}

	ctx, system, err := ectoinject.GetContext[*dedup.System](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "dedup system unavailable")
	}

	result := system.ExecuteMerge(ctx, &req.Decision, actorID)
	if !result.Success {
		return c.JSON(http.StatusUnprocessableEntity, result)
	}

	if req.SupersedeInStore {
		ctx, repo, err := ectoinject.GetContext[*event.Repository](ctx)
		if err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "event repository unavailable")
		}
		if _, err := repo.Upsert(ctx, result.MergedEvent); err != nil {
			return err
		}
		if err := repo.MarkSuperseded(ctx, req.Decision.DuplicateEventIDs, req.Decision.PrimaryEventID); err != nil {
			return err
		}
	}

	return c.JSON(http.StatusOK, result)
}

// BatchRequest triggers a bulk dedup pass over stored events.
type BatchRequest struct {
	Mode  string `json:"mode" validate:"required,oneof=batch full_scan"`
	Limit int    `json:"limit,omitempty"`
}

// BatchProcess runs a bulk dedup pass over the active event set.
func BatchProcess(c echo.Context) error {
	ctx := c.Request().Context()

	var req BatchRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, repo, err := ectoinject.GetContext[*event.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "event repository unavailable")
	}
	ctx, system, err := ectoinject.GetContext[*dedup.System](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "dedup system unavailable")
	}

	events, err := repo.ListActive(ctx, req.Limit)
	if err != nil {
		return err
	}

	result, err := system.BatchProcessEvents(ctx, events, req.Mode)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// GetMetrics returns engine performance counters.
func GetMetrics(c echo.Context) error {
	ctx := c.Request().Context()

	_, system, err := ectoinject.GetContext[*dedup.System](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "dedup system unavailable")
	}
	return c.JSON(http.StatusOK, system.GetPerformanceMetrics())
}
