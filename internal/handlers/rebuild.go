package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/discovery"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/rebuild"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/repositories/runs"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/tracing"
)

// Rebuilder is the engine surface the handlers drive
type Rebuilder interface {
	Rebuild(ctx context.Context, req rebuild.Request) (*rebuild.Result, error)
	RefreshOngoing(ctx context.Context, req rebuild.RefreshRequest) (*rebuild.Result, error)
	PlanRange(ctx context.Context, req rebuild.Request) (discovery.Range, error)
	LastResult() *rebuild.Result
}

// RunLister reads the persisted run history
type RunLister interface {
	List(ctx context.Context, filter runs.ListFilter) ([]models.RebuildRun, error)
}

// RebuildHandler handles rebuild, refresh and discovery endpoints
type RebuildHandler struct {
	engine  Rebuilder
	runs    RunLister
	timeout time.Duration
	logger  ectologger.Logger
}

// NewRebuildHandler creates a new rebuild handler. runs may be nil when no
// run history is configured.
func NewRebuildHandler(engine Rebuilder, runs RunLister, timeout time.Duration, logger ectologger.Logger) *RebuildHandler {
	return &RebuildHandler{
		engine:  engine,
		runs:    runs,
		timeout: timeout,
		logger:  logger,
	}
}

// RebuildRequest is the POST /v1/rebuilds body. Everything is optional: an
// empty body runs an incremental rebuild of the caller's scope.
type RebuildRequest struct {
	ParticipantIDs []string `json:"participant_ids" validate:"omitempty,dive,required,numeric"`
	StartID        int64    `json:"start_id" validate:"gte=0"`
	EndID          int64    `json:"end_id" validate:"gte=0"`
	FullHistory    bool     `json:"full_history"`
	MaxPages       int      `json:"max_pages" validate:"gte=0,lte=1000"`
}

// RefreshRequest is the POST /v1/refresh body
type RefreshRequest struct {
	MaxPages int `json:"max_pages" validate:"gte=0,lte=1000"`
}

// ListRunsRequest is the GET /v1/rebuilds/runs query
type ListRunsRequest struct {
	ParticipantID string `query:"participant_id" validate:"omitempty,numeric"`
	Kind          string `query:"kind" validate:"omitempty,oneof=rebuild refresh"`
	Limit         int    `query:"limit" validate:"gte=0,lte=500"`
}

// NextRangeRequest is the GET /v1/discovery/next-range query
type NextRangeRequest struct {
	FullHistory bool `query:"full_history"`
}

// RunResponse is a finished run as returned to callers
type RunResponse struct {
	*rebuild.Result
	PublishError string `json:"publish_error,omitempty"`
}

// RangeResponse describes a planned scan
type RangeResponse struct {
	discovery.Range
	Size int64 `json:"size"`
}

// Register registers rebuild routes
func (h *RebuildHandler) Register(g *echo.Group) {
	g.POST("/rebuilds", h.Rebuild)
	g.GET("/rebuilds/last", h.Last)
	g.GET("/rebuilds/last/snapshot.csv", h.LastSnapshot)
	g.GET("/rebuilds/runs", h.ListRuns)
	g.POST("/refresh", h.Refresh)
	g.GET("/discovery/next-range", h.NextRange)
}

// Rebuild runs a rebuild in the caller's scope and waits for it to finish
func (h *RebuildHandler) Rebuild(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RebuildHandler.Rebuild")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	body, err := BindRequest[RebuildRequest](c)
	if err != nil {
		return err
	}
	if body.StartID > 0 && body.EndID > 0 && body.EndID < body.StartID {
		return BadRequest("end_id must not be lower than start_id")
	}

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	caller := GetCaller(c)
	result, err := h.engine.Rebuild(ctx, rebuild.Request{
		Role:           caller.Role,
		ParticipantID:  caller.ParticipantID,
		ParticipantIDs: body.ParticipantIDs,
		StartID:        body.StartID,
		EndID:          body.EndID,
		FullHistory:    body.FullHistory,
		MaxPages:       body.MaxPages,
	})
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Warn("Rebuild did not complete")
		return MapError(err)
	}

	return SuccessResponse(c, toRunResponse(result))
}

// Refresh re-fetches the caller's ongoing events
func (h *RebuildHandler) Refresh(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RebuildHandler.Refresh")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	body, err := BindRequest[RefreshRequest](c)
	if err != nil {
		return err
	}

	ctx, cancel := h.withTimeout(ctx)
	defer cancel()

	caller := GetCaller(c)
	result, err := h.engine.RefreshOngoing(ctx, rebuild.RefreshRequest{
		Role:          caller.Role,
		ParticipantID: caller.ParticipantID,
		MaxPages:      body.MaxPages,
	})
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Warn("Refresh did not complete")
		return MapError(err)
	}

	return SuccessResponse(c, toRunResponse(result))
}

// Last returns the most recent finished run visible to the caller
func (h *RebuildHandler) Last(c echo.Context) error {
	_, span := tracing.StartSpan(c.Request().Context(), "RebuildHandler.Last")
	defer span.End()

	result, err := h.lastVisible(c)
	if err != nil {
		return err
	}
	return SuccessResponse(c, toRunResponse(result))
}

// LastSnapshot downloads the merged records of the most recent run. This is
// the recovery path when publishing failed.
func (h *RebuildHandler) LastSnapshot(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RebuildHandler.LastSnapshot")
	defer span.End()

	if err := RequireOperator(c); err != nil {
		return err
	}

	result, err := h.lastVisible(c)
	if err != nil {
		return err
	}
	if result.Restored {
		return NotFound("records of a run from another process are not retained")
	}

	body, err := result.CSV()
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to encode last snapshot")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode snapshot")
	}
	return CSVResponse(c, fmt.Sprintf("snapshot-%s-%s.csv", result.Kind, result.RunID), body)
}

// ListRuns returns the persisted run history
func (h *RebuildHandler) ListRuns(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RebuildHandler.ListRuns")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	if err := RequireOperator(c); err != nil {
		return err
	}
	if h.runs == nil {
		return httperror.NewHTTPError(http.StatusNotImplemented, "run history is not configured")
	}

	query, err := BindRequest[ListRunsRequest](c)
	if err != nil {
		return err
	}

	list, err := h.runs.List(ctx, runs.ListFilter{
		ParticipantID: query.ParticipantID,
		Kind:          models.RunKind(query.Kind),
		Limit:         query.Limit,
	})
	if err != nil {
		return err
	}
	return SuccessResponse(c, list)
}

// NextRange reports the range the caller's next rebuild would scan
func (h *RebuildHandler) NextRange(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RebuildHandler.NextRange")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	query, err := BindRequest[NextRangeRequest](c)
	if err != nil {
		return err
	}

	caller := GetCaller(c)
	rng, err := h.engine.PlanRange(ctx, rebuild.Request{
		Role:          caller.Role,
		ParticipantID: caller.ParticipantID,
		FullHistory:   query.FullHistory,
	})
	if err != nil {
		return MapError(err)
	}
	return SuccessResponse(c, RangeResponse{Range: rng, Size: rng.Len()})
}

func (h *RebuildHandler) lastVisible(c echo.Context) (*rebuild.Result, error) {
	result := h.engine.LastResult()
	if result == nil {
		return nil, NotFound("no run has finished yet")
	}

	caller := GetCaller(c)
	if !caller.Role.IsOperator() && result.ParticipantID != caller.ParticipantID {
		return nil, NotFound("no run has finished yet")
	}
	return result, nil
}

func (h *RebuildHandler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.timeout)
}

func toRunResponse(result *rebuild.Result) RunResponse {
	resp := RunResponse{Result: result}
	if result.PublishError != nil {
		resp.PublishError = result.PublishError.Error()
	}
	return resp
}
