package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/snapshot"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/timestamp"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/tracing"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/view"
)

// SnapshotReader loads the published snapshot
type SnapshotReader interface {
	Read(ctx context.Context) ([]models.Record, error)
}

// ParticipationHandler serves the role-scoped snapshot view
type ParticipationHandler struct {
	store  SnapshotReader
	now    func() time.Time
	logger ectologger.Logger
}

// NewParticipationHandler creates a new participation handler
func NewParticipationHandler(store SnapshotReader, now func() time.Time, logger ectologger.Logger) *ParticipationHandler {
	if now == nil {
		now = time.Now
	}
	return &ParticipationHandler{
		store:  store,
		now:    now,
		logger: logger,
	}
}

// ParticipationQuery is the query string of the participation endpoints.
// ParticipantID is only honored for operators.
type ParticipationQuery struct {
	ParticipantID string `query:"participant_id" validate:"omitempty,numeric"`
	From          string `query:"from"`
	To            string `query:"to"`
}

// ParticipationResponse wraps the visible rows
type ParticipationResponse struct {
	Rows  []view.Row `json:"rows"`
	Count int        `json:"count"`
}

// Register registers participation routes
func (h *ParticipationHandler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/export.csv", h.Export)
}

// List returns the rows visible to the caller with their derived columns
func (h *ParticipationHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ParticipationHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	rows, err := h.rows(c)
	if err != nil {
		return err
	}
	return SuccessResponse(c, ParticipationResponse{Rows: rows, Count: len(rows)})
}

// Export downloads the visible rows in snapshot format
func (h *ParticipationHandler) Export(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ParticipationHandler.Export")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	rows, err := h.rows(c)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := view.WriteCSV(&buf, rows); err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to encode participation export")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode export")
	}
	return CSVResponse(c, "participations.csv", buf.Bytes())
}

func (h *ParticipationHandler) rows(c echo.Context) ([]view.Row, error) {
	ctx := c.Request().Context()

	query, err := BindRequest[ParticipationQuery](c)
	if err != nil {
		return nil, err
	}

	caller := GetCaller(c)
	q := view.Query{Role: caller.Role, ParticipantID: caller.ParticipantID}
	if caller.Role.IsOperator() {
		q.ParticipantID = query.ParticipantID
	}
	if query.From != "" {
		if q.From, err = timestamp.ParseDate(query.From); err != nil {
			return nil, BadRequest(err.Error())
		}
	}
	if query.To != "" {
		if q.To, err = timestamp.ParseDate(query.To); err != nil {
			return nil, BadRequest(err.Error())
		}
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return nil, BadRequest("to must not be before from")
	}

	records, err := h.store.Read(ctx)
	if errors.Is(err, snapshot.ErrNotFound) {
		records = nil
	} else if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to read snapshot")
		return nil, httperror.NewHTTPError(http.StatusServiceUnavailable, "snapshot unavailable")
	}

	rows, err := view.Build(records, q, h.now())
	if err != nil {
		return nil, MapError(err)
	}
	return rows, nil
}
