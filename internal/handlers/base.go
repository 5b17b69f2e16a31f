package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"

	appctx "github.com/masakikurihara-lgtm/sr-event-management/pkg/context"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/discovery"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/rebuild"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/view"
)

// Caller is the role and participant id attached to the request
type Caller struct {
	Role          models.Role
	ParticipantID string
}

// GetCaller extracts the caller scope set by the context middleware
func GetCaller(c echo.Context) Caller {
	ctx := c.Request().Context()
	return Caller{
		Role:          appctx.GetRole(ctx),
		ParticipantID: appctx.GetParticipantID(ctx),
	}
}

// RequireOperator rejects participants
func RequireOperator(c echo.Context) error {
	if !GetCaller(c).Role.IsOperator() {
		return Forbidden("operator role required")
	}
	return nil
}

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// CSVResponse sends a snapshot-format CSV as a download
func CSVResponse(c echo.Context, filename string, body []byte) error {
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, "text/csv; charset=utf-8", body)
}

// BadRequest returns a 400 Bad Request error
func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}

// Forbidden returns a 403 Forbidden error
func Forbidden(message string) error {
	return httperror.NewHTTPError(http.StatusForbidden, message)
}

// NotFound returns a 404 Not Found error
func NotFound(message string) error {
	return httperror.NewHTTPError(http.StatusNotFound, message)
}

// MapError translates engine and view errors to HTTP errors. Errors that
// already carry a status pass through.
func MapError(err error) error {
	if err == nil || httperror.IsHTTPError(err) {
		return err
	}

	switch {
	case errors.Is(err, rebuild.ErrRebuildInProgress):
		return httperror.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, rebuild.ErrSnapshotUnavailable):
		return httperror.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, rebuild.ErrForbidden):
		return httperror.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, rebuild.ErrInvalidRequest),
		errors.Is(err, view.ErrParticipantRequired),
		errors.Is(err, discovery.ErrInvalidRange),
		errors.Is(err, discovery.ErrRangeTooWide):
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return httperror.NewHTTPError(http.StatusGatewayTimeout, "operation timed out")
	case errors.Is(err, context.Canceled):
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "operation cancelled")
	}
	return err
}
