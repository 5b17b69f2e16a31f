package middleware

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/context"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/models"
)

const (
	// HeaderRole carries the caller's role, set by the auth proxy in front of the service
	HeaderRole = "X-Role"
	// HeaderParticipantID carries the caller's own participant id
	HeaderParticipantID = "X-Participant-ID"
)

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			role, err := models.ParseRole(req.Header.Get(HeaderRole))
			if err != nil {
				return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid %s header", HeaderRole)
			}

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, req.URL.Path)
			ctx = context.SetRemoteIP(ctx, c.RealIP())
			ctx = context.SetRole(ctx, role)
			ctx = context.SetParticipantID(ctx, req.Header.Get(HeaderParticipantID))

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
