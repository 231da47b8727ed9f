package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ledger/ledger/internal/platform/apperr"
	"github.com/ledger/ledger/internal/platform/audit"
)

// Audit records every POST and DELETE after the handler has run, so the
// entry carries the final status and outcome. Reads are not audited.
//
// Handlers publish the id they created or removed through c.Set("resource_id").
// A failing recorder is logged and does not change the response.
func Audit(logger zerolog.Logger, recorder audit.Recorder) echo.MiddlewareFunc {
	if recorder == nil {
		recorder = audit.NewLogRecorder(logger)
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			action := methodToAction(req.Method)
			if action == "" {
				return next(c)
			}

			err := next(c)

			entry := audit.Entry{
				Method:       req.Method,
				Path:         req.URL.Path,
				Action:       action,
				ResourceType: resourceType(req.URL.Path),
				ResourceID:   resourceID(c),
				Status:       responseStatus(c, err),
				Outcome:      outcome(err),
				RemoteIP:     c.RealIP(),
				Recorded:     time.Now().UTC(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			if recErr := recorder.Record(req.Context(), entry); recErr != nil {
				logger.Error().Err(recErr).
					Str("request_id", entry.RequestID).
					Msg("failed to record audit entry")
			}
			return err
		}
	}
}

func methodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodDelete:
		return "delete"
	}
	return ""
}

// resourceType is the first path segment: doctors, patients or reserve.
func resourceType(path string) string {
	seg := strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(seg, '/'); i >= 0 {
		seg = seg[:i]
	}
	return seg
}

func resourceID(c echo.Context) string {
	if id, ok := c.Get("resource_id").(string); ok && id != "" {
		return id
	}
	return c.Param("id")
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return apperr.StatusCode(he.Code)
	}
	return "internal_error"
}
