package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ledger/ledger/internal/platform/apperr"
)

// responseStatus returns the status the client will see. When the handler
// returned an error the response has not been written yet; the error handler
// derives the status from the error.
func responseStatus(c echo.Context, err error) int {
	if err == nil || c.Response().Committed {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	if apperr.KindOf(err) != apperr.KindUnknown {
		return apperr.HTTPStatus(err)
	}
	return http.StatusInternalServerError
}
