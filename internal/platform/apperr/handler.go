package apperr

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Body is the JSON shape of every error response.
type Body struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// HTTPErrorHandler renders *Error values and echo HTTP errors as Body.
// Store and unclassified errors are logged with their cause and reported to
// the client with a generic message.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		body := Body{Message: "internal server error", Code: "internal_error"}

		var he *echo.HTTPError
		var ae *Error
		switch {
		case errors.As(err, &ae):
			status = HTTPStatus(ae)
			body.Code = ae.Code
			if status == http.StatusInternalServerError {
				body.Message = "error talking to the store, please try again"
			} else {
				body.Message = ae.Msg
			}
		case errors.As(err, &he):
			status = he.Code
			body.Code = StatusCode(he.Code)
			if msg, ok := he.Message.(string); ok {
				body.Message = msg
			} else {
				body.Message = http.StatusText(he.Code)
			}
		}

		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}

// StatusCode renders an HTTP status as a snake_case code, e.g. "bad_request".
func StatusCode(status int) string {
	return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}
