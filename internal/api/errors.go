package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/modmail/internal/modmail"
)

// httpError maps engine errors onto HTTP statuses.
func httpError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, modmail.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, modmail.ErrInvariantViolation),
		errors.Is(err, modmail.ErrThreadClosed),
		errors.Is(err, modmail.ErrStaleThread):
		status = http.StatusConflict
	case errors.Is(err, modmail.ErrUnresolvedRecipient):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, modmail.ErrEmptyMessage):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).
			Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
			Str("path", c.Path()).
			Msg("Request failed")
		return echo.NewHTTPError(status, "internal error")
	}
	return echo.NewHTTPError(status, err.Error())
}

func threadIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid thread id")
	}
	return id, nil
}
