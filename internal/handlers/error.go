package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/keyreply/internal/settings"
)

// ErrorResponse is the standard API error body (message only).
type ErrorResponse struct {
	Message string `json:"message"`
}

// settingsError maps store and edit errors onto HTTP statuses.
func settingsError(err error) error {
	switch {
	case errors.Is(err, settings.ErrInvalidSettings):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, settings.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
