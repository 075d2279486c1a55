package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v5"
)

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotReady       = errors.New("chain_not_ready")
)

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(msg string) error {
	return invalidRequestError{msg: msg}
}

// APIError is the body of every non-2xx response.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg, "")
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg, "")
}

func writeError(c *echo.Context, status int, errType, msg, param string) error {
	return writeJSON(c, status, map[string]APIError{
		"error": {Message: msg, Type: errType, Param: param},
	})
}
