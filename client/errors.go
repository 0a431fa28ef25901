package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeHTTPError    = "HTTP_ERROR"
	TextCodeNetworkError = "NETWORK_ERROR"
	TextCodeDecodeError  = "DECODE_ERROR"
	TextCodeEncodeError  = "ENCODE_ERROR"
)

// errorBody is the error envelope returned by the backend.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// newHTTPError builds the error for a non 2xx response. The message comes
// from the body when the backend sent one.
func newHTTPError(method, path string, status int, body []byte) *goerrors.Error {
	message := fmt.Sprintf("request failed with status %d", status)

	var envelope errorBody
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch {
		case strings.TrimSpace(envelope.Error) != "":
			message = envelope.Error
		case strings.TrimSpace(envelope.Message) != "":
			message = envelope.Message
		}
	}

	return goerrors.New(message, categoryForStatus(status)).
		WithCode(status).
		WithTextCode(TextCodeHTTPError).
		WithMetadata(map[string]any{
			"method": method,
			"path":   path,
			"status": status,
		})
}

func newNetworkError(method, path string, err error) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, "Network error. Please check your connection.").
		WithTextCode(TextCodeNetworkError).
		WithMetadata(map[string]any{
			"method": method,
			"path":   path,
		})
}

func categoryForStatus(status int) goerrors.Category {
	switch status {
	case http.StatusBadRequest:
		return goerrors.CategoryBadInput
	case http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case http.StatusForbidden:
		return goerrors.CategoryAuthz
	case http.StatusNotFound:
		return goerrors.CategoryNotFound
	case http.StatusConflict:
		return goerrors.CategoryConflict
	case http.StatusUnprocessableEntity:
		return goerrors.CategoryValidation
	case http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	default:
		return goerrors.CategoryInternal
	}
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var richErr *goerrors.Error
	if errors.As(err, &richErr) && richErr != nil && richErr.TextCode == TextCodeHTTPError {
		return richErr.Code
	}
	return 0
}

// IsNetworkError reports whether err is a transport failure.
func IsNetworkError(err error) bool {
	var richErr *goerrors.Error
	if errors.As(err, &richErr) && richErr != nil {
		return richErr.TextCode == TextCodeNetworkError
	}
	return false
}

// IsUnauthorized reports whether err is a 401 response.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}
