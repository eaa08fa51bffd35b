// Package appliance talks to the routing appliance's HTML administration
// surface: it fetches server-rendered forms, pulls the security token and
// record id out of them, builds the multipart submissions the appliance
// expects, and classifies the often ambiguous responses.
package appliance

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for failure classification.
// Use errors.Is(err, appliance.ErrSession) to check.
var (
	ErrTokenNotFound      = errors.New("appliance: security token not found in page")
	ErrSession            = errors.New("appliance: session expired or unauthorized")
	ErrValidation         = errors.New("appliance: validation failed")
	ErrNotFound           = errors.New("appliance: record not found")
	ErrServerError        = errors.New("appliance: server error")
	ErrServiceUnavailable = errors.New("appliance: service unavailable")
	ErrTimeout            = errors.New("appliance: request timed out")
	ErrConnectionRefused  = errors.New("appliance: connection refused")
	ErrNetwork            = errors.New("appliance: network error")
	ErrRequest            = errors.New("appliance: request failed")
	ErrBusy               = errors.New("appliance: another write operation is in progress")
)

// Error wraps a sentinel error with the HTTP status code, a message suitable
// for logs and banners, and an excerpt of the raw response body.
type Error struct {
	StatusCode int
	Message    string
	Excerpt    string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%v (HTTP %d): %s", e.Err, e.StatusCode, e.Message)
	}

	if e.Message == "" {
		return e.Err.Error()
	}

	return fmt.Sprintf("%v: %s", e.Err, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classifyStatus maps a non-success HTTP status code to a sentinel error.
func classifyStatus(code int) error {
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrSession
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnprocessableEntity:
		return ErrValidation
	case http.StatusRequestTimeout:
		return ErrTimeout
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ErrServiceUnavailable
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return ErrRequest
	}
}

// sessionPhrases are lowercase fragments that identify a session-related
// failure in an error message or response body.
var sessionPhrases = []string{
	"session expired",
	"session has expired",
	"authentication failed",
	"redirect to login",
	"redirected to login",
	"missing security token",
	"missing authenticity token",
	"invalid authenticity token",
	"invalidauthenticitytoken",
	"unauthorized",
	"forbidden",
}

// terminalSentinels are classifications that never count as session
// failures, whatever their message happens to contain.
var terminalSentinels = []error{
	ErrTokenNotFound,
	ErrValidation,
	ErrNotFound,
	ErrServerError,
	ErrServiceUnavailable,
	ErrTimeout,
	ErrConnectionRefused,
	ErrBusy,
}

// IsSessionError reports whether err indicates an expired or rejected
// session, which the retry layer answers by invalidating session state and
// re-extracting a token. Errors without an HTTP status are matched by
// message.
func IsSessionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrSession) {
		return true
	}

	for _, s := range terminalSentinels {
		if errors.Is(err, s) {
			return false
		}
	}

	// A response status already decided the classification.
	if StatusOf(err) != 0 {
		return false
	}

	return containsSessionPhrase(err.Error())
}

func containsSessionPhrase(s string) bool {
	lower := strings.ToLower(s)

	for _, p := range sessionPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}

	return false
}

// UserMessage renders err as a one-line message for a status banner.
func UserMessage(err error) string {
	var detail string

	var aerr *Error
	if errors.As(err, &aerr) {
		detail = aerr.Message
	}

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return "Another update is already running; try again when it finishes."
	case errors.Is(err, ErrTokenNotFound):
		return "Could not find the security token on the appliance page; the page layout may have changed."
	case IsSessionError(err):
		return "The appliance session expired or the credentials were rejected."
	case errors.Is(err, ErrValidation):
		return withDetail("The appliance rejected the file", detail)
	case errors.Is(err, ErrNotFound):
		return "The record no longer exists on the appliance."
	case errors.Is(err, ErrServiceUnavailable):
		return "The appliance is temporarily unavailable; try again shortly."
	case errors.Is(err, ErrServerError):
		return withDetail(fmt.Sprintf("The appliance reported a server error (HTTP %d)", StatusOf(err)), detail)
	case errors.Is(err, ErrTimeout):
		return "The request timed out; check your connection to the appliance."
	case errors.Is(err, ErrConnectionRefused):
		return "The appliance refused the connection; check the address and that it is running."
	default:
		return err.Error()
	}
}

func withDetail(msg, detail string) string {
	if detail == "" {
		return msg + "."
	}

	return msg + ": " + detail
}

// StatusOf returns the HTTP status code carried by err, or 0 when the
// failure happened before a response was received.
func StatusOf(err error) int {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.StatusCode
	}

	return 0
}

// ExcerptOf returns the response excerpt carried by err, if any.
func ExcerptOf(err error) string {
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Excerpt
	}

	return ""
}
