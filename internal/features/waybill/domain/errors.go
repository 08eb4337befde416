package domain

import (
	"net/http"
	"strconv"
	"strings"
)

// CodedError is a stable, client-visible error. The code format is
// "<httpStatus>-<sequence>" and never changes once published.
type CodedError struct {
	// Code is the stable error code, e.g. "404-01".
	Code string `json:"code"`
	// Message is the human-readable description.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	return e.Code + " " + e.Message
}

var (
	// ErrMissingSlug is returned when the tracking slug is empty or absent.
	ErrMissingSlug = &CodedError{Code: "400-01", Message: "tracking slug is required"}
	// ErrBadTrackingNum is returned when the tracking number does not match the carrier's format.
	ErrBadTrackingNum = &CodedError{Code: "400-02", Message: "tracking number does not match carrier format"}
	// ErrMissingParam is returned when a carrier-required extra parameter is missing or empty.
	ErrMissingParam = &CodedError{Code: "400-03", Message: "required carrier parameter is missing"}
	// ErrUnknownCarrier is returned when the slug names a carrier outside the registered set.
	ErrUnknownCarrier = &CodedError{Code: "400-04", Message: "unknown carrier code"}
	// ErrMalformedSlug is returned when the slug cannot be split into carrier and number.
	ErrMalformedSlug = &CodedError{Code: "400-05", Message: "malformed tracking slug"}
	// ErrNoTrackingData is returned when the carrier has no scan entries for the shipment.
	ErrNoTrackingData = &CodedError{Code: "404-01", Message: "no tracking data found"}
	// ErrUpstreamFailure is returned when the carrier call fails transiently (network, auth, 5xx).
	ErrUpstreamFailure = &CodedError{Code: "502-01", Message: "carrier request failed"}
	// ErrOperatorInactive is returned when the target carrier has no credentials configured.
	ErrOperatorInactive = &CodedError{Code: "503-01", Message: "carrier is not available"}
)

// HTTPStatus extracts the HTTP status encoded in a CodedError code.
// Unparsable codes fall back to 500.
func (e *CodedError) HTTPStatus() int {
	prefix, _, found := strings.Cut(e.Code, "-")
	if !found {
		return http.StatusInternalServerError
	}
	status, err := strconv.Atoi(prefix)
	if err != nil || status < 100 || status > 599 {
		return http.StatusInternalServerError
	}
	return status
}
