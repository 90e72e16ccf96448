package keypool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// Class is the pool's view of a failed call.
type Class int

const (
	// ClassUnavailable covers 5xx and transport failures: rotate, no penalty.
	ClassUnavailable Class = iota
	// ClassRateLimited is a 429: cooldown, then rotate.
	ClassRateLimited
	// ClassUnauthorized is a 401/403: disable the credential, then rotate.
	ClassUnauthorized
	// ClassClient is any other 4xx: the request itself is wrong, stop.
	ClassClient
	// ClassCanceled means the caller's context ended.
	ClassCanceled
)

func (c Class) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassClient:
		return "client_error"
	case ClassCanceled:
		return "canceled"
	}
	return "unavailable"
}

// StatusCoder is implemented by provider errors that know their HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// HTTPError is a provider failure with a known HTTP status.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("provider returned status code: %d: %s", e.Status, e.Message)
}

func (e *HTTPError) StatusCode() int { return e.Status }

var statusCodeExpr = regexp.MustCompile(`(?i)status(?:\s+code)?[:\s=]+(\d{3})`)

var (
	rateLimitMarkers    = []string{"rate limit", "ratelimit", "too many requests", "resource_exhausted", "resource exhausted", "quota"}
	unauthorizedMarkers = []string{"unauthorized", "invalid api key", "incorrect api key", "api key not valid", "permission denied", "forbidden"}
	unavailableMarkers  = []string{"service unavailable", "overloaded", "internal server error", "bad gateway", "gateway timeout"}
)

// StatusOf extracts an HTTP status from err, first through StatusCoder and
// then from the error text. It returns 0 when no status is known.
func StatusOf(err error) int {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	if m := statusCodeExpr.FindStringSubmatch(err.Error()); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			return code
		}
	}
	return 0
}

// Classify maps a provider error onto a pool decision.
func Classify(err error) Class {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassCanceled
	}

	switch status := StatusOf(err); {
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassUnauthorized
	case status >= 500:
		return ClassUnavailable
	case status >= 400:
		return ClassClient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, rateLimitMarkers):
		return ClassRateLimited
	case containsAny(msg, unauthorizedMarkers):
		return ClassUnauthorized
	case containsAny(msg, unavailableMarkers):
		return ClassUnavailable
	}
	return ClassUnavailable
}

// IsQuotaError reports whether err means the provider refused for quota or
// rate reasons, including the pool running out of usable credentials.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoCredentials) {
		return true
	}
	return Classify(err) == ClassRateLimited
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
