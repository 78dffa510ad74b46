package tube

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// StatusError is a non 200 response from the Data API or a caption source.
type StatusError struct {
	Code    int
	Reason  string
	Message string
	// DataAPI is set for Data API responses, only those can mean the quota is gone.
	DataAPI bool
}

func (e *StatusError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("status %d (%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

// Is lets errors.Is match the quota and not found sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrQuotaExceeded:
		return e.quotaExceeded()
	case ErrNotFound:
		return e.Code == http.StatusNotFound
	}
	return false
}

func (e *StatusError) quotaExceeded() bool {
	if !e.DataAPI || e.Code != http.StatusForbidden {
		return false
	}

	switch e.Reason {
	case "quotaExceeded", "dailyLimitExceeded", "":
		return true
	}
	return false
}

// Temporary reports whether the same request may succeed later.
func (e *StatusError) Temporary() bool {
	switch e.Code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	case http.StatusForbidden:
		return e.Reason == "rateLimitExceeded" || e.Reason == "userRateLimitExceeded"
	}
	return false
}

type resError struct {
	Error struct {
		Code    int
		Message string
		Errors  []struct {
			Reason string
		}
	}
}

func newStatusError(code int, body []byte) *StatusError {
	e := &StatusError{Code: code, Message: http.StatusText(code), DataAPI: true}

	var res resError
	if err := json.Unmarshal(body, &res); err == nil {
		if res.Error.Message != "" {
			e.Message = res.Error.Message
		}
		if len(res.Error.Errors) > 0 {
			e.Reason = res.Error.Errors[0].Reason
		}
	}

	return e
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}

	if errors.Is(err, ErrToManyRequests) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
