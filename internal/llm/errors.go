package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// FailoverReason categorizes why a provider request failed, driving the
// adapter-level retry decision.
type FailoverReason string

const (
	ReasonRateLimit        FailoverReason = "rate_limit"
	ReasonAuth             FailoverReason = "auth"
	ReasonTimeout          FailoverReason = "timeout"
	ReasonServerError      FailoverReason = "server_error"
	ReasonInvalidRequest   FailoverReason = "invalid_request"
	ReasonModelUnavailable FailoverReason = "model_unavailable"
	ReasonUnknown          FailoverReason = "unknown"
)

// IsRetryable reports whether retrying the same request may succeed.
func (r FailoverReason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError:
		return true
	default:
		return false
	}
}

// ClassifyStatus maps an HTTP status code to a failover reason.
func ClassifyStatus(status int) FailoverReason {
	switch {
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ReasonTimeout
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status == http.StatusBadRequest:
		return ReasonInvalidRequest
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// ProviderError is a structured error from an LLM provider adapter. It ends
// the current turn; retries happen inside the adapter before it is returned.
type ProviderError struct {
	Reason   FailoverReason
	Provider string
	Model    string
	Status   int
	Message  string
	Cause    error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// AsProviderError extracts a *ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Protocol error kinds raised by the assembler.
const (
	ProtocolMissingIdentity    = "missing_identity"
	ProtocolMalformedArguments = "malformed_arguments"
	ProtocolDuplicateID        = "duplicate_id"
)

// ProtocolError means the model's control channel could not be verified.
// There is no silent recovery: the turn terminates with a typed error rather
// than a best-effort partial call.
type ProtocolError struct {
	Kind   string
	Index  int
	CallID string
	Detail string
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol_error: %s (slot %d", e.Kind, e.Index)
	if e.CallID != "" {
		msg += ", call " + e.CallID
	}
	msg += ")"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// AsProtocolError extracts a *ProtocolError from an error chain.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
