// Package providers contains the clients for the external APIs the
// dashboard aggregates: PageSpeed Insights, New Relic NerdGraph, Azure Log
// Analytics, and the two AI analysis backends. Clients are stateless;
// credentials are passed per call and never stored.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// FailureKind classifies a provider call failure. Callers decide what to
// do with each kind; no client retries on its own.
type FailureKind string

const (
	FailureAuth      FailureKind = "AuthError"
	FailureRateLimit FailureKind = "RateLimited"
	FailureUpstream  FailureKind = "UpstreamError"
	FailureTimeout   FailureKind = "Timeout"
	FailureMalformed FailureKind = "MalformedResponse"
)

// Failure is the typed error returned by every provider client.
type Failure struct {
	Kind    FailureKind
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func newFailure(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsFailure unwraps err into a *Failure, or wraps it as an UpstreamError
// when it is some other error type.
func AsFailure(err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Kind: FailureUpstream, Message: err.Error()}
}

// failureFromStatus maps a non-2xx provider response to a Failure.
func failureFromStatus(provider string, status int, body []byte) *Failure {
	msg := fmt.Sprintf("%s returned status %d", provider, status)
	if len(body) > 0 {
		const maxBody = 512
		if len(body) > maxBody {
			body = body[:maxBody]
		}
		msg = fmt.Sprintf("%s: %s", msg, body)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Failure{Kind: FailureAuth, Message: msg}
	case status == http.StatusTooManyRequests:
		return &Failure{Kind: FailureRateLimit, Message: msg}
	default:
		return &Failure{Kind: FailureUpstream, Message: msg}
	}
}

// failureFromTransport maps a transport-level error (connection failure,
// deadline) to a Failure.
func failureFromTransport(provider string, ctx context.Context, err error) *Failure {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return newFailure(FailureTimeout, "request to %s timed out", provider)
	}
	if ctx.Err() != nil {
		return newFailure(FailureTimeout, "request to %s cancelled: %v", provider, ctx.Err())
	}
	return newFailure(FailureUpstream, "error calling %s: %v", provider, err)
}
