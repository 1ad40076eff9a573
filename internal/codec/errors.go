package codec

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// #region error-kind
// ErrorKind classifies a provider failure for retry and breaker decisions.
type ErrorKind string

const (
	KindNone        ErrorKind = ""
	KindTimeout     ErrorKind = "timeout"
	KindServer      ErrorKind = "server_error"
	KindRateLimited ErrorKind = "rate_limited"
	KindConnection  ErrorKind = "connection"
	KindClient      ErrorKind = "client_error"
	KindCanceled    ErrorKind = "canceled"
	KindEmpty       ErrorKind = "empty_response"
)

// Transient reports whether a failure of this kind may succeed on retry and
// counts against the provider's breaker.
func (k ErrorKind) Transient() bool {
	switch k {
	case KindTimeout, KindServer, KindRateLimited, KindConnection, KindEmpty:
		return true
	}
	return false
}

// #endregion error-kind

// #region provider-error
// ProviderError wraps a provider failure with its classification.
type ProviderError struct {
	Provider   string
	StatusCode int
	Kind       ErrorKind
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// wrapError classifies err and wraps it for the named provider.
func wrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	pe := &ProviderError{Provider: provider, Kind: Classify(err), Err: err}
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		pe.StatusCode = oaErr.StatusCode
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		pe.StatusCode = anErr.StatusCode
	}
	return pe
}

// #endregion provider-error

// #region classify
// Classify maps an error from any provider client to an ErrorKind.
// Unknown errors without an API response are treated as connection failures.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}

	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return classifyStatus(oaErr.StatusCode)
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return classifyStatus(anErr.StatusCode)
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.DeadlineExceeded:
			return KindTimeout
		case codes.Unavailable:
			return KindConnection
		case codes.ResourceExhausted:
			return KindRateLimited
		case codes.Internal, codes.Aborted, codes.DataLoss:
			return KindServer
		case codes.Canceled:
			return KindCanceled
		default:
			return KindClient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindConnection
}

func classifyStatus(code int) ErrorKind {
	switch {
	case code == 408:
		return KindTimeout
	case code == 429:
		return KindRateLimited
	case code >= 500:
		return KindServer
	case code == 0:
		return KindConnection
	default:
		return KindClient
	}
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return Classify(err).Transient()
}

// #endregion classify
