package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
)

// Kind classifies why a model call failed.
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindNetwork     Kind = "network"
	KindUnavailable Kind = "unavailable"
	KindTimeout     Kind = "timeout"
	KindUnknown     Kind = "unknown"
)

// Error is a classified provider failure.
type Error struct {
	Kind     Kind
	Provider string
	Err      error
}

func (e *Error) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("llm: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("llm: %s %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the Kind of err. Unclassified errors are KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return classify(err)
}

// IsRateLimited reports whether err means the provider is throttling us.
func IsRateLimited(err error) bool {
	return err != nil && KindOf(err) == KindRateLimited
}

// Classify wraps err in an *Error tagged with provider. Already classified
// errors are returned unchanged.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: classify(err), Provider: provider, Err: err}
}

func classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return kindForStatus(gErr.Code)
	}
	var oaErr *openai.APIError
	if errors.As(err, &oaErr) {
		return kindForStatus(oaErr.HTTPStatusCode)
	}
	var oaReqErr *openai.RequestError
	if errors.As(err, &oaReqErr) {
		return kindForStatus(oaReqErr.HTTPStatusCode)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
			return KindRateLimited
		case "ServiceUnavailableException", "ModelNotReadyException", "InternalServerException":
			return KindUnavailable
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	// Some SDK paths only surface the status in the message text.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "quota"), strings.Contains(msg, "resource_exhausted"):
		return KindRateLimited
	case strings.Contains(msg, "503"), strings.Contains(msg, "unavailable"):
		return KindUnavailable
	}
	return KindUnknown
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusGatewayTimeout || code == http.StatusRequestTimeout:
		return KindTimeout
	case code >= 500:
		return KindUnavailable
	default:
		return KindUnknown
	}
}
