package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
)

// StatusCode extracts the upstream HTTP status from a vendor error, or 0.
func StatusCode(err error) int {
	if err == nil {
		return 0
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode
	}
	var coded interface{ StatusCode() int }
	if errors.As(err, &coded) {
		return coded.StatusCode()
	}
	return 0
}

var retryableWords = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"overloaded",
	"unavailable",
	"capacity",
	"try again",
}

// IsRetryable reports whether err looks transient: HTTP 429 or 5xx, or
// rate-limit / overload / unavailable wording. It is informational only.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	switch status := StatusCode(err); {
	case status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable, status >= 500:
		return true
	}
	if llms.IsRateLimitError(err) || llms.IsProviderUnavailableError(err) || llms.IsQuotaExceededError(err) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && matchesRetryable(code) {
			return true
		}
	}
	return matchesRetryable(err.Error())
}

func matchesRetryable(s string) bool {
	s = strings.ToLower(s)
	for _, w := range retryableWords {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
