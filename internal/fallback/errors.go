package fallback

import (
	"errors"
	"fmt"
	"strings"

	"conclave/internal/config"
	"conclave/internal/llm"
)

var (
	// ErrAllTiersExhausted is returned when no tier produced a complete reply.
	ErrAllTiersExhausted = errors.New("all provider tiers exhausted")

	// ErrStreamInterrupted marks an attempt that failed after part of its
	// output had already reached the sink.
	ErrStreamInterrupted = errors.New("stream interrupted after partial output")
)

// Attempt records one failed tier attempt.
type Attempt struct {
	Tier      int
	Model     string
	Vendor    config.VendorKind
	Err       error
	Retryable bool
	Status    int
}

func (a Attempt) String() string {
	return fmt.Sprintf("tier %d %s (%s): %v", a.Tier, a.Model, a.Vendor, a.Err)
}

// ExhaustedError aggregates every failed attempt of one request.
type ExhaustedError struct {
	Requested   string
	Attempts    []Attempt
	Interrupted bool
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", ErrAllTiersExhausted, e.Requested)
	if e.Interrupted {
		b.WriteString(" (interrupted mid-stream)")
	}
	if len(e.Attempts) == 0 {
		b.WriteString(": no tier configured")
		return b.String()
	}
	for i, a := range e.Attempts {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(a.String())
	}
	return b.String()
}

func (e *ExhaustedError) Is(target error) bool {
	switch target {
	case ErrAllTiersExhausted:
		return true
	case ErrStreamInterrupted:
		return e.Interrupted
	}
	return false
}

func (e *ExhaustedError) Unwrap() []error {
	out := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			out = append(out, a.Err)
		}
	}
	return out
}

// IsRetryable classifies err for diagnostics. Tier progression never
// depends on it.
func IsRetryable(err error) bool { return llm.IsRetryable(err) }
