// Package tokens estimates token counts from text length.
package tokens

import (
	"math"
	"unicode/utf8"
)

// Estimate returns ceil(characters / 4).
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / 4.0))
}

// Counter is a running output-token estimate owned by one request.
// It is not safe for concurrent use and must not be shared across requests.
type Counter struct {
	estimate func(string) int
	total    int
}

func NewCounter() *Counter {
	return &Counter{estimate: Estimate}
}

// NewCounterWith uses a custom estimator; nil means Estimate.
func NewCounterWith(estimate func(string) int) *Counter {
	if estimate == nil {
		estimate = Estimate
	}
	return &Counter{estimate: estimate}
}

// Add accounts for one streamed chunk and returns the new total.
func (c *Counter) Add(text string) int {
	if c.estimate == nil {
		c.estimate = Estimate
	}
	c.total += c.estimate(text)
	return c.total
}

func (c *Counter) Total() int { return c.total }
