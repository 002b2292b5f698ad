package fetcher

import (
	"context"
	"errors"
	"fmt"

	"rank-alerts/internal/serp"
)

// RankFetcher retrieves a point-in-time ranking observation for a keyword.
type RankFetcher interface {
	Fetch(ctx context.Context, projectID, domain, keyword string) (serp.RankingSnapshot, error)
}

// ErrorKind classifies a fetch failure for retry decisions.
type ErrorKind int

const (
	// KindTimeout covers per-call deadline expiry and network timeouts.
	KindTimeout ErrorKind = iota
	// KindRateLimited maps upstream HTTP 429 responses.
	KindRateLimited
	// KindMalformed marks responses that could not be decoded.
	KindMalformed
	// KindUpstream carries any other upstream status code.
	KindUpstream
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindMalformed:
		return "malformed"
	default:
		return "upstream"
	}
}

// FetchError is a typed failure returned by RankFetcher implementations.
type FetchError struct {
	Kind ErrorKind
	Code int
	Err  error
}

func (e *FetchError) Error() string {
	if e.Kind == KindUpstream && e.Code != 0 {
		return fmt.Sprintf("fetch %s (%d): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the failure is worth retrying. Timeouts, rate
// limiting, and upstream 5xx are transient; malformed payloads and upstream
// 4xx are not.
func (e *FetchError) Temporary() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimited:
		return true
	case KindUpstream:
		return e.Code >= 500
	default:
		return false
	}
}

// Retryable reports whether err is a transient fetch failure.
func Retryable(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Temporary()
	}
	return false
}
