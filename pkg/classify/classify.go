// Package classify decides whether an upstream geocoding response may be
// cached, and for how long, from the "status" field of its body.
package classify

import (
	"encoding/json"
	"time"
)

// Upstream status values that are cacheable.
const (
	StatusOK          = "OK"
	StatusZeroResults = "ZERO_RESULTS"
)

// TTLs holds the two cache durations a response can be assigned.
type TTLs struct {
	// Default applies to confirmed results
	Default time.Duration

	// Short applies to valid queries with no results
	Short time.Duration
}

// Decision is the outcome of classifying a response body.
type Decision struct {
	// Status is the body's status field ("" if absent or unparseable)
	Status string

	// Cacheable reports whether the body may be stored or served from cache
	Cacheable bool

	// TTL is the storage duration, zero when not cacheable
	TTL time.Duration
}

// Classify inspects the status field of a JSON body.
//
//   - "OK"            cacheable, default TTL
//   - "ZERO_RESULTS"  cacheable, short TTL
//   - anything else   not cacheable (OVER_QUERY_LIMIT, REQUEST_DENIED,
//     INVALID_REQUEST, UNKNOWN_ERROR, missing field, non-object body)
//
// The same rule decides whether a cached body is trusted on a hit.
func Classify(body []byte, ttls TTLs) Decision {
	var payload struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Decision{}
	}

	switch payload.Status {
	case StatusOK:
		return Decision{Status: payload.Status, Cacheable: true, TTL: ttls.Default}
	case StatusZeroResults:
		return Decision{Status: payload.Status, Cacheable: true, TTL: ttls.Short}
	default:
		return Decision{Status: payload.Status}
	}
}
