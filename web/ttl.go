package web

import (
	"fmt"
	"strings"
	"time"
)

// TTL is the cache time-to-live of a request in milliseconds.
//
// The negative sentinels NoCache and Forever are distinct from any real
// duration.
type TTL int64

const (
	// NoCache disables the cache for a request: it is never consulted and
	// nothing is persisted.
	NoCache TTL = -1
	// Forever keeps the cached artifact valid until it is evicted.
	Forever TTL = -2

	OneMinute TTL = 60 * 1000
	OneHour   TTL = 60 * OneMinute
	OneDay    TTL = 24 * OneHour
	SevenDays TTL = 7 * OneDay
	// OneMonth is four weeks.
	OneMonth TTL = 28 * OneDay
)

// TTLFromDuration converts d to a TTL, rounding down to milliseconds.
func TTLFromDuration(d time.Duration) TTL {
	return TTL(d / time.Millisecond)
}

// Duration returns the TTL as a time.Duration. Sentinels return 0.
func (t TTL) Duration() time.Duration {
	if t <= 0 {
		return 0
	}
	return time.Duration(t) * time.Millisecond
}

// IsValid reports whether t may be used as a request TTL.
func (t TTL) IsValid() bool {
	return t == NoCache || t == Forever || t > 0
}

// Cacheable reports whether results fetched with this TTL are persisted.
func (t TTL) Cacheable() bool {
	return t == Forever || t > 0
}

func (t TTL) String() string {
	switch t {
	case NoCache:
		return "nocache"
	case Forever:
		return "forever"
	}
	return t.Duration().String()
}

// ParseTTL parses "nocache", "forever" or a Go duration string.
func ParseTTL(s string) (TTL, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nocache", "no_cache", "never":
		return NoCache, nil
	case "forever":
		return Forever, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("cannot parse ttl %q: %w", s, err)
	}
	t := TTLFromDuration(d)
	if t <= 0 {
		return 0, fmt.Errorf("ttl %q must be positive", s)
	}
	return t, nil
}
