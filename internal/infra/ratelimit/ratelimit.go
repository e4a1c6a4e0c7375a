package ratelimit

import (
	"strings"
	"time"
)

// Decision is the outcome of one Allow call under a fixed window.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Policy is the per-key budget: Limit requests per Window. A non-positive
// Limit disables limiting.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) unlimited() Decision {
	return Decision{Allowed: true, Limit: p.Limit, Remaining: p.Limit}
}

// window returns the wall-clock aligned window containing now, so every
// replica sharing a store agrees on its bounds.
func (p Policy) window(now time.Time) (start, end time.Time) {
	size := p.Window
	if size <= 0 {
		size = time.Second
	}
	start = now.Truncate(size)
	return start, start.Add(size)
}

func (p Policy) decide(count int64, resetAt time.Time) Decision {
	remaining := int64(p.Limit) - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(p.Limit),
		Limit:     p.Limit,
		Remaining: int(remaining),
		ResetAt:   resetAt,
	}
}

// Scope identifies who a request is charged to. Requests that name a device
// get a budget per device and client.
type Scope struct {
	Route  string
	Client string
	Device string
}

func (s Scope) Key() string {
	var b strings.Builder
	b.WriteString("route:")
	b.WriteString(s.Route)
	if s.Device != "" {
		b.WriteString(":device:")
		b.WriteString(s.Device)
	}
	b.WriteString(":client:")
	b.WriteString(s.Client)
	return b.String()
}
