// Package health probes questbot's dependencies (store, tracker, model
// service, Slack) for the liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status of one dependency probe.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// CheckFunc probes a single dependency. Probes run under a short timeout so
// a wedged dependency cannot stall the readiness endpoint.
type CheckFunc func(ctx context.Context) Status

type check struct {
	name string
	fn   CheckFunc
}

// Checker runs registered probes on demand and keeps the last outcome for a
// short window, so frequent probe polling does not turn into a Slack
// auth.test call per poll.
type Checker struct {
	mu      sync.Mutex
	checks  []check
	last    map[string]Status
	lastRun time.Time

	probeTimeout time.Duration
	keepFor      time.Duration

	logger zerolog.Logger
}

// NewChecker creates a checker with no registered probes.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		probeTimeout: 3 * time.Second,
		keepFor:      10 * time.Second,
		logger:       logger.With().Str("component", "health").Logger(),
	}
}

// Register adds a named probe and invalidates the cached outcome.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check{name: name, fn: fn})
	c.lastRun = time.Time{}
}

// RunAll probes every dependency concurrently, reusing the previous outcome
// when it is recent enough. Status transitions are logged.
func (c *Checker) RunAll(ctx context.Context) map[string]Status {
	c.mu.Lock()
	if c.last != nil && time.Since(c.lastRun) < c.keepFor {
		out := make(map[string]Status, len(c.last))
		for k, v := range c.last {
			out[k] = v
		}
		c.mu.Unlock()
		return out
	}
	checks := append([]check(nil), c.checks...)
	prev := c.last
	c.mu.Unlock()

	type probe struct {
		name   string
		status Status
	}
	ch := make(chan probe, len(checks))
	for _, ck := range checks {
		go func(ck check) {
			pctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
			defer cancel()
			ch <- probe{name: ck.name, status: ck.fn(pctx)}
		}(ck)
	}

	results := make(map[string]Status, len(checks))
	for range checks {
		pr := <-ch
		results[pr.name] = pr.status
		if old, ok := prev[pr.name]; ok && old != pr.status {
			c.logger.Warn().
				Str("check", pr.name).
				Str("from", string(old)).
				Str("to", string(pr.status)).
				Msg("dependency status changed")
		}
	}

	c.mu.Lock()
	c.last = results
	c.lastRun = time.Now()
	c.mu.Unlock()
	return results
}

// Overall reduces probe results: down wins over degraded wins over ok.
func Overall(results map[string]Status) Status {
	overall := StatusOK
	for _, s := range results {
		switch s {
		case StatusDown:
			return StatusDown
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}

// IsReady reports whether no dependency is down. A degraded model service
// does not take the bot out of rotation; narratives fall back to templates.
func (c *Checker) IsReady(ctx context.Context) bool {
	return Overall(c.RunAll(ctx)) != StatusDown
}

// LivenessHandler answers process-up probes without touching dependencies.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "service": "questbot"})
	}
}

// ReadinessHandler runs the probes and answers 503 only when a dependency
// is down. Degraded is reported in the body but keeps the 200.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results := c.RunAll(r.Context())
		overall := Overall(results)

		w.Header().Set("Content-Type", "application/json")
		if overall == StatusDown {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": overall,
			"checks": results,
		})
	}
}
