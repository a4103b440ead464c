package health

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecker_Ready(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", func(ctx context.Context) Status { return StatusOK })
	c.Register("model", func(ctx context.Context) Status { return StatusDegraded })

	// Degraded keeps the bot in rotation.
	assert.True(t, c.IsReady(context.Background()))

	c.Register("slack", func(ctx context.Context) Status { return StatusDown })
	assert.False(t, c.IsReady(context.Background()))
}

func TestChecker_CachesOutcome(t *testing.T) {
	calls := 0
	c := NewChecker(zerolog.Nop())
	c.Register("store", func(ctx context.Context) Status {
		calls++
		return StatusOK
	})

	c.RunAll(context.Background())
	c.RunAll(context.Background())
	assert.Equal(t, 1, calls)

	// Registering a new probe invalidates the cache.
	c.Register("slack", func(ctx context.Context) Status { return StatusOK })
	got := c.RunAll(context.Background())
	assert.Equal(t, 2, calls)
	assert.Len(t, got, 2)
}

func TestChecker_CacheExpires(t *testing.T) {
	calls := 0
	c := NewChecker(zerolog.Nop())
	c.keepFor = time.Millisecond
	c.Register("store", func(ctx context.Context) Status {
		calls++
		return StatusOK
	})

	c.RunAll(context.Background())
	time.Sleep(5 * time.Millisecond)
	c.RunAll(context.Background())
	assert.Equal(t, 2, calls)
}

func TestOverall(t *testing.T) {
	assert.Equal(t, StatusOK, Overall(map[string]Status{"a": StatusOK}))
	assert.Equal(t, StatusDegraded, Overall(map[string]Status{"a": StatusOK, "b": StatusDegraded}))
	assert.Equal(t, StatusDown, Overall(map[string]Status{"a": StatusDegraded, "b": StatusDown}))
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	c.Register("store", func(ctx context.Context) Status { return StatusOK })

	rr := httptest.NewRecorder()
	c.ReadinessHandler()(rr, httptest.NewRequest("GET", "/ready", nil))
	require.Equal(t, 200, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"ok"`)

	c.Register("model", func(ctx context.Context) Status { return StatusDegraded })
	rr = httptest.NewRecorder()
	c.ReadinessHandler()(rr, httptest.NewRequest("GET", "/ready", nil))
	assert.Equal(t, 200, rr.Code)
	assert.Contains(t, rr.Body.String(), `"status":"degraded"`)

	c.Register("slack", func(ctx context.Context) Status { return StatusDown })
	rr = httptest.NewRecorder()
	c.ReadinessHandler()(rr, httptest.NewRequest("GET", "/ready", nil))
	assert.Equal(t, 503, rr.Code)
}

func TestLivenessHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	LivenessHandler()(rr, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 200, rr.Code)
	assert.Contains(t, rr.Body.String(), "questbot")
}
