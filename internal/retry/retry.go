// Package retry repeats outbound calls that failed with a transient error.
package retry

import (
	"context"
	"math/rand"
	"time"

	qerrors "github.com/q-forge/questbot/internal/errors"
)

// Policy is a per-destination retry budget. The pause doubles from Base up
// to Cap, jittered so a burst of webhook deliveries does not hit the same
// rate limit in lockstep.
type Policy struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
}

// Chat covers Slack posts. The webhook is long acked by the time a message
// goes out, but a player is waiting on it, so the whole budget stays under a
// few seconds.
func Chat() Policy {
	return Policy{Attempts: 4, Base: 200 * time.Millisecond, Cap: 2 * time.Second}
}

// Upstream covers tracker and model-service calls, which run after the ack
// and can wait out longer rate-limit windows.
func Upstream() Policy {
	return Policy{Attempts: 3, Base: time.Second, Cap: 8 * time.Second}
}

// Do runs fn until it succeeds, fails with a non-retryable error, exhausts
// the policy's attempts, or ctx is done.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !qerrors.IsRetryable(err) || attempt >= p.Attempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.backoff(attempt)):
		}
	}
}

// backoff returns the pause before retry n (1-based), drawn from
// [Base/2, Base/2 + min(Base<<(n-1), Cap)).
func (p Policy) backoff(n int) time.Duration {
	d := p.Base << (n - 1)
	if d <= 0 || d > p.Cap {
		d = p.Cap
	}
	return p.Base/2 + time.Duration(rand.Int63n(int64(d)))
}
