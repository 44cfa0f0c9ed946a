package llm

import (
	"context"
	"math/rand"
	"time"

	"github.com/researchgenie/ai-service/internal/domain"
)

// Default retry policy values shared by all providers.
const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 500 * time.Millisecond

	// retryJitterFraction randomizes each delay in both directions so
	// concurrent tasks do not retry in lockstep.
	retryJitterFraction = 0.2
)

// retryPolicy drives the shared retry loop for all providers: exponential
// backoff from baseDelay doubling per attempt, jittered, with provider
// Retry-After hints taking precedence when longer.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

// newRetryPolicy builds a policy, substituting defaults for zero values.
func newRetryPolicy(maxRetries int, baseDelay time.Duration) retryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return retryPolicy{maxRetries: maxRetries, baseDelay: baseDelay}
}

// run executes attempt until it succeeds, fails terminally, or the retry
// budget is spent. The returned transport error carries the total attempt
// count. Context cancellation during a backoff wait surfaces the last
// transport error rather than a bare context error so callers keep the
// failure classification.
func (p retryPolicy) run(ctx context.Context, attempt func(ctx context.Context) (*GenerateResult, *domain.TransportError)) (*GenerateResult, error) {
	var lastErr *domain.TransportError
	for try := 0; try <= p.maxRetries; try++ {
		if try > 0 {
			if err := sleepWithContext(ctx, p.delay(try, lastErr.RetryAfter)); err != nil {
				lastErr.Attempts = try
				return nil, lastErr
			}
		}

		result, terr := attempt(ctx)
		if terr == nil {
			return result, nil
		}
		if !terr.Retryable() {
			terr.Attempts = try + 1
			return nil, terr
		}
		lastErr = terr
	}

	lastErr.Attempts = p.maxRetries + 1
	return nil, lastErr
}

// delay computes the jittered backoff before the given retry, honoring a
// provider retry hint when it exceeds the schedule.
func (p retryPolicy) delay(try int, retryAfter time.Duration) time.Duration {
	d := p.baseDelay * time.Duration(1<<(try-1))
	jitter := 1 - retryJitterFraction + 2*retryJitterFraction*rand.Float64()
	d = time.Duration(float64(d) * jitter)
	if retryAfter > d {
		d = retryAfter
	}
	return d
}

// sleepWithContext waits for the duration or until the context is done.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
