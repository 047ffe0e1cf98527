package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net"
	"syscall"
	"time"
)

// StatusError carries an HTTP status from a provider so the retrier can
// classify it. RetryAfter is an optional upstream hint (parsed from a
// Retry-After header or a rate-limit event) for how long to back off.
type StatusError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Message)
}

// RetryConfig holds tuning knobs for a [Retrier]. Zero-value fields are
// replaced with defaults by [NewRetrier].
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Default: 3.
	MaxRetries int

	// InitialDelay is the base backoff delay. Default: 500ms.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff. Default: 8s.
	MaxDelay time.Duration

	// Multiplier is the exponential growth factor. Default: 2.
	Multiplier float64

	// RetryableStatuses overrides the set of HTTP statuses worth retrying.
	// Default: 429, 500, 502, 503, 504.
	RetryableStatuses map[int]bool

	// Sleep is the delay function. Injectable for tests; the default honors
	// ctx cancellation.
	Sleep func(ctx context.Context, d time.Duration) error

	// Jitter returns a value in [0,1); it is scaled to a 0..20% delay bump.
	// Injectable for tests. Default: math/rand/v2.
	Jitter func() float64
}

// Retrier re-runs transient provider failures with exponential backoff.
// A single Retrier is safe for concurrent use.
type Retrier struct {
	cfg RetryConfig
}

// NewRetrier creates a [Retrier], filling zero config fields with defaults.
func NewRetrier(cfg RetryConfig) *Retrier {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 8 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	if cfg.RetryableStatuses == nil {
		cfg.RetryableStatuses = map[int]bool{
			429: true, 500: true, 502: true, 503: true, 504: true,
		}
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if cfg.Jitter == nil {
		cfg.Jitter = rand.Float64
	}
	return &Retrier{cfg: cfg}
}

// Do runs attempt until it succeeds, fails non-retryably, exhausts the retry
// budget, or ctx is cancelled. The last attempt's error propagates unmodified;
// Do never swallows a final failure.
func (r *Retrier) Do(ctx context.Context, attempt func(ctx context.Context) error) error {
	var err error
	for try := 0; ; try++ {
		err = attempt(ctx)
		if err == nil {
			return nil
		}
		if try >= r.cfg.MaxRetries || !r.retryable(err) {
			return err
		}
		if sleepErr := r.cfg.Sleep(ctx, r.delay(try, err)); sleepErr != nil {
			return sleepErr
		}
	}
}

// delay computes the backoff before retry number try+1:
// min(maxDelay, initial × multiplier^try) × (1 + jitter), where jitter is in
// [0, 0.2). An upstream Retry-After hint replaces the computed base delay.
func (r *Retrier) delay(try int, err error) time.Duration {
	base := float64(r.cfg.InitialDelay) * math.Pow(r.cfg.Multiplier, float64(try))
	if base > float64(r.cfg.MaxDelay) {
		base = float64(r.cfg.MaxDelay)
	}

	var se *StatusError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		base = float64(se.RetryAfter)
	}

	return time.Duration(base * (1 + 0.2*r.cfg.Jitter()))
}

// retryable classifies err: retryable HTTP statuses and transient transport
// failures (timeouts, DNS failures, reset or broken connections) are worth
// another attempt; everything else propagates immediately.
func (r *Retrier) retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return r.cfg.RetryableStatuses[se.StatusCode]
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var de *net.DNSError
	if errors.As(err, &de) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return false
}

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
