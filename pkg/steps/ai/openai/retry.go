package openai

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/unittestgen/pkg/steps/ai/settings"
)

// RetryPolicy retries rate limited requests with exponential backoff.
// Each attempt has its own timeout for the provider to answer, and all
// attempts share TotalTimeout.
type RetryPolicy struct {
	MaxRetries     int
	BackoffBase    time.Duration
	AttemptTimeout time.Duration
	TotalTimeout   time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

func NewRetryPolicy(ss *settings.StepSettings) RetryPolicy {
	p := RetryPolicy{
		MaxRetries:     3,
		BackoffBase:    time.Second,
		AttemptTimeout: 60 * time.Second,
		TotalTimeout:   5 * time.Minute,
	}
	if ss.Retry != nil {
		p.MaxRetries = ss.Retry.MaxRetries
		p.BackoffBase = ss.Retry.BackoffBase
	}
	if ss.Client != nil {
		if ss.Client.Timeout != nil {
			p.AttemptTimeout = *ss.Client.Timeout
		}
		if ss.Client.TotalTimeout != nil {
			p.TotalTimeout = *ss.Client.TotalTimeout
		}
	}
	return p
}

// Backoff is the wait before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BackoffBase * time.Duration(1<<uint(attempt-1))
}

func (p RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsRateLimited reports whether err is an HTTP 429 answer from the provider.
func IsRateLimited(err error) bool {
	var apiErr *go_openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *go_openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return false
}

// attemptFunc runs one request. It calls connected once the provider has
// answered and the response body is being read, and reports whether any
// output was emitted, after which the attempt can no longer be retried.
type attemptFunc func(ctx context.Context, attempt int, connected func()) (emitted bool, err error)

// Do runs fn until it succeeds, fails with a non retryable error, emits
// output, or runs out of retries or time. Cancellation of ctx is returned
// as ctx.Err().
//
// AttemptTimeout and TotalTimeout bound the request phase only: the time
// until the provider answers, and the backoff between attempts. Once fn calls
// connected, the streamed body is read under ctx alone.
func (p RetryPolicy) Do(ctx context.Context, fn attemptFunc) error {
	var deadline time.Time
	if p.TotalTimeout > 0 {
		deadline = time.Now().Add(p.TotalTimeout)
	}

	for attempt := 0; ; attempt++ {
		limit := p.AttemptTimeout
		totalLimited := false
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return errors.Wrapf(context.DeadlineExceeded, "request exceeded total timeout of %s", p.TotalTimeout)
			}
			if limit <= 0 || remaining < limit {
				limit = remaining
				totalLimited = true
			}
		}

		emitted, timedOut, err := p.runAttempt(ctx, fn, attempt, limit)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if timedOut {
			if totalLimited {
				return errors.Wrapf(context.DeadlineExceeded, "request exceeded total timeout of %s", p.TotalTimeout)
			}
			return errors.Wrapf(context.DeadlineExceeded, "request attempt exceeded timeout of %s", p.AttemptTimeout)
		}
		if emitted || !IsRateLimited(err) || attempt >= p.MaxRetries {
			return err
		}

		backoff := p.Backoff(attempt + 1)
		if !deadline.IsZero() && time.Now().Add(backoff).After(deadline) {
			return errors.Wrap(err, "rate limited and out of time for retries")
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Dur("backoff", backoff).Msg("OpenAI rate limited, retrying")
		if werr := p.wait(ctx, backoff); werr != nil {
			return ctx.Err()
		}
	}
}

// runAttempt cancels the attempt when limit elapses before fn calls
// connected.
func (p RetryPolicy) runAttempt(ctx context.Context, fn attemptFunc, attempt int, limit time.Duration) (emitted bool, timedOut bool, err error) {
	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var expired atomic.Bool
	var timer *time.Timer
	if limit > 0 {
		timer = time.AfterFunc(limit, func() {
			expired.Store(true)
			cancel()
		})
	}
	connected := func() {
		if timer != nil {
			timer.Stop()
		}
	}

	emitted, err = fn(attemptCtx, attempt, connected)
	connected()
	return emitted, expired.Load(), err
}
