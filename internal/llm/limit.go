package llm

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limited wraps a Provider with a call budget and retries for
// ErrUnavailable. After MaxRetries it returns the last error, still wrapping
// ErrUnavailable.
type Limited struct {
	provider   Provider
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration

	mu      sync.Mutex
	retryAt time.Time

	sleep func(ctx context.Context, d time.Duration) error
}

// NewLimited allows callsPerHour calls, bursting up to the full hourly budget.
func NewLimited(p Provider, callsPerHour, maxRetries int) *Limited {
	if callsPerHour <= 0 {
		callsPerHour = 100
	}
	return &Limited{
		provider:   p,
		limiter:    rate.NewLimiter(rate.Every(time.Hour/time.Duration(callsPerHour)), callsPerHour),
		maxRetries: maxRetries,
		backoff:    2 * time.Second,
		sleep:      sleepCtx,
	}
}

func (l *Limited) IsConfigured() bool {
	return l.provider != nil && l.provider.IsConfigured()
}

// Complete waits for a token, then calls the provider.
func (l *Limited) Complete(ctx context.Context, req Request) (string, error) {
	var last error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if err := l.wait(ctx); err != nil {
			return "", err
		}
		out, err := l.provider.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrUnavailable) {
			return "", err
		}
		last = err

		delay := l.backoff << attempt
		var se *StatusError
		if errors.As(err, &se) && se.RetryAfter > 0 {
			delay = se.RetryAfter
		}
		l.mu.Lock()
		l.retryAt = time.Now().Add(delay)
		l.mu.Unlock()
		log.Printf("Completion service unavailable (attempt %d/%d): %v", attempt+1, l.maxRetries+1, err)
	}
	return "", last
}

func (l *Limited) wait(ctx context.Context) error {
	l.mu.Lock()
	retryAt := l.retryAt
	l.mu.Unlock()
	if d := time.Until(retryAt); d > 0 {
		if err := l.sleep(ctx, d); err != nil {
			return err
		}
	}
	return l.limiter.Wait(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
