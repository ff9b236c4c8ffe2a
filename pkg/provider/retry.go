package provider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v5"
)

// retry wraps one provider call with exponential backoff and jitter.
// Transient transport failures and 5xx retry up to maxTries; 4xx surface
// immediately except rate limits, which honor the server-hinted delay.
func retry[T any](ctx context.Context, maxTries int, op func() (T, error)) (T, error) {
	if maxTries < 1 {
		maxTries = 1
	}
	wrapped := func() (T, error) {
		out, err := op()
		if err == nil {
			return out, nil
		}
		return out, classify(ctx, err)
	}
	return backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(maxTries)),
	)
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return backoff.Permanent(err)
	}

	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			if delay := retryAfterHint(apiErr); delay > 0 {
				return &backoff.RetryAfterError{Duration: delay}
			}
			return err
		case apiErr.StatusCode >= 500, apiErr.StatusCode == http.StatusRequestTimeout:
			return err
		case apiErr.StatusCode >= 400:
			// Client errors are surfaced immediately.
			return backoff.Permanent(err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return err
	}
	return err
}

func retryAfterHint(apiErr *anthropicsdk.Error) time.Duration {
	if apiErr == nil || apiErr.Response == nil {
		return 0
	}
	header := apiErr.Response.Header.Get("Retry-After")
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
