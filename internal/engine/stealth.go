package engine

import (
	"context"
	"net/http"

	stealth "github.com/anatolykoptev/go-stealth"
)

// Re-export stealth retry helpers for engine consumers.
var DefaultRetryConfig = stealth.DefaultRetryConfig

func ChromeHeaders() map[string]string { return stealth.ChromeHeaders() }
func RandomUserAgent() string          { return stealth.RandomUserAgent() }

// RetryHTTP waits on the shared YouTube limiter before every attempt.
func RetryHTTP(ctx context.Context, rc stealth.RetryConfig, fn func() (*http.Response, error)) (*http.Response, error) {
	return stealth.RetryHTTP(ctx, rc, func() (*http.Response, error) {
		if err := Wait(ctx); err != nil {
			return nil, err
		}
		return fn()
	})
}

// Wait blocks until the configured limiter admits one request.
func Wait(ctx context.Context) error {
	if cfg.Limiter == nil {
		return nil
	}
	return cfg.Limiter.Wait(ctx)
}
