package marketdata

import (
	"context"
	"errors"
	"math/rand"
	"time"

	xhttp "SignalDesk/pkg/http"

	"golang.org/x/time/rate"
)

// HTTPServiceBase paces and retries GETs against one provider.
type HTTPServiceBase struct {
	baseURL  string
	client   *xhttp.Client
	limiter  *rate.Limiter
	attempts int
	backoff  time.Duration
}

func NewHTTPServiceBase(baseURL string, client *xhttp.Client, limiter *rate.Limiter, attempts int, backoff time.Duration) *HTTPServiceBase {
	if attempts < 1 {
		attempts = 1
	}
	return &HTTPServiceBase{baseURL: baseURL, client: client, limiter: limiter, attempts: attempts, backoff: backoff}
}

// GetJSONWithRetry waits for the limiter before every attempt and retries
// only transient failures (transport errors, 429, 5xx).
func (b *HTTPServiceBase) GetJSONWithRetry(ctx context.Context, path string, query map[string][]string, dest interface{}) error {
	var err error
	for i := 1; i <= b.attempts; i++ {
		if b.limiter != nil {
			if werr := b.limiter.Wait(ctx); werr != nil {
				if err != nil {
					return err
				}
				return werr
			}
		}

		err = b.client.GetJSON(ctx, &xhttp.RequestOptions{URL: b.baseURL + path, QueryParams: query}, dest)
		if err == nil || !transient(err) || i == b.attempts {
			return err
		}

		select {
		case <-time.After(b.delay(i, err)):
		case <-ctx.Done():
			return err
		}
	}
	return err
}

// delay is exponential with jitter; a Retry-After hint wins when longer.
func (b *HTTPServiceBase) delay(attempt int, err error) time.Duration {
	d := b.backoff << (attempt - 1)
	if d > 0 {
		d += time.Duration(rand.Int63n(int64(d)/2 + 1))
	}
	var se *xhttp.StatusError
	if errors.As(err, &se) && se.RetryAfter > d {
		d = se.RetryAfter
	}
	return d
}

func transient(err error) bool {
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return se.StatusCode == 429 || se.StatusCode >= 500
	}
	return !errors.Is(err, context.Canceled)
}
