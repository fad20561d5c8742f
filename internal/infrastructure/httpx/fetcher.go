package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jangwonlee-rptly/hellomimir-dev/internal/domain"
	"github.com/jangwonlee-rptly/hellomimir-dev/internal/logging"
)

const userAgent = "hellomimir/1.0 (+https://hellomimir.app)"

// Gate serializes outbound requests; Cooldown is the production implementation.
type Gate interface {
	Do(ctx context.Context, fn func() error) error
}

// Fetcher performs GET requests and retries transient fetch failures with
// exponential backoff. Non-retryable failures are returned on the first attempt.
type Fetcher struct {
	client   *http.Client
	gate     Gate
	retries  int
	maxBytes int64
	backoff  func() backoff.BackOff
	logger   *slog.Logger
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	Client   *http.Client
	Timeout  time.Duration
	Gate     Gate
	Retries  int
	MaxBytes int64
	Logger   *slog.Logger
}

// NewFetcher wires an HTTP client; a client timeout bounds every attempt.
func NewFetcher(opts FetcherOptions) *Fetcher {
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	return &Fetcher{
		client:   client,
		gate:     opts.Gate,
		retries:  opts.Retries,
		maxBytes: maxBytes,
		backoff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
		logger: logging.OrDiscard(opts.Logger),
	}
}

// Get downloads url. Failures wrap domain.ErrFetch.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	attempt := func() ([]byte, error) {
		var body []byte
		run := func() error {
			var err error
			body, err = f.fetchOnce(ctx, url)
			return err
		}

		var err error
		if f.gate != nil {
			err = f.gate.Do(ctx, run)
		} else {
			err = run()
		}
		if err != nil {
			if !retryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return body, nil
	}

	tries := f.retries + 1
	if tries < 1 {
		tries = 1
	}

	body, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(f.backoff()),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			f.logger.Warn("fetch failed, retrying", "url", url, "error", err, "next_attempt_in", next)
		}),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: build request: %v", domain.ErrFetch, err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request %s: %w", domain.ErrFetch, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &domain.StatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", domain.ErrFetch, err)
	}
	if int64(len(body)) > f.maxBytes {
		return nil, backoff.Permanent(fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrFetch, url, f.maxBytes))
	}
	return body, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var status *domain.StatusError
	if errors.As(err, &status) {
		return status.Retryable()
	}
	return errors.Is(err, domain.ErrFetch)
}
