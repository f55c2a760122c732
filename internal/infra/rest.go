package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"sentinel_go/internal/domain"
)

const (
	restMaxAttempts = 3
	restBaseDelay   = 1 * time.Second
)

// RestClient is the resilient HTTP gateway: retry with exponential backoff on
// transient failures and rate-limit-aware pacing. Consumers depend only on
// GetJSON; the retry budget and timeouts are internal.
type RestClient struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRestClient creates a client with a tuned transport and per-call timeout.
func NewRestClient() *RestClient {
	return &RestClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		logger: slog.Default().With("module", "rest_client"),
	}
}

// GetJSON fetches url and unmarshals the response body into out. Transient
// failures (network errors, 5xx, 429) are retried up to the attempt budget
// with exponential backoff; a 429 additionally honors Retry-After.
func (c *RestClient) GetJSON(ctx context.Context, url string, out interface{}) error {
	var lastErr error
	for i := 0; i < restMaxAttempts; i++ {
		if i > 0 {
			// Exponential backoff: 1s, 2s
			delay := restBaseDelay * time.Duration(1<<uint(i-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		retryAfter, err := c.doGet(ctx, url, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !domain.IsRetriable(err) {
			return err
		}
		c.logger.Warn("GET attempt failed",
			slog.String("url", url),
			slog.Int("attempt", i+1),
			slog.Any("error", err),
		)

		// Rate-limit pacing: the server told us when to come back.
		if retryAfter > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryAfter):
			}
		}
	}
	return lastErr
}

// doGet performs one attempt. The returned duration is a server-requested
// pacing delay (from Retry-After), zero when absent.
func (c *RestClient) doGet(ctx context.Context, url string, out interface{}) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, domain.NewFatalNetworkError("request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, domain.NewNetworkError("get", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusTooManyRequests:
		var pause time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, perr := strconv.Atoi(ra); perr == nil && secs > 0 {
				pause = time.Duration(secs) * time.Second
			}
		}
		io.Copy(io.Discard, resp.Body)
		return pause, domain.NewNetworkError("get", fmt.Errorf("rate limited: status %d", resp.StatusCode))
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return 0, domain.NewNetworkError("get", fmt.Errorf("server error: status %d", resp.StatusCode))
	default:
		io.Copy(io.Discard, resp.Body)
		return 0, domain.NewFatalNetworkError("get", fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, domain.NewNetworkError("read", err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return 0, domain.NewFatalNetworkError("decode", err)
	}
	return 0, nil
}
