// Package fetcher performs polite, conditional HTTP retrieval for the
// crawl engine.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mkwatanabe/sitewatch/internal/crawler"
	"github.com/mkwatanabe/sitewatch/internal/metrics"
)

// Reject reasons the fetcher reports in addition to the URL filter's.
const (
	ReasonRobots      = "robots_disallowed"
	ReasonContentType = "non_html_content"
)

const maxBodyBytes = 10 << 20

// Config controls Client behavior.
type Config struct {
	UserAgent       string
	Timeout         time.Duration
	FollowRedirects bool
	RespectRobots   bool
}

// Client implements crawler.Fetcher on net/http. All workers share one
// Client so the politeness gate paces the whole pool.
type Client struct {
	cfg    Config
	http   *http.Client
	gate   *crawler.Gate
	robots RobotsPolicy
	retry  *crawler.RetryPolicy
	logger *zap.Logger
}

// New builds a Client. The gate and retry policy are required; robots
// enforcement degrades to allow-all when disabled in cfg.
func New(cfg Config, gate *crawler.Gate, retry *crawler.RetryPolicy, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "sitewatch/1.0"
	}

	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: newHTTPTransport(),
	}
	if !cfg.FollowRedirects {
		httpClient.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		gate:   gate,
		robots: NewRobotsPolicy(cfg.RespectRobots, cfg.UserAgent, logger),
		retry:  retry,
		logger: logger,
	}
}

// Fetch retrieves url with a conditional GET when prior validators are
// available. Transient failures are retried with backoff up to the
// policy's cap, then reported as permanent. The returned error is
// non-nil only for context cancellation.
func (c *Client) Fetch(ctx context.Context, url string, prior crawler.Validators) (crawler.FetchResult, error) {
	start := time.Now()

	if !c.robots.Allowed(ctx, url) {
		return crawler.FetchResult{
			Outcome: crawler.OutcomeRejected,
			Reason:  ReasonRobots,
		}, nil
	}

	var result crawler.FetchResult
	attempt := 0
	for {
		waited, err := c.gate.Wait(ctx)
		if err != nil {
			return result, err
		}
		metrics.ObservePolitenessWait(waited)

		result, err = c.attempt(ctx, url, prior)
		result.Retries = attempt
		result.Duration = time.Since(start)

		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			if !c.retry.RetryableError(err) || attempt >= c.retry.MaxRetries() {
				result.Outcome = crawler.OutcomePermanentFailure
				result.Reason = fmt.Sprintf("fetch failed after %d retries: %v", attempt, err)
				metrics.ObserveFetch(url, result.Duration, attempt)
				return result, nil
			}
			c.logger.Debug("transient fetch error; backing off",
				zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
			if perr := c.pause(ctx, c.retry.Backoff(attempt)); perr != nil {
				return result, perr
			}
			attempt++
			continue
		}

		if result.Outcome == crawler.OutcomeTransientFailure {
			if attempt >= c.retry.MaxRetries() {
				result.Outcome = crawler.OutcomePermanentFailure
				result.Reason = fmt.Sprintf("status %d after %d retries", result.StatusCode, attempt)
				metrics.ObserveFetch(url, result.Duration, attempt)
				return result, nil
			}
			delay := c.retry.Backoff(attempt)
			if result.StatusCode == http.StatusTooManyRequests {
				// Throttled: slow the shared gate for the rest of the
				// run and honor Retry-After when the server sent one.
				c.gate.Slow()
				if result.RetryAfter > 0 {
					delay = result.RetryAfter
				}
			}
			c.logger.Debug("retryable status; backing off",
				zap.String("url", url), zap.Int("status", result.StatusCode), zap.Int("attempt", attempt))
			if perr := c.pause(ctx, delay); perr != nil {
				return result, perr
			}
			attempt++
			continue
		}

		metrics.ObserveFetch(url, result.Duration, attempt)
		return result, nil
	}
}

// attempt performs a single HTTP GET and classifies the response. The
// request is detached from the run context: cancellation stops new
// dispatch upstream, while a request already on the wire finishes or
// hits the client timeout on its own.
func (c *Client) attempt(ctx context.Context, url string, prior crawler.Validators) (crawler.FetchResult, error) {
	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodGet, url, nil)
	if err != nil {
		return crawler.FetchResult{
			Outcome: crawler.OutcomePermanentFailure,
			Reason:  "invalid request",
		}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if prior.ETag != "" {
		req.Header.Set("If-None-Match", prior.ETag)
	}
	if prior.LastModified != "" {
		req.Header.Set("If-Modified-Since", prior.LastModified)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return crawler.FetchResult{Outcome: crawler.OutcomeTransientFailure}, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return crawler.FetchResult{
			Outcome:    crawler.OutcomeNotModified,
			StatusCode: resp.StatusCode,
			Validators: prior,
		}, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		return crawler.FetchResult{
			Outcome:    crawler.OutcomeTransientFailure,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}, nil

	case resp.StatusCode >= 500:
		return crawler.FetchResult{
			Outcome:    crawler.OutcomeTransientFailure,
			StatusCode: resp.StatusCode,
		}, nil

	case resp.StatusCode >= 400:
		return crawler.FetchResult{
			Outcome:    crawler.OutcomePermanentFailure,
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("http status %d", resp.StatusCode),
		}, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(strings.ToLower(contentType), "text/html") {
		return crawler.FetchResult{
			Outcome:    crawler.OutcomeRejected,
			StatusCode: resp.StatusCode,
			Reason:     ReasonContentType,
		}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return crawler.FetchResult{Outcome: crawler.OutcomeTransientFailure}, fmt.Errorf("read body: %w", err)
	}

	return crawler.FetchResult{
		Outcome:    crawler.OutcomeSuccess,
		StatusCode: resp.StatusCode,
		Body:       body,
		Validators: crawler.Validators{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		},
	}, nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func (c *Client) pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
