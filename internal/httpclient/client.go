package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"polyflow-registrar/internal/logging"
	"polyflow-registrar/internal/proxy"
)

const (
	maxAttempts = 3
	baseDelay   = 2 * time.Second
	bodySnippet = 1000
	preDelayMin = 500 * time.Millisecond
	preDelayMax = 2 * time.Second
)

// Client executes outbound JSON calls with per-attempt randomized identity,
// optional proxy rotation and exponential backoff. Identity and proxy state
// mutate in place on the shared client but only as a function of the
// attempt index, so at most one attempt's worth of mutation carries into
// the next call.
type Client struct {
	http    *http.Client
	proxies *proxy.Pool
	origin  string

	mu      sync.Mutex
	headers http.Header

	// sleep is a seam for deterministic retry tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds a Client. pool may be nil for direct connections.
func New(pool *proxy.Pool, origin string) *Client {
	c := &Client{
		proxies: pool,
		origin:  origin,
		headers: RandomIdentity(origin),
		sleep:   sleepCtx,
	}
	transport := &http.Transport{
		Proxy: func(*http.Request) (*url.URL, error) {
			if c.proxies == nil {
				return nil, nil
			}
			return c.proxies.Current(), nil
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 30,
		IdleConnTimeout:     90 * time.Second,
	}
	c.http = &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
	return c
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

// Send performs up to three attempts of one JSON request and classifies the
// outcome. Only transport-level failures are retried; any classified
// response, blocked included, returns immediately.
func (c *Client) Send(ctx context.Context, method, rawurl string, payload interface{}) Result {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Result{Kind: KindTransportError, Err: fmt.Errorf("encoding payload: %w", err)}
		}
		body = encoded
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		// Retry-only mutations: they must never run before the first
		// attempt.
		if attempt > 0 {
			delay := baseDelay*time.Duration(1<<attempt) + jitter(time.Second, 3*time.Second)
			logging.Log.Infof("Retry %d/%d in %s", attempt+1, maxAttempts, delay.Round(100*time.Millisecond))
			if err := c.sleep(ctx, delay); err != nil {
				return Result{Kind: KindTransportError, Err: err}
			}
			if c.proxies != nil && c.proxies.Size() > 1 {
				c.proxies.Rotate()
			}
			c.refreshIdentity()
		}

		// Short random pacing before every attempt so request timing
		// is not uniform.
		if err := c.sleep(ctx, jitter(preDelayMin, preDelayMax)); err != nil {
			return Result{Kind: KindTransportError, Err: err}
		}

		result, err := c.attempt(ctx, method, rawurl, body)
		if err != nil {
			lastErr = err
			logging.Log.Warnf("Request attempt %d/%d failed: %v", attempt+1, maxAttempts, err)
			continue
		}
		return result
	}

	return Result{Kind: KindTransportError, Err: fmt.Errorf("%w after %d attempts: %v", ErrTransport, maxAttempts, lastErr)}
}

func (c *Client) attempt(ctx context.Context, method, rawurl string, body []byte) (Result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawurl, reader)
	if err != nil {
		return Result{}, err
	}
	c.mu.Lock()
	for key, values := range c.headers {
		req.Header[key] = values
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, err
	}

	return classify(resp.StatusCode, resp.Header.Get("Content-Type"), raw), nil
}

// classify maps one HTTP exchange onto the Result union.
func classify(status int, contentType string, raw []byte) Result {
	ct := strings.ToLower(contentType)

	switch {
	case strings.Contains(ct, "application/json"):
		return classifyJSON(status, raw)

	case strings.HasPrefix(ct, "text/"):
		// Some servers mislabel JSON as text; try to parse anyway.
		if json.Valid(raw) {
			return classifyJSON(status, raw)
		}
		if status == http.StatusForbidden {
			return classifyForbidden(raw)
		}
		return Result{
			Kind:        KindMalformed,
			StatusCode:  status,
			ContentType: contentType,
			Body:        snippet(raw),
		}

	default:
		return Result{
			Kind:        KindMalformed,
			StatusCode:  status,
			ContentType: contentType,
			Body:        snippet(raw),
		}
	}
}

func classifyJSON(status int, raw []byte) Result {
	if !json.Valid(raw) {
		return Result{Kind: KindMalformed, StatusCode: status, ContentType: "application/json", Body: snippet(raw)}
	}
	if status == http.StatusOK {
		return Result{Kind: KindOK, StatusCode: status, Data: raw}
	}
	return Result{Kind: KindStructuredError, StatusCode: status, Data: raw}
}

// classifyForbidden splits a non-JSON 403 into distinct block kinds based
// on body markers. None of them is retried.
func classifyForbidden(raw []byte) Result {
	body := strings.ToLower(string(raw))
	res := Result{Kind: KindBlocked, StatusCode: http.StatusForbidden, Body: snippet(raw)}
	switch {
	case strings.Contains(body, "cloudflare"):
		res.Err = ErrBlockedByEdgeProtection
	case strings.Contains(body, "access denied"):
		res.Err = ErrAccessDenied
	default:
		res.Err = ErrGenericForbidden
	}
	return res
}

func (c *Client) refreshIdentity() {
	c.mu.Lock()
	c.headers = RandomIdentity(c.origin)
	c.mu.Unlock()
}

func jitter(min, max time.Duration) time.Duration {
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func snippet(raw []byte) string {
	if len(raw) > bodySnippet {
		return string(raw[:bodySnippet])
	}
	return string(raw)
}
