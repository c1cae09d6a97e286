package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/park285/Cheese-ARBoard/internal/board"
	"github.com/valyala/fasthttp"
)

// RequestError reports a failed call to the game server: a transport error or
// a non-2xx status.
type RequestError struct {
	Method string
	URL    string
	Status int
	Body   string
	Err    error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: request failed: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: game server error: status=%d body=%s", e.Method, e.URL, e.Status, truncate(e.Body, 512))
}

func (e *RequestError) Unwrap() error { return e.Err }

// Client talks to the remote game server.
type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type ClientOption func(*Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

func WithRetry(max int) ClientOption {
	return func(c *Client) { c.retryMax = max }
}

func WithMaxConnsPerHost(n int) ClientOption {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) gameURL(gameID int) string {
	return c.baseURL + "/games/" + url.PathEscape(strconv.Itoa(gameID))
}

// FetchPosition returns the serialized position of a game (GET /games/{id})
// byte for byte, so that diffs compare the exact body.
func (c *Client) FetchPosition(ctx context.Context, gameID int) (string, error) {
	body, err := c.do(ctx, fasthttp.MethodGet, c.gameURL(gameID), nil, true)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// SubmitMove posts a move to a game (POST /games/{id}). It is never retried.
func (c *Client) SubmitMove(ctx context.Context, gameID int, m board.Move) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal move: %w", err)
	}
	_, err = c.do(ctx, fasthttp.MethodPost, c.gameURL(gameID), payload, false)
	return err
}

func (c *Client) do(ctx context.Context, method, uri string, payload []byte, retry bool) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	if payload != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(payload)
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &RequestError{Method: method, URL: uri, Err: err}
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = &RequestError{Method: method, URL: uri, Err: err}
			if attempt == attempts {
				return nil, lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return nil, lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = &RequestError{Method: method, URL: uri, Status: status, Body: string(resp.Body())}
			if attempt == attempts || !shouldRetryStatus(status) {
				return nil, lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return nil, lastErr
			}
			continue
		}
		return append([]byte(nil), resp.Body()...), nil
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return nil, lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
