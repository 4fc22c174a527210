package seedr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// DefaultBaseURL is the production Seedr host.
const DefaultBaseURL = "https://www.seedr.cc"

// Retry and backoff constants.
const (
	defaultMaxRetries   = 3
	defaultRetryWaitMin = 1 * time.Second
	defaultRetryWaitMax = 30 * time.Second
	backoffFactor       = 2.0
	jitterFraction      = 0.25
	defaultUserAgent    = "seedr-go/0.1"
	defaultHTTPTimeout  = 30 * time.Second
)

// maxErrorBody bounds how much of an error response body is kept.
const maxErrorBody = 4096

// Endpoints holds the literal API paths, relative to the base URL. Isolated
// here so alternate deployments can be configured without touching the flows.
type Endpoints struct {
	DeviceCode string
	Token      string
	Folder     string
}

// DefaultEndpoints returns the canonical Seedr paths.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		DeviceCode: "/oauth/device/code",
		Token:      "/oauth/token",
		Folder:     "/api/folder",
	}
}

// TransportOptions tunes the shared HTTP transport. Zero values fall back
// to the package defaults.
type TransportOptions struct {
	Timeout    time.Duration
	MaxRetries int
	UserAgent  string

	// RetryWaitMin and RetryWaitMax bound the backoff between retries.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Transport is the HTTP executor shared by every flow and client: base URL,
// timeout, User-Agent injection, and retry of transient failures. It never
// attaches credentials itself.
type Transport struct {
	baseURL   string
	endpoints Endpoints
	plain     *http.Client
	retrying  *retryablehttp.Client
	logger    *slog.Logger
}

// NewTransport builds a Transport. A nil base client gets a fresh
// http.Client with opts.Timeout.
func NewTransport(
	baseURL string, endpoints Endpoints, base *http.Client,
	opts TransportOptions, logger *slog.Logger,
) *Transport {
	if logger == nil {
		logger = slog.Default()
	}

	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultHTTPTimeout
	}

	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}

	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = defaultRetryWaitMin
	}

	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = defaultRetryWaitMax
	}

	inner := http.DefaultTransport
	timeout := opts.Timeout

	if base != nil {
		if base.Transport != nil {
			inner = base.Transport
		}

		if base.Timeout > 0 {
			timeout = base.Timeout
		}
	}

	plain := &http.Client{
		Timeout:   timeout,
		Transport: &headerTransport{userAgent: opts.UserAgent, next: inner},
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = plain
	// The library's own logger prints full URLs, which carry access tokens.
	rc.Logger = nil
	rc.RetryMax = opts.MaxRetries
	rc.RetryWaitMin = opts.RetryWaitMin
	rc.RetryWaitMax = opts.RetryWaitMax
	rc.CheckRetry = checkRetry
	rc.Backoff = jitterBackoff
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			logger.Warn("retrying request",
				slog.String("method", req.Method),
				slog.String("path", req.URL.Path),
				slog.Int("attempt", attempt),
			)
		}
	}

	return &Transport{
		baseURL:   strings.TrimRight(baseURL, "/"),
		endpoints: endpoints,
		plain:     plain,
		retrying:  rc,
		logger:    logger,
	}
}

// Endpoints returns the configured API paths.
func (t *Transport) Endpoints() Endpoints {
	return t.endpoints
}

// URL joins the base URL and an API path.
func (t *Transport) URL(path string) string {
	return t.baseURL + path
}

// HTTPClient returns the non-retrying client (timeout + headers). The OAuth
// flows use it directly because their retry policy is their own.
func (t *Transport) HTTPClient() *http.Client {
	return t.plain
}

// Do executes a request. Only GET retries transient failures: a POST
// mutates the account and is sent exactly once. For GET the form is sent as
// the query string; otherwise as an urlencoded body. A non-2xx final
// response is returned as a *RemoteError; the caller closes the body on
// success.
func (t *Transport) Do(ctx context.Context, op, method, path string, form url.Values) (*http.Response, error) {
	target := t.URL(path)

	var body io.Reader

	if method == http.MethodGet {
		if len(form) > 0 {
			target += "?" + form.Encode()
		}
	} else {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("seedr: creating request: %w", scrubURLError(err))
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	req.Header.Set("Accept", "application/json")

	resp, err := t.send(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("seedr: %s canceled: %w", op, ctx.Err())
		}

		return nil, &RemoteError{
			Op:      op,
			Message: scrubURLError(err).Error(),
			Err:     ErrRemoteOperation,
		}
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		t.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	t.logger.Warn("request failed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)

	return nil, &RemoteError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Message:    remoteMessage(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// send routes GET through the retrying client and everything else through
// the plain one.
func (t *Transport) send(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return t.plain.Do(req)
	}

	rreq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return nil, err
	}

	return t.retrying.Do(rreq)
}

// checkRetry retries network errors and transient statuses, never a
// canceled context.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	return isRetryable(resp.StatusCode), nil
}

// jitterBackoff computes exponential backoff with ±25% jitter, honoring
// Retry-After on 429/503 responses.
func jitterBackoff(minWait, maxWait time.Duration, attempt int, resp *http.Response) time.Duration {
	if resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable) {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return min(time.Duration(seconds)*time.Second, maxWait)
			}
		}
	}

	backoff := float64(minWait) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxWait) {
		backoff = float64(maxWait)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// scrubURLError strips the request URL from transport errors. Request URLs
// carry the access token in their query string.
func scrubURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Err
	}

	return err
}

// headerTransport injects the User-Agent on every outgoing request.
type headerTransport struct {
	userAgent string
	next      http.RoundTripper
}

func (h *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", h.userAgent)

	return h.next.RoundTrip(clone)
}
