package seedr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Device flow defaults.
const (
	DefaultClientID        = "seedr_chrome"
	DefaultDeviceGrantType = "device_code"
	DefaultPollTimeout     = 30 * time.Minute
	DefaultSlowDownFactor  = 1.5
	DefaultMaxPollInterval = 60 * time.Second
	defaultPollInterval    = 5 * time.Second
)

// maxTokenBody bounds how much of a token endpoint response is read.
const maxTokenBody = 64 << 10

// Token endpoint error codes that keep a device poll going.
const (
	codeAuthorizationPending = "authorization_pending"
	codeSlowDown             = "slow_down"
)

// FlowConfig carries the client identity and device polling policy. Zero
// values fall back to the package defaults.
type FlowConfig struct {
	ClientID        string
	DeviceGrantType string
	PollTimeout     time.Duration
	SlowDownFactor  float64
	MaxPollInterval time.Duration
}

func (c FlowConfig) withDefaults() FlowConfig {
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}

	if c.DeviceGrantType == "" {
		c.DeviceGrantType = DefaultDeviceGrantType
	}

	if c.PollTimeout <= 0 {
		c.PollTimeout = DefaultPollTimeout
	}

	if c.SlowDownFactor <= 1 {
		c.SlowDownFactor = DefaultSlowDownFactor
	}

	if c.MaxPollInterval <= 0 {
		c.MaxPollInterval = DefaultMaxPollInterval
	}

	return c
}

// DeviceFlow runs the device-code authorization: one code request, then a
// poll loop that waits the grant's interval before every token request.
type DeviceFlow struct {
	transport *Transport
	cfg       FlowConfig
	logger    *slog.Logger

	// sleepFunc waits between polls. Defaults to timeSleep.
	sleepFunc func(ctx context.Context, d time.Duration) error
	// nowFunc is the clock used for the poll ceiling.
	nowFunc func() time.Time
}

// NewDeviceFlow creates a device flow over the shared transport.
func NewDeviceFlow(transport *Transport, cfg FlowConfig, logger *slog.Logger) *DeviceFlow {
	if logger == nil {
		logger = slog.Default()
	}

	return &DeviceFlow{
		transport: transport,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		sleepFunc: timeSleep,
		nowFunc:   time.Now,
	}
}

// RequestCode asks the service for a new device code. Each call yields a
// fresh grant; nothing is cached.
func (f *DeviceFlow) RequestCode(ctx context.Context) (*DeviceCodeGrant, error) {
	const op = "request device code"

	f.logger.Info("requesting device code")

	cfg := f.transport.OAuthConfig(f.cfg.ClientID)

	da, err := cfg.DeviceAuth(f.transport.OAuthContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("seedr: %s canceled: %w", op, ctx.Err())
		}

		return nil, retrieveAuthError(op, err, ErrAuthService)
	}

	if da.DeviceCode == "" || da.UserCode == "" {
		return nil, &AuthError{Op: op, Reason: "invalid_response", Err: ErrAuthService}
	}

	interval := time.Duration(da.Interval) * time.Second
	if interval <= 0 {
		interval = defaultPollInterval
	}

	grant := &DeviceCodeGrant{
		DeviceCode:              da.DeviceCode,
		UserCode:                da.UserCode,
		VerificationURI:         da.VerificationURI,
		VerificationURIComplete: da.VerificationURIComplete,
		Interval:                interval,
		IssuedAt:                f.nowFunc(),
		ExpiresAt:               da.Expiry,
	}

	f.logger.Info("device code issued",
		slog.String("user_code", grant.UserCode),
		slog.Duration("interval", grant.Interval),
		slog.Time("expires_at", grant.ExpiresAt),
	)

	return grant, nil
}

// pollOutcome classifies one token endpoint response.
type pollOutcome int

const (
	outcomeGranted pollOutcome = iota
	outcomePending
	outcomeSlowDown
	outcomeTransient
	outcomeDenied
)

func (o pollOutcome) String() string {
	switch o {
	case outcomeGranted:
		return "granted"
	case outcomePending:
		return "pending"
	case outcomeSlowDown:
		return "slow_down"
	case outcomeTransient:
		return "transient"
	case outcomeDenied:
		return "denied"
	default:
		return fmt.Sprintf("pollOutcome(%d)", int(o))
	}
}

// pollResult is one classified poll. token is set for outcomeGranted, err
// for outcomeDenied and (as the cause) for outcomeTransient.
type pollResult struct {
	outcome pollOutcome
	token   *oauth2.Token
	status  int
	err     error
}

// tokenResponse is the union of the token endpoint's success and error
// bodies.
type tokenResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    flexInt `json:"expires_in"`
	errorPayload
}

// PollForToken polls until the user approves, denies, or the poll ceiling
// passes. The grant's interval elapses before every request; slow_down
// stretches it up to MaxPollInterval. Transient failures keep polling.
// Cancelling ctx ends the loop with the context's error.
func (f *DeviceFlow) PollForToken(ctx context.Context, grant *DeviceCodeGrant) (*oauth2.Token, error) {
	if grant == nil || grant.DeviceCode == "" {
		return nil, fmt.Errorf("seedr: poll: device grant is required: %w", ErrInvalidInput)
	}

	interval := grant.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	start := f.nowFunc()
	deadline := start.Add(f.cfg.PollTimeout)
	attempts := 0

	f.logger.Info("polling for device authorization",
		slog.Duration("interval", interval),
		slog.Duration("timeout", f.cfg.PollTimeout),
	)

	for {
		remaining := deadline.Sub(f.nowFunc())
		if remaining <= 0 {
			return nil, f.timeoutError(start, attempts)
		}

		// A wait cut short by the ceiling ends in a timeout, never an
		// early request.
		if err := f.sleepFunc(ctx, min(interval, remaining)); err != nil {
			return nil, fmt.Errorf("seedr: device authorization canceled: %w", err)
		}

		if !f.nowFunc().Before(deadline) {
			return nil, f.timeoutError(start, attempts)
		}

		attempts++
		res := f.pollOnce(ctx, grant.DeviceCode)

		switch res.outcome {
		case outcomeGranted:
			f.logger.Info("device authorization granted",
				slog.Int("attempts", attempts),
				slog.Time("expiry", res.token.Expiry),
				slog.Bool("has_refresh_token", res.token.RefreshToken != ""),
			)

			return res.token, nil

		case outcomePending:
			f.logger.Debug("authorization pending", slog.Int("attempt", attempts))

		case outcomeSlowDown:
			interval = min(time.Duration(float64(interval)*f.cfg.SlowDownFactor), f.cfg.MaxPollInterval)

			f.logger.Info("server asked to slow down",
				slog.Int("attempt", attempts),
				slog.Duration("interval", interval),
			)

		case outcomeTransient:
			if ctx.Err() != nil {
				return nil, fmt.Errorf("seedr: device authorization canceled: %w", ctx.Err())
			}

			attrs := []any{slog.Int("attempt", attempts), slog.Int("status", res.status)}
			if res.err != nil {
				attrs = append(attrs, slog.String("error", res.err.Error()))
			}

			f.logger.Warn("transient failure while polling, will retry", attrs...)

		case outcomeDenied:
			f.logger.Warn("device authorization denied",
				slog.Int("attempt", attempts),
				slog.Int("status", res.status),
			)

			return nil, res.err
		}
	}
}

func (f *DeviceFlow) timeoutError(start time.Time, attempts int) error {
	elapsed := f.nowFunc().Sub(start)

	f.logger.Warn("device authorization timed out",
		slog.Duration("elapsed", elapsed),
		slog.Int("attempts", attempts),
	)

	return &AuthError{
		Op:          "poll device token",
		Reason:      ReasonExpiredToken,
		Description: fmt.Sprintf("no approval after %s", elapsed.Round(time.Second)),
		Err:         ErrAuthTimeout,
	}
}

// pollOnce performs one token request and classifies the response.
func (f *DeviceFlow) pollOnce(ctx context.Context, deviceCode string) pollResult {
	form := url.Values{
		"client_id":   {f.cfg.ClientID},
		"device_code": {deviceCode},
		"grant_type":  {f.cfg.DeviceGrantType},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		f.transport.URL(f.transport.endpoints.Token), strings.NewReader(form.Encode()))
	if err != nil {
		return pollResult{
			outcome: outcomeDenied,
			err:     &AuthError{Op: "poll device token", Err: ErrAuthService, Cause: scrubURLError(err)},
		}
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := f.transport.plain.Do(req)
	if err != nil {
		return pollResult{outcome: outcomeTransient, err: scrubURLError(err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBody))
	if err != nil {
		return pollResult{outcome: outcomeTransient, status: resp.StatusCode, err: err}
	}

	return classifyPoll(resp.StatusCode, body, f.nowFunc())
}

// classifyPoll maps a token endpoint response to a poll outcome. The error
// code wins over the status: pending and slow_down arrive as 400s.
func classifyPoll(status int, body []byte, now time.Time) pollResult {
	var tr tokenResponse

	decoded := json.Unmarshal(bytes.TrimSpace(body), &tr) == nil
	code := ""

	if decoded {
		code = tr.code()
	}

	switch code {
	case codeAuthorizationPending:
		return pollResult{outcome: outcomePending, status: status}
	case codeSlowDown:
		return pollResult{outcome: outcomeSlowDown, status: status}
	}

	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return pollResult{
			outcome: outcomeTransient,
			status:  status,
			err:     fmt.Errorf("HTTP %d", status),
		}
	}

	if code != "" {
		return denied(status, code, tr.description())
	}

	if status < http.StatusOK || status >= http.StatusMultipleChoices {
		desc := ""
		if !decoded {
			desc = remoteMessage(body)
		}

		return denied(status, fmt.Sprintf("http_%d", status), desc)
	}

	if !decoded || tr.AccessToken == "" {
		return denied(status, "invalid_response", "token response has no access_token")
	}

	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
	}

	if tr.ExpiresIn > 0 {
		tok.Expiry = now.Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	return pollResult{outcome: outcomeGranted, token: tok, status: status}
}

func denied(status int, reason, desc string) pollResult {
	return pollResult{
		outcome: outcomeDenied,
		status:  status,
		err: &AuthError{
			Op:          "poll device token",
			StatusCode:  status,
			Reason:      reason,
			Description: truncate(desc),
			Err:         ErrAuthDenied,
		},
	}
}

// retrieveAuthError converts an oauth2 failure into an AuthError wrapping
// sentinel. Response bodies are decoded best-effort for the reason.
func retrieveAuthError(op string, err, sentinel error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		ae := &AuthError{
			Op:          op,
			Reason:      re.ErrorCode,
			Description: re.ErrorDescription,
			Err:         sentinel,
		}

		if re.Response != nil {
			ae.StatusCode = re.Response.StatusCode
		}

		if ae.Reason == "" {
			if p, ok := decodeErrorPayload(re.Body); ok {
				ae.Reason = p.code()
				if ae.Description == "" {
					ae.Description = p.description()
				}
			} else if len(re.Body) > 0 {
				ae.Description = remoteMessage(re.Body)
			}
		}

		ae.Description = truncate(ae.Description)

		return ae
	}

	return &AuthError{Op: op, Err: ErrAuthService, Cause: scrubURLError(err)}
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for DeviceFlow.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
