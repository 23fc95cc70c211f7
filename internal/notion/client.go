// Package notion is the upstream content API client. Every request goes
// through Client.Do, which applies one timeout per logical call, retries with
// exponential backoff and distinguishes connection failures from application
// errors when picking the backoff base.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL    = "https://api.notion.com/v1"
	DefaultVersion    = "2022-06-28"
	DefaultMaxRetries = 3
	DefaultTimeout    = 30 * time.Second

	versionHeader = "Notion-Version"

	connectionBackoffBase  = 3 * time.Second
	applicationBackoffBase = time.Second
)

// Observer is notified after every attempt.
type Observer interface {
	Attempt(class, outcome string)
}

type noopObserver struct{}

func (noopObserver) Attempt(string, string) {}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Client struct {
	baseURL    string
	token      string
	version    string
	maxRetries int
	timeout    time.Duration
	http       *http.Client
	sleep      SleepFunc
	logger     zerolog.Logger
	observer   Observer
}

// Option configures a Client.
type Option func(*Client)

func WithVersion(version string) Option {
	return func(c *Client) { c.version = version }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithTimeout bounds each logical call, retries and backoff included.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithSleep(fn SleepFunc) Option {
	return func(c *Client) { c.sleep = fn }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

func NewClient(baseURL, token string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		version:    DefaultVersion,
		maxRetries: DefaultMaxRetries,
		timeout:    DefaultTimeout,
		http:       &http.Client{},
		sleep:      sleepContext,
		logger:     zerolog.Nop(),
		observer:   noopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxRetries < 1 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.observer == nil {
		c.observer = noopObserver{}
	}
	return c
}

// Do issues method against path (relative to the base URL), JSON-encoding
// body when non-nil and decoding the response into out when non-nil. It
// returns nil on the first successful attempt or a terminal error once all
// attempts fail or the call times out.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, errors.CodeInvalidInput, "failed to encode request body")
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	log := c.logger.With().Str("method", method).Str("path", path).Logger()

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		err := c.attempt(ctx, method, path, payload, out)
		if err == nil {
			c.observer.Attempt("none", "success")
			log.Debug().Int("attempt", attempt).Int("attempts", c.maxRetries).Str("outcome", "success").Msg("upstream request")
			return nil
		}
		if ctx.Err() != nil {
			c.observer.Attempt(ClassConnection.String(), "timeout")
			return c.interrupted(ctx, err, attempt)
		}

		class := Classify(err)
		c.observer.Attempt(class.String(), "failure")
		if attempt == c.maxRetries {
			log.Error().Err(err).Int("attempt", attempt).Int("attempts", c.maxRetries).
				Str("outcome", "failure").Str("class", class.String()).Msg("upstream request failed, giving up")
			return errors.WithContext(err, "attempts", attempt)
		}

		delay := backoff(class, attempt)
		log.Warn().Err(err).Int("attempt", attempt).Int("attempts", c.maxRetries).
			Str("outcome", "failure").Str("class", class.String()).Dur("delay", delay).Msg("upstream request failed, retrying")
		if err := c.sleep(ctx, delay); err != nil {
			return c.interrupted(ctx, err, attempt)
		}
	}
	return errors.New(errors.CodeUnknown, "all retry attempts failed")
}

// backoff returns base * 2^attempt for the class of the failed attempt.
func backoff(class ErrorClass, attempt int) time.Duration {
	base := applicationBackoffBase
	if class == ClassConnection {
		base = connectionBackoffBase
	}
	return base * time.Duration(1<<attempt)
}

func (c *Client) interrupted(ctx context.Context, err error, attempt int) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.WithContext(
			errors.Wrapf(err, errors.CodeTimeout, "upstream request timed out after %s", c.timeout),
			"attempts", attempt)
	}
	return errors.WithContext(errors.Wrap(ctx.Err(), errors.CodeUnavailable, "upstream request canceled"), "attempts", attempt)
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "failed to build upstream request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set(versionHeader, c.version)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Pragma", "no-cache")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return c.transportError(err, "upstream request failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.transportError(err, "failed to read upstream response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status := &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		return errors.Wrapf(status, codeForStatus(resp.StatusCode), "%s %s", method, path)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, errors.CodeSchemaFailed, "malformed upstream payload")
	}
	return nil
}

func (c *Client) transportError(err error, msg string) error {
	if isConnectionError(err) {
		return errors.Wrap(err, errors.CodeNetwork, msg)
	}
	return errors.Wrap(err, errors.CodeUnknown, msg)
}
