package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func jsonResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

func connReset() error {
	return &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}
}

func TestDoRetriesConnectionErrorsWithLongBase(t *testing.T) {
	var calls atomic.Int32
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if calls.Add(1) <= 2 {
			return nil, connReset()
		}
		return jsonResponse(r, http.StatusOK, `{"ok":true}`), nil
	})
	sleeper := &sleepRecorder{}
	c := NewClient("http://upstream.test", "secret",
		WithHTTPClient(&http.Client{Transport: transport}),
		WithSleep(sleeper.Sleep),
	)

	var out struct {
		OK bool `json:"ok"`
	}
	err := c.Do(context.Background(), http.MethodGet, "/pages/1", nil, &out)

	require.NoError(t, err)
	require.True(t, out.OK)
	require.EqualValues(t, 3, calls.Load())
	require.Equal(t, []time.Duration{6 * time.Second, 12 * time.Second}, sleeper.Delays())
}

func TestDoApplicationErrorsUseShortBase(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	sleeper := &sleepRecorder{}
	c := NewClient(srv.URL, "secret", WithSleep(sleeper.Sleep))

	err := c.Do(context.Background(), http.MethodGet, "/pages/1", nil, nil)

	require.Error(t, err)
	require.EqualValues(t, DefaultMaxRetries, calls.Load())
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.Delays())
	require.Equal(t, errors.CodeUnavailable, errors.GetCode(err))

	var status *StatusError
	require.True(t, errors.As(err, &status))
	require.Equal(t, http.StatusBadGateway, status.Status)
	require.Equal(t, "boom", status.Body)
}

func TestDoStopsAfterMaxRetries(t *testing.T) {
	for _, retries := range []int{1, 3, 5} {
		t.Run(fmt.Sprintf("retries=%d", retries), func(t *testing.T) {
			var calls atomic.Int32
			transport := roundTripFunc(func(*http.Request) (*http.Response, error) {
				calls.Add(1)
				return nil, connReset()
			})
			sleeper := &sleepRecorder{}
			c := NewClient("http://upstream.test", "secret",
				WithHTTPClient(&http.Client{Transport: transport}),
				WithSleep(sleeper.Sleep),
				WithMaxRetries(retries),
			)

			err := c.Do(context.Background(), http.MethodGet, "/pages/1", nil, nil)

			require.Error(t, err)
			require.EqualValues(t, retries, calls.Load())
			require.Len(t, sleeper.Delays(), retries-1)
			require.Equal(t, errors.CodeNetwork, errors.GetCode(err))
			require.True(t, errors.IsRetryable(err))
		})
	}
}

func TestDoMalformedPayloadIsApplicationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	}))
	defer srv.Close()

	sleeper := &sleepRecorder{}
	c := NewClient(srv.URL, "secret", WithSleep(sleeper.Sleep))

	var out map[string]any
	err := c.Do(context.Background(), http.MethodGet, "/pages/1", nil, &out)

	require.Equal(t, errors.CodeSchemaFailed, errors.GetCode(err))
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.Delays())
}

func TestDoTimeoutCoversWholeCall(t *testing.T) {
	t.Run("in flight", func(t *testing.T) {
		transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
			<-r.Context().Done()
			return nil, r.Context().Err()
		})
		c := NewClient("http://upstream.test", "secret",
			WithHTTPClient(&http.Client{Transport: transport}),
			WithTimeout(30*time.Millisecond),
		)

		err := c.Do(context.Background(), http.MethodGet, "/pages/1", nil, nil)
		require.Equal(t, errors.CodeTimeout, errors.GetCode(err))
	})

	t.Run("during backoff", func(t *testing.T) {
		var calls atomic.Int32
		transport := roundTripFunc(func(*http.Request) (*http.Response, error) {
			calls.Add(1)
			return nil, connReset()
		})
		c := NewClient("http://upstream.test", "secret",
			WithHTTPClient(&http.Client{Transport: transport}),
			WithTimeout(30*time.Millisecond),
		)

		start := time.Now()
		err := c.Do(context.Background(), http.MethodGet, "/pages/1", nil, nil)

		require.Equal(t, errors.CodeTimeout, errors.GetCode(err))
		require.EqualValues(t, 1, calls.Load())
		require.Less(t, time.Since(start), 5*time.Second)
	})
}

func TestDoSendsHeadersAndBody(t *testing.T) {
	var got *http.Request
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", "secret", WithVersion("2025-01-01"))
	err := c.Do(context.Background(), http.MethodPost, "/databases/db/query", map[string]any{"page_size": 10}, nil)

	require.NoError(t, err)
	require.Equal(t, "/databases/db/query", got.URL.Path)
	require.Equal(t, "Bearer secret", got.Header.Get("Authorization"))
	require.Equal(t, "2025-01-01", got.Header.Get("Notion-Version"))
	require.Equal(t, "application/json", got.Header.Get("Content-Type"))
	require.Contains(t, got.Header.Get("Cache-Control"), "no-cache")
	require.Equal(t, map[string]any{"page_size": float64(10)}, body)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{name: "reset", err: connReset(), want: ClassConnection},
		{name: "refused", err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, want: ClassConnection},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "upstream.test"}, want: ClassConnection},
		{name: "truncated", err: io.ErrUnexpectedEOF, want: ClassConnection},
		{name: "wrapped network", err: errors.Wrap(fmt.Errorf("x"), errors.CodeNetwork, "fetch failed"), want: ClassConnection},
		{name: "status", err: &StatusError{Status: 500}, want: ClassApplication},
		{name: "decode", err: errors.New(errors.CodeSchemaFailed, "bad json"), want: ClassApplication},
		{name: "plain", err: fmt.Errorf("something else"), want: ClassApplication},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestCodeForStatus(t *testing.T) {
	require.Equal(t, errors.CodeNotFound, codeForStatus(404))
	require.Equal(t, errors.CodeRateLimit, codeForStatus(429))
	require.Equal(t, errors.CodeUnauthorized, codeForStatus(401))
	require.Equal(t, errors.CodeUnavailable, codeForStatus(503))
	require.Equal(t, errors.CodeUnknown, codeForStatus(418))
}

type attemptCounter struct {
	mu     sync.Mutex
	events []string
}

func (a *attemptCounter) Attempt(class, outcome string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, class+"/"+outcome)
}

func TestDoReportsAttempts(t *testing.T) {
	var calls atomic.Int32
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if calls.Add(1) == 1 {
			return nil, connReset()
		}
		return jsonResponse(r, http.StatusOK, `{}`), nil
	})
	obs := &attemptCounter{}
	c := NewClient("http://upstream.test", "secret",
		WithHTTPClient(&http.Client{Transport: transport}),
		WithSleep((&sleepRecorder{}).Sleep),
		WithObserver(obs),
	)

	require.NoError(t, c.Do(context.Background(), http.MethodGet, "/x", nil, nil))
	require.Equal(t, []string{"connection/failure", "none/success"}, obs.events)
}
