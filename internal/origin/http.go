package origin

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/jmgilman/go/errors"
)

const (
	DefaultHTTPTimeout = 15 * time.Second
	// DefaultMaxBytes caps a single image body.
	DefaultMaxBytes = 20 << 20
)

// HTTPFetcher loads images over http and https.
type HTTPFetcher struct {
	http     *http.Client
	maxBytes int64
}

type HTTPOption func(*HTTPFetcher)

func WithHTTPClient(client *http.Client) HTTPOption {
	return func(f *HTTPFetcher) { f.http = client }
}

func WithMaxBytes(n int64) HTTPOption {
	return func(f *HTTPFetcher) { f.maxBytes = n }
}

func NewHTTPFetcher(timeout time.Duration, opts ...HTTPOption) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	f := &HTTPFetcher{
		http:     &http.Client{Timeout: timeout},
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Object{}, errors.Wrap(err, errors.CodeInvalidInput, "build image request")
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.http.Do(req)
	if err != nil {
		return Object{}, errors.Wrap(err, errors.CodeNetwork, "fetch image")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		code := errors.CodeUnavailable
		if resp.StatusCode == http.StatusNotFound {
			code = errors.CodeNotFound
		}
		return Object{}, errors.Newf(code, "image origin responded %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !isImage(contentType) {
		return Object{}, errors.Newf(errors.CodeSchemaFailed, "image origin returned content type %q", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return Object{}, errors.Wrap(err, errors.CodeNetwork, "read image body")
	}
	if int64(len(body)) > f.maxBytes {
		return Object{}, errors.Newf(errors.CodeInvalidInput, "image exceeds %d bytes", f.maxBytes)
	}
	return Object{Body: body, ContentType: contentType}, nil
}

func isImage(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/")
}
