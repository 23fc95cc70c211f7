// Package origin fetches raw image bytes from wherever an image URL points.
package origin

import (
	"context"
	"net/url"
	"strings"

	"github.com/jmgilman/go/errors"
)

// Object is a fetched payload.
type Object struct {
	Body        []byte
	ContentType string
}

// Fetcher loads the object behind rawURL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Object, error)
}

// Router dispatches to a Fetcher by URL scheme.
type Router struct {
	byScheme map[string]Fetcher
}

func NewRouter() *Router {
	return &Router{byScheme: make(map[string]Fetcher)}
}

// Handle registers f for the given schemes, replacing earlier registrations.
func (r *Router) Handle(f Fetcher, schemes ...string) *Router {
	for _, s := range schemes {
		r.byScheme[strings.ToLower(s)] = f
	}
	return r
}

func (r *Router) Fetch(ctx context.Context, rawURL string) (Object, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Object{}, errors.Wrap(err, errors.CodeInvalidInput, "invalid image url")
	}
	f, ok := r.byScheme[strings.ToLower(u.Scheme)]
	if !ok {
		return Object{}, errors.Newf(errors.CodeInvalidInput, "unsupported image url scheme %q", u.Scheme)
	}
	return f.Fetch(ctx, rawURL)
}
