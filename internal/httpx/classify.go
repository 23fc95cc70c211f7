package httpx

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/chentyke/chargebaby-sub000/internal/imagecache"
)

const (
	maxDimension = 4096
	maxQuality   = 100
)

// ImageRequest is a parsed /image query.
type ImageRequest struct {
	Valid      bool
	URL        string
	Resolution imagecache.Resolution
	Reason     string
}

// ClassifyImageRequest validates the url, w, h and q parameters. Out of range
// dimensions are treated as unset rather than rejected.
func ClassifyImageRequest(q url.Values) ImageRequest {
	raw := strings.TrimSpace(q.Get("url"))
	if raw == "" {
		return ImageRequest{Reason: "missing-url"}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ImageRequest{Reason: "invalid-url"}
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "s3":
	default:
		return ImageRequest{Reason: "unsupported-scheme"}
	}

	return ImageRequest{
		Valid: true,
		URL:   raw,
		Resolution: imagecache.Resolution{
			Width:   bounded(q.Get("w"), maxDimension),
			Height:  bounded(q.Get("h"), maxDimension),
			Quality: bounded(q.Get("q"), maxQuality),
		},
	}
}

func bounded(raw string, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 || n > max {
		return 0
	}
	return n
}
