package httpx

import (
	"context"
	"net/http"

	"github.com/chentyke/chargebaby-sub000/internal/imagecache"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	cacheHeader        = "X-Chargebaby-Cache"
	headerCacheControl = "Cache-Control"
	imageCacheControl  = "public, max-age=86400"

	resultHit         = "HIT"
	resultMiss        = "MISS"
	resultBypass      = "BYPASS"
	resultPlaceholder = "PLACEHOLDER"
)

func (s *Server) image(c echo.Context) error {
	logger := zerolog.Ctx(c.Request().Context())
	req := ClassifyImageRequest(c.QueryParams())
	if !req.Valid {
		logger.Debug().Str("reason", req.Reason).Msg("rejected image request")
		return s.placeholder(c)
	}

	if !s.images.IsUpstreamHosted(req.URL) {
		obj, err := s.origin.Fetch(c.Request().Context(), req.URL)
		if err != nil {
			logger.Warn().Err(err).Str("url", imagecache.Canonical(req.URL)).Msg("image fetch failed")
			return s.placeholder(c)
		}
		return s.writeImage(c, imagecache.Image{Body: obj.Body, ContentType: obj.ContentType}, resultBypass)
	}

	if img, ok := s.images.Get(req.URL, req.Resolution); ok {
		return s.writeImage(c, img, resultHit)
	}

	key := imagecache.Key(req.URL, req.Resolution)
	ctx := context.WithoutCancel(c.Request().Context())
	v, err, _ := s.imageGroup.Do(key, func() (any, error) {
		obj, err := s.origin.Fetch(ctx, imagecache.Transform(req.URL, req.Resolution))
		if err != nil {
			return nil, err
		}
		img := imagecache.Image{Body: obj.Body, ContentType: obj.ContentType}
		s.images.Set(req.URL, img, req.Resolution)
		return img, nil
	})
	if err != nil {
		logger.Warn().Err(err).Str("url", imagecache.Canonical(req.URL)).Msg("upstream image fetch failed")
		return s.placeholder(c)
	}
	return s.writeImage(c, v.(imagecache.Image), resultMiss)
}

func (s *Server) writeImage(c echo.Context, img imagecache.Image, result string) error {
	s.recorder.Image(result)
	h := c.Response().Header()
	h.Set(cacheHeader, result)
	h.Set(headerCacheControl, imageCacheControl)
	return c.Blob(http.StatusOK, img.ContentType, img.Body)
}

func (s *Server) placeholder(c echo.Context) error {
	s.recorder.Image(resultPlaceholder)
	p := imagecache.Placeholder()
	h := c.Response().Header()
	h.Set(cacheHeader, resultPlaceholder)
	h.Set(headerCacheControl, p.CacheControl)
	return c.Blob(p.Status, p.ContentType, p.Body)
}
