// Package httpx is the JSON and image proxy surface in front of the catalog
// and image caches.
package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/chentyke/chargebaby-sub000/internal/catalog"
	"github.com/chentyke/chargebaby-sub000/internal/imagecache"
	"github.com/chentyke/chargebaby-sub000/internal/lock"
	"github.com/chentyke/chargebaby-sub000/internal/origin"
	"github.com/chentyke/chargebaby-sub000/internal/ttlcache"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const methodPurge = "PURGE"

// Recorder receives request and image outcomes.
type Recorder interface {
	HTTPRequest(method, route string, status int)
	Image(result string)
}

type noopRecorder struct{}

func (noopRecorder) HTTPRequest(string, string, int) {}
func (noopRecorder) Image(string)                    {}

// Deps wires the server. Registry, Images and Origin are required.
type Deps struct {
	Registry   *catalog.Registry
	Images     *imagecache.Cache
	Origin     origin.Fetcher
	Stats      func() ttlcache.Stats
	Gate       *lock.Gate
	PurgeToken string
	Metrics    http.Handler
	Recorder   Recorder
	Ready      func() bool
	Logger     zerolog.Logger
}

type Server struct {
	echo       *echo.Echo
	registry   *catalog.Registry
	images     *imagecache.Cache
	origin     origin.Fetcher
	stats      func() ttlcache.Stats
	gate       *lock.Gate
	purgeToken string
	recorder   Recorder
	ready      func() bool
	logger     zerolog.Logger
	imageGroup singleflight.Group
}

func New(d Deps) *Server {
	s := &Server{
		echo:       echo.New(),
		registry:   d.Registry,
		images:     d.Images,
		origin:     d.Origin,
		stats:      d.Stats,
		gate:       d.Gate,
		purgeToken: d.PurgeToken,
		recorder:   d.Recorder,
		ready:      d.Ready,
		logger:     d.Logger,
	}
	if s.recorder == nil {
		s.recorder = noopRecorder{}
	}
	if s.ready == nil {
		s.ready = func() bool { return true }
	}
	if s.stats == nil {
		s.stats = func() ttlcache.Stats { return ttlcache.Stats{Keys: []string{}} }
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(RequestLogger(s.logger, s.recorder))

	e.GET("/healthz", s.healthz)
	e.GET("/readyz", s.readyz)
	e.GET("/debug/cache", s.debugCache)
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics))
	}

	e.GET("/api/:collection", s.list)
	e.GET("/api/:collection/:key", s.item)
	e.GET("/image", s.image)

	e.Add(methodPurge, "/api", s.purgeAll)
	e.Add(methodPurge, "/api/:collection", s.purgeCollection)
	e.Add(methodPurge, "/api/:collection/:key", s.purgeItem)
	e.Add(methodPurge, "/image", s.purgeImages)
	return s
}

func (s *Server) Handler() http.Handler { return s.echo }

func (s *Server) Start(addr string) error {
	s.echo.Server.ReadTimeout = 15 * time.Second
	s.echo.Server.WriteTimeout = 60 * time.Second
	s.echo.Server.IdleTimeout = 60 * time.Second
	s.logger.Info().Str("addr", addr).Msg("listening")
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (s *Server) readyz(c echo.Context) error {
	if !s.ready() {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) debugCache(c echo.Context) error {
	return c.JSON(http.StatusOK, s.stats())
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}
