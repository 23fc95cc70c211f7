package httpx

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/chentyke/chargebaby-sub000/internal/catalog"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	purgeTokenHeader = "X-Purge-Token"
	purgedHeader     = "X-Chargebaby-Purged"
)

func (s *Server) authorized(c echo.Context) bool {
	if s.purgeToken == "" {
		return true
	}
	token := c.Request().Header.Get(purgeTokenHeader)
	if token == "" {
		token = strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.purgeToken)) == 1
}

func (s *Server) purgeAll(c echo.Context) error {
	if !s.authorized(c) {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	removed := 0
	for _, h := range s.registry.All() {
		removed += s.purge(c.Request().Context(), h)
	}
	return purged(c, removed)
}

func (s *Server) purgeCollection(c echo.Context) error {
	if !s.authorized(c) {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	h, ok := s.collection(c)
	if !ok {
		return errorJSON(c, http.StatusNotFound, "unknown collection")
	}
	return purged(c, s.purge(c.Request().Context(), h))
}

func (s *Server) purgeItem(c echo.Context) error {
	if !s.authorized(c) {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	h, ok := s.collection(c)
	if !ok {
		return errorJSON(c, http.StatusNotFound, "unknown collection")
	}
	removed := h.InvalidateItem(c.Param("key"))
	zerolog.Ctx(c.Request().Context()).Info().
		Str("collection", h.Name()).
		Str("key", c.Param("key")).
		Int("removed", removed).
		Msg("purged item")
	return purged(c, removed)
}

func (s *Server) purgeImages(c echo.Context) error {
	if !s.authorized(c) {
		return errorJSON(c, http.StatusUnauthorized, "unauthorized")
	}
	return purged(c, s.images.Purge())
}

// purge drops a collection's details, marks its list stale and re-warms it.
// A failed re-warm leaves the stale list in place. With a gate configured
// only one replica performs the re-warm for a burst of purges.
func (s *Server) purge(ctx context.Context, h catalog.Handle) int {
	logger := zerolog.Ctx(ctx)
	removed := h.Invalidate()

	warmed := -1
	ran, err := s.gate.Do(ctx, "rewarm:"+h.Name(), func(ctx context.Context) {
		warmed = h.Warm(ctx)
	})
	switch {
	case err != nil:
		logger.Warn().Err(err).Str("collection", h.Name()).Msg("re-warm lock unavailable")
	case !ran:
		logger.Debug().Str("collection", h.Name()).Msg("re-warm already in progress elsewhere")
	}
	logger.Info().Str("collection", h.Name()).Int("removed", removed).Int("warmed", warmed).Msg("purged collection")
	return removed
}

func purged(c echo.Context, removed int) error {
	c.Response().Header().Set(purgedHeader, strconv.Itoa(removed))
	return c.NoContent(http.StatusNoContent)
}
