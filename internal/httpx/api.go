package httpx

import (
	"net/http"

	"github.com/chentyke/chargebaby-sub000/internal/catalog"
	"github.com/labstack/echo/v4"
)

func (s *Server) collection(c echo.Context) (catalog.Handle, bool) {
	h, err := s.registry.Get(c.Param("collection"))
	if err != nil {
		return nil, false
	}
	return h, true
}

func (s *Server) list(c echo.Context) error {
	h, ok := s.collection(c)
	if !ok {
		return errorJSON(c, http.StatusNotFound, "unknown collection")
	}
	return c.JSON(http.StatusOK, h.List(c.Request().Context()))
}

func (s *Server) item(c echo.Context) error {
	h, ok := s.collection(c)
	if !ok {
		return errorJSON(c, http.StatusNotFound, "unknown collection")
	}
	item, ok := h.Find(c.Request().Context(), c.Param("key"))
	if !ok {
		return errorJSON(c, http.StatusNotFound, "not found")
	}
	return c.JSON(http.StatusOK, item)
}
