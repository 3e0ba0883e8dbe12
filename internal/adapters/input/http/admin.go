package http

import (
	_ "embed"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"harmony-bridge/internal/domain/model"
	"harmony-bridge/internal/domain/service"
)

//go:embed admin.html
var adminPage []byte

func (s *Server) handleAdmin(c echo.Context) error {
	return c.HTMLBlob(http.StatusOK, adminPage)
}

func (s *Server) handleGetConfig(c echo.Context) error {
	cfg, err := s.bridge.GetConfig(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfig(c echo.Context) error {
	var cfg model.Config
	if err := c.Bind(&cfg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	err := s.bridge.UpdateConfig(c.Request().Context(), &cfg)
	switch {
	case errors.Is(err, service.ErrInvalidConfig):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger.Error().Err(err).Msg("Saving config failed")
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleHub(c echo.Context) error {
	snap, err := s.bridge.HubSnapshot(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, snap)
}
