package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"harmony-bridge/internal/domain/translator"
	"harmony-bridge/internal/logger"
	"harmony-bridge/internal/ports"
)

// Server serves the emulated Hue API and the admin UI.
type Server struct {
	bridge            ports.BridgePort
	translatorFactory *translator.Factory
	ip                string
	port              int
	logger            zerolog.Logger
	echo              *echo.Echo
}

func NewServer(bridge ports.BridgePort, ip string, port int) *Server {
	s := &Server{
		bridge:            bridge,
		translatorFactory: translator.NewFactory(),
		ip:                ip,
		port:              port,
		logger:            logger.WithComponent("http"),
	}
	s.echo = s.routes()
	return s
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Err(v.Error).
				Msg("HTTP request")
			return nil
		},
	}))

	// Hue API
	e.GET("/description.xml", s.handleDescription)
	e.POST("/api", s.handleRegister)
	e.POST("/api/", s.handleRegister)
	e.GET("/api/:user", s.handleFullState)
	e.GET("/api/:user/config", s.handleBridgeConfig)
	e.GET("/api/:user/lights", s.handleGetLights)
	e.GET("/api/:user/lights/:id", s.handleGetLight)
	e.PUT("/api/:user/lights/:id/state", s.handleSetLightState)

	// Admin
	e.GET("/admin", s.handleAdmin)
	e.GET("/admin/config", s.handleGetConfig)
	e.POST("/admin/config", s.handleUpdateConfig)
	e.GET("/admin/hub", s.handleHub)

	return e
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}
