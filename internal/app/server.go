package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/pkg/middleware"
	crossingroute "github.com/Ramsey-B/fern/pkg/routes/crossing"
	graphroute "github.com/Ramsey-B/fern/pkg/routes/graph"
	visitroute "github.com/Ramsey-B/fern/pkg/routes/visit"
)

// NewServer builds the echo instance with every route registered.
func (a *App) NewServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
	}))

	a.health.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	visitroute.NewHandler(a.engine, a.visits, a.logger).Register(api)
	crossingroute.NewHandler(a.counts, a.relationships, a.logger).Register(api)

	// a nil *CrossedPathService must not become a non-nil interface
	var finder graphroute.NeighborFinder
	if a.crossedPaths != nil {
		finder = a.crossedPaths
	}
	graphroute.NewHandler(finder, a.logger).Register(api)

	return e
}

func (a *App) serverDependency() *dependency {
	return &dependency{
		name:      DependencyServer,
		dependsOn: []string{DependencyEngine},
		start: func(ctx context.Context) error {
			addr := fmt.Sprintf(":%d", a.cfg.Port)
			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("failed to listen on %s: %w", addr, err)
			}

			a.echo = a.NewServer()
			a.echo.Listener = listener
			a.echo.Server.ReadTimeout = time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second
			a.echo.Server.WriteTimeout = time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second
			a.echo.Server.IdleTimeout = time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second
			a.echo.Server.MaxHeaderBytes = a.cfg.MaxHeaderBytes

			go func() {
				if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					a.logger.WithError(err).Error("HTTP server stopped unexpectedly")
				}
			}()

			a.logger.Infof("HTTP server listening on %s", addr)
			return nil
		},
		stop: func(ctx context.Context) error {
			if a.echo == nil {
				return nil
			}
			return a.echo.Shutdown(ctx)
		},
	}
}
