package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aaronlee0321/unified-rag/internal/runtime"
)

// Options configures the HTTP front end.
type Options struct {
	Rebuilder Rebuilder
	Catalog   Catalog
	// Gatherer backs /metrics. Nil falls back to the default registry.
	Gatherer prometheus.Gatherer
	// Secret enables JWT auth on the rebuild route when set.
	Secret []byte
	// RequireAuth also protects the read routes.
	RequireAuth bool
	// Ping reports backend health for /healthz.
	Ping   func(ctx context.Context) error
	Logger *log.Logger
}

// New builds the echo instance with every route registered.
func New(opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	baseLogger := opts.Logger
	if baseLogger == nil {
		baseLogger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	// Unified HTTP error handler with structured JSON and logging
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, HTTPError{Error: msg})
		}
	}

	e.GET("/healthz", func(c echo.Context) error {
		if opts.Ping != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := opts.Ping(ctx); err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "store unavailable")
			}
		}
		return c.String(http.StatusOK, "ok")
	})
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	var writeMW, readMW []echo.MiddlewareFunc
	if len(opts.Secret) > 0 {
		writeMW = []echo.MiddlewareFunc{runtime.EchoAuthMiddleware(opts.Secret), runtime.RequireScopes(runtime.ScopeRebuild)}
		if opts.RequireAuth {
			readMW = []echo.MiddlewareFunc{runtime.EchoAuthMiddleware(opts.Secret), runtime.RequireScopes(runtime.ScopeRead)}
		}
	}

	h := &DictionaryHandler{Rebuilder: opts.Rebuilder, Catalog: opts.Catalog}
	h.Register(e.Group("/api/dictionary"), writeMW, readMW)
	return e
}

// Run serves e on addr until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, e *echo.Echo, addr string) error {
	if addr == "" {
		addr = ":8080"
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
