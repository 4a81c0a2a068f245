// Package statusapi serves a read-only HTTP view of the bot: health,
// Prometheus metrics, live pending requests and the outcome history.
package statusapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/zulandar/grabyard/internal/history"
	"github.com/zulandar/grabyard/internal/models"
	"github.com/zulandar/grabyard/internal/pending"
)

// DefaultAddr is used when StartOpts.Addr is empty.
const DefaultAddr = ":8080"

// PendingSource exposes the live registry state.
type PendingSource interface {
	Pending() []pending.Request
	Grants() int
}

// HistorySource queries stored outcomes.
type HistorySource interface {
	List(ctx context.Context, f history.Filter) ([]models.OutcomeRecord, error)
	Counts(ctx context.Context, since time.Time) (map[string]int64, error)
}

// StartOpts holds configuration for the status server.
type StartOpts struct {
	Addr        string
	Pending     PendingSource
	History     HistorySource // optional; history routes answer 503 without it
	ServiceName string
	Logger      zerolog.Logger
	Out         io.Writer

	// StreamInterval is how often /api/events pushes a pending snapshot.
	StreamInterval time.Duration
}

// Start launches the status HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Pending == nil {
		return fmt.Errorf("statusapi: pending source is required")
	}
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "grabyard"
	}

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           otelhttp.NewHandler(newRouter(opts), opts.ServiceName, otelhttp.WithFilter(shouldTrace)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Status API listening on %s\n", opts.Addr)
	}
	opts.Logger.Info().Str("addr", opts.Addr).Msg("status api started")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("statusapi: %w", err)
	}
	return nil
}

// newRouter builds the gin engine with every route registered.
func newRouter(opts StartOpts) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(opts.Logger))
	registerRoutes(router, opts)
	return router
}

// shouldTrace skips health and metrics scrapes.
func shouldTrace(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return false
	}
	return true
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}
