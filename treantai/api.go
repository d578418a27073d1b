package treantai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
)

const (
	pprofPrefix      = "/debug"
	apiPrefix        = "/api"
	apiHealthCheck   = "/health"
	xRequestIDHeader = "X-Request-ID"
)

// API serves a small, read-only status API: whether the gateway is
// connected, the current activity label and the last rate limit probe.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
	bot        *Treantai
}

// healthCheckResponse is the payload returned by the health endpoint
type healthCheckResponse struct {
	DiscordGatewayConnected bool        `json:"discord_gateway_connected"`
	Activity                Activity    `json:"activity"`
	RateLimitProbe          ProbeStatus `json:"rate_limit_probe"`
	Version                 string      `json:"version"`
	StartedAt               time.Time   `json:"started_at"`
}

// newAPI sets up the gin engine, middleware and routes
func newAPI(t *Treantai, config *APIConfig, logger *slog.Logger) *API {
	if !t.config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	api := &API{
		config: config,
		engine: r,
		logger: logger,
		bot:    t,
	}

	api.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	r.Use(
		gin.Recovery(),
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		cors.New(config.CORS.GINConfig()),
	)

	r.GET(apiPrefix+apiHealthCheck, api.healthCheck)

	if t.config.Debug {
		ginPprof.Register(r, pprofPrefix)
	}

	return api
}

// Serve listens on the configured address and serves requests until
// the context is canceled, at which point the server is shut down
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		network := a.config.ListenNetwork
		if network == "" {
			network = defaultListenNetwork
		}
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, network, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		a.listener = ln
	}

	go func() {
		<-ctx.Done()
		a.shutdown()
	}()

	a.logger.InfoContext(ctx, "serving status API", "addr", a.listener.Addr().String())
	err := a.httpServer.Serve(a.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *API) shutdown() {
	timeout := a.bot.config.ShutdownTimeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("error shutting down status API", tint.Err(err))
		_ = a.httpServer.Close()
	}
}

func (a *API) healthCheck(c *gin.Context) {
	t := a.bot
	rv := healthCheckResponse{
		Activity:  t.activity.Load(),
		Version:   Version,
		StartedAt: t.startedAt,
	}
	if t.discord != nil {
		rv.DiscordGatewayConnected = t.discord.connected.Load()
	}
	if t.probe != nil {
		rv.RateLimitProbe = t.probe.Status()
	}
	c.JSON(http.StatusOK, rv)
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := newRequestID("req")
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, ok := logger.(*slog.Logger); ok {
			return requestLogger
		}
	}
	if base == nil {
		base = slog.Default()
	}
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(requestIDKey, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware returns a Gin middleware function for logging HTTP requests.
func ginLoggingMiddleware(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c, base)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL),
				"duration", latency,
				"errors", errs.String(),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}
