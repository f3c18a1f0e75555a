package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

const (
	keepAlivePathRoot   = "/"
	keepAlivePathHealth = "/healthz"
	keepAliveMessage    = "I'm alive"

	ginLoggerContextKey = "logger"
)

type healthCheckResponse struct {
	DiscordConnected   bool  `json:"discord_connected"`
	DiscordConnects    int64 `json:"discord_connects"`
	DiscordDisconnects int64 `json:"discord_disconnects"`
	KnowledgeLoaded    bool  `json:"knowledge_loaded"`
	KnowledgeChars     int   `json:"knowledge_chars"`
}

// KeepAlive is a small HTTP server that answers liveness checks. Some
// hosts only keep a process running while something polls it over HTTP.
type KeepAlive struct {
	config     *KeepAliveConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger

	discord   *Discord
	knowledge *KnowledgeStore
}

func newKeepAlive(
	config *KeepAliveConfig,
	discord *Discord,
	knowledge *KnowledgeStore,
	logger *slog.Logger,
) *KeepAlive {
	if logger == nil {
		logger = slog.Default()
	}
	if config.LogLevel == nil || config.LogLevel.Level() > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	k := &KeepAlive{
		config:    config,
		engine:    r,
		logger:    logger,
		discord:   discord,
		knowledge: knowledge,
	}
	k.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	r.Use(gin.Recovery(), k.ginLoggingMiddleware())
	r.GET(keepAlivePathRoot, k.alive)
	r.HEAD(keepAlivePathRoot, k.alive)
	r.GET(keepAlivePathHealth, k.healthCheck)
	return k
}

// Serve listens on the configured address and serves until Shutdown is
// called. It returns http.ErrServerClosed after a clean shutdown.
func (k *KeepAlive) Serve(ctx context.Context) error {
	if k.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, "tcp", k.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", k.config.Listen, err)
		}
		k.listener = ln
	}
	k.logger.InfoContext(ctx, "keep-alive server listening", "addr", k.listener.Addr().String())
	return k.httpServer.Serve(k.listener)
}

// Shutdown stops the server, waiting for active requests until ctx is done
func (k *KeepAlive) Shutdown(ctx context.Context) error {
	err := k.httpServer.Shutdown(ctx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (k *KeepAlive) alive(c *gin.Context) {
	c.String(http.StatusOK, keepAliveMessage)
}

func (k *KeepAlive) healthCheck(c *gin.Context) {
	text := k.knowledge.Text()
	c.JSON(
		http.StatusOK, healthCheckResponse{
			DiscordConnected:   k.discord.Connected(),
			DiscordConnects:    k.discord.metricConnects.Load(),
			DiscordDisconnects: k.discord.metricDisconnects.Load(),
			KnowledgeLoaded:    text != "",
			KnowledgeChars:     utf8.RuneCountInString(text),
		},
	)
}

// ginContextLogger returns the request logger from the gin context, or
// creates one with request details included and stores it there.
func (k *KeepAlive) ginContextLogger(c *gin.Context) *slog.Logger {
	if logger, ok := c.Get(ginLoggerContextKey); ok {
		if requestLogger, ok := logger.(*slog.Logger); ok {
			return requestLogger
		}
	}
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := k.logger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
	)
	c.Set(ginLoggerContextKey, requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request once it finishes
func (k *KeepAlive) ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := k.ginContextLogger(c)
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
				"errors", errs.Errors(),
				response,
			)
			return
		}
		requestLogger.Debug(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
			"duration", latency,
			response,
		)
	}
}
