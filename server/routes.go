// Package server exposes loaded recognition models over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/sooftware/End-to-end-Speech-Recognition/envconfig"
	"github.com/sooftware/End-to-end-Speech-Recognition/logutil"
	"github.com/sooftware/End-to-end-Speech-Recognition/version"
)

// ErrMaxQueue is returned when the queue of pending recognition requests is
// full.
var ErrMaxQueue = errors.New("server busy, please try again.  maximum pending requests exceeded")

// Server routes recognition requests to models loaded from the local model
// directory.
type Server struct {
	addr   net.Addr
	models *loader

	// sem bounds concurrent forward passes, queued counts requests
	// waiting for a slot.
	sem      *semaphore.Weighted
	queued   atomic.Int64
	maxQueue int64
}

// NewServer builds a server resolving models against envconfig.Models.
func NewServer(addr net.Addr) *Server {
	return &Server{
		addr:     addr,
		models:   newLoader(envconfig.Models()),
		sem:      semaphore.NewWeighted(int64(envconfig.NumParallel())),
		maxQueue: int64(envconfig.MaxQueue()),
	}
}

// admit reserves a forward pass slot, shedding load once too many requests
// are already waiting for one.
func (s *Server) admit(ctx context.Context) error {
	if s.queued.Add(1) > s.maxQueue {
		s.queued.Add(-1)
		return ErrMaxQueue
	}

	err := s.sem.Acquire(ctx, 1)
	s.queued.Add(-1)
	return err
}

// isLocalIP reports whether ip belongs to a local interface.
func isLocalIP(ip netip.Addr) bool {
	if interfaces, err := net.Interfaces(); err == nil {
		for _, iface := range interfaces {
			addrs, err := iface.Addrs()
			if err != nil {
				continue
			}

			for _, a := range addrs {
				if parsed, _, err := net.ParseCIDR(a.String()); err == nil {
					if parsed.String() == ip.String() {
						return true
					}
				}
			}
		}
	}

	return false
}

func allowedHost(host string) bool {
	host = strings.ToLower(host)

	if host == "" || host == "localhost" {
		return true
	}

	if hostname, err := os.Hostname(); err == nil && host == strings.ToLower(hostname) {
		return true
	}

	tlds := []string{
		"localhost",
		"local",
		"internal",
	}

	for _, tld := range tlds {
		if strings.HasSuffix(host, "."+tld) {
			return true
		}
	}

	return false
}

// allowedHostsMiddleware rejects requests that reach a loopback listener
// under a non-local host name.
func allowedHostsMiddleware(addr net.Addr) gin.HandlerFunc {
	return func(c *gin.Context) {
		if addr == nil {
			c.Next()
			return
		}

		if addr, err := netip.ParseAddrPort(addr.String()); err == nil && !addr.Addr().IsLoopback() {
			c.Next()
			return
		}

		host, _, err := net.SplitHostPort(c.Request.Host)
		if err != nil {
			host = c.Request.Host
		}

		if addr, err := netip.ParseAddr(host); err == nil {
			if addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() || isLocalIP(addr) {
				c.Next()
				return
			}
		}

		if allowedHost(host) {
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}

			c.Next()
			return
		}

		c.AbortWithStatus(http.StatusForbidden)
	}
}

// requestLogger tags every request with an id and logs it after it is
// served.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			if u, err := uuid.NewV7(); err == nil {
				id = u.String()
			}
		}
		c.Header("X-Request-Id", id)

		start := time.Now()
		c.Next()

		slog.Info("request",
			"id", id,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// GenerateRoutes builds the HTTP router.
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
		"X-Request-Id",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		gin.Recovery(),
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
		requestLogger(),
	)

	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "Kospeech is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "Kospeech is running") })
	r.HEAD("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })

	r.HEAD("/api/models", s.ListHandler)
	r.GET("/api/models", s.ListHandler)
	r.POST("/api/recognize", s.RecognizeHandler)

	return r
}

// Serve runs the recognition server on ln until it is interrupted.
func Serve(ln net.Listener) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Info("server config", "env", envconfig.Values())

	s := NewServer(ln.Addr())
	srvr := &http.Server{Handler: s.GenerateRoutes()}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		srvr.Close()
	}()

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version))

	if err := srvr.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
