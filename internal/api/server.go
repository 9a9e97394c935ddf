package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/space-project/spacerelay/internal/config"
	"github.com/space-project/spacerelay/internal/db"
	intnet "github.com/space-project/spacerelay/internal/network"
	"github.com/space-project/spacerelay/internal/server"
)

// RelayView is the read side of the relay that the API reports on.
type RelayView interface {
	Snapshot() *server.Snapshot
	Stats() server.StatsSnapshot
	Options() server.Options
}

// Server is the monitoring API. Every endpoint is read-only.
type Server struct {
	cfg     *config.Config
	relay   RelayView
	history *db.HistoryDatabase // nil when the ledger is disabled

	httpServer *http.Server
	router     *gin.Engine
	startedAt  time.Time
}

// NewServer creates the API server. history may be nil.
func NewServer(cfg *config.Config, relay RelayView, history *db.HistoryDatabase) *Server {
	if cfg.Logging.Level == "debug" || cfg.Logging.Level == "trace" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg,
		relay:     relay,
		history:   history,
		startedAt: time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort("", strconv.Itoa(s.cfg.API.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ln, err := intnet.ListenTCP(ctx, addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("monitoring API starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(s.cfg.API.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/server_info", s.handleServerInfo)
	}

	monitor := router.Group("/api/monitor")
	{
		monitor.GET("/slots", s.handleSlots)
		monitor.GET("/sessions", s.handleSessions)
		monitor.GET("/stats", s.handleStats)
		monitor.GET("/history", s.handleHistory)
		monitor.GET("/cpu", s.handleCPUUsage)
		monitor.GET("/memory", s.handleMemoryUsage)
		monitor.GET("/log_entries", s.handleLogEntries)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}
