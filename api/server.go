// Package api serves the read-only status HTTP endpoints and the
// Prometheus metrics handler.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"gridbot/logger"
	"gridbot/manager"
	"gridbot/market"
	"gridbot/metrics"
	"gridbot/store"
)

// Server HTTP API server
type Server struct {
	router       *gin.Engine
	orchestrator *manager.Orchestrator
	store        *store.Store
	prices       *market.PriceCache
	httpServer   *http.Server
	port         int
}

// NewServer creates the API server. prices may be nil when streaming is
// disabled.
func NewServer(orchestrator *manager.Orchestrator, st *store.Store, prices *market.PriceCache, port int) *Server {
	// Set to Release mode (reduce log output)
	gin.SetMode(gin.ReleaseMode)

	router := gin.Default()
	router.Use(corsMiddleware())

	s := &Server{
		router:       router,
		orchestrator: orchestrator,
		store:        st,
		prices:       prices,
		port:         port,
	}
	s.setupRoutes()
	return s
}

// corsMiddleware CORS middleware
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func (s *Server) setupRoutes() {
	apiGroup := s.router.Group("/api")
	{
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.GET("/allocations", s.handleAllocations)
		apiGroup.GET("/rotation", s.handleRotation)
		apiGroup.GET("/fills/:symbol", s.handleFills)
		apiGroup.GET("/prices", s.handlePrices)
	}
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now()})
	})
}

// handleStatus reports every running worker plus the protected positions.
func (s *Server) handleStatus(c *gin.Context) {
	totalPnL, err := s.store.Fills().TotalRealizedPnL()
	if err != nil {
		logger.Warnf("⚠️ Failed to read total realized pnl: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{
		"workers":             s.orchestrator.Status(),
		"protected_positions": s.orchestrator.TPSLStatus(),
		"total_realized_pnl":  totalPnL,
	})
}

// handleAllocations returns the current cycle's allocation snapshot.
func (s *Server) handleAllocations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"allocations": s.orchestrator.Allocations()})
}

// handleRotation returns the latest advisory rotation report.
func (s *Server) handleRotation(c *gin.Context) {
	report := s.orchestrator.Rotation()
	if report == nil {
		c.JSON(http.StatusOK, gin.H{"report": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// handleFills lists the most recent fills for one symbol.
func (s *Server) handleFills(c *gin.Context) {
	symbol := c.Param("symbol")
	fills, err := s.store.Fills().RecentBySymbol(symbol, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "fills": fills})
}

// handlePrices returns the streamed mark prices, when streaming is on.
func (s *Server) handlePrices(c *gin.Context) {
	if s.prices == nil {
		c.JSON(http.StatusOK, gin.H{"prices": gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"prices": s.prices.All()})
}

// Start runs the HTTP server. Blocks until shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}
	logger.Infof("🌐 API server listening on :%d", s.port)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
