// Package api exposes the admin/dashboard HTTP and WebSocket surface: health
// and system status, per-account position/risk/resilience snapshots, and the
// live per-account event fan-out (§6: "WebSocket").
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"trading-core/internal/audit"
	"trading-core/internal/events"
	"trading-core/internal/monitor"
	"trading-core/internal/resilience"
	"trading-core/internal/risk"
	"trading-core/internal/session"
	"trading-core/pkg/db"
)

// ResilienceSource resolves the resilient gateway wrapper for an account so
// the dashboard can read circuit-breaker and pool stats. Returns false if the
// account has no active session or its gateway isn't a resilient wrapper.
type ResilienceSource func(accountID string) (*resilience.ResilientGateway, bool)

// SystemMeta describes static runtime status exposed to the dashboard.
type SystemMeta struct {
	Venues  []string
	Version string
}

// Server wires the HTTP/WS surface around the running engine components.
type Server struct {
	Router *gin.Engine

	Bus        *events.Bus
	Sessions   *session.Manager
	Margin     *risk.MarginMonitor
	Drawdown   *risk.DrawdownTracker
	PnL        *risk.PnLCalculator
	Audit      *audit.Logger
	DB         *db.Database
	Resilience ResilienceSource
	Metrics    *monitor.SystemMetrics
	Meta       SystemMeta
}

// NewServer builds the gin router with the middleware stack and routes
// registered; matches the middleware ordering convention (recovery first,
// CORS last before routes).
func NewServer(
	bus *events.Bus,
	sessions *session.Manager,
	margin *risk.MarginMonitor,
	drawdown *risk.DrawdownTracker,
	pnl *risk.PnLCalculator,
	auditLogger *audit.Logger,
	database *db.Database,
	resilienceSource ResilienceSource,
	metrics *monitor.SystemMetrics,
	meta SystemMeta,
) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:     r,
		Bus:        bus,
		Sessions:   sessions,
		Margin:     margin,
		Drawdown:   drawdown,
		PnL:        pnl,
		Audit:      auditLogger,
		DB:         database,
		Resilience: resilienceSource,
		Metrics:    metrics,
		Meta:       meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	v1 := s.Router.Group("/api/v1")
	{
		v1.GET("/system/status", s.getSystemStatus)
		v1.GET("/system/metrics", s.getSystemMetrics)
		v1.GET("/accounts", s.listAccounts)
		v1.GET("/accounts/:id/positions", s.getPositions)
		v1.GET("/accounts/:id/risk", s.getRiskSnapshot)
		v1.GET("/accounts/:id/pnl", s.getPnLSnapshot)
		v1.GET("/accounts/:id/resilience", s.getResilienceSnapshot)
		v1.GET("/accounts/:id/audit", s.getAuditLog)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"venues":   s.Meta.Venues,
		"version":  s.Meta.Version,
		"accounts": s.Sessions.Accounts(),
		"sessions": s.Sessions.Stats(),
	})
}

func (s *Server) getSystemMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics unavailable"})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

func (s *Server) listAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": s.Sessions.Accounts()})
}

func (s *Server) getPositions(c *gin.Context) {
	accountID := c.Param("id")
	positions, err := s.Sessions.Positions(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "positions": positions})
}

func (s *Server) getRiskSnapshot(c *gin.Context) {
	accountID := c.Param("id")

	snapshot := s.Margin.Evaluate(c.Request.Context(), accountID)
	drawdown := s.Drawdown.Compute(accountID)

	c.JSON(http.StatusOK, gin.H{
		"account_id": accountID,
		"margin":     snapshot,
		"drawdown":   drawdown,
	})
}

func (s *Server) getPnLSnapshot(c *gin.Context) {
	accountID := c.Param("id")
	if s.PnL == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "pnl tracking unavailable"})
		return
	}
	all := s.PnL.Positions()
	matched := all[:0:0]
	for _, p := range all {
		if p.AccountID == accountID {
			matched = append(matched, p)
		}
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "positions": matched})
}

func (s *Server) getResilienceSnapshot(c *gin.Context) {
	accountID := c.Param("id")
	if s.Resilience == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "resilience stats unavailable"})
		return
	}
	gw, ok := s.Resilience(accountID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active session for account"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account_id": accountID,
		"breaker":    gw.Breaker().Stats(),
		"pool":       gw.PoolStats(),
		"score":      gw.PerformanceScore(),
	})
}

func (s *Server) getAuditLog(c *gin.Context) {
	accountID := c.Param("id")
	if s.Audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit log unavailable"})
		return
	}
	records, err := s.Audit.RecentForAccount(c.Request.Context(), accountID, 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": accountID, "records": records})
}

// Start runs the HTTP server on addr, blocking until it exits.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
