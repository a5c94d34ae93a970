// Package health serves the admin surface: liveness, room census, build
// info, readiness, and the client validation report slot.
package health

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/config"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/metrics"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/room"
)

// Build metadata, injected via -ldflags at release time.
var (
	Build          = "dev"
	BuildTimestamp = "unknown"
	CommitHash     = "unknown"
)

// readinessErrorBudget is the protocol error count past which readyz
// reports degraded: a client fleet producing malformed traffic at startup
// usually means a deploy skew.
const readinessErrorBudget = 5

// RoomLister is the registry view the census endpoint needs.
type RoomLister interface {
	ListRooms() []room.Summary
}

// ConnCounter reports live WebSocket connections; used for the
// ws-operational readiness check.
type ConnCounter interface {
	ClientCount() int
}

// Handler carries the admin endpoints' dependencies.
type Handler struct {
	cfg   *config.Config
	rooms RoomLister
	conns ConnCounter

	mu           sync.Mutex
	latestReport map[string]any
	reportAt     time.Time
}

func NewHandler(cfg *config.Config, rooms RoomLister, conns ConnCounter) *Handler {
	return &Handler{cfg: cfg, rooms: rooms, conns: conns}
}

// Register mounts the admin routes on the given router group.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/health", h.Health)
	r.GET("/healthz", h.Healthz)
	r.GET("/_version", h.Version)
	r.GET("/readyz", h.Readyz)
	r.POST("/validate", h.Validate)
	r.POST("/validate/report", h.StoreReport)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"timestamp": time.Now().UnixMilli(),
	})
}

// Healthz returns the room census. h264Only is a fixed capability flag the
// web client reads to pick its encoder.
func (h *Handler) Healthz(c *gin.Context) {
	summaries := h.rooms.ListRooms()
	rooms := make([]gin.H, 0, len(summaries))
	for _, s := range summaries {
		rooms = append(rooms, gin.H{
			"id":            s.ID,
			"viewersCount":  s.ViewersCount,
			"hasActiveGame": s.HasActiveGame,
			"h264Only":      true,
		})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

func (h *Handler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"build":      Build,
		"timestamp":  BuildTimestamp,
		"commitHash": CommitHash,
	})
}

// Readyz aggregates the readiness checks. Any failing check flips the
// response to 503 with the failing names listed under issues.
func (h *Handler) Readyz(c *gin.Context) {
	checks := gin.H{}
	issues := []string{}

	routerEnabled := h.cfg.RouterEnabled
	checks["router_enabled"] = routerEnabled
	if !routerEnabled {
		issues = append(issues, "router disabled")
	}

	turnOK := h.cfg.TurnConfigured()
	checks["turn_configured"] = turnOK
	if !turnOK {
		issues = append(issues, "TURN credentials not configured")
	}

	errCount := metrics.ProtocolErrorCount()
	errOK := errCount < readinessErrorBudget
	checks["error_rate_ok"] = errOK
	if !errOK {
		issues = append(issues, "elevated protocol error count")
	}

	wsOK := h.conns != nil
	checks["ws_operational"] = wsOK
	if !wsOK {
		issues = append(issues, "websocket listener not running")
	}

	if len(issues) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ready":  false,
			"checks": checks,
			"issues": issues,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "checks": checks})
}

// Validate returns the most recently stored client validation report.
func (h *Handler) Validate(c *gin.Context) {
	h.mu.Lock()
	report := h.latestReport
	at := h.reportAt
	h.mu.Unlock()

	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no validation report stored"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"report":     report,
		"receivedAt": at.UnixMilli(),
	})
}

// StoreReport accepts a client-supplied validation report into the
// single in-memory slot. Newer reports overwrite older ones.
func (h *Handler) StoreReport(c *gin.Context) {
	var report map[string]any
	if err := c.ShouldBindJSON(&report); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "report must be a JSON object"})
		return
	}

	h.mu.Lock()
	h.latestReport = report
	h.reportAt = time.Now()
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"stored": true})
}
