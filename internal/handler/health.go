package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// LoopFreshness exposes the background loops' last activity.
type LoopFreshness interface {
	Freshness() (lastTick, lastCycle time.Time, lastErr error)
}

type RuleFreshness interface {
	LastRun() time.Time
}

type HealthHandler struct {
	DB     *gorm.DB
	Ingest LoopFreshness
	Rules  RuleFreshness
}

func (h *HealthHandler) Register(r *gin.Engine) {
	r.GET("/healthz", h.health)
	r.GET("/readyz", h.ready)
}

func (h *HealthHandler) health(c *gin.Context) {
	out := gin.H{"status": "ok"}
	if h.Ingest != nil {
		lastTick, lastCycle, lastErr := h.Ingest.Freshness()
		out["ingest_last_tick"] = formatTS(lastTick)
		out["ingest_last_cycle"] = formatTS(lastCycle)
		if lastErr != nil {
			out["ingest_last_error"] = lastErr.Error()
		}
	}
	if h.Rules != nil {
		out["rules_last_run"] = formatTS(h.Rules.LastRun())
	}
	c.JSON(http.StatusOK, out)
}

func (h *HealthHandler) ready(c *gin.Context) {
	if h.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_missing"})
		return
	}
	sqlDB, err := h.DB.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_error"})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func formatTS(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}
