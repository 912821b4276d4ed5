package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jiliangzhu/MarketPulse-X/internal/repository"
)

type KpiHandler struct {
	Repo repository.Repository
}

func (h *KpiHandler) Register(r *gin.Engine) {
	r.GET("/api/kpi/daily", h.daily)
}

func (h *KpiHandler) daily(c *gin.Context) {
	days := intQuery(c, "days", 7)
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	items, err := h.Repo.ListRuleKpiDaily(c.Request.Context(), since)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"days": days})
}
