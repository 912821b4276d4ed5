package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jiliangzhu/MarketPulse-X/internal/repository"
)

type MarketHandler struct {
	Repo repository.Repository
}

func (h *MarketHandler) Register(r *gin.Engine) {
	group := r.Group("/api/markets")
	group.GET("", h.list)
	group.GET("/:id", h.detail)
}

func (h *MarketHandler) list(c *gin.Context) {
	status := strings.TrimSpace(c.Query("status"))
	limit := intQuery(c, "limit", 50)
	items, err := h.Repo.ListMarkets(c.Request.Context(), repository.ListMarketsParams{
		Status: status,
		Limit:  limit,
	})
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}

func (h *MarketHandler) detail(c *gin.Context) {
	marketID := c.Param("id")
	market, err := h.Repo.GetMarketByID(c.Request.Context(), marketID)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if market == nil {
		Error(c, http.StatusNotFound, "market not found", nil)
		return
	}
	options, err := h.Repo.ListOptionsByMarketID(c.Request.Context(), marketID)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	latest, err := h.Repo.LatestTicksByMarket(c.Request.Context(), marketID)
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, gin.H{
		"market":       market,
		"options":      options,
		"latest_ticks": latest,
	}, nil)
}
