package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/jiliangzhu/MarketPulse-X/internal/intent"
	"github.com/jiliangzhu/MarketPulse-X/internal/repository"
)

type ExecutionHandler struct {
	Repo       repository.Repository
	Service    *intent.Service
	AdminToken string
}

type intentRequest struct {
	SignalID           uint64   `json:"signal_id" binding:"required"`
	Side               string   `json:"side"`
	QtyOverride        *float64 `json:"qty_override"`
	LimitPriceOverride *float64 `json:"limit_price_override"`
	TTLSecs            int      `json:"ttl_secs"`
}

func (h *ExecutionHandler) Register(r *gin.Engine) {
	group := r.Group("/api/execution")
	group.GET("/intents", h.list)
	guarded := group.Group("")
	guarded.Use(RequireAdminToken(h.AdminToken))
	guarded.POST("/intent", h.create)
	guarded.POST("/confirm/:id", h.confirm)
}

func (h *ExecutionHandler) create(c *gin.Context) {
	var req intentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	overrides := intent.Overrides{Side: req.Side, TTLSecs: req.TTLSecs}
	if req.QtyOverride != nil {
		qty := decimal.NewFromFloat(*req.QtyOverride)
		overrides.Qty = &qty
	}
	if req.LimitPriceOverride != nil {
		limit := decimal.NewFromFloat(*req.LimitPriceOverride)
		overrides.LimitPrice = &limit
	}
	item, err := h.Service.Create(c.Request.Context(), req.SignalID, overrides)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, intent.ErrSignalNotFound):
			status = http.StatusNotFound
		case errors.Is(err, intent.ErrLevelTooLow),
			errors.Is(err, intent.ErrSignalExpired),
			errors.Is(err, intent.ErrNoPlan):
			status = http.StatusBadRequest
		default:
			status = http.StatusInternalServerError
		}
		Error(c, status, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *ExecutionHandler) confirm(c *gin.Context) {
	id, ok := uintParam(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid intent id", nil)
		return
	}
	item, err := h.Service.Confirm(c.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, intent.ErrIntentNotFound):
			status = http.StatusNotFound
		case errors.Is(err, intent.ErrIllegalTransition):
			status = http.StatusConflict
		}
		Error(c, status, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *ExecutionHandler) list(c *gin.Context) {
	items, err := h.Repo.ListIntents(c.Request.Context(), repository.ListIntentsParams{
		Status: strings.TrimSpace(c.Query("status")),
		Limit:  intQuery(c, "limit", 50),
	})
	if err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"count": len(items)})
}
