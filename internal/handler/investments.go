package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"copyfund/internal/models"
	"copyfund/internal/repository"
	"copyfund/internal/service"
)

type InvestmentHandler struct {
	Service *service.InvestmentService
}

func (h *InvestmentHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/sips/upcoming", h.listUpcoming)

	g := r.Group("/api/v1/investments")
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.POST("/:id/pause", h.pause)
	g.POST("/:id/resume", h.resume)
	g.POST("/:id/cancel", h.cancel)
}

type investmentView struct {
	ID              uint64          `json:"id"`
	UserID          string          `json:"user_id"`
	FundID          uint64          `json:"fund_id"`
	Kind            string          `json:"kind"`
	Frequency       *string         `json:"frequency,omitempty"`
	Status          string          `json:"status"`
	Amount          decimal.Decimal `json:"amount"`
	NextExecutionAt *time.Time      `json:"next_execution_at"`
	LastExecutedAt  *time.Time      `json:"last_executed_at,omitempty"`
	ExecutionCount  int64           `json:"execution_count"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func toInvestmentView(inv models.Investment) investmentView {
	return investmentView{
		ID:              inv.ID,
		UserID:          inv.UserID,
		FundID:          inv.FundID,
		Kind:            inv.Kind,
		Frequency:       inv.Frequency,
		Status:          inv.Status,
		Amount:          inv.Amount,
		NextExecutionAt: inv.NextExecutionAt,
		LastExecutedAt:  inv.LastExecutedAt,
		ExecutionCount:  inv.ExecutionCount,
		CreatedAt:       inv.CreatedAt,
		UpdatedAt:       inv.UpdatedAt,
	}
}

type createInvestmentRequest struct {
	UserID    string          `json:"user_id" binding:"required"`
	FundID    uint64          `json:"fund_id" binding:"required"`
	Kind      string          `json:"kind" binding:"required"`
	Frequency string          `json:"frequency"`
	Amount    decimal.Decimal `json:"amount"`
}

func (h *InvestmentHandler) create(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "investment service unavailable", nil)
		return
	}
	var req createInvestmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	inv, err := h.Service.Create(c.Request.Context(), service.CreateInvestmentInput{
		UserID:    req.UserID,
		FundID:    req.FundID,
		Kind:      req.Kind,
		Frequency: req.Frequency,
		Amount:    req.Amount,
	})
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, toInvestmentView(*inv), nil)
}

func (h *InvestmentHandler) get(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "investment service unavailable", nil)
		return
	}
	id, ok := idParam(c)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	inv, err := h.Service.Get(c.Request.Context(), id)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, toInvestmentView(*inv), nil)
}

func (h *InvestmentHandler) pause(c *gin.Context) {
	h.transition(c, h.Service.Pause)
}

func (h *InvestmentHandler) resume(c *gin.Context) {
	h.transition(c, h.Service.Resume)
}

func (h *InvestmentHandler) cancel(c *gin.Context) {
	h.transition(c, h.Service.Cancel)
}

type transitionFunc func(ctx context.Context, id uint64) (*models.Investment, error)

func (h *InvestmentHandler) transition(c *gin.Context, fn transitionFunc) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "investment service unavailable", nil)
		return
	}
	id, ok := idParam(c)
	if !ok {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	inv, err := fn(c.Request.Context(), id)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Ok(c, toInvestmentView(*inv), nil)
}

func (h *InvestmentHandler) listUpcoming(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "investment service unavailable", nil)
		return
	}
	now := time.Now().UTC()
	limit := intQuery(c, "limit", 50)
	var userID *string
	if v := strings.TrimSpace(c.Query("user_id")); v != "" {
		userID = &v
	}
	items, err := h.Service.ListUpcoming(c.Request.Context(), repository.ListUpcomingSIPsParams{
		Limit:  limit,
		UserID: userID,
		FundID: uint64QueryPtr(c, "fund_id"),
		Until:  timeQueryPtr(c, "within", now, 1),
	})
	if err != nil {
		ServiceError(c, err)
		return
	}
	out := make([]investmentView, 0, len(items))
	for _, it := range items {
		out = append(out, toInvestmentView(it))
	}
	Ok(c, out, map[string]any{"limit": limit, "count": len(out)})
}
