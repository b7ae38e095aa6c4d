package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"copyfund/internal/models"
	"copyfund/internal/repository"
	"copyfund/internal/service"
)

type ReplicationHandler struct {
	Service *service.InvestmentService
}

func (h *ReplicationHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/replications", h.list)
}

type replicationView struct {
	ID              uint64          `json:"id"`
	InvestmentID    uint64          `json:"investment_id"`
	FundID          *uint64         `json:"fund_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Kind            string          `json:"kind"`
	Status          string          `json:"status"`
	Direction       string          `json:"direction"`
	TxSignature     string          `json:"tx_signature"`
	SourceWallet    string          `json:"source_wallet,omitempty"`
	SourceSignature string          `json:"source_signature,omitempty"`
	ExecutedAt      time.Time       `json:"executed_at"`
	CreatedAt       time.Time       `json:"created_at"`
}

var replicationOrder = map[string]string{
	"created_at":  "created_at",
	"executed_at": "executed_at",
	"amount":      "amount",
	"id":          "id",
}

func (h *ReplicationHandler) list(c *gin.Context) {
	if h.Service == nil {
		Error(c, http.StatusInternalServerError, "investment service unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	params := repository.ListTradeReplicationsParams{
		Limit:        limit,
		Offset:       offset,
		InvestmentID: uint64QueryPtr(c, "investment_id"),
		FundID:       uint64QueryPtr(c, "fund_id"),
		Kind:         strQueryPtr(c, "kind"),
		Since:        timeQueryPtr(c, "since", time.Now().UTC(), -1),
		OrderBy:      parseOrder(c.Query("order_by"), replicationOrder),
		Asc:          boolQueryPtr(c, "asc"),
	}
	items, total, err := h.Service.ListReplications(c.Request.Context(), params)
	if err != nil {
		ServiceError(c, err)
		return
	}
	out := make([]replicationView, 0, len(items))
	for _, it := range items {
		out = append(out, toReplicationView(it))
	}
	Ok(c, out, paginationMeta(limit, offset, total))
}

func toReplicationView(it models.TradeReplication) replicationView {
	return replicationView{
		ID:              it.ID,
		InvestmentID:    it.InvestmentID,
		FundID:          it.FundID,
		Amount:          it.Amount,
		Kind:            it.Kind,
		Status:          it.Status,
		Direction:       it.Direction,
		TxSignature:     it.TxSignature,
		SourceWallet:    it.SourceWallet,
		SourceSignature: it.SourceSignature,
		ExecutedAt:      it.ExecutedAt,
		CreatedAt:       it.CreatedAt,
	}
}
