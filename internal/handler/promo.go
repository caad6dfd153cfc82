package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/edulane/promo-engine/internal/domain/promo"
)

type lineItemRequest struct {
	ItemID      string          `json:"item_id"`
	Kind        string          `json:"kind"`
	CategoryIDs []string        `json:"category_ids,omitempty"`
	UnitAmount  decimal.Decimal `json:"unit_amount"`
}

type evaluateRequest struct {
	Code          string            `json:"code"`
	BuyerID       string            `json:"buyer_id"`
	HasPriorOrder bool              `json:"has_prior_order"`
	Items         []lineItemRequest `json:"items"`
}

type evaluateResponse struct {
	Code            string          `json:"code"`
	EligibleItemIDs []string        `json:"eligible_item_ids"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Reduction       decimal.Decimal `json:"reduction"`
	FinalAmount     decimal.Decimal `json:"final_amount"`
}

type redeemRequest struct {
	evaluateRequest
	OrderID string `json:"order_id"`
}

type redeemResponse struct {
	UsageRecordID string          `json:"usage_record_id"`
	AppliedAmount decimal.Decimal `json:"applied_amount"`
	Replayed      bool            `json:"replayed"`
}

func (req *evaluateRequest) purchaseContext() promo.PurchaseContext {
	items := make([]promo.LineItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = promo.LineItem{
			ItemID:      it.ItemID,
			Kind:        promo.ItemKind(it.Kind),
			CategoryIDs: it.CategoryIDs,
			UnitAmount:  it.UnitAmount,
		}
	}
	return promo.PurchaseContext{
		BuyerID:       req.BuyerID,
		Items:         items,
		HasPriorOrder: req.HasPriorOrder,
	}
}

// EvaluateCode prices a code against a cart without consuming a use.
func (h *Handler) EvaluateCode(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "invalid request body")
		return
	}

	ev, err := h.engine.Evaluate(r.Context(), req.Code, req.purchaseContext())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	ids := make([]string, len(ev.EligibleItems))
	for i, it := range ev.EligibleItems {
		ids[i] = it.ItemID
	}
	writeJSON(w, http.StatusOK, evaluateResponse{
		Code:            ev.Code,
		EligibleItemIDs: ids,
		Subtotal:        ev.Subtotal,
		Reduction:       ev.Reduction,
		FinalAmount:     ev.FinalAmount,
	})
}

// RedeemCode durably consumes one use of a code against an order.
func (h *Handler) RedeemCode(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "invalid request body")
		return
	}
	if req.OrderID == "" || req.BuyerID == "" {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "order_id and buyer_id are required")
		return
	}

	red, err := h.engine.Redeem(r.Context(), req.Code, req.purchaseContext(), req.OrderID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, redeemResponse{
		UsageRecordID: red.UsageRecordID,
		AppliedAmount: red.AppliedAmount,
		Replayed:      red.Replayed,
	})
}

// Wire error kinds. Clients branch on these, not on messages.
const (
	kindInvalidRequest     = "INVALID_REQUEST"
	kindCodeNotFound       = "CODE_NOT_FOUND"
	kindCodeInactive       = "CODE_INACTIVE"
	kindCodeNotYetActive   = "CODE_NOT_YET_ACTIVE"
	kindCodeExpired        = "CODE_EXPIRED"
	kindScopeMismatch      = "SCOPE_MISMATCH"
	kindBelowMinimumAmount = "BELOW_MINIMUM_AMOUNT"
	kindUsageLimitExceeded = "USAGE_LIMIT_EXCEEDED"
	kindAlreadyUsedByUser  = "ALREADY_USED_BY_USER"
	kindDailyLimitExceeded = "DAILY_LIMIT_EXCEEDED"
	kindServerBusy         = "SERVER_BUSY"
	kindCodeExists         = "CODE_EXISTS"
	kindInvalidRule        = "INVALID_RULE"
	kindUnauthorized       = "UNAUTHORIZED"
	kindInternal           = "INTERNAL"
)

// writeEngineError maps domain errors onto wire kinds and status codes.
// Rejections of a well-formed request use 422, exhausted limits 409,
// and overload 503.
func writeEngineError(w http.ResponseWriter, err error) {
	var belowMin *promo.BelowMinimumAmountError

	switch {
	case errors.Is(err, promo.ErrCodeNotFound):
		writeError(w, http.StatusUnprocessableEntity, kindCodeNotFound, "code does not exist")
	case errors.Is(err, promo.ErrCodeInactive):
		writeError(w, http.StatusUnprocessableEntity, kindCodeInactive, "code is disabled")
	case errors.Is(err, promo.ErrCodeNotYetActive):
		writeError(w, http.StatusUnprocessableEntity, kindCodeNotYetActive, "code is not active yet")
	case errors.Is(err, promo.ErrCodeExpired):
		writeError(w, http.StatusUnprocessableEntity, kindCodeExpired, "code has expired")
	case errors.Is(err, promo.ErrScopeMismatch):
		writeError(w, http.StatusUnprocessableEntity, kindScopeMismatch, "code does not apply to any item in the purchase")
	case errors.As(err, &belowMin):
		writeError(w, http.StatusUnprocessableEntity, kindBelowMinimumAmount, belowMin.Error())
	case errors.Is(err, promo.ErrAlreadyUsedByUser):
		writeError(w, http.StatusConflict, kindAlreadyUsedByUser, "code already used by this user")
	case errors.Is(err, promo.ErrDailyLimitExceeded):
		writeError(w, http.StatusConflict, kindDailyLimitExceeded, "daily limit for this code is exhausted")
	case errors.Is(err, promo.ErrUsageLimitExceeded):
		writeError(w, http.StatusConflict, kindUsageLimitExceeded, "usage limit for this code is exhausted")
	case errors.Is(err, promo.ErrServerBusy):
		writeError(w, http.StatusServiceUnavailable, kindServerBusy, "redemption could not complete in time, retry")
	default:
		writeError(w, http.StatusInternalServerError, kindInternal, "internal error")
	}
}
