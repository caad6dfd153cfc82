package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/edulane/promo-engine/internal/domain/auth"
	"github.com/edulane/promo-engine/internal/domain/promo"
)

type codeRequest struct {
	Code          string           `json:"code"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Kind          string           `json:"kind"`
	Value         decimal.Decimal  `json:"value"`
	Scope         string           `json:"scope"`
	AppliesTo     string           `json:"applies_to"`
	TargetIDs     []string         `json:"target_ids,omitempty"`
	MinimumAmount *decimal.Decimal `json:"minimum_amount,omitempty"`
	MaximumAmount *decimal.Decimal `json:"maximum_amount,omitempty"`
	LimitKind     string           `json:"limit_kind"`
	LimitN        int              `json:"limit_n,omitempty"`
	ValidFrom     *time.Time       `json:"valid_from,omitempty"`
	ValidUntil    *time.Time       `json:"valid_until,omitempty"`
	Active        *bool            `json:"active,omitempty"`
}

type codeResponse struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

func (req *codeRequest) toCode(key *auth.APIKeyInfo) *promo.Code {
	scope := promo.AuthorOwner
	if key.HasScope(auth.ScopeAdmin) {
		scope = promo.AuthorAdmin
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	limitKind := promo.LimitKind(req.LimitKind)
	if req.LimitKind == "" {
		limitKind = promo.LimitUnlimited
	}
	return &promo.Code{
		Code:          promo.Normalize(req.Code),
		Title:         req.Title,
		Description:   req.Description,
		Kind:          promo.Kind(req.Kind),
		Value:         req.Value,
		Scope:         promo.ScopeKind(req.Scope),
		AppliesTo:     promo.AppliesTo(req.AppliesTo),
		TargetIDs:     req.TargetIDs,
		MinimumAmount: req.MinimumAmount,
		MaximumAmount: req.MaximumAmount,
		Limit:         promo.LimitPolicy{Kind: limitKind, N: req.LimitN},
		ValidFrom:     req.ValidFrom,
		ValidUntil:    req.ValidUntil,
		Active:        active,
		AuthorID:      key.AuthorID,
		AuthorScope:   scope,
	}
}

// CreateCode registers a new discount code authored by the calling key.
func (h *Handler) CreateCode(w http.ResponseWriter, r *http.Request) {
	key, ok := apiKeyFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, kindUnauthorized, "missing api key")
		return
	}

	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "invalid request body")
		return
	}

	c := req.toCode(key)
	c.ID = uuid.New().String()

	if err := h.validateAndStore(w, r, c, h.codes.Create); err != nil {
		return
	}
	writeJSON(w, http.StatusCreated, codeResponse{ID: c.ID, Code: c.Code})
}

// UpdateCode edits an existing code. The path parameter names the code;
// the body carries the full new definition.
func (h *Handler) UpdateCode(w http.ResponseWriter, r *http.Request) {
	key, ok := apiKeyFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, kindUnauthorized, "missing api key")
		return
	}

	var req codeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "invalid request body")
		return
	}
	req.Code = chi.URLParam(r, "code")

	existing, err := h.codes.FindByCode(r.Context(), req.Code)
	if err != nil {
		if errors.Is(err, promo.ErrCodeNotFound) {
			writeError(w, http.StatusNotFound, kindCodeNotFound, "code does not exist")
			return
		}
		writeError(w, http.StatusInternalServerError, kindInternal, "internal error")
		return
	}

	// Owner keys may only edit their own codes.
	if !key.HasScope(auth.ScopeAdmin) && existing.AuthorID != key.AuthorID {
		writeError(w, http.StatusForbidden, kindUnauthorized, "code belongs to another author")
		return
	}

	c := req.toCode(key)
	c.ID = existing.ID
	c.AuthorID = existing.AuthorID
	c.AuthorScope = existing.AuthorScope

	if err := h.validateAndStore(w, r, c, h.codes.Update); err != nil {
		return
	}
	writeJSON(w, http.StatusOK, codeResponse{ID: c.ID, Code: c.Code})
}

type storeFunc func(ctx context.Context, c *promo.Code) error

func (h *Handler) validateAndStore(w http.ResponseWriter, r *http.Request, c *promo.Code, store storeFunc) error {
	if err := promo.ValidateAuthored(r.Context(), h.catalog, c); err != nil {
		switch {
		case errors.Is(err, promo.ErrUnauthorized):
			writeError(w, http.StatusForbidden, kindUnauthorized, err.Error())
		case errors.Is(err, promo.ErrInvalidRule):
			writeError(w, http.StatusBadRequest, kindInvalidRule, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, kindInternal, "internal error")
		}
		return err
	}

	if err := store(r.Context(), c); err != nil {
		switch {
		case errors.Is(err, promo.ErrCodeExists):
			writeError(w, http.StatusConflict, kindCodeExists, "a code with this name already exists")
		case errors.Is(err, promo.ErrCodeNotFound):
			writeError(w, http.StatusNotFound, kindCodeNotFound, "code does not exist")
		default:
			writeError(w, http.StatusInternalServerError, kindInternal, "internal error")
		}
		return err
	}

	if h.cache != nil {
		h.cache.Invalidate(c.Code)
	}
	return nil
}
