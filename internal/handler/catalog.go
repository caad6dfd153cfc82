package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/edulane/promo-engine/internal/domain/catalog"
)

type catalogItemResponse struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Name        string          `json:"name"`
	UnitAmount  decimal.Decimal `json:"unit_amount"`
	CategoryIDs []string        `json:"category_ids"`
}

// ListCatalog returns every purchasable item. Owner ids are internal and
// not exposed.
func (h *Handler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	items, err := h.catalog.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, kindInternal, "internal error")
		return
	}

	resp := make([]catalogItemResponse, len(items))
	for i, it := range items {
		resp[i] = toCatalogItemResponse(it)
	}
	writeJSON(w, http.StatusOK, resp)
}

func toCatalogItemResponse(it catalog.Item) catalogItemResponse {
	cats := it.CategoryIDs
	if cats == nil {
		cats = []string{}
	}
	return catalogItemResponse{
		ID:          it.ID,
		Kind:        string(it.Kind),
		Name:        it.Name,
		UnitAmount:  it.UnitAmount,
		CategoryIDs: cats,
	}
}
