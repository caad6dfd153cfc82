//go:build integration

package integration

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

type codeRequest struct {
	Code          string   `json:"code"`
	Title         string   `json:"title,omitempty"`
	Kind          string   `json:"kind"`
	Value         string   `json:"value"`
	Scope         string   `json:"scope"`
	AppliesTo     string   `json:"applies_to"`
	TargetIDs     []string `json:"target_ids,omitempty"`
	MaximumAmount string   `json:"maximum_amount,omitempty"`
	LimitKind     string   `json:"limit_kind"`
	LimitN        int      `json:"limit_n,omitempty"`
	Active        *bool    `json:"active,omitempty"`
}

type codeResponse struct {
	ID   string `json:"id"`
	Code string `json:"code"`
}

func TestCreateCode_RequiresAPIKey(t *testing.T) {
	resp := doJSON(t, http.MethodPost, "/api/codes", codeRequest{
		Code: "NOAUTH", Kind: "percent", Value: "10",
		Scope: "all", AppliesTo: "both", LimitKind: "unlimited",
	}, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, "/api/codes", codeRequest{
		Code: "NOAUTH", Kind: "percent", Value: "10",
		Scope: "all", AppliesTo: "both", LimitKind: "unlimited",
	}, "wrong-key")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCreateCode_ThenEvaluateAndRedeem(t *testing.T) {
	code := fmt.Sprintf("ITEST%d", time.Now().Unix()%1_000_000)

	resp := doJSON(t, http.MethodPost, "/api/codes", codeRequest{
		Code:      code,
		Title:     "Integration test code",
		Kind:      "fixed",
		Value:     "5",
		Scope:     "specific_products",
		AppliesTo: "products",
		TargetIDs: []string{"product-tshirt"},
		LimitKind: "unlimited",
	}, apiKey)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	created := decodeBody[codeResponse](t, resp)
	if created.Code != code {
		t.Errorf("created code = %q, want %q", created.Code, code)
	}

	// Only the targeted product is discounted.
	resp = doJSON(t, http.MethodPost, "/api/promo/evaluate", evaluateRequest{
		Code:    code,
		BuyerID: "buyer-create",
		Items:   courseCart(),
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("evaluate status = %d", resp.StatusCode)
	}
	ev := decodeBody[evaluateResponse](t, resp)
	if ev.Subtotal != "25" {
		t.Errorf("eligible subtotal = %q, want 25", ev.Subtotal)
	}
	if ev.Reduction != "5" {
		t.Errorf("reduction = %q, want 5", ev.Reduction)
	}

	resp = doJSON(t, http.MethodPost, "/api/promo/redeem", redeemRequest{
		evaluateRequest: evaluateRequest{
			Code:    code,
			BuyerID: "buyer-create",
			Items:   courseCart(),
		},
		OrderID: code + "-order",
	}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("redeem status = %d", resp.StatusCode)
	}
	if red := decodeBody[redeemResponse](t, resp); red.AppliedAmount != "5" {
		t.Errorf("applied = %q, want 5", red.AppliedAmount)
	}
}

func TestCreateCode_DuplicateAndInvalid(t *testing.T) {
	resp := doJSON(t, http.MethodPost, "/api/codes", codeRequest{
		Code: "save10", Kind: "percent", Value: "10",
		Scope: "all", AppliesTo: "both", LimitKind: "unlimited",
	}, apiKey)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate status = %d, want 409", resp.StatusCode)
	}
	if e := decodeBody[errorResponse](t, resp); e.Kind != "CODE_EXISTS" {
		t.Errorf("kind = %q, want CODE_EXISTS", e.Kind)
	}

	resp = doJSON(t, http.MethodPost, "/api/codes", codeRequest{
		Code: "BADPCT", Kind: "percent", Value: "150",
		Scope: "all", AppliesTo: "both", LimitKind: "unlimited",
	}, apiKey)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid status = %d, want 400", resp.StatusCode)
	}
	if e := decodeBody[errorResponse](t, resp); e.Kind != "INVALID_RULE" {
		t.Errorf("kind = %q, want INVALID_RULE", e.Kind)
	}
}

func TestUpdateCode_DeactivationTakesEffect(t *testing.T) {
	code := fmt.Sprintf("TOGGLE%d", time.Now().Unix()%1_000_000)

	resp := doJSON(t, http.MethodPost, "/api/codes", codeRequest{
		Code: code, Kind: "percent", Value: "10",
		Scope: "all", AppliesTo: "both", LimitKind: "unlimited",
	}, apiKey)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	inactive := false
	resp = doJSON(t, http.MethodPut, "/api/codes/"+code, codeRequest{
		Kind: "percent", Value: "10",
		Scope: "all", AppliesTo: "both", LimitKind: "unlimited",
		Active: &inactive,
	}, apiKey)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodPost, "/api/promo/evaluate", evaluateRequest{
		Code:    code,
		BuyerID: "buyer-toggle",
		Items:   courseCart(),
	}, "")
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("evaluate status = %d, want 422", resp.StatusCode)
	}
	if e := decodeBody[errorResponse](t, resp); e.Kind != "CODE_INACTIVE" {
		t.Errorf("kind = %q, want CODE_INACTIVE", e.Kind)
	}
}
