package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edulane/promo-engine/internal/domain/auth"
	"github.com/edulane/promo-engine/internal/domain/catalog"
	"github.com/edulane/promo-engine/internal/domain/promo"
)

// --- Mock implementations ---

// stubStore is an in-memory CodeStore and promo.Ledger, enough to drive
// the engine end to end without a database.
type stubStore struct {
	mu      sync.Mutex
	codes   map[string]*promo.Code
	records []promo.UsageRecord
}

func newStubStore(codes ...*promo.Code) *stubStore {
	s := &stubStore{codes: make(map[string]*promo.Code, len(codes))}
	for _, c := range codes {
		s.codes[promo.Normalize(c.Code)] = c
	}
	return s
}

func (s *stubStore) FindByCode(_ context.Context, code string) (*promo.Code, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[promo.Normalize(code)]
	if !ok {
		return nil, promo.ErrCodeNotFound
	}
	return c, nil
}

func (s *stubStore) Create(_ context.Context, c *promo.Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := promo.Normalize(c.Code)
	if _, ok := s.codes[key]; ok {
		return promo.ErrCodeExists
	}
	s.codes[key] = c
	return nil
}

func (s *stubStore) Update(_ context.Context, c *promo.Code) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := promo.Normalize(c.Code)
	if _, ok := s.codes[key]; !ok {
		return promo.ErrCodeNotFound
	}
	s.codes[key] = c
	return nil
}

func (s *stubStore) CountUses(_ context.Context, codeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.CodeID == codeID {
			n++
		}
	}
	return n, nil
}

func (s *stubStore) CountUsesBetween(_ context.Context, codeID string, from, to time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.records {
		if r.CodeID == codeID && !r.UsedAt.Before(from) && r.UsedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (s *stubStore) UserHasUsed(_ context.Context, codeID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.CodeID == codeID && r.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

type stubView struct{ s *stubStore }

func (v stubView) FindByCode(_ context.Context, code string) (*promo.Code, error) {
	c, ok := v.s.codes[promo.Normalize(code)]
	if !ok {
		return nil, promo.ErrCodeNotFound
	}
	return c, nil
}

func (v stubView) CountUses(_ context.Context, codeID string) (int, error) {
	n := 0
	for _, r := range v.s.records {
		if r.CodeID == codeID {
			n++
		}
	}
	return n, nil
}

func (v stubView) CountUsesBetween(_ context.Context, codeID string, from, to time.Time) (int, error) {
	n := 0
	for _, r := range v.s.records {
		if r.CodeID == codeID && !r.UsedAt.Before(from) && r.UsedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (v stubView) UserHasUsed(_ context.Context, codeID, userID string) (bool, error) {
	for _, r := range v.s.records {
		if r.CodeID == codeID && r.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubStore) Redeem(ctx context.Context, rec promo.UsageRecord, revalidate promo.RevalidateFunc) (*promo.UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].CodeID == rec.CodeID && s.records[i].OrderID == rec.OrderID {
			return &s.records[i], nil
		}
	}
	amount, err := revalidate(ctx, stubView{s})
	if err != nil {
		return nil, err
	}
	rec.AppliedAmount = amount
	s.records = append(s.records, rec)
	return &rec, nil
}

type stubCatalog struct {
	items []catalog.Item
	err   error
}

func (c *stubCatalog) List(_ context.Context) ([]catalog.Item, error) {
	return c.items, c.err
}

func (c *stubCatalog) GetByIDs(_ context.Context, ids []string) ([]catalog.Item, error) {
	var out []catalog.Item
	for _, it := range c.items {
		for _, id := range ids {
			if it.ID == id {
				out = append(out, it)
			}
		}
	}
	return out, nil
}

func (c *stubCatalog) OwnedCourseIDs(_ context.Context, ownerID string) ([]string, error) {
	var ids []string
	for _, it := range c.items {
		if it.Kind == catalog.KindCourse && it.OwnerID == ownerID {
			ids = append(ids, it.ID)
		}
	}
	return ids, nil
}

func (c *stubCatalog) Upsert(_ context.Context, items []catalog.Item) error {
	c.items = append(c.items, items...)
	return nil
}

// --- Helpers ---

func authAs(info *auth.APIKeyInfo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if info == nil {
				writeError(w, http.StatusUnauthorized, kindUnauthorized, "missing api key")
				return
			}
			ctx := context.WithValue(r.Context(), apiKeyCtxKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func newTestServer(t *testing.T, store *stubStore, cat *stubCatalog, key *auth.APIKeyInfo) *httptest.Server {
	t.Helper()
	engine := promo.NewEngine(store, store, time.UTC)
	h := NewHandler(engine, store, cat, nil)
	srv := httptest.NewServer(h.Routes(authAs(key)))
	t.Cleanup(srv.Close)
	return srv
}

func saveTen() *promo.Code {
	return &promo.Code{
		ID:        "id-1",
		Code:      "SAVE10",
		Kind:      promo.KindPercent,
		Value:     decimal.NewFromInt(10),
		Scope:     promo.ScopeAll,
		AppliesTo: promo.AppliesBoth,
		Limit:     promo.Unlimited(),
		Active:    true,
	}
}

func evaluateBody(code string) string {
	return `{"code":"` + code + `","buyer_id":"u1","items":[
		{"item_id":"c1","kind":"course","unit_amount":"100.00"}]}`
}

func postJSON(t *testing.T, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

// --- Tests ---

func TestEvaluateCode(t *testing.T) {
	srv := newTestServer(t, newStubStore(saveTen()), &stubCatalog{}, nil)

	resp, body := postJSON(t, srv.URL+"/api/promo/evaluate", evaluateBody("save10"))

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SAVE10", body["code"])
	assert.Equal(t, "100", body["subtotal"])
	assert.Equal(t, "10", body["reduction"])
	assert.Equal(t, "90", body["final_amount"])
	assert.Equal(t, []any{"c1"}, body["eligible_item_ids"])
}

func TestEvaluateCode_Errors(t *testing.T) {
	expired := saveTen()
	expired.Code = "OLD"
	until := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	expired.ValidUntil = &until

	courses := saveTen()
	courses.Code = "COURSES"
	courses.AppliesTo = promo.AppliesCourses

	srv := newTestServer(t, newStubStore(saveTen(), expired, courses), &stubCatalog{}, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantKind   string
	}{
		{
			name:       "unknown code",
			body:       evaluateBody("NOPE"),
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "CODE_NOT_FOUND",
		},
		{
			name:       "expired code",
			body:       evaluateBody("OLD"),
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "CODE_EXPIRED",
		},
		{
			name: "scope mismatch",
			body: `{"code":"COURSES","buyer_id":"u1","items":[
				{"item_id":"p1","kind":"product","unit_amount":"10.00"}]}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "SCOPE_MISMATCH",
		},
		{
			name:       "malformed body",
			body:       `{"code":`,
			wantStatus: http.StatusBadRequest,
			wantKind:   "INVALID_REQUEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := postJSON(t, srv.URL+"/api/promo/evaluate", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantKind, body["kind"])
		})
	}
}

func TestRedeemCode(t *testing.T) {
	store := newStubStore(saveTen())
	srv := newTestServer(t, store, &stubCatalog{}, nil)

	body := `{"code":"SAVE10","buyer_id":"u1","order_id":"order-1","items":[
		{"item_id":"c1","kind":"course","unit_amount":"100.00"}]}`

	resp, first := postJSON(t, srv.URL+"/api/promo/redeem", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, first["usage_record_id"])
	assert.Equal(t, "10", first["applied_amount"])
	assert.Equal(t, false, first["replayed"])

	resp, second := postJSON(t, srv.URL+"/api/promo/redeem", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, first["usage_record_id"], second["usage_record_id"])
	assert.Equal(t, true, second["replayed"])

	require.Len(t, store.records, 1)
}

func TestRedeemCode_LimitExhausted(t *testing.T) {
	limited := saveTen()
	limited.Limit = promo.TotalLimit(1)
	store := newStubStore(limited)
	srv := newTestServer(t, store, &stubCatalog{}, nil)

	body := func(order string) string {
		return `{"code":"SAVE10","buyer_id":"u1","order_id":"` + order + `","items":[
			{"item_id":"c1","kind":"course","unit_amount":"100.00"}]}`
	}

	resp, _ := postJSON(t, srv.URL+"/api/promo/redeem", body("order-1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, errBody := postJSON(t, srv.URL+"/api/promo/redeem", body("order-2"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "USAGE_LIMIT_EXCEEDED", errBody["kind"])
}

func TestRedeemCode_MissingOrderID(t *testing.T) {
	srv := newTestServer(t, newStubStore(saveTen()), &stubCatalog{}, nil)

	resp, body := postJSON(t, srv.URL+"/api/promo/redeem", evaluateBody("SAVE10"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_REQUEST", body["kind"])
}

func TestListCatalog(t *testing.T) {
	cat := &stubCatalog{items: []catalog.Item{
		{ID: "c1", Kind: catalog.KindCourse, Name: "Intro to Go", UnitAmount: decimal.NewFromInt(100), OwnerID: "owner-1"},
		{ID: "p1", Kind: catalog.KindProduct, Name: "Sticker pack", UnitAmount: decimal.NewFromInt(5)},
	}}
	srv := newTestServer(t, newStubStore(), cat, nil)

	resp, err := http.Get(srv.URL + "/api/catalog")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var items []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&items))
	require.Len(t, items, 2)
	assert.Equal(t, "c1", items[0]["id"])
	assert.Equal(t, "course", items[0]["kind"])
	_, hasOwner := items[0]["owner_id"]
	assert.False(t, hasOwner)
}

func TestCreateCode(t *testing.T) {
	adminKey := &auth.APIKeyInfo{ID: "k1", Name: "admin", Scopes: []string{auth.ScopeAdmin}, AuthorID: "admin-1"}
	store := newStubStore()
	srv := newTestServer(t, store, &stubCatalog{}, adminKey)

	body := `{"code":"spring25","kind":"percent","value":"25","scope":"all","applies_to":"both","limit_kind":"unlimited"}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/codes", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "SPRING25", created["code"])
	assert.NotEmpty(t, created["id"])

	stored, err := store.FindByCode(context.Background(), "SPRING25")
	require.NoError(t, err)
	assert.Equal(t, promo.AuthorAdmin, stored.AuthorScope)
	assert.Equal(t, "admin-1", stored.AuthorID)
}

func TestCreateCode_OwnerRestrictions(t *testing.T) {
	ownerKey := &auth.APIKeyInfo{ID: "k2", Name: "owner", Scopes: []string{auth.ScopeOwner}, AuthorID: "owner-1"}
	cat := &stubCatalog{items: []catalog.Item{
		{ID: "c1", Kind: catalog.KindCourse, OwnerID: "owner-1"},
	}}
	srv := newTestServer(t, newStubStore(), cat, ownerKey)

	post := func(body string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/codes", strings.NewReader(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	ok := post(`{"code":"MYCOURSE","kind":"percent","value":"10","scope":"specific_courses",
		"applies_to":"courses","target_ids":["c1"],"limit_kind":"unlimited"}`)
	assert.Equal(t, http.StatusCreated, ok.StatusCode)

	foreign := post(`{"code":"NOTMINE","kind":"percent","value":"10","scope":"specific_courses",
		"applies_to":"courses","target_ids":["c9"],"limit_kind":"unlimited"}`)
	assert.Equal(t, http.StatusForbidden, foreign.StatusCode)

	siteWide := post(`{"code":"EVERYTHING","kind":"percent","value":"10","scope":"all",
		"applies_to":"both","limit_kind":"unlimited"}`)
	assert.Equal(t, http.StatusForbidden, siteWide.StatusCode)
}

func TestCreateCode_Invalid(t *testing.T) {
	adminKey := &auth.APIKeyInfo{ID: "k1", Scopes: []string{auth.ScopeAdmin}, AuthorID: "admin-1"}
	srv := newTestServer(t, newStubStore(), &stubCatalog{}, adminKey)

	body := `{"code":"TOOMUCH","kind":"percent","value":"150","scope":"all","applies_to":"both","limit_kind":"unlimited"}`
	resp, decoded := postJSON(t, srv.URL+"/api/codes", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_RULE", decoded["kind"])
}

func TestCreateCode_Duplicate(t *testing.T) {
	adminKey := &auth.APIKeyInfo{ID: "k1", Scopes: []string{auth.ScopeAdmin}, AuthorID: "admin-1"}
	srv := newTestServer(t, newStubStore(saveTen()), &stubCatalog{}, adminKey)

	body := `{"code":"SAVE10","kind":"percent","value":"10","scope":"all","applies_to":"both","limit_kind":"unlimited"}`
	resp, decoded := postJSON(t, srv.URL+"/api/codes", body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "CODE_EXISTS", decoded["kind"])
}

func TestUpdateCode(t *testing.T) {
	adminKey := &auth.APIKeyInfo{ID: "k1", Scopes: []string{auth.ScopeAdmin}, AuthorID: "admin-1"}
	store := newStubStore(saveTen())
	srv := newTestServer(t, store, &stubCatalog{}, adminKey)

	body := `{"kind":"percent","value":"15","scope":"all","applies_to":"both","limit_kind":"unlimited","active":false}`
	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/codes/SAVE10", strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := store.FindByCode(context.Background(), "SAVE10")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(15).Equal(stored.Value))
	assert.False(t, stored.Active)
	assert.Equal(t, "id-1", stored.ID, "id survives edits")
}

func TestUpdateCode_ForeignOwner(t *testing.T) {
	ownerKey := &auth.APIKeyInfo{ID: "k2", Scopes: []string{auth.ScopeOwner}, AuthorID: "owner-2"}
	existing := saveTen()
	existing.AuthorID = "owner-1"
	existing.AuthorScope = promo.AuthorOwner
	srv := newTestServer(t, newStubStore(existing), &stubCatalog{}, ownerKey)

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/codes/SAVE10",
		strings.NewReader(`{"kind":"percent","value":"15","scope":"all","applies_to":"both","limit_kind":"unlimited"}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCodes_Unauthorized(t *testing.T) {
	srv := newTestServer(t, newStubStore(), &stubCatalog{}, nil)

	resp, err := http.Post(srv.URL+"/api/codes", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
