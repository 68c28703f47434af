package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"findshop/internal/catalog"
	"findshop/internal/query"
	"findshop/internal/store"
)

type stubQueryService struct {
	page    query.Page
	shop    catalog.Shop
	stats   catalog.Statistics
	err     error
	lastTxt string
	lastDir query.Direction
	lastPg  int
	lastID  string
}

func (s *stubQueryService) Search(_ context.Context, text string, direction query.Direction, page int) (query.Page, error) {
	s.lastTxt, s.lastDir, s.lastPg = text, direction, page
	if s.err != nil {
		return query.Page{}, s.err
	}
	return s.page, nil
}

func (s *stubQueryService) ListShops(_ context.Context, page int) (query.Page, error) {
	s.lastPg = page
	if s.err != nil {
		return query.Page{}, s.err
	}
	return s.page, nil
}

func (s *stubQueryService) ShopDetail(_ context.Context, identity string) (catalog.Shop, error) {
	s.lastID = identity
	if s.err != nil {
		return catalog.Shop{}, s.err
	}
	if _, err := catalog.ParseIdentity(identity); err != nil {
		return catalog.Shop{}, err
	}
	return s.shop, nil
}

func (s *stubQueryService) Statistics(_ context.Context) (catalog.Statistics, error) {
	if s.err != nil {
		return catalog.Statistics{}, s.err
	}
	return s.stats, nil
}

func doRequest(t *testing.T, svc QueryService, target string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	New(svc).Routes().ServeHTTP(rec, req)
	return rec
}

func decodePage(t *testing.T, rec *httptest.ResponseRecorder) pageResponse {
	t.Helper()

	var page pageResponse
	if err := json.NewDecoder(rec.Body).Decode(&page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	return page
}

func TestHealth(t *testing.T) {
	rec := doRequest(t, &stubQueryService{}, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSearchReturnsPage(t *testing.T) {
	svc := &stubQueryService{page: query.Page{
		Number:       2,
		Total:        3,
		TotalResults: 17,
		Lines:        []string{"line one", "line two"},
	}}

	rec := doRequest(t, svc, "/api/v1/search?q=dirt&direction=sell&page=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	page := decodePage(t, rec)
	if page.Page != 2 || page.TotalPages != 3 || page.TotalResults != 17 || len(page.Results) != 2 {
		t.Fatalf("page = %+v", page)
	}
	if svc.lastTxt != "dirt" || svc.lastDir != query.DirectionSell || svc.lastPg != 2 {
		t.Fatalf("service saw %q %q %d", svc.lastTxt, svc.lastDir, svc.lastPg)
	}
}

func TestSearchDefaults(t *testing.T) {
	svc := &stubQueryService{page: query.Page{Number: 1, Total: 1}}

	rec := doRequest(t, svc, "/api/v1/search?q=dirt")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if svc.lastDir != query.DirectionBuy || svc.lastPg != 1 {
		t.Fatalf("defaults = %q %d", svc.lastDir, svc.lastPg)
	}
}

func TestSearchNoResultsIsEmptyPage(t *testing.T) {
	svc := &stubQueryService{err: query.ErrNoResults}

	rec := doRequest(t, svc, "/api/v1/search?q=unobtanium")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	page := decodePage(t, rec)
	if page.TotalResults != 0 || len(page.Results) != 0 {
		t.Fatalf("page = %+v", page)
	}
}

func TestSearchBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
	}{
		{name: "bad direction", target: "/api/v1/search?q=dirt&direction=trade"},
		{name: "bad page", target: "/api/v1/search?q=dirt&page=x"},
		{name: "missing query", target: "/api/v1/search", err: query.ErrMissingQuery},
		{name: "page out of range", target: "/api/v1/search?q=dirt&page=99", err: query.ErrPageOutOfRange},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			rec := doRequest(t, &stubQueryService{err: tc.err}, tc.target)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestShopDetail(t *testing.T) {
	multi := 3
	svc := &stubQueryService{shop: catalog.Shop{
		Identity: catalog.Identity{ComputerID: 42, MultiShop: &multi},
		Name:     "Joe's",
		LastSeen: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
	}}

	rec := doRequest(t, svc, "/api/v1/shops/42:3")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var shop catalog.Shop
	if err := json.NewDecoder(rec.Body).Decode(&shop); err != nil {
		t.Fatalf("decode shop: %v", err)
	}
	if shop.Name != "Joe's" || svc.lastID != "42:3" {
		t.Fatalf("shop = %+v, lastID = %q", shop, svc.lastID)
	}
}

func TestShopDetailErrors(t *testing.T) {
	rec := doRequest(t, &stubQueryService{}, "/api/v1/shops/forty-two")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed identity status = %d", rec.Code)
	}

	rec = doRequest(t, &stubQueryService{err: store.ErrShopNotFound}, "/api/v1/shops/42")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("not found status = %d", rec.Code)
	}
}

func TestListShops(t *testing.T) {
	svc := &stubQueryService{page: query.Page{
		Number:       1,
		Total:        1,
		TotalResults: 2,
		Lines:        []string{"**A** at `1 2 3`", "**B** at Unknown"},
	}}

	rec := doRequest(t, svc, "/api/v1/shops")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if page := decodePage(t, rec); page.TotalResults != 2 {
		t.Fatalf("page = %+v", page)
	}
}

func TestStats(t *testing.T) {
	svc := &stubQueryService{stats: catalog.Statistics{ShopCount: 3, ItemCount: 9}}

	rec := doRequest(t, svc, "/api/v1/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var stats catalog.Statistics
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.ShopCount != 3 || stats.ItemCount != 9 {
		t.Fatalf("stats = %+v", stats)
	}
}
