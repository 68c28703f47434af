// Package httpapi exposes the catalog over a small read-only JSON API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"findshop/internal/catalog"
	"findshop/internal/query"
	"findshop/internal/store"
)

// QueryService captures the catalog operations the HTTP handlers need.
type QueryService interface {
	Search(ctx context.Context, text string, direction query.Direction, page int) (query.Page, error)
	ListShops(ctx context.Context, page int) (query.Page, error)
	ShopDetail(ctx context.Context, identity string) (catalog.Shop, error)
	Statistics(ctx context.Context) (catalog.Statistics, error)
}

// Server wires HTTP handlers to the query engine.
type Server struct {
	queries QueryService
}

// New configures a Server over the given query service.
func New(queries QueryService) *Server {
	return &Server{queries: queries}
}

// Routes exposes the catalog read endpoints.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /api/v1/shops", s.handleListShops)
	mux.HandleFunc("GET /api/v1/shops/{identity}", s.handleShop)
	mux.HandleFunc("GET /api/v1/search", s.handleSearch)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)

	return mux
}

type errorResponse struct {
	Error string `json:"error"`
}

// pageResponse is one page of rendered results. An empty result set is
// a valid page with zero results, not an error.
type pageResponse struct {
	Page         int      `json:"page"`
	TotalPages   int      `json:"totalPages"`
	TotalResults int      `json:"totalResults"`
	Results      []string `json:"results"`
}

func (s *Server) handleListShops(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r.URL.Query().Get("page"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, err := s.queries.ListShops(r.Context(), page)
	if err != nil {
		s.writePageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPageResponse(result))
}

func (s *Server) handleShop(w http.ResponseWriter, r *http.Request) {
	shop, err := s.queries.ShopDetail(r.Context(), r.PathValue("identity"))
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrInvalidIdentity):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "identity must look like 42 or 42:3"})
		case errors.Is(err, store.ErrShopNotFound):
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "shop not found"})
		default:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, shop)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	direction := query.DirectionBuy
	switch q.Get("direction") {
	case "", "buy":
	case "sell":
		direction = query.DirectionSell
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "direction must be buy or sell"})
		return
	}

	page, err := parsePage(q.Get("page"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, err := s.queries.Search(r.Context(), q.Get("q"), direction, page)
	if err != nil {
		s.writePageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toPageResponse(result))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queries.Statistics(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// writePageError maps query-engine errors onto HTTP responses. No
// results is a defined outcome and answers 200 with an empty page.
func (s *Server) writePageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, query.ErrNoResults):
		writeJSON(w, http.StatusOK, pageResponse{Page: 1, TotalPages: 0, Results: []string{}})
	case errors.Is(err, query.ErrPageOutOfRange):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, query.ErrMissingQuery):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing q parameter"})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func toPageResponse(page query.Page) pageResponse {
	return pageResponse{
		Page:         page.Number,
		TotalPages:   page.Total,
		TotalResults: page.TotalResults,
		Results:      page.Lines,
	}
}

func parsePage(raw string) (int, error) {
	if raw == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("invalid page parameter")
	}
	return page, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}
