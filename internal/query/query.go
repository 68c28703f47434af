// Package query turns user search and list requests into stable,
// paginated, text-ready result pages over the catalog store. Each
// request is stateless and reproducible from the current snapshot.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"findshop/internal/catalog"
	"findshop/internal/store"
)

var (
	// ErrNoResults signals an empty result set. It is a defined
	// response, not a failure.
	ErrNoResults = errors.New("no results")
	// ErrPageOutOfRange signals a page number below 1 or beyond the
	// last page of a non-empty result set.
	ErrPageOutOfRange = errors.New("page out of range")
	// ErrMissingQuery signals a search request without query text.
	ErrMissingQuery = errors.New("missing query text")
)

// Direction selects what the searcher wants to do with the item.
type Direction string

const (
	// DirectionBuy finds shops selling the item.
	DirectionBuy Direction = "buy"
	// DirectionSell finds shops buying the item.
	DirectionSell Direction = "sell"
)

// ShopStore is the read surface the engine needs from the catalog.
type ShopStore interface {
	GetByIdentity(ctx context.Context, id catalog.Identity) (catalog.Shop, error)
	ListAll(ctx context.Context) ([]catalog.Shop, error)
	SearchItems(ctx context.Context, filter store.SearchFilter) ([]store.SearchResult, error)
	Statistics(ctx context.Context) (catalog.Statistics, error)
}

// Page is one text-ready page of results.
type Page struct {
	Number int
	Total  int
	// TotalResults counts matches across all pages.
	TotalResults int
	Header       string
	Lines        []string
}

// Options tunes presentation. Zero values pick the defaults the chat
// front end has always used.
type Options struct {
	PageSize  int
	ChatWidth int
	Now       func() time.Time
}

// Service is the query engine.
type Service struct {
	store     ShopStore
	pageSize  int
	chatWidth int
	now       func() time.Time
}

// New builds a query engine over the given store.
func New(shopStore ShopStore, opts Options) *Service {
	if opts.PageSize <= 0 {
		opts.PageSize = 7
	}
	if opts.ChatWidth <= 0 {
		opts.ChatWidth = 49
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:     shopStore,
		pageSize:  opts.PageSize,
		chatWidth: opts.ChatWidth,
		now:       opts.Now,
	}
}

// Search finds shops selling (buy direction) or buying (sell
// direction) an item. A leading "=" on the query switches the
// substring match to an exact match.
func (s *Service) Search(ctx context.Context, text string, direction Direction, page int) (Page, error) {
	text = strings.TrimSpace(text)
	exact := false
	if strings.HasPrefix(text, "=") {
		exact = true
		text = strings.TrimPrefix(text, "=")
	}
	if text == "" {
		return Page{}, ErrMissingQuery
	}

	results, err := s.store.SearchItems(ctx, store.SearchFilter{
		Query:        text,
		Exact:        exact,
		ShopBuysItem: direction == DirectionSell,
		IncludeShop:  true,
	})
	if err != nil {
		return Page{}, fmt.Errorf("search items: %w", err)
	}

	ranked := rank(results, direction)
	if len(ranked) == 0 {
		return Page{}, ErrNoResults
	}

	paged, pg, err := paginate(ranked, page, s.pageSize)
	if err != nil {
		return Page{}, err
	}

	lines := make([]string, 0, len(paged))
	for _, r := range paged {
		lines = append(lines, s.formatResult(r, direction))
	}
	pg.Lines = lines
	return pg, nil
}

// rank drops unrankable listings and orders the rest: listings with
// stock strictly before listings without, then KST price ascending
// for buyers and descending for sellers. The sort is stable, so ties
// keep the store's natural order.
func rank(results []store.SearchResult, direction Direction) []store.SearchResult {
	kept := make([]store.SearchResult, 0, len(results))
	for _, r := range results {
		// Listings without a KST price are invisible to ranking, not
		// merely unranked.
		if _, ok := r.Item.KSTPrice(); !ok {
			continue
		}
		// A sold-out sell listing is not purchasable unless the shop
		// crafts on demand.
		if direction == DirectionBuy && !r.Item.InStock() && !r.Item.MadeOnDemand {
			continue
		}
		kept = append(kept, r)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i].Item, kept[j].Item
		if a.InStock() != b.InStock() {
			return a.InStock()
		}
		ap, _ := a.KSTPrice()
		bp, _ := b.KSTPrice()
		if direction == DirectionSell {
			return ap.Value > bp.Value
		}
		return ap.Value < bp.Value
	})

	return kept
}

// ListShops returns one page of all shops, ordered by name.
func (s *Service) ListShops(ctx context.Context, page int) (Page, error) {
	shops, err := s.store.ListAll(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("list shops: %w", err)
	}
	if len(shops) == 0 {
		return Page{}, ErrNoResults
	}

	paged, pg, err := paginate(shops, page, s.pageSize)
	if err != nil {
		return Page{}, err
	}

	lines := make([]string, 0, len(paged))
	for _, shop := range paged {
		lines = append(lines, fmt.Sprintf("%s at %s", s.formatShopName(shop), formatLocation(shop.MainLocation)))
	}
	pg.Lines = lines
	return pg, nil
}

// ShopDetail looks up one shop by its "computerID[:multiShop]"
// identity string. A malformed identity is an input error, distinct
// from not-found.
func (s *Service) ShopDetail(ctx context.Context, identity string) (catalog.Shop, error) {
	id, err := catalog.ParseIdentity(identity)
	if err != nil {
		return catalog.Shop{}, err
	}
	shop, err := s.store.GetByIdentity(ctx, id)
	if err != nil {
		return catalog.Shop{}, err
	}
	return shop, nil
}

// FindShopsByName returns shops whose name contains the query,
// keeping the store's alphabetical order.
func (s *Service) FindShopsByName(ctx context.Context, name string) ([]catalog.Shop, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrMissingQuery
	}

	shops, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list shops: %w", err)
	}

	needle := strings.ToLower(name)
	var matches []catalog.Shop
	for _, shop := range shops {
		if strings.Contains(strings.ToLower(shop.Name), needle) {
			matches = append(matches, shop)
		}
	}
	if len(matches) == 0 {
		return nil, ErrNoResults
	}
	return matches, nil
}

// Statistics passes the catalog summary through.
func (s *Service) Statistics(ctx context.Context) (catalog.Statistics, error) {
	return s.store.Statistics(ctx)
}

// paginate slices one fixed-size page out of all results. Page
// numbers are 1-based; anything outside [1, lastPage] is an error,
// never silently clamped.
func paginate[T any](all []T, page, pageSize int) ([]T, Page, error) {
	total := (len(all) + pageSize - 1) / pageSize
	if page < 1 || page > total {
		return nil, Page{}, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, page, total)
	}

	start := (page - 1) * pageSize
	end := min(start+pageSize, len(all))

	return all[start:end], Page{
		Number:       page,
		Total:        total,
		TotalResults: len(all),
		Header:       fmt.Sprintf("Page %d of %d", page, total),
	}, nil
}
