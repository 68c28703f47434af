package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lib/pq"

	"findshop/internal/catalog"
)

// SearchFilter constrains the results returned by SearchItems.
type SearchFilter struct {
	// Query matches item name or display name, case-insensitively.
	Query string
	// Exact switches the substring match to an equality match.
	Exact bool
	// InStock keeps only listings with stock > 0.
	InStock bool
	// ShopBuysItem selects direction: true returns listings the shop
	// is buying, false listings it is selling.
	ShopBuysItem bool
	// IncludeShop loads the parent shop head and main location for
	// each hit.
	IncludeShop bool
}

// SearchResult is one matching listing with its parent shop.
type SearchResult struct {
	Shop catalog.Shop
	Item catalog.Item
}

// SearchItems returns listings matching the filter in insertion
// order. Ranking is the query engine's concern, not the store's.
func (s *Store) SearchItems(ctx context.Context, filter SearchFilter) ([]SearchResult, error) {
	match := strings.ToLower(strings.TrimSpace(filter.Query))
	comparison := `(LOWER(name) LIKE $1 OR LOWER(display_name) LIKE $1)`
	if filter.Exact {
		comparison = `(LOWER(name) = $1 OR LOWER(display_name) = $1)`
	} else {
		match = "%" + likeEscape(match) + "%"
	}

	conds := comparison + ` AND shop_buys_item = $2`
	if filter.InStock {
		conds += ` AND stock > 0`
	}
	query := `
		SELECT ` + itemColumns + `
		FROM items
		WHERE ` + conds + `
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, match, filter.ShopBuysItem)
	if err != nil {
		return nil, wrap("search items", err)
	}
	defer rows.Close()

	var (
		results []SearchResult
		itemIDs []int64
		shopIDs []int64
	)
	for rows.Next() {
		itemID, shopID, item, err := scanItemRow(rows)
		if err != nil {
			return nil, wrap("scan item", err)
		}
		itemIDs = append(itemIDs, itemID)
		shopIDs = append(shopIDs, shopID)
		results = append(results, SearchResult{
			Shop: catalog.Shop{ID: shopID},
			Item: item,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate items", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	pricesByItem, err := s.loadPrices(ctx, itemIDs)
	if err != nil {
		return nil, err
	}
	for i, id := range itemIDs {
		results[i].Item.Prices = pricesByItem[id]
	}

	if filter.IncludeShop {
		if err := s.attachSearchShops(ctx, shopIDs, results); err != nil {
			return nil, err
		}
	}

	return results, nil
}

func (s *Store) attachSearchShops(ctx context.Context, shopIDs []int64, results []SearchResult) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shopColumns+`
		FROM shops
		WHERE id = ANY($1)
	`, pq.Array(dedupe(shopIDs)))
	if err != nil {
		return wrap("select parent shops", err)
	}
	defer rows.Close()

	var shops []catalog.Shop
	for rows.Next() {
		shop, err := scanShopRow(rows)
		if err != nil {
			return wrap("scan parent shop", err)
		}
		shops = append(shops, shop)
	}
	if err := rows.Err(); err != nil {
		return wrap("iterate parent shops", err)
	}

	refs := make([]*catalog.Shop, len(shops))
	byID := make(map[int64]*catalog.Shop, len(shops))
	for i := range shops {
		refs[i] = &shops[i]
		byID[shops[i].ID] = &shops[i]
	}
	if err := s.attachLocations(ctx, refs); err != nil {
		return err
	}

	for i := range results {
		if shop := byID[results[i].Shop.ID]; shop != nil {
			results[i].Shop = *shop
		}
	}
	return nil
}

const itemColumns = `id, shop_id, name, display_name, nbt_hash, description, dynamic_price, stock, made_on_demand, requires_interaction, shop_buys_item, no_limit`

func scanItemRow(scanner interface{ Scan(...any) error }) (itemID, shopID int64, item catalog.Item, err error) {
	var (
		nbtHash     sql.NullString
		description sql.NullString
		stock       sql.NullInt64
	)
	err = scanner.Scan(
		&itemID,
		&shopID,
		&item.Name,
		&item.DisplayName,
		&nbtHash,
		&description,
		&item.DynamicPrice,
		&stock,
		&item.MadeOnDemand,
		&item.RequiresInteraction,
		&item.ShopBuysItem,
		&item.NoLimit,
	)
	if err != nil {
		return 0, 0, catalog.Item{}, err
	}

	item.NBTHash = strOrEmpty(nbtHash)
	item.Description = strOrEmpty(description)
	if stock.Valid {
		v := int(stock.Int64)
		item.Stock = &v
	}
	return itemID, shopID, item, nil
}

// loadItems returns the items (with prices) of each given shop,
// keyed by shop id, in insertion order.
func (s *Store) loadItems(ctx context.Context, shopIDs []int64) (map[int64][]catalog.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE shop_id = ANY($1)
		ORDER BY id ASC
	`, pq.Array(shopIDs))
	if err != nil {
		return nil, wrap("select items", err)
	}
	defer rows.Close()

	type placed struct {
		shopID int64
		index  int
	}

	itemsByShop := make(map[int64][]catalog.Item)
	var (
		itemIDs   []int64
		positions []placed
	)
	for rows.Next() {
		itemID, shopID, item, err := scanItemRow(rows)
		if err != nil {
			return nil, wrap("scan item", err)
		}
		itemsByShop[shopID] = append(itemsByShop[shopID], item)
		itemIDs = append(itemIDs, itemID)
		positions = append(positions, placed{shopID: shopID, index: len(itemsByShop[shopID]) - 1})
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate items", err)
	}
	if len(itemIDs) == 0 {
		return itemsByShop, nil
	}

	pricesByItem, err := s.loadPrices(ctx, itemIDs)
	if err != nil {
		return nil, err
	}
	for i, pos := range positions {
		itemsByShop[pos.shopID][pos.index].Prices = pricesByItem[itemIDs[i]]
	}

	return itemsByShop, nil
}

func (s *Store) loadPrices(ctx context.Context, itemIDs []int64) (map[int64][]catalog.Price, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, value, currency, address, required_meta
		FROM prices
		WHERE item_id = ANY($1)
		ORDER BY id ASC
	`, pq.Array(itemIDs))
	if err != nil {
		return nil, wrap("select prices", err)
	}
	defer rows.Close()

	prices := make(map[int64][]catalog.Price)
	for rows.Next() {
		var (
			itemID       int64
			price        catalog.Price
			address      sql.NullString
			requiredMeta sql.NullString
		)
		if err := rows.Scan(&itemID, &price.Value, &price.Currency, &address, &requiredMeta); err != nil {
			return nil, wrap("scan price", err)
		}
		price.Address = strOrEmpty(address)
		price.RequiredMeta = strOrEmpty(requiredMeta)
		prices[itemID] = append(prices[itemID], price)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate prices", err)
	}
	return prices, nil
}

func likeEscape(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	var out []int64
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
