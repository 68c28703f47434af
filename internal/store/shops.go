package store

import (
	"context"
	"database/sql"
	"errors"
	"slices"

	"github.com/lib/pq"

	"findshop/internal/catalog"
)

// Upsert inserts or wholesale-replaces the shop identified by
// shop.Identity and bumps last_seen. Locations, items and prices from
// the previous snapshot are deleted and recreated inside one
// transaction, so a failed replace leaves the old snapshot intact.
func (s *Store) Upsert(ctx context.Context, shop catalog.Shop) (catalog.Shop, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return catalog.Shop{}, wrap("begin tx", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	var shopID int64
	err = tx.QueryRowContext(ctx, `
		SELECT id
		FROM shops
		WHERE computer_id = $1 AND multi_shop IS NOT DISTINCT FROM $2
		FOR UPDATE
	`, shop.Identity.ComputerID, multiShopArg(shop.Identity)).Scan(&shopID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = tx.QueryRowContext(ctx, `
			INSERT INTO shops (computer_id, multi_shop, name, description, owner, software_name, software_version, last_seen)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			RETURNING id, last_seen
		`,
			shop.Identity.ComputerID,
			multiShopArg(shop.Identity),
			shop.Name,
			nullStr(shop.Description),
			nullStr(shop.Owner),
			nullStr(shop.SoftwareName),
			nullStr(shop.SoftwareVersion),
		).Scan(&shopID, &shop.LastSeen)
		if err != nil {
			return catalog.Shop{}, wrap("insert shop", err)
		}
	case err != nil:
		return catalog.Shop{}, wrap("lock shop", err)
	default:
		err = tx.QueryRowContext(ctx, `
			UPDATE shops
			SET name = $2, description = $3, owner = $4, software_name = $5, software_version = $6, last_seen = NOW()
			WHERE id = $1
			RETURNING last_seen
		`,
			shopID,
			shop.Name,
			nullStr(shop.Description),
			nullStr(shop.Owner),
			nullStr(shop.SoftwareName),
			nullStr(shop.SoftwareVersion),
		).Scan(&shop.LastSeen)
		if err != nil {
			return catalog.Shop{}, wrap("update shop", err)
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM locations
			WHERE shop_id = $1
		`, shopID); err != nil {
			return catalog.Shop{}, wrap("delete locations", err)
		}
		// Deleting items cascades to their prices.
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM items
			WHERE shop_id = $1
		`, shopID); err != nil {
			return catalog.Shop{}, wrap("delete items", err)
		}
	}

	if err := insertLocations(ctx, tx, shopID, shop); err != nil {
		return catalog.Shop{}, err
	}
	if err := insertItems(ctx, tx, shopID, shop.Items); err != nil {
		return catalog.Shop{}, err
	}

	if err := tx.Commit(); err != nil {
		return catalog.Shop{}, wrap("commit tx", err)
	}
	tx = nil

	shop.ID = shopID
	return shop, nil
}

func insertLocations(ctx context.Context, tx *sql.Tx, shopID int64, shop catalog.Shop) error {
	insert := func(loc catalog.Location, main bool) error {
		var x, y, z any
		if loc.Coords != nil {
			x, y, z = loc.Coords.X, loc.Coords.Y, loc.Coords.Z
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO locations (shop_id, main, x, y, z, description, dimension)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, shopID, main, x, y, z, nullStr(loc.Description), nullStr(loc.Dimension))
		if err != nil {
			return wrap("insert location", err)
		}
		return nil
	}

	if !locationEmpty(shop.MainLocation) {
		if err := insert(shop.MainLocation, true); err != nil {
			return err
		}
	}
	for _, loc := range shop.OtherLocations {
		if locationEmpty(loc) {
			continue
		}
		if err := insert(loc, false); err != nil {
			return err
		}
	}
	return nil
}

func insertItems(ctx context.Context, tx *sql.Tx, shopID int64, items []catalog.Item) error {
	for _, item := range items {
		var itemID int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO items (shop_id, name, display_name, nbt_hash, description, dynamic_price, stock, made_on_demand, requires_interaction, shop_buys_item, no_limit)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`,
			shopID,
			item.Name,
			item.DisplayName,
			nullStr(item.NBTHash),
			nullStr(item.Description),
			item.DynamicPrice,
			stockArg(item),
			item.MadeOnDemand,
			item.RequiresInteraction,
			item.ShopBuysItem,
			item.NoLimit,
		).Scan(&itemID)
		if err != nil {
			return wrap("insert item", err)
		}

		for _, price := range item.Prices {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO prices (item_id, value, currency, address, required_meta)
				VALUES ($1, $2, $3, $4, $5)
			`, itemID, price.Value, price.Currency, nullStr(price.Address), nullStr(price.RequiredMeta)); err != nil {
				return wrap("insert price", err)
			}
		}
	}
	return nil
}

func locationEmpty(loc catalog.Location) bool {
	return loc.Coords == nil && loc.Description == "" && loc.Dimension == ""
}

func stockArg(item catalog.Item) any {
	if item.Stock == nil {
		return nil
	}
	return *item.Stock
}

// GetByIdentity returns the full current record for one identity.
// Disambiguation is exact: an identity without multiShop matches only
// shops stored without one.
func (s *Store) GetByIdentity(ctx context.Context, id catalog.Identity) (catalog.Shop, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+shopColumns+`
		FROM shops
		WHERE computer_id = $1 AND multi_shop IS NOT DISTINCT FROM $2
	`, id.ComputerID, multiShopArg(id))

	shop, err := scanShopRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Shop{}, ErrShopNotFound
		}
		return catalog.Shop{}, wrap("select shop", err)
	}

	if err := s.attachLocations(ctx, []*catalog.Shop{&shop}); err != nil {
		return catalog.Shop{}, err
	}

	itemsByShop, err := s.loadItems(ctx, []int64{shop.ID})
	if err != nil {
		return catalog.Shop{}, err
	}
	shop.Items = itemsByShop[shop.ID]
	if shop.Items == nil {
		shop.Items = []catalog.Item{}
	}

	return shop, nil
}

// ListAll returns every shop with its locations, ordered by name
// (case-insensitive, locale-aware) with ties broken by insertion
// order. Items are not loaded; use GetByIdentity for a full record.
func (s *Store) ListAll(ctx context.Context) ([]catalog.Shop, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shopColumns+`
		FROM shops
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, wrap("select shops", err)
	}
	defer rows.Close()

	var shops []catalog.Shop
	for rows.Next() {
		shop, err := scanShopRow(rows)
		if err != nil {
			return nil, wrap("scan shop", err)
		}
		shops = append(shops, shop)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate shops", err)
	}

	refs := make([]*catalog.Shop, len(shops))
	for i := range shops {
		refs[i] = &shops[i]
	}
	if err := s.attachLocations(ctx, refs); err != nil {
		return nil, err
	}

	// The id-ordered input makes the stable sort deterministic for
	// shops sharing a name.
	slices.SortStableFunc(shops, func(a, b catalog.Shop) int {
		return s.collator.CompareString(a.Name, b.Name)
	})

	return shops, nil
}

func (s *Store) attachLocations(ctx context.Context, shops []*catalog.Shop) error {
	if len(shops) == 0 {
		return nil
	}

	ids := make([]int64, len(shops))
	byID := make(map[int64]*catalog.Shop, len(shops))
	for i, shop := range shops {
		ids[i] = shop.ID
		byID[shop.ID] = shop
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT shop_id, main, x, y, z, description, dimension
		FROM locations
		WHERE shop_id = ANY($1)
		ORDER BY id ASC
	`, pq.Array(ids))
	if err != nil {
		return wrap("select locations", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			shopID      int64
			main        bool
			x, y, z     sql.NullInt64
			description sql.NullString
			dimension   sql.NullString
		)
		if err := rows.Scan(&shopID, &main, &x, &y, &z, &description, &dimension); err != nil {
			return wrap("scan location", err)
		}

		loc := catalog.Location{
			Description: strOrEmpty(description),
			Dimension:   strOrEmpty(dimension),
		}
		if x.Valid && y.Valid && z.Valid {
			loc.Coords = &catalog.Coords{X: int(x.Int64), Y: int(y.Int64), Z: int(z.Int64)}
		}

		shop := byID[shopID]
		if shop == nil {
			continue
		}
		if main {
			shop.MainLocation = loc
		} else {
			shop.OtherLocations = append(shop.OtherLocations, loc)
		}
	}
	return rows.Err()
}

// Statistics summarizes the catalog in one round trip.
func (s *Store) Statistics(ctx context.Context) (catalog.Statistics, error) {
	var (
		stats    catalog.Statistics
		lastSeen sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM shops),
			(SELECT COUNT(*) FROM items),
			(SELECT COUNT(*) FROM locations),
			(SELECT MAX(last_seen) FROM shops)
	`).Scan(&stats.ShopCount, &stats.ItemCount, &stats.LocationCount, &lastSeen)
	if err != nil {
		return catalog.Statistics{}, wrap("select statistics", err)
	}
	if lastSeen.Valid {
		stats.LastShopSeen = lastSeen.Time
	}
	return stats, nil
}
