package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"findshop/internal/catalog"
)

const (
	selectShopForUpdate = `
		SELECT id
		FROM shops
		WHERE computer_id = $1 AND multi_shop IS NOT DISTINCT FROM $2
		FOR UPDATE
	`
	insertShop = `
			INSERT INTO shops (computer_id, multi_shop, name, description, owner, software_name, software_version, last_seen)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			RETURNING id, last_seen
		`
	insertLocation = `
			INSERT INTO locations (shop_id, main, x, y, z, description, dimension)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
	insertItem = `
			INSERT INTO items (shop_id, name, display_name, nbt_hash, description, dynamic_price, stock, made_on_demand, requires_interaction, shop_buys_item, no_limit)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			RETURNING id
		`
	insertPrice = `
				INSERT INTO prices (item_id, value, currency, address, required_meta)
				VALUES ($1, $2, $3, $4, $5)
			`
)

func shopRowColumns() []string {
	return []string{"id", "computer_id", "multi_shop", "name", "description", "owner", "software_name", "software_version", "last_seen"}
}

func testShop() catalog.Shop {
	stock := 64
	return catalog.Shop{
		Identity: catalog.Identity{ComputerID: 42},
		Name:     "Joe's",
		Owner:    "joe",
		MainLocation: catalog.Location{
			Coords:    &catalog.Coords{X: 10, Y: 64, Z: -20},
			Dimension: catalog.DimensionOverworld,
		},
		Items: []catalog.Item{{
			Name:        "minecraft:dirt",
			DisplayName: "Dirt",
			Stock:       &stock,
			Prices:      []catalog.Price{{Value: 1, Currency: "KST", Address: "abc"}},
		}},
	}
}

func TestUpsertInsertsNewShop(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := New(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectShopForUpdate)).
		WithArgs(42, nil).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(insertShop)).
		WithArgs(42, nil, "Joe's", nil, "joe", nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id", "last_seen"}).AddRow(int64(7), now))
	mock.ExpectExec(regexp.QuoteMeta(insertLocation)).
		WithArgs(int64(7), true, 10, 64, -20, nil, catalog.DimensionOverworld).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(regexp.QuoteMeta(insertItem)).
		WithArgs(int64(7), "minecraft:dirt", "Dirt", nil, nil, false, 64, false, false, false, false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec(regexp.QuoteMeta(insertPrice)).
		WithArgs(int64(11), float64(1), "KST", "abc", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	got, err := s.Upsert(context.Background(), testShop())
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if got.ID != 7 {
		t.Fatalf("shop ID = %d, want 7", got.ID)
	}
	if !got.LastSeen.Equal(now) {
		t.Fatalf("lastSeen = %v, want %v", got.LastSeen, now)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertReplacesExistingSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := New(db)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectShopForUpdate)).
		WithArgs(42, nil).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectQuery(regexp.QuoteMeta(`
			UPDATE shops
			SET name = $2, description = $3, owner = $4, software_name = $5, software_version = $6, last_seen = NOW()
			WHERE id = $1
			RETURNING last_seen
		`)).
		WithArgs(int64(7), "Joe's", nil, "joe", nil, nil).
		WillReturnRows(sqlmock.NewRows([]string{"last_seen"}).AddRow(now))
	mock.ExpectExec(regexp.QuoteMeta(`
			DELETE FROM locations
			WHERE shop_id = $1
		`)).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`
			DELETE FROM items
			WHERE shop_id = $1
		`)).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(insertLocation)).
		WithArgs(int64(7), true, 10, 64, -20, nil, catalog.DimensionOverworld).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectQuery(regexp.QuoteMeta(insertItem)).
		WithArgs(int64(7), "minecraft:dirt", "Dirt", nil, nil, false, 64, false, false, false, false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
	mock.ExpectExec(regexp.QuoteMeta(insertPrice)).
		WithArgs(int64(12), float64(1), "KST", "abc", nil).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	if _, err := s.Upsert(context.Background(), testShop()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpsertRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := New(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectShopForUpdate)).
		WithArgs(42, nil).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(insertShop)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if _, err := s.Upsert(context.Background(), testShop()); err == nil {
		t.Fatal("expected error from failed insert")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetByIdentityNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := New(db)

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT ` + shopColumns + `
		FROM shops
		WHERE computer_id = $1 AND multi_shop IS NOT DISTINCT FROM $2
	`)).
		WithArgs(99, nil).
		WillReturnError(sql.ErrNoRows)

	_, err = s.GetByIdentity(context.Background(), catalog.Identity{ComputerID: 99})
	if !errors.Is(err, ErrShopNotFound) {
		t.Fatalf("expected ErrShopNotFound, got %v", err)
	}
}

func TestGetByIdentityExactMultiShopMatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := New(db)
	now := time.Now()
	multi := 3

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT ` + shopColumns + `
		FROM shops
		WHERE computer_id = $1 AND multi_shop IS NOT DISTINCT FROM $2
	`)).
		WithArgs(42, 3).
		WillReturnRows(sqlmock.NewRows(shopRowColumns()).
			AddRow(int64(7), 42, int64(3), "Joe's", nil, nil, nil, nil, now))
	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT shop_id, main, x, y, z, description, dimension
		FROM locations
		WHERE shop_id = ANY($1)
		ORDER BY id ASC
	`)).
		WithArgs(pq.Array([]int64{7})).
		WillReturnRows(sqlmock.NewRows([]string{"shop_id", "main", "x", "y", "z", "description", "dimension"}).
			AddRow(int64(7), true, 10, 64, -20, nil, "overworld").
			AddRow(int64(7), false, nil, nil, nil, "spawn mall", nil))
	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT ` + itemColumns + `
		FROM items
		WHERE shop_id = ANY($1)
		ORDER BY id ASC
	`)).
		WithArgs(pq.Array([]int64{7})).
		WillReturnRows(sqlmock.NewRows([]string{"id", "shop_id", "name", "display_name", "nbt_hash", "description", "dynamic_price", "stock", "made_on_demand", "requires_interaction", "shop_buys_item", "no_limit"}).
			AddRow(int64(11), int64(7), "minecraft:dirt", "Dirt", nil, nil, false, 64, false, false, false, false))
	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT item_id, value, currency, address, required_meta
		FROM prices
		WHERE item_id = ANY($1)
		ORDER BY id ASC
	`)).
		WithArgs(pq.Array([]int64{11})).
		WillReturnRows(sqlmock.NewRows([]string{"item_id", "value", "currency", "address", "required_meta"}).
			AddRow(int64(11), 1.0, "KST", "abc", nil))

	shop, err := s.GetByIdentity(context.Background(), catalog.Identity{ComputerID: 42, MultiShop: &multi})
	if err != nil {
		t.Fatalf("GetByIdentity: %v", err)
	}

	if shop.Identity.MultiShop == nil || *shop.Identity.MultiShop != 3 {
		t.Fatalf("multiShop = %v", shop.Identity.MultiShop)
	}
	if shop.MainLocation.Coords == nil || shop.MainLocation.Coords.X != 10 {
		t.Fatalf("main location = %+v", shop.MainLocation)
	}
	if len(shop.OtherLocations) != 1 || shop.OtherLocations[0].Description != "spawn mall" {
		t.Fatalf("other locations = %+v", shop.OtherLocations)
	}
	if len(shop.Items) != 1 || len(shop.Items[0].Prices) != 1 {
		t.Fatalf("items = %+v", shop.Items)
	}
	if shop.Items[0].Prices[0].Address != "abc" {
		t.Fatalf("price = %+v", shop.Items[0].Prices[0])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListAllSortsByNameCaseInsensitive(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := New(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT ` + shopColumns + `
		FROM shops
		ORDER BY id ASC
	`)).
		WillReturnRows(sqlmock.NewRows(shopRowColumns()).
			AddRow(int64(1), 1, nil, "zebra mart", nil, nil, nil, nil, now).
			AddRow(int64(2), 2, nil, "Apple Stand", nil, nil, nil, nil, now).
			AddRow(int64(3), 3, nil, "apple stand", nil, nil, nil, nil, now))
	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT shop_id, main, x, y, z, description, dimension
		FROM locations
		WHERE shop_id = ANY($1)
		ORDER BY id ASC
	`)).
		WithArgs(pq.Array([]int64{1, 2, 3})).
		WillReturnRows(sqlmock.NewRows([]string{"shop_id", "main", "x", "y", "z", "description", "dimension"}))

	shops, err := s.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}

	if len(shops) != 3 {
		t.Fatalf("len = %d", len(shops))
	}
	// Case-insensitive ordering; the two apple stands keep insertion
	// order relative to each other.
	if shops[0].ID != 2 || shops[1].ID != 3 || shops[2].ID != 1 {
		t.Fatalf("order = %d, %d, %d", shops[0].ID, shops[1].ID, shops[2].ID)
	}
}

func TestStatistics(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := New(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta(`
		SELECT
			(SELECT COUNT(*) FROM shops),
			(SELECT COUNT(*) FROM items),
			(SELECT COUNT(*) FROM locations),
			(SELECT MAX(last_seen) FROM shops)
	`)).
		WillReturnRows(sqlmock.NewRows([]string{"shops", "items", "locations", "last_seen"}).
			AddRow(3, 17, 4, now))

	stats, err := s.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.ShopCount != 3 || stats.ItemCount != 17 || stats.LocationCount != 4 {
		t.Fatalf("stats = %+v", stats)
	}
	if !stats.LastShopSeen.Equal(now) {
		t.Fatalf("lastShopSeen = %v", stats.LastShopSeen)
	}
}

func TestSweepExpired(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := New(db)

	mock.ExpectExec(regexp.QuoteMeta(`
		DELETE FROM shops
		WHERE last_seen < $1
	`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	deleted, err := s.SweepExpired(context.Background(), 14*24*time.Hour)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted = %d, want 2", deleted)
	}
}
