// Package store persists canonical shop records in Postgres. It is
// the only mutation point in the system: Upsert replaces a shop's
// snapshot atomically, so readers never observe a mix of old and new
// rows.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"findshop/internal/catalog"
)

// ErrShopNotFound signals a lookup for an identity with no record.
var ErrShopNotFound = errors.New("shop not found")

// Store provides persistence backed by Postgres.
type Store struct {
	db       *sql.DB
	collator *collate.Collator
}

// New sets up a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{
		db: db,
		// Case-insensitive, accent-insensitive shop name ordering
		// for listings.
		collator: collate.New(language.English, collate.Loose),
	}
}

const shopColumns = `id, computer_id, multi_shop, name, description, owner, software_name, software_version, last_seen`

func scanShopRow(scanner interface{ Scan(...any) error }) (catalog.Shop, error) {
	var (
		shop        catalog.Shop
		multiShop   sql.NullInt64
		description sql.NullString
		owner       sql.NullString
		swName      sql.NullString
		swVersion   sql.NullString
	)
	err := scanner.Scan(
		&shop.ID,
		&shop.Identity.ComputerID,
		&multiShop,
		&shop.Name,
		&description,
		&owner,
		&swName,
		&swVersion,
		&shop.LastSeen,
	)
	if err != nil {
		return catalog.Shop{}, err
	}

	if multiShop.Valid {
		v := int(multiShop.Int64)
		shop.Identity.MultiShop = &v
	}
	shop.Description = strOrEmpty(description)
	shop.Owner = strOrEmpty(owner)
	shop.SoftwareName = strOrEmpty(swName)
	shop.SoftwareVersion = strOrEmpty(swVersion)
	return shop, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func strOrEmpty(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func multiShopArg(id catalog.Identity) any {
	if id.MultiShop == nil {
		return nil
	}
	return *id.MultiShop
}

func wrap(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
