// Package shopsync validates and normalizes raw ShopSync broadcasts
// into canonical catalog records. Validation is a pure function: the
// same payload always yields the same shop or the same rejection, and
// nothing is ever partially applied.
package shopsync

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"findshop/internal/catalog"
)

// TypeTag is the literal every broadcast must carry.
const TypeTag = "ShopSync"

// Currencies a listing can be ranked or displayed with. Other
// currencies are stored verbatim but do not count as a usable price.
var usableCurrencies = map[string]bool{
	catalog.CurrencyKST: true,
	"TST":               true,
}

// RejectionError carries the human-readable reason a broadcast was
// dropped. Rejections are logged upstream; they never mutate state.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "broadcast rejected: " + e.Reason
}

func reject(format string, args ...any) error {
	return &RejectionError{Reason: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err is a validation rejection rather
// than an internal failure.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

var validate = validator.New()

// Wire shapes. Fields that producers emit inconsistently (lists that
// arrive as "{}", coordinate arrays of the wrong length) stay raw and
// are coerced explicitly below.

type rawBroadcast struct {
	Type    string          `json:"type" validate:"required"`
	Version *float64        `json:"version"`
	Info    rawInfo         `json:"info"`
	Items   json.RawMessage `json:"items"`
}

type rawInfo struct {
	Name           string          `json:"name" validate:"required"`
	Description    string          `json:"description"`
	Owner          string          `json:"owner"`
	ComputerID     *float64        `json:"computerID"`
	MultiShop      *float64        `json:"multiShop"`
	Software       *rawSoftware    `json:"software"`
	Location       *rawLocation    `json:"location"`
	OtherLocations json.RawMessage `json:"otherLocations"`
}

type rawSoftware struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type rawLocation struct {
	Coordinates json.RawMessage `json:"coordinates"`
	Description string          `json:"description"`
	Dimension   string          `json:"dimension"`
}

type rawItem struct {
	Prices json.RawMessage `json:"prices"`
	Item   rawItemInfo     `json:"item"`

	DynamicPrice        bool     `json:"dynamicPrice"`
	Stock               *float64 `json:"stock"`
	MadeOnDemand        bool     `json:"madeOnDemand"`
	RequiresInteraction bool     `json:"requiresInteraction"`
	ShopBuysItem        bool     `json:"shopBuysItem"`
	NoLimit             bool     `json:"noLimit"`
}

type rawItemInfo struct {
	Name        string `json:"name" validate:"required"`
	DisplayName string `json:"displayName" validate:"required"`
	NBT         string `json:"nbt"`
	Description string `json:"description"`
}

type rawPrice struct {
	Value        *float64 `json:"value" validate:"required"`
	Currency     string   `json:"currency" validate:"required"`
	Address      string   `json:"address"`
	RequiredMeta string   `json:"requiredMeta"`
}

// Parse decodes and validates one raw broadcast payload. It returns a
// canonical shop without LastSeen (the store assigns that on upsert),
// or a RejectionError describing the first rule the payload broke.
func Parse(payload []byte) (catalog.Shop, error) {
	var raw rawBroadcast
	if err := json.Unmarshal(payload, &raw); err != nil {
		return catalog.Shop{}, reject("payload is not a valid broadcast: %v", err)
	}
	return Normalize(raw)
}

// Normalize applies the validation rules, in order, to a decoded
// broadcast.
func Normalize(raw rawBroadcast) (catalog.Shop, error) {
	if raw.Type != TypeTag {
		return catalog.Shop{}, reject("type must be %q", TypeTag)
	}
	if raw.Version != nil && *raw.Version != 1 {
		return catalog.Shop{}, reject("unsupported broadcast version %v", *raw.Version)
	}

	if err := validate.Struct(raw); err != nil {
		return catalog.Shop{}, reject("missing required field: %v", err)
	}

	computerID, ok := asInt(raw.Info.ComputerID)
	if !ok {
		return catalog.Shop{}, reject("info.computerID must be an integer")
	}
	identity := catalog.Identity{ComputerID: computerID}
	if raw.Info.MultiShop != nil {
		multi, ok := asInt(raw.Info.MultiShop)
		if !ok {
			return catalog.Shop{}, reject("info.multiShop must be an integer")
		}
		identity.MultiShop = &multi
	}

	shop := catalog.Shop{
		Identity:    identity,
		Name:        raw.Info.Name,
		Description: raw.Info.Description,
		Owner:       raw.Info.Owner,
	}
	if raw.Info.Software != nil {
		shop.SoftwareName = raw.Info.Software.Name
		shop.SoftwareVersion = raw.Info.Software.Version
	}

	if raw.Info.Location != nil {
		shop.MainLocation = normalizeLocation(*raw.Info.Location)
	}

	var rawOthers []rawLocation
	if err := coerceList(raw.Info.OtherLocations, &rawOthers); err != nil {
		return catalog.Shop{}, reject("info.otherLocations: %v", err)
	}
	for _, loc := range rawOthers {
		shop.OtherLocations = append(shop.OtherLocations, normalizeLocation(loc))
	}

	var rawItems []rawItem
	if err := coerceList(raw.Items, &rawItems); err != nil {
		return catalog.Shop{}, reject("items: %v", err)
	}

	shop.Items = make([]catalog.Item, 0, len(rawItems))
	anyUsablePrice := false
	for _, ri := range rawItems {
		item, err := normalizeItem(ri)
		if err != nil {
			return catalog.Shop{}, err
		}
		for _, p := range item.Prices {
			if usableCurrencies[p.Currency] {
				anyUsablePrice = true
			}
		}
		shop.Items = append(shop.Items, item)
	}

	// An empty item list is a valid (if useless) snapshot, but a
	// non-empty list where nothing can be paid for is producer error.
	if len(shop.Items) > 0 && !anyUsablePrice {
		return catalog.Shop{}, reject("no item carries a usable price")
	}

	return shop, nil
}

func normalizeItem(ri rawItem) (catalog.Item, error) {
	if err := validate.Struct(ri.Item); err != nil {
		return catalog.Item{}, reject("item is missing name or displayName: %v", err)
	}
	name := ri.Item.Name

	var rawPrices []rawPrice
	if err := coerceList(ri.Prices, &rawPrices); err != nil {
		return catalog.Item{}, reject("item %q: prices: %v", name, err)
	}

	item := catalog.Item{
		Name:                name,
		DisplayName:         ri.Item.DisplayName,
		NBTHash:             ri.Item.NBT,
		Description:         ri.Item.Description,
		DynamicPrice:        ri.DynamicPrice,
		MadeOnDemand:        ri.MadeOnDemand,
		RequiresInteraction: ri.RequiresInteraction,
		ShopBuysItem:        ri.ShopBuysItem,
		NoLimit:             ri.NoLimit,
	}

	if ri.Stock != nil {
		stock, ok := asInt(ri.Stock)
		if !ok {
			return catalog.Item{}, reject("item %q: stock must be an integer", name)
		}
		item.Stock = &stock
	}

	for _, rp := range rawPrices {
		if err := validate.Struct(rp); err != nil {
			return catalog.Item{}, reject("item %q: price is missing value or currency", name)
		}
		if *rp.Value < 0 {
			return catalog.Item{}, reject("item %q: price value must not be negative", name)
		}
		item.Prices = append(item.Prices, catalog.Price{
			Value:        *rp.Value,
			Currency:     strings.ToUpper(rp.Currency),
			Address:      rp.Address,
			RequiredMeta: rp.RequiredMeta,
		})
	}

	switch {
	case !item.ShopBuysItem && !item.MadeOnDemand && item.Stock == nil:
		return catalog.Item{}, reject("item %q: stock is required unless madeOnDemand", name)
	case item.ShopBuysItem && !item.NoLimit && item.Stock == nil:
		return catalog.Item{}, reject("item %q: stock is required unless noLimit", name)
	}

	if !item.ShopBuysItem {
		for _, p := range item.Prices {
			if p.Address == "" {
				return catalog.Item{}, reject("item %q: sell price in %s is missing a payment address", name, p.Currency)
			}
		}
	}

	return item, nil
}

func normalizeLocation(raw rawLocation) catalog.Location {
	loc := catalog.Location{Description: raw.Description}

	// Coordinates only count when the producer sent exactly three
	// numbers; anything else is dropped, not rejected.
	var coords []float64
	if err := coerceList(raw.Coordinates, &coords); err == nil && len(coords) == 3 {
		loc.Coords = &catalog.Coords{
			X: int(math.Round(coords[0])),
			Y: int(math.Round(coords[1])),
			Z: int(math.Round(coords[2])),
		}
	}

	if raw.Dimension != "" {
		lowered := strings.ToLower(raw.Dimension)
		if _, known := catalog.DimensionID(lowered); known {
			loc.Dimension = lowered
		} else {
			// Forward compatibility: unknown dimensions pass through.
			loc.Dimension = raw.Dimension
		}
	}

	return loc
}

// coerceList unmarshals a JSON array into out. Some producers emit
// "{}" instead of "[]" for "no data"; both normalize to an empty list,
// as does an absent field.
func coerceList(raw json.RawMessage, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	if trimmed[0] == '{' {
		var placeholder map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &placeholder); err != nil || len(placeholder) > 0 {
			return errors.New("expected a list")
		}
		return nil
	}

	if err := json.Unmarshal(trimmed, out); err != nil {
		return errors.New("expected a list")
	}
	return nil
}

func asInt(v *float64) (int, bool) {
	if v == nil || *v != math.Trunc(*v) {
		return 0, false
	}
	return int(*v), true
}
