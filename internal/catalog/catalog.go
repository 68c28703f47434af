// Package catalog defines the canonical shop model shared by the
// validator, the store and the query engine.
package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidIdentity signals a malformed identity string.
var ErrInvalidIdentity = errors.New("invalid shop identity")

// CurrencyKST is the only currency considered for search ranking.
// Other currencies are stored but never ranked.
const CurrencyKST = "KST"

// Identity uniquely names one producer. MultiShop disambiguates
// co-located shops sharing a single computer.
type Identity struct {
	ComputerID int  `json:"computerID"`
	MultiShop  *int `json:"multiShop,omitempty"`
}

// String renders the identity as "computerID" or "computerID:multiShop".
func (id Identity) String() string {
	if id.MultiShop == nil {
		return strconv.Itoa(id.ComputerID)
	}
	return fmt.Sprintf("%d:%d", id.ComputerID, *id.MultiShop)
}

// ParseIdentity parses "computerID[:multiShop]". Malformed input is an
// input error, distinct from a later not-found lookup.
func ParseIdentity(s string) (Identity, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 1 || len(parts) > 2 {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}

	computerID, err := strconv.Atoi(parts[0])
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}

	id := Identity{ComputerID: computerID}
	if len(parts) == 2 {
		multi, err := strconv.Atoi(parts[1])
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
		}
		id.MultiShop = &multi
	}
	return id, nil
}

// Dimension identifiers as broadcast by producers. Unrecognized
// dimension strings are preserved as-is rather than rejected.
const (
	DimensionOverworld = "overworld"
	DimensionNether    = "nether"
	DimensionEnd       = "end"
)

var dimensionIDs = map[string]int{
	DimensionOverworld: 0,
	DimensionNether:    -1,
	DimensionEnd:       1,
}

// DimensionID maps a known dimension name to its numeric id.
func DimensionID(name string) (int, bool) {
	id, ok := dimensionIDs[name]
	return id, ok
}

// Coords is a block position in the world.
type Coords struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Location is a place a shop can be visited. Either coordinates or a
// free-text description (possibly a URL) may be present, or neither.
type Location struct {
	Coords      *Coords `json:"coords,omitempty"`
	Description string  `json:"description,omitempty"`
	Dimension   string  `json:"dimension,omitempty"`
}

// Price is one quote for an item in a single currency.
type Price struct {
	Value        float64 `json:"value"`
	Currency     string  `json:"currency"`
	Address      string  `json:"address,omitempty"`
	RequiredMeta string  `json:"requiredMeta,omitempty"`
}

// Item is one listing in a shop's inventory snapshot.
type Item struct {
	Name                string  `json:"name"`
	DisplayName         string  `json:"displayName"`
	NBTHash             string  `json:"nbtHash,omitempty"`
	Description         string  `json:"description,omitempty"`
	Prices              []Price `json:"prices"`
	DynamicPrice        bool    `json:"dynamicPrice"`
	Stock               *int    `json:"stock,omitempty"`
	MadeOnDemand        bool    `json:"madeOnDemand"`
	RequiresInteraction bool    `json:"requiresInteraction"`
	ShopBuysItem        bool    `json:"shopBuysItem"`
	NoLimit             bool    `json:"noLimit"`
}

// KSTPrice returns the item's first KST quote, if any.
func (it Item) KSTPrice() (Price, bool) {
	for _, p := range it.Prices {
		if p.Currency == CurrencyKST {
			return p, true
		}
	}
	return Price{}, false
}

// InStock reports whether the listing has a positive stock count.
func (it Item) InStock() bool {
	return it.Stock != nil && *it.Stock > 0
}

// Shop is the canonical record for one producer. Items and locations
// are replaced wholesale on every successful re-ingest.
type Shop struct {
	ID              int64      `json:"-"`
	Identity        Identity   `json:"identity"`
	Name            string     `json:"name"`
	Description     string     `json:"description,omitempty"`
	Owner           string     `json:"owner,omitempty"`
	SoftwareName    string     `json:"softwareName,omitempty"`
	SoftwareVersion string     `json:"softwareVersion,omitempty"`
	MainLocation    Location   `json:"mainLocation"`
	OtherLocations  []Location `json:"otherLocations,omitempty"`
	Items           []Item     `json:"items"`
	LastSeen        time.Time  `json:"lastSeen"`
}

// Statistics summarizes the catalog for the stats commands.
type Statistics struct {
	ShopCount     int       `json:"shopCount"`
	ItemCount     int       `json:"itemCount"`
	LocationCount int       `json:"locationCount"`
	LastShopSeen  time.Time `json:"lastShopSeen"`
}
