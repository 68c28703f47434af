package query

import (
	"fmt"
	"math"
	"strings"
	"time"

	"findshop/internal/catalog"
	"findshop/internal/store"
)

// kstGlyph is the in-game currency symbol for KST prices.
const kstGlyph = "\uE000"

// staleAfter is how long a shop can go unseen before listings flag it.
const staleAfter = 7 * 24 * time.Hour

// formatLocation renders coordinates when present, else the free-text
// description (URLs are left bare so chat clients link them), else
// "Unknown".
func formatLocation(loc catalog.Location) string {
	if loc.Coords != nil {
		return fmt.Sprintf("`%d %d %d`", loc.Coords.X, loc.Coords.Y, loc.Coords.Z)
	}
	if loc.Description != "" {
		if strings.HasPrefix(loc.Description, "http") {
			return loc.Description
		}
		return "`" + loc.Description + "`"
	}
	return "Unknown"
}

// formatPrice renders the item's KST quote. Dynamic prices carry a
// "*" marker; non-KST currencies are spelled out after the value.
func formatPrice(item catalog.Item) string {
	price, ok := item.KSTPrice()
	prefix, suffix := "", ""
	if ok {
		prefix = kstGlyph
	} else if len(item.Prices) > 0 {
		price = item.Prices[0]
		suffix = " " + price.Currency
	} else {
		return "?"
	}

	value := trimFloat(price.Value)
	if item.DynamicPrice {
		return fmt.Sprintf("%s`%s*`%s", prefix, value, suffix)
	}
	return fmt.Sprintf("%s`%s`%s", prefix, value, suffix)
}

func trimFloat(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return strings.TrimRight(fmt.Sprintf("%.2f", v), "0")
}

// formatShopName bolds the name and flags shops that have not
// broadcast recently.
func (s *Service) formatShopName(shop catalog.Shop) string {
	name := shop.Name
	if !shop.LastSeen.IsZero() && s.now().Sub(shop.LastSeen) >= staleAfter {
		name += "\U0001F550"
	}
	return "**" + name + "**"
}

// stripNamespace drops the vanilla "minecraft:" prefix so result
// lines stay short.
func stripNamespace(name string) string {
	return strings.TrimPrefix(name, "minecraft:")
}

func (s *Service) formatResult(r store.SearchResult, direction Direction) string {
	line := fmt.Sprintf("`%s` at %s (%s) for %s",
		stripNamespace(r.Item.Name),
		s.formatShopName(r.Shop),
		formatLocation(r.Shop.MainLocation),
		formatPrice(r.Item),
	)
	if direction == DirectionBuy {
		if r.Item.Stock != nil {
			line += fmt.Sprintf(" (`%d` in stock)", *r.Item.Stock)
		} else if r.Item.MadeOnDemand {
			line += " (made on demand)"
		}
	}
	return line
}

// HeaderBar centers text inside a bar of "=" sized to the chat width,
// compensating for the chat font's narrow characters.
func (s *Service) HeaderBar(text string) string {
	if text == "" {
		return strings.Repeat("=", s.chatWidth)
	}

	width := float64(s.chatWidth - 1)
	for _, r := range strings.ReplaceAll(text, "`", "") {
		if strings.ContainsRune("lit[] ", r) {
			width -= 0.4
		} else {
			width--
		}
	}

	bar := strings.Repeat("=", int(math.Ceil(width/2)))
	return fmt.Sprintf("%s %s %s", bar, text, bar)
}

// FormatShopDetail renders a shop's full record as chat lines.
func (s *Service) FormatShopDetail(shop catalog.Shop) []string {
	lines := []string{headline(s.formatShopName(shop), shop.Owner)}

	if !locationUnknown(shop.MainLocation) || len(shop.OtherLocations) > 0 {
		loc := "Located at " + formatLocation(shop.MainLocation)
		if shop.MainLocation.Dimension != "" {
			loc += fmt.Sprintf(" in the `%s`", shop.MainLocation.Dimension)
		}
		if n := len(shop.OtherLocations); n > 0 {
			loc += fmt.Sprintf(" +`%d` other locations", n)
		}
		lines = append(lines, loc)
	}

	if !shop.LastSeen.IsZero() {
		lines = append(lines, fmt.Sprintf("Last seen `%s`", shop.LastSeen.UTC().Format(time.RFC1123)))
	}

	if shop.SoftwareName != "" {
		software := fmt.Sprintf("Running `%s`", shop.SoftwareName)
		if shop.SoftwareVersion != "" {
			software += fmt.Sprintf(" `%s`", shop.SoftwareVersion)
		}
		lines = append(lines, software)
	}

	lines = append(lines, fmt.Sprintf("Selling `%d` items", len(shop.Items)))
	return lines
}

func headline(name, owner string) string {
	if owner != "" {
		return fmt.Sprintf("%s *by %s*", name, owner)
	}
	return name
}

func locationUnknown(loc catalog.Location) bool {
	return loc.Coords == nil && loc.Description == ""
}
