// Package chatbox is the in-game chat front end: a websocket client
// for the chatbox gateway plus the `\fs` command handler.
package chatbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"findshop/internal/catalog"
	"findshop/internal/query"
	"findshop/internal/store"
)

// Command is one chat command addressed to the bot.
type Command struct {
	User    string
	Command string
	Args    []string
}

// HandlerConfig tunes the command handler.
type HandlerConfig struct {
	// Aliases are the command names the bot answers to.
	Aliases []string
	// HelpLink points users at the missing-shops FAQ.
	HelpLink string
}

// Handler routes chat commands to the query engine and renders the
// replies.
type Handler struct {
	queries  *query.Service
	aliases  map[string]bool
	helpLink string
	log      zerolog.Logger
}

// NewHandler builds the command handler.
func NewHandler(queries *query.Service, cfg HandlerConfig, log zerolog.Logger) *Handler {
	aliases := make(map[string]bool, len(cfg.Aliases))
	for _, a := range cfg.Aliases {
		aliases[strings.ToLower(a)] = true
	}
	if len(aliases) == 0 {
		aliases["fs"] = true
		aliases["findshop"] = true
	}
	return &Handler{
		queries:  queries,
		aliases:  aliases,
		helpLink: cfg.HelpLink,
		log:      log,
	}
}

// Respond handles one command and returns the reply text. The second
// return is false when the command is not addressed to the bot.
func (h *Handler) Respond(ctx context.Context, cmd Command) (string, bool) {
	if !h.aliases[strings.ToLower(cmd.Command)] {
		return "", false
	}

	h.log.Debug().Str("user", cmd.User).Strs("args", cmd.Args).Msg("chat command")

	sub := ""
	if len(cmd.Args) > 0 {
		sub = strings.ToLower(cmd.Args[0])
	}

	switch sub {
	case "", "help":
		return h.helpText(), true
	case "stats":
		return h.statsText(ctx), true
	case "list", "l":
		return h.listText(ctx, argOr(cmd.Args, 1, "1")), true
	case "buy", "b":
		return h.searchText(ctx, query.DirectionBuy, argOr(cmd.Args, 1, ""), argOr(cmd.Args, 2, "1")), true
	case "sell", "sl":
		return h.searchText(ctx, query.DirectionSell, argOr(cmd.Args, 1, ""), argOr(cmd.Args, 2, "1")), true
	case "shop", "sh":
		return h.shopText(ctx, argOr(cmd.Args, 1, "")), true
	default:
		// A bare `\fs <item>` is shorthand for buy.
		return h.searchText(ctx, query.DirectionBuy, cmd.Args[0], argOr(cmd.Args, 1, "1")), true
	}
}

func (h *Handler) helpText() string {
	lines := []string{
		"FindShop helps locate ShopSync-compatible shops buying or selling an item.",
		"`\\fs list` - List detected shops",
		"`\\fs stats` - Catalog statistics",
		"`\\fs buy [item]` - Finds shops selling *[item]*",
		"`\\fs sell [item]` - Finds shops buying *[item]*",
		"`\\fs shop [query]` - Shop detail by name or `computerID[:multiShop]`",
	}
	if h.helpLink != "" {
		lines = append(lines, fmt.Sprintf("For more information, check [the wiki](%s)", h.helpLink))
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) statsText(ctx context.Context) string {
	stats, err := h.queries.Statistics(ctx)
	if err != nil {
		return h.errorText(err, "")
	}

	lines := []string{
		fmt.Sprintf("Shops: `%d`", stats.ShopCount),
		fmt.Sprintf("Items: `%d`", stats.ItemCount),
		fmt.Sprintf("Locations: `%d`", stats.LocationCount),
	}
	if !stats.LastShopSeen.IsZero() {
		lines = append(lines, fmt.Sprintf("Newest broadcast: `%s`", stats.LastShopSeen.UTC().Format("2006-01-02 15:04:05 MST")))
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) listText(ctx context.Context, pageArg string) string {
	page, err := h.parsePage(pageArg)
	if err != nil {
		return h.errorText(err, "")
	}

	result, err := h.queries.ListShops(ctx, page)
	if err != nil {
		return h.errorText(err, "")
	}
	return h.renderPage(result, "`\\fs list [page]` for more")
}

func (h *Handler) searchText(ctx context.Context, direction query.Direction, item, pageArg string) string {
	page, err := h.parsePage(pageArg)
	if err != nil {
		return h.errorText(err, item)
	}

	result, err := h.queries.Search(ctx, item, direction, page)
	if err != nil {
		return h.errorText(err, item)
	}
	return h.renderPage(result, fmt.Sprintf("`\\fs %s [item] [page]` for more", direction))
}

func (h *Handler) shopText(ctx context.Context, arg string) string {
	if strings.TrimSpace(arg) == "" {
		return h.errorText(query.ErrMissingQuery, "")
	}

	// An identity-shaped argument is a direct lookup; anything else
	// searches by name.
	if shop, err := h.queries.ShopDetail(ctx, arg); err == nil {
		return strings.Join(h.queries.FormatShopDetail(shop), "\n")
	} else if !errors.Is(err, catalog.ErrInvalidIdentity) {
		return h.errorText(err, arg)
	}

	shops, err := h.queries.FindShopsByName(ctx, arg)
	if err != nil {
		return h.errorText(err, arg)
	}
	if len(shops) == 1 {
		return strings.Join(h.queries.FormatShopDetail(shops[0]), "\n")
	}

	lines := make([]string, 0, len(shops)+1)
	lines = append(lines, "Multiple shops were found. Run `\\fs shop [computerID]` for specific information.")
	for _, shop := range shops {
		lines = append(lines, fmt.Sprintf("(`%s`) %s", shop.Identity, shop.Name))
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) renderPage(page query.Page, footer string) string {
	out := []string{"Results:", h.queries.HeaderBar(page.Header)}
	out = append(out, page.Lines...)
	out = append(out, h.queries.HeaderBar(footer))
	return strings.Join(out, "\n")
}

func (h *Handler) parsePage(arg string) (int, error) {
	if arg == "" {
		return 1, nil
	}
	page, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a page number", query.ErrPageOutOfRange, arg)
	}
	return page, nil
}

func (h *Handler) errorText(err error, subject string) string {
	switch {
	case errors.Is(err, query.ErrNoResults), errors.Is(err, store.ErrShopNotFound):
		msg := "**Error!** FindShop was unable to find any results"
		if subject != "" {
			msg = fmt.Sprintf("**Error!** FindShop was unable to find any results for `%s`", subject)
		}
		if h.helpLink != "" {
			msg += fmt.Sprintf(". [Why are shops and items missing?](%s)", h.helpLink)
		}
		return msg
	case errors.Is(err, query.ErrPageOutOfRange):
		return fmt.Sprintf("**Error!** %s.", capitalize(err.Error()))
	case errors.Is(err, query.ErrMissingQuery):
		return "**Error!** Tell me what to look for, e.g. `\\fs buy dirt`."
	case errors.Is(err, catalog.ErrInvalidIdentity):
		return "**Error!** Shop identities look like `42` or `42:3`."
	default:
		h.log.Error().Err(err).Msg("chat command failed")
		return "An error occurred! Please try again later."
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func argOr(args []string, i int, fallback string) string {
	if i < len(args) {
		return args[i]
	}
	return fallback
}
