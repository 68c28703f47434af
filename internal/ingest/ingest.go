// Package ingest accepts ShopSync broadcasts over a websocket and
// feeds them through the validator into the catalog store.
package ingest

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"findshop/internal/catalog"
	"findshop/internal/shopsync"
)

// MaxPayloadBytes caps one broadcast frame. Oversized payloads are
// dropped before any parse attempt.
const MaxPayloadBytes = 1 << 20

// ShopWriter is the store surface the endpoint needs.
type ShopWriter interface {
	Upsert(ctx context.Context, shop catalog.Shop) (catalog.Shop, error)
}

// Handler upgrades producer connections and ingests their frames.
type Handler struct {
	token    string
	shops    ShopWriter
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds the ingest endpoint. token is the shared secret
// producers must present in the Authorization header.
func NewHandler(token string, shops ShopWriter, log zerolog.Logger) *Handler {
	return &Handler{
		token: token,
		shops: shops,
		log:   log,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), []byte(h.token)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	h.log.Debug().Str("remote", r.RemoteAddr).Msg("producer connected")
	conn.SetReadLimit(MaxPayloadBytes)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("producer disconnected")
			return
		}

		ack := h.ingest(context.Background(), payload)
		if err := conn.WriteJSON(ack); err != nil {
			h.log.Debug().Err(err).Msg("write ack failed")
			return
		}
	}
}

type ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ingest runs one broadcast through the validator and the store. A
// bad broadcast is logged and dropped; it never mutates state and
// never kills the connection.
func (h *Handler) ingest(ctx context.Context, payload []byte) ack {
	shop, err := shopsync.Parse(payload)
	if err != nil {
		if shopsync.IsRejection(err) {
			h.log.Warn().Err(err).Msg("broadcast rejected")
			return ack{OK: false, Error: err.Error()}
		}
		h.log.Error().Err(err).Msg("broadcast validation failed")
		return ack{OK: false, Error: "internal error"}
	}

	stored, err := h.shops.Upsert(ctx, shop)
	if err != nil {
		h.log.Error().Err(err).Str("identity", shop.Identity.String()).Msg("store broadcast failed")
		return ack{OK: false, Error: "internal error"}
	}

	h.log.Info().
		Str("identity", stored.Identity.String()).
		Str("shop", stored.Name).
		Int("items", len(stored.Items)).
		Msg("broadcast stored")
	return ack{OK: true}
}
