package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"findshop/internal/catalog"
)

type stubWriter struct {
	upserted []catalog.Shop
	err      error
}

func (s *stubWriter) Upsert(_ context.Context, shop catalog.Shop) (catalog.Shop, error) {
	if s.err != nil {
		return catalog.Shop{}, s.err
	}
	s.upserted = append(s.upserted, shop)
	shop.LastSeen = time.Now()
	return shop, nil
}

func dialTest(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", token)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readAck(t *testing.T, conn *websocket.Conn) ack {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}

	var a ack
	if err := json.Unmarshal(payload, &a); err != nil {
		t.Fatalf("decode ack %q: %v", payload, err)
	}
	return a
}

func TestHandlerIngestsValidBroadcast(t *testing.T) {
	writer := &stubWriter{}
	srv := httptest.NewServer(NewHandler("secret", writer, zerolog.Nop()))
	defer srv.Close()

	conn := dialTest(t, srv, "secret")

	broadcast := `{
		"type": "ShopSync",
		"info": {"name": "Joe's", "computerID": 42},
		"items": [{"item": {"name": "minecraft:dirt", "displayName": "Dirt"}, "stock": 64,
			"prices": [{"value": 1, "currency": "kst", "address": "abc"}]}]
	}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(broadcast)); err != nil {
		t.Fatalf("write: %v", err)
	}

	if a := readAck(t, conn); !a.OK {
		t.Fatalf("ack = %+v", a)
	}
	if len(writer.upserted) != 1 || writer.upserted[0].Identity.ComputerID != 42 {
		t.Fatalf("upserted = %+v", writer.upserted)
	}
}

func TestHandlerRejectsBadBroadcast(t *testing.T) {
	writer := &stubWriter{}
	srv := httptest.NewServer(NewHandler("secret", writer, zerolog.Nop()))
	defer srv.Close()

	conn := dialTest(t, srv, "secret")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "nope"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	a := readAck(t, conn)
	if a.OK || a.Error == "" {
		t.Fatalf("ack = %+v", a)
	}
	if len(writer.upserted) != 0 {
		t.Fatalf("rejected broadcast reached the store: %+v", writer.upserted)
	}

	// The connection survives a rejection.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type": "ShopSync", "info": {"name": "x", "computerID": 1}, "items": []}`)); err != nil {
		t.Fatalf("write after rejection: %v", err)
	}
	if a := readAck(t, conn); !a.OK {
		t.Fatalf("ack after rejection = %+v", a)
	}
}

func TestHandlerRequiresSharedSecret(t *testing.T) {
	srv := httptest.NewServer(NewHandler("secret", &stubWriter{}, zerolog.Nop()))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake failure without token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("resp = %+v", resp)
	}
}
