package chatbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	reconnectBase = time.Second
	reconnectMax  = time.Minute
)

// event is one frame from the chatbox gateway. Only command events
// carry the fields below; everything else is ignored by type.
type event struct {
	Type    string    `json:"type"`
	User    eventUser `json:"user"`
	Command string    `json:"command"`
	Args    []string  `json:"args"`
}

type eventUser struct {
	Name string `json:"name"`
}

type tellPacket struct {
	Type string `json:"type"`
	User string `json:"user"`
	Name string `json:"name"`
	Text string `json:"text"`
	Mode string `json:"mode"`
}

// Client keeps a connection to the chatbox gateway open and feeds
// command events through the handler.
type Client struct {
	url     string
	botName string
	handler *Handler
	log     zerolog.Logger
}

// NewClient builds a chatbox client. url carries the gateway token,
// e.g. "wss://chat.example/v2/token".
func NewClient(url, botName string, handler *Handler, log zerolog.Logger) *Client {
	return &Client{
		url:     url,
		botName: botName,
		handler: handler,
		log:     log,
	}
}

// Run connects and serves commands until ctx is cancelled, redialing
// with exponential backoff after any connection failure.
func (c *Client) Run(ctx context.Context) error {
	backoff := reconnectBase
	for {
		err := c.serve(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("chatbox connection lost")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, reconnectMax)
	}
}

func (c *Client) serve(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial chatbox: %w", err)
	}
	defer conn.Close()

	c.log.Info().Msg("connected to chatbox")

	// Unblock ReadMessage when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read chatbox event: %w", err)
		}

		var ev event
		if err := json.Unmarshal(payload, &ev); err != nil {
			c.log.Debug().Err(err).Msg("undecodable chatbox event")
			continue
		}
		if ev.Type != "command" {
			continue
		}

		reply, ok := c.handler.Respond(ctx, Command{
			User:    ev.User.Name,
			Command: ev.Command,
			Args:    ev.Args,
		})
		if !ok {
			continue
		}

		if err := c.tell(conn, ev.User.Name, reply); err != nil {
			return err
		}
	}
}

func (c *Client) tell(conn *websocket.Conn, user, text string) error {
	packet := tellPacket{
		Type: "tell",
		User: user,
		Name: c.botName,
		Text: text,
		Mode: "markdown",
	}
	if err := conn.WriteJSON(packet); err != nil {
		return fmt.Errorf("send tell: %w", err)
	}
	return nil
}
