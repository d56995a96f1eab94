package comfyui

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/gorilla/websocket"
)

// Event is a progress message for one prompt.
type Event struct {
	Type     string `json:"type"`
	PromptID string `json:"prompt_id"`
	// Node is empty once execution of the prompt has finished.
	Node  string `json:"node,omitempty"`
	Value int    `json:"value,omitempty"`
	Max   int    `json:"max,omitempty"`
}

type wsMessage struct {
	Type string `json:"type"`
	Data struct {
		PromptID string  `json:"prompt_id"`
		Node     *string `json:"node"`
		Value    int     `json:"value"`
		Max      int     `json:"max"`
	} `json:"data"`
}

// WatchProgress streams progress, executing and executed events for
// promptID to fn. It returns nil once ComfyUI reports that the prompt has
// no more nodes to execute.
func (c *Client) WatchProgress(ctx context.Context, promptID string, fn func(Event)) error {
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = c.base.Path + "/ws"
	u.RawQuery = url.Values{"clientId": {c.clientID}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to open progress socket: %w", err)
	}
	defer func() { _ = conn.Close() }()

	// unblock ReadMessage on cancellation
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("progress socket closed: %w", err)
		}
		if kind != websocket.TextMessage {
			// binary frames carry preview images
			continue
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("comfyui: ignoring malformed socket message", "error", err)
			continue
		}
		if msg.Data.PromptID != promptID {
			continue
		}

		ev := Event{Type: msg.Type, PromptID: promptID, Value: msg.Data.Value, Max: msg.Data.Max}
		if msg.Data.Node != nil {
			ev.Node = *msg.Data.Node
		}
		switch msg.Type {
		case "progress", "executed":
			fn(ev)
		case "executing":
			fn(ev)
			if msg.Data.Node == nil {
				return nil
			}
		case "execution_error":
			fn(ev)
			return fmt.Errorf("%w: prompt %s", ErrExecutionFailed, promptID)
		}
	}
}
