// Package unreal sends commands to the Unreal editor MCP bridge, a TCP
// server speaking one JSON object per line.
package unreal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"
)

const (
	DefaultAddress = "127.0.0.1:55557"
	defaultTimeout = 10 * time.Second
	maxLineBytes   = 16 << 20
)

// CommandError is returned when the editor answers with status "error".
type CommandError struct {
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("unreal command %s failed: %s", e.Command, e.Message)
}

// Response is the decoded reply line.
type Response struct {
	Status  string          `json:"status"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

type request struct {
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// Client talks to the editor bridge. A new connection is used per command.
type Client struct {
	Address string
	Timeout time.Duration
	dialer  net.Dialer
}

// NewClient returns a client for address, falling back to the default port.
func NewClient(address string, timeout time.Duration) *Client {
	if address == "" {
		address = DefaultAddress
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{Address: address, Timeout: timeout}
}

// Send writes one command line and reads exactly one response line.
func (c *Client) Send(ctx context.Context, command string, params map[string]any) (json.RawMessage, error) {
	if command == "" {
		return nil, errors.New("command is required")
	}
	if params == nil {
		params = map[string]any{}
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to unreal editor at %s (is the bridge running?): %w", c.Address, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("failed to set deadline: %w", err)
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	line, err := json.Marshal(request{Type: command, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to encode command %s: %w", command, err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("failed to send command %s: %w", command, err)
	}

	reply, err := readLine(bufio.NewReader(conn))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("no response to %s: %w", command, ctx.Err())
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, fmt.Errorf("no response to %s within %s: %w", command, timeout, context.DeadlineExceeded)
		}
		return nil, fmt.Errorf("failed to read response to %s: %w", command, err)
	}

	var resp Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		return nil, fmt.Errorf("invalid response to %s: %w", command, err)
	}
	slog.Debug("unreal: command completed", "command", command, "status", resp.Status)

	switch resp.Status {
	case "success", "ok":
		return resp.Result, nil
	case "error":
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		return nil, &CommandError{Command: command, Message: msg}
	default:
		return nil, fmt.Errorf("unexpected status %q in response to %s", resp.Status, command)
	}
}

// readLine reads up to the first newline. A final line without newline is
// accepted when the peer closes the connection.
func readLine(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if len(buf) > 0 {
				return buf, nil
			}
			return nil, err
		}
		buf = append(buf, chunk...)
		if len(buf) > maxLineBytes {
			return nil, fmt.Errorf("response exceeds %d bytes", maxLineBytes)
		}
		if !isPrefix {
			return buf, nil
		}
	}
}

// Ping checks that the bridge answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Send(ctx, "ping", nil)
	return err
}

// ImportTexture imports a file from disk into a content folder such as
// /Game/TG/Textures.
func (c *Client) ImportTexture(ctx context.Context, source, destination string) (json.RawMessage, error) {
	if source == "" || destination == "" {
		return nil, errors.New("source and destination are required")
	}
	return c.Send(ctx, "import_texture", map[string]any{
		"source_path":      source,
		"destination_path": destination,
	})
}
