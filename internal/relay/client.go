package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/seismic-bv/seismic/internal/logging"
	"github.com/seismic-bv/seismic/internal/nostr"
)

// Maximum frame size accepted from a relay.
const maxFrameSize = 64 << 10

// Publisher delivers an event to a single relay.
type Publisher interface {
	Publish(ctx context.Context, url string, ev *nostr.Event) Outcome
}

// Client publishes events over a fresh websocket per call. The connection
// is closed before Publish returns.
type Client struct {
	httpClient *http.Client
	logger     logging.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the client used for the websocket handshake.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(logger logging.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a relay client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{logger: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("relay")
	return c
}

// Publish sends ["EVENT", ev] and waits for the matching OK frame or for
// ctx to end.
func (c *Client) Publish(ctx context.Context, url string, ev *nostr.Event) Outcome {
	start := time.Now()
	out := c.publish(ctx, url, ev)
	out.URL = url
	out.Latency = time.Since(start)
	return out
}

func (c *Client) publish(ctx context.Context, url string, ev *nostr.Event) Outcome {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPClient: c.httpClient})
	if err != nil {
		return failure(ctx, fmt.Errorf("dial: %w", err))
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxFrameSize)

	frame, err := json.Marshal([]interface{}{"EVENT", ev})
	if err != nil {
		return Outcome{Status: StatusError, Err: err}
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return failure(ctx, fmt.Errorf("write: %w", err))
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return failure(ctx, fmt.Errorf("read: %w", err))
		}

		label, fields, err := parseFrame(data)
		if err != nil {
			c.logger.Debug(ctx, "Ignoring malformed relay frame", "relay", url, "error", err.Error())
			continue
		}

		switch label {
		case "OK":
			var id string
			var accepted bool
			var message string
			if len(fields) < 2 ||
				json.Unmarshal(fields[0], &id) != nil ||
				json.Unmarshal(fields[1], &accepted) != nil {
				c.logger.Debug(ctx, "Ignoring malformed OK frame", "relay", url)
				continue
			}
			if id != ev.ID {
				continue
			}
			if len(fields) > 2 {
				_ = json.Unmarshal(fields[2], &message)
			}
			conn.Close(websocket.StatusNormalClosure, "")
			if accepted {
				return Outcome{Status: StatusAccepted, Message: message}
			}
			return Outcome{Status: StatusRejected, Message: message}

		case "NOTICE":
			var notice string
			if len(fields) > 0 {
				_ = json.Unmarshal(fields[0], &notice)
			}
			c.logger.Debug(ctx, "Relay notice", "relay", url, "notice", logging.SanitizeForLog(notice))

		case "CLOSED":
			var message string
			if len(fields) > 1 {
				_ = json.Unmarshal(fields[1], &message)
			}
			return Outcome{Status: StatusError, Message: message, Err: errors.New("relay closed the request")}
		}
	}
}

// failure classifies an I/O error: a finished context means the relay
// ran out of time, anything else is an error.
func failure(ctx context.Context, err error) Outcome {
	if ctx.Err() != nil {
		return Outcome{Status: StatusTimeout, Err: ctx.Err()}
	}
	return Outcome{Status: StatusError, Err: err}
}

func parseFrame(data []byte) (string, []json.RawMessage, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", nil, err
	}
	if len(raw) == 0 {
		return "", nil, errors.New("empty frame")
	}
	var label string
	if err := json.Unmarshal(raw[0], &label); err != nil {
		return "", nil, err
	}
	return label, raw[1:], nil
}
