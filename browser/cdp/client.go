// Package cdp implements a minimal Chrome DevTools Protocol client over
// WebSocket. It covers the commands the scrape task needs (target
// attachment, navigation, expression evaluation) rather than the full
// protocol surface.
package cdp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// message is a CDP frame in either direction. Commands carry ID and
// Method; responses carry ID and Result or Error; events carry Method
// and Params. SessionID scopes frames to an attached target.
type message struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("cdp: %s (code %d)", e.Message, e.Code)
}

// Client is a CDP connection to a browser endpoint. It is safe for
// concurrent use; command responses are correlated by frame id.
type Client struct {
	url    string
	logger *slog.Logger

	conn    net.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
	nextID  atomic.Int64

	// Request-response correlation.
	pending sync.Map // frame id → chan *message

	// Event subscriptions.
	subMu sync.Mutex
	subs  map[subKey][]chan json.RawMessage
}

type subKey struct {
	sessionID string
	method    string
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Dial connects to a CDP WebSocket endpoint and starts the read loop.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:    url,
		logger: slog.Default(),
		subs:   make(map[subKey][]chan json.RawMessage),
	}
	for _, opt := range opts {
		opt(c)
	}

	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("cdp: dial %s: %w", url, err)
	}
	c.conn = conn

	go c.readLoop()

	return c, nil
}

// Call sends a CDP command and decodes the result into result (which may
// be nil). sessionID may be empty for browser-level commands.
func (c *Client) Call(ctx context.Context, sessionID, method string, params, result any) error {
	if c.closed.Load() {
		return fmt.Errorf("cdp: call %s: connection closed", method)
	}

	msg := message{
		ID:        c.nextID.Add(1),
		Method:    method,
		SessionID: sessionID,
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("cdp: marshal %s params: %w", method, err)
		}
		msg.Params = data
	}

	respCh := make(chan *message, 1)
	c.pending.Store(msg.ID, respCh)
	defer c.pending.Delete(msg.ID)

	if err := c.write(msg); err != nil {
		return fmt.Errorf("cdp: write %s: %w", method, err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return fmt.Errorf("cdp: %s: %w", method, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("cdp: unmarshal %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers for events with the given method on the given
// session. It must be called before the command that triggers the event.
// The returned cancel func releases the subscription.
func (c *Client) Subscribe(sessionID, method string) (<-chan json.RawMessage, func()) {
	ch := make(chan json.RawMessage, 8)
	key := subKey{sessionID: sessionID, method: method}

	c.subMu.Lock()
	c.subs[key] = append(c.subs[key], ch)
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		chans := c.subs[key]
		for i, sub := range chans {
			if sub == ch {
				c.subs[key] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
	}
	return ch, cancel
}

// Close tears down the connection. In-flight Calls fail with context or
// read errors.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close()
}

func (c *Client) write(msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteClientText(c.conn, data)
}

// readLoop reads frames from the WebSocket and dispatches them to
// pending calls or event subscribers.
func (c *Client) readLoop() {
	for {
		if c.closed.Load() {
			return
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			if !c.closed.Load() {
				c.logger.Warn("cdp read error", slog.String("error", err.Error()))
			}
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("cdp: invalid frame", slog.String("error", err.Error()))
			continue
		}

		if msg.ID != 0 {
			if val, ok := c.pending.Load(msg.ID); ok {
				ch := val.(chan *message) //nolint:errcheck // pending map always stores chan *message
				select {
				case ch <- &msg:
				default:
				}
			}
			continue
		}

		if msg.Method != "" {
			c.subMu.Lock()
			chans := c.subs[subKey{sessionID: msg.SessionID, method: msg.Method}]
			for _, ch := range chans {
				select {
				case ch <- msg.Params:
				default:
					// Drop if subscriber is slow.
				}
			}
			c.subMu.Unlock()
		}
	}
}
