// This file contains WebSocket support for live notification delivery.

package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/notify"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Event is a frame pushed by the server.
type Event = notify.Event

// EventHandler is called for each event received via WebSocket
type EventHandler func(event Event)

// WSClient follows one agent's notifications. Pushes are best effort: a
// client that was disconnected should re-read its inbox with
// Client.Notifications.
type WSClient struct {
	baseURL   string
	apiKey    string
	agentID   string
	conn      *websocket.Conn
	handlers  []EventHandler
	mu        sync.RWMutex
	done      chan struct{}
	closeOnce sync.Once
	reconnect bool
}

// WSOption configures the WebSocket client
type WSOption func(*WSClient)

// WithWSAPIKey sets the API key for WebSocket authentication
func WithWSAPIKey(key string) WSOption {
	return func(c *WSClient) {
		c.apiKey = key
	}
}

// WithAutoReconnect enables automatic reconnection on disconnect
func WithAutoReconnect(enabled bool) WSOption {
	return func(c *WSClient) {
		c.reconnect = enabled
	}
}

// NewWSClient creates a WebSocket client for agentID's notifications.
func NewWSClient(baseURL, agentID string, opts ...WSOption) *WSClient {
	c := &WSClient{
		baseURL:   baseURL,
		agentID:   agentID,
		handlers:  make([]EventHandler, 0),
		done:      make(chan struct{}),
		reconnect: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnEvent registers an event handler
func (c *WSClient) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Connect establishes the WebSocket connection and starts delivering
// events to the registered handlers.
func (c *WSClient) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	go c.readLoop(ctx)
	return nil
}

func (c *WSClient) dial(ctx context.Context) error {
	wsURL, err := c.buildWSURL()
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}

	opts := &websocket.DialOptions{}
	if c.apiKey != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.apiKey}}
	}

	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Close closes the WebSocket connection
func (c *WSClient) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	return nil
}

func (c *WSClient) buildWSURL() (string, error) {
	if strings.TrimSpace(c.agentID) == "" {
		return "", fmt.Errorf("agent id required")
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}

	// Convert http(s) to ws(s)
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/agents/" + url.PathEscape(c.agentID)
	return u.String(), nil
}

func (c *WSClient) readLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		var event Event
		err := wsjson.Read(ctx, conn, &event)
		if err != nil {
			if c.reconnect {
				select {
				case <-c.done:
					return
				default:
					c.handleReconnect(ctx)
					continue
				}
			}
			return
		}

		c.dispatchEvent(event)
	}
}

func (c *WSClient) dispatchEvent(event Event) {
	c.mu.RLock()
	handlers := make([]EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

func (c *WSClient) handleReconnect(ctx context.Context) {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := c.dial(ctx); err == nil {
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// FilterTypes wraps handler so it only sees notifications of the given
// types.
func FilterTypes(handler EventHandler, types ...core.NotificationType) EventHandler {
	return func(event Event) {
		for _, t := range types {
			if event.Notification.Type == t {
				handler(event)
				return
			}
		}
	}
}
