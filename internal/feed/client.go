package feed

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"pumpwatch/internal/domain"
)

// Config configures feed client behavior.
type Config struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// SubscribeRate caps outgoing subscribe/unsubscribe commands per second.
	SubscribeRate rate.Limit
	// SubscribeBurst is the rate limiter's burst allowance.
	SubscribeBurst int
}

// DefaultConfig returns default feed configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeRate:     20,
		SubscribeBurst:    40,
	}
}

// command is a pumpportal control frame.
type command struct {
	Method string   `json:"method"`
	Keys   []string `json:"keys,omitempty"`
}

// Client maintains the upstream pumpportal connection. It subscribes to the
// new-token stream on connect, issues per-mint trade subscriptions on
// demand, and reconnects with exponential backoff. Decoded events are
// delivered on the Events channel; sends block rather than drop.
type Client struct {
	endpoint string
	config   Config
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	events  chan domain.Event
	limiter *rate.Limiter

	onReconnect   func()
	onReconnectMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// Dial connects to the feed, subscribes to the new-token stream, and starts
// the reader and ping goroutines.
func Dial(ctx context.Context, endpoint string, config *Config, logger *log.Logger) (*Client, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	if logger == nil {
		logger = log.Default()
	}

	c := &Client{
		endpoint: endpoint,
		config:   cfg,
		logger:   logger,
		events:   make(chan domain.Event, 10000),
		limiter:  rate.NewLimiter(cfg.SubscribeRate, cfg.SubscribeBurst),
		done:     make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	if err := c.writeCommand("subscribeNewToken", nil); err != nil {
		c.conn.Close()
		return nil, fmt.Errorf("subscribe new tokens: %w", err)
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// Events returns the decoded event stream. The channel closes on Close.
func (c *Client) Events() <-chan domain.Event {
	return c.events
}

// OnReconnect registers a hook invoked after each successful reconnect,
// once the new-token subscription is re-established. Callers use it to
// re-issue per-mint trade subscriptions.
func (c *Client) OnReconnect(fn func()) {
	c.onReconnectMu.Lock()
	c.onReconnect = fn
	c.onReconnectMu.Unlock()
}

// connect establishes the WebSocket connection.
func (c *Client) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// SubscribeTokenTrades subscribes to the trade stream for one mint and
// returns the matching unsubscribe handle. Both directions are rate-limited
// fire-and-forget commands.
func (c *Client) SubscribeTokenTrades(mint string) (func() error, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("client closed")
	}

	if err := c.limiter.Wait(context.Background()); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	if err := c.writeCommand("subscribeTokenTrade", []string{mint}); err != nil {
		return nil, fmt.Errorf("subscribe trades %s: %w", mint, err)
	}

	unsub := func() error {
		if c.closed.Load() {
			// Connection teardown already cancels every subscription.
			return nil
		}
		if err := c.limiter.Wait(context.Background()); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
		if err := c.writeCommand("unsubscribeTokenTrade", []string{mint}); err != nil {
			return fmt.Errorf("unsubscribe trades %s: %w", mint, err)
		}
		return nil
	}
	return unsub, nil
}

// writeCommand sends one control frame under the connection lock.
func (c *Client) writeCommand(method string, keys []string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(command{Method: method, Keys: keys}); err != nil {
		return fmt.Errorf("write %s: %w", method, err)
	}
	return nil
}

// Close closes the connection and the event channel.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	close(c.events)
	return nil
}

// readLoop reads frames, decodes them, and delivers events. Read errors
// trigger a reconnect with exponential backoff.
func (c *Client) readLoop() {
	defer c.wg.Done()

	reconnectDelay := c.config.ReconnectDelay

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				c.logger.Printf("read: %v, reconnecting in %s", err, reconnectDelay)
				go c.reconnect(reconnectDelay)
			}

			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = c.config.ReconnectDelay

		// Block until delivered - never drop events
		select {
		case c.events <- Decode(message):
		case <-c.done:
			return
		}
	}
}

// reconnect re-dials, restores the new-token subscription, and fires the
// reconnect hook.
func (c *Client) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// Reconnect failed, will retry on next read error
		c.logger.Printf("reconnect: %v", err)
		return
	}

	if err := c.writeCommand("subscribeNewToken", nil); err != nil {
		c.logger.Printf("resubscribe new tokens: %v", err)
		return
	}

	c.logger.Printf("reconnected to %s", c.endpoint)

	c.onReconnectMu.Lock()
	fn := c.onReconnect
	c.onReconnectMu.Unlock()
	if fn != nil {
		fn()
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			c.connMu.Unlock()
		}
	}
}
