package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/remotetouch/internal/ble/protocol"
	"github.com/chaz8081/remotetouch/internal/metrics"
)

// ErrClosed is returned by Send and Connect after Close.
var ErrClosed = errors.New("ble: client closed")

// ClientOptions configures the BLE client behavior.
type ClientOptions struct {
	QueueSize            int           // max queued commands during disconnect
	ReconnectBase        time.Duration // first reconnect backoff (default 1s)
	ReconnectMax         time.Duration // backoff cap (default 30s)
	AutoReconnect        bool
	MaxReconnectAttempts int // 0 = unlimited

	// OnStatus receives decoded status notifications.
	OnStatus func(protocol.Status)
	// OnCommand receives raw command notifications from the server.
	OnCommand func(raw []byte)
}

// DefaultClientOptions returns sensible defaults.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		QueueSize:            64,
		ReconnectBase:        time.Second,
		ReconnectMax:         30 * time.Second,
		AutoReconnect:        true,
		MaxReconnectAttempts: 10,
	}
}

// Client drives a RemoteTouch server from the central role.
type Client struct {
	adapter Adapter
	address string
	opts    ClientOptions

	mu          sync.Mutex
	conn        Connection
	commandChar Characteristic
	connected   bool
	closed      bool

	queue [][]byte

	reconnecting atomic.Bool
	done         chan struct{}
}

// NewClient creates a client for the server at address.
func NewClient(adapter Adapter, address string, opts ClientOptions) *Client {
	def := DefaultClientOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = def.ReconnectBase
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = def.ReconnectMax
	}
	return &Client{
		adapter: adapter,
		address: address,
		opts:    opts,
		done:    make(chan struct{}),
	}
}

// Send encodes and writes a command. While disconnected the command is
// queued for delivery on reconnect. Safe for concurrent use.
func (c *Client) Send(cmd protocol.Command) error {
	data, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.connected {
		c.enqueue(data)
		c.mu.Unlock()
		return nil
	}
	char := c.commandChar
	c.mu.Unlock()

	if err := char.Write(data); err != nil {
		return fmt.Errorf("ble: write %s: %w", cmd.Type(), err)
	}
	return nil
}

// enqueue adds a payload to the send queue (caller must hold mu).
func (c *Client) enqueue(data []byte) {
	if len(c.queue) >= c.opts.QueueSize {
		// Drop oldest
		slog.Warn("[BLE] queue full, dropping oldest command")
		c.queue = c.queue[1:]
	}
	c.queue = append(c.queue, data)
	metrics.ClientQueueDepth.Set(float64(len(c.queue)))
}

// QueueLen returns the number of queued commands.
func (c *Client) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Connected reports whether the client currently holds a link.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// setConnected discovers the service characteristics on conn and
// subscribes to status and command notifications.
func (c *Client) setConnected(conn Connection) error {
	commandChar, err := conn.DiscoverCharacteristic(ServiceUUID, CommandCharUUID)
	if err != nil {
		return fmt.Errorf("ble: discover command characteristic: %w", err)
	}
	statusChar, err := conn.DiscoverCharacteristic(ServiceUUID, StatusCharUUID)
	if err != nil {
		return fmt.Errorf("ble: discover status characteristic: %w", err)
	}

	if err := statusChar.Subscribe(c.handleStatus); err != nil {
		return fmt.Errorf("ble: subscribe to status: %w", err)
	}
	// Older servers do not notify on the command characteristic.
	if err := commandChar.Subscribe(c.handleCommand); err != nil {
		slog.Debug("[BLE] command notifications unavailable", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
	c.commandChar = commandChar
	c.connected = true
	return nil
}

func (c *Client) handleStatus(data []byte) {
	st, err := protocol.DecodeStatus(data)
	if err != nil {
		slog.Debug("[BLE] dropping malformed status", "error", err)
		return
	}
	slog.Debug("[BLE] status", "battery", st.BatteryLevel, "quality", st.ConnectionQuality)
	if c.opts.OnStatus != nil {
		c.opts.OnStatus(st)
	}
}

func (c *Client) handleCommand(data []byte) {
	if c.opts.OnCommand != nil {
		c.opts.OnCommand(data)
	}
}

// setDisconnected marks the client as disconnected.
func (c *Client) setDisconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.conn = nil
	c.commandChar = nil
}

// flushQueue sends all queued commands. Call after reconnection. Commands
// that fail to send are logged and dropped: a stale cursor move is worth
// less than the next one.
func (c *Client) flushQueue() {
	c.mu.Lock()
	if !c.connected || len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	queued := c.queue
	c.queue = nil
	char := c.commandChar
	c.mu.Unlock()
	metrics.ClientQueueDepth.Set(0)

	for _, data := range queued {
		if err := char.Write(data); err != nil {
			slog.Error("[BLE] failed to flush queued command", "error", err)
		}
	}
}

// Close disconnects and stops any reconnect loop.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	if len(c.queue) > 0 {
		slog.Warn("[BLE] closing with unsent commands", "count", len(c.queue))
	}
	conn := c.conn
	c.connected = false
	c.mu.Unlock()

	// The stack may fire the disconnect handler synchronously.
	if conn != nil {
		return conn.Disconnect()
	}
	return nil
}

// backoffDelay returns the reconnection delay for attempt n: base doubled
// per attempt and capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt >= 30 {
		return max
	}
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		return max
	}
	return delay
}

// Connect establishes the initial connection to the server.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	conn, err := c.adapter.Connect(ctx, c.address)
	if err != nil {
		return fmt.Errorf("ble: connect to %s: %w", c.address, err)
	}

	if err := c.setConnected(conn); err != nil {
		_ = conn.Disconnect()
		return fmt.Errorf("ble: set connected: %w", err)
	}
	c.watch(conn)

	slog.Info("[BLE] connected", "address", c.address)
	c.flushQueue()
	return nil
}

// watch registers the disconnect handler that starts reconnection.
func (c *Client) watch(conn Connection) {
	conn.OnDisconnect(func() {
		c.setDisconnected()
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed || !c.opts.AutoReconnect {
			slog.Warn("[BLE] disconnected", "address", c.address)
			return
		}
		if !c.reconnecting.CompareAndSwap(false, true) {
			return
		}
		slog.Warn("[BLE] disconnected, reconnecting...", "address", c.address)
		go c.reconnectLoop()
	})
}

// reconnectLoop attempts to reconnect with exponential backoff until it
// succeeds, the client is closed, or MaxReconnectAttempts is reached.
func (c *Client) reconnectLoop() {
	defer c.reconnecting.Store(false)

	for attempt := 0; c.opts.MaxReconnectAttempts == 0 || attempt < c.opts.MaxReconnectAttempts; attempt++ {
		// On the first attempt, try immediately; subsequent attempts use backoff.
		if attempt > 0 {
			delay := backoffDelay(attempt-1, c.opts.ReconnectBase, c.opts.ReconnectMax)
			slog.Info("[BLE] reconnect backoff", "attempt", attempt+1, "delay", delay)
			select {
			case <-c.done:
				return
			case <-time.After(delay):
			}
		}
		select {
		case <-c.done:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ReconnectMax)
		conn, err := c.adapter.Connect(ctx, c.address)
		cancel()
		if err != nil {
			slog.Warn("[BLE] reconnect failed", "error", err, "attempt", attempt+1)
			metrics.ReconnectAttemptsTotal.WithLabelValues("error").Inc()
			continue
		}

		if err := c.setConnected(conn); err != nil {
			slog.Warn("[BLE] reconnect set connected failed", "error", err, "attempt", attempt+1)
			metrics.ReconnectAttemptsTotal.WithLabelValues("error").Inc()
			_ = conn.Disconnect()
			continue
		}

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			_ = conn.Disconnect()
			return
		}

		metrics.ReconnectAttemptsTotal.WithLabelValues("ok").Inc()
		slog.Info("[BLE] reconnected", "address", c.address)
		c.reconnecting.Store(false)
		c.watch(conn)
		c.flushQueue()
		return
	}
	slog.Error("[BLE] giving up reconnecting", "address", c.address, "attempts", c.opts.MaxReconnectAttempts)
}
