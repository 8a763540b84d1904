package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/ports"
	apperrors "spacecast/pkg/errors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options tunes the connection keepalive.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
}

func DefaultOptions() Options {
	return Options{
		PingInterval: 30 * time.Second,
		ReadTimeout:  90 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Client is the control-channel connection of one broadcast.
type Client struct {
	params ports.ControlParams
	opts   Options
	logger *zap.SugaredLogger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex
	events  chan domain.Event
	done    chan struct{}
}

func New(params ports.ControlParams, opts Options, logger *zap.Logger) *Client {
	d := DefaultOptions()
	if opts.PingInterval <= 0 {
		opts.PingInterval = d.PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = d.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = d.WriteTimeout
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	return &Client{
		params: params,
		opts:   opts,
		logger: logger.Sugar().With("component", "chat", "room_id", params.RoomID),
		events: make(chan domain.Event, 64),
		done:   make(chan struct{}),
	}
}

// NewFactory adapts New to the orchestrator's factory signature.
func NewFactory(opts Options, logger *zap.Logger) ports.ControlFactory {
	return func(params ports.ControlParams) ports.ControlChannel {
		return New(params, opts, logger)
	}
}

// Events is closed once the connection ends.
func (c *Client) Events() <-chan domain.Event {
	return c.events
}

// websocketURL derives the chatnow endpoint from the chat server address.
func websocketURL(endpoint string) string {
	u := strings.TrimRight(endpoint, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	if !strings.HasSuffix(u, "/chatapi/v1/chatnow") {
		u += "/chatapi/v1/chatnow"
	}
	return u
}

// Connect dials the endpoint, authenticates and joins the room.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return apperrors.NewPreconditionError(domain.ErrClientStopped, "control channel disconnected")
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Origin", "https://x.com")

	url := websocketURL(c.params.Endpoint)
	conn, resp, err := c.opts.Dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return apperrors.WrapTransportError(err, fmt.Sprintf("dial control channel (status %d)", resp.StatusCode))
		}
		return apperrors.WrapTransportError(err, "dial control channel")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return apperrors.NewPreconditionError(domain.ErrClientStopped, "control channel disconnected")
	}
	c.conn = conn
	c.mu.Unlock()

	if err := c.send(authFrame(c.params.AccessToken)); err != nil {
		c.dropConn(conn)
		return fmt.Errorf("send auth frame: %w", err)
	}
	if err := c.send(joinFrame(c.params.RoomID)); err != nil {
		c.dropConn(conn)
		return fmt.Errorf("send join frame: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
		return nil
	})

	go c.readLoop(conn)
	go c.pingLoop(conn)

	c.logger.Infow("control channel connected", "url", url)
	return nil
}

// dropConn forgets a connection that failed before the room was joined, so
// a later Connect dials again.
func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.events)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			reason := err.Error()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				reason = "closed"
			}
			c.logger.Infow("control channel closed", "reason", reason)
			c.deliver(domain.ChatDisconnected{Reason: reason})
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		for _, ev := range decodeMessage(data) {
			if !c.deliver(ev) {
				return
			}
		}
	}
}

// deliver blocks until the consumer takes ev or Disconnect is called.
func (c *Client) deliver(ev domain.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		// Still try to hand over the final notice if there is room.
		if _, final := ev.(domain.ChatDisconnected); final {
			select {
			case c.events <- ev:
			default:
			}
		}
		return false
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debugw("control channel ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) send(f frame) error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if conn == nil || closed {
		return nil
	}

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return apperrors.WrapTransportError(err, "write control frame")
	}
	return nil
}

// ReactWithEmoji sends a reaction. It is a no-op once disconnected.
func (c *Client) ReactWithEmoji(emoji string) error {
	return c.send(reactionFrame(c.params.RoomID, emoji))
}

// Disconnect closes the connection. Later sends are no-ops.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	conn := c.conn
	close(c.done)
	c.mu.Unlock()

	if conn == nil {
		return
	}

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.opts.WriteTimeout))
	c.writeMu.Unlock()
	conn.Close()
}
