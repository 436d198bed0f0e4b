package viewer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sudorandom/traffic-globe/pkg/scene"
	"github.com/sudorandom/traffic-globe/pkg/wire"
)

const (
	writeWait     = 10 * time.Second
	commandQueue  = 16
	maxReadMsgLen = 16 << 20
)

// Client keeps the scene in sync with a traffic server and carries commands back to it.
type Client struct {
	url      string
	scene    *scene.Scene
	dialer   *websocket.Dialer
	commands chan []byte
	logger   *zap.Logger
}

func NewClient(url string, sc *scene.Scene, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		url:      url,
		scene:    sc,
		dialer:   websocket.DefaultDialer,
		commands: make(chan []byte, commandQueue),
		logger:   logger.Named("client"),
	}
}

// Send queues a command for the server. Commands issued while disconnected or faster than
// the connection drains them are dropped.
func (c *Client) Send(cmd string, data any) {
	b, err := wire.Encode(cmd, data)
	if err != nil {
		c.logger.Error("encoding command", zap.String("command", cmd), zap.Error(err))
		return
	}
	select {
	case c.commands <- b:
	default:
		c.logger.Warn("command queue full, dropping", zap.String("command", cmd))
	}
}

// Run connects and reconnects until ctx is done. Every new connection starts with a
// snapshot, so the scene is rebuilt from scratch after a reconnect.
func (c *Client) Run(ctx context.Context) error {
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	err := r.Do(func() error {
		err := c.session(ctx)
		if ctx.Err() != nil {
			return retry.Unrecoverable(ctx.Err())
		}
		c.logger.Warn("connection lost, reconnecting", zap.String("url", c.url), zap.Error(err))
		return err
	})
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (c *Client) session(ctx context.Context) error {
	c.logger.Info("connecting", zap.String("url", c.url))
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()
	conn.SetReadLimit(maxReadMsgLen)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sessionCtx, func() { conn.Close() })
	defer stop()

	go c.writeLoop(sessionCtx, conn)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := c.scene.Apply(msg, time.Now()); err != nil {
			c.logger.Debug("skipping message", zap.Error(err))
		}
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-c.commands:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				c.logger.Warn("sending command", zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}
