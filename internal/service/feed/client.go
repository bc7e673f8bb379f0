package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"FinFuse/internal/domain/models"
	drepo "FinFuse/internal/domain/repository"
	"FinFuse/pkg/logger"

	"github.com/gorilla/websocket"
)

// Config describes the upstream signal feed.
type Config struct {
	URL            string
	Token          string
	Symbols        []string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	BufferSize     int
}

// Client implements SignalFeed over a websocket. The upstream pushes frames
// of the form {"type":"signal","data":[...]} after a per-symbol subscribe.
type Client struct {
	cfg    Config
	logger *logger.Logger
	dialer *websocket.Dialer

	mu        sync.Mutex // guards conn and serializes writes
	conn      *websocket.Conn
	connected bool
}

// New creates a feed client.
func New(cfg Config, lgr *logger.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	return &Client{
		cfg:    cfg,
		logger: lgr.With(logger.String("component", "feed")),
		dialer: websocket.DefaultDialer,
	}
}

var _ drepo.SignalFeed = (*Client)(nil)

// Connect dials the feed and subscribes to the configured symbols.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("feed url: %w", err)
	}
	if c.cfg.Token != "" {
		q := u.Query()
		q.Set("token", c.cfg.Token)
		u.RawQuery = q.Encode()
	}
	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.logger.Info("feed connected", logger.String("url", c.cfg.URL))

	for _, s := range c.cfg.Symbols {
		if err := c.writeJSON(map[string]string{"type": "subscribe", "symbol": s}); err != nil {
			_ = c.Close()
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		c.logger.Debug("feed subscribed", logger.String("symbol", s))
	}
	return nil
}

func (c *Client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("feed not connected")
	}
	return c.conn.WriteJSON(v)
}

func (c *Client) ping() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
	}
}

type frame struct {
	Type string                       `json:"type"`
	Data []models.SubmitSignalRequest `json:"data"`
}

// Read streams signals from the current connection until it fails or ctx
// ends. After a failure call Reconnect and Read again.
func (c *Client) Read(ctx context.Context) (<-chan *models.SubmitSignalRequest, <-chan error) {
	out := make(chan *models.SubmitSignalRequest, c.cfg.BufferSize)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	readCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(c.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-readCtx.Done():
				return
			case <-ticker.C:
				c.ping()
			}
		}
	}()

	go func() {
		defer cancel()
		defer close(out)
		defer close(errs)
		if conn == nil {
			errs <- errors.New("feed not connected")
			return
		}
		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if readCtx.Err() == nil {
					errs <- fmt.Errorf("feed read: %w", err)
				}
				return
			}
			var f frame
			if err := json.Unmarshal(b, &f); err != nil || f.Type != "signal" {
				continue
			}
			for i := range f.Data {
				req := f.Data[i]
				select {
				case out <- &req:
				case <-readCtx.Done():
					return
				default:
					c.logger.Warn("feed buffer full, dropping signal", logger.String("symbol", req.Symbol))
				}
			}
		}
	}()

	// Unblock ReadMessage when ctx ends.
	go func() {
		<-readCtx.Done()
		if conn != nil && ctx.Err() != nil {
			_ = conn.Close()
		}
	}()

	return out, errs
}

// Reconnect closes, waits the reconnect delay and connects again.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-time.After(c.cfg.ReconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.Connect(ctx)
}

// Close closes the websocket connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
