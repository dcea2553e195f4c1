// Package janus is a minimal client for the Janus WebRTC gateway's
// WebSocket API. It only manages sessions and plugin handles; media never
// passes through this service.
package janus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/smallbiznis/walue/internal/config"
	"github.com/smallbiznis/walue/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrGateway wraps every failure talking to Janus.
var ErrGateway = errors.New("janus_gateway_error")

const subprotocol = "janus-protocol"

// Gateway opens and releases plugin handles for a call.
type Gateway interface {
	Open(ctx context.Context) (Handle, error)
	Release(ctx context.Context, h Handle) error
}

// Handle identifies a Janus session and the plugin handle attached to it.
type Handle struct {
	SessionID int64 `json:"janus_session_id"`
	HandleID  int64 `json:"janus_handle_id"`
}

type request struct {
	Janus       string `json:"janus"`
	Transaction string `json:"transaction"`
	SessionID   int64  `json:"session_id,omitempty"`
	HandleID    int64  `json:"handle_id,omitempty"`
	Plugin      string `json:"plugin,omitempty"`
}

type response struct {
	Janus       string `json:"janus"`
	Transaction string `json:"transaction"`
	Data        struct {
		ID int64 `json:"id"`
	} `json:"data"`
	Error *struct {
		Code   int    `json:"code"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle `optional:"true"`
	Config    config.Config
	Log       *zap.Logger
	Metrics   *metrics.Metrics `optional:"true"`
}

// Client keeps one WebSocket to Janus and multiplexes requests over it by
// transaction id. The connection is dialled lazily and redialled after a
// read failure.
type Client struct {
	url     string
	plugin  string
	timeout time.Duration
	log     *zap.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan response

	writeMu sync.Mutex
}

func NewClient(p Params) *Client {
	timeout := p.Config.Janus.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		url:     p.Config.Janus.URL,
		plugin:  p.Config.Janus.PluginName,
		timeout: timeout,
		log:     p.Log.Named("providers.janus"),
		metrics: p.Metrics,
		pending: make(map[string]chan response),
	}
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return c.Close()
			},
		})
	}
	return c
}

// Open creates a session and attaches the configured plugin. A session
// whose attach fails is destroyed before returning.
func (c *Client) Open(ctx context.Context) (Handle, error) {
	session, err := c.call(ctx, request{Janus: "create"})
	if err != nil {
		return Handle{}, err
	}
	handle, err := c.call(ctx, request{Janus: "attach", SessionID: session.Data.ID, Plugin: c.plugin})
	if err != nil {
		if _, derr := c.call(ctx, request{Janus: "destroy", SessionID: session.Data.ID}); derr != nil {
			c.log.Warn("janus session cleanup failed", zap.Int64("session_id", session.Data.ID), zap.Error(derr))
		}
		return Handle{}, err
	}
	return Handle{SessionID: session.Data.ID, HandleID: handle.Data.ID}, nil
}

// Release detaches the plugin handle and destroys the session. Both steps
// are attempted; their errors are joined.
func (c *Client) Release(ctx context.Context, h Handle) error {
	var errs []error
	if h.HandleID != 0 {
		if _, err := c.call(ctx, request{Janus: "detach", SessionID: h.SessionID, HandleID: h.HandleID}); err != nil {
			errs = append(errs, err)
		}
	}
	if _, err := c.call(ctx, request{Janus: "destroy", SessionID: h.SessionID}); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

var _ Gateway = (*Client)(nil)

func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) call(ctx context.Context, req request) (response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req.Transaction = uuid.NewString()
	resp, err := c.roundTrip(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.RecordProviderRequest(ctx, "janus", req.Janus, outcome)
	return resp, err
}

func (c *Client) roundTrip(ctx context.Context, req request) (response, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return response{}, err
	}

	ch := make(chan response, 1)
	c.mu.Lock()
	c.pending[req.Transaction] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.Transaction)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, conn, req); err != nil {
		c.drop(conn)
		return response{}, fmt.Errorf("%w: %s: %v", ErrGateway, req.Janus, err)
	}

	select {
	case resp := <-ch:
		if resp.Janus == "error" {
			reason := "unknown"
			if resp.Error != nil {
				reason = resp.Error.Reason
			}
			return response{}, fmt.Errorf("%w: %s: %s", ErrGateway, req.Janus, reason)
		}
		return resp, nil
	case <-ctx.Done():
		return response{}, fmt.Errorf("%w: %s: %v", ErrGateway, req.Janus, ctx.Err())
	}
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.timeout,
		Subprotocols:     []string{subprotocol},
	}
	conn, _, err := dialer.DialContext(ctx, c.url, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrGateway, err)
	}
	c.conn = conn
	go c.readLoop(conn)
	c.log.Info("connected to janus")
	return conn, nil
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, req request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.drop(conn)
			c.log.Debug("janus read loop stopped", zap.Error(err))
			return
		}

		var resp response
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.log.Warn("janus sent invalid json", zap.Error(err))
			continue
		}
		// Acks precede asynchronous plugin events; sync requests answer
		// with success or error directly.
		if resp.Janus == "ack" || resp.Transaction == "" {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.Transaction]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- resp:
			default:
			}
		}
	}
}

// drop forgets conn so the next call redials.
func (c *Client) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}
