// Package flealive maintains a long-lived session against a marketplace
// messaging gateway. It connects over WebSocket, registers with a rotating
// credential, keeps the connection alive with heartbeats, and routes
// decrypted push frames into the conversation dispatcher.
package flealive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/flealive/flealive/codec"
	"github.com/flealive/flealive/dispatch"
	"github.com/flealive/flealive/heartbeat"
	"github.com/flealive/flealive/item"
	"github.com/flealive/flealive/reply"
	"github.com/flealive/flealive/store"
	"github.com/flealive/flealive/takeover"
	"github.com/flealive/flealive/token"
	"github.com/flealive/flealive/wire"
)

var (
	// ErrStaleSocket is returned when a send is bound to a socket
	// generation that has since been replaced by a reconnect.
	ErrStaleSocket = errors.New("flealive: socket generation replaced")
	// ErrNotConnected is returned for sends attempted with no live socket.
	ErrNotConnected = errors.New("flealive: not connected")
)

// State is the connection lifecycle phase.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateRegistering
	StateActive
	StateClosing
)

var stateNames = map[State]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateRegistering:  "registering",
	StateActive:       "active",
	StateClosing:      "closing",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Collaborators are the external services the session depends on. All
// fields are required except Notifier, which may be a no-op webhook.
type Collaborators struct {
	Tokens   token.Source
	Items    item.Fetcher
	Store    store.Store
	Engine   reply.Engine
	Notifier dispatch.Notifier
}

// Client owns the session: socket, registration, heartbeat, credential
// rotation and the receive loop. One Client maintains at most one live
// connection at a time and reconnects indefinitely.
type Client struct {
	cfg        Config
	codec      *codec.Codec
	refresher  *token.Refresher
	dispatcher *dispatch.Dispatcher
	mids       *wire.MidGen

	state   atomic.Int32
	gen     atomic.Uint64
	planned atomic.Bool

	connMu  sync.Mutex // guards conn
	writeMu sync.Mutex // serializes socket writes
	conn    net.Conn
}

// New builds a client from its configuration and collaborators. The
// connection is not opened until Run is called.
func New(cfg Config, deps Collaborators) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Endpoint == "" {
		return nil, errors.New("flealive: endpoint required")
	}
	if cfg.UserID == "" {
		return nil, errors.New("flealive: user id required")
	}

	cdc, err := codec.New(cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("secret key: %w", err)
	}

	c := &Client{
		cfg:       cfg,
		codec:     cdc,
		refresher: token.NewRefresher(deps.Tokens, cfg.DeviceID, cfg.TokenRefreshInterval, cfg.TokenRetryInterval),
		mids:      wire.NewMidGen(),
	}
	c.dispatcher = dispatch.New(dispatch.Config{
		OwnUserID:      cfg.UserID,
		TogglePhrases:  cfg.TogglePhrases,
		ExpireWindow:   cfg.MessageExpire,
		Workers:        cfg.Workers,
		ProfileURLBase: cfg.ProfileURLBase,
	}, takeover.NewRegistry(cfg.TakeoverTTL), item.NewCache(deps.Items), deps.Store, deps.Engine, deps.Notifier, c)
	return c, nil
}

// State reports the current lifecycle phase.
func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) { c.state.Store(int32(s)) }

// Generation returns the current socket generation. It increments on
// every successful (re)connect; replies carry the generation they were
// born on and are discarded if it no longer matches.
func (c *Client) Generation() uint64 { return c.gen.Load() }

// SendChat delivers a text reply on the current socket. gen must be the
// generation the reply originated on.
func (c *Client) SendChat(gen uint64, conversationID, toUserID, text string) error {
	if gen != c.gen.Load() {
		return ErrStaleSocket
	}
	return c.send(wire.ChatSend(c.mids.Next(), conversationID, toUserID, c.cfg.UserID, text))
}

// Run connects and serves the session until ctx is cancelled. Connection
// loss reconnects after ReconnectDelay; a credential-rotation restart
// reconnects immediately.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			c.dispatcher.Wait(5 * time.Second)
			return ctx.Err()
		}
		if c.planned.Load() {
			slog.Info("planned restart, reconnecting")
			continue
		}
		if err != nil {
			slog.Warn("connection lost", "error", err, "retry_in", c.cfg.ReconnectDelay)
		}
		select {
		case <-time.After(c.cfg.ReconnectDelay):
		case <-ctx.Done():
			c.dispatcher.Wait(5 * time.Second)
			return ctx.Err()
		}
	}
}

// runOnce performs one full connection cycle: dial, register, serve the
// receive loop, tear down.
func (c *Client) runOnce(ctx context.Context) error {
	// A rotation restart covers exactly this one attempt; if it fails,
	// the next reconnect falls back to the regular backoff.
	c.planned.Store(false)
	c.setState(StateConnecting)
	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("dial: %w", err)
	}

	c.setState(StateRegistering)
	if err := c.register(ctx, conn); err != nil {
		conn.Close()
		c.setState(StateDisconnected)
		return fmt.Errorf("register: %w", err)
	}

	c.installConn(conn)
	c.setState(StateActive)
	slog.Info("session active", "endpoint", c.cfg.Endpoint, "generation", c.gen.Load())

	connCtx, cancel := context.WithCancel(ctx)
	hb := heartbeat.NewMonitor(c.cfg.HeartbeatInterval, c.cfg.HeartbeatTimeout)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		// Unblocks the read loop on teardown; Close is idempotent.
		defer wg.Done()
		<-connCtx.Done()
		conn.Close()
	}()
	go func() {
		defer wg.Done()
		if err := hb.Run(connCtx, c.send); errors.Is(err, heartbeat.ErrExpired) {
			slog.Warn("heartbeat expired, closing connection")
			conn.Close()
		}
	}()
	go func() {
		defer wg.Done()
		err := c.refresher.Run(connCtx, func() {
			slog.Info("credential rotated, restarting connection")
			c.planned.Store(true)
			conn.Close()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("credential refresher stopped", "error", err)
		}
	}()

	// Workers spawned by the dispatcher get the run context, not the
	// connection context: an in-flight reply survives a reconnect and is
	// discarded by the generation check instead of being cancelled.
	err = c.readLoop(ctx, conn, hb)

	c.setState(StateClosing)
	cancel()
	conn.Close()
	wg.Wait()

	c.connMu.Lock()
	c.conn = nil
	c.connMu.Unlock()
	c.setState(StateDisconnected)
	return err
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	hdr := http.Header{}
	if c.cfg.Cookie != "" {
		hdr.Set("Cookie", c.cfg.Cookie)
	}
	d := ws.Dialer{
		Header:  ws.HandshakeHeaderHTTP(hdr),
		Timeout: 10 * time.Second,
	}
	conn, _, _, err := d.Dial(ctx, c.cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// register obtains a fresh credential if needed, sends the registration
// frame and, after the gateway settles, the sync acknowledgement.
func (c *Client) register(ctx context.Context, conn net.Conn) error {
	cred, err := c.refresher.EnsureFresh(ctx)
	if err != nil {
		return fmt.Errorf("issue credential: %w", err)
	}

	reg := wire.Register(c.cfg.AppKey, cred.Token, c.cfg.DeviceID, c.mids.Next())
	if err := writeEnvelope(conn, reg); err != nil {
		return fmt.Errorf("send register: %w", err)
	}

	// The gateway needs a moment to set up the sync stream before it
	// accepts the ack-diff frame.
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := writeEnvelope(conn, wire.SyncAck(c.mids.Next(), time.Now())); err != nil {
		return fmt.Errorf("send sync ack: %w", err)
	}
	return nil
}

// readLoop consumes frames in arrival order: ack first, then classify
// and route. Decode and decrypt failures drop the frame and continue.
func (c *Client) readLoop(ctx context.Context, conn net.Conn, hb *heartbeat.Monitor) error {
	dedup := wire.NewDedupWindow()
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			if c.planned.Load() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		env, err := wire.Decode(data)
		if err != nil {
			slog.Debug("bad frame", "error", err)
			continue
		}
		if mid := env.Mid(); mid != "" && dedup.IsDuplicate(mid) {
			slog.Debug("duplicate frame dropped", "mid", mid)
			continue
		}
		if env.NeedsAck() {
			if err := c.send(wire.Ack(env)); err != nil {
				slog.Warn("ack failed", "mid", env.Mid(), "error", err)
			}
		}

		ev, err := c.codec.Classify(env)
		if err != nil {
			slog.Warn("payload dropped", "path", env.LWP, "error", err)
			continue
		}
		if ev.Kind == codec.KindHeartbeatAck {
			hb.Ack(env.Mid())
			continue
		}
		c.dispatcher.HandleEvent(ctx, ev)

		if c.planned.Load() {
			return nil
		}
	}
}

// installConn publishes a freshly registered socket. The generation bumps
// before the socket becomes visible, so a reply worker from the previous
// connection can never pass the staleness check against the new one.
func (c *Client) installConn(conn net.Conn) {
	c.gen.Add(1)
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

// send encodes and writes one frame on the current socket. Writes are
// serialized; the heartbeat loop and reply workers share this path.
func (c *Client) send(env *wire.Envelope) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeEnvelope(conn, env)
}

func writeEnvelope(conn net.Conn, env *wire.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	return wsutil.WriteClientText(conn, data)
}
