package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/astromechza/menuroom/pkg/errs"
	"github.com/astromechza/menuroom/pkg/presence"
	"github.com/astromechza/menuroom/pkg/shareddoc"
)

const (
	// PasswordHeader carries the room password on the sync upgrade request.
	PasswordHeader = "X-Room-Password"
	syncInterval   = time.Second
)

// Client connects documents to a Relay over websockets.
type Client struct {
	baseURL *url.URL
	dialer  *websocket.Dialer
	// NewBackOff builds the reconnect schedule for each connection.
	NewBackOff func() backoff.BackOff
}

func NewClient(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errs.Invalid("server", fmt.Sprintf("failed to parse url: %v", err))
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, errs.Invalid("server", "unsupported scheme "+u.Scheme)
	}
	return &Client{
		baseURL: u,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		NewBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.MaxElapsedTime = 0
			return b
		},
	}, nil
}

func (c *Client) Connect(ctx context.Context, roomID string, doc *shareddoc.Document, opts Options) (Conn, error) {
	if strings.TrimSpace(roomID) == "" {
		return nil, errs.Invalid("room", "id must not be empty")
	}
	if opts.PeerID == "" {
		return nil, errs.Invalid("peer", "id must not be empty")
	}
	u := c.baseURL.JoinPath("rooms", roomID, "sync")
	q := u.Query()
	q.Set("peer", opts.PeerID)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithCancel(ctx)
	cc := &clientConn{
		client:   c,
		url:      u.String(),
		doc:      doc,
		opts:     opts,
		events:   newEmitter(),
		outbound: make(chan presence.State, 1),
		cancel:   cancel,
	}
	cc.aw = newAwareness(opts.PeerID, cc.queueState)
	if len(opts.ICEServers) > 0 {
		slog.DebugContext(ctx, "relay transport ignores ice servers", "servers", opts.ICEServers)
	}
	cc.wg.Add(1)
	go func() {
		defer cc.wg.Done()
		defer close(cc.events.ch)
		cc.run(ctx)
	}()
	return cc, nil
}

type clientConn struct {
	client *Client
	url    string
	doc    *shareddoc.Document
	opts   Options
	events *emitter
	aw     *awareness
	// outbound holds the latest unsent local awareness state.
	outbound chan presence.State

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (c *clientConn) Events() <-chan Event {
	return c.events.ch
}

func (c *clientConn) Awareness() presence.Channel {
	return c.aw
}

func (c *clientConn) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.wg.Wait()
	})
	return nil
}

func (c *clientConn) queueState(s presence.State) {
	for {
		select {
		case c.outbound <- s:
			return
		default:
		}
		select {
		case <-c.outbound:
		default:
		}
	}
}

// run keeps a session open until ctx is done, reconnecting with backoff after each failure.
func (c *clientConn) run(ctx context.Context) {
	b := c.client.NewBackOff()
	for {
		conn, err := c.dial(ctx)
		if err == nil {
			b.Reset()
			c.events.status(true)
			if err := c.session(ctx, conn); err != nil && ctx.Err() == nil {
				slog.WarnContext(ctx, "sync session ended", "url", c.url, "err", err)
			}
			c.events.status(false)
			c.aw.reset()
		} else if ctx.Err() == nil {
			slog.DebugContext(ctx, "failed to connect to relay", "url", c.url, "err", err)
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			return
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (c *clientConn) dial(ctx context.Context) (*websocket.Conn, error) {
	h := http.Header{}
	if c.opts.Password != "" {
		h.Set(PasswordHeader, c.opts.Password)
	}
	conn, resp, err := c.client.dialer.DialContext(ctx, c.url, h)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errs.Network("dial relay", err)
	}
	return conn, nil
}

// session runs one websocket connection: a reader goroutine feeding the sync state and a
// writer loop that is the only goroutine writing to conn.
func (c *clientConn) session(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()
	l := newLink(c.doc)
	nudge := make(chan struct{}, 1)
	poke := func() {
		select {
		case nudge <- struct{}{}:
		default:
		}
	}
	stopWatch := c.doc.OnChange(func(shareddoc.Change) { poke() })
	defer stopWatch()

	readErr := make(chan error, 1)
	go func() {
		readErr <- c.read(conn, l, poke)
	}()

	if s := c.aw.localState(); s != nil {
		c.queueState(s)
	}
	t := time.NewTicker(syncInterval)
	defer t.Stop()
	for {
		msgs, synced, err := l.generate()
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if err := conn.WriteMessage(websocket.BinaryMessage, m); err != nil {
				return fmt.Errorf("failed to write message: %w", err)
			}
		}
		if synced {
			c.events.sync(true)
		}
		select {
		case <-nudge:
		case <-t.C:
		case s := <-c.outbound:
			raw, err := json.Marshal(awarenessMessage{Type: awarenessState, Peer: c.opts.PeerID, State: s})
			if err != nil {
				return fmt.Errorf("failed to encode awareness: %w", err)
			}
			if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return fmt.Errorf("failed to write awareness: %w", err)
			}
		case err := <-readErr:
			return err
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		}
	}
}

func (c *clientConn) read(conn *websocket.Conn, l *link, poke func()) error {
	for {
		mt, p, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("failed to read message: %w", err)
		}
		switch mt {
		case websocket.BinaryMessage:
			if err := l.receive(p); err != nil {
				return err
			}
			poke()
		case websocket.TextMessage:
			var m awarenessMessage
			if err := json.Unmarshal(p, &m); err != nil {
				slog.Warn("dropping malformed awareness frame", "err", err)
				continue
			}
			switch m.Type {
			case awarenessState:
				c.aw.set(m.Peer, m.State)
			case awarenessLeave:
				c.aw.remove(m.Peer)
			}
		}
	}
}
