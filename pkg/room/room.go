// Package room drives a collaborative session from creation or discovery through to a synced
// document, and tears it down again. A Controller holds at most one Session at a time.
package room

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"github.com/astromechza/menuroom/pkg/directory"
	"github.com/astromechza/menuroom/pkg/errs"
	"github.com/astromechza/menuroom/pkg/logging"
	"github.com/astromechza/menuroom/pkg/persistence"
	"github.com/astromechza/menuroom/pkg/presence"
	"github.com/astromechza/menuroom/pkg/shareddoc"
	"github.com/astromechza/menuroom/pkg/transport"
	"github.com/astromechza/menuroom/pkg/workspace"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Synced
	// PasswordRequired is reached when a join was refused for its password. No transport is open.
	PasswordRequired
	TornDown
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Synced:
		return "synced"
	case PasswordRequired:
		return "password-required"
	case TornDown:
		return "torn-down"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type NoticeKind string

const (
	StateChanged  NoticeKind = "state-changed"
	PeerJoined    NoticeKind = "peer-joined"
	HostDisbanded NoticeKind = "host-disbanded"
	ConnectFailed NoticeKind = "connect-failed"
	SessionLost   NoticeKind = "session-lost"
	SaveFailed    NoticeKind = "save-failed"
	Saved         NoticeKind = "saved"
)

// Notice is a user-visible event.
type Notice struct {
	Kind  NoticeKind
	State State
	Peer  presence.Peer
	Err   error
}

const DefaultMaxHeartbeatFailures = 3

type Options struct {
	Directory directory.Directory
	Transport transport.Transport
	Cache     persistence.LocalCache
	// Store may be nil, in which case save and load are unavailable.
	Store      workspace.Store
	Self       presence.Peer
	ICEServers []string

	HeartbeatInterval    time.Duration
	LivenessInterval     time.Duration
	AutosaveInterval     time.Duration
	FlushInterval        time.Duration
	ConnectTimeout       time.Duration
	MaxHeartbeatFailures int
	// NewBackOff builds the retry schedule for directory calls that failed on the network.
	NewBackOff func() backoff.BackOff
}

type Controller struct {
	opts    Options
	notices chan Notice

	mu      sync.Mutex
	state   State
	session *Session
	// pending is the room id awaiting a password.
	pending string
}

func NewController(opts Options) *Controller {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 3 * time.Second
	}
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = 3 * time.Second
	}
	if opts.AutosaveInterval <= 0 {
		opts.AutosaveInterval = 10 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	if opts.MaxHeartbeatFailures <= 0 {
		opts.MaxHeartbeatFailures = DefaultMaxHeartbeatFailures
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			return backoff.WithMaxRetries(b, 3)
		}
	}
	return &Controller{opts: opts, notices: make(chan Notice, 64)}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns the active session, or nil.
func (c *Controller) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// PendingRoom returns the room id waiting for a password while in PasswordRequired.
func (c *Controller) PendingRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Controller) Notices() <-chan Notice {
	return c.notices
}

func (c *Controller) notify(n Notice) {
	select {
	case c.notices <- n:
	default:
		slog.Warn("dropped notice, consumer is not keeping up", "kind", n.Kind)
	}
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = s
	c.mu.Unlock()
	slog.Debug("room state changed", "from", prev, "to", s)
	c.notify(Notice{Kind: StateChanged, State: s})
}

// transition moves to s only while sess is still the active session and not torn down.
func (c *Controller) transition(sess *Session, s State) {
	c.mu.Lock()
	if c.session != sess || c.state == TornDown || c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.notify(Notice{Kind: StateChanged, State: s})
}

func (c *Controller) ListRooms(ctx context.Context, keyword string) ([]directory.RoomRecord, error) {
	return c.opts.Directory.ListRooms(ctx, keyword)
}

type CreateParams struct {
	RoomID   string
	RoomName string
	Capacity int
	Password string
}

// Create registers a new room with this peer as host and opens its session.
func (c *Controller) Create(ctx context.Context, p CreateParams) (*Session, error) {
	req := directory.CreateRequest{
		RoomID:   strings.TrimSpace(p.RoomID),
		RoomName: strings.TrimSpace(p.RoomName),
		Password: p.Password,
		Capacity: p.Capacity,
		HostID:   c.opts.Self.ID,
		HostName: c.opts.Self.Name,
		Status:   directory.StatusDraft,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := c.claim(req.RoomID); err != nil {
		return nil, err
	}
	var rec directory.RoomRecord
	err := c.retry(ctx, func() error {
		var err error
		rec, err = c.opts.Directory.CreateRoom(ctx, req)
		return err
	})
	if err != nil {
		c.release(Disconnected)
		return nil, err
	}
	sess, err := c.open(ctx, openParams{
		roomID:     req.RoomID,
		password:   p.Password,
		host:       true,
		hostToken:  rec.HostToken,
		registered: true,
	})
	if err != nil {
		// the host token is gone with the session; withdraw the record so the id is reusable
		if derr := c.opts.Directory.DeleteRoom(ctx, req.RoomID, rec.HostToken); derr != nil && !errors.Is(derr, errs.ErrNotFound) {
			slog.WarnContext(ctx, "failed to withdraw room after open failed", "room", req.RoomID, "err", derr)
		}
		return nil, err
	}
	if c.opts.Store != nil {
		if _, err := sess.persist.EnsureWorkspace(sess.ctx); err != nil {
			slog.WarnContext(ctx, "failed to create workspace for room", "room", req.RoomID, "err", err)
			c.notify(Notice{Kind: SaveFailed, Err: err})
		}
	}
	return sess, nil
}

// Join enters an existing room. A refused password leaves the controller in PasswordRequired
// without opening a transport; a room missing from the directory is joined as a local,
// unpublished session. Joining the active room again returns the active session.
func (c *Controller) Join(ctx context.Context, roomID, password string) (*Session, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, errs.Invalid("roomId", "must not be empty")
	}
	c.mu.Lock()
	if s := c.session; s != nil && s.roomID == roomID && c.state != TornDown {
		c.mu.Unlock()
		return s, nil
	}
	c.mu.Unlock()
	if err := c.claim(roomID); err != nil {
		return nil, err
	}

	registered := true
	err := c.retry(ctx, func() error {
		return c.opts.Directory.JoinRoom(ctx, roomID, password, c.opts.Self.ID)
	})
	switch {
	case err == nil:
	case errors.Is(err, errs.ErrUnauthorized), errs.IsValidation(err) && password == "":
		c.mu.Lock()
		c.pending = roomID
		c.mu.Unlock()
		c.setState(PasswordRequired)
		return nil, err
	case errors.Is(err, errs.ErrNotFound):
		slog.InfoContext(ctx, "room is not registered, joining as a local session", "room", roomID)
		registered = false
	default:
		c.release(Disconnected)
		return nil, err
	}
	return c.open(ctx, openParams{roomID: roomID, password: password, registered: registered})
}

// claim reserves the controller for a new session.
func (c *Controller) claim(roomID string) error {
	c.mu.Lock()
	busy := c.session != nil && c.state != TornDown
	switch c.state {
	case Disconnected, PasswordRequired, TornDown:
	default:
		busy = true
	}
	if busy {
		c.mu.Unlock()
		return errs.Invalid("room", "already in a room")
	}
	c.session = nil
	c.pending = ""
	c.mu.Unlock()
	slog.Debug("claimed controller", "room", roomID)
	c.setState(Connecting)
	return nil
}

func (c *Controller) release(s State) {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	c.setState(s)
}

// retry repeats op while it fails on the network.
func (c *Controller) retry(ctx context.Context, op func() error) error {
	var last error
	b := backoff.WithContext(c.opts.NewBackOff(), ctx)
	_ = backoff.Retry(func() error {
		last = op()
		if errs.IsNetwork(last) {
			slog.DebugContext(ctx, "retrying directory call", "err", last)
			return last
		}
		return nil
	}, b)
	return last
}

type openParams struct {
	roomID     string
	password   string
	host       bool
	hostToken  string
	registered bool
}

// open builds the session: local cache first, so the document is usable before any network
// progress, then the transport, presence and periodic tasks.
func (c *Controller) open(ctx context.Context, p openParams) (*Session, error) {
	sctx, cancel := context.WithCancel(logging.WithFields(context.Background(), logging.Fields{
		RoomID: p.roomID, PeerID: c.opts.Self.ID, Component: "room",
	}))
	doc := shareddoc.New()
	sess := &Session{
		roomID:     p.roomID,
		host:       p.host,
		hostToken:  p.hostToken,
		registered: p.registered,
		doc:        doc,
		ctx:        sctx,
		cancel:     cancel,
		password:   p.password,
	}
	sess.persist = persistence.NewCoordinator(persistence.Options{
		RoomID:           p.roomID,
		Doc:              doc,
		Cache:            c.opts.Cache,
		Store:            c.opts.Store,
		IsHost:           sess.IsHost,
		AutosaveInterval: c.opts.AutosaveInterval,
		FlushInterval:    c.opts.FlushInterval,
		OnFatal: func(err error) {
			c.lose(sess, SessionLost, err, false)
		},
		OnAutosave: func(err error) {
			if err == nil {
				c.notify(Notice{Kind: Saved})
			}
		},
	})
	if err := sess.persist.Open(ctx); err != nil {
		cancel()
		c.release(Disconnected)
		return nil, err
	}
	if p.host {
		if err := seed(doc); err != nil {
			slog.WarnContext(sctx, "failed to seed initial tab", "err", err)
		}
		sess.unwatch = doc.OnChange(func(ch shareddoc.Change) {
			if ch.Local {
				return
			}
			if err := seed(doc); err != nil {
				slog.WarnContext(sctx, "failed to restore a tab", "err", err)
			}
		})
	}

	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()

	if err := c.connect(sess, p.password); err != nil {
		c.mu.Lock()
		c.session = nil
		c.mu.Unlock()
		sess.close(false)
		c.setState(Disconnected)
		return nil, err
	}
	sess.spawn(sess.persist.Run)
	if p.registered {
		if p.host {
			sess.spawn(func(ctx context.Context) { c.heartbeat(ctx, sess) })
		} else {
			sess.spawn(func(ctx context.Context) { c.liveness(ctx, sess) })
		}
	}
	slog.InfoContext(sctx, "session opened", "host", p.host, "registered", p.registered)
	return sess, nil
}

// seed gives a room a tab when it has none: on open, and after remote closes merged into an
// empty list. Only the host seeds, so two peers never both do.
func seed(doc *shareddoc.Document) error {
	id, added, err := doc.EnsureTab()
	if added {
		slog.Debug("seeded tab", "tab", id)
	}
	return err
}

// connect opens a transport subscription with password and replaces any previous one.
func (c *Controller) connect(sess *Session, password string) error {
	cctx, cancel := context.WithCancel(sess.ctx)
	conn, err := c.opts.Transport.Connect(cctx, sess.roomID, sess.doc, transport.Options{
		Password:   password,
		PeerID:     c.opts.Self.ID,
		ICEServers: c.opts.ICEServers,
	})
	if err != nil {
		cancel()
		return errs.Network("connect", err)
	}
	tracker, err := presence.Attach(conn.Awareness(), c.opts.Self, func(p presence.Peer) {
		c.notify(Notice{Kind: PeerJoined, Peer: p})
	})
	if err != nil {
		cancel()
		_ = conn.Close()
		return errs.Network("connect", err)
	}
	l := &connection{conn: conn, tracker: tracker, cancel: cancel, done: make(chan struct{})}
	c.transition(sess, Connecting)
	go func() {
		defer close(l.done)
		c.follow(cctx, sess, conn)
	}()
	sess.swapConnection(l, password).close()
	return nil
}

// follow maps transport events onto controller states until the connection is replaced.
func (c *Controller) follow(ctx context.Context, sess *Session, conn transport.Conn) {
	timeout := time.NewTimer(c.opts.ConnectTimeout)
	defer timeout.Stop()
	connected := false
	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok || ctx.Err() != nil {
				return
			}
			switch ev.Type {
			case transport.StatusEvent:
				connected = ev.Value
				if ev.Value {
					timeout.Stop()
					c.transition(sess, Connected)
				} else {
					c.transition(sess, Disconnected)
				}
			case transport.SyncedEvent:
				if ev.Value && connected {
					c.transition(sess, Synced)
				} else if !ev.Value && connected {
					c.transition(sess, Connected)
				}
			}
		case <-timeout.C:
			if !connected {
				slog.WarnContext(ctx, "transport did not connect in time", "timeout", c.opts.ConnectTimeout)
				c.notify(Notice{Kind: ConnectFailed, Err: errs.Network("connect", fmt.Errorf("no connection after %s", c.opts.ConnectTimeout))})
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) heartbeat(ctx context.Context, sess *Session) {
	t := time.NewTicker(c.opts.HeartbeatInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-t.C:
			if c.State() == Disconnected {
				continue
			}
			err := c.opts.Directory.SendHeartbeat(ctx, sess.roomID, sess.hostToken)
			switch {
			case err == nil:
				failures = 0
			case ctx.Err() != nil:
				return
			case errors.Is(err, errs.ErrNotFound):
				slog.WarnContext(ctx, "directory no longer knows the room", "err", err)
				c.lose(sess, SessionLost, err, false)
				return
			default:
				failures++
				slog.WarnContext(ctx, "heartbeat failed", "failures", failures, "err", err)
				if failures >= c.opts.MaxHeartbeatFailures {
					c.lose(sess, SessionLost, err, false)
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) liveness(ctx context.Context, sess *Session) {
	t := time.NewTicker(c.opts.LivenessInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			rec, err := c.opts.Directory.GetRoom(ctx, sess.roomID)
			switch {
			case ctx.Err() != nil:
				return
			case errors.Is(err, errs.ErrNotFound), err == nil && rec.Status == directory.StatusDisbanded:
				slog.InfoContext(ctx, "host disbanded the room")
				c.lose(sess, HostDisbanded, errs.ErrNotFound, false)
				return
			case err != nil:
				slog.DebugContext(ctx, "liveness poll failed", "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// lose tears sess down from inside one of its own tasks. The state flips immediately and the
// handles are released once every task has returned.
func (c *Controller) lose(sess *Session, kind NoticeKind, err error, clearLocal bool) {
	if !c.detach(sess) {
		return
	}
	c.notify(Notice{Kind: kind, Err: err})
	sess.cancel()
	go sess.close(clearLocal)
}

// detach marks sess torn down if it is still the active session.
func (c *Controller) detach(sess *Session) bool {
	c.mu.Lock()
	if c.session != sess || c.state == TornDown {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()
	c.setState(TornDown)
	return true
}

func (c *Controller) active() (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.state == TornDown {
		return nil, errs.Invalid("room", "no active session")
	}
	return c.session, nil
}

type PublishParams struct {
	RoomName string
	Password string
	Capacity int
}

// Publish lists the room in the directory. When the password changes the host re-opens its own
// transport subscription so it lands in the same namespace as guests joining afterwards.
func (c *Controller) Publish(ctx context.Context, p PublishParams) (directory.RoomRecord, error) {
	sess, err := c.active()
	if err != nil {
		return directory.RoomRecord{}, err
	}
	if !sess.host {
		return directory.RoomRecord{}, errs.ErrNotHost
	}
	req := directory.CreateRequest{
		RoomID:    sess.roomID,
		RoomName:  strings.TrimSpace(p.RoomName),
		Password:  p.Password,
		Capacity:  p.Capacity,
		HostID:    c.opts.Self.ID,
		HostName:  c.opts.Self.Name,
		Status:    directory.StatusPublished,
		HostToken: sess.hostToken,
	}
	if err := req.Validate(); err != nil {
		return directory.RoomRecord{}, err
	}
	var rec directory.RoomRecord
	if err := c.retry(ctx, func() error {
		var err error
		rec, err = c.opts.Directory.CreateRoom(ctx, req)
		return err
	}); err != nil {
		return directory.RoomRecord{}, err
	}
	if p.Password != sess.currentPassword() {
		slog.InfoContext(ctx, "password changed, re-opening transport", "room", sess.roomID)
		if err := c.connect(sess, p.Password); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// Exit leaves the room without telling the directory. The local cache is kept.
func (c *Controller) Exit(ctx context.Context) error {
	sess, err := c.active()
	if err != nil {
		return err
	}
	if !c.detach(sess) {
		return nil
	}
	sess.close(false)
	slog.InfoContext(ctx, "left room", "room", sess.roomID)
	return nil
}

// Disband deletes the room from the directory, discards the local cache and leaves. Host only.
func (c *Controller) Disband(ctx context.Context) error {
	sess, err := c.active()
	if err != nil {
		return err
	}
	if !sess.host {
		return errs.ErrNotHost
	}
	if err := c.retry(ctx, func() error {
		return c.opts.Directory.DeleteRoom(ctx, sess.roomID, sess.hostToken)
	}); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	if !c.detach(sess) {
		return nil
	}
	sess.close(true)
	slog.InfoContext(ctx, "disbanded room", "room", sess.roomID)
	return nil
}

// Save writes the remote snapshot now, creating the workspace first if needed. Host only.
func (c *Controller) Save(ctx context.Context) error {
	sess, err := c.active()
	if err != nil {
		return err
	}
	if !sess.host {
		return errs.ErrNotHost
	}
	if _, err := sess.persist.EnsureWorkspace(ctx); err != nil {
		c.notify(Notice{Kind: SaveFailed, Err: err})
		return err
	}
	if err := sess.persist.Save(ctx, true); err != nil {
		c.notify(Notice{Kind: SaveFailed, Err: err})
		return err
	}
	c.notify(Notice{Kind: Saved})
	return nil
}

// Load replaces the room's tabs, configs and metadata with a saved workspace.
func (c *Controller) Load(ctx context.Context, workspaceID string) error {
	sess, err := c.active()
	if err != nil {
		return err
	}
	return sess.persist.Load(ctx, workspaceID)
}
