package room

import (
	"context"
	"log/slog"
	"sync"

	"github.com/astromechza/menuroom/pkg/logging"
	"github.com/astromechza/menuroom/pkg/persistence"
	"github.com/astromechza/menuroom/pkg/presence"
	"github.com/astromechza/menuroom/pkg/shareddoc"
	"github.com/astromechza/menuroom/pkg/transport"
)

// Session owns every handle of one joined room: the document, its local cache attachment, the
// transport connection with its presence tracker, and the periodic tasks. Nothing outlives
// close.
type Session struct {
	roomID     string
	host       bool
	hostToken  string
	registered bool

	doc     *shareddoc.Document
	persist *persistence.Coordinator
	// unwatch removes the host's document observer, if any.
	unwatch func()

	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	mu       sync.Mutex
	password string
	link     *connection
	closed   bool
}

// connection is one transport subscription and the goroutine following its events.
type connection struct {
	conn    transport.Conn
	tracker *presence.Tracker
	cancel  context.CancelFunc
	done    chan struct{}
}

func (s *Session) RoomID() string {
	return s.roomID
}

func (s *Session) Doc() *shareddoc.Document {
	return s.doc
}

func (s *Session) IsHost() bool {
	return s.host
}

// Registered reports whether the room was found in the directory. Unregistered sessions are
// local, peer-to-peer only.
func (s *Session) Registered() bool {
	return s.registered
}

func (s *Session) Persistence() *persistence.Coordinator {
	return s.persist
}

// Peers returns the live roster, local peer first.
func (s *Session) Peers() []presence.Peer {
	s.mu.Lock()
	l := s.link
	s.mu.Unlock()
	if l == nil {
		return nil
	}
	return l.tracker.Peers()
}

func (s *Session) currentPassword() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.password
}

// spawn runs fn as a task bound to the session lifetime.
func (s *Session) spawn(fn func(ctx context.Context)) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		fn(s.ctx)
	}()
}

// swapConnection installs next as the active connection and returns the previous one.
func (s *Session) swapConnection(next *connection, password string) *connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.link
	s.link = next
	s.password = password
	return prev
}

func (l *connection) close() {
	if l == nil {
		return
	}
	l.cancel()
	l.tracker.Detach()
	_ = l.conn.Close()
	<-l.done
}

// close cancels every task, leaves the transport and either flushes or discards the local
// cache. It must not be called from one of the session's own tasks.
func (s *Session) close(clearLocal bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.tasks.Wait()
	if s.unwatch != nil {
		s.unwatch()
	}
	s.swapConnection(nil, "").close()

	ctx := logging.WithFields(context.Background(), logging.Fields{RoomID: s.roomID, Component: "room.session"})
	if clearLocal {
		if err := s.persist.ClearLocal(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to clear local cache", "err", err)
		}
	}
	if err := s.persist.Close(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to flush local cache", "err", err)
	}
	slog.InfoContext(ctx, "session closed", "cleared", clearLocal)
}
