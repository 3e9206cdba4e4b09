package protocol

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"prism-board/domain"
)

// Session is the server side of one client connection. The transport feeds
// decoded intents into Submit and writes whatever appears on Outbound.
// Intents of one session are handled one at a time, in arrival order.
type Session struct {
	id      string
	user    string
	handler *Handler

	inbound  chan domain.Intent
	outbound chan []byte
	done     chan struct{}

	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
	failed bool
}

// NewSession creates a session. A non-empty user is the authenticated
// identity and replaces whatever a join names. buffer is the size of the
// outbound queue.
func NewSession(h *Handler, user string, buffer int) *Session {
	if buffer <= 0 {
		buffer = 1
	}
	return &Session{
		id:       uuid.NewString(),
		user:     user,
		handler:  h,
		inbound:  make(chan domain.Intent),
		outbound: make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// Send queues payload for the writer without blocking. When the queue is
// full the session is marked failed and its outbound channel closed, which
// makes the writer shut the connection down.
func (s *Session) Send(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.outbound <- payload:
		return true
	default:
		s.failed = true
		s.closed = true
		close(s.outbound)
		return false
	}
}

// Outbound yields encoded messages for the connection. It is closed when the
// session ends or falls too far behind.
func (s *Session) Outbound() <-chan []byte { return s.outbound }

// Done is closed once Close has run.
func (s *Session) Done() <-chan struct{} { return s.done }

// Failed reports whether the session was dropped for not keeping up.
func (s *Session) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Submit hands an intent to the session loop. It returns false once the
// session is closed.
func (s *Session) Submit(in domain.Intent) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbound <- in:
		return true
	case <-s.done:
		return false
	}
}

// Reject reports an intent the transport could not accept.
func (s *Session) Reject(in domain.Intent, err error) {
	s.handler.ReportError(s, in, err)
}

// Run processes intents until ctx is done or the session is closed.
func (s *Session) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case in := <-s.inbound:
			// An authenticated session always joins as its token subject.
			if in.Type == domain.IntentJoin && (s.user != "" || strings.TrimSpace(in.User) == "") {
				in.User = s.user
			}
			_ = s.handler.Handle(ctx, s, in)
		}
	}
}

// Close leaves the room and ends the session. Only the first call has an effect.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.handler.rooms.Leave(s.id)
		s.mu.Lock()
		if !s.closed {
			s.closed = true
			close(s.outbound)
		}
		s.mu.Unlock()
	})
}
