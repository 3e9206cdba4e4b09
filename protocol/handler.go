// Package protocol turns client intents into serialized board mutations and
// the notifications that follow them.
package protocol

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/locks"
	"prism-board/room"
)

// Storage loads and saves whole boards.
type Storage interface {
	Load(ctx context.Context, key domain.BoardKey) (domain.Board, error)
	Save(ctx context.Context, b domain.Board) error
}

// Config bounds the time spent waiting on shared state.
type Config struct {
	// LockTimeout bounds the wait for a board's write lock.
	LockTimeout time.Duration
	// StoreTimeout bounds the load and save performed while holding the lock.
	StoreTimeout time.Duration
}

// Handler applies intents. Mutations of one board are serialized through a
// per-board write lock, and their board-update broadcasts are published
// before that lock is released.
type Handler struct {
	store  Storage
	locks  *locks.Registry[domain.BoardKey]
	rooms  *room.Registry
	hub    *room.Hub
	logger *log.Logger
	cfg    Config

	now   func() time.Time
	newID func() string
}

// NewHandler wires a handler to its store, rooms and broadcast hub.
func NewHandler(store Storage, rooms *room.Registry, hub *room.Hub, logger *log.Logger, cfg Config) *Handler {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Handler{
		store:  store,
		locks:  locks.New[domain.BoardKey](),
		rooms:  rooms,
		hub:    hub,
		logger: logger,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
	}
}

// Handle processes one intent from conn. A rejected intent is reported to
// conn alone and the error is returned.
func (h *Handler) Handle(ctx context.Context, conn room.Subscriber, in domain.Intent) error {
	m, ctx := newIntentMetrics(ctx, h.logger, in, conn.ID())
	err := h.handle(ctx, conn, in, m)
	m.Finish(err)
	if err != nil {
		h.ReportError(conn, in, err)
	}
	return err
}

func (h *Handler) handle(ctx context.Context, conn room.Subscriber, in domain.Intent, m *intentMetrics) error {
	if err := in.Validate(); err != nil {
		m.SetErrorStage(stageValidate)
		return err
	}
	key, _ := in.Key()

	switch in.Type {
	case domain.IntentJoin:
		if _, err := h.Snapshot(ctx, key); err != nil {
			m.SetErrorStage(stageLoad)
			return err
		}
		if err := h.rooms.Join(conn, in.User, key); err != nil {
			m.SetErrorStage(stageRoom)
			return err
		}
		return nil
	case domain.IntentLeave:
		h.rooms.Leave(conn.ID())
		return nil
	}

	if joined, ok := h.rooms.RoomOf(conn.ID()); !ok || joined != key {
		m.SetErrorStage(stageRoom)
		return domain.Invalid("join the board first")
	}
	return h.withBoard(ctx, key, m, func(b *domain.Board) error {
		return domain.Apply(b, in, h.now(), h.newID)
	})
}

// Refresh reloads the board under its write lock and broadcasts it to the
// room. It is used when the record was rewritten outside this process.
func (h *Handler) Refresh(ctx context.Context, key domain.BoardKey) error {
	m, ctx := newIntentMetrics(ctx, h.logger, domain.Intent{Type: "refresh", ProjectID: key.ProjectID, BoardName: key.BoardName}, "")
	err := h.withBoard(ctx, key, m, nil)
	m.Finish(err)
	return err
}

// Snapshot returns the persisted board for key.
func (h *Handler) Snapshot(ctx context.Context, key domain.BoardKey) (domain.Board, error) {
	ctx, cancel := h.storeContext(ctx)
	defer cancel()
	return h.load(ctx, key)
}

// ReportError sends an error notification for in to conn.
func (h *Handler) ReportError(conn room.Subscriber, in domain.Intent, err error) {
	data, encErr := sonic.Marshal(domain.NewErrorMessage(in, err))
	if encErr != nil {
		h.logger.WithError(encErr).Error("encode error message")
		return
	}
	if !conn.Send(data) {
		h.logger.WithField("conn", conn.ID()).Debug("dropped error message for slow connection")
	}
}

// withBoard runs load, apply, save and publish while holding the board's
// write lock. A nil apply reloads and republishes without saving.
func (h *Handler) withBoard(ctx context.Context, key domain.BoardKey, m *intentMetrics, apply func(*domain.Board) error) error {
	waitStart := time.Now()
	acquired := false
	err := h.locks.WithLock(ctx, key, h.cfg.LockTimeout, func() error {
		acquired = true
		m.ObserveLockWait(time.Since(waitStart))

		// The connection may go away now; the store round trip still completes.
		sctx, cancel := h.storeContext(context.WithoutCancel(ctx))
		defer cancel()

		start := time.Now()
		b, err := h.load(sctx, key)
		m.ObserveLoad(time.Since(start))
		if err != nil {
			m.SetErrorStage(stageLoad)
			return err
		}

		if apply != nil {
			if err := apply(&b); err != nil {
				m.SetErrorStage(stageApply)
				return err
			}
			b.Version++
			b.UpdatedAt = h.now()

			start = time.Now()
			err = h.store.Save(sctx, b)
			m.ObserveSave(time.Since(start))
			if err != nil {
				m.SetErrorStage(stageSave)
				return &domain.PersistenceError{Op: "save", Key: key, Err: err}
			}
		}
		m.SetVersion(b.Version)
		h.publish(key, b, m)
		return nil
	})
	if err != nil && !acquired {
		m.SetErrorStage(stageLock)
		if errors.Is(err, locks.ErrTimeout) {
			return &domain.LockTimeoutError{Key: key, Err: err}
		}
		return err
	}
	return err
}

func (h *Handler) load(ctx context.Context, key domain.BoardKey) (domain.Board, error) {
	b, err := h.store.Load(ctx, key)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			return domain.Board{}, nf
		}
		if errors.Is(err, domain.ErrBoardNotFound) {
			return domain.Board{}, &domain.NotFoundError{Key: key}
		}
		return domain.Board{}, &domain.PersistenceError{Op: "load", Key: key, Err: err}
	}
	b.BoardKey = key
	b.Normalize()
	return b, nil
}

// publish broadcasts the saved board. The change is already durable, so an
// encoding failure is logged rather than reported to the client.
func (h *Handler) publish(key domain.BoardKey, b domain.Board, m *intentMetrics) {
	data, err := sonic.Marshal(domain.NewBoardUpdate(b))
	if err != nil {
		m.SetErrorStage(stageEncode)
		h.logger.WithError(err).WithField("board", key.String()).Error("encode board update")
		return
	}
	h.hub.Publish(key, data)
}

func (h *Handler) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.cfg.StoreTimeout > 0 {
		return context.WithTimeout(ctx, h.cfg.StoreTimeout)
	}
	return context.WithCancel(ctx)
}
