package api

import (
	"errors"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"prism-board/domain"
)

const sseDataPrefix = "data: "

// sseViewer is a hub subscriber that is not part of room presence.
type sseViewer struct {
	id      string
	ch      chan []byte
	dropped chan struct{}
	once    sync.Once
}

func newSSEViewer(buffer int) *sseViewer {
	return &sseViewer{id: "sse-" + uuid.NewString(), ch: make(chan []byte, buffer), dropped: make(chan struct{})}
}

func (v *sseViewer) ID() string { return v.id }

func (v *sseViewer) Send(p []byte) bool {
	select {
	case v.ch <- p:
		return true
	default:
		v.once.Do(func() { close(v.dropped) })
		return false
	}
}

// streamBoard sends the current board and then every board-update for it as
// server-sent events until the client disconnects.
func (s *server) streamBoard(c echo.Context) error {
	if _, err := s.authenticate(c); err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	key, err := domain.NewBoardKey(c.Param("projectId"), c.Param("boardName"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	ctx := c.Request().Context()

	viewer := newSSEViewer(s.opts.SendBuffer)
	s.hub.Subscribe(key, viewer)
	defer s.hub.Unsubscribe(key, viewer)

	b, err := s.handler.Snapshot(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrBoardNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
		}
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "unable to load board"})
	}
	initial, err := sonic.Marshal(domain.NewBoardUpdate(b))
	if err != nil {
		c.Logger().Error(err)
		return err
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}
	c.Response().WriteHeader(http.StatusOK)

	data := initial
	for {
		if err := writeEvent(c, data); err != nil {
			c.Logger().Error(err)
			return err
		}
		flusher.Flush()
		select {
		case <-ctx.Done():
			return nil
		case <-viewer.dropped:
			return nil
		case data = <-viewer.ch:
		}
	}
}

func writeEvent(c echo.Context, data []byte) error {
	if _, err := c.Response().Write([]byte(sseDataPrefix)); err != nil {
		return err
	}
	if _, err := c.Response().Write(data); err != nil {
		return err
	}
	_, err := c.Response().Write([]byte("\n\n"))
	return err
}
