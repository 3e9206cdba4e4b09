// Package api exposes the board service over HTTP: the websocket sync
// endpoint, snapshot fetches, a read-only event stream and a health check.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/protocol"
	"prism-board/room"
)

const (
	defaultPingInterval    = 30 * time.Second
	defaultMaxMessageBytes = 64 * 1024
	defaultSendBuffer      = 64
	writeWait              = 10 * time.Second
)

// Authenticator resolves the user behind an Authorization header value.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Options tunes the websocket transport.
type Options struct {
	PingInterval    time.Duration
	MaxMessageBytes int64
	SendBuffer      int
}

type server struct {
	handler  *protocol.Handler
	rooms    *room.Registry
	hub      *room.Hub
	auth     Authenticator
	logger   *log.Logger
	opts     Options
	upgrader websocket.Upgrader
}

// Register wires the board routes on e. auth may be nil, in which case
// requests are not authenticated and clients name themselves on join.
func Register(e *echo.Echo, h *protocol.Handler, rooms *room.Registry, hub *room.Hub, auth Authenticator, logger *log.Logger, opts Options) {
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessageBytes
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	s := &server{
		handler: h,
		rooms:   rooms,
		hub:     hub,
		auth:    auth,
		logger:  logger,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// CORS is open for the REST routes as well.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	e.GET("/ws", s.serveWS)
	e.GET("/api/projects/:projectId/boards/:boardName", s.getBoard)
	e.GET("/api/projects/:projectId/boards/:boardName/stream", s.streamBoard)
	e.GET("/healthz", s.healthz)
}

// authenticate returns the token subject, or "" when auth is disabled.
// Browsers cannot set headers on websocket and EventSource requests, so a
// token query parameter is accepted as well.
func (s *server) authenticate(c echo.Context) (string, error) {
	if s.auth == nil {
		return "", nil
	}
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if token := c.QueryParam("token"); authHeader == "" && token != "" {
		authHeader = "Bearer " + token
	}
	return s.auth.UserIDFromAuthHeader(authHeader)
}

func (s *server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"rooms":  len(s.rooms.Rooms()),
	})
}
