package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/protocol"
)

func (s *server) serveWS(c echo.Context) error {
	user, err := s.authenticate(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// The upgrader has already written the error response.
		s.logger.WithError(err).Debug("websocket upgrade failed")
		return nil
	}

	sess := protocol.NewSession(s.handler, user, s.opts.SendBuffer)
	logger := s.logger.WithFields(log.Fields{"conn": sess.ID(), "user": user})
	logger.Debug("websocket connected")

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	go sess.Run(ctx)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(conn, sess)
	}()

	err = s.readLoop(conn, sess)
	sess.Close()
	cancel()
	<-writerDone
	_ = conn.Close()

	if sess.Failed() {
		logger.Warn("websocket dropped: client too slow")
	} else if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		logger.WithError(err).Debug("websocket read ended")
	}
	return nil
}

func (s *server) readLoop(conn *websocket.Conn, sess *protocol.Session) error {
	pongWait := s.opts.PingInterval * 2
	conn.SetReadLimit(s.opts.MaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var in domain.Intent
		if err := sonic.Unmarshal(data, &in); err != nil {
			sess.Reject(in, domain.BadRequest(err))
			continue
		}
		if in.Type == "" {
			sess.Reject(in, domain.BadRequest(errors.New("missing message type")))
			continue
		}
		if !sess.Submit(in) {
			return nil
		}
	}
}

// writeLoop owns all writes to conn. It returns once the session's outbound
// channel is closed or a write fails.
func (s *server) writeLoop(conn *websocket.Conn, sess *protocol.Session) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-sess.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				code := websocket.CloseNormalClosure
				if sess.Failed() {
					code = websocket.ClosePolicyViolation
				}
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
				_ = conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
