package http

import (
	"net/http"
	"time"

	"vigil/internal/core/domain"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// StatusStream pushes a status snapshot on connect and after every change.
type StatusStream struct {
	monitor      MonitorController
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
	logger       *zap.SugaredLogger
}

func NewStatusStream(monitor MonitorController, pingInterval, pongTimeout time.Duration, logger *zap.SugaredLogger) *StatusStream {
	return &StatusStream{
		monitor:      monitor,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

func (s *StatusStream) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorw("status websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.monitor.Subscribe()
	defer unsubscribe()

	remote := c.ClientIP()
	s.logger.Debugw("status subscriber connected", "remote_addr", remote)

	conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
		return nil
	})

	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				readErr <- err
				return
			}
		}
	}()

	if err := s.write(conn, s.monitor.Status()); err != nil {
		return
	}

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case status, ok := <-updates:
			if !ok {
				return
			}
			if err := s.write(conn, status); err != nil {
				s.logger.Debugw("error sending status", "remote_addr", remote, "error", err)
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debugw("error sending ping", "remote_addr", remote, "error", err)
				return
			}

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("status websocket error", "remote_addr", remote, "error", err)
			}
			return
		}
	}
}

func (s *StatusStream) write(conn *websocket.Conn, status domain.SessionStatus) error {
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return conn.WriteJSON(status)
}
