package preview

import (
	"encoding/binary"
	"net/http"
	"sync"
	"time"

	"vigil/internal/core/ports"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Attacher routes preview video to a surface.
type Attacher interface {
	AttachSurface(surface ports.Surface)
	DetachSurface()
}

type Config struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	QueueSize    int
}

func DefaultConfig() Config {
	return Config{
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		QueueSize:    defaultQueueSize,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

// Server serves the local preview over websocket. Only one client previews
// at a time; a new connection replaces the previous one.
type Server struct {
	cfg      Config
	attacher Attacher
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	current *Surface
	conn    *websocket.Conn
}

func NewServer(cfg Config, attacher Attacher, logger *zap.SugaredLogger) *Server {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	return &Server{cfg: cfg, attacher: attacher, logger: logger}
}

// HandleWebSocket attaches a surface for the lifetime of the connection.
// Each binary message is an 8-byte big-endian PTS in microseconds followed by
// one Annex-B access unit.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("preview websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	surface := NewSurface("preview-"+uuid.NewString()[:8], s.cfg.QueueSize)

	s.mu.Lock()
	previous, previousConn := s.current, s.conn
	s.current, s.conn = surface, conn
	s.mu.Unlock()

	if previous != nil {
		s.logger.Infow("replacing preview client", "surface_id", previous.ID())
		previousConn.Close()
	}
	s.attacher.AttachSurface(surface)
	s.logger.Infow("preview client connected", "surface_id", surface.ID(), "remote_addr", r.RemoteAddr)

	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
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

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	header := make([]byte, 8)
loop:
	for {
		select {
		case frame, ok := <-surface.Frames():
			if !ok {
				break loop
			}
			binary.BigEndian.PutUint64(header, uint64(frame.PTS.Microseconds()))
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.writeFrame(conn, header, frame.Data); err != nil {
				s.logger.Infow("error sending preview frame", "surface_id", surface.ID(), "error", err)
				break loop
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "surface_id", surface.ID(), "error", err)
				break loop
			}

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("preview connection error", "surface_id", surface.ID(), "error", err)
			}
			break loop
		}
	}

	surface.Close()
	s.mu.Lock()
	stillCurrent := s.current == surface
	if stillCurrent {
		s.current, s.conn = nil, nil
	}
	s.mu.Unlock()
	if stillCurrent {
		s.attacher.DetachSurface()
	}

	delivered, dropped := surface.Stats()
	s.logger.Infow("preview client disconnected",
		"surface_id", surface.ID(),
		"frames_delivered", delivered,
		"frames_dropped", dropped,
	)
}

func (s *Server) writeFrame(conn *websocket.Conn, header, au []byte) error {
	w, err := conn.NextWriter(websocket.BinaryMessage)
	if err != nil {
		return err
	}
	if _, err := w.Write(header); err != nil {
		return err
	}
	if _, err := w.Write(au); err != nil {
		return err
	}
	return w.Close()
}

// Active reports whether a preview client is connected.
func (s *Server) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Current returns the attached preview surface, or nil.
func (s *Server) Current() ports.Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current
}
