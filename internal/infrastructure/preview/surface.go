package preview

import (
	"sync"
	"sync/atomic"
	"time"

	"vigil/internal/infrastructure/capture"
)

const defaultQueueSize = 8

// Frame is one access unit queued for a preview client.
type Frame struct {
	Data []byte
	PTS  time.Duration
}

// Surface forwards rendered access units to one websocket client. It never
// blocks the media goroutine: when the client falls behind, frames are
// dropped until the next keyframe.
type Surface struct {
	id     string
	frames chan Frame

	mu        sync.Mutex
	needKey   bool
	closed    bool
	dropped   atomic.Int64
	delivered atomic.Int64
}

func NewSurface(id string, queueSize int) *Surface {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Surface{
		id:      id,
		frames:  make(chan Frame, queueSize),
		needKey: true,
	}
}

func (s *Surface) ID() string { return s.id }

func (s *Surface) RenderVideo(au []byte, pts time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.needKey {
		if !capture.IsKeyframe(au) {
			s.dropped.Add(1)
			return
		}
		s.needKey = false
	}

	select {
	case s.frames <- Frame{Data: au, PTS: pts}:
		s.delivered.Add(1)
	default:
		s.needKey = true
		s.dropped.Add(1)
	}
}

// Frames is closed by Close.
func (s *Surface) Frames() <-chan Frame {
	return s.frames
}

func (s *Surface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
}

func (s *Surface) Stats() (delivered, dropped int64) {
	return s.delivered.Load(), s.dropped.Load()
}
