package rtsp

import (
	"crypto/subtle"
	"encoding/base64"
	"net"
	"strings"
	"time"

	"vigil/internal/core/domain"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/pion/rtcp"
)

const authRealm = "vigil"

func remoteAddr(c *gortsplib.ServerConn) string {
	return c.NetConn().RemoteAddr().String()
}

// viewerKey is the identity used for viewer events: the full address, or
// only the host when connections from the same device are merged.
func (s *Server) viewerKey(addr string) string {
	if !s.cfg.DedupeViewers {
		return addr
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// OnConnOpen implements gortsplib.ServerHandlerOnConnOpen.
func (s *Server) OnConnOpen(ctx *gortsplib.ServerHandlerOnConnOpenCtx) {
	key := s.viewerKey(remoteAddr(ctx.Conn))

	s.connMu.Lock()
	s.conns[key]++
	first := s.conns[key] == 1
	s.connMu.Unlock()

	s.logger.Debugw("rtsp connection opened", "remote_addr", key)
	if first {
		s.emit(domain.ViewerConnected(key))
	}
}

// OnConnClose implements gortsplib.ServerHandlerOnConnClose.
func (s *Server) OnConnClose(ctx *gortsplib.ServerHandlerOnConnCloseCtx) {
	key := s.viewerKey(remoteAddr(ctx.Conn))

	s.connMu.Lock()
	s.conns[key]--
	last := s.conns[key] <= 0
	if last {
		delete(s.conns, key)
	}
	s.connMu.Unlock()

	s.logger.Debugw("rtsp connection closed", "remote_addr", key, "reason", ctx.Error)
	if last {
		s.emit(domain.ViewerDisconnected(key))
	}
}

// OnDescribe implements gortsplib.ServerHandlerOnDescribe.
func (s *Server) OnDescribe(ctx *gortsplib.ServerHandlerOnDescribeCtx) (*base.Response, *gortsplib.ServerStream, error) {
	addr := remoteAddr(ctx.Conn)
	if s.authRequired() {
		if !s.authorized(ctx.Request) {
			s.logger.Warnw("rtsp authentication failed", "remote_addr", addr)
			s.emit(domain.AuthFailed(addr))
			return unauthorized(), nil, nil
		}
		s.emit(domain.AuthSucceeded(addr))
	}

	stream := s.currentStream()
	if stream == nil {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, stream, nil
}

// OnSetup implements gortsplib.ServerHandlerOnSetup.
func (s *Server) OnSetup(ctx *gortsplib.ServerHandlerOnSetupCtx) (*base.Response, *gortsplib.ServerStream, error) {
	if s.authRequired() && !s.authorized(ctx.Request) {
		return unauthorized(), nil, nil
	}

	stream := s.currentStream()
	if stream == nil {
		return &base.Response{StatusCode: base.StatusNotFound}, nil, nil
	}
	return &base.Response{StatusCode: base.StatusOK}, stream, nil
}

// OnPlay implements gortsplib.ServerHandlerOnPlay.
func (s *Server) OnPlay(ctx *gortsplib.ServerHandlerOnPlayCtx) (*base.Response, error) {
	addr := remoteAddr(ctx.Conn)
	ctx.Session.OnPacketRTCPAny(func(medi *description.Media, pkt rtcp.Packet) {
		s.handleRTCP(addr, medi, pkt)
	})
	s.logger.Infow("viewer started playback", "remote_addr", addr)
	return &base.Response{StatusCode: base.StatusOK}, nil
}

func (s *Server) handleRTCP(addr string, medi *description.Media, pkt rtcp.Packet) {
	rr, ok := pkt.(*rtcp.ReceiverReport)
	if !ok || s.metrics == nil {
		return
	}

	clock := float64(videoClockRate)
	if medi.Type == description.MediaTypeAudio {
		clock = s.audioClockRate()
	}
	for _, report := range rr.Reports {
		fractionLost := float64(report.FractionLost) / 256
		jitter := time.Duration(float64(report.Jitter) / clock * float64(time.Second))
		s.metrics.RecordViewerReport(addr, fractionLost, jitter)
	}
}

func (s *Server) authRequired() bool {
	return s.cfg.Username != ""
}

// authorized checks RTSP Basic credentials.
func (s *Server) authorized(req *base.Request) bool {
	values := req.Header["Authorization"]
	if len(values) == 0 {
		return false
	}
	encoded, ok := strings.CutPrefix(values[0], "Basic ")
	if !ok {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return false
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.cfg.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Password)) == 1
	return userOK && passOK
}

func unauthorized() *base.Response {
	return &base.Response{
		StatusCode: base.StatusUnauthorized,
		Header: base.Header{
			"WWW-Authenticate": base.HeaderValue{`Basic realm="` + authRealm + `"`},
		},
	}
}
