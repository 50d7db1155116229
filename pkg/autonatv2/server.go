package autonatv2

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/cuemby/natcore/pkg/host"
	"github.com/cuemby/natcore/pkg/log"
	"github.com/cuemby/natcore/pkg/ma"
	"github.com/cuemby/natcore/pkg/metrics"
)

// maxOfferedAddrs bounds how many of the client's offered addresses the
// server considers (spec.md §4.3 server flow step 2).
const maxOfferedAddrs = 50

// dialDataMin and dialDataMax bound the random amount of dial-data the
// server demands when it requires it (spec.md §4.3 server flow step 4).
const (
	dialDataMin = 30_000
	dialDataMax = 100_000
)

// ServerConfig bounds the server's behavior (spec.md §6).
type ServerConfig struct {
	AllowPrivateAddrs bool
	AmplificationWait time.Duration
	DialBackTimeout   time.Duration
	MaxMsgSize        int
	DialBackMaxMsgSize int
	Now               func() time.Time
	Rand              *rand.Rand

	// IsDialable reports whether addr is one the server's dialer host can
	// actually reach, beyond public-vs-private classification. Defaults to
	// always-true (best-effort: the real answer only comes from attempting
	// the dial itself).
	IsDialable func(addr ma.MultiAddr) bool
}

// DefaultServerConfig mirrors spec.md §6 defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		AllowPrivateAddrs:  false,
		AmplificationWait:  3 * time.Second,
		DialBackTimeout:    5 * time.Second,
		MaxMsgSize:         8 * 1024,
		DialBackMaxMsgSize: 1024,
		Now:                time.Now,
		Rand:               rand.New(rand.NewSource(1)),
		IsDialable:         func(ma.MultiAddr) bool { return true },
	}
}

// Server runs the AutoNATv2 service role (spec.md §4.3 "Server flow"). It
// dials back on dialBackHost, a host distinct from the one that served the
// incoming dial-request stream, so the act of verification never taints
// the identity the requester already knows (spec.md §4.3 step 5).
type Server struct {
	dialBackHost host.Host
	limiter      *RateLimiter
	cfg          ServerConfig
	scope        *scope
}

// NewServer constructs a Server. dialBackHost is the separate host used
// only to place the verification dial.
func NewServer(dialBackHost host.Host, limiter *RateLimiter, cfg ServerConfig) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(1))
	}
	if cfg.IsDialable == nil {
		cfg.IsDialable = func(ma.MultiAddr) bool { return true }
	}
	return &Server{
		dialBackHost: dialBackHost,
		limiter:      limiter,
		cfg:          cfg,
		scope:        newScope(RequestStreamReservation),
	}
}

// HandleDialRequest is the stream handler for ProtocolDialRequest
// (spec.md §4.3 server flow steps 1-5).
func (srv *Server) HandleDialRequest(s host.Stream) {
	defer s.Close()

	peer := s.Conn().RemotePeer
	reason := srv.limiter.Accept(peer)
	if reason != RejectNone {
		srv.reject(s, StatusRequestRejected)
		metrics.AutoNATv2RequestsTotal.WithLabelValues("rejected").Inc()
		metrics.AutoNATv2RateLimitedTotal.WithLabelValues(string(reason)).Inc()
		log.WithPeer(peer.String()).Debug().Str("reason", string(reason)).Msg("autonatv2 request rejected")
		return
	}
	defer srv.limiter.Complete(peer)

	release, err := srv.scope.reserve(RequestStreamReservation)
	if err != nil {
		srv.reject(s, StatusInternalError)
		metrics.AutoNATv2RequestsTotal.WithLabelValues("internal_error").Inc()
		return
	}
	defer release()

	raw, err := ma.ReadDelimited(s, srv.cfg.MaxMsgSize)
	if err != nil {
		_ = s.Reset()
		metrics.AutoNATv2RequestsTotal.WithLabelValues("protocol_error").Inc()
		return
	}
	msg, err := UnmarshalMessage(raw)
	if err != nil || msg.DialRequest == nil {
		_ = s.Reset()
		metrics.AutoNATv2RequestsTotal.WithLabelValues("protocol_error").Inc()
		return
	}
	req := msg.DialRequest

	addrs := decodeOfferedAddrs(req.Addrs)
	if len(addrs) > maxOfferedAddrs {
		addrs = addrs[:maxOfferedAddrs]
	}

	addrIdx, chosen, ok := srv.selectAddr(addrs)
	if !ok {
		srv.sendResponse(s, DialResponse{Status: StatusDialRefused})
		metrics.AutoNATv2RequestsTotal.WithLabelValues("dial_refused").Inc()
		return
	}

	sourceAddr := s.Conn().RemoteAddr
	if srv.requiresDialData(sourceAddr, chosen) {
		if !srv.limiter.AcceptDialData() {
			srv.sendResponse(s, DialResponse{Status: StatusDialRefused})
			metrics.AutoNATv2RequestsTotal.WithLabelValues("dial_refused").Inc()
			metrics.AutoNATv2RateLimitedTotal.WithLabelValues(string(RejectDialDataRPM)).Inc()
			return
		}
		numBytes := uint64(dialDataMin + srv.cfg.Rand.Intn(dialDataMax-dialDataMin))
		ddr := Message{DialDataRequest: &DialDataRequest{AddrIdx: uint32(addrIdx), NumBytes: numBytes}}
		if err := ma.WriteDelimited(s, ddr.Marshal()); err != nil {
			_ = s.Reset()
			metrics.AutoNATv2RequestsTotal.WithLabelValues("protocol_error").Inc()
			return
		}
		if err := srv.drainDialData(s, numBytes); err != nil {
			_ = s.Reset()
			metrics.AutoNATv2RequestsTotal.WithLabelValues("protocol_error").Inc()
			return
		}
		wait := time.Duration(srv.cfg.Rand.Int63n(int64(srv.cfg.AmplificationWait) + 1))
		time.Sleep(wait)
	}

	dialStatus := srv.dialBack(peer, chosen, req.Nonce)
	status := StatusOK
	srv.sendResponse(s, DialResponse{Status: status, DialStatus: dialStatus, AddrIdx: uint32(addrIdx)})
	metrics.AutoNATv2RequestsTotal.WithLabelValues("ok").Inc()
}

func (srv *Server) reject(s host.Stream, status ResponseStatus) {
	srv.sendResponse(s, DialResponse{Status: status})
}

func (srv *Server) sendResponse(s host.Stream, resp DialResponse) {
	msg := Message{DialResponse: &resp}
	if err := ma.WriteDelimited(s, msg.Marshal()); err != nil {
		_ = s.Reset()
	}
}

func decodeOfferedAddrs(raw [][]byte) []ma.MultiAddr {
	addrs := make([]ma.MultiAddr, 0, len(raw))
	for _, b := range raw {
		a, err := ma.Decode(b)
		if err != nil {
			continue
		}
		addrs = append(addrs, a)
	}
	return addrs
}

// selectAddr picks the first address that is public (unless
// allowPrivateAddrs) and dialable (spec.md §4.3 server flow step 2).
func (srv *Server) selectAddr(addrs []ma.MultiAddr) (int, ma.MultiAddr, bool) {
	for i, a := range addrs {
		if !srv.cfg.AllowPrivateAddrs && a.IsPrivate() {
			continue
		}
		if !srv.cfg.IsDialable(a) {
			continue
		}
		return i, a, true
	}
	return 0, ma.MultiAddr{}, false
}

// requiresDialData implements the default data-request policy: require
// dial-data whenever the request's source address differs from the
// address we would dial back (spec.md §4.3 server flow step 3).
func (srv *Server) requiresDialData(source, chosen ma.MultiAddr) bool {
	return !ma.NormalizedEqual(source, chosen)
}

// drainDialData reads exactly numBytes across one or more DialDataResponse
// chunks, rejecting chunks smaller than 100 bytes (other than the first
// and the one that completes numBytes) or an unreasonable number of
// messages (spec.md §4.3 server flow step 4).
func (srv *Server) drainDialData(s host.Stream, numBytes uint64) error {
	const minChunk = 100
	const maxChunks = 10_000

	var received uint64
	chunks := 0
	for received < numBytes {
		chunks++
		if chunks > maxChunks {
			return fmt.Errorf("autonatv2: dial-data message count unreasonable")
		}
		raw, err := ma.ReadDelimited(s, srv.cfg.MaxMsgSize)
		if err != nil {
			return fmt.Errorf("autonatv2: read dial-data chunk: %w", err)
		}
		msg, err := UnmarshalMessage(raw)
		if err != nil || msg.DialDataResponse == nil {
			return fmt.Errorf("autonatv2: expected DialDataResponse")
		}
		n := len(msg.DialDataResponse.Data)
		if chunks > 1 && uint64(n) < minChunk && received+uint64(n) < numBytes {
			return fmt.Errorf("autonatv2: dial-data chunk too small")
		}
		received += uint64(n)
	}
	return nil
}

// dialBack connects to (peer, addr) on the separate dial-back host, opens
// the dial-back stream, delivers the nonce, and always removes the peer's
// address record from the dial-back host afterward (spec.md §4.3 server
// flow step 5). It makes no separate call to close the connection.
func (srv *Server) dialBack(peer ma.PeerId, addr ma.MultiAddr, nonce uint64) DialStatus {
	start := srv.cfg.Now()
	defer func() {
		metrics.AutoNATv2DialBackDuration.Observe(srv.cfg.Now().Sub(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.DialBackTimeout)
	defer cancel()

	srv.dialBackHost.AddAddrs(peer, []ma.MultiAddr{addr}, srv.cfg.DialBackTimeout)
	defer srv.dialBackHost.AddAddrs(peer, nil, 0)

	if _, err := srv.dialBackHost.DialDirect(ctx, peer, addr); err != nil {
		return DialStatusDialError
	}

	status := srv.openDialBackStream(ctx, peer, nonce)
	return status
}

func (srv *Server) openDialBackStream(ctx context.Context, peer ma.PeerId, nonce uint64) DialStatus {
	s, err := srv.dialBackHost.NewStream(ctx, peer, []string{ProtocolDialBack})
	if err != nil {
		return DialStatusDialBackError
	}
	defer s.Close()

	db := DialBack{Nonce: nonce}
	if err := ma.WriteDelimited(s, db.Marshal()); err != nil {
		return DialStatusDialBackError
	}
	if err := s.CloseWrite(); err != nil {
		return DialStatusDialBackError
	}

	raw, err := ma.ReadDelimited(s, srv.cfg.DialBackMaxMsgSize)
	if err != nil {
		// The client may close without acking; the dial-back itself
		// already succeeded, so this is still a success from the
		// server's point of view.
		return DialStatusOK
	}
	if _, err := UnmarshalDialBackResponse(raw); err != nil {
		return DialStatusDialBackError
	}
	return DialStatusOK
}
