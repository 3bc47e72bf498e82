package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/abyuwono/mivochat/internal/config"
	"github.com/abyuwono/mivochat/internal/metrics"
	"github.com/abyuwono/mivochat/internal/origin"
	"github.com/abyuwono/mivochat/internal/ratelimit"
	"github.com/abyuwono/mivochat/internal/relay"
)

const (
	wsWriteWait = 1 * time.Second

	// eventQueueSize bounds the per-peer outbound event queue. A peer that
	// cannot drain this many events is a slow consumer; further events to it
	// are dropped.
	eventQueueSize = 64
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Engine *relay.Engine

	Authorizer Authorizer

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// AllowedOrigins restricts browser origins on the WebSocket upgrade.
	// Empty means same-host only; entries may be "*".
	AllowedOrigins []string

	// AuthTimeout bounds how long an unauthenticated connection may hold the
	// socket before sending its auth message.
	AuthTimeout time.Duration

	// IdleTimeout closes connections with no inbound traffic (including
	// pongs). PingInterval must be below it.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// NewPeerID allocates connection peer ids. Defaults to uuid.NewString.
	NewPeerID func() string
}

// Server implements the signaling WebSocket endpoint.
//
// Endpoint:
//   - GET /ws : matchmaking, WebRTC signal relay and chat
type Server struct {
	engine     *relay.Engine
	authorizer Authorizer
	log        *slog.Logger
	metrics    *metrics.Metrics

	allowedOrigins []string

	authTimeout  time.Duration
	idleTimeout  time.Duration
	pingInterval time.Duration

	maxMessageBytes      int64
	maxMessagesPerSecond int

	newPeerID func() string
}

func NewServer(cfg Config) *Server {
	if cfg.Authorizer == nil {
		cfg.Authorizer = AllowAllAuthorizer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = config.DefaultSignalingAuthTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = config.DefaultSignalingWSIdleTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = config.DefaultSignalingWSPingInterval
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = config.DefaultMaxSignalingMessageBytes
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		cfg.MaxMessagesPerSecond = config.DefaultMaxSignalingMessagesPerSecond
	}
	if cfg.NewPeerID == nil {
		cfg.NewPeerID = uuid.NewString
	}

	return &Server{
		engine:               cfg.Engine,
		authorizer:           cfg.Authorizer,
		log:                  cfg.Logger,
		metrics:              cfg.Metrics,
		allowedOrigins:       cfg.AllowedOrigins,
		authTimeout:          cfg.AuthTimeout,
		idleTimeout:          cfg.IdleTimeout,
		pingInterval:         cfg.PingInterval,
		maxMessageBytes:      cfg.MaxMessageBytes,
		maxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		newPeerID:            cfg.NewPeerID,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	wss := &wsSession{
		srv:    s,
		conn:   conn,
		req:    r,
		peerID: s.newPeerID(),
		limiter: ratelimit.NewTokenBucket(
			ratelimit.RealClock{},
			int64(s.maxMessagesPerSecond),
			int64(s.maxMessagesPerSecond),
		),
		out:  make(chan relay.Event, eventQueueSize),
		done: make(chan struct{}),
	}
	wss.run()
}

// checkOrigin applies the browser origin policy on the upgrade request.
// Requests without an Origin header (non-browser clients) are allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		return true
	}
	normalized, originHost, ok := origin.NormalizeHeader(originHeader)
	if !ok {
		return false
	}
	return origin.IsAllowed(normalized, originHost, r.Host, s.allowedOrigins)
}

func (s *Server) incMetric(name string) {
	s.metrics.Inc(name)
}

// wsSession binds one WebSocket connection to one engine peer. Reads happen
// on the caller's goroutine; writes are funneled through the out channel and
// a single write pump, which preserves the engine's per-peer event order.
type wsSession struct {
	srv    *Server
	conn   *websocket.Conn
	req    *http.Request
	peerID string

	limiter *ratelimit.TokenBucket

	out  chan relay.Event
	done chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// Send implements relay.EventSink. It never blocks: when the queue is full
// the event is dropped and the engine counts a slow consumer.
func (wss *wsSession) Send(ev relay.Event) bool {
	select {
	case wss.out <- ev:
		return true
	default:
		return false
	}
}

func (wss *wsSession) run() {
	defer wss.Close()

	wss.conn.SetReadLimit(wss.srv.maxMessageBytes)

	authorized := false
	if err := wss.srv.authorizer.Authorize(wss.req, nil); err != nil {
		if IsAuthMissing(err) {
			_ = wss.conn.SetReadDeadline(time.Now().Add(wss.srv.authTimeout))
		} else {
			wss.srv.incMetric(metrics.AuthFailure)
			wss.fail("unauthorized", unauthorizedMessage(err), websocket.ClosePolicyViolation, "unauthorized")
			return
		}
	} else {
		authorized = true
		_ = wss.conn.SetReadDeadline(time.Now().Add(wss.srv.idleTimeout))
	}

	wss.conn.SetPongHandler(func(string) error {
		if authorized {
			_ = wss.conn.SetReadDeadline(time.Now().Add(wss.srv.idleTimeout))
		}
		return nil
	})

	if authorized {
		if !wss.start() {
			return
		}
	}

	for {
		msgType, data, err := wss.conn.ReadMessage()
		if err != nil {
			if !authorized && isTimeout(err) {
				wss.srv.incMetric(metrics.AuthFailure)
				wss.closeWith(websocket.ClosePolicyViolation, "authentication timeout")
			}
			return
		}
		// Rate limit after reading so bytes already in the TCP receive buffer
		// are consumed; closing with unread data can turn into an abortive
		// close that hides the close code from the client.
		if wss.limiter != nil && !wss.limiter.Allow(1) {
			wss.srv.incMetric(metrics.DropReasonRateLimited)
			wss.fail("rate_limited", "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			wss.fail("bad_message", "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := parseClientMessage(data)
		if err != nil {
			wss.srv.incMetric(metrics.DropReasonBadMessage)
			wss.fail("bad_message", err.Error(), websocket.ClosePolicyViolation, "bad message")
			return
		}

		if !authorized {
			if msg.Type != messageTypeAuth {
				wss.srv.incMetric(metrics.AuthFailure)
				wss.fail("unauthorized", "authentication required", websocket.ClosePolicyViolation, "authentication required")
				return
			}

			cred := msg.APIKey
			if cred == "" {
				cred = msg.Token
			}
			if err := wss.srv.authorizer.Authorize(wss.req, &ClientHello{Credential: cred}); err != nil {
				wss.srv.incMetric(metrics.AuthFailure)
				wss.fail("unauthorized", unauthorizedMessage(err), websocket.ClosePolicyViolation, "unauthorized")
				return
			}

			authorized = true
			_ = wss.conn.SetReadDeadline(time.Now().Add(wss.srv.idleTimeout))
			if !wss.start() {
				return
			}
			continue
		}

		_ = wss.conn.SetReadDeadline(time.Now().Add(wss.srv.idleTimeout))

		switch msg.Type {
		case messageTypeAuth:
			// Tolerate repeated auth: clients may send it even when the query
			// string already authenticated them, or when AUTH_MODE=none.
		case messageTypeFindPeer:
			wss.srv.engine.FindPeer(wss.peerID)
		case messageTypeJoinPublicRoom:
			if err := wss.srv.engine.JoinPublicRoom(wss.peerID); err != nil {
				if errors.Is(err, relay.ErrRoomFull) {
					// Rejecting the join keeps the session usable.
					wss.sendError("room_full", "public room is full")
				}
			}
		case messageTypeSignal:
			wss.srv.engine.Signal(wss.peerID, msg.Payload)
		case messageTypeMessage, messageTypePublicMessage:
			wss.srv.engine.SendChat(wss.peerID, msg.Text)
		case messageTypeLeaveRoom:
			// Full session cleanup, matching a disconnect. The socket stays
			// open; further engine operations for this peer drop silently.
			wss.srv.engine.Disconnect(wss.peerID)
		case messageTypeClose:
			return
		}
	}
}

// start registers the peer with the engine and launches the write pump. It
// reports whether the session may continue.
func (wss *wsSession) start() bool {
	nick, err := wss.srv.engine.Connect(wss.peerID, wss)
	if err != nil {
		switch {
		case errors.Is(err, relay.ErrTooManyPeers):
			wss.fail("too_many_peers", "server is full", websocket.CloseTryAgainLater, "too many peers")
		default:
			wss.fail("internal_error", "failed to register peer", websocket.CloseInternalServerErr, "internal error")
		}
		return false
	}
	wss.srv.log.Debug("signaling session started", "peer", wss.peerID, "nickname", nick)

	go wss.writePump()
	return true
}

// writePump drains the outbound event queue and keeps the connection alive
// with periodic pings. It is the only writer of data frames.
func (wss *wsSession) writePump() {
	ticker := time.NewTicker(wss.srv.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-wss.out:
			data, err := json.Marshal(ev)
			if err != nil {
				wss.srv.log.Error("failed to encode event", "peer", wss.peerID, "event", ev.Type, "err", err)
				continue
			}
			if err := wss.write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			wss.writeMu.Lock()
			err := wss.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			wss.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-wss.done:
			return
		}
	}
}

func (wss *wsSession) write(msgType int, data []byte) error {
	wss.writeMu.Lock()
	defer wss.writeMu.Unlock()
	_ = wss.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return wss.conn.WriteMessage(msgType, data)
}

func (wss *wsSession) sendError(code, message string) {
	data, err := json.Marshal(wireError{Type: "error", Code: code, Message: message})
	if err != nil {
		return
	}
	_ = wss.write(websocket.TextMessage, data)
}

func (wss *wsSession) fail(code, message string, closeCode int, closeReason string) {
	wss.sendError(code, message)
	wss.closeWith(closeCode, closeReason)
}

func (wss *wsSession) closeWith(code int, reason string) {
	wss.writeMu.Lock()
	defer wss.writeMu.Unlock()
	_ = wss.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (wss *wsSession) Close() {
	wss.closeOnce.Do(func() {
		wss.srv.engine.Disconnect(wss.peerID)
		close(wss.done)
		_ = wss.conn.Close()
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
