package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/abyuwono/mivochat/internal/config"
	"github.com/abyuwono/mivochat/internal/httpserver"
	"github.com/abyuwono/mivochat/internal/metrics"
	"github.com/abyuwono/mivochat/internal/relay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newStack starts a signaling server backed by a fresh engine and returns the
// ws:// URL of its endpoint.
func newStack(t *testing.T, engineCfg relay.Config, mutate func(*Config)) string {
	t.Helper()

	if engineCfg.Logger == nil {
		engineCfg.Logger = testLogger()
	}
	cfg := Config{
		Engine: relay.NewEngine(engineCfg),
		Logger: testLogger(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s := NewServer(cfg)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	c, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	resp.Body.Close()
	t.Cleanup(func() { c.Close() })
	return c
}

func sendJSON(t *testing.T, c *websocket.Conn, raw string) {
	t.Helper()
	if err := c.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write %s: %v", raw, err)
	}
}

func readEvent(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev map[string]any
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return ev
}

// readUntil reads events until one of the wanted type arrives. Bounded so a
// misbehaving server fails the test instead of hanging it.
func readUntil(t *testing.T, c *websocket.Conn, eventType string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		ev := readEvent(t, c)
		if ev["type"] == eventType {
			return ev
		}
	}
	t.Fatalf("no %q event after 10 reads", eventType)
	return nil
}

func expectClosed(t *testing.T, c *websocket.Conn) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 10; i++ {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
	t.Fatal("connection still open after 10 reads")
}

func TestWebSocket_ConnectReceivesNickname(t *testing.T) {
	wsURL := newStack(t, relay.Config{}, nil)

	c := dial(t, wsURL)
	ev := readEvent(t, c)
	if ev["type"] != "nickname" {
		t.Fatalf("first event = %v, want nickname", ev["type"])
	}
	if nick, _ := ev["nickname"].(string); nick == "" {
		t.Fatalf("nickname event missing nickname: %v", ev)
	}
}

func TestWebSocket_PairingAndSignalRelay(t *testing.T) {
	wsURL := newStack(t, relay.Config{}, nil)

	a := dial(t, wsURL)
	b := dial(t, wsURL)
	readUntil(t, a, "nickname")
	readUntil(t, b, "nickname")

	sendJSON(t, a, `{"type":"find-peer"}`)
	sendJSON(t, b, `{"type":"find-peer"}`)

	roomA := readUntil(t, a, "room-joined")
	roomB := readUntil(t, b, "room-joined")
	foundA := readUntil(t, a, "peer-found")
	foundB := readUntil(t, b, "peer-found")

	initA, _ := foundA["isInitiator"].(bool)
	initB, _ := foundB["isInitiator"].(bool)
	if initA == initB {
		t.Fatalf("both peers got isInitiator=%v, want exactly one initiator", initA)
	}
	if roomA["roomId"] == "" || roomA["roomId"] != roomB["roomId"] {
		t.Fatalf("room ids differ: %v vs %v", roomA["roomId"], roomB["roomId"])
	}

	sendJSON(t, a, `{"type":"signal","payload":{"type":"offer","sdp":"v=0"}}`)
	sig := readUntil(t, b, "signal")
	payload, _ := sig["payload"].(map[string]any)
	if payload["sdp"] != "v=0" {
		t.Fatalf("relayed payload = %v", sig["payload"])
	}

	sendJSON(t, a, `{"type":"message","text":"hi there"}`)
	chat := readUntil(t, b, "message")
	if chat["text"] != "hi there" {
		t.Fatalf("chat text = %v", chat["text"])
	}
}

func TestWebSocket_LeaveRoomNotifiesPeerAndKeepsConnection(t *testing.T) {
	wsURL := newStack(t, relay.Config{}, nil)

	a := dial(t, wsURL)
	b := dial(t, wsURL)
	readUntil(t, a, "nickname")
	readUntil(t, b, "nickname")

	sendJSON(t, a, `{"type":"find-peer"}`)
	sendJSON(t, b, `{"type":"find-peer"}`)
	readUntil(t, a, "room-joined")
	readUntil(t, b, "room-joined")

	sendJSON(t, a, `{"type":"leave-room"}`)
	readUntil(t, b, "peer-disconnected")

	// a's session retired its registration but the socket stays open; later
	// operations drop without a response or a close frame.
	sendJSON(t, a, `{"type":"find-peer"}`)
	_ = a.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := a.ReadMessage(); !isNetTimeout(err) {
		t.Fatalf("read after leave-room = %v, want deadline timeout", err)
	}
}

func TestWebSocket_PublicRoomChat(t *testing.T) {
	wsURL := newStack(t, relay.Config{}, nil)

	a := dial(t, wsURL)
	readUntil(t, a, "nickname")
	sendJSON(t, a, `{"type":"join-public-room"}`)

	joined := readUntil(t, a, "public-room-joined")
	if joined["roomId"] != relay.DefaultPublicRoomID {
		t.Fatalf("roomId = %v", joined["roomId"])
	}
	if msgs, ok := joined["recentMessages"].([]any); !ok || len(msgs) != 0 {
		t.Fatalf("recentMessages = %v, want empty array", joined["recentMessages"])
	}
	if joined["userCount"] != float64(1) {
		t.Fatalf("userCount = %v, want 1", joined["userCount"])
	}

	b := dial(t, wsURL)
	readUntil(t, b, "nickname")
	sendJSON(t, b, `{"type":"join-public-room"}`)
	readUntil(t, b, "public-room-joined")

	count := readUntil(t, a, "user-count-updated")
	if count["userCount"] != float64(2) {
		t.Fatalf("userCount = %v, want 2", count["userCount"])
	}

	sendJSON(t, b, `{"type":"public-message","text":"hello room"}`)
	msg := readUntil(t, a, "public-message")
	if msg["text"] != "hello room" {
		t.Fatalf("text = %v", msg["text"])
	}
	if msg["sender"] == "" || msg["nickname"] == "" || msg["timestamp"] == "" {
		t.Fatalf("public-message incomplete: %v", msg)
	}

	// History replays to later joiners.
	c := dial(t, wsURL)
	readUntil(t, c, "nickname")
	sendJSON(t, c, `{"type":"join-public-room"}`)
	joinedC := readUntil(t, c, "public-room-joined")
	msgs, _ := joinedC["recentMessages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("recentMessages = %v, want one entry", joinedC["recentMessages"])
	}
}

func TestWebSocket_PublicRoomFullRejectsWithoutClosing(t *testing.T) {
	wsURL := newStack(t, relay.Config{PublicRoomCapacity: 1}, nil)

	a := dial(t, wsURL)
	readUntil(t, a, "nickname")
	sendJSON(t, a, `{"type":"join-public-room"}`)
	readUntil(t, a, "public-room-joined")

	b := dial(t, wsURL)
	readUntil(t, b, "nickname")
	sendJSON(t, b, `{"type":"join-public-room"}`)
	ev := readEvent(t, b)
	if ev["type"] != "error" || ev["code"] != "room_full" {
		t.Fatalf("event = %v, want room_full error", ev)
	}

	// The rejection is per-request; the session keeps working.
	sendJSON(t, b, `{"type":"join-public-room"}`)
	ev = readEvent(t, b)
	if ev["code"] != "room_full" {
		t.Fatalf("second join = %v, want room_full error", ev)
	}
}

func TestWebSocket_MaxPeers(t *testing.T) {
	wsURL := newStack(t, relay.Config{MaxPeers: 1}, nil)

	a := dial(t, wsURL)
	readUntil(t, a, "nickname")

	b := dial(t, wsURL)
	ev := readEvent(t, b)
	if ev["type"] != "error" || ev["code"] != "too_many_peers" {
		t.Fatalf("event = %v, want too_many_peers error", ev)
	}
	expectClosed(t, b)
}

func TestWebSocket_APIKeyQueryAuth(t *testing.T) {
	authz, err := NewAuthorizer(config.Config{AuthMode: config.AuthModeAPIKey, APIKey: "sekrit"})
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	wsURL := newStack(t, relay.Config{}, func(cfg *Config) {
		cfg.Authorizer = authz
	})

	c := dial(t, wsURL+"?apiKey=sekrit")
	readUntil(t, c, "nickname")

	bad := dial(t, wsURL+"?apiKey=wrong")
	ev := readEvent(t, bad)
	if ev["type"] != "error" || ev["code"] != "unauthorized" {
		t.Fatalf("event = %v, want unauthorized error", ev)
	}
	expectClosed(t, bad)
}

func TestWebSocket_APIKeyFirstMessageAuth(t *testing.T) {
	authz, err := NewAuthorizer(config.Config{AuthMode: config.AuthModeAPIKey, APIKey: "sekrit"})
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	wsURL := newStack(t, relay.Config{}, func(cfg *Config) {
		cfg.Authorizer = authz
	})

	c := dial(t, wsURL)
	sendJSON(t, c, `{"type":"auth","apiKey":"sekrit"}`)
	readUntil(t, c, "nickname")

	bad := dial(t, wsURL)
	sendJSON(t, bad, `{"type":"auth","apiKey":"wrong"}`)
	ev := readEvent(t, bad)
	if ev["code"] != "unauthorized" {
		t.Fatalf("event = %v, want unauthorized error", ev)
	}
	expectClosed(t, bad)
}

func TestWebSocket_UnauthenticatedOperationRejected(t *testing.T) {
	authz, err := NewAuthorizer(config.Config{AuthMode: config.AuthModeAPIKey, APIKey: "sekrit"})
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	wsURL := newStack(t, relay.Config{}, func(cfg *Config) {
		cfg.Authorizer = authz
	})

	c := dial(t, wsURL)
	sendJSON(t, c, `{"type":"find-peer"}`)
	ev := readEvent(t, c)
	if ev["code"] != "unauthorized" {
		t.Fatalf("event = %v, want unauthorized error", ev)
	}
	expectClosed(t, c)
}

func TestWebSocket_AuthTimeout(t *testing.T) {
	authz, err := NewAuthorizer(config.Config{AuthMode: config.AuthModeAPIKey, APIKey: "sekrit"})
	if err != nil {
		t.Fatalf("NewAuthorizer: %v", err)
	}
	wsURL := newStack(t, relay.Config{}, func(cfg *Config) {
		cfg.Authorizer = authz
		cfg.AuthTimeout = 100 * time.Millisecond
	})

	c := dial(t, wsURL)
	expectClosed(t, c)
}

func TestWebSocket_BadMessageCloses(t *testing.T) {
	wsURL := newStack(t, relay.Config{}, nil)

	c := dial(t, wsURL)
	readUntil(t, c, "nickname")
	sendJSON(t, c, `not json`)
	ev := readEvent(t, c)
	if ev["type"] != "error" || ev["code"] != "bad_message" {
		t.Fatalf("event = %v, want bad_message error", ev)
	}
	expectClosed(t, c)
}

func TestWebSocket_BinaryMessageCloses(t *testing.T) {
	wsURL := newStack(t, relay.Config{}, nil)

	c := dial(t, wsURL)
	readUntil(t, c, "nickname")
	if err := c.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectClosed(t, c)
}

func TestWebSocket_RateLimit(t *testing.T) {
	m := metrics.New()
	wsURL := newStack(t, relay.Config{}, func(cfg *Config) {
		cfg.Metrics = m
		cfg.MaxMessagesPerSecond = 1
	})

	c := dial(t, wsURL)
	readUntil(t, c, "nickname")
	sendJSON(t, c, `{"type":"find-peer"}`)
	sendJSON(t, c, `{"type":"find-peer"}`)
	expectClosed(t, c)

	deadline := time.Now().Add(2 * time.Second)
	for m.Get(metrics.DropReasonRateLimited) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("rate limit drop never counted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocket_OriginPolicy(t *testing.T) {
	wsURL := newStack(t, relay.Config{}, func(cfg *Config) {
		cfg.AllowedOrigins = []string{"https://app.example.com"}
	})

	header := http.Header{"Origin": []string{"https://app.example.com"}}
	c, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	resp.Body.Close()
	c.Close()

	header = http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err = websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("dial with disallowed origin succeeded")
	}
	if resp != nil {
		resp.Body.Close()
	}
}

func TestWebSocket_PingKeepsIdleConnectionAlive(t *testing.T) {
	wsURL := newStack(t, relay.Config{}, func(cfg *Config) {
		cfg.PingInterval = 30 * time.Millisecond
		cfg.IdleTimeout = 150 * time.Millisecond
	})

	c := dial(t, wsURL)
	readUntil(t, c, "nickname")

	// The dialer's default ping handler answers server pings while we sit in
	// ReadMessage, so the idle deadline keeps being pushed forward.
	_ = c.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	if _, _, err := c.ReadMessage(); !isNetTimeout(err) {
		t.Fatalf("read = %v, want deadline timeout on our side", err)
	}

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	sendJSON(t, c, `{"type":"join-public-room"}`)
	readUntil(t, c, "public-room-joined")
}

// The production wiring routes /ws through the httpserver middleware chain,
// so the upgrade must survive the logging middleware's response wrapper.
func TestWebSocket_ThroughHTTPServerMiddleware(t *testing.T) {
	logger := testLogger()
	cfg := config.Config{
		ListenAddr:     "127.0.0.1:0",
		AllowedOrigins: []string{"https://app.example.com"},
	}
	engine := relay.NewEngine(relay.Config{Logger: logger})
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{}, engine, nil)
	sig := NewServer(Config{Engine: engine, Logger: logger})
	sig.RegisterRoutes(srv.Mux())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	wsURL := "ws://" + ln.Addr().String() + "/ws"
	c := dial(t, wsURL)
	readUntil(t, c, "nickname")
	sendJSON(t, c, `{"type":"join-public-room"}`)
	readUntil(t, c, "public-room-joined")

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestWebSocket_CloseMessageEndsSession(t *testing.T) {
	wsURL := newStack(t, relay.Config{}, nil)

	a := dial(t, wsURL)
	b := dial(t, wsURL)
	readUntil(t, a, "nickname")
	readUntil(t, b, "nickname")

	sendJSON(t, a, `{"type":"find-peer"}`)
	sendJSON(t, b, `{"type":"find-peer"}`)
	readUntil(t, a, "room-joined")
	readUntil(t, b, "room-joined")

	sendJSON(t, a, `{"type":"close"}`)
	readUntil(t, b, "peer-disconnected")
	expectClosed(t, a)
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
