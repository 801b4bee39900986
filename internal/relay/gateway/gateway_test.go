package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danyal-tariq/MeetUpSync/internal/auth"
	"github.com/danyal-tariq/MeetUpSync/internal/auth/jwt"
	"github.com/danyal-tariq/MeetUpSync/internal/common/config"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/monitor"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/protocol"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/registry"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/room"
	"github.com/danyal-tariq/MeetUpSync/internal/relay/router"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testTimeout = 2 * time.Second

type testServer struct {
	srv   *httptest.Server
	store *registry.MemoryStore
	rooms *room.Manager
}

func newTestServer(t *testing.T, authenticator auth.Authenticator) *testServer {
	return newTestServerWith(t, authenticator, nil)
}

func newTestServerWith(t *testing.T, authenticator auth.Authenticator, presence registry.Presence) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := zap.NewNop()
	store := registry.NewMemoryStore(logger, 16)
	rooms := room.NewManager(logger, nil)
	rt := router.New(logger, store, rooms, nil, nil)
	if presence == nil {
		var err error
		presence, err = registry.NewPresence(logger, &config.PresenceConfig{Type: "memory"}, store)
		require.NoError(t, err)
	}

	gw := New(logger, config.GatewayConfig{
		Path:            "/ws",
		SendQueueSize:   16,
		MaxMessageBytes: 64 * 1024,
	}, store, rooms, rt, authenticator, presence, nil)

	engine := gin.New()
	engine.GET("/ws", gw.HandleWS)
	engine.GET("/presence", gw.HandlePresence)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: store, rooms: rooms}
}

func (ts *testServer) wsURL(query string) string {
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	if query != "" {
		url += "?" + query
	}
	return url
}

func dial(t *testing.T, ts *testServer, query string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(ts.wsURL(query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) *protocol.Envelope {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(testTimeout)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return &env
}

func textData(t *testing.T, env *protocol.Envelope) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(env.Data, &s))
	return s
}

func idsData(t *testing.T, env *protocol.Envelope) []string {
	t.Helper()
	var ids []string
	require.NoError(t, json.Unmarshal(env.Data, &ids))
	return ids
}

// connect dials and consumes the greeting, returning the assigned id and
// the peer snapshot.
func connect(t *testing.T, ts *testServer) (ws *websocket.Conn, id string, peers []string) {
	t.Helper()
	ws = dial(t, ts, "")

	env := readEnvelope(t, ws)
	require.Equal(t, protocol.TypeConnection, env.Type)

	env = readEnvelope(t, ws)
	require.Equal(t, protocol.TypeID, env.Type)
	id = textData(t, env)
	require.NotEmpty(t, id)

	env = readEnvelope(t, ws)
	require.Equal(t, protocol.TypeExistingClients, env.Type)
	peers = idsData(t, env)
	return ws, id, peers
}

func sendEnvelope(t *testing.T, ws *websocket.Conn, env *protocol.Envelope) {
	t.Helper()
	data, err := env.Encode()
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, data))
}

func TestConnectGreeting(t *testing.T) {
	ts := newTestServer(t, auth.NoopAuthenticator{})

	_, id, peers := connect(t, ts)
	assert.Empty(t, peers, "first connection sees an empty snapshot")

	conn, err := ts.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, conn.Alive())
}

func TestSecondConnectionAnnounced(t *testing.T) {
	ts := newTestServer(t, auth.NoopAuthenticator{})

	wsA, idA, peersA := connect(t, ts)
	require.Empty(t, peersA)

	_, idB, peersB := connect(t, ts)
	assert.Equal(t, []string{idA}, peersB, "B's snapshot holds exactly A")

	env := readEnvelope(t, wsA)
	assert.Equal(t, protocol.TypeNewConnection, env.Type)
	assert.Equal(t, idB, textData(t, env))
}

func TestTargetedMessage(t *testing.T) {
	ts := newTestServer(t, auth.NoopAuthenticator{})

	wsA, idA, _ := connect(t, ts)
	wsB, idB, _ := connect(t, ts)
	readEnvelope(t, wsA) // A's new-connection for B

	sendEnvelope(t, wsB, &protocol.Envelope{
		Type:     protocol.TypeMessage,
		Data:     protocol.Text("hello A"),
		TargetID: idA,
	})

	env := readEnvelope(t, wsA)
	assert.Equal(t, protocol.TypeMessage, env.Type)
	assert.Equal(t, idB, env.SenderID, "sender identity comes from the registry")
	assert.Equal(t, "hello A", textData(t, env))
}

func TestDisconnectionBroadcast(t *testing.T) {
	ts := newTestServer(t, auth.NoopAuthenticator{})

	wsA, idA, _ := connect(t, ts)
	wsB, _, _ := connect(t, ts)
	readEnvelope(t, wsA) // new-connection for B

	require.NoError(t, wsA.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	wsA.Close()

	env := readEnvelope(t, wsB)
	assert.Equal(t, protocol.TypeDisconnection, env.Type)
	assert.Equal(t, idA, textData(t, env))

	// the entry is gone once the departure was announced
	require.Eventually(t, func() bool {
		_, err := ts.store.Get(context.Background(), idA)
		return err != nil
	}, testTimeout, 10*time.Millisecond)
}

func TestMalformedEnvelopeKeepsConnection(t *testing.T) {
	ts := newTestServer(t, auth.NoopAuthenticator{})

	wsA, idA, _ := connect(t, ts)
	wsB, _, _ := connect(t, ts)
	readEnvelope(t, wsA)

	require.NoError(t, wsB.WriteMessage(websocket.TextMessage, []byte("{not json")))

	env := readEnvelope(t, wsB)
	assert.Equal(t, protocol.TypeError, env.Type)

	// still registered and still able to send
	sendEnvelope(t, wsB, &protocol.Envelope{
		Type:     protocol.TypeMessage,
		Data:     protocol.Text("still here"),
		TargetID: idA,
	})
	env = readEnvelope(t, wsA)
	assert.Equal(t, "still here", textData(t, env))
}

func TestJoinRoomAnnouncesPresence(t *testing.T) {
	ts := newTestServer(t, auth.NoopAuthenticator{})

	wsA, idA, _ := connect(t, ts)
	wsB, idB, _ := connect(t, ts)
	readEnvelope(t, wsA)

	sendEnvelope(t, wsA, &protocol.Envelope{Type: protocol.TypeJoin, Room: "standup"})
	env := readEnvelope(t, wsA)
	require.Equal(t, protocol.TypePresence, env.Type)
	assert.Equal(t, "standup", env.Room)
	assert.Equal(t, []string{idA}, idsData(t, env))

	sendEnvelope(t, wsB, &protocol.Envelope{Type: protocol.TypeJoin, Room: "standup"})
	env = readEnvelope(t, wsA)
	require.Equal(t, protocol.TypePresence, env.Type)
	assert.ElementsMatch(t, []string{idA, idB}, idsData(t, env))

	// room-scoped message reaches the other member
	sendEnvelope(t, wsB, &protocol.Envelope{
		Type: protocol.TypeMessage,
		Data: protocol.Text("room msg"),
		Room: "standup",
	})
	env = readEnvelope(t, wsA)
	assert.Equal(t, protocol.TypeMessage, env.Type)
	assert.Equal(t, "standup", env.Room)
	assert.Equal(t, idB, env.SenderID)
}

func TestAuthRefusedBeforeUpgrade(t *testing.T) {
	svc, err := jwt.NewService(jwt.Config{
		SecretKey: "0123456789abcdef0123456789abcdef",
		Duration:  time.Hour,
	})
	require.NoError(t, err)
	ts := newTestServer(t, auth.NewJWTAuthenticator(svc))

	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL(""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthAcceptedWithToken(t *testing.T) {
	svc, err := jwt.NewService(jwt.Config{
		SecretKey: "0123456789abcdef0123456789abcdef",
		Duration:  time.Hour,
	})
	require.NoError(t, err)
	ts := newTestServer(t, auth.NewJWTAuthenticator(svc))

	token, err := svc.GenerateToken("u-1", "dana")
	require.NoError(t, err)

	ws, _, err := websocket.DefaultDialer.Dial(ts.wsURL("token="+token), nil)
	require.NoError(t, err)
	defer ws.Close()

	env := readEnvelope(t, ws)
	assert.Equal(t, protocol.TypeConnection, env.Type)

	env = readEnvelope(t, ws)
	require.Equal(t, protocol.TypeID, env.Type)
	id := textData(t, env)

	meta, err := ts.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "u-1", meta.Meta().UserID)
	assert.Equal(t, "dana", meta.Meta().Username)
}

func TestMonitorEvictionAnnouncedOnce(t *testing.T) {
	ts := newTestServer(t, auth.NoopAuthenticator{})

	wsA, idA, _ := connect(t, ts)
	wsB, idB, _ := connect(t, ts)
	readEnvelope(t, wsA) // new-connection for B

	// A stops reading, so the server's ping is never answered: round one
	// marks it unproven, round two force-closes it.
	mon := monitor.New(zap.NewNop(), ts.store, nil, time.Second)
	mon.Sweep(context.Background())

	// B keeps reading in the background, so gorilla's ping handler answers
	// round one's probe and B stays proven through round two. The same read
	// then delivers A's departure.
	envB := make(chan *protocol.Envelope, 1)
	go func() {
		defer close(envB)
		if wsB.SetReadDeadline(time.Now().Add(testTimeout)) != nil {
			return
		}
		_, data, err := wsB.ReadMessage()
		if err != nil {
			return
		}
		var env protocol.Envelope
		if json.Unmarshal(data, &env) != nil {
			return
		}
		envB <- &env
	}()

	connB, err := ts.store.Get(context.Background(), idB)
	require.NoError(t, err)
	require.Eventually(t, connB.Alive, testTimeout, 10*time.Millisecond)

	mon.Sweep(context.Background())

	env, ok := <-envB
	require.True(t, ok, "expected a disconnection envelope on B")
	assert.Equal(t, protocol.TypeDisconnection, env.Type)
	assert.Equal(t, idA, textData(t, env))

	require.Eventually(t, func() bool {
		_, err := ts.store.Get(context.Background(), idA)
		return err != nil
	}, testTimeout, 10*time.Millisecond)

	// the departure is announced exactly once
	require.NoError(t, wsB.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, _, err = wsB.ReadMessage()
	assert.Error(t, err)
}

// blockingPresence stalls Touch until released, standing in for a slow
// presence backend.
type blockingPresence struct {
	release chan struct{}
}

func (p *blockingPresence) Online(context.Context, *registry.Meta) error { return nil }

func (p *blockingPresence) Offline(context.Context, string) error { return nil }

func (p *blockingPresence) Touch(ctx context.Context, _ string) error {
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *blockingPresence) OnlineIDs(context.Context) ([]string, error) { return nil, nil }

func (p *blockingPresence) Close() error { return nil }

func TestPongHandlerDoesNotBlockOnPresence(t *testing.T) {
	p := &blockingPresence{release: make(chan struct{})}
	defer close(p.release)
	ts := newTestServerWith(t, auth.NoopAuthenticator{}, p)

	wsA, _, _ := connect(t, ts)
	wsB, idB, _ := connect(t, ts)
	readEnvelope(t, wsA) // new-connection for B

	// pong first, then a message: with Touch stalled the message must
	// still relay immediately
	require.NoError(t, wsA.WriteControl(websocket.PongMessage, nil, time.Now().Add(time.Second)))
	sendEnvelope(t, wsA, &protocol.Envelope{
		Type:     protocol.TypeMessage,
		Data:     protocol.Text("through"),
		TargetID: idB,
	})

	env := readEnvelope(t, wsB)
	assert.Equal(t, protocol.TypeMessage, env.Type)
	assert.Equal(t, "through", textData(t, env))
}

func TestPresenceEndpoint(t *testing.T) {
	ts := newTestServer(t, auth.NoopAuthenticator{})

	_, idA, _ := connect(t, ts)

	resp, err := http.Get(ts.srv.URL + "/presence")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Online []string `json:"online"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Online, idA)
}
