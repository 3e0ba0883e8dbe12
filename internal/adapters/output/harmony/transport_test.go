package harmony

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"harmony-bridge/internal/domain/hub"
	"harmony-bridge/internal/domain/model"
	"harmony-bridge/internal/logger"
)

// fakeHub serves the provisioning endpoint and the websocket on one port.
type fakeHub struct {
	srv      *httptest.Server
	remoteID string

	failProvision  atomic.Int32 // number of provisioning calls answered with 503
	provisionCode  int
	provisionCalls atomic.Int32
	origin         atomic.Value
	query          chan url.Values
	requests       chan map[string]any

	mu      sync.Mutex
	ws      *websocket.Conn
	respond func(req map[string]any) []any
}

func newFakeHub(t *testing.T) *fakeHub {
	t.Helper()
	h := &fakeHub{
		remoteID:      "4242",
		provisionCode: http.StatusOK,
		query:         make(chan url.Values, 4),
		requests:      make(chan map[string]any, 64),
	}
	h.srv = httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *fakeHub) port() int {
	return h.srv.Listener.Addr().(*net.TCPAddr).Port
}

func (h *fakeHub) transport() *Transport {
	return NewTransport(
		WithPort(h.port()),
		WithRetryWindow(2*time.Second),
		WithLogger(logger.NewTestLogger()),
	)
}

func (h *fakeHub) serve(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		h.serveSocket(w, r)
		return
	}

	h.provisionCalls.Add(1)
	h.origin.Store(r.Header.Get("Origin"))
	if h.failProvision.Load() > 0 {
		h.failProvision.Add(-1)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if h.provisionCode != http.StatusOK {
		w.WriteHeader(h.provisionCode)
		return
	}

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body["cmd"] != "setup.account?getProvisionInfo" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	data := map[string]any{"email": "user@example.com"}
	if h.remoteID != "" {
		data["activeRemoteId"] = json.Number(h.remoteID)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"id": 1, "code": 200, "msg": "OK", "data": data})
}

func (h *fakeHub) serveSocket(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ws, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	h.mu.Lock()
	h.ws = ws
	h.mu.Unlock()
	h.query <- r.URL.Query()

	for {
		var req map[string]any
		if err := ws.ReadJSON(&req); err != nil {
			return
		}
		h.requests <- req

		h.mu.Lock()
		respond := h.respond
		h.mu.Unlock()
		if respond == nil {
			continue
		}
		for _, out := range respond(req) {
			h.write(out)
		}
	}
}

func (h *fakeHub) write(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ws != nil {
		_ = h.ws.WriteJSON(v)
	}
}

func (h *fakeHub) setRespond(fn func(req map[string]any) []any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.respond = fn
}

func (h *fakeHub) dropSocket() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ws != nil {
		_ = h.ws.Close()
	}
}

func busOf(req map[string]any) (cmd, id string) {
	bus, _ := req["hbus"].(map[string]any)
	cmd, _ = bus["cmd"].(string)
	id, _ = bus["id"].(string)
	return cmd, id
}

func okReply(req map[string]any, data any) map[string]any {
	cmd, id := busOf(req)
	return map[string]any{"cmd": cmd, "id": id, "code": 200, "msg": "OK", "data": data}
}

// harmonyResponder answers like a hub running activity current.
func harmonyResponder(current string) func(req map[string]any) []any {
	return func(req map[string]any) []any {
		cmd, _ := busOf(req)
		switch cmd {
		case cmdConfig:
			return []any{okReply(req, map[string]any{
				"activity": []any{
					map[string]any{"id": "-1", "label": "PowerOff"},
					map[string]any{"id": "1", "label": "Watch TV"},
					map[string]any{"id": "2", "label": "Listen to Music"},
				},
				"device": []any{map[string]any{"id": "100", "label": "Amplifier"}},
			})}
		case cmdCurrentActivity:
			return []any{okReply(req, map[string]any{"result": current})}
		case cmdStartActivity:
			_, id := busOf(req)
			return []any{
				map[string]any{"cmd": cmd, "id": id, "code": 100, "msg": "Continue"},
				okReply(req, map[string]any{}),
			}
		case cmdHoldAction:
			return nil
		}
		return []any{okReply(req, map[string]any{})}
	}
}

func dialTest(t *testing.T, h *fakeHub) *Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := h.transport().Dial(ctx, "127.0.0.1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	id, err := conn.Handshake(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4242), id)
	return conn.(*Conn)
}

func TestTransport_DialAndHandshake(t *testing.T) {
	h := newFakeHub(t)
	dialTest(t, h)

	assert.Equal(t, "http://sl.dhg.myharmony.com", h.origin.Load())
	select {
	case q := <-h.query:
		assert.Equal(t, "4242", q.Get("hubId"))
		assert.Equal(t, "svcs.myharmony.com", q.Get("domain"))
	case <-time.After(time.Second):
		t.Fatal("websocket was not opened")
	}
}

func TestTransport_DialRetriesUntilReachable(t *testing.T) {
	h := newFakeHub(t)
	h.failProvision.Store(2)

	conn, err := h.transport().Dial(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, int32(3), h.provisionCalls.Load())
}

func TestTransport_DialRejectedIsNotRetried(t *testing.T) {
	h := newFakeHub(t)
	h.provisionCode = http.StatusForbidden

	_, err := h.transport().Dial(context.Background(), "127.0.0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 403")
	assert.Equal(t, int32(1), h.provisionCalls.Load())
}

func TestTransport_DialUnreachable(t *testing.T) {
	h := newFakeHub(t)
	port := h.port()
	h.srv.Close()

	tr := NewTransport(WithPort(port), WithRetryWindow(300*time.Millisecond), WithLogger(logger.NewTestLogger()))
	start := time.Now()
	_, err := tr.Dial(context.Background(), "127.0.0.1")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTransport_DialHonoursContext(t *testing.T) {
	h := newFakeHub(t)
	h.failProvision.Store(1000)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	tr := NewTransport(WithPort(h.port()), WithRetryWindow(time.Minute), WithLogger(logger.NewTestLogger()))
	_, err := tr.Dial(ctx, "127.0.0.1")
	require.Error(t, err)
}

func TestConn_HandshakeWithoutRemoteID(t *testing.T) {
	h := newFakeHub(t)
	h.remoteID = ""

	conn, err := h.transport().Dial(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Handshake(context.Background())
	assert.Error(t, err)
}

func TestConn_SendReceive(t *testing.T) {
	h := newFakeHub(t)
	h.setRespond(harmonyResponder("1"))
	conn := dialTest(t, h)
	ctx := context.Background()

	require.NoError(t, conn.Send(ctx, model.Request{ID: "r1", Command: model.Command{Kind: model.CommandStartActivity, Arg: "2"}}))

	sent := <-h.requests
	assert.Equal(t, "4242", sent["hubId"])

	in, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.InboundProgress, in.Kind)
	assert.Equal(t, "r1", in.ID)

	in, err = conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.InboundResponse, in.Kind)
	assert.Equal(t, model.CodeOK, in.Code)

	h.write(map[string]any{"type": "connect.stateDigest?notify", "data": map[string]any{"activityId": "2", "activityStatus": 2}})
	in, err = conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.InboundPush, in.Kind)
	assert.Equal(t, model.PushCurrentActivity, in.Push)
}

func TestConn_ButtonCommandsConfirmedOnWrite(t *testing.T) {
	h := newFakeHub(t)
	h.setRespond(harmonyResponder("1"))
	conn := dialTest(t, h)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, conn.Send(ctx, model.Request{ID: "p1", Command: model.Command{Kind: model.CommandButtonPress, Arg: "Mute"}}))
	sent := <-h.requests
	cmd, _ := busOf(sent)
	assert.Equal(t, cmdHoldAction, cmd)

	in, err := conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Inbound{Kind: model.InboundResponse, ID: "p1", Code: model.CodeOK, Message: "OK"}, in)

	// a reply the hub sends anyway is not delivered twice
	h.write(okReply(sent, nil))
	h.write(map[string]any{"type": "harmony.engine?configChanged", "data": map[string]any{}})
	in, err = conn.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.PushConfigChanged, in.Push)
}

func TestConn_SkipsUndecodableFrames(t *testing.T) {
	h := newFakeHub(t)
	conn := dialTest(t, h)
	<-h.query

	h.mu.Lock()
	_ = h.ws.WriteMessage(websocket.TextMessage, []byte("garbage"))
	h.mu.Unlock()
	h.write(map[string]any{"type": "harmony.engine?configChanged", "data": map[string]any{}})

	in, err := conn.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.PushConfigChanged, in.Push)
}

func TestConn_ReceiveHonoursContext(t *testing.T) {
	h := newFakeHub(t)
	conn := dialTest(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := conn.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConn_RemoteCloseEndsReceive(t *testing.T) {
	h := newFakeHub(t)
	conn := dialTest(t, h)
	<-h.query

	h.dropSocket()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := conn.Receive(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestConn_SendAfterClose(t *testing.T) {
	h := newFakeHub(t)
	conn := dialTest(t, h)

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
	err := conn.Send(context.Background(), model.Request{ID: "x", Command: model.Command{Kind: model.CommandFetchConfig}})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = conn.Receive(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSessionOverWebsocket(t *testing.T) {
	h := newFakeHub(t)
	h.setRespond(harmonyResponder("1"))

	s := hub.Open(context.Background(), h.transport(), "127.0.0.1", nil, hub.WithLogger(logger.NewTestLogger()))
	t.Cleanup(func() { _ = s.Close() })

	require.Eventually(t, func() bool {
		return s.State() == model.StateReady && s.CurrentActivity().Present() && s.Activities().Present()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(4242), s.RemoteID())
	assert.Equal(t, "Watch TV", s.CurrentActivity().Value().Label())
	assert.Len(t, s.Devices().Value(), 1)

	done := make(chan model.Response, 1)
	s.StartActivity("2", func(r model.Response) { done <- r })
	select {
	case r := <-done:
		assert.IsType(t, model.Success{}, r)
	case <-time.After(2 * time.Second):
		t.Fatal("start activity did not resolve")
	}

	pressed := make(chan model.Response, 1)
	s.ButtonPress(model.ButtonAction("100", "Mute"), func(r model.Response) { pressed <- r })
	select {
	case r := <-pressed:
		assert.IsType(t, model.Success{}, r, "the hub does not reply to holdAction")
	case <-time.After(2 * time.Second):
		t.Fatal("button press did not resolve")
	}

	h.write(map[string]any{"type": "harmony.engine?startActivityFinished", "data": map[string]any{"activityId": "2"}})
	require.Eventually(t, func() bool {
		return s.CurrentActivity().Value().Label() == "Listen to Music"
	}, 2*time.Second, 10*time.Millisecond)

	h.dropSocket()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not notice the dropped socket")
	}
	assert.True(t, hub.IsConnectionError(s.Err()))
}
