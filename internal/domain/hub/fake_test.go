package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"harmony-bridge/internal/domain/model"
	"harmony-bridge/internal/logger"
	"harmony-bridge/internal/ports"
)

var errFakeClosed = errors.New("fake connection closed")

type fakeTransport struct {
	conn    *fakeConn
	dialErr error
	gate    chan struct{} // when set, Dial blocks until closed
}

func (t *fakeTransport) Dial(ctx context.Context, _ string) (ports.HubConn, error) {
	if t.gate != nil {
		select {
		case <-t.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.dialErr != nil {
		return nil, t.dialErr
	}
	return t.conn, nil
}

// responder returns the frames the fake hub sends back for a request.
type responder func(req model.Request) []model.Inbound

type fakeConn struct {
	remoteID     int64
	handshakeErr error
	sendErr      error

	mu      sync.Mutex
	respond responder
	sent    []model.Request

	inbound   chan model.Inbound
	recvErr   chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(respond responder) *fakeConn {
	return &fakeConn{
		remoteID: 4242,
		respond:  respond,
		inbound:  make(chan model.Inbound, 256),
		recvErr:  make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) Handshake(context.Context) (int64, error) {
	return c.remoteID, c.handshakeErr
}

func (c *fakeConn) Send(_ context.Context, req model.Request) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	c.sent = append(c.sent, req)
	respond := c.respond
	c.mu.Unlock()

	if respond != nil {
		for _, in := range respond(req) {
			c.inbound <- in
		}
	}
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (model.Inbound, error) {
	select {
	case in := <-c.inbound:
		return in, nil
	case err := <-c.recvErr:
		return model.Inbound{}, err
	case <-c.closed:
		return model.Inbound{}, errFakeClosed
	case <-ctx.Done():
		return model.Inbound{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(kind model.PushKind, data model.Document) {
	c.inbound <- model.Inbound{Kind: model.InboundPush, Push: kind, Data: data}
}

func (c *fakeConn) drop(err error) {
	c.recvErr <- err
}

func (c *fakeConn) setResponder(r responder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.respond = r
}

func (c *fakeConn) requests() []model.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Request(nil), c.sent...)
}

func (c *fakeConn) requestsOf(kind model.CommandKind) []model.Request {
	var out []model.Request
	for _, r := range c.requests() {
		if r.Command.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func reply(req model.Request, data model.Document) model.Inbound {
	return model.Inbound{Kind: model.InboundResponse, ID: req.ID, Code: model.CodeOK, Data: data}
}

func testActivities() []any {
	return []any{
		map[string]any{"id": "-1", "label": "PowerOff"},
		map[string]any{"id": "1", "label": "Watch TV"},
		map[string]any{"id": "2", "label": "Listen to Music"},
	}
}

func testDevices() []any {
	return []any{
		map[string]any{"id": "100", "label": "Amplifier", "controlGroup": []any{}},
	}
}

// hubResponder answers like a hub whose current activity is current.
func hubResponder(current string) responder {
	return func(req model.Request) []model.Inbound {
		switch req.Command.Kind {
		case model.CommandFetchConfig:
			return []model.Inbound{reply(req, map[string]any{"activity": testActivities(), "device": testDevices()})}
		case model.CommandFetchCurrentActivity:
			return []model.Inbound{reply(req, map[string]any{"result": current})}
		default:
			return []model.Inbound{reply(req, map[string]any{})}
		}
	}
}

func openTest(t *testing.T, tr ports.HubTransport, observer any, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewTestLogger())}, opts...)
	s := Open(context.Background(), tr, "192.168.1.50", observer, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitReady(t *testing.T, s *Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State() == model.StateReady &&
			s.Activities().Present() && s.Devices().Present() && s.CurrentActivity().Present()
	}, 2*time.Second, 5*time.Millisecond)
}

// responses collects completions.
type responses struct {
	mu  sync.Mutex
	got []model.Response
}

func (r *responses) completion() model.Completion {
	return func(resp model.Response) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.got = append(r.got, resp)
	}
}

func (r *responses) all() []model.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Response(nil), r.got...)
}

func (r *responses) count() int {
	return len(r.all())
}

type recordingObserver struct {
	mu         sync.Mutex
	activities []model.Snapshot[[]model.Record]
	current    []model.Snapshot[model.Record]
	seen       []string // current activity id read from the accessor inside the callback
	devices    []model.Snapshot[[]model.Record]
	lost       []error
}

func (o *recordingObserver) OnActivitiesChanged(_ *Session, old model.Snapshot[[]model.Record]) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activities = append(o.activities, old)
}

func (o *recordingObserver) OnCurrentActivityChanged(s *Session, old model.Snapshot[model.Record]) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current = append(o.current, old)
	o.seen = append(o.seen, s.CurrentActivity().Value().ID())
}

func (o *recordingObserver) OnDevicesChanged(_ *Session, old model.Snapshot[[]model.Record]) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.devices = append(o.devices, old)
}

func (o *recordingObserver) OnConnectionLost(_ *Session, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lost = append(o.lost, err)
}

func (o *recordingObserver) counts() (activities, current, devices, lost int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.activities), len(o.current), len(o.devices), len(o.lost)
}
