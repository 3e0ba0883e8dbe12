// Package hub implements the session engine for a single Harmony hub:
// connection lifecycle, request/response correlation and change
// notification for the hub's activities, current activity and devices.
package hub

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"harmony-bridge/internal/domain/model"
	"harmony-bridge/internal/logger"
	"harmony-bridge/internal/ports"
)

const (
	DefaultCommandTimeout = 30 * time.Second
	DefaultQueueDepth     = 16
)

type options struct {
	logger          zerolog.Logger
	commandTimeout  time.Duration
	queueDepth      int
	refreshInterval time.Duration
}

type Option func(*options)

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCommandTimeout bounds how long a command waits for its reply. Zero disables the deadline.
func WithCommandTimeout(d time.Duration) Option {
	return func(o *options) { o.commandTimeout = d }
}

// WithQueueDepth bounds the number of commands held while the session is not yet ready.
func WithQueueDepth(n int) Option {
	return func(o *options) { o.queueDepth = n }
}

// WithRefreshInterval re-fetches the hub state periodically. Zero disables polling.
func WithRefreshInterval(d time.Duration) Option {
	return func(o *options) { o.refreshInterval = d }
}

type queuedCommand struct {
	command    model.Command
	completion model.Completion
}

// Session manages one hub. All public methods are non-blocking; command
// results arrive on completions and state changes on watchers.
type Session struct {
	address   string
	transport ports.HubTransport
	opts      options
	diag      diag

	state    atomic.Int32
	remoteID atomic.Int64

	correlator *correlator
	store      *store
	notifier   *notifier

	mu       sync.Mutex // guards conn, queue, err
	conn     ports.HubConn
	queue    []queuedCommand
	err      error

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Open starts connecting to the hub at address and returns immediately.
// observer may implement any of ActivitiesObserver, CurrentActivityObserver,
// DevicesObserver and ConnectionObserver. The session closes when ctx ends.
func Open(ctx context.Context, transport ports.HubTransport, address string, observer any, opts ...Option) *Session {
	o := options{
		logger:         logger.WithComponent("hub"),
		commandTimeout: DefaultCommandTimeout,
		queueDepth:     DefaultQueueDepth,
	}
	for _, opt := range opts {
		opt(&o)
	}

	sctx, cancel := context.WithCancel(ctx)
	d := diag{base: o.logger.With().Str("hub", address).Logger()}
	s := &Session{
		address:    address,
		transport:  transport,
		opts:       o,
		diag:       d,
		correlator: newCorrelator(o.commandTimeout, d),
		store:      newStore(),
		notifier:   newNotifier(),
		ctx:        sctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	s.state.Store(int32(model.StateConnecting))
	s.register(observer)

	go s.run()
	return s
}

func (s *Session) IP4Address() string {
	return s.address
}

// RemoteID is the id the hub assigned on handshake; 0 until then.
func (s *Session) RemoteID() int64 {
	return s.remoteID.Load()
}

func (s *Session) State() model.SessionState {
	return model.SessionState(s.state.Load())
}

func (s *Session) Activities() model.Snapshot[[]model.Record] {
	return s.store.getActivities()
}

func (s *Session) CurrentActivity() model.Snapshot[model.Record] {
	return s.store.getCurrent()
}

func (s *Session) Devices() model.Snapshot[[]model.Record] {
	return s.store.getDevices()
}

// Done is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns why the session closed, or nil while open or after Close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) StartActivity(activityID string, completion model.Completion) {
	s.issue(model.Command{Kind: model.CommandStartActivity, Arg: activityID}, completion)
}

func (s *Session) ButtonPress(action string, completion model.Completion) {
	s.issue(model.Command{Kind: model.CommandButtonPress, Arg: action}, completion)
}

// ButtonHold starts continuous actuation; the caller must send ButtonRelease.
func (s *Session) ButtonHold(action string, completion model.Completion) {
	s.issue(model.Command{Kind: model.CommandButtonHold, Arg: action}, completion)
}

func (s *Session) ButtonRelease(action string, completion model.Completion) {
	s.issue(model.Command{Kind: model.CommandButtonRelease, Arg: action}, completion)
}

// Refresh re-fetches the hub configuration and the current activity.
func (s *Session) Refresh() {
	s.issue(model.Command{Kind: model.CommandFetchConfig}, s.onConfig)
	s.issue(model.Command{Kind: model.CommandFetchCurrentActivity}, s.onCurrentActivity)
}

// Close tears the session down. Outstanding and queued commands fail with
// ErrConnectionClosed before Close returns. Close is idempotent and safe to
// call from a completion; wait on Done for the connection goroutine to exit.
func (s *Session) Close() error {
	s.shutdown(nil)
	return nil
}

func (s *Session) issue(cmd model.Command, completion model.Completion) {
	s.mu.Lock()
	switch s.State() {
	case model.StateReady:
		conn := s.conn
		s.mu.Unlock()
		s.correlator.send(s.ctx, conn, cmd, completion)
	case model.StateClosed:
		s.mu.Unlock()
		deliver(completion, model.Failure{Err: fmt.Errorf("%s: %w", cmd.Kind, ErrConnectionClosed)})
	default:
		if len(s.queue) >= s.opts.queueDepth {
			s.mu.Unlock()
			deliver(completion, model.Failure{Err: fmt.Errorf("%s: %w (depth %d)", cmd.Kind, ErrQueueOverflow, s.opts.queueDepth)})
			return
		}
		s.queue = append(s.queue, queuedCommand{command: cmd, completion: completion})
		s.mu.Unlock()
	}
}

// setState moves the state machine forward. Closed is terminal.
func (s *Session) setState(st model.SessionState) bool {
	for {
		prev := model.SessionState(s.state.Load())
		if prev == model.StateClosed {
			return st == model.StateClosed
		}
		if s.state.CompareAndSwap(int32(prev), int32(st)) {
			if prev != st {
				s.diag.log().Info().Stringer("from", prev).Stringer("to", st).Msg("hub session state")
			}
			return true
		}
	}
}

func (s *Session) run() {
	defer close(s.done)

	conn, err := s.transport.Dial(s.ctx, s.address)
	if err != nil {
		s.fail(connectionError("dial "+s.address, err))
		return
	}

	s.mu.Lock()
	if s.State() == model.StateClosed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()

	if !s.setState(model.StateHandshaking) {
		return
	}
	remoteID, err := conn.Handshake(s.ctx)
	if err == nil && remoteID == 0 {
		err = fmt.Errorf("hub returned no remote id")
	}
	if err != nil {
		s.fail(handshakeError(err))
		return
	}
	s.remoteID.CompareAndSwap(0, remoteID)
	s.diag.log().Info().Int64("remote_id", remoteID).Msg("hub handshake complete")

	if !s.becomeReady(conn) {
		return
	}
	s.Refresh()
	if s.opts.refreshInterval > 0 {
		go s.poll(s.opts.refreshInterval)
	}

	s.readLoop(conn)
}

// becomeReady sends queued commands in order, then switches to Ready.
// Commands issued while draining are queued behind the ones already waiting.
func (s *Session) becomeReady(conn ports.HubConn) bool {
	for {
		s.mu.Lock()
		if s.State() == model.StateClosed {
			s.mu.Unlock()
			return false
		}
		if len(s.queue) == 0 {
			s.setState(model.StateReady)
			s.mu.Unlock()
			return true
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, q := range batch {
			s.correlator.send(s.ctx, conn, q.command, q.completion)
		}
	}
}

func (s *Session) readLoop(conn ports.HubConn) {
	for {
		in, err := conn.Receive(s.ctx)
		if err != nil {
			s.fail(connectionError("receive", err))
			return
		}
		s.dispatch(in)
	}
}

func (s *Session) dispatch(in model.Inbound) {
	switch in.Kind {
	case model.InboundResponse, model.InboundProgress:
		s.correlator.resolve(in)
	case model.InboundPush:
		s.handlePush(in)
	}
}

func (s *Session) handlePush(in model.Inbound) {
	switch in.Push {
	case model.PushCurrentActivity:
		id, ok := activityID(in.Data)
		if !ok {
			s.diag.log().Error().Interface("data", in.Data).Msg("current activity push without activity id")
			return
		}
		s.diag.log().Info().Str("activity_id", id).Msg("hub reported current activity")
		s.notifier.dispatch(s.store.setCurrentActivity(id))
	case model.PushConfigChanged:
		s.diag.log().Info().Msg("hub configuration changed")
		s.issue(model.Command{Kind: model.CommandFetchConfig}, s.onConfig)
	default:
		s.diag.log().Debug().Interface("data", in.Data).Msg("ignoring hub push")
	}
}

func (s *Session) poll(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.State() == model.StateReady {
				s.Refresh()
			}
		}
	}
}

func (s *Session) onConfig(resp model.Response) {
	data, err := model.Result(resp)
	if err != nil {
		s.diag.log().Error().Err(err).Msg("fetching hub config")
		return
	}
	doc, ok := data.(map[string]any)
	if !ok {
		s.diag.log().Error().Interface("data", data).Msg("unexpected hub config payload")
		return
	}

	var changes []change
	if acts, ok := doc["activity"]; ok {
		changes = append(changes, s.store.setActivities(model.Records(acts))...)
	}
	if devs, ok := doc["device"]; ok {
		changes = append(changes, s.store.setDevices(model.Records(devs))...)
	}
	s.notifier.dispatch(changes)
}

func (s *Session) onCurrentActivity(resp model.Response) {
	data, err := model.Result(resp)
	if err != nil {
		s.diag.log().Error().Err(err).Msg("fetching current activity")
		return
	}
	id, ok := activityID(data)
	if !ok {
		s.diag.log().Error().Interface("data", data).Msg("unexpected current activity payload")
		return
	}
	s.notifier.dispatch(s.store.setCurrentActivity(id))
}

// activityID extracts the activity id from {"activityId": ...} or {"result": ...}.
func activityID(data model.Document) (string, bool) {
	doc, ok := data.(map[string]any)
	if !ok {
		return "", false
	}
	for _, key := range []string{"activityId", "result"} {
		switch v := doc[key].(type) {
		case string:
			if v != "" {
				return v, true
			}
		case float64:
			return strconv.FormatInt(int64(v), 10), true
		}
	}
	return "", false
}

// fail closes the session after a transport error. Errors caused by the
// session's own context ending count as a normal close.
func (s *Session) fail(err error) {
	if s.ctx.Err() != nil {
		s.shutdown(nil)
		return
	}
	s.shutdown(err)
}

// shutdown closes the session once. cause is nil for an explicit Close.
func (s *Session) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = cause
		s.setState(model.StateClosed)
		queued := s.queue
		s.queue = nil
		conn := s.conn
		s.mu.Unlock()

		s.cancel()
		if conn != nil {
			_ = conn.Close()
		}

		failure := ErrConnectionClosed
		if cause != nil {
			failure = fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
			s.diag.log().Error().Err(cause).Msg("hub connection lost")
		}
		for _, q := range queued {
			deliver(q.completion, model.Failure{Err: failure})
		}
		if n := s.correlator.failAll(failure); n > 0 {
			s.diag.log().Info().Int("pending", n).Msg("failed outstanding hub commands")
		}
		if cause != nil {
			s.notifier.notify(EventConnectionLost, cause)
		}
	})
}
