package hub

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"harmony-bridge/internal/domain/model"
	"harmony-bridge/internal/ports"
)

type pendingRequest struct {
	id         string
	command    model.Command
	issuedAt   time.Time
	completion model.Completion
	timer      *time.Timer
}

// correlator matches hub replies to outstanding requests. Every request is
// resolved exactly once: by its reply, its deadline, a send error or failAll.
type correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	timeout time.Duration
	newID   func() string
	diag    diag

	closed    bool
	closedErr error
}

func newCorrelator(timeout time.Duration, d diag) *correlator {
	return &correlator{
		pending: make(map[string]*pendingRequest),
		timeout: timeout,
		newID:   uuid.NewString,
		diag:    d,
	}
}

func (c *correlator) send(ctx context.Context, conn ports.HubConn, cmd model.Command, completion model.Completion) string {
	p := &pendingRequest{
		id:         c.newID(),
		command:    cmd,
		issuedAt:   time.Now(),
		completion: completion,
	}

	c.mu.Lock()
	if c.closed {
		err := c.closedErr
		c.mu.Unlock()
		deliver(completion, model.Failure{Err: fmt.Errorf("%s: %w", cmd.Kind, err)})
		return p.id
	}
	c.pending[p.id] = p
	if c.timeout > 0 {
		id := p.id
		p.timer = time.AfterFunc(c.timeout, func() {
			c.complete(id, model.Failure{Err: fmt.Errorf("%w: %s after %s", ErrTimeout, cmd.Kind, c.timeout)})
		})
	}
	c.mu.Unlock()

	c.diag.log().Debug().Str("id", p.id).Stringer("command", cmd.Kind).Str("arg", cmd.Arg).Msg("sending hub command")

	if err := conn.Send(ctx, model.Request{ID: p.id, Command: cmd, Timeout: c.timeout}); err != nil {
		c.complete(p.id, model.Failure{Err: connectionError("send "+cmd.Kind.String(), err)})
	}
	return p.id
}

// resolve dispatches a reply frame. It reports false for progress frames and
// for replies nobody is waiting on.
func (c *correlator) resolve(in model.Inbound) bool {
	if in.Kind == model.InboundProgress || in.Code == model.CodeInProgress {
		c.diag.log().Debug().Str("id", in.ID).Msg("hub command in progress")
		return false
	}

	var resp model.Response
	if in.Code == model.CodeOK {
		resp = model.Success{Data: in.Data}
	} else {
		resp = model.Failure{Err: &CommandRejectedError{Code: in.Code, Message: in.Message}}
	}

	if !c.complete(in.ID, resp) {
		c.diag.log().Error().Err(ErrUnmatchedResponse).Str("id", in.ID).Int("code", in.Code).Msg("dropping hub response")
		return false
	}
	return true
}

func (c *correlator) complete(id string, resp model.Response) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	c.diag.log().Debug().Str("id", id).Stringer("command", p.command.Kind).Dur("elapsed", time.Since(p.issuedAt)).Msg("hub command resolved")
	deliver(p.completion, resp)
	return true
}

// failAll resolves every outstanding request with err, oldest first. Requests
// sent afterwards fail immediately with the same error.
func (c *correlator) failAll(err error) int {
	c.mu.Lock()
	c.closed = true
	c.closedErr = err
	all := make([]*pendingRequest, 0, len(c.pending))
	for _, p := range c.pending {
		all = append(all, p)
	}
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].issuedAt.Before(all[j].issuedAt) })
	for _, p := range all {
		if p.timer != nil {
			p.timer.Stop()
		}
		deliver(p.completion, model.Failure{Err: err})
	}
	return len(all)
}

func (c *correlator) outstanding() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func deliver(completion model.Completion, resp model.Response) {
	if completion != nil {
		completion(resp)
	}
}
