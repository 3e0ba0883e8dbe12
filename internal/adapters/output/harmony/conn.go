package harmony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"harmony-bridge/internal/domain/model"
	"harmony-bridge/internal/ports"
)

const (
	// Time allowed to write a message to the hub.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the hub.
	pongWait = 60 * time.Second

	// Send pings to the hub with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var ErrClosed = errors.New("harmony: connection closed")

type received struct {
	raw []byte
	err error
}

// Conn is one websocket connection to a hub. Send may be called from any
// goroutine; Receive from one goroutine at a time.
type Conn struct {
	host     string
	remoteID int64
	dialer   *websocket.Dialer
	logger   zerolog.Logger

	writeMu sync.Mutex
	ws      *websocket.Conn

	frames  chan received
	decoder decoder
	backlog []model.Inbound

	ackMu    sync.Mutex
	acks     []model.Inbound
	ackReady chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

var _ ports.HubConn = (*Conn)(nil)

// Handshake opens the websocket for the provisioned remote id and returns it.
func (c *Conn) Handshake(ctx context.Context) (int64, error) {
	if c.remoteID == 0 {
		return 0, errors.New("hub reported no active remote id")
	}

	header := http.Header{}
	header.Set("Origin", provisionOrigin)
	ws, resp, err := c.dialer.DialContext(ctx, socketURL(c.host, c.remoteID), header)
	if err != nil {
		if resp != nil {
			return 0, fmt.Errorf("opening websocket: HTTP %s: %w", resp.Status, err)
		}
		return 0, fmt.Errorf("opening websocket: %w", err)
	}

	c.writeMu.Lock()
	select {
	case <-c.closed:
		c.writeMu.Unlock()
		_ = ws.Close()
		return 0, ErrClosed
	default:
	}
	c.ws = ws
	c.writeMu.Unlock()

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readPump(ws)
	go c.pingPump(ws)

	c.logger.Debug().Int64("remote_id", c.remoteID).Msg("Websocket open")
	return c.remoteID, nil
}

func (c *Conn) Send(ctx context.Context, req model.Request) error {
	payload, err := encodeRequest(c.remoteID, req)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws == nil {
		return ErrClosed
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	if ackedOnWrite(req.Command.Kind) {
		c.ack(req.ID)
	}
	return nil
}

// ack queues a success reply for id. It never blocks, so Send stays safe to
// call from the goroutine that drives Receive.
func (c *Conn) ack(id string) {
	c.ackMu.Lock()
	c.acks = append(c.acks, model.Inbound{Kind: model.InboundResponse, ID: id, Code: model.CodeOK, Message: "OK"})
	c.ackMu.Unlock()
	select {
	case c.ackReady <- struct{}{}:
	default:
	}
}

func (c *Conn) takeAcks() []model.Inbound {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	acks := c.acks
	c.acks = nil
	return acks
}

// Receive returns the next decoded frame. Frames that cannot be decoded are
// logged and skipped.
func (c *Conn) Receive(ctx context.Context) (model.Inbound, error) {
	for {
		c.backlog = append(c.backlog, c.takeAcks()...)
		if len(c.backlog) > 0 {
			in := c.backlog[0]
			c.backlog = c.backlog[1:]
			return in, nil
		}

		select {
		case <-ctx.Done():
			return model.Inbound{}, ctx.Err()
		case <-c.closed:
			return model.Inbound{}, ErrClosed
		case <-c.ackReady:
		case r := <-c.frames:
			if r.err != nil {
				return model.Inbound{}, r.err
			}
			in, err := c.decoder.decode(r.raw)
			if err != nil {
				c.logger.Warn().Err(err).Bytes("frame", r.raw).Msg("Skipping undecodable frame")
				continue
			}
			c.backlog = append(c.backlog, in...)
		}
	}
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if c.ws == nil {
			return
		}
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) readPump(ws *websocket.Conn) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Err(err).Msg("Websocket closed unexpectedly")
			}
			select {
			case c.frames <- received{err: err}:
			case <-c.closed:
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		select {
		case c.frames <- received{raw: raw}:
		case <-c.closed:
			return
		}
	}
}

func (c *Conn) pingPump(ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}
