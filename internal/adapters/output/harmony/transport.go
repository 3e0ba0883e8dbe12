// Package harmony speaks the Harmony hub's local websocket protocol.
package harmony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"harmony-bridge/internal/logger"
	"harmony-bridge/internal/ports"
)

const (
	DefaultPort = 8088

	provisionOrigin = "http://sl.dhg.myharmony.com"
	socketDomain    = "svcs.myharmony.com"

	defaultRetryWindow = 30 * time.Second
	provisionTimeout   = 5 * time.Second
)

// Transport dials Harmony hubs. It implements ports.HubTransport.
type Transport struct {
	client      *http.Client
	dialer      *websocket.Dialer
	port        int
	retryWindow time.Duration
	logger      zerolog.Logger
}

type Option func(*Transport)

func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

func WithPort(port int) Option {
	return func(t *Transport) { t.port = port }
}

// WithRetryWindow bounds how long Dial keeps retrying an unreachable hub.
func WithRetryWindow(d time.Duration) Option {
	return func(t *Transport) { t.retryWindow = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		client:      &http.Client{Timeout: provisionTimeout},
		dialer:      &websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment},
		port:        DefaultPort,
		retryWindow: defaultRetryWindow,
		logger:      logger.WithComponent("harmony"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ ports.HubTransport = (*Transport)(nil)

// Dial asks the hub at address for its provisioning info. The websocket
// itself is opened by Conn.Handshake.
func (t *Transport) Dial(ctx context.Context, address string) (ports.HubConn, error) {
	host := net.JoinHostPort(address, strconv.Itoa(t.port))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	attempt := 0
	remoteID, err := backoff.Retry(ctx, func() (int64, error) {
		attempt++
		id, err := t.provision(ctx, host)
		if err != nil {
			t.logger.Debug().Err(err).Str("hub", address).Int("attempt", attempt).Msg("Provisioning request failed")
		}
		return id, err
	}, backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(t.retryWindow))
	if err != nil {
		return nil, fmt.Errorf("provisioning %s: %w", host, err)
	}

	return &Conn{
		host:     host,
		remoteID: remoteID,
		dialer:   t.dialer,
		logger:   t.logger.With().Str("hub", address).Logger(),
		frames:   make(chan received, 64),
		ackReady: make(chan struct{}, 1),
		closed:   make(chan struct{}),
	}, nil
}

type provisionReply struct {
	Code code   `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		ActiveRemoteID json.Number `json:"activeRemoteId"`
	} `json:"data"`
}

func (t *Transport) provision(ctx context.Context, host string) (int64, error) {
	body := []byte(`{"id":1,"cmd":"setup.account?getProvisionInfo","params":{}}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+host+"/", bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	req.Header.Set("Origin", provisionOrigin)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "utf-8")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		err := fmt.Errorf("hub returned HTTP %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return 0, backoff.Permanent(err)
		}
		return 0, err
	}

	var reply provisionReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return 0, backoff.Permanent(fmt.Errorf("decoding provision info: %w", err))
	}
	if reply.Code != 0 && reply.Code != 200 {
		return 0, backoff.Permanent(fmt.Errorf("provision info rejected: code %d: %s", reply.Code, reply.Msg))
	}
	if reply.Data.ActiveRemoteID == "" {
		return 0, nil
	}
	id, err := reply.Data.ActiveRemoteID.Int64()
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("invalid activeRemoteId %q", reply.Data.ActiveRemoteID))
	}
	return id, nil
}

func socketURL(host string, remoteID int64) string {
	u := url.URL{
		Scheme: "ws",
		Host:   host,
		Path:   "/",
		RawQuery: url.Values{
			"domain": {socketDomain},
			"hubId":  {strconv.FormatInt(remoteID, 10)},
		}.Encode(),
	}
	return u.String()
}
