// Package mqtt mirrors hub state to an MQTT broker and accepts activity
// changes from it.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"harmony-bridge/internal/domain/hub"
	"harmony-bridge/internal/domain/model"
	"harmony-bridge/internal/logger"
	"harmony-bridge/internal/ports"
)

const (
	topicActivities      = "activities"
	topicCurrentActivity = "current_activity"
	topicDevices         = "devices"
	topicConnection      = "connection"
	topicActivitySet     = "activity/set"
)

type queuePublisher interface {
	PublishViaQueue(ctx context.Context, p *autopaho.QueuePublish) error
}

type connectionState struct {
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
	RemoteID  int64  `json:"remote_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Publisher publishes retained hub state under a topic prefix and starts
// activities named on <prefix>/activity/set.
type Publisher struct {
	cfg    model.MQTTConfig
	logger zerolog.Logger

	cm  *autopaho.ConnectionManager
	out queuePublisher

	mu        sync.RWMutex
	hub       ports.HubPort
	announced *hub.Session
}

func NewPublisher(cfg model.MQTTConfig) *Publisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "harmony"
	}
	cfg.TopicPrefix = strings.TrimSuffix(cfg.TopicPrefix, "/")
	if cfg.ClientID == "" {
		cfg.ClientID = "harmony-bridge-" + uuid.NewString()[:8]
	}
	return &Publisher{
		cfg:    cfg,
		logger: logger.WithComponent("mqtt"),
	}
}

var (
	_ ports.StatePublisher        = (*Publisher)(nil)
	_ hub.ActivitiesObserver      = (*Publisher)(nil)
	_ hub.CurrentActivityObserver = (*Publisher)(nil)
	_ hub.DevicesObserver         = (*Publisher)(nil)
	_ hub.ConnectionObserver      = (*Publisher)(nil)
)

func (p *Publisher) topic(name string) string {
	return p.cfg.TopicPrefix + "/" + name
}

// Start connects to the broker. The connection is retried in the background until ctx ends.
func (p *Publisher) Start(ctx context.Context) error {
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("parsing mqtt url: %w", err)
	}

	offline, _ := json.Marshal(connectionState{Connected: false})
	setTopic := p.topic(topicActivitySet)

	cliCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{u},
		KeepAlive:                     20,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		WillMessage: &paho.WillMessage{
			Topic:   p.topic(topicConnection),
			Payload: offline,
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info().Str("broker", u.Host).Msg("MQTT connection up")
			// Subscribing here re-establishes the subscription after a reconnect
			if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
				Subscriptions: []paho.SubscribeOptions{{Topic: setTopic, QoS: 1}},
			}); err != nil {
				p.logger.Error().Err(err).Str("topic", setTopic).Msg("MQTT subscribe failed")
			}
		},
		OnConnectError: func(err error) {
			p.logger.Warn().Err(err).Str("broker", u.Host).Msg("MQTT connection attempt failed")
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				func(pr paho.PublishReceived) (bool, error) {
					p.handleMessage(pr.Packet.Topic, pr.Packet.Payload)
					return true, nil
				},
			},
			OnClientError: func(err error) { p.logger.Warn().Err(err).Msg("MQTT client error") },
			OnServerDisconnect: func(d *paho.Disconnect) {
				p.logger.Warn().Uint8("reason", d.ReasonCode).Msg("MQTT server requested disconnect")
			},
		},
	}

	cm, err := autopaho.NewConnection(ctx, cliCfg)
	if err != nil {
		return fmt.Errorf("starting mqtt connection: %w", err)
	}
	p.mu.Lock()
	p.cm = cm
	p.out = cm
	p.mu.Unlock()
	return nil
}

func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.RLock()
	cm := p.cm
	p.mu.RUnlock()
	if cm == nil {
		return nil
	}
	p.publish(ctx, topicConnection, connectionState{Connected: false})
	return cm.Disconnect(ctx)
}

// SetHub selects the session that receives activity requests. The connection
// topic reports connected once that session delivers state.
func (p *Publisher) SetHub(h ports.HubPort) {
	p.mu.Lock()
	p.hub = h
	p.mu.Unlock()
}

func (p *Publisher) OnActivitiesChanged(s *hub.Session, _ model.Snapshot[[]model.Record]) {
	p.announceConnected(s)
	p.publish(context.Background(), topicActivities, s.Activities().Value())
}

func (p *Publisher) OnCurrentActivityChanged(s *hub.Session, _ model.Snapshot[model.Record]) {
	p.announceConnected(s)
	p.publish(context.Background(), topicCurrentActivity, s.CurrentActivity().Value())
}

// announceConnected publishes connected once per session, on its first state change.
func (p *Publisher) announceConnected(s *hub.Session) {
	p.mu.Lock()
	if p.announced == s {
		p.mu.Unlock()
		return
	}
	p.announced = s
	p.mu.Unlock()
	p.publish(context.Background(), topicConnection, connectionState{Connected: true, Address: s.IP4Address(), RemoteID: s.RemoteID()})
}

func (p *Publisher) OnDevicesChanged(s *hub.Session, _ model.Snapshot[[]model.Record]) {
	p.announceConnected(s)
	p.publish(context.Background(), topicDevices, s.Devices().Value())
}

func (p *Publisher) OnConnectionLost(s *hub.Session, err error) {
	p.publish(context.Background(), topicConnection, connectionState{Connected: false, Address: s.IP4Address(), Error: err.Error()})
}

func (p *Publisher) publish(ctx context.Context, name string, v any) {
	p.mu.RLock()
	out := p.out
	p.mu.RUnlock()
	if out == nil {
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", name).Msg("Encoding MQTT payload failed")
		return
	}
	err = out.PublishViaQueue(ctx, &autopaho.QueuePublish{Publish: &paho.Publish{
		Topic:   p.topic(name),
		QoS:     1,
		Retain:  true,
		Payload: payload,
	}})
	if err != nil {
		p.logger.Warn().Err(err).Str("topic", name).Msg("MQTT publish failed")
	}
}

// handleMessage starts the activity named by payload: an activity id, a
// label, or "off".
func (p *Publisher) handleMessage(topic string, payload []byte) {
	if topic != p.topic(topicActivitySet) {
		return
	}
	p.mu.RLock()
	h := p.hub
	p.mu.RUnlock()
	if h == nil {
		p.logger.Warn().Msg("Ignoring activity request: hub not connected")
		return
	}

	want := strings.TrimSpace(string(payload))
	id, ok := resolveActivity(want, h.Activities().Value())
	if !ok {
		p.logger.Warn().Str("activity", want).Msg("Unknown activity requested")
		return
	}

	h.StartActivity(id, func(r model.Response) {
		if _, err := model.Result(r); err != nil {
			p.logger.Error().Err(err).Str("activity", id).Msg("Starting activity failed")
			return
		}
		p.logger.Info().Str("activity", id).Msg("Activity started")
	})
}

func resolveActivity(want string, activities []model.Record) (string, bool) {
	if want == "" {
		return "", false
	}
	if strings.EqualFold(want, "off") {
		return model.PowerOffActivityID, true
	}
	for _, a := range activities {
		if a.ID() == want || strings.EqualFold(a.Label(), want) {
			return a.ID(), true
		}
	}
	return "", false
}
