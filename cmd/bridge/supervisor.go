package main

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"harmony-bridge/internal/domain/hub"
	"harmony-bridge/internal/domain/model"
	"harmony-bridge/internal/domain/service"
	"harmony-bridge/internal/ports"
)

type hubConsumer interface {
	SetHub(h ports.HubPort)
}

// observers fans session notifications out to every member implementing the
// matching observer interface.
type observers []any

func (o observers) OnActivitiesChanged(s *hub.Session, old model.Snapshot[[]model.Record]) {
	for _, m := range o {
		if obs, ok := m.(hub.ActivitiesObserver); ok {
			obs.OnActivitiesChanged(s, old)
		}
	}
}

func (o observers) OnCurrentActivityChanged(s *hub.Session, old model.Snapshot[model.Record]) {
	for _, m := range o {
		if obs, ok := m.(hub.CurrentActivityObserver); ok {
			obs.OnCurrentActivityChanged(s, old)
		}
	}
}

func (o observers) OnDevicesChanged(s *hub.Session, old model.Snapshot[[]model.Record]) {
	for _, m := range o {
		if obs, ok := m.(hub.DevicesObserver); ok {
			obs.OnDevicesChanged(s, old)
		}
	}
}

func (o observers) OnConnectionLost(s *hub.Session, err error) {
	for _, m := range o {
		if obs, ok := m.(hub.ConnectionObserver); ok {
			obs.OnConnectionLost(s, err)
		}
	}
}

// supervisor keeps one hub session open for the configured address. A lost
// session is reopened after a backoff delay; an address change reopens at once.
type supervisor struct {
	transport ports.HubTransport
	config    *service.ConfigService
	observer  observers
	consumers []hubConsumer
	backoff   backoff.BackOff
	logger    zerolog.Logger

	changed chan struct{}
}

func newSupervisor(transport ports.HubTransport, config *service.ConfigService, log zerolog.Logger) *supervisor {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute
	return &supervisor{
		transport: transport,
		config:    config,
		backoff:   b,
		logger:    log,
		changed:   make(chan struct{}, 1),
	}
}

// attach registers v as a session observer and, when it accepts one, as a
// consumer of the current session.
func (s *supervisor) attach(v any) {
	s.observer = append(s.observer, v)
	if c, ok := v.(hubConsumer); ok {
		s.consumers = append(s.consumers, c)
	}
}

func (s *supervisor) addressChanged(address string) {
	s.logger.Info().Str("hub", address).Msg("Hub address changed")
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *supervisor) setHub(h ports.HubPort) {
	for _, c := range s.consumers {
		c.SetHub(h)
	}
}

func (s *supervisor) Run(ctx context.Context) error {
	for {
		cfg, err := s.config.GetConfig(ctx)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if cfg.HubAddress == "" {
			s.logger.Warn().Msg("No hub address configured, waiting for one")
			select {
			case <-ctx.Done():
				return nil
			case <-s.changed:
				continue
			}
		}

		session := hub.Open(ctx, s.transport, cfg.HubAddress, s.observer, sessionOptions(cfg)...)
		s.setHub(session)

		select {
		case <-ctx.Done():
			_ = session.Close()
			s.setHub(nil)
			return nil
		case <-s.changed:
			_ = session.Close()
			s.setHub(nil)
			s.backoff.Reset()
			continue
		case <-session.Done():
		}
		s.setHub(nil)

		if session.RemoteID() != 0 {
			s.backoff.Reset()
		}
		wait := s.backoff.NextBackOff()
		s.logger.Warn().Err(session.Err()).Dur("retry_in", wait).Str("hub", cfg.HubAddress).Msg("Hub session ended")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-s.changed:
			timer.Stop()
			s.backoff.Reset()
		case <-timer.C:
		}
	}
}

func sessionOptions(cfg *model.Config) []hub.Option {
	return []hub.Option{
		hub.WithCommandTimeout(time.Duration(cfg.CommandTimeout)),
		hub.WithQueueDepth(cfg.QueueDepth),
		hub.WithRefreshInterval(time.Duration(cfg.RefreshInterval)),
	}
}
