package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amimof/huego"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"harmony-bridge/internal/domain/hub"
	"harmony-bridge/internal/domain/model"
	"harmony-bridge/internal/domain/translator"
	"harmony-bridge/internal/logger"
	"harmony-bridge/internal/ports"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrHubUnavailable = errors.New("hub not connected")
)

const (
	// Harmony hubs drop presses sent faster than this.
	defaultPressInterval = 150 * time.Millisecond
	planTimeout          = time.Minute
)

type BridgeOption func(*BridgeService)

func WithPressInterval(d time.Duration) BridgeOption {
	return func(s *BridgeService) { s.limiter = rate.NewLimiter(rate.Every(d), 1) }
}

func WithLogger(l zerolog.Logger) BridgeOption {
	return func(s *BridgeService) { s.logger = l }
}

// OnHubAddressChange registers fn to run when a saved config names a new hub.
func OnHubAddressChange(fn func(address string)) BridgeOption {
	return func(s *BridgeService) { s.onAddress = fn }
}

// BridgeService exposes the hub as virtual Hue lights.
type BridgeService struct {
	config            *ConfigService
	translatorFactory *translator.Factory
	limiter           *rate.Limiter
	logger            zerolog.Logger
	onAddress         func(string)

	mu      sync.RWMutex
	hub     ports.HubPort
	address string
	devices map[string]*model.Device
	order   []string

	execMu sync.Mutex // one plan at a time
}

func NewBridgeService(config *ConfigService, opts ...BridgeOption) *BridgeService {
	s := &BridgeService{
		config:            config,
		translatorFactory: translator.NewFactory(),
		limiter:           rate.NewLimiter(rate.Every(defaultPressInterval), 1),
		logger:            logger.WithComponent("bridge"),
		devices:           make(map[string]*model.Device),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetHub points the bridge at the current hub session; nil while disconnected.
func (s *BridgeService) SetHub(h ports.HubPort) {
	s.mu.Lock()
	s.hub = h
	s.mu.Unlock()
	s.refreshStates()
}

func (s *BridgeService) currentHub() ports.HubPort {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hub
}

// LoadDevices rebuilds the virtual devices from the stored config.
func (s *BridgeService) LoadDevices(ctx context.Context) error {
	cfg, err := s.config.GetConfig(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	old := s.devices
	devices := make(map[string]*model.Device, len(cfg.VirtualDevices))
	order := make([]string, 0, len(cfg.VirtualDevices))
	for _, vd := range cfg.VirtualDevices {
		d := &model.Device{
			ID:            vd.HueID,
			Name:          vd.Name,
			Type:          vd.Type,
			VirtualDevice: vd,
			State:         &huego.State{Reachable: true},
		}
		if prev, ok := old[vd.HueID]; ok && prev.Type == vd.Type {
			d.State = prev.State
		}
		devices[vd.HueID] = d
		order = append(order, vd.HueID)
	}
	s.devices = devices
	s.order = order
	s.address = cfg.HubAddress
	s.mu.Unlock()

	s.refreshStates()
	return nil
}

func (s *BridgeService) GetDevices(ctx context.Context) ([]*model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	devices := make([]*model.Device, 0, len(s.order))
	for _, id := range s.order {
		devices = append(devices, s.snapshot(s.devices[id]))
	}
	return devices, nil
}

func (s *BridgeService) GetDevice(ctx context.Context, id string) (*model.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	return s.snapshot(d), nil
}

// snapshot copies d so callers never share the live state. Must hold mu.
func (s *BridgeService) snapshot(d *model.Device) *model.Device {
	c := *d
	st := *d.State
	c.State = &st
	return &c
}

// UpdateDeviceState translates a Hue state change into hub commands. The
// light state is updated optimistically; the commands run in the background.
func (s *BridgeService) UpdateDeviceState(ctx context.Context, id string, hueStateUpdate map[string]interface{}) error {
	h := s.currentHub()
	if h == nil {
		return ErrHubUnavailable
	}

	s.mu.Lock()
	device, ok := s.devices[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}
	t := s.translatorFactory.GetTranslator(device.Type)
	u := translator.ParseUpdate(hueStateUpdate)
	plan, err := t.ToHub(u, hubState(h), device.VirtualDevice, device.State)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("device %s: %w", id, err)
	}
	device.State = u.Apply(device.State)
	s.mu.Unlock()

	if len(plan) == 0 {
		return nil
	}
	go s.execute(context.WithoutCancel(ctx), h, id, plan)
	return nil
}

func (s *BridgeService) execute(ctx context.Context, h ports.HubPort, id string, plan []model.Command) {
	ctx, cancel := context.WithTimeout(ctx, planTimeout)
	defer cancel()

	s.execMu.Lock()
	defer s.execMu.Unlock()

	for i, c := range plan {
		if c.Kind == model.CommandButtonPress {
			if err := s.limiter.Wait(ctx); err != nil {
				s.logger.Warn().Err(err).Str("device", id).Msg("Abandoning command plan")
				return
			}
		}
		if err := run(ctx, h, c); err != nil {
			s.logger.Error().Err(err).Str("device", id).Stringer("command", c.Kind).
				Int("step", i+1).Int("steps", len(plan)).Msg("Hub command failed")
			return
		}
	}
	s.logger.Debug().Str("device", id).Int("steps", len(plan)).Msg("Command plan complete")
}

// run issues c and waits for its completion.
func run(ctx context.Context, h ports.HubPort, c model.Command) error {
	done := make(chan model.Response, 1)
	completion := func(r model.Response) { done <- r }

	switch c.Kind {
	case model.CommandStartActivity:
		h.StartActivity(c.Arg, completion)
	case model.CommandButtonPress:
		h.ButtonPress(c.Arg, completion)
	case model.CommandButtonHold:
		h.ButtonHold(c.Arg, completion)
	case model.CommandButtonRelease:
		h.ButtonRelease(c.Arg, completion)
	default:
		return fmt.Errorf("unsupported command %s", c.Kind)
	}

	select {
	case r := <-done:
		_, err := model.Result(r)
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func hubState(h ports.HubPort) translator.HubState {
	if h == nil {
		return translator.HubState{}
	}
	current, ok := h.CurrentActivity().Get()
	if !ok {
		return translator.HubState{}
	}
	return translator.HubState{CurrentActivityID: current.ID(), Known: true}
}

// refreshStates re-derives every light from the hub state.
func (s *BridgeService) refreshStates() {
	s.mu.Lock()
	defer s.mu.Unlock()

	hs := hubState(s.hub)
	for _, d := range s.devices {
		t := s.translatorFactory.GetTranslator(d.Type)
		d.State = t.ToHue(hs, d.VirtualDevice, d.State)
	}
}

func (s *BridgeService) OnCurrentActivityChanged(session *hub.Session, old model.Snapshot[model.Record]) {
	current := session.CurrentActivity().Value()
	s.logger.Info().Str("activity", current.Label()).Str("previous", old.Value().Label()).Msg("Current activity changed")
	s.refreshStates()
}

func (s *BridgeService) OnConnectionLost(session *hub.Session, err error) {
	s.logger.Warn().Err(err).Msg("Hub connection lost")

	s.mu.Lock()
	if s.hub == ports.HubPort(session) {
		s.hub = nil
	}
	s.mu.Unlock()
	s.refreshStates()
}

func (s *BridgeService) GetConfig(ctx context.Context) (*model.Config, error) {
	return s.config.GetConfig(ctx)
}

func (s *BridgeService) UpdateConfig(ctx context.Context, cfg *model.Config) error {
	if err := s.config.UpdateConfig(ctx, cfg); err != nil {
		return err
	}
	s.mu.RLock()
	previous := s.address
	s.mu.RUnlock()

	if err := s.LoadDevices(ctx); err != nil {
		return err
	}
	if level, err := hub.ParseLogLevel(cfg.HubLogLevel); err == nil {
		hub.SetLogLevel(level)
	}

	s.mu.RLock()
	address := s.address
	s.mu.RUnlock()
	if address != previous && s.onAddress != nil {
		s.onAddress(address)
	}
	return nil
}

func (s *BridgeService) HubSnapshot(ctx context.Context) (*ports.HubSnapshot, error) {
	h := s.currentHub()
	if h == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return &ports.HubSnapshot{Address: s.address, State: model.StateClosed.String()}, nil
	}
	return &ports.HubSnapshot{
		Address:         h.IP4Address(),
		RemoteID:        h.RemoteID(),
		State:           h.State().String(),
		Activities:      h.Activities().Value(),
		CurrentActivity: h.CurrentActivity().Value(),
		Devices:         h.Devices().Value(),
	}, nil
}

var (
	_ ports.BridgePort            = (*BridgeService)(nil)
	_ hub.CurrentActivityObserver = (*BridgeService)(nil)
	_ hub.ConnectionObserver      = (*BridgeService)(nil)
)
