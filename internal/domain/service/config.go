package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"harmony-bridge/internal/domain/hub"
	"harmony-bridge/internal/domain/model"
	"harmony-bridge/internal/domain/translator"
	"harmony-bridge/internal/ports"
)

const (
	DefaultHTTPPort        = 80
	DefaultMQTTTopicPrefix = "harmony"
)

var ErrInvalidConfig = errors.New("invalid config")

// Overrides are settings taken from the environment; they win over the stored config.
type Overrides struct {
	HubAddress      string
	LocalIP         string
	HTTPPort        int
	HubLogLevel     string
	MQTTURL         string
	MQTTTopicPrefix string
}

type ConfigService struct {
	repo      ports.ConfigRepository
	overrides Overrides
}

func NewConfigService(repo ports.ConfigRepository, overrides Overrides) *ConfigService {
	return &ConfigService{
		repo:      repo,
		overrides: overrides,
	}
}

// GetConfig returns the stored config with overrides and defaults applied.
func (s *ConfigService) GetConfig(ctx context.Context) (*model.Config, error) {
	cfg, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	s.apply(cfg)
	return cfg, nil
}

func (s *ConfigService) UpdateConfig(ctx context.Context, cfg *model.Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	return s.repo.Save(ctx, cfg)
}

func (s *ConfigService) apply(cfg *model.Config) {
	o := s.overrides
	if o.HubAddress != "" {
		cfg.HubAddress = o.HubAddress
	}
	if o.LocalIP != "" {
		cfg.LocalIP = o.LocalIP
	}
	if o.HTTPPort != 0 {
		cfg.HTTPPort = o.HTTPPort
	}
	if o.HubLogLevel != "" {
		cfg.HubLogLevel = o.HubLogLevel
	}
	if o.MQTTURL != "" {
		if cfg.MQTT == nil {
			cfg.MQTT = &model.MQTTConfig{}
		}
		cfg.MQTT.URL = o.MQTTURL
	}
	if o.MQTTTopicPrefix != "" && cfg.MQTT != nil {
		cfg.MQTT.TopicPrefix = o.MQTTTopicPrefix
	}

	if cfg.HTTPPort == 0 {
		cfg.HTTPPort = DefaultHTTPPort
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = model.Duration(hub.DefaultCommandTimeout)
	}
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = hub.DefaultQueueDepth
	}
	if cfg.MQTT != nil && cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultMQTTTopicPrefix
	}
	if cfg.VirtualDevices == nil {
		cfg.VirtualDevices = []*model.VirtualDevice{}
	}
}

// Validate checks a config before it is stored.
func Validate(cfg *model.Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: empty config", ErrInvalidConfig)
	}
	if _, err := hub.ParseLogLevel(cfg.HubLogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.QueueDepth < 0 || cfg.CommandTimeout < 0 || time.Duration(cfg.RefreshInterval) < 0 {
		return fmt.Errorf("%w: negative queue depth or duration", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(cfg.VirtualDevices))
	for i, vd := range cfg.VirtualDevices {
		if vd == nil || vd.HueID == "" || vd.Name == "" {
			return fmt.Errorf("%w: virtual device %d needs a hue id and a name", ErrInvalidConfig, i)
		}
		if seen[vd.HueID] {
			return fmt.Errorf("%w: duplicate hue id %q", ErrInvalidConfig, vd.HueID)
		}
		seen[vd.HueID] = true

		switch vd.Type {
		case model.MappingTypeActivity:
			if vd.ActivityID == "" {
				return fmt.Errorf("%w: %q needs an activity id", ErrInvalidConfig, vd.Name)
			}
		case model.MappingTypeButton:
			if vd.DeviceID == "" || vd.ActionConfig == nil || vd.ActionConfig.OnCommand == "" {
				return fmt.Errorf("%w: %q needs a device id and an on command", ErrInvalidConfig, vd.Name)
			}
		case model.MappingTypeCustom:
			if vd.DeviceID == "" || vd.ActionConfig == nil {
				return fmt.Errorf("%w: %q needs a device id and action config", ErrInvalidConfig, vd.Name)
			}
			if f := vd.ActionConfig.StepsFormula; f != "" {
				if err := translator.CheckFormula(f); err != nil {
					return fmt.Errorf("%w: %q: %v", ErrInvalidConfig, vd.Name, err)
				}
			}
		default:
			return fmt.Errorf("%w: %q has unknown type %q", ErrInvalidConfig, vd.Name, vd.Type)
		}
	}
	return nil
}
