package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"harmony-bridge/internal/domain/model"
)

type JSONConfigRepository struct {
	filepath string
	mu       sync.RWMutex
}

// legacyConfig is the flat pre-1.0 admin format: one hub_ip and a map of
// exposed activities keyed by name.
type legacyConfig struct {
	HubIP      string                     `json:"hub_ip"`
	LocalIP    string                     `json:"local_ip"`
	Activities map[string]*legacyActivity `json:"activities"`
}

type legacyActivity struct {
	HueID      string `json:"hue_id"`
	ActivityID string `json:"activity_id"`
	Exposed    bool   `json:"exposed"`
}

func NewJSONConfigRepository(filepath string) *JSONConfigRepository {
	return &JSONConfigRepository{filepath: filepath}
}

func (r *JSONConfigRepository) Get(ctx context.Context) (*model.Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := os.ReadFile(r.filepath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &model.Config{VirtualDevices: []*model.VirtualDevice{}}, nil
		}
		return nil, err
	}

	var cfg model.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", r.filepath, err)
	}

	// Migration check: no hub address means the file may be in the old format
	if cfg.HubAddress == "" {
		return r.migrate(data, &cfg)
	}
	if cfg.VirtualDevices == nil {
		cfg.VirtualDevices = []*model.VirtualDevice{}
	}
	return &cfg, nil
}

func (r *JSONConfigRepository) migrate(data []byte, cfg *model.Config) (*model.Config, error) {
	var legacy legacyConfig
	if err := json.Unmarshal(data, &legacy); err != nil || legacy.HubIP == "" {
		if cfg.VirtualDevices == nil {
			cfg.VirtualDevices = []*model.VirtualDevice{}
		}
		return cfg, nil
	}

	cfg.HubAddress = legacy.HubIP
	if cfg.LocalIP == "" {
		cfg.LocalIP = legacy.LocalIP
	}
	if len(cfg.VirtualDevices) > 0 {
		return cfg, nil
	}

	cfg.VirtualDevices = make([]*model.VirtualDevice, 0, len(legacy.Activities))
	for name, a := range legacy.Activities {
		if a == nil || !a.Exposed {
			continue
		}
		cfg.VirtualDevices = append(cfg.VirtualDevices, &model.VirtualDevice{
			HueID:      a.HueID,
			Name:       name,
			Type:       model.MappingTypeActivity,
			ActivityID: a.ActivityID,
		})
	}
	sort.Slice(cfg.VirtualDevices, func(i, j int) bool {
		return cfg.VirtualDevices[i].HueID < cfg.VirtualDevices[j].HueID
	})

	return cfg, nil
}

func (r *JSONConfigRepository) Save(ctx context.Context, config *model.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(r.filepath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := r.filepath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, r.filepath)
}
