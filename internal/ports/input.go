package ports

import (
	"context"
	"harmony-bridge/internal/domain/model"
)

// HubSnapshot is the last known state of the hub as served to admin clients.
type HubSnapshot struct {
	Address         string         `json:"address"`
	RemoteID        int64          `json:"remote_id"`
	State           string         `json:"state"`
	Activities      []model.Record `json:"activities"`
	CurrentActivity model.Record   `json:"current_activity"`
	Devices         []model.Record `json:"devices"`
}

type BridgePort interface {
	GetDevices(ctx context.Context) ([]*model.Device, error)
	GetDevice(ctx context.Context, id string) (*model.Device, error)
	UpdateDeviceState(ctx context.Context, id string, state map[string]interface{}) error

	// Config management
	GetConfig(ctx context.Context) (*model.Config, error)
	UpdateConfig(ctx context.Context, cfg *model.Config) error
	HubSnapshot(ctx context.Context) (*HubSnapshot, error)
}
