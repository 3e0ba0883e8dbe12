package translator

import (
	"errors"

	"github.com/amimof/huego"

	"harmony-bridge/internal/domain/model"
)

// ButtonStrategy presses device buttons on on/off. The hub reports nothing
// back, so the light keeps the last requested state.
type ButtonStrategy struct{}

func (s *ButtonStrategy) ToHue(_ HubState, _ *model.VirtualDevice, last *huego.State) *huego.State {
	state := &huego.State{Reachable: true}
	if last != nil {
		*state = *last
	}
	return state
}

func (s *ButtonStrategy) ToHub(u Update, _ HubState, vd *model.VirtualDevice, last *huego.State) ([]model.Command, error) {
	ac := vd.ActionConfig
	if ac == nil || vd.DeviceID == "" || ac.OnCommand == "" {
		return nil, errors.New("button mapping needs a device id and an on command")
	}
	if u.On == nil {
		return nil, nil
	}
	if *u.On {
		return []model.Command{press(vd.DeviceID, ac.OnCommand)}, nil
	}
	if ac.NoOpOff {
		return nil, nil
	}
	off := ac.OffCommand
	if off == "" {
		// toggle-style buttons
		off = ac.OnCommand
	}
	return []model.Command{press(vd.DeviceID, off)}, nil
}

func (s *ButtonStrategy) GetMetadata() model.HueMetadata {
	return model.HueMetadata{
		Type:             "On/Off plug-in unit",
		ModelID:          "LOM001",
		ManufacturerName: "Philips",
	}
}
