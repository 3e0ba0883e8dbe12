package translator

import (
	"errors"

	"github.com/amimof/huego"

	"harmony-bridge/internal/domain/model"
)

// ActivityStrategy shows a hub activity as a light that is on while the activity runs.
type ActivityStrategy struct{}

func (s *ActivityStrategy) ToHue(hub HubState, vd *model.VirtualDevice, last *huego.State) *huego.State {
	state := &huego.State{Reachable: true}
	if !hub.Known {
		if last != nil {
			*state = *last
		}
		return state
	}
	state.On = hub.CurrentActivityID == vd.ActivityID
	if state.On {
		state.Bri = 254
	}
	return state
}

func (s *ActivityStrategy) ToHub(u Update, hub HubState, vd *model.VirtualDevice, last *huego.State) ([]model.Command, error) {
	if vd.ActivityID == "" {
		return nil, errors.New("activity mapping without activity id")
	}
	on := u.Apply(last).On
	if on {
		if hub.Known && hub.CurrentActivityID == vd.ActivityID {
			return nil, nil
		}
		return []model.Command{{Kind: model.CommandStartActivity, Arg: vd.ActivityID}}, nil
	}

	// Turning off an activity that is not running must not power off another one.
	if hub.Known && hub.CurrentActivityID != vd.ActivityID {
		return nil, nil
	}
	return []model.Command{{Kind: model.CommandStartActivity, Arg: model.PowerOffActivityID}}, nil
}

func (s *ActivityStrategy) GetMetadata() model.HueMetadata {
	return model.HueMetadata{
		Type:             "On/Off plug-in unit",
		ModelID:          "LOM001",
		ManufacturerName: "Philips",
	}
}
