package translator

import (
	"github.com/amimof/huego"

	"harmony-bridge/internal/domain/model"
)

// HubState is what a strategy needs to know about the hub.
type HubState struct {
	CurrentActivityID string
	Known             bool
}

// Update is a Hue state change; nil fields were not part of the request.
type Update struct {
	On  *bool
	Bri *uint8
}

// ParseUpdate reads the fields of a Hue "PUT .../state" body that virtual lights honour.
func ParseUpdate(body map[string]interface{}) Update {
	var u Update
	if on, ok := body["on"].(bool); ok {
		u.On = &on
	}
	if bri, ok := body["bri"].(float64); ok {
		b := uint8(min(max(bri, 0), 254))
		u.Bri = &b
	}
	return u
}

// Apply returns a copy of last with the update applied.
func (u Update) Apply(last *huego.State) *huego.State {
	next := &huego.State{Reachable: true}
	if last != nil {
		*next = *last
	}
	if u.On != nil {
		next.On = *u.On
	}
	if u.Bri != nil {
		next.Bri = *u.Bri
		if u.On == nil {
			next.On = *u.Bri > 0
		}
	}
	return next
}

// Translator maps between a virtual Hue light and hub commands.
type Translator interface {
	// ToHue derives the light state from the hub state; last is the state
	// reported before, for mappings the hub gives no feedback on.
	ToHue(hub HubState, vd *model.VirtualDevice, last *huego.State) *huego.State
	// ToHub plans the hub commands that carry out u.
	ToHub(u Update, hub HubState, vd *model.VirtualDevice, last *huego.State) ([]model.Command, error)
	GetMetadata() model.HueMetadata
}

func press(deviceID, command string) model.Command {
	return model.Command{Kind: model.CommandButtonPress, Arg: model.ButtonAction(deviceID, command)}
}
