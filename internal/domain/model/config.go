package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type MappingType string

const (
	MappingTypeActivity MappingType = "activity"
	MappingTypeButton   MappingType = "button"
	MappingTypeCustom   MappingType = "custom"
)

type ActionConfig struct {
	// Button commands sent on ON / OFF (e.g. "PowerToggle")
	OnCommand  string `json:"on_command,omitempty"`
	OffCommand string `json:"off_command,omitempty"`
	NoOpOff    bool   `json:"no_op_off,omitempty"`

	// DIM: brightness (variable x, 0-254) -> step count, pressing Up/Down for the difference
	StepsFormula string `json:"steps_formula,omitempty"`
	UpCommand    string `json:"up_command,omitempty"`
	DownCommand  string `json:"down_command,omitempty"`
}

type VirtualDevice struct {
	HueID        string        `json:"hue_id"` // Stable Hue identifier, e.g., "1"
	Name         string        `json:"name"`   // Displayed in Alexa
	Type         MappingType   `json:"type"`
	ActivityID   string        `json:"activity_id,omitempty"` // activity mappings
	DeviceID     string        `json:"device_id,omitempty"`   // button and custom mappings
	ActionConfig *ActionConfig `json:"action_config,omitempty"`
}

type MQTTConfig struct {
	URL         string `json:"url"`
	ClientID    string `json:"client_id,omitempty"`
	TopicPrefix string `json:"topic_prefix,omitempty"`
}

type Config struct {
	HubAddress      string           `json:"hub_address"`
	LocalIP         string           `json:"local_ip"`
	HTTPPort        int              `json:"http_port,omitempty"`
	HubLogLevel     string           `json:"hub_log_level,omitempty"`
	RefreshInterval Duration         `json:"refresh_interval,omitempty"`
	CommandTimeout  Duration         `json:"command_timeout,omitempty"`
	QueueDepth      int              `json:"queue_depth,omitempty"`
	MQTT            *MQTTConfig      `json:"mqtt,omitempty"`
	VirtualDevices  []*VirtualDevice `json:"virtual_devices"` // Ordered slice
}

// Duration marshals as a Go duration string ("30s") and also accepts a number of seconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// ButtonAction encodes a device command as the action string the hub expects.
func ButtonAction(deviceID, command string) string {
	b, _ := json.Marshal(map[string]string{
		"command":  command,
		"type":     "IRCommand",
		"deviceId": deviceID,
	})
	return string(b)
}
