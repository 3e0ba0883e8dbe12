package harmony

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"harmony-bridge/internal/domain/model"
)

const (
	engine = "vnd.logitech.harmony/vnd.logitech.harmony.engine"

	cmdConfig          = engine + "?config"
	cmdCurrentActivity = engine + "?getCurrentActivity"
	cmdStartActivity   = "harmony.activityengine?runactivity"
	cmdHoldAction      = engine + "?holdAction"

	typeStateDigest      = "connect.stateDigest?notify"
	typeActivityFinished = "harmony.engine?startActivityFinished"
	typeConfigChanged    = "harmony.engine?configChanged"
)

type envelope struct {
	HubID   string `json:"hubId"`
	Timeout int    `json:"timeout"`
	HBus    hbus   `json:"hbus"`
}

type hbus struct {
	Cmd    string `json:"cmd"`
	ID     string `json:"id"`
	Params any    `json:"params"`
}

// frame is any message the hub sends on the websocket.
type frame struct {
	Type string          `json:"type"`
	Cmd  string          `json:"cmd"`
	ID   string          `json:"id"`
	Code code            `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// code accepts both 200 and "200".
type code int

func (c *code) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("harmony: invalid code %s", b)
	}
	*c = code(n)
	return nil
}

func encodeRequest(remoteID int64, req model.Request) ([]byte, error) {
	cmd, params, err := commandFor(req.Command)
	if err != nil {
		return nil, err
	}
	timeout := int(req.Timeout.Seconds())
	if timeout <= 0 {
		timeout = 30
	}
	return json.Marshal(envelope{
		HubID:   strconv.FormatInt(remoteID, 10),
		Timeout: timeout,
		HBus:    hbus{Cmd: cmd, ID: req.ID, Params: params},
	})
}

func commandFor(c model.Command) (string, any, error) {
	switch c.Kind {
	case model.CommandFetchConfig:
		return cmdConfig, map[string]any{"verb": "get"}, nil
	case model.CommandFetchCurrentActivity:
		return cmdCurrentActivity, map[string]any{"verb": "get"}, nil
	case model.CommandStartActivity:
		return cmdStartActivity, map[string]any{
			"async":      "true",
			"timestamp":  0,
			"args":       map[string]any{"rule": "start"},
			"activityId": c.Arg,
		}, nil
	case model.CommandButtonPress:
		return cmdHoldAction, holdParams("press", c.Arg), nil
	case model.CommandButtonHold:
		return cmdHoldAction, holdParams("hold", c.Arg), nil
	case model.CommandButtonRelease:
		return cmdHoldAction, holdParams("release", c.Arg), nil
	}
	return "", nil, fmt.Errorf("harmony: unsupported command %s", c.Kind)
}

// ackedOnWrite reports whether the hub sends no reply for the command, so the
// connection confirms it once the frame is written.
func ackedOnWrite(k model.CommandKind) bool {
	switch k {
	case model.CommandButtonPress, model.CommandButtonHold, model.CommandButtonRelease:
		return true
	}
	return false
}

func holdParams(status, action string) map[string]any {
	return map[string]any{
		"status":    status,
		"timestamp": "0",
		"verb":      "render",
		"action":    action,
	}
}

// decoder turns hub frames into inbound messages. It remembers the last
// configuration version reported in a state digest.
type decoder struct {
	configVersion string
}

func (d *decoder) decode(raw []byte) ([]model.Inbound, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("harmony: decoding frame: %w", err)
	}
	data, err := document(f.Data)
	if err != nil {
		return nil, err
	}

	if f.ID != "" && f.Type == "" {
		if f.Cmd == cmdHoldAction {
			// already confirmed on write
			return nil, nil
		}
		in := model.Inbound{Kind: model.InboundResponse, ID: f.ID, Code: int(f.Code), Message: f.Msg, Data: data}
		if in.Code == model.CodeInProgress {
			in.Kind = model.InboundProgress
		}
		if f.Cmd == cmdConfig {
			in.Data = normaliseConfig(data)
		}
		return []model.Inbound{in}, nil
	}

	switch f.Type {
	case typeStateDigest:
		return d.digest(data), nil
	case typeActivityFinished:
		return []model.Inbound{{Kind: model.InboundPush, Push: model.PushCurrentActivity, Data: data}}, nil
	case typeConfigChanged:
		return []model.Inbound{{Kind: model.InboundPush, Push: model.PushConfigChanged, Data: data}}, nil
	}
	return []model.Inbound{{Kind: model.InboundPush, Push: model.PushUnknown, Data: data}}, nil
}

func (d *decoder) digest(data model.Document) []model.Inbound {
	doc, _ := data.(map[string]any)
	var out []model.Inbound
	if _, ok := doc["activityId"]; ok {
		out = append(out, model.Inbound{Kind: model.InboundPush, Push: model.PushCurrentActivity, Data: data})
	}
	if v, ok := doc["configVersion"]; ok {
		version := fmt.Sprint(v)
		if d.configVersion != "" && d.configVersion != version {
			out = append(out, model.Inbound{Kind: model.InboundPush, Push: model.PushConfigChanged, Data: data})
		}
		d.configVersion = version
	}
	return out
}

func document(raw json.RawMessage) (model.Document, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	var doc model.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("harmony: decoding data: %w", err)
	}
	return doc, nil
}

// normaliseConfig keeps the activity and device lists of a config reply.
func normaliseConfig(data model.Document) model.Document {
	doc, ok := data.(map[string]any)
	if !ok {
		return data
	}
	out := map[string]any{"activity": []any{}, "device": []any{}}
	for _, key := range []string{"activity", "device"} {
		if list, ok := doc[key].([]any); ok {
			out[key] = list
		}
	}
	return out
}
