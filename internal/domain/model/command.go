package model

import "time"

type CommandKind int

const (
	CommandFetchConfig CommandKind = iota
	CommandFetchCurrentActivity
	CommandStartActivity
	CommandButtonPress
	CommandButtonHold
	CommandButtonRelease
)

func (k CommandKind) String() string {
	switch k {
	case CommandFetchConfig:
		return "fetch_config"
	case CommandFetchCurrentActivity:
		return "fetch_current_activity"
	case CommandStartActivity:
		return "start_activity"
	case CommandButtonPress:
		return "button_press"
	case CommandButtonHold:
		return "button_hold"
	case CommandButtonRelease:
		return "button_release"
	}
	return "unknown"
}

// Command is a hub operation independent of its wire encoding.
// Arg is the activity id for CommandStartActivity and the action for button commands.
type Command struct {
	Kind CommandKind
	Arg  string
}

// Request is a Command tagged with the id its response will carry.
type Request struct {
	ID      string
	Command Command
	Timeout time.Duration
}

type InboundKind int

const (
	InboundResponse InboundKind = iota
	// InboundProgress is an interim reply (code 100) to a request that is still running.
	InboundProgress
	InboundPush
)

type PushKind int

const (
	PushUnknown PushKind = iota
	// PushCurrentActivity carries {"activityId": "..."}.
	PushCurrentActivity
	PushConfigChanged
)

// Inbound is one decoded frame received from the hub.
type Inbound struct {
	Kind    InboundKind
	ID      string
	Code    int
	Message string
	Push    PushKind
	Data    Document
}

const (
	CodeOK         = 200
	CodeInProgress = 100
)

// PowerOffActivityID is the hub's id for "all devices off".
const PowerOffActivityID = "-1"
