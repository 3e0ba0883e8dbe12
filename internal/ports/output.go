package ports

import (
	"context"
	"harmony-bridge/internal/domain/model"
)

// HubTransport opens connections to a hub at a network address.
type HubTransport interface {
	Dial(ctx context.Context, address string) (HubConn, error)
}

// HubConn is one open channel to a hub. Receive returns an error once the
// connection is lost or closed.
type HubConn interface {
	Handshake(ctx context.Context) (remoteID int64, err error)
	Send(ctx context.Context, req model.Request) error
	Receive(ctx context.Context) (model.Inbound, error)
	Close() error
}

// HubPort is the subset of a hub session the bridge drives.
type HubPort interface {
	StartActivity(activityID string, completion model.Completion)
	ButtonPress(action string, completion model.Completion)
	ButtonHold(action string, completion model.Completion)
	ButtonRelease(action string, completion model.Completion)
	Refresh()

	IP4Address() string
	RemoteID() int64
	State() model.SessionState
	Activities() model.Snapshot[[]model.Record]
	CurrentActivity() model.Snapshot[model.Record]
	Devices() model.Snapshot[[]model.Record]
}

// StatePublisher mirrors hub state to an external system.
type StatePublisher interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
