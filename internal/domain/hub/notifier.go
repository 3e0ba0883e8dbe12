package hub

import (
	"slices"
	"sync"

	"harmony-bridge/internal/domain/model"
)

// Event identifies a kind of session notification.
type Event int

const (
	EventActivitiesChanged Event = iota
	EventCurrentActivityChanged
	EventDevicesChanged
	EventConnectionLost
)

func (e Event) String() string {
	switch e {
	case EventActivitiesChanged:
		return "activities_changed"
	case EventCurrentActivityChanged:
		return "current_activity_changed"
	case EventDevicesChanged:
		return "devices_changed"
	case EventConnectionLost:
		return "connection_lost"
	}
	return "unknown"
}

// listener receives the previous value of a document (a model.Snapshot) or,
// for EventConnectionLost, the error.
type listener func(old any)

type notifier struct {
	mu        sync.RWMutex
	listeners map[Event][]listener
}

func newNotifier() *notifier {
	return &notifier{listeners: make(map[Event][]listener)}
}

func (n *notifier) subscribe(kind Event, fn listener) {
	if fn == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners[kind] = append(n.listeners[kind], fn)
}

// notify calls the listeners for kind synchronously, without holding the lock.
func (n *notifier) notify(kind Event, old any) {
	n.mu.RLock()
	ls := slices.Clone(n.listeners[kind])
	n.mu.RUnlock()

	for _, fn := range ls {
		fn(old)
	}
}

func (n *notifier) dispatch(changes []change) {
	for _, c := range changes {
		n.notify(c.kind, c.old)
	}
}

// Observer capabilities. A session observer may implement any subset of
// these; missing ones are simply not called. New values are read from the
// session accessors.

type ActivitiesObserver interface {
	OnActivitiesChanged(s *Session, old model.Snapshot[[]model.Record])
}

type CurrentActivityObserver interface {
	OnCurrentActivityChanged(s *Session, old model.Snapshot[model.Record])
}

type DevicesObserver interface {
	OnDevicesChanged(s *Session, old model.Snapshot[[]model.Record])
}

type ConnectionObserver interface {
	OnConnectionLost(s *Session, err error)
}

func (s *Session) register(observer any) {
	if observer == nil {
		return
	}
	if o, ok := observer.(ActivitiesObserver); ok {
		s.WatchActivities(func(old model.Snapshot[[]model.Record]) { o.OnActivitiesChanged(s, old) })
	}
	if o, ok := observer.(CurrentActivityObserver); ok {
		s.WatchCurrentActivity(func(old model.Snapshot[model.Record]) { o.OnCurrentActivityChanged(s, old) })
	}
	if o, ok := observer.(DevicesObserver); ok {
		s.WatchDevices(func(old model.Snapshot[[]model.Record]) { o.OnDevicesChanged(s, old) })
	}
	if o, ok := observer.(ConnectionObserver); ok {
		s.WatchConnection(func(err error) { o.OnConnectionLost(s, err) })
	}
}

func (s *Session) WatchActivities(fn func(old model.Snapshot[[]model.Record])) {
	s.notifier.subscribe(EventActivitiesChanged, func(old any) {
		v, _ := old.(model.Snapshot[[]model.Record])
		fn(v.Clone())
	})
}

func (s *Session) WatchCurrentActivity(fn func(old model.Snapshot[model.Record])) {
	s.notifier.subscribe(EventCurrentActivityChanged, func(old any) {
		v, _ := old.(model.Snapshot[model.Record])
		fn(v.Clone())
	})
}

func (s *Session) WatchDevices(fn func(old model.Snapshot[[]model.Record])) {
	s.notifier.subscribe(EventDevicesChanged, func(old any) {
		v, _ := old.(model.Snapshot[[]model.Record])
		fn(v.Clone())
	})
}

func (s *Session) WatchConnection(fn func(err error)) {
	s.notifier.subscribe(EventConnectionLost, func(old any) {
		err, _ := old.(error)
		fn(err)
	})
}
