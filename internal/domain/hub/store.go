package hub

import (
	"sync"

	"harmony-bridge/internal/domain/model"
)

type change struct {
	kind Event
	old  any
}

// store holds the last state documents seen from the hub. Values are copied
// in and out, so only hub responses change them. Updates return the changes
// to announce; callers notify after the lock is released.
type store struct {
	mu         sync.RWMutex
	activities model.Snapshot[[]model.Record]
	current    model.Snapshot[model.Record]
	currentID  string
	hasCurrent bool
	devices    model.Snapshot[[]model.Record]
}

func newStore() *store {
	return &store{}
}

func swap[T any](slot *model.Snapshot[T], next model.Snapshot[T], kind Event, changes []change) []change {
	old := *slot
	*slot = next
	if old.Equal(next) {
		return changes
	}
	return append(changes, change{kind: kind, old: old})
}

func (s *store) setActivities(list []model.Record) []change {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := swap(&s.activities, model.Present(model.CloneRecords(list)), EventActivitiesChanged, nil)
	if s.hasCurrent {
		changes = swap(&s.current, model.Present(s.resolve(s.currentID)), EventCurrentActivityChanged, changes)
	}
	return changes
}

func (s *store) setDevices(list []model.Record) []change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return swap(&s.devices, model.Present(model.CloneRecords(list)), EventDevicesChanged, nil)
}

func (s *store) setCurrentActivity(id string) []change {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentID = id
	s.hasCurrent = true
	return swap(&s.current, model.Present(s.resolve(id)), EventCurrentActivityChanged, nil)
}

// resolve finds the activity record for id in the known list. Must hold mu.
func (s *store) resolve(id string) model.Record {
	for _, rec := range s.activities.Value() {
		if rec.ID() == id {
			return rec.Clone()
		}
	}
	return model.Record{"id": id}
}

func (s *store) getActivities() model.Snapshot[[]model.Record] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activities.Clone()
}

func (s *store) getCurrent() model.Snapshot[model.Record] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

func (s *store) getDevices() model.Snapshot[[]model.Record] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices.Clone()
}
