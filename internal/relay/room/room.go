// Package room is the presence layer: named groupings of registered
// connections used for group chat and multi-party presence.
//
// A room is purely a named subset of the registry and owns no transport
// resources. Rooms are created implicitly on first join and garbage-
// collected as soon as the last member leaves; the registry stays the only
// source of truth for liveness.
package room

import (
	"sync"

	"github.com/danyal-tariq/MeetUpSync/pkg/metrics"

	"go.uber.org/zap"
)

// Manager tracks room membership. All mutation goes through Join, Leave
// and LeaveAll; no other component touches the membership sets.
type Manager struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	members map[string]map[string]struct{} // room id -> member connection ids
	joined  map[string]map[string]struct{} // connection id -> room ids
}

// NewManager creates a new room manager. metrics may be nil.
func NewManager(logger *zap.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		logger:  logger.Named("room"),
		metrics: m,
		members: make(map[string]map[string]struct{}),
		joined:  make(map[string]map[string]struct{}),
	}
}

// Join adds id to roomID, creating the room on first join. Joining an
// already-joined room is a no-op. Returns true when membership changed.
func (m *Manager) Join(id, roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[roomID]
	if !ok {
		set = make(map[string]struct{})
		m.members[roomID] = set
		if m.metrics != nil {
			m.metrics.RoomCreated()
		}
		m.logger.Debug("room created", zap.String("room", roomID))
	}
	if _, already := set[id]; already {
		return false
	}
	set[id] = struct{}{}

	rooms, ok := m.joined[id]
	if !ok {
		rooms = make(map[string]struct{})
		m.joined[id] = rooms
	}
	rooms[roomID] = struct{}{}

	if m.metrics != nil {
		m.metrics.RoomMembers(roomID, len(set))
	}
	return true
}

// Leave removes id from roomID. Leaving a room one is not in is a no-op.
// Returns true when membership changed.
func (m *Manager) Leave(id, roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveLocked(id, roomID)
}

// LeaveAll removes id from every room it had joined and returns those
// rooms. The gateway calls this first in the Closed transition so no room
// ever references a removed identifier.
func (m *Manager) LeaveAll(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	rooms := make([]string, 0, len(m.joined[id]))
	for roomID := range m.joined[id] {
		rooms = append(rooms, roomID)
	}
	for _, roomID := range rooms {
		m.leaveLocked(id, roomID)
	}
	return rooms
}

// Members returns a snapshot of roomID's membership. An unknown room has
// no members.
func (m *Manager) Members(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.members[roomID]))
	for id := range m.members[roomID] {
		ids = append(ids, id)
	}
	return ids
}

// Rooms returns a snapshot of the rooms id has joined.
func (m *Manager) Rooms(id string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]string, 0, len(m.joined[id]))
	for roomID := range m.joined[id] {
		rooms = append(rooms, roomID)
	}
	return rooms
}

func (m *Manager) leaveLocked(id, roomID string) bool {
	set, ok := m.members[roomID]
	if !ok {
		return false
	}
	if _, member := set[id]; !member {
		return false
	}
	delete(set, id)

	if rooms, ok := m.joined[id]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(m.joined, id)
		}
	}

	if len(set) == 0 {
		delete(m.members, roomID)
		if m.metrics != nil {
			m.metrics.RoomDestroyed(roomID)
		}
		m.logger.Debug("room destroyed", zap.String("room", roomID))
	} else if m.metrics != nil {
		m.metrics.RoomMembers(roomID, len(set))
	}
	return true
}
