package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/Nixie-Tech-LLC/jinglecast/internal/model"
)

// Conn is one live transport to a device. Send must be safe for
// concurrent use.
type Conn interface {
	ID() string
	RemoteAddr() string
	Send(env Envelope) error
	Close() error
}

// Session binds a connection to the device that registered on it.
type Session struct {
	DeviceID    int
	Conn        Conn
	ConnectedAt time.Time

	mu      sync.Mutex
	closed  bool
	pending map[string]chan model.PlaybackSnapshot
}

func newSession(deviceID int, conn Conn, now time.Time) *Session {
	return &Session{
		DeviceID:    deviceID,
		Conn:        conn,
		ConnectedAt: now,
		pending:     map[string]chan model.PlaybackSnapshot{},
	}
}

// await registers a pull waiting for requestID.
func (s *Session) await(requestID string) (<-chan model.PlaybackSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	ch := make(chan model.PlaybackSnapshot, 1)
	s.pending[requestID] = ch
	return ch, true
}

// settle resolves a waiting pull. Whoever removes the entry from pending is
// the only one allowed to complete it, so a pull settles exactly once.
func (s *Session) settle(requestID string, snap model.PlaybackSnapshot) bool {
	s.mu.Lock()
	ch, ok := s.pending[requestID]
	delete(s.pending, requestID)
	s.mu.Unlock()
	if ok {
		ch <- snap
	}
	return ok
}

// abandon drops a pull that gave up. It reports false when the pull was
// already settled or failed by someone else.
func (s *Session) abandon(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[requestID]
	delete(s.pending, requestID)
	return ok
}

// fail rejects every waiting pull and refuses new ones.
func (s *Session) fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Registry tracks live sessions. Sessions are owned by their connection
// id; the device index only ever points at the newest connection.
type Registry struct {
	mu        sync.RWMutex
	byConn    map[string]*Session
	byDevice  map[int]*Session
	snapshots map[int]model.PlaybackSnapshot
	now       func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byConn:    map[string]*Session{},
		byDevice:  map[int]*Session{},
		snapshots: map[int]model.PlaybackSnapshot{},
		now:       time.Now,
	}
}

// Bind creates the session for conn and makes it the device's current one.
// The session it replaced, if any, is returned so the caller can close it.
func (r *Registry) Bind(deviceID int, conn Conn) (current, replaced *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byConn[conn.ID()]; ok {
		if old.DeviceID == deviceID {
			return old, nil
		}
		// same socket re-registered as another device
		if r.byDevice[old.DeviceID] == old {
			delete(r.byDevice, old.DeviceID)
		}
		old.fail()
	}

	s := newSession(deviceID, conn, r.now())
	r.byConn[conn.ID()] = s
	if prev, ok := r.byDevice[deviceID]; ok && prev.Conn.ID() != conn.ID() {
		replaced = prev
	}
	r.byDevice[deviceID] = s
	return s, replaced
}

// Remove deletes the session owned by connID. current reports whether it
// was still the device's active session; a superseded connection closing
// leaves the newer session alone.
func (r *Registry) Remove(connID string) (s *Session, current bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byConn[connID]
	if !ok {
		return nil, false
	}
	delete(r.byConn, connID)
	if r.byDevice[s.DeviceID] == s {
		delete(r.byDevice, s.DeviceID)
		current = true
	}
	return s, current
}

// Drop removes the device's current session and its last snapshot.
func (r *Registry) Drop(deviceID int) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.snapshots, deviceID)
	s, ok := r.byDevice[deviceID]
	if !ok {
		return nil
	}
	delete(r.byDevice, deviceID)
	if r.byConn[s.Conn.ID()] == s {
		delete(r.byConn, s.Conn.ID())
	}
	return s
}

func (r *Registry) Lookup(deviceID int) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byDevice[deviceID]
	return s, ok
}

// DeviceFor returns the device a connection registered as.
func (r *Registry) DeviceFor(connID string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byConn[connID]
	if !ok {
		return 0, false
	}
	return s.DeviceID, true
}

// Sessions returns a copy of the current session of every device, sorted
// by device id.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.byDevice))
	for _, s := range r.byDevice {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byDevice)
}

func (r *Registry) StoreSnapshot(snap model.PlaybackSnapshot) {
	r.mu.Lock()
	r.snapshots[snap.DeviceID] = snap
	r.mu.Unlock()
}

func (r *Registry) Snapshot(deviceID int) (model.PlaybackSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap, ok := r.snapshots[deviceID]
	return snap, ok
}
