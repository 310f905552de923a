// Package supervisor admits rooms to a bounded set of ghost-runner child
// processes, queues the overflow FIFO, and restarts runners that die while
// their room still wants bots.
package supervisor

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/yengalvez/hubs-cloud/internal/botcfg"
)

type RunnerState string

const (
	StateRunning RunnerState = "running"
	StateQueued  RunnerState = "queued_capacity"
	StateStopped RunnerState = "stopped"
)

// Child is a live runner process.
type Child interface {
	Terminate()
}

// Spawner launches one runner per admitted room. onExit must be invoked
// exactly once when the process ends, from any goroutine.
type Spawner interface {
	Spawn(hubSID string, onExit func()) (Child, error)
}

// EventSink observes lifecycle transitions; it never influences admission.
type EventSink interface {
	RecordEvent(hubSID, event string)
}

type roomConfig struct {
	Bots      botcfg.Config
	UpdatedAt time.Time
}

type Options struct {
	MaxActiveRooms int
	MaxBotsPerRoom int
	Autostart      bool
	Spawner        Spawner
	Logger         *log.Logger

	// RestartDelay is the backoff before a wanted runner is relaunched
	// after an exit. Defaults to 3s.
	RestartDelay time.Duration

	// Index is optional.
	Index EventSink
}

type Manager struct {
	opts Options

	mu            sync.Mutex
	configs       map[string]roomConfig
	runners       map[string]Child
	queue         []string
	restartTimers map[string]*time.Timer
	lastChatAt    map[string]time.Time
	closed        bool
}

func NewManager(opts Options) *Manager {
	if opts.MaxActiveRooms <= 0 {
		opts.MaxActiveRooms = 1
	}
	if opts.MaxBotsPerRoom <= 0 || opts.MaxBotsPerRoom > botcfg.MaxBots {
		opts.MaxBotsPerRoom = botcfg.MaxBots
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = 3 * time.Second
	}
	return &Manager{
		opts:          opts,
		configs:       map[string]roomConfig{},
		runners:       map[string]Child{},
		restartTimers: map[string]*time.Timer{},
		lastChatAt:    map[string]time.Time{},
	}
}

// RoomConfig stores the normalised config and settles the runner state.
func (m *Manager) RoomConfig(hubSID string, bots botcfg.Config) (botcfg.Config, RunnerState) {
	bots.Normalize(m.opts.MaxBotsPerRoom)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[hubSID] = roomConfig{Bots: bots, UpdatedAt: time.Now()}
	state := m.ensureRunnerStateLocked(hubSID)
	m.fillQueuedSlotsLocked()
	return bots, state
}

// RoomStop withdraws the room entirely: config gone, runner killed, queue
// slot freed for the next room.
func (m *Manager) RoomStop(hubSID string) RunnerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.configs, hubSID)
	m.stopRunnerLocked(hubSID)
	m.fillQueuedSlotsLocked()
	return StateStopped
}

// EnsureRunnerState re-evaluates a single room, then refills queued slots.
func (m *Manager) EnsureRunnerState(hubSID string) RunnerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.ensureRunnerStateLocked(hubSID)
	m.fillQueuedSlotsLocked()
	return state
}

func (m *Manager) ensureRunnerStateLocked(hubSID string) RunnerState {
	cfg, ok := m.configs[hubSID]
	if !ok || !cfg.Bots.Enabled || cfg.Bots.Count == 0 {
		m.stopRunnerLocked(hubSID)
		return StateStopped
	}
	if _, running := m.runners[hubSID]; running {
		m.dequeueLocked(hubSID)
		return StateRunning
	}
	if !m.opts.Autostart {
		m.dequeueLocked(hubSID)
		return StateStopped
	}
	if len(m.runners) < m.opts.MaxActiveRooms {
		if m.startLocked(hubSID) {
			return StateRunning
		}
		m.enqueueLocked(hubSID)
		return StateQueued
	}
	m.enqueueLocked(hubSID)
	return StateQueued
}

func (m *Manager) startLocked(hubSID string) bool {
	child, err := m.opts.Spawner.Spawn(hubSID, func() { m.onChildExit(hubSID) })
	if err != nil {
		if m.opts.Logger != nil {
			m.opts.Logger.Printf("spawn runner %s: %v", hubSID, err)
		}
		return false
	}
	m.runners[hubSID] = child
	m.dequeueLocked(hubSID)
	m.record(hubSID, "started")
	return true
}

func (m *Manager) stopRunnerLocked(hubSID string) {
	m.dequeueLocked(hubSID)
	m.cancelRestartLocked(hubSID)
	if child, ok := m.runners[hubSID]; ok {
		delete(m.runners, hubSID)
		child.Terminate()
		m.record(hubSID, "stopped")
	}
}

func (m *Manager) onChildExit(hubSID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if _, ok := m.runners[hubSID]; !ok {
		// Already stopped deliberately; the Terminate path handled it.
		m.fillQueuedSlotsLocked()
		return
	}
	delete(m.runners, hubSID)
	m.cancelRestartLocked(hubSID)
	m.record(hubSID, "exited")
	if m.opts.Logger != nil {
		m.opts.Logger.Printf("runner %s exited", hubSID)
	}

	if m.wantsRunnerLocked(hubSID) {
		if len(m.runners) < m.opts.MaxActiveRooms {
			m.scheduleRestartLocked(hubSID)
		} else {
			m.enqueueLocked(hubSID)
		}
	}
	m.fillQueuedSlotsLocked()
}

func (m *Manager) scheduleRestartLocked(hubSID string) {
	m.cancelRestartLocked(hubSID)
	m.record(hubSID, "restart_scheduled")
	m.restartTimers[hubSID] = time.AfterFunc(m.opts.RestartDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.restartTimers, hubSID)
		if m.closed || !m.wantsRunnerLocked(hubSID) {
			return
		}
		if _, running := m.runners[hubSID]; running {
			return
		}
		if len(m.runners) < m.opts.MaxActiveRooms {
			if !m.startLocked(hubSID) {
				m.enqueueLocked(hubSID)
			}
		} else {
			m.enqueueLocked(hubSID)
		}
	})
}

func (m *Manager) cancelRestartLocked(hubSID string) {
	if t, ok := m.restartTimers[hubSID]; ok {
		t.Stop()
		delete(m.restartTimers, hubSID)
	}
}

func (m *Manager) wantsRunnerLocked(hubSID string) bool {
	cfg, ok := m.configs[hubSID]
	return ok && cfg.Bots.Enabled && cfg.Bots.Count > 0 && m.opts.Autostart
}

func (m *Manager) fillQueuedSlotsLocked() {
	for len(m.queue) > 0 && len(m.runners) < m.opts.MaxActiveRooms {
		hubSID := m.queue[0]
		m.queue = m.queue[1:]
		if !m.wantsRunnerLocked(hubSID) {
			continue
		}
		if _, running := m.runners[hubSID]; running {
			continue
		}
		if !m.startLocked(hubSID) {
			// Spawn failure: put the room back at the head and retry on
			// the next lifecycle event.
			m.queue = append([]string{hubSID}, m.queue...)
			return
		}
		m.record(hubSID, "promoted")
	}
}

func (m *Manager) enqueueLocked(hubSID string) {
	for _, q := range m.queue {
		if q == hubSID {
			return
		}
	}
	m.queue = append(m.queue, hubSID)
	m.record(hubSID, "queued")
}

func (m *Manager) dequeueLocked(hubSID string) {
	for i, q := range m.queue {
		if q == hubSID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return
		}
	}
}

func (m *Manager) record(hubSID, event string) {
	if m.opts.Index != nil {
		m.opts.Index.RecordEvent(hubSID, event)
	}
}

// AllowChat enforces the per-room chat window; the first call per room
// always passes.
func (m *Manager) AllowChat(hubSID string, window time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if last, ok := m.lastChatAt[hubSID]; ok && now.Sub(last) < window {
		return false
	}
	m.lastChatAt[hubSID] = now
	return true
}

type Health struct {
	Rooms          int      `json:"rooms"`
	ActiveRooms    int      `json:"active_rooms"`
	QueuedRooms    int      `json:"queued_rooms"`
	MaxActiveRooms int      `json:"max_active_rooms"`
	MaxBotsPerRoom int      `json:"max_bots_per_room"`
	ActiveHubs     []string `json:"active_hubs"`
	QueuedHubs     []string `json:"queued_hubs"`
}

func (m *Manager) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	active := make([]string, 0, len(m.runners))
	for hub := range m.runners {
		active = append(active, hub)
	}
	sort.Strings(active)
	queued := make([]string, len(m.queue))
	copy(queued, m.queue)
	return Health{
		Rooms:          len(m.configs),
		ActiveRooms:    len(m.runners),
		QueuedRooms:    len(m.queue),
		MaxActiveRooms: m.opts.MaxActiveRooms,
		MaxBotsPerRoom: m.opts.MaxBotsPerRoom,
		ActiveHubs:     active,
		QueuedHubs:     queued,
	}
}

// Close terminates every runner and stops all timers.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for hub, t := range m.restartTimers {
		t.Stop()
		delete(m.restartTimers, hub)
	}
	for hub, child := range m.runners {
		delete(m.runners, hub)
		child.Terminate()
	}
	m.queue = nil
}
