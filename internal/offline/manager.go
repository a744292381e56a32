// Package offline derives the effective offline flag from the manual user
// toggle and live connectivity.
package offline

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/offcast/offcast/internal/connectivity"
	"github.com/offcast/offcast/internal/events"
	"github.com/offcast/offcast/internal/prefs"
)

// Manager recomputes `manual OR NOT online` whenever either input changes
type Manager struct {
	prefs   *prefs.Prefs
	monitor *connectivity.Monitor

	mu      sync.Mutex
	manual  bool
	online  bool
	last    bool
	hasLast bool
	subs    map[int]chan bool
	nextID  int

	cancelConn func()
	done       chan struct{}
}

// New creates the manager seeded from persisted preferences and the current
// connectivity snapshot
func New(p *prefs.Prefs, monitor *connectivity.Monitor) *Manager {
	return &Manager{
		prefs:   p,
		monitor: monitor,
		manual:  p.ManualOffline(),
		online:  monitor.Current().Online,
		subs:    make(map[int]chan bool),
	}
}

// Start begins tracking connectivity changes
func (m *Manager) Start() {
	ch, cancel := m.monitor.Subscribe()
	m.cancelConn = cancel
	m.done = make(chan struct{})

	m.recompute()

	go func() {
		defer close(m.done)
		for status := range ch {
			m.mu.Lock()
			m.online = status.Online
			m.mu.Unlock()
			m.recompute()
		}
	}()
}

// Stop detaches from the connectivity stream and closes subscribers
func (m *Manager) Stop() {
	if m.cancelConn != nil {
		m.cancelConn()
		<-m.done
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}

// IsOffline returns the current effective offline flag
func (m *Manager) IsOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manual || !m.online
}

// ManualOffline returns just the manual override
func (m *Manager) ManualOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manual
}

// SetManualOffline persists and applies the manual override
func (m *Manager) SetManualOffline(v bool) error {
	if err := m.prefs.SetManualOffline(v); err != nil {
		return err
	}
	m.mu.Lock()
	m.manual = v
	m.mu.Unlock()
	m.recompute()
	return nil
}

// Subscribe registers a consumer; the current flag is delivered immediately
func (m *Manager) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subs[id] = ch
	ch <- m.manual || !m.online

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (m *Manager) recompute() {
	m.mu.Lock()
	defer m.mu.Unlock()

	offline := m.manual || !m.online
	if m.hasLast && offline == m.last {
		return
	}
	m.last = offline
	m.hasLast = true

	log.Debug().
		Bool("offline", offline).
		Bool("manual", m.manual).
		Bool("online", m.online).
		Msg("Offline state changed")

	for _, ch := range m.subs {
		events.Conflate(ch, offline)
	}
}
