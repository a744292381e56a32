// Package connectivity observes network reachability and link type and fans
// the result out to subscribers as a replay-1 stream.
package connectivity

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/offcast/offcast/internal/events"
)

// LinkType classifies the active network link for download gating
type LinkType string

const (
	LinkNone      LinkType = "none"
	LinkMetered   LinkType = "metered"
	LinkUnmetered LinkType = "unmetered"
)

// Status is one connectivity observation
type Status struct {
	Online bool
	Link   LinkType
}

const (
	defaultProbeAddr = "1.1.1.1:443"
	defaultInterval  = 10 * time.Second
	probeTimeout     = 5 * time.Second
)

// Monitor probes reachability on a ticker. Subscribers receive the last
// observation immediately and every change afterwards.
type Monitor struct {
	interval time.Duration

	mu        sync.RWMutex
	probeAddr string
	last      Status
	hasLast   bool
	subs      map[int]chan Status
	nextID    int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor with the default probe target and interval
func New() *Monitor {
	return &Monitor{
		interval:  defaultInterval,
		probeAddr: defaultProbeAddr,
		subs:      make(map[int]chan Status),
	}
}

// SetProbeAddress points the probe at the active server so "online" means
// "the server I care about answers", falling back to the default when empty.
func (m *Monitor) SetProbeAddress(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if addr == "" {
		m.probeAddr = defaultProbeAddr
	} else {
		m.probeAddr = addr
	}
}

// Start begins probing until Stop is called
func (m *Monitor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	// Take an immediate observation so early subscribers see real state
	m.observe()

	m.wg.Go(func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.observe()
			}
		}
	})
}

// Stop halts probing and closes all subscriber channels
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}

// Current returns the latest observation
func (m *Monitor) Current() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Subscribe registers a consumer; the current status is delivered immediately
func (m *Monitor) Subscribe() (<-chan Status, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Status, 1)
	m.subs[id] = ch
	if m.hasLast {
		ch <- m.last
	}

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

// observe probes once and publishes on change
func (m *Monitor) observe() {
	m.mu.RLock()
	addr := m.probeAddr
	m.mu.RUnlock()

	status := probe(addr)
	m.publish(status)
}

// Set forces an observation; used by tests and by callers that learn about
// connectivity loss out of band (e.g. a failed API call).
func (m *Monitor) Set(status Status) {
	m.publish(status)
}

func (m *Monitor) publish(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.hasLast && m.last == status {
		return
	}
	changed := m.hasLast
	m.last = status
	m.hasLast = true

	if changed {
		log.Info().
			Bool("online", status.Online).
			Str("link", string(status.Link)).
			Msg("Connectivity changed")
	}

	for _, ch := range m.subs {
		// A subscriber that is behind sees the latest status, not a backlog
		events.Conflate(ch, status)
	}
}

func probe(addr string) Status {
	conn, err := net.DialTimeout("tcp", addr, probeTimeout)
	if err != nil {
		return Status{Online: false, Link: LinkNone}
	}
	conn.Close()
	return Status{Online: true, Link: classifyLink()}
}

// classifyLink guesses link type from the first up, non-loopback interface.
// Cellular-style interface names count as metered.
func classifyLink() LinkType {
	ifaces, err := net.Interfaces()
	if err != nil {
		return LinkUnmetered
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		name := strings.ToLower(iface.Name)
		for _, prefix := range []string{"wwan", "rmnet", "ppp", "usb"} {
			if strings.HasPrefix(name, prefix) {
				return LinkMetered
			}
		}
		return LinkUnmetered
	}
	return LinkUnmetered
}
