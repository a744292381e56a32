// Package socket maintains the push-notification WebSocket connection for the
// active session and translates server messages into event-bus notifications.
package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/offcast/offcast/internal/config"
	"github.com/offcast/offcast/internal/events"
	"github.com/offcast/offcast/internal/jellyfin"
	"github.com/offcast/offcast/internal/session"
)

// State is the socket connection lifecycle
type State string

const (
	StateDisconnected     State = "disconnected"
	StateConnecting       State = "connecting"
	StateConnected        State = "connected"
	StateDisconnecting    State = "disconnecting"
	StateError            State = "error"
	StateServerRestarting State = "server_restarting"
	StateServerShutdown   State = "server_shutdown"
)

// message is the MediaBrowser WebSocket envelope
type message struct {
	MessageType string          `json:"MessageType"`
	Data        json.RawMessage `json:"Data,omitempty"`
}

type outMessage struct {
	MessageType string `json:"MessageType"`
	Data        any    `json:"Data,omitempty"`
}

// Pipeline follows the active session and keeps one socket connection open
// per session, reconnecting with capped exponential backoff.
type Pipeline struct {
	sessions *session.Manager
	bus      *events.Bus

	mu        sync.Mutex
	state     State
	stateSubs map[int]chan State
	nextID    int

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewPipeline creates a pipeline in the disconnected state
func NewPipeline(sessions *session.Manager, bus *events.Bus) *Pipeline {
	return &Pipeline{
		sessions:  sessions,
		bus:       bus,
		state:     StateDisconnected,
		stateSubs: make(map[int]chan State),
	}
}

// Start launches the session-follower loop
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Go(func() {
		p.run(runCtx)
	})
	log.Info().Msg("WebSocket pipeline started")
}

// Stop tears down the connection and waits for the loops to exit
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.setState(StateDisconnected)
	log.Info().Msg("WebSocket pipeline stopped")
}

// State returns the current connection state
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SubscribeState registers a replay-1 connection-state observer
func (p *Pipeline) SubscribeState() (<-chan State, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	ch := make(chan State, 1)
	p.stateSubs[id] = ch
	ch <- p.state

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.stateSubs[id]; ok {
			delete(p.stateSubs, id)
			close(c)
		}
	}
	return ch, cancel
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == s {
		return
	}
	p.state = s
	for _, ch := range p.stateSubs {
		events.Conflate(ch, s)
	}
}

// run follows the session stream, opening a watch loop per distinct
// (serverId, userId) session and tearing it down on session change.
func (p *Pipeline) run(ctx context.Context) {
	sessionCh, cancelSub := p.sessions.SubscribeSession()
	defer cancelSub()

	var connCancel context.CancelFunc
	var connWG sync.WaitGroup
	stop := func() {
		if connCancel == nil {
			return
		}
		p.setState(StateDisconnecting)
		connCancel()
		connWG.Wait()
		connCancel = nil
		p.setState(StateDisconnected)
	}
	defer stop()

	var currentKey string
	for {
		select {
		case <-ctx.Done():
			return
		case sess, ok := <-sessionCh:
			if !ok {
				return
			}
			key := ""
			if sess != nil {
				key = sess.ServerID + "/" + sess.UserID
			}
			if key == currentKey {
				continue
			}
			stop()
			currentKey = key
			if sess == nil {
				continue
			}

			client, err := p.sessions.GetOrRestoreClient(sess.ServerID)
			if err != nil {
				log.Warn().Err(err).Str("server_id", sess.ServerID).Msg("No API client for socket connection")
				continue
			}

			connCtx, cancel := context.WithCancel(ctx)
			connCancel = cancel
			serverID := sess.ServerID
			connWG.Go(func() {
				p.watch(connCtx, client, serverID)
			})
		}
	}
}

// watch keeps the connection alive for one session, reconnecting with
// exponential backoff until the context is cancelled
func (p *Pipeline) watch(ctx context.Context, client *jellyfin.Client, serverID string) {
	const (
		initialBackoff = 1 * time.Second
		maxBackoff     = 5 * time.Minute
	)

	pingInterval := config.GetTimeouts().WebSocketPing
	backoff := initialBackoff

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := p.watchOnce(ctx, client, serverID, pingInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			p.setState(StateError)
			log.Warn().
				Err(err).
				Str("server_id", serverID).
				Dur("backoff", backoff).
				Msg("WebSocket disconnected, reconnecting")

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}

			backoff = min(backoff*2, maxBackoff)
		} else {
			backoff = initialBackoff
		}
	}
}

// watchOnce runs a single connection: dial, subscribe, then pump messages
// until the context is cancelled or the read loop fails
func (p *Pipeline) watchOnce(ctx context.Context, client *jellyfin.Client, serverID string, pingInterval time.Duration) error {
	p.setState(StateConnecting)

	conn, err := client.DialSocket(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	p.setState(StateConnected)
	log.Info().Str("server_id", serverID).Msg("Connected to server WebSocket")

	// Each subscription is sent independently so one failure does not take
	// down the others
	subscriptions := []outMessage{
		{MessageType: "SessionsStart", Data: "0,1500"},
		{MessageType: "ActivityLogEntryStart", Data: "0,1500"},
	}
	for _, sub := range subscriptions {
		if err := conn.WriteJSON(sub); err != nil {
			log.Warn().
				Err(err).
				Str("server_id", serverID).
				Str("type", sub.MessageType).
				Msg("Failed to send WebSocket subscription")
		}
	}

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	readErrCh := make(chan error, 1)
	forceKeepAliveCh := make(chan struct{}, 1)

	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				readErrCh <- err
				return
			}

			log.Trace().
				Str("server_id", serverID).
				RawJSON("message", raw).
				Msg("Received WebSocket message")

			var msg message
			if err := json.Unmarshal(raw, &msg); err != nil {
				log.Debug().Err(err).Str("server_id", serverID).Msg("Failed to parse WebSocket message")
				continue
			}

			if msg.MessageType == "ForceKeepAlive" {
				select {
				case forceKeepAliveCh <- struct{}{}:
				default:
				}
				continue
			}

			p.handle(serverID, msg)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case err := <-readErrCh:
			return err
		case <-forceKeepAliveCh:
			if err := conn.WriteJSON(outMessage{MessageType: "KeepAlive"}); err != nil {
				return fmt.Errorf("keep-alive failed: %w", err)
			}
		case <-pingTicker.C:
			if err := conn.WriteJSON(outMessage{MessageType: "KeepAlive"}); err != nil {
				return fmt.Errorf("keep-alive failed: %w", err)
			}
		}
	}
}

type userDataChangedData struct {
	UserDataList []struct {
		ItemID string `json:"ItemId"`
	} `json:"UserDataList"`
}

// handle translates one push message into a bus event. Each message type is
// handled in isolation: a panic or parse failure in one handler is logged
// and never tears down the connection.
func (p *Pipeline) handle(serverID string, msg message) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("type", msg.MessageType).
				Msg("Recovered from panic in WebSocket message handler")
		}
	}()

	switch msg.MessageType {
	case "KeepAlive":
		// reply to ForceKeepAlive only

	case "UserDataChanged":
		var data userDataChangedData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			log.Debug().Err(err).Msg("Failed to parse UserDataChanged payload")
			return
		}
		if len(data.UserDataList) == 1 {
			p.bus.Publish(events.Event{
				Kind:     events.KindUserDataChanged,
				Priority: events.PriorityHigh,
				ServerID: serverID,
				ItemID:   data.UserDataList[0].ItemID,
			})
			return
		}
		itemIDs := make([]string, 0, len(data.UserDataList))
		for _, entry := range data.UserDataList {
			itemIDs = append(itemIDs, entry.ItemID)
		}
		p.bus.Publish(events.Event{
			Kind:     events.KindBatchUserDataChanged,
			Priority: events.PriorityHigh,
			ServerID: serverID,
			Data:     itemIDs,
		})

	case "LibraryChanged":
		p.bus.Publish(events.Event{
			Kind:     events.KindLibraryChanged,
			Priority: events.PriorityNormal,
			ServerID: serverID,
		})

	case "ServerRestarting":
		p.setState(StateServerRestarting)
		p.bus.Publish(events.Event{
			Kind:     events.KindServerRestarting,
			Priority: events.PriorityImmediate,
			ServerID: serverID,
		})

	case "ServerShuttingDown":
		p.setState(StateServerShutdown)
		p.bus.Publish(events.Event{
			Kind:     events.KindServerShuttingDown,
			Priority: events.PriorityImmediate,
			ServerID: serverID,
		})

	case "Play":
		p.bus.Publish(events.Event{
			Kind:     events.KindPlayCommand,
			Priority: events.PriorityNormal,
			ServerID: serverID,
			Data:     json.RawMessage(msg.Data),
		})

	case "Playstate":
		p.bus.Publish(events.Event{
			Kind:     events.KindPlaystateCommand,
			Priority: events.PriorityNormal,
			ServerID: serverID,
			Data:     json.RawMessage(msg.Data),
		})

	default:
		log.Trace().Str("type", msg.MessageType).Msg("Ignoring WebSocket message")
	}
}
