package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/offcast/offcast/internal/events"
	"github.com/offcast/offcast/internal/jellyfin"
)

func testPipeline() (*Pipeline, *events.Bus) {
	bus := events.NewBus()
	return NewPipeline(nil, bus), bus
}

func TestHandle_UserDataChangedSingle(t *testing.T) {
	p, bus := testPipeline()
	ch, cancel := bus.Subscribe()
	defer cancel()

	p.handle("srv1", message{
		MessageType: "UserDataChanged",
		Data:        json.RawMessage(`{"UserDataList":[{"ItemId":"item-1"}]}`),
	})

	event := <-ch
	if event.Kind != events.KindUserDataChanged {
		t.Fatalf("expected user_data_changed, got %s", event.Kind)
	}
	if event.ItemID != "item-1" || event.ServerID != "srv1" {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Priority != events.PriorityHigh {
		t.Fatalf("expected high priority, got %d", event.Priority)
	}
}

func TestHandle_UserDataChangedBatch(t *testing.T) {
	p, bus := testPipeline()
	ch, cancel := bus.Subscribe()
	defer cancel()

	p.handle("srv1", message{
		MessageType: "UserDataChanged",
		Data:        json.RawMessage(`{"UserDataList":[{"ItemId":"a"},{"ItemId":"b"}]}`),
	})

	event := <-ch
	if event.Kind != events.KindBatchUserDataChanged {
		t.Fatalf("expected batch_user_data_changed, got %s", event.Kind)
	}
	ids, ok := event.Data.([]string)
	if !ok || len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected batch payload %+v", event.Data)
	}
}

func TestHandle_ServerLifecycleDrivesState(t *testing.T) {
	p, bus := testPipeline()
	ch, cancel := bus.Subscribe()
	defer cancel()

	p.handle("srv1", message{MessageType: "ServerRestarting"})
	if p.State() != StateServerRestarting {
		t.Fatalf("expected server_restarting state, got %s", p.State())
	}
	event := <-ch
	if event.Kind != events.KindServerRestarting || event.Priority != events.PriorityImmediate {
		t.Fatalf("unexpected event %+v", event)
	}

	p.handle("srv1", message{MessageType: "ServerShuttingDown"})
	if p.State() != StateServerShutdown {
		t.Fatalf("expected server_shutdown state, got %s", p.State())
	}
}

func TestHandle_MalformedPayloadIsIgnored(t *testing.T) {
	p, bus := testPipeline()
	ch, cancel := bus.Subscribe()
	defer cancel()

	p.handle("srv1", message{
		MessageType: "UserDataChanged",
		Data:        json.RawMessage(`{not json`),
	})

	select {
	case event := <-ch:
		t.Fatalf("expected no event for malformed payload, got %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeState_ReplaysCurrent(t *testing.T) {
	p, _ := testPipeline()

	ch, cancel := p.SubscribeState()
	defer cancel()

	if state := <-ch; state != StateDisconnected {
		t.Fatalf("expected disconnected replay, got %s", state)
	}
}

func TestWatchOnce_ConnectsSubscribesAndTranslates(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan string, 8)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/socket" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("api_key") != "tok" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Collect the subscription messages the client sends on connect
		go func() {
			for {
				var msg map[string]any
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				if mt, ok := msg["MessageType"].(string); ok {
					received <- mt
				}
			}
		}()

		conn.WriteJSON(map[string]any{
			"MessageType": "LibraryChanged",
			"Data":        map[string]any{},
		})
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := jellyfin.NewClient(server.URL, "tok", "dev-1")
	bus := events.NewBus()
	p := NewPipeline(nil, bus)

	busCh, cancelBus := bus.Subscribe()
	defer cancelBus()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go p.watchOnce(ctx, client, "srv1", time.Hour)

	select {
	case mt := <-received:
		if !strings.HasSuffix(mt, "Start") {
			t.Fatalf("expected a subscription start message first, got %q", mt)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received a subscription message")
	}

	select {
	case event := <-busCh:
		if event.Kind != events.KindLibraryChanged {
			t.Fatalf("expected library_changed, got %s", event.Kind)
		}
		if event.ServerID != "srv1" {
			t.Fatalf("unexpected server id %q", event.ServerID)
		}
	case <-time.After(time.Second):
		t.Fatal("LibraryChanged was never published to the bus")
	}
}
