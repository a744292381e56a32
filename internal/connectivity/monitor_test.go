package connectivity

import (
	"testing"
	"time"
)

func TestMonitor_SubscribeReplaysLast(t *testing.T) {
	m := New()
	m.Set(Status{Online: true, Link: LinkUnmetered})

	ch, cancel := m.Subscribe()
	defer cancel()

	select {
	case got := <-ch:
		if !got.Online || got.Link != LinkUnmetered {
			t.Fatalf("unexpected status %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected immediate replay of last status")
	}
}

func TestMonitor_PublishesOnlyOnChange(t *testing.T) {
	m := New()
	m.Set(Status{Online: true, Link: LinkUnmetered})

	ch, cancel := m.Subscribe()
	defer cancel()
	<-ch // replayed value

	// Same status again must not produce a new emission
	m.Set(Status{Online: true, Link: LinkUnmetered})
	select {
	case got := <-ch:
		t.Fatalf("unexpected emission %+v for unchanged status", got)
	case <-time.After(50 * time.Millisecond):
	}

	m.Set(Status{Online: false, Link: LinkNone})
	select {
	case got := <-ch:
		if got.Online {
			t.Fatalf("expected offline, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected emission on change")
	}
}

func TestMonitor_CurrentSnapshot(t *testing.T) {
	m := New()
	if m.Current().Online {
		t.Fatal("zero value must report offline")
	}
	m.Set(Status{Online: true, Link: LinkMetered})
	if got := m.Current(); !got.Online || got.Link != LinkMetered {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}
