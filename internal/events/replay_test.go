package events

import "testing"

func TestConflate_ReplacesUnreadValue(t *testing.T) {
	ch := make(chan int, 1)

	for v := 1; v <= 5; v++ {
		Conflate(ch, v)
	}

	select {
	case got := <-ch:
		if got != 5 {
			t.Fatalf("expected latest value 5, got %d", got)
		}
	default:
		t.Fatal("expected a buffered value")
	}

	select {
	case got := <-ch:
		t.Fatalf("expected single-slot channel, got extra value %d", got)
	default:
	}
}

func TestConflate_DeliversIntoEmptyChannel(t *testing.T) {
	ch := make(chan string, 1)
	Conflate(ch, "a")
	if got := <-ch; got != "a" {
		t.Fatalf("expected %q, got %q", "a", got)
	}
}
