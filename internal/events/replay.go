package events

// Conflate delivers v into a single-slot replay channel. Any unread previous
// value is replaced first, so a slow receiver always observes the latest
// state rather than a stale backlog. Publishers must serialize calls per
// channel; the state managers do so under their own mutex.
func Conflate[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
