package worker

import (
	"github.com/spec-kit/triage-service/internal/events"
)

// Subscriber attaches its handlers to the dispatcher.
type Subscriber interface {
	RegisterHandlers(dispatcher events.Dispatcher)
}

// StartSubscribers registers the event consumers that run alongside the delegation pool.
// Handlers run synchronously on the publishing goroutine.
func StartSubscribers(dispatcher events.Dispatcher, subscribers ...Subscriber) int {
	if dispatcher == nil {
		return 0
	}
	registered := 0
	for _, s := range subscribers {
		if s == nil {
			continue
		}
		s.RegisterHandlers(dispatcher)
		registered++
	}
	return registered
}
