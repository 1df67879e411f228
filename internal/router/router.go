package router

import (
	"log/slog"
	"sync"
)

// Handler receives dispatched events for a topic.
type Handler func(Event)

// Router maps topics to handler sets and fans dispatched events out to
// them. Every registration names an owner (one per tracking session), so
// re-registering the same (topic, owner) pair never duplicates delivery
// and one owner's teardown cannot remove another owner's handlers.
// Delivery follows registration order.
type Router struct {
	logger *slog.Logger

	mu     sync.RWMutex
	topics map[string][]registration

	// Stats
	dispatched int64
	dropped    int64
}

// registration pairs a handler with the owner that registered it.
type registration struct {
	owner   string
	handler Handler
}

// New creates a Router.
func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger: logger,
		topics: make(map[string][]registration),
	}
}

// On registers handler for topic under owner. If the owner already has a
// handler on the topic it is replaced in place, keeping its delivery slot.
func (r *Router) On(topic, owner string, handler Handler) {
	if handler == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, reg := range r.topics[topic] {
		if reg.owner == owner {
			r.topics[topic][i].handler = handler
			return
		}
	}
	r.topics[topic] = append(r.topics[topic], registration{owner: owner, handler: handler})
}

// Off removes owner's handler from topic. Other owners' handlers on the
// same topic are untouched.
func (r *Router) Off(topic, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.topics[topic]
	for i, reg := range regs {
		if reg.owner == owner {
			r.topics[topic] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(r.topics[topic]) == 0 {
		delete(r.topics, topic)
	}
}

// OffOwner removes every handler owner registered, on every topic. Used at
// session teardown so a stopped session cannot leak stale UI updates.
func (r *Router) OffOwner(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for topic, regs := range r.topics {
		kept := regs[:0:0]
		for _, reg := range regs {
			if reg.owner != owner {
				kept = append(kept, reg)
			}
		}
		if len(kept) == 0 {
			delete(r.topics, topic)
		} else {
			r.topics[topic] = kept
		}
	}
}

// OffTopic clears every handler for topic (bulk unsubscribe).
func (r *Router) OffTopic(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.topics, topic)
}

// Dispatch delivers event to every handler registered for its topic,
// synchronously, in registration order. Handlers run against a snapshot of
// the registration list, so they may subscribe or unsubscribe without
// affecting the in-flight delivery.
func (r *Router) Dispatch(event Event) {
	r.mu.RLock()
	regs := r.topics[event.Topic()]
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)
	r.mu.RUnlock()

	if len(snapshot) == 0 {
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		return
	}

	for _, reg := range snapshot {
		reg.handler(event)
	}

	r.mu.Lock()
	r.dispatched++
	r.mu.Unlock()
}

// HandlerCount returns the number of handlers registered for topic.
func (r *Router) HandlerCount(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Stats reports counts of dispatched events and events dropped for lack of
// a handler.
func (r *Router) Stats() (dispatched, dropped int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dispatched, r.dropped
}
