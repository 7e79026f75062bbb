// Package coord carries invalidation signals between instances that share a
// log store.
//
// A signal says only that something happened to a session (it was reset, or
// restored from an archive) or that the archive list changed. It never
// carries events: a receiver that cares rehydrates from the store, which is
// the only source it trusts.
package coord

import (
	"context"
	"slices"
	"sync"
)

// Topic scopes signals. Sessions each have their own topic.
type Topic string

// GamesTopic carries archive list changes.
const GamesTopic Topic = "games"

// SessionTopic returns the topic for one session.
func SessionTopic(sessionID string) Topic {
	return Topic("session:" + sessionID)
}

// MessageType is the kind of signal.
type MessageType string

const (
	MessageReset        MessageType = "reset"
	MessageRestored     MessageType = "restored"
	MessageGamesChanged MessageType = "games-changed"

	// MessageResync is raised by a transport that may have dropped
	// signals. Receivers reload from the store.
	MessageResync MessageType = "resync"
)

// Message is a signal. Height is the log height the sender observed after
// the change; receivers rehydrate to at least that height.
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`
	Height    int64       `json:"height"`
	Origin    string      `json:"origin"`
}

// Handler receives signals. Handlers must not block.
type Handler func(Message)

// Bus is the pub/sub port instances coordinate through.
type Bus interface {
	Signal(ctx context.Context, topic Topic, msg Message) error
	OnSignal(topic Topic, h Handler) (unsubscribe func())
}

// registry tracks handlers per topic. Shared by both bus implementations.
type registry struct {
	mu       sync.Mutex
	next     int
	handlers map[Topic]map[int]Handler
}

func (r *registry) add(topic Topic, h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[Topic]map[int]Handler)
	}
	if r.handlers[topic] == nil {
		r.handlers[topic] = make(map[int]Handler)
	}
	id := r.next
	r.next++
	r.handlers[topic][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.handlers[topic], id)
		})
	}
}

// snapshot returns the topic's handlers in subscription order.
func (r *registry) snapshot(topic Topic) []Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.handlers[topic]
	ids := make([]int, 0, len(hs))
	for id := range hs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Handler, len(ids))
	for i, id := range ids {
		out[i] = hs[id]
	}
	return out
}

// topics returns every topic with at least one handler.
func (r *registry) topics() []Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Topic, 0, len(r.handlers))
	for t, hs := range r.handlers {
		if len(hs) > 0 {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return out
}

func (r *registry) dispatch(topic Topic, msg Message) {
	// Handlers run without the lock so they may subscribe or unsubscribe.
	for _, h := range r.snapshot(topic) {
		h(msg)
	}
}

// LocalBus delivers signals synchronously to handlers in the same process.
// The zero value is ready for use.
type LocalBus struct {
	reg registry
}

var _ Bus = (*LocalBus)(nil)

// NewLocalBus returns an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

// Signal delivers msg to every handler subscribed to topic.
func (b *LocalBus) Signal(ctx context.Context, topic Topic, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.reg.dispatch(topic, msg)
	return nil
}

// OnSignal subscribes h to topic.
func (b *LocalBus) OnSignal(topic Topic, h Handler) func() {
	return b.reg.add(topic, h)
}
