package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IDGenerator produces event IDs.
// Implemented by UUIDv7Generator (production) and testutil.SequentialIDs (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 event IDs.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 string. Panics if generation fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Clock returns the current wall-clock time in unix milliseconds.
type Clock func() int64

// WallClock is the production Clock.
func WallClock() int64 {
	return time.Now().UnixMilli()
}

// Factory stamps identity and timestamp metadata onto payloads so callers
// never assemble partial events by hand.
type Factory struct {
	IDs   IDGenerator
	Clock Clock
}

// NewFactory returns a factory using UUIDv7 IDs and the wall clock.
func NewFactory() *Factory {
	return &Factory{IDs: UUIDv7Generator{}, Clock: WallClock}
}

// Option overrides a stamped field.
type Option func(*Event)

// WithID sets an explicit event ID (used when replaying archived events).
func WithID(id string) Option {
	return func(e *Event) { e.EventID = id }
}

// WithTS sets an explicit timestamp in unix milliseconds.
func WithTS(ts int64) Option {
	return func(e *Event) { e.TS = ts }
}

// New builds an event for p, generating the ID and timestamp unless given.
func (f *Factory) New(p Payload, opts ...Option) Event {
	e := Event{Type: p.EventType(), Payload: p}
	for _, opt := range opts {
		opt(&e)
	}
	if e.EventID == "" {
		e.EventID = f.ids().Generate()
	}
	if e.TS == 0 {
		e.TS = f.clock()()
	}
	return e
}

// Make is New with an explicit tag, failing when the tag and payload disagree.
func (f *Factory) Make(t Type, p Payload, opts ...Option) (Event, error) {
	if p == nil {
		return Event{}, fmt.Errorf("make %s: nil payload", t)
	}
	if p.EventType() != t {
		return Event{}, fmt.Errorf("make %s: payload is %s", t, p.EventType())
	}
	return f.New(p, opts...), nil
}

// Batch builds one event per payload, in order.
func (f *Factory) Batch(ps ...Payload) []Event {
	out := make([]Event, len(ps))
	for i, p := range ps {
		out[i] = f.New(p)
	}
	return out
}

func (f *Factory) ids() IDGenerator {
	if f == nil || f.IDs == nil {
		return UUIDv7Generator{}
	}
	return f.IDs
}

func (f *Factory) clock() Clock {
	if f == nil || f.Clock == nil {
		return WallClock
	}
	return f.Clock
}

var defaultFactory = NewFactory()

// New builds an event with the default factory.
func New(p Payload, opts ...Option) Event {
	return defaultFactory.New(p, opts...)
}

// Make builds an event with the default factory.
func Make(t Type, p Payload, opts ...Option) (Event, error) {
	return defaultFactory.Make(t, p, opts...)
}
