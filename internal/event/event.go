// Package event defines the immutable events that make up a session log.
//
// Every state change in a session is an Event appended to the session's log;
// the current state is the fold of that log. Events are never mutated after
// construction. Payloads are persisted as canonical JSON so an event read back
// from storage or received from an archive bundle re-encodes to the same bytes.
package event

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/cardlog/internal/canon"
)

// Type is an event tag.
type Type string

const (
	TypePlayerAdded      Type = "player/added"
	TypePlayerRenamed    Type = "player/renamed"
	TypePlayerRemoved    Type = "player/removed"
	TypePlayersReordered Type = "players/reordered"

	TypeScoreAdded     Type = "score/added"
	TypeRoundBidSet    Type = "round/bid-set"
	TypeRoundMadeSet   Type = "round/made-set"
	TypeRoundFinalized Type = "round/finalized"

	TypeRosterCreated       Type = "roster/created"
	TypeRosterRenamed       Type = "roster/renamed"
	TypeRosterPlayerAdded   Type = "roster/player-added"
	TypeRosterPlayerRemoved Type = "roster/player-removed"
	TypeRosterArchived      Type = "roster/archived"

	TypeSeedSet        Type = "sp/seed-set"
	TypeDeal           Type = "sp/deal"
	TypePhaseSet       Type = "sp/phase-set"
	TypeBid            Type = "sp/bid"
	TypeTrickPlayed    Type = "sp/trick/played"
	TypeTrickRevealed  Type = "sp/trick/revealed"
	TypeTrickCleared   Type = "sp/trick/cleared"
	TypeTrumpBrokenSet Type = "sp/trump-broken-set"
	TypeLeaderSet      Type = "sp/leader-set"
	TypeRoundScored    Type = "sp/round/scored"
	TypeSPReset        Type = "sp/reset"
)

// Event is one entry in a session log.
//
// EventID is client generated and unique within a session. TS is wall-clock
// milliseconds at creation, used for display only; log height is the only
// ordering authority.
type Event struct {
	Type    Type
	Payload Payload
	EventID string
	TS      int64
}

// wireEvent is the JSON form shared by the log store, archive bundles and CLI.
type wireEvent struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
	EventID string          `json:"eventId"`
	TS      int64           `json:"ts"`
}

// MarshalJSON encodes the event with a canonical payload.
func (e Event) MarshalJSON() ([]byte, error) {
	raw, err := EncodePayload(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", e.EventID, err)
	}
	return json.Marshal(wireEvent{
		Type:    e.Type,
		Payload: raw,
		EventID: e.EventID,
		TS:      e.TS,
	})
}

// UnmarshalJSON decodes an event, keeping unrecognized tags as Unknown.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("unmarshal event: %w", err)
	}
	p, err := DecodePayload(w.Type, w.Payload)
	if err != nil {
		return fmt.Errorf("unmarshal event %s: %w", w.EventID, err)
	}
	*e = Event{Type: w.Type, Payload: p, EventID: w.EventID, TS: w.TS}
	return nil
}

// EncodePayload returns the canonical JSON of p.
// Unknown payloads are returned verbatim.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("nil payload")
	}
	if u, ok := p.(Unknown); ok {
		if len(u.Raw) == 0 {
			return []byte("{}"), nil
		}
		return u.Raw, nil
	}
	return canon.Marshal(p)
}

// DecodePayload decodes raw into the payload type registered for t.
// Unrecognized tags decode to Unknown so newer logs replay on older builds.
func DecodePayload(t Type, raw json.RawMessage) (Payload, error) {
	decode, ok := decoders[t]
	if !ok {
		kept := make(json.RawMessage, len(raw))
		copy(kept, raw)
		return Unknown{Tag: t, Raw: kept}, nil
	}
	return decode(raw)
}

// Known reports whether t is a tag this build understands.
func Known(t Type) bool {
	_, ok := decoders[t]
	return ok
}

// Types returns every known tag.
func Types() []Type {
	out := make([]Type, 0, len(decoders))
	for t := range decoders {
		out = append(out, t)
	}
	return out
}

var decoders = map[Type]func(json.RawMessage) (Payload, error){
	TypePlayerAdded:         decodeAs[PlayerAdded],
	TypePlayerRenamed:       decodeAs[PlayerRenamed],
	TypePlayerRemoved:       decodeAs[PlayerRemoved],
	TypePlayersReordered:    decodeAs[PlayersReordered],
	TypeScoreAdded:          decodeAs[ScoreAdded],
	TypeRoundBidSet:         decodeAs[RoundBidSet],
	TypeRoundMadeSet:        decodeAs[RoundMadeSet],
	TypeRoundFinalized:      decodeAs[RoundFinalized],
	TypeRosterCreated:       decodeAs[RosterCreated],
	TypeRosterRenamed:       decodeAs[RosterRenamed],
	TypeRosterPlayerAdded:   decodeAs[RosterPlayerAdded],
	TypeRosterPlayerRemoved: decodeAs[RosterPlayerRemoved],
	TypeRosterArchived:      decodeAs[RosterArchived],
	TypeSeedSet:             decodeAs[SeedSet],
	TypeDeal:                decodeAs[Deal],
	TypePhaseSet:            decodeAs[PhaseSet],
	TypeBid:                 decodeAs[Bid],
	TypeTrickPlayed:         decodeAs[TrickPlayed],
	TypeTrickRevealed:       decodeAs[TrickRevealed],
	TypeTrickCleared:        decodeAs[TrickCleared],
	TypeTrumpBrokenSet:      decodeAs[TrumpBrokenSet],
	TypeLeaderSet:           decodeAs[LeaderSet],
	TypeRoundScored:         decodeAs[RoundScored],
	TypeSPReset:             decodeAs[SPReset],
}

func decodeAs[P Payload](raw json.RawMessage) (Payload, error) {
	var p P
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", p.EventType(), err)
	}
	return p, nil
}
