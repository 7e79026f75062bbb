package event

import (
	"encoding/json"

	"github.com/roach88/cardlog/internal/deck"
)

// Payload is the closed set of event payloads. Each tag has exactly one
// payload type; the unexported marker keeps the union closed to this package.
type Payload interface {
	EventType() Type
	isPayload()
}

// Player registry.

type PlayerAdded struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PlayerRenamed struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PlayerRemoved struct {
	ID string `json:"id"`
}

type PlayersReordered struct {
	Order []string `json:"order"`
}

// Scorecard tables.

type ScoreAdded struct {
	PlayerID string `json:"playerId"`
	Delta    int    `json:"delta"`
}

type RoundBidSet struct {
	Round    int    `json:"round"`
	PlayerID string `json:"playerId"`
	Bid      int    `json:"bid"`
}

type RoundMadeSet struct {
	Round    int    `json:"round"`
	PlayerID string `json:"playerId"`
	Made     bool   `json:"made"`
}

type RoundFinalized struct {
	Round int `json:"round"`
}

// Roster records.

type RosterCreated struct {
	RosterID string `json:"rosterId"`
	Name     string `json:"name"`
	Mode     string `json:"mode"`
}

type RosterRenamed struct {
	RosterID string `json:"rosterId"`
	Name     string `json:"name"`
}

type RosterPlayerAdded struct {
	RosterID string `json:"rosterId"`
	ID       string `json:"id"`
	Name     string `json:"name"`
}

type RosterPlayerRemoved struct {
	RosterID string `json:"rosterId"`
	ID       string `json:"id"`
}

type RosterArchived struct {
	RosterID string `json:"rosterId"`
}

// Single-player round and trick state machine.

// SeedSet fixes the session seed every deal derives from, and the number of
// rounds in the game.
type SeedSet struct {
	Seed   string `json:"seed"`
	Rounds int    `json:"rounds"`
}

// Deal starts a round: seat order, hands and trump for RoundNo.
type Deal struct {
	RoundNo   int                    `json:"roundNo"`
	DealerID  string                 `json:"dealerId"`
	Order     []string               `json:"order"`
	Trump     deck.Suit              `json:"trump"`
	TrumpCard *deck.Card             `json:"trumpCard,omitempty"`
	Hands     map[string][]deck.Card `json:"hands"`
}

type PhaseSet struct {
	Phase string `json:"phase"`
}

type Bid struct {
	PlayerID string `json:"playerId"`
	Bid      int    `json:"bid"`
}

type TrickPlayed struct {
	PlayerID string    `json:"playerId"`
	Card     deck.Card `json:"card"`
}

// TrickRevealed freezes a completed trick for display and names its winner.
type TrickRevealed struct {
	WinnerID string `json:"winnerId"`
}

// TrickCleared removes the trick from the table and credits the winner.
type TrickCleared struct {
	WinnerID string `json:"winnerId"`
}

type TrumpBrokenSet struct {
	Broken bool `json:"broken"`
}

type LeaderSet struct {
	LeaderID string `json:"leaderId"`
}

type RoundScored struct {
	RoundNo int            `json:"roundNo"`
	Deltas  map[string]int `json:"deltas"`
}

type SPReset struct{}

// Unknown carries an event whose tag this build does not recognize.
// Raw is kept verbatim so the event survives storage and archive round trips.
type Unknown struct {
	Tag Type
	Raw json.RawMessage
}

func (PlayerAdded) EventType() Type         { return TypePlayerAdded }
func (PlayerRenamed) EventType() Type       { return TypePlayerRenamed }
func (PlayerRemoved) EventType() Type       { return TypePlayerRemoved }
func (PlayersReordered) EventType() Type    { return TypePlayersReordered }
func (ScoreAdded) EventType() Type          { return TypeScoreAdded }
func (RoundBidSet) EventType() Type         { return TypeRoundBidSet }
func (RoundMadeSet) EventType() Type        { return TypeRoundMadeSet }
func (RoundFinalized) EventType() Type      { return TypeRoundFinalized }
func (RosterCreated) EventType() Type       { return TypeRosterCreated }
func (RosterRenamed) EventType() Type       { return TypeRosterRenamed }
func (RosterPlayerAdded) EventType() Type   { return TypeRosterPlayerAdded }
func (RosterPlayerRemoved) EventType() Type { return TypeRosterPlayerRemoved }
func (RosterArchived) EventType() Type      { return TypeRosterArchived }
func (SeedSet) EventType() Type             { return TypeSeedSet }
func (Deal) EventType() Type                { return TypeDeal }
func (PhaseSet) EventType() Type            { return TypePhaseSet }
func (Bid) EventType() Type                 { return TypeBid }
func (TrickPlayed) EventType() Type         { return TypeTrickPlayed }
func (TrickRevealed) EventType() Type       { return TypeTrickRevealed }
func (TrickCleared) EventType() Type        { return TypeTrickCleared }
func (TrumpBrokenSet) EventType() Type      { return TypeTrumpBrokenSet }
func (LeaderSet) EventType() Type           { return TypeLeaderSet }
func (RoundScored) EventType() Type         { return TypeRoundScored }
func (SPReset) EventType() Type             { return TypeSPReset }
func (u Unknown) EventType() Type           { return u.Tag }

func (PlayerAdded) isPayload()         {}
func (PlayerRenamed) isPayload()       {}
func (PlayerRemoved) isPayload()       {}
func (PlayersReordered) isPayload()    {}
func (ScoreAdded) isPayload()          {}
func (RoundBidSet) isPayload()         {}
func (RoundMadeSet) isPayload()        {}
func (RoundFinalized) isPayload()      {}
func (RosterCreated) isPayload()       {}
func (RosterRenamed) isPayload()       {}
func (RosterPlayerAdded) isPayload()   {}
func (RosterPlayerRemoved) isPayload() {}
func (RosterArchived) isPayload()      {}
func (SeedSet) isPayload()             {}
func (Deal) isPayload()                {}
func (PhaseSet) isPayload()            {}
func (Bid) isPayload()                 {}
func (TrickPlayed) isPayload()         {}
func (TrickRevealed) isPayload()       {}
func (TrickCleared) isPayload()        {}
func (TrumpBrokenSet) isPayload()      {}
func (LeaderSet) isPayload()           {}
func (RoundScored) isPayload()         {}
func (SPReset) isPayload()             {}
func (Unknown) isPayload()             {}
