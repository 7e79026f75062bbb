package event

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSrc string

// definitions maps each tag to its CUE definition in schema.cue.
var definitions = map[Type]string{
	TypePlayerAdded:         "#PlayerAdded",
	TypePlayerRenamed:       "#PlayerRenamed",
	TypePlayerRemoved:       "#PlayerRemoved",
	TypePlayersReordered:    "#PlayersReordered",
	TypeScoreAdded:          "#ScoreAdded",
	TypeRoundBidSet:         "#RoundBidSet",
	TypeRoundMadeSet:        "#RoundMadeSet",
	TypeRoundFinalized:      "#RoundFinalized",
	TypeRosterCreated:       "#RosterCreated",
	TypeRosterRenamed:       "#RosterRenamed",
	TypeRosterPlayerAdded:   "#RosterPlayerAdded",
	TypeRosterPlayerRemoved: "#RosterPlayerRemoved",
	TypeRosterArchived:      "#RosterArchived",
	TypeSeedSet:             "#SeedSet",
	TypeDeal:                "#Deal",
	TypePhaseSet:            "#PhaseSet",
	TypeBid:                 "#Bid",
	TypeTrickPlayed:         "#TrickPlayed",
	TypeTrickRevealed:       "#TrickRevealed",
	TypeTrickCleared:        "#TrickCleared",
	TypeTrumpBrokenSet:      "#TrumpBrokenSet",
	TypeLeaderSet:           "#LeaderSet",
	TypeRoundScored:         "#RoundScored",
	TypeSPReset:             "#SPReset",
}

// Validator checks events structurally before they are appended.
// A cue.Context is not safe for concurrent use, so evaluation is serialized.
type Validator struct {
	mu   sync.Mutex
	ctx  *cue.Context
	defs map[Type]cue.Value
}

// NewValidator compiles the embedded payload schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile payload schema: %s", errors.Details(err, nil))
	}

	defs := make(map[Type]cue.Value, len(definitions))
	for t, name := range definitions {
		def := schema.LookupPath(cue.ParsePath(name))
		if !def.Exists() {
			return nil, fmt.Errorf("payload schema: missing definition %s for %s", name, t)
		}
		defs[t] = def
	}
	return &Validator{ctx: ctx, defs: defs}, nil
}

// Validate checks identity metadata and the payload shape of e.
func (v *Validator) Validate(e Event) error {
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("%s: event id is required", e.Type)
	}
	if e.TS < 0 {
		return fmt.Errorf("%s: negative timestamp %d", e.Type, e.TS)
	}
	if e.Payload == nil {
		return fmt.Errorf("%s: payload is required", e.Type)
	}
	if e.Payload.EventType() != e.Type {
		return fmt.Errorf("%s: payload is %s", e.Type, e.Payload.EventType())
	}

	def, ok := v.defs[e.Type]
	if !ok {
		return fmt.Errorf("%s: unknown event type", e.Type)
	}

	raw, err := EncodePayload(e.Payload)
	if err != nil {
		return fmt.Errorf("%s: %w", e.Type, err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	val := v.ctx.CompileBytes(raw)
	if err := val.Err(); err != nil {
		return fmt.Errorf("%s: payload is not valid JSON: %w", e.Type, err)
	}
	if err := def.Unify(val).Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s: %s", e.Type, strings.TrimSpace(errors.Details(err, nil)))
	}
	return nil
}

var (
	defaultValidator     *Validator
	defaultValidatorErr  error
	defaultValidatorOnce sync.Once
)

// Validate checks e against the embedded schema.
func Validate(e Event) error {
	defaultValidatorOnce.Do(func() {
		defaultValidator, defaultValidatorErr = NewValidator()
	})
	if defaultValidatorErr != nil {
		return defaultValidatorErr
	}
	return defaultValidator.Validate(e)
}
