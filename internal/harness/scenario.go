package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cardlog/internal/event"
)

// Scenario drives one session through a sequence of steps and checks the
// resulting state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Session is the live session id. Defaults to "default".
	Session string `yaml:"session,omitempty"`

	// Steps run in order against a fresh session.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is exactly one action. The set field selects the kind.
type Step struct {
	Append   *EventSpec   `yaml:"append,omitempty"`
	Batch    []EventSpec  `yaml:"batch,omitempty"`
	Start    *StartSpec   `yaml:"start,omitempty"`
	Autoplay *AutoSpec    `yaml:"autoplay,omitempty"`
	Archive  *ArchiveSpec `yaml:"archive,omitempty"`
	Restore  string       `yaml:"restore,omitempty"`

	// ExpectError is the engine error code the step must fail with,
	// e.g. MALFORMED_BATCH. Empty means the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// EventSpec is an event tag and its payload fields.
type EventSpec struct {
	Type    string         `yaml:"type"`
	Payload map[string]any `yaml:"payload"`
}

// StartSpec seeds and deals a single-player game.
type StartSpec struct {
	Seed    string   `yaml:"seed"`
	Rounds  int      `yaml:"rounds"`
	Players []string `yaml:"players"`
}

// AutoSpec lets bots play every seat not listed in Humans.
type AutoSpec struct {
	Humans   []string `yaml:"humans,omitempty"`
	MaxSteps int      `yaml:"max_steps,omitempty"`
	Reveal   bool     `yaml:"reveal,omitempty"`
}

// ArchiveSpec archives the live game and resets the session.
type ArchiveSpec struct {
	Title string `yaml:"title,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type selects the check; see the Assert constants.
	Type string `yaml:"type"`

	// ID is the player id for player and score assertions.
	ID string `yaml:"id,omitempty"`

	// Equals is the expected value, compared by its printed form.
	Equals any `yaml:"equals"`
}

// Assertion type constants.
const (
	AssertHeight    = "height"
	AssertPlayer    = "player"
	AssertScore     = "score"
	AssertPhase     = "phase"
	AssertMode      = "mode"
	AssertCompleted = "completed"
	AssertGames     = "games"
	AssertRound     = "round"
)

var assertionTypes = []string{
	AssertHeight, AssertPlayer, AssertScore, AssertPhase,
	AssertMode, AssertCompleted, AssertGames, AssertRound,
}

// Step kind names used in traces.
const (
	KindAppend   = "append"
	KindBatch    = "batch"
	KindStart    = "start"
	KindAutoplay = "autoplay"
	KindArchive  = "archive"
	KindRestore  = "restore"
)

// Kind names the action a step performs, or "" if none or several are set.
func (s Step) Kind() string {
	var kinds []string
	if s.Append != nil {
		kinds = append(kinds, KindAppend)
	}
	if len(s.Batch) > 0 {
		kinds = append(kinds, KindBatch)
	}
	if s.Start != nil {
		kinds = append(kinds, KindStart)
	}
	if s.Autoplay != nil {
		kinds = append(kinds, KindAutoplay)
	}
	if s.Archive != nil {
		kinds = append(kinds, KindArchive)
	}
	if s.Restore != "" {
		kinds = append(kinds, KindRestore)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// Decode builds the typed event payload.
func (e EventSpec) Decode() (event.Payload, error) {
	t := event.Type(e.Type)
	if !event.Known(t) {
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	fields := e.Payload
	if fields == nil {
		fields = map[string]any{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%s payload: %w", e.Type, err)
	}
	return event.DecodePayload(t, raw)
}

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.Session == "" {
		scenario.Session = "default"
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		switch step.Kind() {
		case "":
			return fmt.Errorf("steps[%d]: exactly one action is required", i)
		case KindAppend:
			if step.Append.Type == "" {
				return fmt.Errorf("steps[%d].append: type is required", i)
			}
		case KindBatch:
			for j, e := range step.Batch {
				if e.Type == "" {
					return fmt.Errorf("steps[%d].batch[%d]: type is required", i, j)
				}
			}
		case KindStart:
			if step.Start.Seed == "" {
				return fmt.Errorf("steps[%d].start: seed is required", i)
			}
			if len(step.Start.Players) == 0 {
				return fmt.Errorf("steps[%d].start: players list is required", i)
			}
		}
	}

	for i, a := range s.Assertions {
		if a.Type == "" {
			return fmt.Errorf("assertions[%d]: type is required", i)
		}
		if !slices.Contains(assertionTypes, a.Type) {
			return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
		}
		if (a.Type == AssertPlayer || a.Type == AssertScore) && a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for %s", i, a.Type)
		}
		if a.Equals == nil {
			return fmt.Errorf("assertions[%d]: equals is required", i)
		}
	}
	return nil
}
