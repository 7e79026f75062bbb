package harness

import (
	"fmt"
	"strconv"
)

// AssertionError is a failed assertion with the values that disagreed.
type AssertionError struct {
	Type     string
	ID       string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("assertion failed: %s %s: expected %s, got %s", e.Type, e.ID, e.Expected, e.Actual)
	}
	return fmt.Sprintf("assertion failed: %s: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions checks every assertion against the result and returns
// one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for _, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	actual, err := actualValue(result, a)
	if err != nil {
		return err
	}
	expected := fmt.Sprint(a.Equals)
	if actual != expected {
		return &AssertionError{Type: a.Type, ID: a.ID, Expected: expected, Actual: actual}
	}
	return nil
}

// actualValue renders the observed value in the same form fmt.Sprint gives
// the YAML-decoded expectation.
func actualValue(result *Result, a Assertion) (string, error) {
	s := result.State
	switch a.Type {
	case AssertHeight:
		return strconv.FormatInt(result.Height, 10), nil
	case AssertPlayer:
		name, ok := s.Players[a.ID]
		if !ok {
			return "<absent>", nil
		}
		return name, nil
	case AssertScore:
		return strconv.Itoa(s.Scores[a.ID]), nil
	case AssertPhase:
		return string(s.SP.Phase), nil
	case AssertMode:
		return string(s.Mode()), nil
	case AssertCompleted:
		return strconv.FormatBool(s.Completed()), nil
	case AssertGames:
		return strconv.Itoa(result.Games), nil
	case AssertRound:
		return strconv.Itoa(s.RoundsPlayed()), nil
	default:
		return "", fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}
