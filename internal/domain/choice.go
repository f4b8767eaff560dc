package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Choice is a side in a round. The numeric values match the contract's
// makeSelection argument.
type Choice uint8

const (
	ChoiceNone  Choice = 0
	ChoiceHeads Choice = 1
	ChoiceTails Choice = 2
)

// String returns "none", "heads" or "tails".
func (c Choice) String() string {
	switch c {
	case ChoiceHeads:
		return "heads"
	case ChoiceTails:
		return "tails"
	default:
		return "none"
	}
}

// Valid reports whether c is a playable side.
func (c Choice) Valid() bool {
	return c == ChoiceHeads || c == ChoiceTails
}

// Opposite returns the complementary side. ChoiceNone has no opposite.
func (c Choice) Opposite() Choice {
	switch c {
	case ChoiceHeads:
		return ChoiceTails
	case ChoiceTails:
		return ChoiceHeads
	default:
		return ChoiceNone
	}
}

// MarshalText encodes the choice as its name.
func (c Choice) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText accepts a name or the raw contract index.
func (c *Choice) UnmarshalText(text []byte) error {
	parsed, err := ParseChoice(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseChoice accepts "heads"/"tails"/"none" (any case) or the contract index
// as a decimal string ("0", "1", "2").
func ParseChoice(s string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heads":
		return ChoiceHeads, nil
	case "tails":
		return ChoiceTails, nil
	case "none", "":
		return ChoiceNone, nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 8)
	if err != nil || n > uint64(ChoiceTails) {
		return ChoiceNone, fmt.Errorf("%w: %q", ErrInvalidChoice, s)
	}
	return Choice(n), nil
}

// WinningChoiceFromIndex maps getRoundResults' winning index to a side.
// 0 is heads and 1 is tails; any other value means the round has no decided
// winner yet and yields ChoiceNone.
func WinningChoiceFromIndex(idx uint64) Choice {
	switch idx {
	case 0:
		return ChoiceHeads
	case 1:
		return ChoiceTails
	default:
		return ChoiceNone
	}
}
