// Package policy implements per-collection transfer policies: the closed
// set of rules a sale must satisfy, and the ephemeral transfer request
// that accumulates one proof per rule before a purchase can be confirmed.
package policy

import (
	"encoding/json"
	"fmt"

	"github.com/louisbranch/kiosk.market/internal/platform/errors"
)

// RuleKind identifies one pluggable transfer rule. The set of kinds is
// closed: a policy registers a subset of these at attach time.
type RuleKind uint8

const (
	// RuleRoyalty requires a royalty fee payment alongside the purchase.
	RuleRoyalty RuleKind = 1 << iota
	// RuleKioskLock requires the asset to be locked into the buyer's
	// kiosk before the sale confirms.
	RuleKioskLock
	// RulePersonalKiosk requires the buyer's kiosk to be owner-bound.
	RulePersonalKiosk
)

var ruleNames = map[RuleKind]string{
	RuleRoyalty:       "royalty",
	RuleKioskLock:     "kiosk_lock",
	RulePersonalKiosk: "personal_kiosk",
}

// String returns the wire name of the rule kind.
func (k RuleKind) String() string {
	if name, ok := ruleNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// ParseRuleKind maps a wire name back to a rule kind.
func ParseRuleKind(name string) (RuleKind, error) {
	for kind, kindName := range ruleNames {
		if kindName == name {
			return kind, nil
		}
	}
	return 0, errors.WithMetadata(errors.CodeInvalidCommand,
		fmt.Sprintf("unknown rule kind %q", name),
		map[string]string{"rule": name},
	)
}

// RuleSet is a fixed-size bitset over the closed rule kinds.
type RuleSet uint8

// NewRuleSet builds a set from individual kinds.
func NewRuleSet(kinds ...RuleKind) RuleSet {
	var set RuleSet
	for _, kind := range kinds {
		set = set.Add(kind)
	}
	return set
}

// Add returns the set with kind included.
func (s RuleSet) Add(kind RuleKind) RuleSet {
	return s | RuleSet(kind)
}

// Has reports whether kind is in the set.
func (s RuleSet) Has(kind RuleKind) bool {
	return s&RuleSet(kind) != 0
}

// Equal reports whether both sets contain exactly the same kinds.
func (s RuleSet) Equal(other RuleSet) bool {
	return s == other
}

// Kinds enumerates the set in declaration order.
func (s RuleSet) Kinds() []RuleKind {
	var kinds []RuleKind
	for _, kind := range []RuleKind{RuleRoyalty, RuleKioskLock, RulePersonalKiosk} {
		if s.Has(kind) {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Names enumerates the set's wire names in declaration order.
func (s RuleSet) Names() []string {
	names := make([]string, 0, 3)
	for _, kind := range s.Kinds() {
		names = append(names, kind.String())
	}
	return names
}

// MarshalJSON encodes the set as an array of wire names.
func (s RuleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

// UnmarshalJSON decodes an array of wire names.
func (s *RuleSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	var set RuleSet
	for _, name := range names {
		kind, err := ParseRuleKind(name)
		if err != nil {
			return err
		}
		set = set.Add(kind)
	}
	*s = set
	return nil
}
