package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Behavior is a fixed utility profile chosen per flight at creation.
type Behavior string

const (
	BehaviorBudget   Behavior = "budget"
	BehaviorGreen    Behavior = "green"
	BehaviorExpress  Behavior = "express"
	BehaviorBalanced Behavior = "balanced"
)

// Behaviors lists every profile in weight-vector order.
var Behaviors = []Behavior{BehaviorBudget, BehaviorGreen, BehaviorExpress, BehaviorBalanced}

// ParseBehavior validates a behavior name.
func ParseBehavior(s string) (Behavior, error) {
	b := Behavior(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Behaviors {
		if b == known {
			return b, nil
		}
	}
	return "", NewDomainError("ParseBehavior", ErrUnknownBehavior, s)
}

// Method selects the negotiation protocol. Numeric values match the
// configuration identifiers.
type Method int

const (
	MethodGreedy Method = iota
	MethodCNP
	MethodEnglish
	MethodVickrey
	MethodJapanese
)

var methodNames = map[Method]string{
	MethodGreedy:   "greedy",
	MethodCNP:      "cnp",
	MethodEnglish:  "english",
	MethodVickrey:  "vickrey",
	MethodJapanese: "japanese",
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("method(%d)", int(m))
}

// Valid reports whether m is one of the five known protocols.
func (m Method) Valid() bool {
	_, ok := methodNames[m]
	return ok
}

// ParseMethod accepts either the numeric identifier or the protocol name.
func ParseMethod(s string) (Method, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if m := Method(n); m.Valid() {
			return m, nil
		}
		return 0, NewDomainError("ParseMethod", ErrUnknownMethod, s)
	}
	for m, name := range methodNames {
		if name == s {
			return m, nil
		}
	}
	return 0, NewDomainError("ParseMethod", ErrUnknownMethod, s)
}
