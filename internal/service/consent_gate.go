package service

import (
	"slices"
	"strings"
)

// ConsentDecision is the result of a consent check.
type ConsentDecision struct {
	Allow   bool
	Message string
}

// ConsentGate decides whether a form may be sent to the CRM.
type ConsentGate struct {
	ungated []string
}

// NewConsentGate returns a gate that applies to every source except ungatedSources.
func NewConsentGate(ungatedSources []string) *ConsentGate {
	g := &ConsentGate{}
	for _, s := range ungatedSources {
		if s = strings.TrimSpace(s); s != "" {
			g.ungated = append(g.ungated, s)
		}
	}
	return g
}

// Gated reports whether submissions from source require explicit consent.
func (g *ConsentGate) Gated(source string) bool {
	return !slices.Contains(g.ungated, strings.TrimSpace(source))
}

// Check allows iff consent is true. email is not inspected.
func (g *ConsentGate) Check(consent bool, email string) ConsentDecision {
	if consent {
		return ConsentDecision{Allow: true}
	}
	return ConsentDecision{Allow: false, Message: MsgConsentRequired}
}
