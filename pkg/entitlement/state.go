package entitlement

import (
	"slices"

	"github.com/rcourtman/tierengine/pkg/tiers"
)

// State is the per-user entitlement state derived from the stored record.
// Admin overrides shadow the state without changing it.
type State string

const (
	StateAdvancedFree State = "advanced_free"
	StateProTrial     State = "pro_trial"
	StateProPaid      State = "pro_paid"
)

// Transition represents a valid state transition.
type Transition struct {
	From State
	To   State
}

// validTransitions defines all allowed state transitions.
var validTransitions = map[Transition]bool{
	{StateAdvancedFree, StateProTrial}: true, // Onboarding trial
	{StateAdvancedFree, StateProPaid}:  true, // Upgrade
	{StateProTrial, StateAdvancedFree}: true, // Trial expired without payment
	{StateProTrial, StateProPaid}:      true, // Payment approved
	{StateProPaid, StateAdvancedFree}:  true, // Downgrade
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	return validTransitions[Transition{from, to}]
}

// ValidTransitionsFrom returns all valid target states from the given state.
func ValidTransitionsFrom(from State) []State {
	targets := make([]State, 0)
	for t := range validTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}

	slices.Sort(targets)
	return targets
}

// StateOf classifies a stored record. A missing record is AdvancedFree.
func StateOf(rec *Record) State {
	if rec == nil || rec.Tier != tiers.Pro {
		return StateAdvancedFree
	}
	if rec.Metadata != nil && rec.Metadata.IsWelcomeTrial && !rec.Metadata.PaidSubscription {
		return StateProTrial
	}
	return StateProPaid
}
