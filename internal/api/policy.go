package api

import (
	"fmt"
	"slices"
)

// Feature names gated by tenant plan.
const (
	FeatureRegister  = "register"
	FeatureToolCall  = "tool_call"
	FeatureChains    = "chains"
	FeatureDiscovery = "discovery"
)

// PolicyError is a plan-level denial.
type PolicyError struct {
	Plan    string
	Feature string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("feature %q is not available on the %s plan", e.Feature, e.Plan)
}

// Policy maps tenant plans to denied features. A plan absent from the
// map has every feature enabled.
type Policy struct {
	denied map[string][]string
}

// NewPolicy builds a policy; nil denied means allow-all.
func NewPolicy(denied map[string][]string) *Policy {
	return &Policy{denied: denied}
}

// Check returns a PolicyError when the plan denies the feature.
func (p *Policy) Check(plan, feature string) error {
	if p == nil || p.denied == nil {
		return nil
	}
	if slices.Contains(p.denied[plan], feature) {
		return &PolicyError{Plan: plan, Feature: feature}
	}
	return nil
}
