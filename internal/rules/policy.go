package rules

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"vitalwatch/internal/models"
)

// Policy names accepted by PolicyByName
const (
	PolicyCanonical        = "canonical"
	PolicyHeartRate        = "heart_rate"
	PolicyBloodPressure    = "blood_pressure"
	PolicyOxygenSaturation = "oxygen_saturation"
)

// ErrUnknownPolicy is returned by PolicyByName for names it does not know
var ErrUnknownPolicy = errors.New("unknown rule policy")

// Verdict is the outcome of one evaluation pass
type Verdict struct {
	// Alert is the OR of every rule in the policy
	Alert bool

	// Fired lists the rules that fired, in policy order
	Fired []string
}

// Policy decides whether a window of readings needs an alert.
// Lookback is how far before "now" the window should reach.
type Policy interface {
	Name() string
	Lookback() time.Duration
	CheckAlert(window []models.Reading) Verdict
}

// RuleSet is a Policy made of independent rules
type RuleSet struct {
	name     string
	lookback time.Duration
	rules    []Rule
}

// NewRuleSet builds a policy from rules
func NewRuleSet(name string, lookback time.Duration, rules ...Rule) *RuleSet {
	return &RuleSet{name: name, lookback: lookback, rules: rules}
}

// Name returns the policy name
func (s *RuleSet) Name() string { return s.name }

// Lookback returns the window length the policy expects
func (s *RuleSet) Lookback() time.Duration { return s.lookback }

// WithLookback returns a copy of the rule set using a different window
func (s *RuleSet) WithLookback(d time.Duration) *RuleSet {
	return &RuleSet{name: s.name, lookback: d, rules: s.rules}
}

// Rules returns the rule names in evaluation order
func (s *RuleSet) Rules() []string {
	names := make([]string, len(s.rules))
	for i, r := range s.rules {
		names[i] = r.Name
	}
	return names
}

// CheckAlert runs every rule. There is no early exit, so Fired is complete
// even when the first rule already decides the verdict.
func (s *RuleSet) CheckAlert(window []models.Reading) Verdict {
	var v Verdict
	for _, r := range s.rules {
		if r.Fires(window) {
			v.Alert = true
			v.Fired = append(v.Fired, r.Name)
		}
	}
	return v
}

// Thresholds for the single-signal policies
const (
	altHeartRateLow    = 50.0
	altHeartRateHigh   = 120.0
	altSaturationLow   = 90.0
	shortLookback      = time.Minute
	saturationLookback = 10 * time.Second
)

var policies = map[string]func() Policy{
	PolicyCanonical: func() Policy {
		return NewRuleSet(PolicyCanonical, CanonicalLookback, Canonical...)
	},
	PolicyHeartRate: func() Policy {
		return NewRuleSet(PolicyHeartRate, shortLookback, Rule{
			Name:  "heart_rate_out_of_range",
			Fires: func(w []models.Reading) bool {
				return anyOutside(w, models.KindHeartRate, altHeartRateLow, altHeartRateHigh)
			},
		})
	},
	PolicyBloodPressure: func() Policy {
		return NewRuleSet(PolicyBloodPressure, shortLookback, Rule{
			Name:  RuleSystolicCritical,
			Fires: SystolicCritical,
		})
	},
	PolicyOxygenSaturation: func() Policy {
		return NewRuleSet(PolicyOxygenSaturation, saturationLookback, Rule{
			Name:  "saturation_below_90",
			Fires: func(w []models.Reading) bool {
				for _, r := range w {
					if r.Kind == models.KindSaturation && r.Value < altSaturationLow {
						return true
					}
				}
				return false
			},
		})
	},
}

// PolicyByName returns a fresh policy for a configured name
func PolicyByName(name string) (Policy, error) {
	build, ok := policies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
	return build(), nil
}

// PolicyNames lists the known policies, sorted
func PolicyNames() []string {
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
