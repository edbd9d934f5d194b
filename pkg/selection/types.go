package selection

import (
	"time"
)

// Rule includes or excludes retailers whose input summary matches Condition
type Rule struct {
	// Name is the unique identifier for this rule
	Name string `json:"name" yaml:"name"`

	// Description explains what this rule does
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Condition is an expression over the retailer summary that must
	// evaluate to true for the rule to apply
	// Example: "events < 10 || span_hours < 48"
	Condition string `json:"condition" yaml:"condition"`

	// Action is "include" or "exclude"
	Action string `json:"action" yaml:"action"`

	// Priority determines evaluation order (higher priority = evaluated first)
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`

	// Enabled must be set to true for the rule to be evaluated. Rules loaded
	// without it are skipped and reported in a warning.
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// RuleSet is a collection of rules
type RuleSet struct {
	Rules []Rule `json:"rules" yaml:"rules"`

	// DefaultAction is taken when no rule matches
	// Default: "include"
	DefaultAction string `json:"defaultAction,omitempty" yaml:"defaultAction,omitempty"`
}

// Summary describes one retailer's raw input
type Summary struct {
	Retailer string
	Events   int
	Total    int
	First    time.Time
	Last     time.Time

	// SpanHours is the length of the hourly grid the retailer will get
	SpanHours int

	// ActiveHours is the number of distinct hours holding events
	ActiveHours int
}

// ToExprEnv converts Summary to a map for expr evaluation
func (s Summary) ToExprEnv() map[string]interface{} {
	var meanPerHour float64
	if s.SpanHours > 0 {
		meanPerHour = float64(s.Total) / float64(s.SpanHours)
	}
	return map[string]interface{}{
		"retailer":      s.Retailer,
		"events":        s.Events,
		"total":         s.Total,
		"first":         s.First,
		"last":          s.Last,
		"span_hours":    s.SpanHours,
		"active_hours":  s.ActiveHours,
		"mean_per_hour": meanPerHour,
	}
}

// Decision records why a retailer was kept or dropped
type Decision struct {
	Retailer    string `json:"retailer"`
	Action      string `json:"action"`
	MatchedRule string `json:"matched_rule,omitempty"`
	Reason      string `json:"reason"`
}

// Rule actions
const (
	ActionInclude = "include"
	ActionExclude = "exclude"
)
