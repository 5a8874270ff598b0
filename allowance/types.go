package allowance

import "time"

// Operator is a comparison applied between a subject fact and a condition value.
type Operator string

const (
	OpEqual    Operator = "equal"
	OpNotEqual Operator = "notEqual"
	OpIn       Operator = "in"
	OpNotIn    Operator = "notIn"
)

// Valid reports whether op is one of the four supported operators.
func (op Operator) Valid() bool {
	switch op {
	case OpEqual, OpNotEqual, OpIn, OpNotIn:
		return true
	}
	return false
}

// Condition compares a single subject fact against a value.
// Value is a scalar for Equal/NotEqual and a list of scalars for In/NotIn.
type Condition struct {
	Fact     string   `json:"fact"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// ConditionSet is the predicate of a declarative rule. Exactly one of All/Any
// is populated on a well-formed rule: All requires every condition to hold,
// Any requires at least one. An empty set never matches.
type ConditionSet struct {
	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`
}

// Empty reports whether the set carries no conditions at all.
func (cs ConditionSet) Empty() bool {
	return len(cs.All) == 0 && len(cs.Any) == 0
}

// Outcome is the allowance classification a matching rule assigns.
type Outcome struct {
	AllowanceGroup string `json:"allowanceGroup"`
	Tier           string `json:"tier"`
}

// Rule classifies subjects into an allowance group and tier.
// Rules are evaluated in descending Priority order; the first match wins.
// A rule carries either a declarative ConditionSet or a CEL Expression,
// never both.
type Rule struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Priority    int          `json:"priority"` // higher number = evaluated first
	Active      bool         `json:"active"`
	Conditions  ConditionSet `json:"conditions"`
	Expression  string       `json:"expression,omitempty"`
	Outcome     Outcome      `json:"outcome"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Subject is the set of facts a rule is evaluated against: employee
// attributes such as position, department, certifications. Values are
// scalars (string/number/bool) or lists of scalars. Facts a rule references
// but the subject lacks make the referencing condition false.
type Subject map[string]any
