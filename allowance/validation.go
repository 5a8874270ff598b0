package allowance

import (
	"fmt"
	"regexp"
)

var validFactName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateRule checks a rule definition before it is stored. It enforces the
// shape the evaluator assumes: a name, a non-negative priority, an outcome,
// and exactly one predicate form (all-conditions, any-conditions, or a CEL
// expression). Rules that slip past validation still evaluate fail-closed,
// but they are rejected at the write path so the stored rule set stays
// unambiguous.
func ValidateRule(r *Rule) error {
	if r == nil {
		return fmt.Errorf("rule cannot be nil")
	}

	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}

	if r.Priority < 0 {
		return fmt.Errorf("rule priority must be non-negative, got %d", r.Priority)
	}

	if r.Outcome.AllowanceGroup == "" || r.Outcome.Tier == "" {
		return fmt.Errorf("rule outcome must set both allowanceGroup and tier")
	}

	hasAll := len(r.Conditions.All) > 0
	hasAny := len(r.Conditions.Any) > 0
	hasExpr := r.Expression != ""

	switch {
	case hasAll && hasAny:
		return fmt.Errorf("rule must not populate both all and any condition lists")
	case hasExpr && (hasAll || hasAny):
		return fmt.Errorf("rule must not combine an expression with declarative conditions")
	case !hasExpr && !hasAll && !hasAny:
		return fmt.Errorf("rule must define at least one condition or an expression")
	}

	for i, c := range r.Conditions.All {
		if err := validateCondition(c); err != nil {
			return fmt.Errorf("all[%d]: %w", i, err)
		}
	}
	for i, c := range r.Conditions.Any {
		if err := validateCondition(c); err != nil {
			return fmt.Errorf("any[%d]: %w", i, err)
		}
	}

	return nil
}

func validateCondition(c Condition) error {
	if c.Fact == "" {
		return fmt.Errorf("condition fact is required")
	}
	if !validFactName.MatchString(c.Fact) {
		return fmt.Errorf("invalid fact name %q: must match ^[a-zA-Z_][a-zA-Z0-9_]*$", c.Fact)
	}
	if !c.Operator.Valid() {
		return fmt.Errorf("unknown operator %q (must be one of: equal, notEqual, in, notIn)", c.Operator)
	}

	switch c.Operator {
	case OpIn, OpNotIn:
		list, ok := asList(c.Value)
		if !ok {
			return fmt.Errorf("operator %s requires a list value", c.Operator)
		}
		if len(list) == 0 {
			return fmt.Errorf("operator %s requires a non-empty list value", c.Operator)
		}
	case OpEqual, OpNotEqual:
		if _, isList := asList(c.Value); isList {
			return fmt.Errorf("operator %s requires a scalar value", c.Operator)
		}
		if c.Value == nil {
			return fmt.Errorf("operator %s requires a value", c.Operator)
		}
	}

	return nil
}
