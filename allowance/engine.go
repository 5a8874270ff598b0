package allowance

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
)

// SubjectVar is the CEL variable name expression rules address facts
// through, e.g. `subject.position == "Nurse"`.
const SubjectVar = "subject"

// Engine evaluates a tenant's rule set against subjects. Declarative rules
// are evaluated directly; expression rules are compiled to CEL programs once
// and cached by rule ID. Thread-safe for concurrent classification.
type Engine struct {
	env      *cel.Env
	store    RuleStore
	cache    RulesCache
	programs map[string]cel.Program // ruleID -> compiled program
	mu       sync.RWMutex
}

// NewEngine creates an engine over the given store and compiles every
// active expression rule up front so classification never compiles.
func NewEngine(store RuleStore) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable(SubjectVar, cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	en := &Engine{
		env:      env,
		store:    store,
		cache:    NewRulesCache(DefaultCacheConfig()),
		programs: make(map[string]cel.Program),
	}

	if err := en.CompileAllRules(); err != nil {
		return nil, fmt.Errorf("failed to compile rules: %w", err)
	}

	return en, nil
}

// CompileRule compiles an expression rule to a CEL program and caches it.
// Declarative rules have nothing to compile and are not passed here.
func (en *Engine) CompileRule(ruleID, expression string) error {
	ast, issues := en.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile error: %w", issues.Err())
	}

	// Cost limit prevents resource exhaustion from pathological expressions.
	prog, err := en.env.Program(ast, cel.CostLimit(1000000))
	if err != nil {
		return fmt.Errorf("program creation error: %w", err)
	}

	en.mu.Lock()
	en.programs[ruleID] = prog
	en.mu.Unlock()

	return nil
}

// CompileAllRules loads the active rule set, compiles every expression rule,
// and primes the cache.
func (en *Engine) CompileAllRules() error {
	rules, err := en.store.ListActive()
	if err != nil {
		return err
	}

	for _, rule := range rules {
		if rule.Expression == "" {
			continue
		}
		if err := en.CompileRule(rule.ID, rule.Expression); err != nil {
			return fmt.Errorf("failed to compile rule %s: %w", rule.ID, err)
		}
	}

	en.cache.Set(rules)

	return nil
}

// Classify evaluates the active rule set against the subject and returns the
// outcome of the highest-priority matching rule, or nil when nothing
// matches. It never returns an error for malformed subject or rule data;
// only a store failure on a cache miss surfaces.
func (en *Engine) Classify(subject Subject) (*Outcome, error) {
	rules := en.cache.Get()
	if rules == nil {
		var err error
		rules, err = en.store.ListActive()
		if err != nil {
			return nil, err
		}
		en.cache.Set(rules)
	}

	return classify(subject, rules, en.program), nil
}

func (en *Engine) program(ruleID string) (cel.Program, bool) {
	en.mu.RLock()
	prog, ok := en.programs[ruleID]
	en.mu.RUnlock()
	return prog, ok
}

// AddRule validates, compiles (when expression-form) and stores a new rule.
func (en *Engine) AddRule(r *Rule) error {
	if _, err := en.store.Get(r.ID); err == nil {
		return fmt.Errorf("rule with ID %s already exists", r.ID)
	}

	if err := ValidateRule(r); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if r.Expression != "" {
		if err := en.CompileRule(r.ID, r.Expression); err != nil {
			return fmt.Errorf("rule validation failed: %w", err)
		}
	}

	if err := en.store.Add(r); err != nil {
		en.mu.Lock()
		delete(en.programs, r.ID)
		en.mu.Unlock()
		return err
	}

	en.cache.Invalidate()

	return nil
}

// UpdateRule validates the new definition, recompiles when needed, and
// updates the store.
func (en *Engine) UpdateRule(r *Rule) error {
	if err := ValidateRule(r); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if r.Expression != "" {
		if err := en.CompileRule(r.ID, r.Expression); err != nil {
			return fmt.Errorf("rule validation failed: %w", err)
		}
	}

	if err := en.store.Update(r); err != nil {
		return err
	}

	en.cache.Invalidate()

	return nil
}

// DeleteRule removes a rule from the store and drops its compiled program.
func (en *Engine) DeleteRule(ruleID string) error {
	if err := en.store.Delete(ruleID); err != nil {
		return err
	}

	en.mu.Lock()
	delete(en.programs, ruleID)
	en.mu.Unlock()

	en.cache.Invalidate()

	return nil
}

// Classify is the pure form of the classification contract: first match by
// descending priority over the given rules (assumed pre-filtered to active
// ones by the caller), nil outcome when nothing matches. Expression rules
// need a compiled program and therefore never match through this entry
// point; use Engine.Classify for rule sets that contain them.
func Classify(subject Subject, rules []*Rule) *Outcome {
	return classify(subject, rules, nil)
}

func classify(subject Subject, rules []*Rule, lookup func(string) (cel.Program, bool)) *Outcome {
	// Stable sort keeps input order for equal priorities.
	ordered := make([]*Rule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	for _, rule := range ordered {
		if ruleMatches(rule, subject, lookup) {
			out := rule.Outcome
			return &out
		}
	}

	return nil
}

func ruleMatches(rule *Rule, subject Subject, lookup func(string) (cel.Program, bool)) bool {
	if rule.Expression != "" {
		if lookup == nil {
			return false
		}
		prog, ok := lookup(rule.ID)
		if !ok {
			return false
		}
		return evalExpression(prog, subject)
	}

	return matchConditions(rule.Conditions, subject)
}

// evalExpression runs a compiled expression rule. Any evaluation error, or a
// non-boolean result, counts as no match.
func evalExpression(prog cel.Program, subject Subject) bool {
	out, _, err := prog.Eval(map[string]any{SubjectVar: map[string]any(subject)})
	if err != nil {
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}

// matchConditions evaluates a declarative condition set. All takes
// precedence over Any when both are populated (legacy records only;
// ValidateRule rejects the combination on write). Empty sets never match.
func matchConditions(cs ConditionSet, subject Subject) bool {
	if len(cs.All) > 0 {
		for _, c := range cs.All {
			if !evalCondition(c, subject) {
				return false
			}
		}
		return true
	}

	if len(cs.Any) > 0 {
		for _, c := range cs.Any {
			if evalCondition(c, subject) {
				return true
			}
		}
		return false
	}

	return false
}

// evalCondition evaluates one condition against the subject. A fact that is
// absent or nil makes the condition false for every operator, including the
// negated ones: classification must never grant an allowance because data
// is missing.
func evalCondition(c Condition, subject Subject) bool {
	fact, ok := subject[c.Fact]
	if !ok || fact == nil {
		return false
	}

	switch c.Operator {
	case OpEqual:
		return isScalar(fact) && isScalar(c.Value) && scalarEqual(fact, c.Value)
	case OpNotEqual:
		return isScalar(fact) && isScalar(c.Value) && !scalarEqual(fact, c.Value)
	case OpIn:
		return valueIn(fact, c.Value)
	case OpNotIn:
		return !valueIn(fact, c.Value)
	}

	return false
}

// valueIn implements the In operator: the condition value must be a list; a
// list-valued fact matches on any shared element, a scalar fact on
// membership.
func valueIn(fact, condValue any) bool {
	list, ok := asList(condValue)
	if !ok {
		return false
	}

	if factList, ok := asList(fact); ok {
		for _, fv := range factList {
			for _, cv := range list {
				if scalarEqual(fv, cv) {
					return true
				}
			}
		}
		return false
	}

	for _, cv := range list {
		if scalarEqual(fact, cv) {
			return true
		}
	}
	return false
}

// asList normalizes the list shapes that reach the engine: []any from JSON
// decoding and []string from Go callers building subjects directly.
func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// isScalar reports whether v is a comparable scalar: string, bool, or a
// recognized numeric type. Lists and maps are not scalars; Equal/NotEqual
// conditions carrying them evaluate false rather than panicking on an
// uncomparable interface comparison.
func isScalar(v any) bool {
	switch v.(type) {
	case string, bool:
		return true
	}
	_, ok := asFloat(v)
	return ok
}

// scalarEqual compares two scalars. Numeric values are compared by value
// regardless of Go type, since JSON decoding yields float64 while Go-built
// subjects carry int. Non-scalar operands never compare equal.
func scalarEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
