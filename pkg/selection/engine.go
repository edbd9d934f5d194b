package selection

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

// Engine evaluates selection rules against retailer summaries
type Engine struct {
	rules RuleSet

	// compiledPrograms caches compiled conditions
	compiledPrograms map[string]*vm.Program
	mu               sync.RWMutex

	// OnMatch is called for every rule that decides a retailer
	OnMatch func(rule, action string)
}

// NewEngine creates an engine that includes every retailer
func NewEngine() *Engine {
	return &Engine{
		rules: RuleSet{
			Rules:         []Rule{},
			DefaultAction: ActionInclude,
		},
		compiledPrograms: make(map[string]*vm.Program),
	}
}

// LoadRules loads rules from a YAML file
func (e *Engine) LoadRules(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read rules file: %w", err)
	}
	if err := e.LoadRulesFromBytes(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	klog.Infof("Loaded %d selection rules with default action: %s", len(e.rules.Rules), e.rules.DefaultAction)
	return nil
}

// LoadRulesFromBytes loads rules from YAML bytes. Every condition is
// compiled up front so a broken rule fails the load, not the run.
func (e *Engine) LoadRulesFromBytes(data []byte) error {
	var ruleSet RuleSet
	if err := yaml.Unmarshal(data, &ruleSet); err != nil {
		return fmt.Errorf("failed to unmarshal rules: %w", err)
	}

	if ruleSet.DefaultAction == "" {
		ruleSet.DefaultAction = ActionInclude
	}
	if !isValidAction(ruleSet.DefaultAction) {
		return fmt.Errorf("invalid default action: %s", ruleSet.DefaultAction)
	}

	compiled := make(map[string]*vm.Program, len(ruleSet.Rules))
	for i, r := range ruleSet.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule at index %d has no name", i)
		}
		if r.Condition == "" {
			return fmt.Errorf("rule %s has no condition", r.Name)
		}
		if !isValidAction(r.Action) {
			return fmt.Errorf("rule %s has invalid action: %q", r.Name, r.Action)
		}

		program, err := compile(r.Condition)
		if err != nil {
			return fmt.Errorf("rule %s: %w", r.Name, err)
		}
		compiled[r.Condition] = program
	}

	// Sort rules by priority (higher priority first)
	sort.SliceStable(ruleSet.Rules, func(i, j int) bool {
		return ruleSet.Rules[i].Priority > ruleSet.Rules[j].Priority
	})

	if disabled := disabledRules(ruleSet.Rules); len(disabled) > 0 {
		klog.Warningf("Selection rules %s are disabled and will be skipped (set enabled: true to apply them)",
			strings.Join(disabled, ", "))
	}

	e.mu.Lock()
	e.rules = ruleSet
	e.compiledPrograms = compiled
	e.mu.Unlock()
	return nil
}

// Evaluate returns the decision of the first enabled matching rule, or the
// default action
func (e *Engine) Evaluate(summary Summary) (*Decision, error) {
	env := summary.ToExprEnv()

	for _, rule := range e.rules.Rules {
		if !rule.Enabled {
			continue
		}

		matches, err := e.evaluateCondition(rule.Condition, env)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate rule %s for %s: %w", rule.Name, summary.Retailer, err)
		}
		if !matches {
			continue
		}

		klog.V(2).Infof("Selection rule %s matched retailer %s: %s", rule.Name, summary.Retailer, rule.Action)
		if e.OnMatch != nil {
			e.OnMatch(rule.Name, rule.Action)
		}
		return &Decision{
			Retailer:    summary.Retailer,
			Action:      rule.Action,
			MatchedRule: rule.Name,
			Reason:      fmt.Sprintf("Rule '%s' matched: %s", rule.Name, rule.Description),
		}, nil
	}

	return &Decision{
		Retailer: summary.Retailer,
		Action:   e.rules.DefaultAction,
		Reason:   "No rule matched, using default action",
	}, nil
}

func (e *Engine) evaluateCondition(condition string, env map[string]interface{}) (bool, error) {
	e.mu.RLock()
	program, exists := e.compiledPrograms[condition]
	e.mu.RUnlock()

	if !exists {
		compiled, err := compile(condition)
		if err != nil {
			return false, err
		}
		e.mu.Lock()
		e.compiledPrograms[condition] = compiled
		e.mu.Unlock()
		program = compiled
	}

	output, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate condition: %w", err)
	}

	result, ok := output.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not evaluate to boolean: %T", output)
	}
	return result, nil
}

// compile type-checks condition against the summary environment
func compile(condition string) (*vm.Program, error) {
	program, err := expr.Compile(condition, expr.Env(Summary{}.ToExprEnv()), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("failed to compile condition: %w", err)
	}
	return program, nil
}

func isValidAction(action string) bool {
	return action == ActionInclude || action == ActionExclude
}

// DisabledRules returns the names of loaded rules that are skipped
func (e *Engine) DisabledRules() []string {
	return disabledRules(e.rules.Rules)
}

func disabledRules(rules []Rule) []string {
	var names []string
	for _, r := range rules {
		if !r.Enabled {
			names = append(names, r.Name)
		}
	}
	return names
}

// Rules returns all loaded rules in evaluation order
func (e *Engine) Rules() []Rule {
	return e.rules.Rules
}

// DefaultAction returns the default action
func (e *Engine) DefaultAction() string {
	return e.rules.DefaultAction
}
