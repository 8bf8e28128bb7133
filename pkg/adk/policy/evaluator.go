package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/hashicorp/go-multierror"

	"github.com/kagent-dev/supportagent/pkg/adk/knowledge"
)

// Verdict is the outcome of evaluating retrieved policy against a request.
type Verdict string

const (
	VerdictPermit       Verdict = "PERMIT"
	VerdictDeny         Verdict = "DENY"
	VerdictUndetermined Verdict = "UNDETERMINED"
)

func (v Verdict) valid() bool {
	switch v {
	case VerdictPermit, VerdictDeny, VerdictUndetermined:
		return true
	}
	return false
}

// Evaluation is the input of an Evaluator.
type Evaluation struct {
	Action string
	Args   map[string]any
	// Query is the newest matching query.
	Query QueryEntry
	// Snippets are the distinct snippets of every matching query, oldest first.
	Snippets []knowledge.Snippet
}

// Judgment is an Evaluator's decision.
type Judgment struct {
	Verdict Verdict
	Reason  string
	Rule    string
}

// Evaluator turns retrieved policy into a verdict for a pending action.
type Evaluator interface {
	Evaluate(ctx context.Context, e Evaluation) (Judgment, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, e Evaluation) (Judgment, error)

// Evaluate implements Evaluator.
func (f EvaluatorFunc) Evaluate(ctx context.Context, e Evaluation) (Judgment, error) {
	return f(ctx, e)
}

// Rule is a CEL predicate that yields a verdict when it holds. Expressions see
// action (string), args (map), snippets (list of string), policy (the
// snippets joined by newlines) and query (string).
type Rule struct {
	Name    string  `json:"name" yaml:"name" mapstructure:"name"`
	When    string  `json:"when" yaml:"when" mapstructure:"when"`
	Verdict Verdict `json:"verdict" yaml:"verdict" mapstructure:"verdict"`
	Reason  string  `json:"reason" yaml:"reason" mapstructure:"reason"`
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// CELEvaluator applies ordered rules; the first rule that holds decides.
// When none holds, or a rule fails to evaluate, the verdict is UNDETERMINED.
type CELEvaluator struct {
	rules []compiledRule
}

// NewCELEvaluator compiles rules. Every compile error is reported.
func NewCELEvaluator(rules []Rule) (*CELEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("snippets", cel.ListType(cel.StringType)),
		cel.Variable("policy", cel.StringType),
		cel.Variable("query", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	var result *multierror.Error
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rule[%d]", i)
			r.Name = name
		}
		if !r.Verdict.valid() {
			result = multierror.Append(result, fmt.Errorf("%s: unknown verdict %q", name, r.Verdict))
			continue
		}
		ast, issues := env.Compile(r.When)
		if issues != nil && issues.Err() != nil {
			result = multierror.Append(result, fmt.Errorf("%s: compile: %w", name, issues.Err()))
			continue
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			result = multierror.Append(result, fmt.Errorf("%s: expression must be boolean, got %s", name, ast.OutputType()))
			continue
		}
		prg, err := env.Program(ast,
			cel.InterruptCheckFrequency(100),
			cel.CostLimit(10000),
		)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: program: %w", name, err))
			continue
		}
		compiled = append(compiled, compiledRule{Rule: r, prg: prg})
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &CELEvaluator{rules: compiled}, nil
}

// Evaluate implements Evaluator.
func (e *CELEvaluator) Evaluate(ctx context.Context, ev Evaluation) (Judgment, error) {
	texts := make([]string, len(ev.Snippets))
	for i, s := range ev.Snippets {
		texts[i] = s.Text
	}
	args := ev.Args
	if args == nil {
		args = map[string]any{}
	}
	input := map[string]any{
		"action":   ev.Action,
		"args":     args,
		"snippets": texts,
		"policy":   strings.Join(texts, "\n"),
		"query":    ev.Query.Text,
	}

	for _, r := range e.rules {
		out, _, err := r.prg.ContextEval(ctx, input)
		if err != nil {
			return Judgment{
				Verdict: VerdictUndetermined,
				Reason:  fmt.Sprintf("policy rule %s could not be evaluated", r.Name),
				Rule:    r.Name,
			}, fmt.Errorf("eval %s: %w", r.Name, err)
		}
		if held, ok := out.Value().(bool); ok && held {
			return Judgment{Verdict: r.Verdict, Reason: r.Reason, Rule: r.Name}, nil
		}
	}
	return Judgment{
		Verdict: VerdictUndetermined,
		Reason:  "the retrieved policy neither permits nor forbids this action",
	}, nil
}

// DefaultRules are the built-in refund policy rules.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "full_refund_listed_reason",
			When: `action == "process_refund" && "reason" in args && policy.matches("(?i)full refunds? (are|is) only allowed") && ` +
				`((string(args.reason).matches("(?i)lost.?in.?transit") && policy.matches("(?i)lost.?in.?transit")) || ` +
				`(string(args.reason).matches("(?i)totally.?destroyed") && policy.matches("(?i)totally.?destroyed")))`,
			Verdict: VerdictPermit,
			Reason:  "Full refunds are allowed for items lost in transit or totally destroyed.",
		},
		{
			Name:    "cosmetic_damage_partial_only",
			When:    `action == "process_refund" && "reason" in args && string(args.reason).matches("(?i)cosmetic|scratch|dent") && policy.matches("(?i)cosmetic damage")`,
			Verdict: VerdictDeny,
			Reason:  "Cosmetic damage is not eligible for a full refund. At most a 10% partial refund is allowed, and the customer must provide a photo.",
		},
		{
			Name:    "full_refund_unlisted_reason",
			When:    `action == "process_refund" && policy.matches("(?i)full refunds? (are|is) only allowed")`,
			Verdict: VerdictDeny,
			Reason:  "Full refunds are only allowed if the item is lost_in_transit or totally_destroyed.",
		},
	}
}
