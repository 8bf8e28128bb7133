package policy

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
	"github.com/kagent-dev/supportagent/pkg/adk/knowledge"
)

// State is the state of the policy gate for one pending action instance.
type State string

const (
	StateNotQueried State = "NOT_QUERIED"
	StateQueried    State = "QUERIED"
	StateEvaluated  State = "EVALUATED"
	// StateConsumed follows a successful dispatch; the next attempt on the
	// same instance starts over.
	StateConsumed State = "CONSUMED"
)

// PolicyGateNotSatisfiedError is returned when a sensitive action is attempted
// from any state other than EVALUATED{PERMIT}.
type PolicyGateNotSatisfiedError struct {
	Action   string
	Topic    string
	State    State
	Verdict  Verdict
	Reason   string
	Snippets []string
}

func (e *PolicyGateNotSatisfiedError) Error() string {
	switch {
	case e.State != StateEvaluated:
		return fmt.Sprintf("policy check required: query the %s policy with search_knowledge_base before calling %s", e.Topic, e.Action)
	case e.Verdict == VerdictDeny:
		return fmt.Sprintf("policy forbids %s: %s", e.Action, e.Reason)
	default:
		return fmt.Sprintf("policy does not clearly permit %s: %s", e.Action, e.Reason)
	}
}

// Code implements errors.Coded.
func (e *PolicyGateNotSatisfiedError) Code() string { return adkerrors.ErrCodePolicyGateNotSatisfied }

// Details implements errors.Detailed.
func (e *PolicyGateNotSatisfiedError) Details() map[string]any {
	d := map[string]any{"state": string(e.State), "topic": e.Topic}
	if e.Verdict != "" {
		d["verdict"] = string(e.Verdict)
	}
	if e.Reason != "" {
		d["reason"] = e.Reason
	}
	if len(e.Snippets) > 0 {
		d["policy"] = e.Snippets
	}
	return d
}

// Decision describes the gate after a successful Check.
type Decision struct {
	Key     string
	State   State
	Verdict Verdict
	Reason  string
	Rule    string
}

type gate struct {
	state         State
	verdict       Verdict
	reason        string
	rule          string
	baseline      int
	evaluatedSeq  int
	evaluatedArgs map[string]any
	evaluatedAt   time.Time
	snippets      []string
}

// Gatekeeper enforces that sensitive actions are preceded by a policy query
// whose evaluation permits them. One Gatekeeper belongs to one session.
type Gatekeeper struct {
	store     knowledge.Store
	record    *Record
	matcher   TopicMatcher
	evaluator Evaluator
	topK      int
	ttl       time.Duration
	now       func() time.Time
	log       logr.Logger

	mu    sync.Mutex
	gates map[string]*gate
	// consumedThrough is the newest query sequence already spent on a
	// dispatched sensitive action. Older queries clear no further gates.
	consumedThrough int
}

// Option configures a Gatekeeper.
type Option func(*Gatekeeper)

// WithMatcher sets the topic matcher.
func WithMatcher(m TopicMatcher) Option { return func(g *Gatekeeper) { g.matcher = m } }

// WithTopK sets how many snippets a query retrieves.
func WithTopK(k int) Option { return func(g *Gatekeeper) { g.topK = k } }

// WithTTL makes evaluations expire after d. Zero disables expiry.
func WithTTL(d time.Duration) Option { return func(g *Gatekeeper) { g.ttl = d } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(g *Gatekeeper) { g.now = now } }

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option { return func(g *Gatekeeper) { g.log = l } }

// WithRecord shares an existing record.
func WithRecord(r *Record) Option { return func(g *Gatekeeper) { g.record = r } }

// NewGatekeeper creates a gatekeeper for one session.
func NewGatekeeper(store knowledge.Store, evaluator Evaluator, opts ...Option) *Gatekeeper {
	g := &Gatekeeper{
		store:     store,
		record:    NewRecord(),
		matcher:   DefaultMatcher(),
		evaluator: evaluator,
		topK:      knowledge.DefaultTopK,
		now:       time.Now,
		log:       logr.Discard(),
		gates:     make(map[string]*gate),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Record returns the session's query record.
func (g *Gatekeeper) Record() *Record { return g.record }

// Query retrieves policy snippets and records the query, also when nothing
// was found. A store failure is returned as StoreUnavailableError and
// recorded nowhere.
func (g *Gatekeeper) Query(ctx context.Context, text, topic string) (QueryEntry, error) {
	res, err := g.store.Query(ctx, text, g.topK)
	if err != nil {
		return QueryEntry{}, asStoreUnavailable(err)
	}
	snippets, err := knowledge.Collect(res)
	if err != nil {
		return QueryEntry{}, asStoreUnavailable(err)
	}

	entry := g.record.Append(text, topic, snippets, g.now())
	g.log.V(1).Info("Recorded policy query", "seq", entry.Seq, "topic", topic, "snippets", len(snippets))
	return entry, nil
}

func asStoreUnavailable(err error) error {
	var unavailable *adkerrors.StoreUnavailableError
	if errors.As(err, &unavailable) {
		return err
	}
	return &adkerrors.StoreUnavailableError{Cause: err}
}

// InstanceKey identifies the pending action instance a gate belongs to: the
// action name plus the entity it acts on, or the correlation id when the
// action declares no entity parameter.
func InstanceKey(schema catalog.ActionSchema, args map[string]any, correlationID string) string {
	if schema.EntityParam != "" {
		if v, ok := args[schema.EntityParam]; ok {
			return fmt.Sprintf("%s/%v", schema.Name, v)
		}
	}
	return fmt.Sprintf("%s#%s", schema.Name, correlationID)
}

// Check advances the gate for the action instance and succeeds only from
// EVALUATED{PERMIT}. Any other outcome is a PolicyGateNotSatisfiedError.
func (g *Gatekeeper) Check(ctx context.Context, schema catalog.ActionSchema, args map[string]any, correlationID string) (Decision, error) {
	key := InstanceKey(schema, args, correlationID)

	g.mu.Lock()
	defer g.mu.Unlock()

	gt, ok := g.gates[key]
	if !ok {
		gt = &gate{state: StateNotQueried, baseline: g.consumedThrough}
		g.gates[key] = gt
	}
	switch {
	case gt.state == StateConsumed:
		*gt = gate{state: StateNotQueried, baseline: g.consumedThrough}
	case gt.state == StateEvaluated && gt.evaluatedSeq <= g.consumedThrough:
		// Evaluated against a query another dispatch has since spent.
		*gt = gate{state: StateNotQueried, baseline: g.consumedThrough}
	case gt.baseline < g.consumedThrough:
		gt.baseline = g.consumedThrough
	}

	matching := g.matchingQueries(schema.PolicyTopic, gt.baseline)
	notSatisfied := func() error {
		return &PolicyGateNotSatisfiedError{
			Action:   schema.Name,
			Topic:    schema.PolicyTopic,
			State:    gt.state,
			Verdict:  gt.verdict,
			Reason:   gt.reason,
			Snippets: gt.snippets,
		}
	}

	if len(matching) == 0 {
		gt.state = StateNotQueried
		g.log.Info("Policy gate closed", "key", key, "state", gt.state)
		return Decision{}, notSatisfied()
	}
	latest := matching[len(matching)-1]

	if gt.state == StateNotQueried {
		gt.state = StateQueried
	}

	if gt.state == StateEvaluated {
		expired := g.ttl > 0 && g.now().Sub(gt.evaluatedAt) > g.ttl
		newer := latest.Seq > gt.evaluatedSeq
		switch {
		case !reflect.DeepEqual(gt.evaluatedArgs, args):
			gt.state = StateQueried
		case expired && newer, newer && gt.verdict == VerdictUndetermined:
			gt.state = StateQueried
		case expired:
			// A fresh query is required; older ones no longer count.
			*gt = gate{state: StateNotQueried, baseline: gt.evaluatedSeq}
			g.log.Info("Policy evaluation expired", "key", key)
			return Decision{}, notSatisfied()
		}
	}

	if gt.state == StateQueried {
		g.evaluate(ctx, gt, schema, args, matching)
	}

	d := Decision{Key: key, State: gt.state, Verdict: gt.verdict, Reason: gt.reason, Rule: gt.rule}
	if gt.verdict != VerdictPermit {
		g.log.Info("Policy gate closed", "key", key, "state", gt.state, "verdict", gt.verdict)
		return d, notSatisfied()
	}
	g.log.V(1).Info("Policy gate open", "key", key, "rule", gt.rule)
	return d, nil
}

func (g *Gatekeeper) evaluate(ctx context.Context, gt *gate, schema catalog.ActionSchema, args map[string]any, matching []QueryEntry) {
	latest := matching[len(matching)-1]

	var snippets []knowledge.Snippet
	seen := make(map[string]struct{})
	for _, q := range matching {
		for _, s := range q.Snippets {
			if _, dup := seen[s.DocumentID]; dup {
				continue
			}
			seen[s.DocumentID] = struct{}{}
			snippets = append(snippets, s)
		}
	}

	judgment, err := g.evaluator.Evaluate(ctx, Evaluation{
		Action:   schema.Name,
		Args:     args,
		Query:    latest,
		Snippets: snippets,
	})
	if err != nil {
		g.log.Error(err, "Policy evaluation failed", "action", schema.Name)
		judgment.Verdict = VerdictUndetermined
		if judgment.Reason == "" {
			judgment.Reason = "policy evaluation failed"
		}
	}
	if !judgment.Verdict.valid() {
		judgment.Verdict = VerdictUndetermined
	}

	texts := make([]string, len(snippets))
	for i, s := range snippets {
		texts[i] = s.Text
	}

	gt.state = StateEvaluated
	gt.verdict = judgment.Verdict
	gt.reason = judgment.Reason
	gt.rule = judgment.Rule
	gt.evaluatedSeq = latest.Seq
	gt.evaluatedArgs = copyArgs(args)
	gt.evaluatedAt = g.now()
	gt.snippets = texts
}

func (g *Gatekeeper) matchingQueries(topic string, after int) []QueryEntry {
	var out []QueryEntry
	for _, q := range g.record.After(after) {
		if g.matcher.Matches(topic, q) {
			out = append(out, q)
		}
	}
	return out
}

// Complete marks the instance consumed after the action was dispatched. The
// queries recorded so far clear no later sensitive action.
func (g *Gatekeeper) Complete(schema catalog.ActionSchema, args map[string]any, correlationID string) {
	key := InstanceKey(schema, args, correlationID)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.consumedThrough = g.record.LastSeq()
	gt, ok := g.gates[key]
	if !ok {
		gt = &gate{}
		g.gates[key] = gt
	}
	*gt = gate{state: StateConsumed, baseline: g.consumedThrough}
}

// State returns the gate state of an instance key, NOT_QUERIED when unknown.
func (g *Gatekeeper) State(key string) (State, Verdict) {
	g.mu.Lock()
	defer g.mu.Unlock()
	gt, ok := g.gates[key]
	if !ok {
		return StateNotQueried, ""
	}
	return gt.state, gt.verdict
}

func copyArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
