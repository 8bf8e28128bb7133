package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
	"github.com/kagent-dev/supportagent/pkg/adk/knowledge"
)

func refundSchema(t *testing.T) catalog.ActionSchema {
	t.Helper()
	s, ok := catalog.Default().Lookup(catalog.ActionProcessRefund)
	require.True(t, ok)
	return s
}

func newGatekeeper(t *testing.T, opts ...Option) *Gatekeeper {
	t.Helper()
	eval, err := NewCELEvaluator(DefaultRules())
	require.NoError(t, err)
	return NewGatekeeper(knowledge.NewIndex(knowledge.DefaultDocuments()...), eval, opts...)
}

func requireGateError(t *testing.T, err error) *PolicyGateNotSatisfiedError {
	t.Helper()
	var gateErr *PolicyGateNotSatisfiedError
	require.True(t, errors.As(err, &gateErr), "expected gate error, got %v", err)
	assert.Equal(t, adkerrors.ErrCodePolicyGateNotSatisfied, adkerrors.CodeOf(err))
	return gateErr
}

func TestCheck_WithoutQueryFails(t *testing.T) {
	gk := newGatekeeper(t)
	args := map[string]any{"order_id": "ORD-123", "reason": "lost_in_transit"}

	_, err := gk.Check(context.Background(), refundSchema(t), args, "call_1")
	gateErr := requireGateError(t, err)
	assert.Equal(t, StateNotQueried, gateErr.State)
	assert.Contains(t, err.Error(), "search_knowledge_base")

	state, _ := gk.State("process_refund/ORD-123")
	assert.Equal(t, StateNotQueried, state)
}

func TestCheck_PermitAfterMatchingQuery(t *testing.T) {
	gk := newGatekeeper(t)
	ctx := context.Background()
	args := map[string]any{"order_id": "ORD-123", "reason": "lost_in_transit"}

	entry, err := gk.Query(ctx, "Are full refunds allowed for items lost in transit?", catalog.TopicRefundPolicy)
	require.NoError(t, err)
	require.NotEmpty(t, entry.Snippets)

	d, err := gk.Check(ctx, refundSchema(t), args, "call_1")
	require.NoError(t, err)
	assert.Equal(t, StateEvaluated, d.State)
	assert.Equal(t, VerdictPermit, d.Verdict)
	assert.Equal(t, "full_refund_listed_reason", d.Rule)
	assert.Equal(t, "process_refund/ORD-123", d.Key)
}

func TestCheck_DenyCosmeticDamage(t *testing.T) {
	gk := newGatekeeper(t)
	ctx := context.Background()
	args := map[string]any{"order_id": "ORD-123", "reason": "item arrived cosmetically damaged"}

	_, err := gk.Query(ctx, "refund policy for cosmetic damage", "")
	require.NoError(t, err)

	d, err := gk.Check(ctx, refundSchema(t), args, "call_1")
	gateErr := requireGateError(t, err)
	assert.Equal(t, StateEvaluated, gateErr.State)
	assert.Equal(t, VerdictDeny, gateErr.Verdict)
	assert.Contains(t, gateErr.Reason, "10% partial refund")
	assert.Equal(t, VerdictDeny, d.Verdict)

	desc := adkerrors.Describe(err)
	assert.Equal(t, adkerrors.CategoryPolicy, desc.Category)
	assert.Equal(t, "DENY", desc.Details["verdict"])
}

func TestCheck_UnrelatedQueryDoesNotCount(t *testing.T) {
	gk := newGatekeeper(t)
	ctx := context.Background()

	_, err := gk.Query(ctx, "how long is the electronics warranty", "warranty_policy")
	require.NoError(t, err)

	_, err = gk.Check(ctx, refundSchema(t), map[string]any{"order_id": "ORD-123", "reason": "lost_in_transit"}, "c")
	assert.Equal(t, StateNotQueried, requireGateError(t, err).State)
}

func TestCheck_UndeterminedReevaluatesOnNewerQuery(t *testing.T) {
	calls := 0
	eval := EvaluatorFunc(func(_ context.Context, e Evaluation) (Judgment, error) {
		calls++
		if calls == 1 {
			return Judgment{Verdict: VerdictUndetermined, Reason: "unclear"}, nil
		}
		return Judgment{Verdict: VerdictPermit}, nil
	})
	gk := NewGatekeeper(knowledge.NewIndex(knowledge.DefaultDocuments()...), eval)
	ctx := context.Background()
	args := map[string]any{"order_id": "ORD-1", "reason": "x"}

	_, err := gk.Query(ctx, "refund rules", catalog.TopicRefundPolicy)
	require.NoError(t, err)

	_, err = gk.Check(ctx, refundSchema(t), args, "c1")
	assert.Equal(t, VerdictUndetermined, requireGateError(t, err).Verdict)

	// Same record: no re-evaluation.
	_, err = gk.Check(ctx, refundSchema(t), args, "c2")
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	_, err = gk.Query(ctx, "refund rules again", catalog.TopicRefundPolicy)
	require.NoError(t, err)
	_, err = gk.Check(ctx, refundSchema(t), args, "c3")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCheck_DenyIsStickyUntilArgumentsChange(t *testing.T) {
	gk := newGatekeeper(t)
	ctx := context.Background()

	_, err := gk.Query(ctx, "full refund policy lost in transit cosmetic damage", catalog.TopicRefundPolicy)
	require.NoError(t, err)

	_, err = gk.Check(ctx, refundSchema(t), map[string]any{"order_id": "ORD-123", "reason": "changed my mind"}, "c1")
	assert.Equal(t, VerdictDeny, requireGateError(t, err).Verdict)

	_, err = gk.Query(ctx, "refund policy", catalog.TopicRefundPolicy)
	require.NoError(t, err)
	_, err = gk.Check(ctx, refundSchema(t), map[string]any{"order_id": "ORD-123", "reason": "changed my mind"}, "c2")
	assert.Equal(t, VerdictDeny, requireGateError(t, err).Verdict)

	d, err := gk.Check(ctx, refundSchema(t), map[string]any{"order_id": "ORD-123", "reason": "lost_in_transit"}, "c3")
	require.NoError(t, err)
	assert.Equal(t, VerdictPermit, d.Verdict)
}

func TestCheck_ExpiredEvaluationNeedsFreshQuery(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	gk := newGatekeeper(t, WithTTL(time.Minute), WithClock(func() time.Time { return now }))
	ctx := context.Background()
	args := map[string]any{"order_id": "ORD-123", "reason": "lost_in_transit"}

	_, err := gk.Query(ctx, "full refunds lost in transit", catalog.TopicRefundPolicy)
	require.NoError(t, err)
	_, err = gk.Check(ctx, refundSchema(t), args, "c1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = gk.Check(ctx, refundSchema(t), args, "c2")
	assert.Equal(t, StateNotQueried, requireGateError(t, err).State)

	_, err = gk.Query(ctx, "full refunds lost in transit", catalog.TopicRefundPolicy)
	require.NoError(t, err)
	_, err = gk.Check(ctx, refundSchema(t), args, "c3")
	require.NoError(t, err)
}

func TestComplete_ConsumesGate(t *testing.T) {
	gk := newGatekeeper(t)
	ctx := context.Background()
	schema := refundSchema(t)
	args := map[string]any{"order_id": "ORD-123", "reason": "lost_in_transit"}

	_, err := gk.Query(ctx, "full refunds lost in transit", catalog.TopicRefundPolicy)
	require.NoError(t, err)
	_, err = gk.Check(ctx, schema, args, "c1")
	require.NoError(t, err)

	gk.Complete(schema, args, "c1")
	state, _ := gk.State("process_refund/ORD-123")
	assert.Equal(t, StateConsumed, state)

	// Neither the same instance nor another entity reuses the spent query.
	_, err = gk.Check(ctx, schema, args, "c2")
	assert.Equal(t, StateNotQueried, requireGateError(t, err).State)
	_, err = gk.Check(ctx, schema, map[string]any{"order_id": "ORD-456", "reason": "lost_in_transit"}, "c3")
	assert.Equal(t, StateNotQueried, requireGateError(t, err).State)

	_, err = gk.Query(ctx, "full refunds lost in transit", catalog.TopicRefundPolicy)
	require.NoError(t, err)
	_, err = gk.Check(ctx, schema, args, "c4")
	require.NoError(t, err)
}

func TestComplete_SpentQueryClearsNoEarlierGate(t *testing.T) {
	gk := newGatekeeper(t)
	ctx := context.Background()
	schema := refundSchema(t)
	early := map[string]any{"order_id": "ORD-456", "reason": "lost_in_transit"}
	paid := map[string]any{"order_id": "ORD-123", "reason": "lost_in_transit"}

	// ORD-456 is attempted before any query, so its gate exists early.
	_, err := gk.Check(ctx, schema, early, "c1")
	assert.Equal(t, StateNotQueried, requireGateError(t, err).State)

	_, err = gk.Query(ctx, "full refunds lost in transit", catalog.TopicRefundPolicy)
	require.NoError(t, err)
	_, err = gk.Check(ctx, schema, paid, "c2")
	require.NoError(t, err)
	gk.Complete(schema, paid, "c2")

	_, err = gk.Check(ctx, schema, map[string]any{"order_id": "ORD-789", "reason": "lost_in_transit"}, "c3")
	assert.Equal(t, StateNotQueried, requireGateError(t, err).State)
	_, err = gk.Check(ctx, schema, early, "c4")
	assert.Equal(t, StateNotQueried, requireGateError(t, err).State)

	_, err = gk.Query(ctx, "full refunds lost in transit", catalog.TopicRefundPolicy)
	require.NoError(t, err)
	_, err = gk.Check(ctx, schema, early, "c5")
	require.NoError(t, err)
}

func TestComplete_EvaluatedGateNeedsFreshQuery(t *testing.T) {
	gk := newGatekeeper(t)
	ctx := context.Background()
	schema := refundSchema(t)
	first := map[string]any{"order_id": "ORD-1", "reason": "lost_in_transit"}
	second := map[string]any{"order_id": "ORD-2", "reason": "lost_in_transit"}

	_, err := gk.Query(ctx, "full refunds lost in transit", catalog.TopicRefundPolicy)
	require.NoError(t, err)
	_, err = gk.Check(ctx, schema, first, "c1")
	require.NoError(t, err)
	_, err = gk.Check(ctx, schema, second, "c2")
	require.NoError(t, err)

	gk.Complete(schema, first, "c1")

	_, err = gk.Check(ctx, schema, second, "c3")
	assert.Equal(t, StateNotQueried, requireGateError(t, err).State)
	state, _ := gk.State("process_refund/ORD-2")
	assert.Equal(t, StateNotQueried, state)
}

func TestCheck_GateIsPerInstance(t *testing.T) {
	gk := newGatekeeper(t)
	ctx := context.Background()
	schema := refundSchema(t)

	_, err := gk.Query(ctx, "full refunds lost in transit", catalog.TopicRefundPolicy)
	require.NoError(t, err)
	_, err = gk.Check(ctx, schema, map[string]any{"order_id": "ORD-1", "reason": "scratched"}, "c1")
	require.Error(t, err)

	_, err = gk.Check(ctx, schema, map[string]any{"order_id": "ORD-2", "reason": "lost_in_transit"}, "c2")
	require.NoError(t, err)

	s1, v1 := gk.State("process_refund/ORD-1")
	s2, v2 := gk.State("process_refund/ORD-2")
	assert.Equal(t, StateEvaluated, s1)
	assert.Equal(t, VerdictDeny, v1)
	assert.Equal(t, StateEvaluated, s2)
	assert.Equal(t, VerdictPermit, v2)
}

func TestCheck_EvaluatorErrorIsUndetermined(t *testing.T) {
	eval := EvaluatorFunc(func(context.Context, Evaluation) (Judgment, error) {
		return Judgment{Verdict: VerdictPermit}, errors.New("rule engine down")
	})
	gk := NewGatekeeper(knowledge.NewIndex(knowledge.DefaultDocuments()...), eval)
	ctx := context.Background()

	_, err := gk.Query(ctx, "refund policy", catalog.TopicRefundPolicy)
	require.NoError(t, err)
	_, err = gk.Check(ctx, refundSchema(t), map[string]any{"order_id": "ORD-1", "reason": "x"}, "c1")
	assert.Equal(t, VerdictUndetermined, requireGateError(t, err).Verdict)
}

type unavailableStore struct{}

func (unavailableStore) Query(context.Context, string, int) (*knowledge.Results, error) {
	return nil, errors.New("dial tcp: connection refused")
}

func TestQuery_StoreUnavailableIsNotRecorded(t *testing.T) {
	eval, err := NewCELEvaluator(DefaultRules())
	require.NoError(t, err)
	gk := NewGatekeeper(unavailableStore{}, eval)

	_, err = gk.Query(context.Background(), "refund policy", catalog.TopicRefundPolicy)
	var unavailable *adkerrors.StoreUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, 0, gk.Record().LastSeq())

	_, err = gk.Check(context.Background(), refundSchema(t), map[string]any{"order_id": "ORD-1", "reason": "lost_in_transit"}, "c")
	assert.Equal(t, StateNotQueried, requireGateError(t, err).State)
}

func TestQuery_EmptyResultIsRecorded(t *testing.T) {
	gk := newGatekeeper(t)

	entry, err := gk.Query(context.Background(), "zebra", catalog.TopicRefundPolicy)
	require.NoError(t, err)
	assert.Empty(t, entry.Snippets)
	assert.Equal(t, 1, gk.Record().LastSeq())

	// A tagged query with no policy found is evaluated, and nothing permits.
	_, err = gk.Check(context.Background(), refundSchema(t), map[string]any{"order_id": "ORD-1", "reason": "lost_in_transit"}, "c")
	assert.Equal(t, VerdictUndetermined, requireGateError(t, err).Verdict)
}

func TestQuery_IsIdempotent(t *testing.T) {
	gk := newGatekeeper(t)
	ctx := context.Background()

	a, err := gk.Query(ctx, "refund for damaged item", "")
	require.NoError(t, err)
	b, err := gk.Query(ctx, "refund for damaged item", "")
	require.NoError(t, err)

	assert.Equal(t, a.Snippets, b.Snippets)
	assert.Equal(t, []int{1, 2}, []int{a.Seq, b.Seq})
}

func TestInstanceKey(t *testing.T) {
	schema := refundSchema(t)
	assert.Equal(t, "process_refund/ORD-9", InstanceKey(schema, map[string]any{"order_id": "ORD-9"}, "c"))

	schema.EntityParam = ""
	assert.Equal(t, "process_refund#c", InstanceKey(schema, nil, "c"))
}
