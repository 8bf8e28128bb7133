package session

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagent-dev/supportagent/pkg/adk/auth"
	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
	"github.com/kagent-dev/supportagent/pkg/adk/knowledge"
	"github.com/kagent-dev/supportagent/pkg/adk/policy"
)

func TestConversationState_Pairing(t *testing.T) {
	c := NewConversationState()

	_, err := c.AppendUser(1, "where is ORD-123?")
	require.NoError(t, err)

	_, err = c.AppendRequest(1, ActionCall{CorrelationID: "c1", Name: "get_order", Arguments: map[string]any{"order_id": "ORD-123"}})
	require.NoError(t, err)

	pending, ok := c.Pending()
	require.True(t, ok)
	assert.Equal(t, "c1", pending.CorrelationID)

	_, err = c.AppendAssistant(1, "too early")
	assert.Error(t, err, "assistant turn cannot interleave a pending request")
	_, err = c.AppendRequest(1, ActionCall{CorrelationID: "c2", Name: "get_order"})
	assert.Error(t, err)
	_, err = c.AppendResult(1, ActionResult{CorrelationID: "other"})
	assert.Error(t, err)

	_, err = c.AppendResult(1, ActionResult{CorrelationID: "c1", Action: "get_order", Success: true, Payload: map[string]any{"status": "shipped"}})
	require.NoError(t, err)

	_, err = c.AppendAssistant(2, "It shipped.")
	require.NoError(t, err)

	turns := c.Turns()
	require.Len(t, turns, 4)
	for i, turn := range turns {
		assert.Equal(t, i+1, turn.Seq)
	}
	assert.Equal(t, []Role{RoleUser, RoleActionRequest, RoleActionResult, RoleAssistant},
		[]Role{turns[0].Role, turns[1].Role, turns[2].Role, turns[3].Role})
	assert.NoError(t, CheckPairing(turns))
	assert.Equal(t, 2, c.LastRound())
	assert.Len(t, c.Since(2), 2)
	assert.Nil(t, c.Since(10))
}

func TestConversationState_ResultWithoutRequest(t *testing.T) {
	c := NewConversationState()
	_, err := c.AppendResult(1, ActionResult{CorrelationID: "c1"})
	assert.Error(t, err)

	_, err = c.AppendRequest(1, ActionCall{Name: "get_order"})
	assert.Error(t, err, "correlation id is required")
}

func TestConversationState_CopiesArguments(t *testing.T) {
	c := NewConversationState()
	args := map[string]any{"order_id": "ORD-123"}
	_, err := c.AppendRequest(1, ActionCall{CorrelationID: "c1", Name: "get_order", Arguments: args})
	require.NoError(t, err)
	args["order_id"] = "ORD-999"

	assert.Equal(t, "ORD-123", c.Turns()[0].Request.Arguments["order_id"])
}

func TestCheckPairing(t *testing.T) {
	req := func(id string) Turn { return Turn{Role: RoleActionRequest, Request: &ActionCall{CorrelationID: id}} }
	res := func(id string) Turn { return Turn{Role: RoleActionResult, Result: &ActionResult{CorrelationID: id}} }

	tests := []struct {
		name    string
		turns   []Turn
		wantErr bool
	}{
		{name: "empty", turns: nil},
		{name: "paired", turns: []Turn{req("a"), res("a"), req("b"), res("b")}},
		{name: "dangling request", turns: []Turn{req("a")}, wantErr: true},
		{name: "mismatched ids", turns: []Turn{req("a"), res("b")}, wantErr: true},
		{name: "two requests", turns: []Turn{req("a"), req("b"), res("a"), res("b")}, wantErr: true},
		{name: "orphan result", turns: []Turn{{Role: RoleUser}, res("a")}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckPairing(tt.turns)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func newTestService() *InMemoryService {
	gate := auth.NewGate([]auth.Grant{
		{Token: "super-agent-secret", Identity: "Agent-007", Scopes: []string{"read:orders", "write:refunds"}},
	}, logr.Discard())
	index := knowledge.NewIndex(knowledge.DefaultDocuments()...)
	return NewInMemoryService(gate, func() *policy.Gatekeeper {
		return policy.NewGatekeeper(index, policy.EvaluatorFunc(func(context.Context, policy.Evaluation) (policy.Judgment, error) {
			return policy.Judgment{Verdict: policy.VerdictUndetermined}, nil
		}))
	}, logr.Discard())
}

func TestInMemoryService_Lifecycle(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, &CreateSessionRequest{UserID: "sreeram", Token: "super-agent-secret"})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "default", sess.AppName)
	assert.Equal(t, "Agent-007", sess.Principal.Identity)
	assert.NotNil(t, sess.Gatekeeper)

	other, err := svc.CreateSession(ctx, &CreateSessionRequest{UserID: "someone", Token: "super-agent-secret"})
	require.NoError(t, err)
	assert.NotSame(t, sess.Gatekeeper, other.Gatekeeper)

	got, err := svc.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	mine, err := svc.ListSessions(ctx, "sreeram")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	all, err := svc.ListSessions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, svc.DeleteSession(ctx, sess.ID))
	_, err = svc.GetSession(ctx, sess.ID)
	assert.Equal(t, adkerrors.ErrCodeNotFound, adkerrors.CodeOf(err))
	assert.Error(t, svc.DeleteSession(ctx, sess.ID))
	assert.Equal(t, 1, svc.Len())
}

func TestInMemoryService_RefusesUnknownCredential(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateSession(context.Background(), &CreateSessionRequest{UserID: "x", Token: "guess"})
	assert.Equal(t, adkerrors.ErrCodeInvalidCredential, adkerrors.CodeOf(err))
	assert.Equal(t, 0, svc.Len())

	_, err = svc.CreateSession(context.Background(), nil)
	assert.Error(t, err)
}

func TestSession_AcquireSerializesTurns(t *testing.T) {
	svc := newTestService()
	sess, err := svc.CreateSession(context.Background(), &CreateSessionRequest{Token: "super-agent-secret"})
	require.NoError(t, err)

	require.NoError(t, sess.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sess.Acquire(ctx), context.DeadlineExceeded)

	sess.Release()
	require.NoError(t, sess.Acquire(context.Background()))
	view := sess.View(true)
	sess.Release()

	assert.Equal(t, sess.ID, view.ID)
	assert.Equal(t, "Agent-007", view.Identity)
	assert.Empty(t, view.Turns)
}
