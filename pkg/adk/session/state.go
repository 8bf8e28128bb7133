package session

import (
	"fmt"
	"time"
)

// ConversationState is the append-only transcript of one session. Every
// action request turn is directly followed by its result turn; appends that
// would break that pairing are rejected.
//
// ConversationState is not safe for concurrent use. The orchestrator owns it
// for the duration of a turn while holding the session lock.
type ConversationState struct {
	turns   []Turn
	pending *ActionCall
	now     func() time.Time
}

// NewConversationState creates an empty transcript.
func NewConversationState() *ConversationState {
	return &ConversationState{now: time.Now}
}

func (c *ConversationState) append(t Turn) Turn {
	t.Seq = len(c.turns) + 1
	if t.Timestamp.IsZero() {
		t.Timestamp = c.now()
	}
	c.turns = append(c.turns, t)
	return t
}

func (c *ConversationState) checkIdle(role Role) error {
	if c.pending != nil {
		return fmt.Errorf("cannot append %s turn: action %s (%s) has no result yet", role, c.pending.Name, c.pending.CorrelationID)
	}
	return nil
}

// AppendUser records a user message.
func (c *ConversationState) AppendUser(round int, text string) (Turn, error) {
	if err := c.checkIdle(RoleUser); err != nil {
		return Turn{}, err
	}
	return c.append(Turn{Round: round, Role: RoleUser, Content: text}), nil
}

// AppendAssistant records an assistant message.
func (c *ConversationState) AppendAssistant(round int, text string) (Turn, error) {
	if err := c.checkIdle(RoleAssistant); err != nil {
		return Turn{}, err
	}
	return c.append(Turn{Round: round, Role: RoleAssistant, Content: text}), nil
}

// AppendRequest records an action request. The next append must be its result.
func (c *ConversationState) AppendRequest(round int, call ActionCall) (Turn, error) {
	if err := c.checkIdle(RoleActionRequest); err != nil {
		return Turn{}, err
	}
	if call.CorrelationID == "" {
		return Turn{}, fmt.Errorf("action request %q has no correlation id", call.Name)
	}
	call.Arguments = cloneMap(call.Arguments)
	c.pending = &call
	return c.append(Turn{Round: round, Role: RoleActionRequest, Request: &call}), nil
}

// AppendResult records the result of the pending action request.
func (c *ConversationState) AppendResult(round int, result ActionResult) (Turn, error) {
	if c.pending == nil {
		return Turn{}, fmt.Errorf("result %s has no pending request", result.CorrelationID)
	}
	if result.CorrelationID != c.pending.CorrelationID {
		return Turn{}, fmt.Errorf("result %s does not match pending request %s", result.CorrelationID, c.pending.CorrelationID)
	}
	c.pending = nil
	result.Payload = cloneMap(result.Payload)
	return c.append(Turn{Round: round, Role: RoleActionResult, Result: &result}), nil
}

// Pending returns the request still waiting for a result, if any.
func (c *ConversationState) Pending() (ActionCall, bool) {
	if c.pending == nil {
		return ActionCall{}, false
	}
	return *c.pending, true
}

// Turns returns a copy of the transcript.
func (c *ConversationState) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Since returns the turns with a sequence number greater than seq.
func (c *ConversationState) Since(seq int) []Turn {
	if seq < 0 {
		seq = 0
	}
	if seq >= len(c.turns) {
		return nil
	}
	out := make([]Turn, len(c.turns)-seq)
	copy(out, c.turns[seq:])
	return out
}

// Len returns the number of turns.
func (c *ConversationState) Len() int {
	return len(c.turns)
}

// LastRound returns the highest round recorded so far.
func (c *ConversationState) LastRound() int {
	if len(c.turns) == 0 {
		return 0
	}
	return c.turns[len(c.turns)-1].Round
}

// CheckPairing verifies that every request turn is immediately followed by the
// result with the same correlation id.
func CheckPairing(turns []Turn) error {
	for i, t := range turns {
		if t.Role != RoleActionRequest {
			if t.Role == RoleActionResult && (i == 0 || turns[i-1].Role != RoleActionRequest) {
				return fmt.Errorf("turn %d: result without request", t.Seq)
			}
			continue
		}
		if i+1 >= len(turns) {
			return fmt.Errorf("turn %d: request %s has no result", t.Seq, t.Request.CorrelationID)
		}
		next := turns[i+1]
		if next.Role != RoleActionResult || next.Result.CorrelationID != t.Request.CorrelationID {
			return fmt.Errorf("turn %d: request %s is not followed by its result", t.Seq, t.Request.CorrelationID)
		}
	}
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
