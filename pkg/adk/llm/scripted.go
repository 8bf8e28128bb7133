package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedClient replays canned decisions in order. It records every input
// it receives. Useful for tests and offline demos.
type ScriptedClient struct {
	mu     sync.Mutex
	steps  []ScriptStep
	inputs []Input
	Model  string
}

// ScriptStep is one scripted engine round. When Func is set it computes the
// decision from the input; otherwise Decision and Err are returned as is.
type ScriptStep struct {
	Decision *Decision
	Err      error
	Func     func(in Input) (*Decision, error)
}

// NewScriptedClient creates a client that plays steps in order.
func NewScriptedClient(steps ...ScriptStep) *ScriptedClient {
	return &ScriptedClient{steps: steps, Model: "scripted"}
}

// Reply is a step answering with a final message.
func Reply(message string) ScriptStep {
	return ScriptStep{Decision: &Decision{Message: message}}
}

// Call is a step requesting actions.
func Call(requests ...ActionRequest) ScriptStep {
	return ScriptStep{Decision: &Decision{Requests: requests}}
}

// Fail is a step returning err.
func Fail(err error) ScriptStep {
	return ScriptStep{Err: err}
}

// Generate implements Client.
func (s *ScriptedClient) Generate(ctx context.Context, in Input) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.inputs = append(s.inputs, in)
	if len(s.steps) == 0 {
		n := len(s.inputs)
		s.mu.Unlock()
		return nil, fmt.Errorf("scripted engine exhausted at round %d", n)
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	if step.Func != nil {
		return step.Func(in)
	}
	if step.Err != nil {
		return nil, step.Err
	}
	d := *step.Decision
	d.Requests = append([]ActionRequest(nil), step.Decision.Requests...)
	return &d, nil
}

// ModelName implements Client.
func (s *ScriptedClient) ModelName() string { return s.Model }

// Inputs returns the inputs seen so far.
func (s *ScriptedClient) Inputs() []Input {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Input(nil), s.inputs...)
}

// Remaining returns the number of unplayed steps.
func (s *ScriptedClient) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}
