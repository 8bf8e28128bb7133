package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kagent-dev/supportagent/pkg/adk/auth"
	"github.com/kagent-dev/supportagent/pkg/adk/backend"
	"github.com/kagent-dev/supportagent/pkg/adk/catalog"
	apperrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
	"github.com/kagent-dev/supportagent/pkg/adk/events"
	"github.com/kagent-dev/supportagent/pkg/adk/llm"
	"github.com/kagent-dev/supportagent/pkg/adk/policy"
	"github.com/kagent-dev/supportagent/pkg/adk/session"
)

const (
	MaxRounds     = 10 // Default cap on engine rounds per user message
	tracerName    = "github.com/kagent-dev/supportagent/pkg/adk/executor"
	rephraseReply = "Sorry, I could not make sense of that. Could you rephrase your request?"
	fallbackReply = "Sorry, I was unable to finish handling your request. Please try again or contact a human agent."
)

// ErrMaxRounds is returned when the engine keeps requesting actions past the
// round cap. The turn still ends with a fallback assistant message.
var ErrMaxRounds = errors.New("maximum engine rounds exceeded")

// Result is the outcome of one user message.
type Result struct {
	Message string
	Rounds  int
	// Turns are the transcript entries this message appended.
	Turns []session.Turn
}

// Orchestrator drives the engine loop for one session at a time. It holds no
// per-session state and may be shared.
type Orchestrator struct {
	catalog     *catalog.Catalog
	engine      llm.Client
	backend     backend.Backend
	instruction string
	maxRounds   int

	engineTimeout    time.Duration
	backendTimeout   time.Duration
	knowledgeTimeout time.Duration

	metrics *Metrics
	tracer  trace.Tracer
	log     logr.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithInstruction replaces the system instruction.
func WithInstruction(s string) Option { return func(o *Orchestrator) { o.instruction = s } }

// WithMaxRounds sets the round cap. Values below one keep the default.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithTimeouts bounds each call into the engine, the backend and the
// knowledge store. Zero leaves a call unbounded.
func WithTimeouts(engine, backend, knowledge time.Duration) Option {
	return func(o *Orchestrator) {
		o.engineTimeout = engine
		o.backendTimeout = backend
		o.knowledgeTimeout = knowledge
	}
}

// WithMetrics records prometheus metrics.
func WithMetrics(m *Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithTracerProvider sets where spans go. Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) { o.tracer = tp.Tracer(tracerName) }
}

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option { return func(o *Orchestrator) { o.log = l } }

// New creates an orchestrator over a published catalog.
func New(cat *catalog.Catalog, engine llm.Client, b backend.Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		catalog:     cat,
		engine:      engine,
		backend:     b,
		instruction: DefaultInstruction,
		maxRounds:   MaxRounds,
		tracer:      otel.Tracer(tracerName),
		log:         logr.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	return o
}

// Run handles one user message: it loops engine rounds, dispatching every
// action request in order, until the engine produces a final message. A
// single failing action is reported back to the engine and does not end the
// loop. sink may be nil.
func (o *Orchestrator) Run(ctx context.Context, sess *session.Session, message string, sink events.Sink) (*Result, error) {
	if sink == nil {
		sink = events.Discard
	}
	if err := sess.Acquire(ctx); err != nil {
		return nil, err
	}
	defer sess.Release()

	ctx, span := o.tracer.Start(ctx, "orchestrator.turn", trace.WithAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("principal", sess.Principal.Identity),
	))
	defer span.End()
	ctx = auth.ContextWithCredential(ctx, sess.Credential)

	log := o.log.WithValues("session", sess.ID)
	state := sess.State
	startSeq := state.Len()
	first := state.LastRound() + 1

	if _, err := state.AppendUser(first, message); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeExecutorFailed, "failed to record user message", err)
	}
	o.emit(sink, sess, &events.Event{Type: events.TypeStart, Round: first, Content: message})

	result := &Result{}
	finish := func(msg string, err error) (*Result, error) {
		result.Message = msg
		result.Turns = state.Since(startSeq)
		o.metrics.Rounds.Observe(float64(result.Rounds))
		switch {
		case err != nil:
			o.metrics.Turns.WithLabelValues("error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.emit(sink, sess, &events.Event{Type: events.TypeError, Error: errorInfo(err)})
		default:
			o.metrics.Turns.WithLabelValues("completed").Inc()
		}
		if msg != "" {
			o.emit(sink, sess, &events.Event{Type: events.TypeComplete, Content: msg})
		}
		return result, err
	}

	tools := llm.ToolsFromCatalog(o.catalog)
	for i := 0; i < o.maxRounds; i++ {
		round := first + i
		if err := ctx.Err(); err != nil {
			log.Info("Turn abandoned between rounds", "round", round)
			return finish("", err)
		}
		result.Rounds = i + 1

		decision, err := o.generate(ctx, llm.Input{Instruction: o.instruction, Turns: state.Turns(), Tools: tools})
		if errors.Is(err, llm.ErrMalformedOutput) {
			log.Info("Engine output unusable, asking user to rephrase", "round", round, "error", err.Error())
			if _, aerr := state.AppendAssistant(round, rephraseReply); aerr != nil {
				return finish("", aerr)
			}
			return finish(rephraseReply, nil)
		}
		if err != nil {
			return finish("", fmt.Errorf("engine failed in round %d: %w", round, err))
		}

		if decision.Message != "" {
			if _, err := state.AppendAssistant(round, decision.Message); err != nil {
				return finish("", err)
			}
			o.emit(sink, sess, &events.Event{Type: events.TypeContent, Round: round, Content: decision.Message})
		}
		if decision.Final() {
			return finish(decision.Message, nil)
		}

		for _, req := range assignIDs(decision.Requests) {
			if err := o.dispatch(ctx, sess, round, req, sink); err != nil {
				return finish("", err)
			}
		}
	}

	log.Info("Round cap reached", "maxRounds", o.maxRounds)
	if _, err := state.AppendAssistant(first+o.maxRounds-1, fallbackReply); err != nil {
		return finish("", err)
	}
	return finish(fallbackReply, ErrMaxRounds)
}

func (o *Orchestrator) generate(ctx context.Context, in llm.Input) (*llm.Decision, error) {
	ctx, span := o.tracer.Start(ctx, "engine.generate", trace.WithAttributes(attribute.String("model", o.engine.ModelName())))
	defer span.End()
	ctx, cancel := withTimeout(ctx, o.engineTimeout)
	defer cancel()

	start := time.Now()
	d, err := o.engine.Generate(ctx, in)
	o.metrics.EngineLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if d == nil {
		return nil, llm.ErrMalformedOutput
	}
	return d, nil
}

// assignIDs fills in missing correlation ids. A repeated id within one round
// cannot be matched to a single result, so the repeat is treated as
// unparseable under a fresh id.
func assignIDs(reqs []llm.ActionRequest) []llm.ActionRequest {
	out := make([]llm.ActionRequest, 0, len(reqs))
	seen := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		id := r.ID()
		switch {
		case id == "":
			r = llm.WithID(r, uuid.NewString())
		case seen[id]:
			r = llm.UnparseableRequest{
				CorrelationID: uuid.NewString(),
				Name:          r.ActionName(),
				Reason:        fmt.Sprintf("duplicate correlation id %q", id),
			}
		}
		seen[r.ID()] = true
		out = append(out, r)
	}
	return out
}

// dispatch records one request, executes it and records its result. Only
// transcript failures are returned; action failures become error results.
func (o *Orchestrator) dispatch(ctx context.Context, sess *session.Session, round int, req llm.ActionRequest, sink events.Sink) error {
	call := session.ActionCall{CorrelationID: req.ID(), Name: req.ActionName()}
	switch r := req.(type) {
	case llm.KnownAction:
		call.Arguments = r.Arguments
	case llm.UnparseableRequest:
		call.Raw = r.Raw
	}
	if _, err := sess.State.AppendRequest(round, call); err != nil {
		return apperrors.New(apperrors.ErrCodeExecutorFailed, "failed to record action request", err)
	}
	o.emit(sink, sess, &events.Event{
		Type:          events.TypeActionRequest,
		Round:         round,
		CorrelationID: call.CorrelationID,
		Action:        call.Name,
		Arguments:     call.Arguments,
	})

	payload, err := o.execute(ctx, sess, req)

	res := session.ActionResult{CorrelationID: call.CorrelationID, Action: call.Name}
	ev := &events.Event{Type: events.TypeActionResult, Round: round, CorrelationID: call.CorrelationID, Action: call.Name}
	outcome := "success"
	if err != nil {
		d := apperrors.Describe(err)
		res.Error = &d
		ev.Error = &events.ErrorInfo{Code: d.Code, Category: string(d.Category), Message: d.Message}
		outcome = d.Code
		o.log.Info("Action failed", "session", sess.ID, "action", call.Name, "correlationID", call.CorrelationID, "code", d.Code, "error", d.Message)
	} else {
		res.Success = true
		res.Payload = payload
		ev.Payload = payload
	}
	o.metrics.Actions.WithLabelValues(metricAction(o.catalog, call.Name), outcome).Inc()

	if _, err := sess.State.AppendResult(round, res); err != nil {
		return apperrors.New(apperrors.ErrCodeExecutorFailed, "failed to record action result", err)
	}
	o.emit(sink, sess, ev)
	return nil
}

// execute runs the validate, authorize, gate and dispatch pipeline for one request.
func (o *Orchestrator) execute(ctx context.Context, sess *session.Session, req llm.ActionRequest) (map[string]any, error) {
	var action llm.KnownAction
	switch r := req.(type) {
	case llm.UnparseableRequest:
		return nil, &apperrors.UnparseableRequestError{Name: r.Name, Reason: r.Reason}
	case llm.KnownAction:
		action = r
	default:
		return nil, &apperrors.UnparseableRequestError{Name: req.ActionName(), Reason: "unsupported request"}
	}

	schema, ok := o.catalog.Lookup(action.Name)
	if !ok {
		return nil, &apperrors.UnknownActionError{Name: action.Name}
	}
	args, err := o.catalog.Validate(action.Name, action.Arguments)
	if err != nil {
		return nil, err
	}
	if d := auth.Authorize(o.log, sess.Principal, schema.RequiredScope); !d.Allowed {
		return nil, d.Err()
	}

	if schema.Kind == catalog.KindPolicyQuery {
		return o.queryPolicy(ctx, sess, args)
	}

	if schema.Sensitive {
		d, err := sess.Gatekeeper.Check(ctx, schema, args, action.CorrelationID)
		o.recordGate(schema.Name, d, err)
		if err != nil {
			return nil, err
		}
	}

	payload, err := o.callBackend(ctx, sess, schema, args)
	if err != nil {
		var unavailable *apperrors.BackendUnavailableError
		if errors.As(err, &unavailable) && unavailable.OutcomeUnknown {
			o.log.Info("AUDIT non-idempotent action outcome unknown",
				"session", sess.ID, "identity", sess.Principal.Identity,
				"action", schema.Name, "correlationID", action.CorrelationID, "args", args)
			if schema.Sensitive {
				sess.Gatekeeper.Complete(schema, args, action.CorrelationID)
			}
		}
		return nil, err
	}
	if schema.Sensitive {
		sess.Gatekeeper.Complete(schema, args, action.CorrelationID)
	}
	return payload, nil
}

func (o *Orchestrator) queryPolicy(ctx context.Context, sess *session.Session, args map[string]any) (map[string]any, error) {
	ctx, span := o.tracer.Start(ctx, "knowledge.query")
	defer span.End()
	ctx, cancel := withTimeout(ctx, o.knowledgeTimeout)
	defer cancel()

	text, _ := args["query"].(string)
	topic, _ := args["topic"].(string)
	entry, err := sess.Gatekeeper.Query(ctx, text, topic)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("snippets", len(entry.Snippets)))

	snippets := make([]any, 0, len(entry.Snippets))
	for _, s := range entry.Snippets {
		snippets = append(snippets, map[string]any{
			"document_id": s.DocumentID,
			"text":        s.Text,
			"score":       s.Score,
		})
	}
	payload := map[string]any{"query_seq": entry.Seq, "snippets": snippets}
	if len(snippets) == 0 {
		payload["message"] = "No relevant policy found."
	}
	return payload, nil
}

func (o *Orchestrator) callBackend(ctx context.Context, sess *session.Session, schema catalog.ActionSchema, args map[string]any) (map[string]any, error) {
	ctx, span := o.tracer.Start(ctx, "backend.execute", trace.WithAttributes(attribute.String("action", schema.Name)))
	defer span.End()
	ctx, cancel := withTimeout(ctx, o.backendTimeout)
	defer cancel()

	payload, err := o.backend.Execute(ctx, schema.Name, args, sess.Principal)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return payload, nil
}

func (o *Orchestrator) recordGate(action string, d policy.Decision, err error) {
	state, verdict := d.State, d.Verdict
	var notSatisfied *policy.PolicyGateNotSatisfiedError
	if errors.As(err, &notSatisfied) {
		state, verdict = notSatisfied.State, notSatisfied.Verdict
	}
	if verdict == "" {
		verdict = "NONE"
	}
	o.metrics.GateVerdicts.WithLabelValues(action, string(state), string(verdict)).Inc()
}

func (o *Orchestrator) emit(sink events.Sink, sess *session.Session, e *events.Event) {
	e.SessionID = sess.ID
	e.Timestamp = time.Now()
	sink.Emit(e)
}

func errorInfo(err error) *events.ErrorInfo {
	d := apperrors.Describe(err)
	return &events.ErrorInfo{Code: d.Code, Category: string(d.Category), Message: d.Message}
}

// metricAction bounds label cardinality: names outside the catalog share one label.
func metricAction(cat *catalog.Catalog, name string) string {
	if _, ok := cat.Lookup(name); ok {
		return name
	}
	return "unknown"
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
