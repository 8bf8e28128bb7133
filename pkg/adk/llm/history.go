package llm

import (
	"github.com/kagent-dev/supportagent/pkg/adk/session"
)

// unknownActionName stands in for the name of an unparseable request when it
// is replayed to a provider that requires one.
const unknownActionName = "unknown_action"

// exchange is a provider-neutral message. Assistant exchanges carry the calls
// made in one round together with their results, in call order.
type exchange struct {
	role    session.Role
	round   int
	text    string
	calls   []session.ActionCall
	results []session.ActionResult
}

// groupTurns folds the transcript into exchanges. Requests of one round join
// the assistant message of that round; each result follows its request.
func groupTurns(turns []session.Turn) []exchange {
	var out []exchange
	for _, t := range turns {
		switch t.Role {
		case session.RoleUser:
			out = append(out, exchange{role: session.RoleUser, round: t.Round, text: t.Content})
		case session.RoleAssistant:
			out = append(out, exchange{role: session.RoleAssistant, round: t.Round, text: t.Content})
		case session.RoleActionRequest:
			if t.Request == nil {
				continue
			}
			last := len(out) - 1
			if last < 0 || out[last].role != session.RoleAssistant || out[last].round != t.Round {
				out = append(out, exchange{role: session.RoleAssistant, round: t.Round})
				last++
			}
			out[last].calls = append(out[last].calls, *t.Request)
		case session.RoleActionResult:
			if t.Result == nil || len(out) == 0 {
				continue
			}
			last := len(out) - 1
			out[last].results = append(out[last].results, *t.Result)
		}
	}
	return out
}

func callName(c session.ActionCall) string {
	if c.Name == "" {
		return unknownActionName
	}
	return c.Name
}

// callArguments returns the JSON the engine sent for c.
func callArguments(c session.ActionCall) string {
	if c.Raw != "" {
		return c.Raw
	}
	if c.Arguments == nil {
		return "{}"
	}
	data, err := json.Marshal(c.Arguments)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// callArgumentMap returns c's arguments as an object, falling back to an
// empty one for unparseable requests.
func callArgumentMap(c session.ActionCall) map[string]any {
	if c.Arguments != nil {
		return c.Arguments
	}
	return map[string]any{}
}

// resultObject is the structured form of an action result fed back to the
// engine.
func resultObject(r session.ActionResult) map[string]any {
	out := map[string]any{"success": r.Success}
	if r.Success {
		out["result"] = r.Payload
		return out
	}
	if r.Error != nil {
		errObj := map[string]any{"code": r.Error.Code, "message": r.Error.Message}
		if len(r.Error.Details) > 0 {
			errObj["details"] = r.Error.Details
		}
		out["error"] = errObj
	}
	return out
}

// ResultContent renders an action result as the JSON text the engine reads.
func ResultContent(r session.ActionResult) string {
	data, err := json.Marshal(resultObject(r))
	if err != nil {
		return `{"success":false,"error":{"code":"INTERNAL","message":"result could not be encoded"}}`
	}
	return string(data)
}
