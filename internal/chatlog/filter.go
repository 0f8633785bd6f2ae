package chatlog

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// Filter wraps a compiled CEL program evaluated against decoded events. When
// disabled (empty expression), Eval always returns true.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// NewFilter compiles the CEL expression. Variables:
//
//	index          event index
//	message_index  message index (0 for non-message events)
//	kind           payload kind tag
//	sender         sender id string (empty for non-message events)
//	ts_ms          event timestamp (unix ms)
//	text           message text (empty unless text content)
//	now_ms         current time (unix ms)
func NewFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("index", cel.IntType),
		cel.Variable("message_index", cel.IntType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("sender", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("text", cel.StringType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return Filter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Eval evaluates the expression against one event. Evaluation errors filter
// the event out rather than failing the scan.
func (f Filter) Eval(ev Event) bool {
	if !f.enabled {
		return true
	}
	var messageIndex int64
	var sender, text string
	if msg, ok := ev.Payload.(*Message); ok {
		messageIndex = int64(msg.MessageIndex)
		sender = msg.Sender.String()
		if tc, ok := msg.Content.(*TextContent); ok {
			text = tc.Text
		}
	}
	kind := ""
	if ev.Payload != nil {
		kind = ev.Payload.Kind()
	}
	out, _, err := f.prog.Eval(map[string]any{
		"index":         int64(ev.Index),
		"message_index": messageIndex,
		"kind":          kind,
		"sender":        sender,
		"ts_ms":         ev.Timestamp,
		"text":          text,
		"now_ms":        time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
