package chatlog

import (
	"testing"

	"github.com/google/uuid"
)

func TestFilterDisabledMatchesEverything(t *testing.T) {
	f, err := NewFilter("")
	if err != nil {
		t.Fatalf("new filter: %v", err)
	}
	if !f.Eval(Event{Index: 1, Payload: FailedToDeserialize{}}) {
		t.Fatalf("disabled filter must match")
	}
}

func TestFilterByKindAndText(t *testing.T) {
	f, err := NewFilter(`kind == "message" && text.contains("deploy")`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	match := Event{Index: 2, Timestamp: 5, Payload: &Message{
		MessageIndex: 1,
		MessageID:    uuid.New(),
		Sender:       uuid.New(),
		Content:      &TextContent{Text: "deploy finished"},
	}}
	if !f.Eval(match) {
		t.Fatalf("expected match")
	}

	miss := Event{Index: 3, Timestamp: 6, Payload: &MessagePinned{MessageIndex: 1, PinnedBy: uuid.New()}}
	if f.Eval(miss) {
		t.Fatalf("non-message event must not match")
	}
}

func TestFilterBySenderAndIndex(t *testing.T) {
	sender := uuid.New()
	f, err := NewFilter(`sender == "` + sender.String() + `" && index >= 2`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	ev := Event{Index: 2, Payload: &Message{MessageIndex: 1, Sender: sender, Content: &TextContent{Text: "x"}}}
	if !f.Eval(ev) {
		t.Fatalf("expected match")
	}
	ev.Index = 1
	if f.Eval(ev) {
		t.Fatalf("index bound ignored")
	}
}

func TestFilterRejectsBadExpression(t *testing.T) {
	if _, err := NewFilter(`kind ==`); err == nil {
		t.Fatalf("expected compile error")
	}
}
