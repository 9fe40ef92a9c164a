package expr_test

import (
	"reflect"
	"testing"

	"github.com/Nine-Minds/alga-psa-sub020/expr"
)

func testScope() map[string]any {
	return map[string]any{
		"event": map[string]any{
			"name": "TICKET_CREATED",
			"payload": map[string]any{
				"ticketId": "tkt_42",
				"priority": 3,
				"tags":     []any{"vip", "billing"},
			},
		},
		"steps": map[string]any{
			"lookup-contact": map[string]any{
				"email": "sam@example.com",
			},
		},
		"tenant":         "acme",
		"correlationKey": "corr-1",
	}
}

func TestLookup(t *testing.T) {
	scope := testScope()

	tests := []struct {
		path string
		want any
		ok   bool
	}{
		{"event.payload.ticketId", "tkt_42", true},
		{"event.payload.priority", 3, true},
		{"event.payload.tags.1", "billing", true},
		{"steps.lookup-contact.email", "sam@example.com", true},
		{"event.payload.missing", nil, false},
		{"event.payload.tags.9", nil, false},
		{"event.payload.ticketId.deeper", nil, false},
		{"", nil, false},
	}

	for _, tt := range tests {
		got, ok := expr.Lookup(tt.path, scope)
		if ok != tt.ok {
			t.Errorf("Lookup(%q) ok = %v, want %v", tt.path, ok, tt.ok)
			continue
		}
		if ok && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Lookup(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestInterpolateWholeString(t *testing.T) {
	scope := testScope()

	got := expr.Interpolate("{{event.payload.priority}}", scope)
	if got != 3 {
		t.Errorf("whole-string template = %v (%T), want typed value 3", got, got)
	}

	got = expr.Interpolate("{{event.payload.missing}}", scope)
	if got != nil {
		t.Errorf("missing path = %v, want nil", got)
	}
}

func TestInterpolateEmbedded(t *testing.T) {
	scope := testScope()

	got := expr.Interpolate("ticket {{event.payload.ticketId}} for {{steps.lookup-contact.email}}", scope)
	want := "ticket tkt_42 for sam@example.com"
	if got != want {
		t.Errorf("embedded = %q, want %q", got, want)
	}

	got = expr.Interpolate("missing: [{{event.payload.nope}}]", scope)
	if got != "missing: []" {
		t.Errorf("missing embedded = %q, want empty substitution", got)
	}
}

func TestInterpolateNested(t *testing.T) {
	scope := testScope()

	input := map[string]any{
		"ticketId": "{{event.payload.ticketId}}",
		"meta": map[string]any{
			"tags": "{{event.payload.tags}}",
		},
		"static": 7,
	}

	resolved := expr.InterpolateInput(input, scope)
	if resolved["ticketId"] != "tkt_42" {
		t.Errorf("ticketId = %v", resolved["ticketId"])
	}
	meta, _ := resolved["meta"].(map[string]any)
	if meta == nil || !reflect.DeepEqual(meta["tags"], []any{"vip", "billing"}) {
		t.Errorf("nested tags = %v", resolved["meta"])
	}
	if resolved["static"] != 7 {
		t.Errorf("static = %v", resolved["static"])
	}
}

func TestMissingRequired(t *testing.T) {
	resolved := map[string]any{
		"a": "x",
		"b": nil,
	}

	missing := expr.MissingRequired(resolved, []string{"a", "b", "c"})
	if !reflect.DeepEqual(missing, []string{"b", "c"}) {
		t.Errorf("missing = %v, want [b c]", missing)
	}
	if got := expr.MissingRequired(resolved, nil); got != nil {
		t.Errorf("no required keys should yield nil, got %v", got)
	}
}

func TestEvalBool(t *testing.T) {
	ev, err := expr.NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}
	scope := testScope()

	tests := []struct {
		cond string
		want bool
	}{
		{`event.payload.priority >= 3`, true},
		{`event.payload.ticketId == "tkt_42"`, true},
		{`event.name == "TICKET_CLOSED"`, false},
		{`"vip" in event.payload.tags`, true},
		{`correlationKey == "corr-1" && tenant == "acme"`, true},
	}

	for _, tt := range tests {
		got, err := ev.EvalBool(tt.cond, scope)
		if err != nil {
			t.Errorf("EvalBool(%q): %v", tt.cond, err)
			continue
		}
		if got != tt.want {
			t.Errorf("EvalBool(%q) = %v, want %v", tt.cond, got, tt.want)
		}
	}
}

func TestEvalBoolNonBoolean(t *testing.T) {
	ev, err := expr.NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	if _, err := ev.EvalBool(`event.name`, testScope()); err == nil {
		t.Error("expected error for non-boolean condition result")
	}
}

func TestCompileRejectsBrokenCondition(t *testing.T) {
	ev, err := expr.NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	if err := ev.Compile(`event.payload. >`); err == nil {
		t.Error("expected compile error")
	}
	if err := ev.Compile(`event.payload.priority > 1`); err != nil {
		t.Errorf("valid condition rejected: %v", err)
	}
}
