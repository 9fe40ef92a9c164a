package action_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	automation "github.com/Nine-Minds/alga-psa-sub020"
	"github.com/Nine-Minds/alga-psa-sub020/action"
	"github.com/Nine-Minds/alga-psa-sub020/id"
)

func TestRegisterAndInvoke(t *testing.T) {
	reg := action.NewRegistry()
	reg.Register("send-email", func(_ context.Context, call *action.Call) (map[string]any, error) {
		return map[string]any{"to": call.Input["to"], "sent": true}, nil
	})

	out, err := reg.Invoke(context.Background(), &action.Call{
		Tenant: "acme",
		RunID:  id.NewRunID(),
		StepID: "notify",
		Name:   "send-email",
		Input:  map[string]any{"to": "sam@example.com"},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out["sent"] != true || out["to"] != "sam@example.com" {
		t.Errorf("output = %v", out)
	}
}

func TestInvokeUnknownAction(t *testing.T) {
	reg := action.NewRegistry()

	_, err := reg.Invoke(context.Background(), &action.Call{Name: "missing"})
	if !errors.Is(err, automation.ErrActionNotFound) {
		t.Fatalf("Invoke = %v, want ErrActionNotFound", err)
	}
}

func TestRegisterReplacesHandler(t *testing.T) {
	reg := action.NewRegistry()
	reg.Register("greet", func(context.Context, *action.Call) (map[string]any, error) {
		return map[string]any{"v": 1}, nil
	})
	reg.Register("greet", func(context.Context, *action.Call) (map[string]any, error) {
		return map[string]any{"v": 2}, nil
	})

	out, err := reg.Invoke(context.Background(), &action.Call{Name: "greet"})
	if err != nil || out["v"] != 2 {
		t.Fatalf("Invoke = %v, %v", out, err)
	}
}

func TestRegisterTyped(t *testing.T) {
	type emailInput struct {
		To       string `json:"to"`
		Priority int    `json:"priority"`
	}

	reg := action.NewRegistry()
	action.RegisterTyped(reg, "send-email", func(_ context.Context, _ *action.Call, in emailInput) (map[string]any, error) {
		return map[string]any{"to": in.To, "priority": in.Priority}, nil
	})

	out, err := reg.Invoke(context.Background(), &action.Call{
		Name:  "send-email",
		Input: map[string]any{"to": "sam@example.com", "priority": 3},
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out["to"] != "sam@example.com" || out["priority"] != 3 {
		t.Errorf("output = %v", out)
	}

	// Inputs that cannot decode into the typed struct fail the call.
	_, err = reg.Invoke(context.Background(), &action.Call{
		Name:  "send-email",
		Input: map[string]any{"priority": "high"},
	})
	if err == nil {
		t.Fatal("mistyped input accepted")
	}
}

func TestNames(t *testing.T) {
	reg := action.NewRegistry()
	reg.Register("beta", func(context.Context, *action.Call) (map[string]any, error) { return nil, nil })
	reg.Register("alpha", func(context.Context, *action.Call) (map[string]any, error) { return nil, nil })

	names := reg.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "alpha" || names[1] != "beta" {
		t.Errorf("names = %v", names)
	}
}
