package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Nine-Minds/alga-psa-sub020/action"
	"github.com/Nine-Minds/alga-psa-sub020/id"
	mw "github.com/Nine-Minds/alga-psa-sub020/middleware"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCall(name string) *action.Call {
	return &action.Call{
		Tenant: "acme",
		RunID:  id.NewRunID(),
		StepID: "notify",
		Name:   name,
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) mw.Middleware {
		return func(ctx context.Context, _ *action.Call, next mw.Handler) (map[string]any, error) {
			order = append(order, name+".before")
			out, err := next(ctx)
			order = append(order, name+".after")
			return out, err
		}
	}

	chain := mw.Chain(tag("outer"), tag("inner"))
	out, err := chain(context.Background(), testCall("x"), func(context.Context) (map[string]any, error) {
		order = append(order, "handler")
		return map[string]any{"done": true}, nil
	})
	if err != nil || out["done"] != true {
		t.Fatalf("chain = %v, %v", out, err)
	}

	want := []string{"outer.before", "inner.before", "handler", "inner.after", "outer.after"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestChainEmptyRunsHandler(t *testing.T) {
	chain := mw.Chain()
	out, err := chain(context.Background(), testCall("x"), func(context.Context) (map[string]any, error) {
		return map[string]any{"ran": true}, nil
	})
	if err != nil || out["ran"] != true {
		t.Fatalf("empty chain = %v, %v", out, err)
	}
}

func TestRecoverConvertsPanic(t *testing.T) {
	rec := mw.Recover(testLogger())

	out, err := rec(context.Background(), testCall("explode"), func(context.Context) (map[string]any, error) {
		panic("kaboom")
	})
	if out != nil {
		t.Errorf("output after panic = %v", out)
	}
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("error = %v, want panic message", err)
	}
}

func TestRecoverPassesThroughErrors(t *testing.T) {
	rec := mw.Recover(testLogger())
	want := errors.New("normal failure")

	_, err := rec(context.Background(), testCall("x"), func(context.Context) (map[string]any, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want %v", err, want)
	}
}

func TestTimeoutCancelsSlowHandler(t *testing.T) {
	timeout := mw.Timeout(testLogger())
	call := testCall("slow")
	call.Timeout = 30 * time.Millisecond

	_, err := timeout(context.Background(), call, func(ctx context.Context) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
			return map[string]any{"done": true}, nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
}

func TestTimeoutZeroLeavesContextUnbounded(t *testing.T) {
	timeout := mw.Timeout(testLogger())

	out, err := timeout(context.Background(), testCall("fast"), func(ctx context.Context) (map[string]any, error) {
		if _, ok := ctx.Deadline(); ok {
			t.Error("deadline set without call timeout")
		}
		return map[string]any{"done": true}, nil
	})
	if err != nil || out["done"] != true {
		t.Fatalf("timeout = %v, %v", out, err)
	}
}

func TestLoggingPassesThrough(t *testing.T) {
	logging := mw.Logging(testLogger())

	out, err := logging(context.Background(), testCall("x"), func(context.Context) (map[string]any, error) {
		return map[string]any{"done": true}, nil
	})
	if err != nil || out["done"] != true {
		t.Fatalf("logging = %v, %v", out, err)
	}

	want := errors.New("fail")
	_, err = logging(context.Background(), testCall("x"), func(context.Context) (map[string]any, error) {
		return nil, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("error = %v, want %v", err, want)
	}
}
