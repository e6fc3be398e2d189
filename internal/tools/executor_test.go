package tools

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/model"
)

// fakeRunner adapts a function to the Runner interface for tests.
type fakeRunner struct {
	name string
	run  func(ctx context.Context, args, cfg map[string]any) (*Result, error)
}

func (f *fakeRunner) Definition() model.ToolDefinition {
	return model.ToolDefinition{Name: f.name, Description: "fake " + f.name}
}

func (f *fakeRunner) Run(ctx context.Context, args, cfg map[string]any) (*Result, error) {
	return f.run(ctx, args, cfg)
}

func TestExecuteSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeRunner{
		name: "echo",
		run: func(ctx context.Context, args, cfg map[string]any) (*Result, error) {
			return &Result{Payload: args["msg"], Count: 1, HasCount: true}, nil
		},
	})

	ex := NewExecutor(reg)
	out := ex.Execute(context.Background(), "echo", map[string]any{"msg": "hi"}, nil, time.Second)

	if out.Err != nil {
		t.Fatalf("unexpected error: %v", out.Err)
	}
	if out.TimedOut || out.Cached {
		t.Fatalf("unexpected flags: %+v", out)
	}
	if out.Result.Payload != "hi" {
		t.Errorf("expected payload hi, got %v", out.Result.Payload)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	ex := NewExecutor(NewRegistry())
	out := ex.Execute(context.Background(), "nope", nil, nil, time.Second)
	if out.Err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestExecuteTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeRunner{
		name: "slow",
		run: func(ctx context.Context, args, cfg map[string]any) (*Result, error) {
			select {
			case <-time.After(5 * time.Second):
				return &Result{}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	ex := NewExecutor(reg)
	out := ex.Execute(context.Background(), "slow", nil, nil, 20*time.Millisecond)

	if !out.TimedOut {
		t.Fatal("expected timeout")
	}
	if !errors.Is(out.Err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", out.Err)
	}
}

func TestExecuteParentCanceledIsNotTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeRunner{
		name: "slow",
		run: func(ctx context.Context, args, cfg map[string]any) (*Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	ex := NewExecutor(reg)
	out := ex.Execute(ctx, "slow", nil, nil, time.Minute)

	if out.TimedOut {
		t.Fatal("parent cancellation must not count as timeout")
	}
	if out.Err == nil {
		t.Fatal("expected error")
	}
}

func TestExecuteCachesIdenticalCalls(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry()
	reg.Register(&fakeRunner{
		name: "count",
		run: func(ctx context.Context, args, cfg map[string]any) (*Result, error) {
			calls.Add(1)
			return &Result{Payload: "v", Count: 1, HasCount: true}, nil
		},
	})

	ex := NewExecutor(reg)
	args := map[string]any{"q": "same", "n": float64(3)}

	first := ex.Execute(context.Background(), "count", args, nil, time.Second)
	if first.Cached {
		t.Fatal("first call must not be cached")
	}

	second := ex.Execute(context.Background(), "count", map[string]any{"n": float64(3), "q": "same"}, nil, time.Second)
	if !second.Cached {
		t.Fatal("identical call must hit the cache")
	}
	if second.Result.Payload != "v" {
		t.Errorf("cached payload mismatch: %v", second.Result.Payload)
	}

	third := ex.Execute(context.Background(), "count", map[string]any{"q": "different"}, nil, time.Second)
	if third.Cached {
		t.Fatal("different args must not hit the cache")
	}

	if got := calls.Load(); got != 2 {
		t.Errorf("expected 2 runner invocations, got %d", got)
	}
}

func TestExecuteErrorsNotCached(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry()
	reg.Register(&fakeRunner{
		name: "flaky",
		run: func(ctx context.Context, args, cfg map[string]any) (*Result, error) {
			if calls.Add(1) == 1 {
				return nil, fmt.Errorf("transient")
			}
			return &Result{Payload: "ok"}, nil
		},
	})

	ex := NewExecutor(reg)

	first := ex.Execute(context.Background(), "flaky", nil, nil, time.Second)
	if first.Err == nil {
		t.Fatal("expected first call to fail")
	}

	second := ex.Execute(context.Background(), "flaky", nil, nil, time.Second)
	if second.Err != nil {
		t.Fatalf("expected retry to run the tool again, got %v", second.Err)
	}
	if second.Cached {
		t.Fatal("failed outcome must not be served from cache")
	}
}

func TestRegistryDefinitions(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeRunner{name: "b", run: nil})
	reg.Register(&fakeRunner{name: "a", run: nil})

	names := reg.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("expected sorted names, got %v", names)
	}

	defs := reg.Definitions([]string{"a", "missing", "b"})
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	if reg.Describe("a") != "fake a" {
		t.Errorf("unexpected description: %s", reg.Describe("a"))
	}
}
