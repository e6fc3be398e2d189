package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrTimeout marks a run that exceeded its binding's execution budget.
var ErrTimeout = errors.New("tool execution timed out")

// Outcome is the full record of one tool execution attempt.
type Outcome struct {
	Result   *Result
	Err      error
	TimedOut bool
	Cached   bool
	Duration time.Duration
}

// Executor runs tools with per-call timeouts and caches successful results,
// so a model that repeats an identical call gets the stored result instead of
// a second network round trip. One Executor serves one turn; the cache is
// never shared across turns.
type Executor struct {
	registry *Registry

	mu    sync.Mutex
	cache map[string]*Outcome
}

func NewExecutor(registry *Registry) *Executor {
	return &Executor{
		registry: registry,
		cache:    make(map[string]*Outcome),
	}
}

// Execute runs the named tool with the given timeout. The runner keeps the
// full timeout to itself; a run that outlives it is abandoned and reported
// as timed out, while its goroutine winds down via context cancellation.
func (e *Executor) Execute(ctx context.Context, name string, args, cfg map[string]any, timeout time.Duration) *Outcome {
	runner, ok := e.registry.Get(name)
	if !ok {
		return &Outcome{Err: fmt.Errorf("unknown tool: %s", name)}
	}

	key := cacheKey(name, args)
	e.mu.Lock()
	if cached, ok := e.cache[key]; ok {
		e.mu.Unlock()
		out := *cached
		out.Cached = true
		return &out
	}
	e.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type runResult struct {
		result *Result
		err    error
	}
	done := make(chan runResult, 1)
	start := time.Now()

	go func() {
		result, err := runner.Run(rctx, args, cfg)
		done <- runResult{result, err}
	}()

	var out *Outcome
	select {
	case rr := <-done:
		out = &Outcome{
			Result:   rr.result,
			Err:      rr.err,
			Duration: time.Since(start),
		}
		if errors.Is(rr.err, context.DeadlineExceeded) && ctx.Err() == nil {
			out.TimedOut = true
			out.Err = ErrTimeout
		}
	case <-rctx.Done():
		out = &Outcome{Duration: time.Since(start)}
		if ctx.Err() != nil {
			out.Err = ctx.Err()
		} else {
			out.TimedOut = true
			out.Err = ErrTimeout
		}
	}

	if out.TimedOut {
		slog.Warn("tool timed out", "tool", name, "timeout", timeout)
	}

	// Only completed successful runs are worth replaying.
	if out.Err == nil && !out.TimedOut {
		e.mu.Lock()
		e.cache[key] = out
		e.mu.Unlock()
	}

	return out
}

// cacheKey builds a canonical key for a call. encoding/json sorts map keys,
// so semantically identical arg maps produce identical keys.
func cacheKey(name string, args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return name + "?" + fmt.Sprint(args)
	}
	return name + "?" + string(data)
}
