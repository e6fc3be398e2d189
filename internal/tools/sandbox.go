package tools

import (
	"context"
	"fmt"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/model"
	"github.com/promptlyagentai/promptlyagent-sub003/internal/sandbox"
)

// CodeSandbox executes Python snippets in an isolated container. Timeouts
// come from the caller's context; the sandbox itself enforces resource caps.
type CodeSandbox struct {
	manager *sandbox.Manager
}

func NewCodeSandbox(manager *sandbox.Manager) *CodeSandbox {
	return &CodeSandbox{manager: manager}
}

func (c *CodeSandbox) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "code_sandbox",
		Description: "Run a Python script in an isolated sandbox without network access. Returns stdout, stderr and the exit code.",
		InputSchema: objectSchema(map[string]any{
			"code": map[string]any{
				"type":        "string",
				"description": "Python source to execute as main.py",
			},
		}, "code"),
	}
}

func (c *CodeSandbox) Run(ctx context.Context, args, cfg map[string]any) (*Result, error) {
	code := argString(args, "code")
	if code == "" {
		return nil, fmt.Errorf("code is required")
	}

	spec := sandbox.RunSpec{
		Image:   argString(cfg, "image"),
		Command: []string{"python", "main.py"},
		Files:   map[string][]byte{"main.py": []byte(code)},
	}

	out, err := c.manager.Run(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("sandbox run: %w", err)
	}

	count := 0
	if out.ExitCode == 0 {
		count = 1
	}

	return &Result{Payload: out, Count: count, HasCount: true}, nil
}
