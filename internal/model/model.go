// Package model defines the provider-neutral chat completion surface used by
// the engine. Provider adapters (anthropic, openai) translate these types to
// their SDK equivalents.
package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrStreamingUnsupported is returned by Stream when the underlying client
// only supports blocking completions. Callers fall back to Complete.
var ErrStreamingUnsupported = errors.New("streaming not supported by this client")

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolDefinition describes a tool offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Message is one turn of a conversation. Tool results set Role to RoleTool
// along with the call ID and tool name they answer.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// UserMessage returns a plain user message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantMessage returns a plain assistant message.
func AssistantMessage(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// ToolResultMessage returns a tool result answering the given call.
func ToolResultMessage(callID, name, content string, isError bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		Name:       name,
		ToolCallID: callID,
		IsError:    isError,
	}
}

// Request is a single completion request.
type Request struct {
	Model       string           `json:"model"`
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature float32          `json:"temperature,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
}

// Usage reports token consumption for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the model's reply. ToolCalls is non-empty when the model asked
// for tool invocations instead of (or alongside) text.
type Response struct {
	Text       string     `json:"text"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
	Usage      Usage      `json:"usage"`
}

// Chunk is an incremental piece of streamed output.
type Chunk struct {
	Text string `json:"text"`
}

// Client is a chat completion provider.
type Client interface {
	// Complete runs a blocking completion.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream runs a completion delivering incremental chunks through fn and
	// returns the final response. Implementations that cannot stream return
	// ErrStreamingUnsupported.
	Stream(ctx context.Context, req Request, fn func(Chunk)) (*Response, error)
}

// Registry maps provider names to clients and resolves model references of
// the form "provider/model-id".
type Registry struct {
	mu         sync.RWMutex
	clients    map[string]Client
	defaultRef string
}

func NewRegistry(defaultRef string) *Registry {
	return &Registry{
		clients:    make(map[string]Client),
		defaultRef: defaultRef,
	}
}

// Register adds or replaces the client for a provider name.
func (r *Registry) Register(provider string, c Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[provider] = c
}

// Default returns the registry's default model reference.
func (r *Registry) Default() string {
	return r.defaultRef
}

// Providers returns the registered provider names.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}

// Resolve splits a "provider/model-id" reference and returns the provider's
// client along with the bare model ID. An empty ref resolves to the default.
func (r *Registry) Resolve(ref string) (Client, string, error) {
	if ref == "" {
		ref = r.defaultRef
	}

	provider, modelID, ok := strings.Cut(ref, "/")
	if !ok || provider == "" || modelID == "" {
		return nil, "", fmt.Errorf("invalid model reference %q, want provider/model-id", ref)
	}

	r.mu.RLock()
	c, exists := r.clients[provider]
	r.mu.RUnlock()
	if !exists {
		return nil, "", fmt.Errorf("unknown model provider %q", provider)
	}

	return c, modelID, nil
}
