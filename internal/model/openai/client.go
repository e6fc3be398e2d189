// Package openai implements model.Client on top of the OpenAI chat
// completions API via github.com/sashabaranov/go-openai.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	sdk "github.com/sashabaranov/go-openai"

	"github.com/promptlyagentai/promptlyagent-sub003/internal/model"
)

// ChatClient is the subset of the OpenAI SDK used by the adapter. It is
// satisfied by *sdk.Client and by fakes in tests.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req sdk.ChatCompletionRequest) (sdk.ChatCompletionResponse, error)
}

type Client struct {
	chat ChatClient
}

// New builds a client that authenticates with the given API key.
func New(apiKey string) *Client {
	return NewWithChat(sdk.NewClient(apiKey))
}

// NewWithChat builds a client around an existing chat completion client.
func NewWithChat(chat ChatClient) *Client {
	return &Client{chat: chat}
}

func (c *Client) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	if req.Model == "" {
		return nil, fmt.Errorf("openai: model is required")
	}

	ccr := sdk.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    encodeMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		ccr.Tools = encodeTools(req.Tools)
	}

	resp, err := c.chat.CreateChatCompletion(ctx, ccr)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: no choices in response")
	}

	return translateResponse(resp), nil
}

// Stream is not implemented for this adapter; callers fall back to Complete.
func (c *Client) Stream(ctx context.Context, req model.Request, fn func(model.Chunk)) (*model.Response, error) {
	return nil, model.ErrStreamingUnsupported
}

func encodeMessages(req model.Request) []sdk.ChatCompletionMessage {
	out := make([]sdk.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, sdk.ChatCompletionMessage{
			Role:    sdk.ChatMessageRoleSystem,
			Content: req.System,
		})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, sdk.ChatCompletionMessage{
				Role:    sdk.ChatMessageRoleSystem,
				Content: m.Content,
			})

		case model.RoleUser:
			out = append(out, sdk.ChatCompletionMessage{
				Role:    sdk.ChatMessageRoleUser,
				Content: m.Content,
			})

		case model.RoleAssistant:
			msg := sdk.ChatCompletionMessage{
				Role:    sdk.ChatMessageRoleAssistant,
				Content: m.Content,
			}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Args)
				if err != nil {
					args = []byte("{}")
				}
				msg.ToolCalls = append(msg.ToolCalls, sdk.ToolCall{
					ID:   tc.ID,
					Type: sdk.ToolTypeFunction,
					Function: sdk.FunctionCall{
						Name:      tc.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, msg)

		case model.RoleTool:
			out = append(out, sdk.ChatCompletionMessage{
				Role:       sdk.ChatMessageRoleTool,
				Content:    m.Content,
				Name:       m.Name,
				ToolCallID: m.ToolCallID,
			})
		}
	}

	return out
}

func encodeTools(defs []model.ToolDefinition) []sdk.Tool {
	out := make([]sdk.Tool, 0, len(defs))
	for _, def := range defs {
		out = append(out, sdk.Tool{
			Type: sdk.ToolTypeFunction,
			Function: &sdk.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.InputSchema,
			},
		})
	}
	return out
}

func translateResponse(resp sdk.ChatCompletionResponse) *model.Response {
	choice := resp.Choices[0]

	out := &model.Response{
		Text:       choice.Message.Content,
		StopReason: string(choice.FinishReason),
		Usage: model.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]any)
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args["raw"] = tc.Function.Arguments
			}
		}
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}

	return out
}
