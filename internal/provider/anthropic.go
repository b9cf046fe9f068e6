package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/cexll/agentsdk-go/pkg/model"
)

const defaultMaxTokens = 4096

// AnthropicConfig wires an anthropic-sdk-go client into the Completer interface.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	System    string
	MaxTokens int
}

type anthropicMessages interface {
	New(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

// Anthropic talks to the Messages API.
type Anthropic struct {
	msgs      anthropicMessages
	model     string
	system    string
	maxTokens int
}

// NewAnthropic constructs an Anthropic-backed Completer. The client makes a
// single attempt per call.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic: api key required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	client := anthropicsdk.NewClient(opts...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Anthropic{
		msgs:      &client.Messages,
		model:     strings.TrimSpace(cfg.Model),
		system:    strings.TrimSpace(cfg.System),
		maxTokens: maxTokens,
	}, nil
}

// Complete issues one Messages.New call.
func (a *Anthropic) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	system, msgs := convertAnthropicMessages(req.Messages, a.system, req.System)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}
	name := a.model
	if override := strings.TrimSpace(req.Model); override != "" {
		name = override
	}
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(name),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if system != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		defs, err := convertAnthropicTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = defs
	}

	msg, err := a.msgs.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: create message: %w", err)
	}
	return convertAnthropicResponse(msg)
}

func convertAnthropicMessages(msgs []model.Message, defaults ...string) (string, []anthropicsdk.MessageParam) {
	var system []string
	for _, s := range defaults {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			system = append(system, trimmed)
		}
	}

	out := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case "system":
			if trimmed := strings.TrimSpace(msg.Content); trimmed != "" {
				system = append(system, trimmed)
			}
		case "assistant":
			var blocks []anthropicsdk.ContentBlockParamUnion
			if strings.TrimSpace(msg.Content) != "" {
				blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				args := call.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(call.ID, args, call.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropicsdk.NewAssistantMessage(blocks...))
			}
		case "tool":
			blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropicsdk.NewToolResultBlock(call.ID, call.Result, toolResultFailed(call.Result)))
			}
			if len(blocks) > 0 {
				out = append(out, anthropicsdk.NewUserMessage(blocks...))
			}
		default:
			text := msg.Content
			if strings.TrimSpace(text) == "" {
				text = "."
			}
			out = append(out, anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(text)))
		}
	}
	return strings.Join(system, "\n\n"), out
}

// toolResultFailed reports whether a result payload carries an error key.
func toolResultFailed(raw string) bool {
	_, failed := decodeToolResult(raw)["error"]
	return failed
}

func convertAnthropicTools(defs []model.ToolDefinition) ([]anthropicsdk.ToolUnionParam, error) {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		schema := anthropicsdk.ToolInputSchemaParam{}
		if len(def.Parameters) > 0 {
			data, err := json.Marshal(def.Parameters)
			if err != nil {
				return nil, fmt.Errorf("anthropic: tool %s schema: %w", name, err)
			}
			if err := json.Unmarshal(data, &schema); err != nil {
				return nil, fmt.Errorf("anthropic: tool %s schema: %w", name, err)
			}
		}
		tool := anthropicsdk.ToolParam{Name: name, InputSchema: schema}
		if def.Description != "" {
			tool.Description = anthropicsdk.String(def.Description)
		}
		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &tool})
	}
	return out, nil
}

func convertAnthropicResponse(msg *anthropicsdk.Message) (*model.Response, error) {
	if msg == nil {
		return nil, errors.New("anthropic: empty response")
	}
	out := model.Message{Role: "assistant"}
	var text []string
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			var args map[string]any
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, fmt.Errorf("anthropic: decode %s input: %w", block.Name, err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, model.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		case "text":
			text = append(text, block.Text)
		}
	}
	out.Content = strings.Join(text, "")

	in := int(msg.Usage.InputTokens)
	outTokens := int(msg.Usage.OutputTokens)
	return &model.Response{
		Message: out,
		Usage: model.Usage{
			InputTokens:  in,
			OutputTokens: outTokens,
			TotalTokens:  in + outTokens,
		},
		StopReason: string(msg.StopReason),
	}, nil
}
