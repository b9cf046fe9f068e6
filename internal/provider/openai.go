package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIConfig wires an openai-go client into the Completer interface.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	System    string
	MaxTokens int
}

type openaiCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAI talks to the Chat Completions API.
type OpenAI struct {
	completions openaiCompletions
	model       string
	system      string
	maxTokens   int
}

// NewOpenAI constructs an OpenAI-backed Completer. The client makes a single
// attempt per call.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key required")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	client := openai.NewClient(opts...)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAI{
		completions: &client.Chat.Completions,
		model:       strings.TrimSpace(cfg.Model),
		system:      strings.TrimSpace(cfg.System),
		maxTokens:   maxTokens,
	}, nil
}

// Complete issues one Chat.Completions.New call.
func (o *OpenAI) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = o.maxTokens
	}
	name := o.model
	if override := strings.TrimSpace(req.Model); override != "" {
		name = override
	}
	params := openai.ChatCompletionNewParams{
		Model:               name,
		Messages:            convertOpenAIMessages(req.Messages, o.system, req.System),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = convertOpenAITools(req.Tools)
	}

	completion, err := o.completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: create completion: %w", err)
	}
	return convertOpenAIResponse(completion)
}

func convertOpenAIMessages(msgs []model.Message, defaults ...string) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, s := range defaults {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, openai.SystemMessage(trimmed))
		}
	}
	for _, msg := range msgs {
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case "system":
			if trimmed := strings.TrimSpace(msg.Content); trimmed != "" {
				out = append(out, openai.SystemMessage(trimmed))
			}
		case "assistant":
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, call := range msg.ToolCalls {
				args, _ := json.Marshal(call.Arguments) //nolint:errcheck
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case "tool":
			for _, call := range msg.ToolCalls {
				out = append(out, openai.ToolMessage(call.Result, call.ID))
			}
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func convertOpenAITools(defs []model.ToolDefinition) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		params := shared.FunctionParameters{"type": "object"}
		for k, v := range def.Parameters {
			params[k] = v
		}
		tool := openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{Name: name, Parameters: params},
		}
		if def.Description != "" {
			tool.Function.Description = openai.String(def.Description)
		}
		out = append(out, tool)
	}
	return out
}

func convertOpenAIResponse(completion *openai.ChatCompletion) (*model.Response, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return nil, errors.New("openai: empty response")
	}
	choice := completion.Choices[0]
	msg := model.Message{Role: "assistant", Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if raw := strings.TrimSpace(tc.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("openai: decode %s arguments: %w", tc.Function.Name, err)
			}
		}
		msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return &model.Response{
		Message: msg,
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
		StopReason: choice.FinishReason,
	}, nil
}
