package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

const (
	roleUser  = "user"
	roleModel = "model"
)

// GeminiConfig wires a genai client into the Completer interface.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	System  string
}

type geminiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini talks to the Gemini API.
type Gemini struct {
	models geminiModels
	model  string
	system string
}

// NewGemini constructs a Gemini-backed Completer.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini: api key required")
	}
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Gemini{
		models: client.Models,
		model:  strings.TrimSpace(cfg.Model),
		system: strings.TrimSpace(cfg.System),
	}, nil
}

// Complete issues a GenerateContent call. Missing usage metadata is left as
// a zero Usage for the caller to judge.
func (g *Gemini) Complete(ctx context.Context, req model.Request) (*model.Response, error) {
	system, contents := convertGeminiMessages(req.Messages, g.system, req.System)

	gcfg := &genai.GenerateContentConfig{}
	if system != "" {
		gcfg.SystemInstruction = &genai.Content{Role: roleUser, Parts: []*genai.Part{{Text: system}}}
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		gcfg.Temperature = &t
	}
	if len(req.Tools) > 0 {
		gcfg.Tools = []*genai.Tool{{FunctionDeclarations: convertGeminiTools(req.Tools)}}
	}

	name := g.model
	if override := strings.TrimSpace(req.Model); override != "" {
		name = override
	}
	resp, err := g.models.GenerateContent(ctx, name, contents, gcfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	return convertGeminiResponse(resp)
}

func convertGeminiMessages(msgs []model.Message, defaults ...string) (string, []*genai.Content) {
	var system []string
	for _, s := range defaults {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			system = append(system, trimmed)
		}
	}

	contents := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case "system":
			if trimmed := strings.TrimSpace(msg.Content); trimmed != "" {
				system = append(system, trimmed)
			}
		case "assistant":
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: call.Arguments,
				}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: roleModel, Parts: parts})
			}
		case "tool":
			parts := make([]*genai.Part, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       call.ID,
					Name:     call.Name,
					Response: decodeToolResult(call.Result),
				}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: roleUser, Parts: parts})
			}
		default:
			contents = append(contents, &genai.Content{Role: roleUser, Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}
	return strings.Join(system, "\n\n"), contents
}

// decodeToolResult unpacks a JSON object result, wrapping anything else.
func decodeToolResult(raw string) map[string]any {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			return obj
		}
	}
	return map[string]any{"result": raw}
}

func convertGeminiTools(defs []model.ToolDefinition) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}
		decl := &genai.FunctionDeclaration{
			Name:        name,
			Description: def.Description,
		}
		if len(def.Parameters) > 0 {
			decl.Parameters = convertGeminiSchema(def.Parameters)
		}
		decls = append(decls, decl)
	}
	return decls
}

func convertGeminiSchema(raw map[string]any) *genai.Schema {
	s := &genai.Schema{}
	if t, ok := raw["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := raw["description"].(string); ok {
		s.Description = d
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for key, val := range props {
			if child, ok := val.(map[string]any); ok {
				s.Properties[key] = convertGeminiSchema(child)
			}
		}
	}
	if items, ok := raw["items"].(map[string]any); ok {
		s.Items = convertGeminiSchema(items)
	}
	switch req := raw["required"].(type) {
	case []string:
		if len(req) > 0 {
			s.Required = append([]string(nil), req...)
		}
	case []any:
		for _, item := range req {
			if name, ok := item.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	return s
}

func convertGeminiResponse(resp *genai.GenerateContentResponse) (*model.Response, error) {
	if resp == nil {
		return nil, errors.New("gemini: empty response")
	}
	msg := model.Message{Role: "assistant"}
	var stop string
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		cand := resp.Candidates[0]
		stop = string(cand.FinishReason)
		if cand.Content != nil {
			var text []string
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				if fc := part.FunctionCall; fc != nil {
					id := fc.ID
					if id == "" {
						id = uuid.NewString()
					}
					msg.ToolCalls = append(msg.ToolCalls, model.ToolCall{ID: id, Name: fc.Name, Arguments: fc.Args})
					continue
				}
				if part.Text != "" && !part.Thought {
					text = append(text, part.Text)
				}
			}
			msg.Content = strings.Join(text, "")
		}
	}

	out := &model.Response{Message: msg, StopReason: stop}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = model.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out, nil
}
