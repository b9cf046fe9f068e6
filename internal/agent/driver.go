// Package agent drives the conversation between the user prompt, the model
// service and the local tool dispatcher.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/stellarlinkco/sandclaw/internal/tools"
)

var (
	ErrEmptyPrompt   = errors.New("prompt is empty")
	ErrMissingUsage  = errors.New("usage metadata not found")
	ErrMaxIterations = errors.New("max iterations reached without a final response")
)

// Completer is the model service as seen by the driver.
type Completer interface {
	Complete(ctx context.Context, req model.Request) (*model.Response, error)
}

// Recorder receives a trace of each run. Recording failures are logged and
// never abort the conversation.
type Recorder interface {
	RecordTurn(usage model.Usage) error
	RecordCall(turn int, call model.ToolCall, res tools.Result) error
}

// Options configures a Driver.
type Options struct {
	Model        string
	SystemPrompt string
	// MaxIterations bounds model round trips. One means a single request
	// whose tool results are printed but never sent back.
	MaxIterations int
	Verbose       bool
	Output        io.Writer
	Logger        *slog.Logger
	Recorder      Recorder
}

// Driver runs one prompt to completion.
type Driver struct {
	model      Completer
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	opts       Options
}

// New creates a Driver.
func New(m Completer, reg *tools.Registry, dispatcher *tools.Dispatcher, opts Options) *Driver {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 1
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Driver{model: m, registry: reg, dispatcher: dispatcher, opts: opts}
}

// Run sends prompt to the model and handles its replies. Tool-level
// failures are reported to the model as text; only structural problems
// are returned.
func (d *Driver) Run(ctx context.Context, prompt string) error {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ErrEmptyPrompt
	}
	out := d.opts.Output
	if d.opts.Verbose {
		fmt.Fprintf(out, "User prompt: %s\n", prompt)
	}

	temperature := 0.0
	messages := []model.Message{{Role: "user", Content: prompt}}
	defs := d.registry.Definitions()

	for i := 1; ; i++ {
		resp, err := d.model.Complete(ctx, model.Request{
			Messages:    messages,
			System:      d.opts.SystemPrompt,
			Tools:       defs,
			Temperature: &temperature,
			Model:       d.opts.Model,
		})
		if err != nil {
			return fmt.Errorf("generate content: %w", err)
		}
		if resp == nil || (resp.Usage.InputTokens == 0 && resp.Usage.OutputTokens == 0) {
			return ErrMissingUsage
		}
		if rec := d.opts.Recorder; rec != nil {
			if err := rec.RecordTurn(resp.Usage); err != nil {
				d.opts.Logger.Warn("record turn failed", "err", err)
			}
		}
		d.opts.Logger.Debug("model turn", "iteration", i, "stop_reason", resp.StopReason, "tool_calls", len(resp.Message.ToolCalls))
		if d.opts.Verbose {
			fmt.Fprintf(out, "Prompt tokens: %d\n", resp.Usage.InputTokens)
			fmt.Fprintf(out, "Response tokens: %d\n", resp.Usage.OutputTokens)
		}

		calls := resp.Message.ToolCalls
		if len(calls) == 0 {
			fmt.Fprintln(out, "Response:")
			fmt.Fprintln(out, resp.Message.Content)
			return nil
		}

		singleShot := d.opts.MaxIterations == 1
		results := d.dispatchAll(ctx, i, calls, d.opts.Verbose || singleShot)
		if singleShot {
			return nil
		}
		if i >= d.opts.MaxIterations {
			return fmt.Errorf("%w (%d)", ErrMaxIterations, d.opts.MaxIterations)
		}

		assistant := resp.Message
		assistant.Role = "assistant"
		messages = append(messages, assistant, model.Message{Role: "tool", ToolCalls: results})
	}
}

func (d *Driver) dispatchAll(ctx context.Context, turn int, calls []model.ToolCall, show bool) []model.ToolCall {
	results := make([]model.ToolCall, 0, len(calls))
	for _, call := range calls {
		res := d.dispatcher.Dispatch(ctx, call)
		if rec := d.opts.Recorder; rec != nil {
			if err := rec.RecordCall(turn, call, res); err != nil {
				d.opts.Logger.Warn("record call failed", "tool", res.Name, "err", err)
			}
		}
		payload := encodePayload(res)
		if show {
			fmt.Fprintf(d.opts.Output, "-> %s\n", payload)
		}
		call.Result = payload
		results = append(results, call)
	}
	return results
}

func encodePayload(res tools.Result) string {
	data, err := json.Marshal(res.Payload())
	if err != nil {
		return res.String()
	}
	return string(data)
}
