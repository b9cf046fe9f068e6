package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/stellarlinkco/sandclaw/internal/sandbox"
)

// SandboxRootArg is the argument key the dispatcher pins to the sandbox
// root, whatever the model sent for it.
const SandboxRootArg = "working_directory"

// Result is the outcome of one dispatched call. Exactly one of Output and
// Error is meaningful: Error is set only when no handler ran.
type Result struct {
	ID     string
	Name   string
	Output string
	Error  string
}

// Failed reports whether the call never reached a handler.
func (r Result) Failed() bool { return r.Error != "" }

// Payload is the function response sent back to the model.
func (r Result) Payload() map[string]any {
	if r.Failed() {
		return map[string]any{"error": r.Error}
	}
	return map[string]any{"result": r.Output}
}

func (r Result) String() string {
	if r.Failed() {
		return r.Error
	}
	return r.Output
}

// UnknownFunction formats the error payload for a name with no handler.
func UnknownFunction(name string) string {
	return "Unknown function: " + name
}

// Dispatcher routes tool calls to registry entries against a fixed sandbox.
type Dispatcher struct {
	registry *Registry
	fs       *sandbox.FS
	out      io.Writer
	logger   *slog.Logger
	verbose  bool
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithOutput sets where call announcements are printed.
func WithOutput(w io.Writer) DispatcherOption {
	return func(d *Dispatcher) {
		if w != nil {
			d.out = w
		}
	}
}

func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithVerbose prints full call arguments.
func WithVerbose(v bool) DispatcherOption {
	return func(d *Dispatcher) { d.verbose = v }
}

// NewDispatcher creates a dispatcher bound to fs.
func NewDispatcher(reg *Registry, fs *sandbox.FS, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		fs:       fs,
		out:      io.Discard,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs a single tool call. It never fails structurally: handler
// errors come back as descriptive output for the model to read.
func (d *Dispatcher) Dispatch(ctx context.Context, call model.ToolCall) Result {
	name := strings.TrimSpace(call.Name)
	res := Result{ID: call.ID, Name: name}
	d.announce(name, call.Arguments)

	if name == "" {
		res.Error = UnknownFunction(name)
		return res
	}
	entry, ok := d.registry.Lookup(name)
	if !ok {
		d.logger.Warn("unknown tool requested", "tool", name)
		res.Error = UnknownFunction(name)
		return res
	}

	args := make(map[string]any, len(call.Arguments)+1)
	for k, v := range call.Arguments {
		args[k] = v
	}
	args[SandboxRootArg] = d.fs.Root()

	decoded, err := entry.Decode(args)
	if err != nil {
		res.Output = "Error: " + err.Error()
		return res
	}
	out, err := decoded.Execute(ctx, d.fs)
	if err != nil {
		d.logger.Debug("tool returned error", "tool", name, "err", err)
		out = "Error: " + err.Error()
	}
	res.Output = out
	return res
}

func (d *Dispatcher) announce(name string, args map[string]any) {
	if !d.verbose {
		fmt.Fprintf(d.out, " - Calling function: %s\n", name)
		return
	}
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", args))
	}
	fmt.Fprintf(d.out, "Calling function: %s(%s)\n", name, raw)
}
