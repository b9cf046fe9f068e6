// Package tools maps model-issued tool calls onto sandboxed file operations.
package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/mitchellh/mapstructure"
	"github.com/stellarlinkco/sandclaw/internal/sandbox"
)

var (
	ErrInvalidTool      = errors.New("invalid tool")
	ErrDuplicateTool    = errors.New("tool already registered")
	ErrMissingParameter = errors.New("missing required parameter")
)

// DecodeFunc turns raw call arguments into a Call.
type DecodeFunc func(args map[string]any) (Call, error)

// Entry pairs a tool definition with its argument decoder.
type Entry struct {
	Definition model.ToolDefinition
	Decode     DecodeFunc
}

// Registry is an ordered, immutable set of tools.
type Registry struct {
	entries []Entry
	index   map[string]int
}

// NewRegistry builds a registry preserving the order of entries.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{
		entries: make([]Entry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		name := strings.TrimSpace(e.Definition.Name)
		if name == "" || e.Decode == nil {
			return nil, ErrInvalidTool
		}
		if _, ok := r.index[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, name)
		}
		r.index[name] = len(r.entries)
		r.entries = append(r.entries, e)
	}
	return r, nil
}

// Default returns the four built-in file tools.
func Default() *Registry {
	r, err := NewRegistry(
		newEntry[GetFilesInfo](NameGetFilesInfo,
			"Lists files in the specified directory along with their sizes, constrained to the working directory.",
			nil,
			map[string]any{
				"directory": stringProp("The directory to list files from, relative to the working directory. If not provided, lists files in the working directory itself."),
			}),
		newEntry[GetFileContent](NameGetFileContent,
			fmt.Sprintf("Reads and returns the first %d characters of the content from a specified file within the working directory.", sandbox.DefaultMaxReadChars),
			[]string{"file_path"},
			map[string]any{
				"file_path": stringProp("The path to the file whose content should be read, relative to the working directory."),
			}),
		newEntry[RunPythonFile](NameRunPythonFile,
			"Executes a Python file within the working directory and returns the output from the interpreter.",
			[]string{"file_path"},
			map[string]any{
				"file_path": stringProp("Path to the Python file to execute, relative to the working directory."),
				"args": map[string]any{
					"type":        "array",
					"description": "Optional arguments to pass to the Python file.",
					"items":       stringProp("An argument passed to the script."),
				},
			}),
		newEntry[WriteFile](NameWriteFile,
			"Writes content to a file within the working directory. Creates the file if it doesn't exist.",
			[]string{"file_path", "content"},
			map[string]any{
				"file_path": stringProp("Path to the file to write, relative to the working directory."),
				"content":   stringProp("Content to write to the file."),
			}),
	)
	if err != nil {
		panic(err)
	}
	return r
}

// Definitions returns the tool definitions in registration order.
func (r *Registry) Definitions() []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.Definition)
	}
	return defs
}

// Lookup finds a tool by name.
func (r *Registry) Lookup(name string) (Entry, bool) {
	i, ok := r.index[name]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Names returns the registered tool names in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.Definition.Name)
	}
	return names
}

func (r *Registry) Len() int { return len(r.entries) }

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func newEntry[T Call](name, description string, required []string, props map[string]any) Entry {
	if required == nil {
		required = []string{}
	}
	def := model.ToolDefinition{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
	return Entry{
		Definition: def,
		Decode: func(args map[string]any) (Call, error) {
			if err := checkRequired(required, args); err != nil {
				return nil, err
			}
			var call T
			if err := decodeArgs(args, &call); err != nil {
				return nil, err
			}
			return call, nil
		},
	}
}

func checkRequired(required []string, args map[string]any) error {
	for _, key := range required {
		if v, ok := args[key]; !ok || v == nil {
			return fmt.Errorf("%w: %s", ErrMissingParameter, key)
		}
	}
	return nil
}

func decodeArgs(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(args); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}
