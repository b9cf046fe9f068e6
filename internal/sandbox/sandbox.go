// Package sandbox confines the agent's file operations to a single working
// directory. Every path handed to FS is resolved against the root and
// rejected before any I/O if it lands outside of it.
package sandbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/security"
)

const (
	DefaultMaxReadChars = 10000
	DefaultExecTimeout  = 30 * time.Second
	DefaultInterpreter  = "python3"
	ScriptExt           = ".py"
)

var (
	ErrEmptyRoot    = errors.New("sandbox root is empty")
	ErrOutsideRoot  = errors.New("outside the permitted working directory")
	ErrNotDirectory = errors.New("not a directory")
	ErrNotFile      = errors.New("not a regular file")
	ErrIsDirectory  = errors.New("is a directory")
	ErrNotFound     = errors.New("file not found")
	ErrNotScript    = errors.New("not a Python file")
)

// FS performs file operations rooted at a fixed directory.
type FS struct {
	root         string
	guard        *security.Sandbox
	maxReadChars int
	execTimeout  time.Duration
	interpreter  string
}

// Option customises an FS.
type Option func(*FS)

// WithMaxReadChars caps the number of characters Read returns.
func WithMaxReadChars(n int) Option {
	return func(f *FS) {
		if n > 0 {
			f.maxReadChars = n
		}
	}
}

// WithExecTimeout bounds script execution.
func WithExecTimeout(d time.Duration) Option {
	return func(f *FS) {
		if d > 0 {
			f.execTimeout = d
		}
	}
}

// WithInterpreter sets the program used to run scripts.
func WithInterpreter(name string) Option {
	return func(f *FS) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			f.interpreter = trimmed
		}
	}
}

// New creates an FS rooted at root. The root does not need to exist yet.
func New(root string, opts ...Option) (*FS, error) {
	if strings.TrimSpace(root) == "" {
		return nil, ErrEmptyRoot
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	// The guard refuses symlinked path components, so pin the root to its
	// real location up front.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}

	f := &FS{
		root:         abs,
		guard:        security.NewSandbox(abs),
		maxReadChars: DefaultMaxReadChars,
		execTimeout:  DefaultExecTimeout,
		interpreter:  DefaultInterpreter,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Root returns the absolute sandbox root.
func (f *FS) Root() string {
	return f.root
}

// At returns an FS rooted at root with the same limits and interpreter.
func (f *FS) At(root string) (*FS, error) {
	return New(root,
		WithMaxReadChars(f.maxReadChars),
		WithExecTimeout(f.execTimeout),
		WithInterpreter(f.interpreter),
	)
}

func (f *FS) MaxReadChars() int { return f.maxReadChars }

func (f *FS) ExecTimeout() time.Duration { return f.execTimeout }

// resolve maps rel onto an absolute path inside the root.
func (f *FS) resolve(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	candidate := rel
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(f.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	inner, err := filepath.Rel(f.root, candidate)
	if err != nil || inner == ".." || strings.HasPrefix(inner, ".."+string(filepath.Separator)) {
		return "", ErrOutsideRoot
	}
	if err := f.guard.ValidatePath(candidate); err != nil {
		if errors.Is(err, security.ErrPathNotAllowed) {
			return "", ErrOutsideRoot
		}
		return "", err
	}
	return candidate, nil
}

func (f *FS) within(verb, rel string) (string, error) {
	path, err := f.resolve(rel)
	if err != nil {
		return "", fmt.Errorf("cannot %s %q: %w", verb, rel, err)
	}
	return path, nil
}
