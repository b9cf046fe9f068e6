package tools

import (
	"context"
	"fmt"

	"github.com/stellarlinkco/sandclaw/internal/sandbox"
)

// Tool names exposed to the model.
const (
	NameGetFilesInfo   = "get_files_info"
	NameGetFileContent = "get_file_content"
	NameRunPythonFile  = "run_python_file"
	NameWriteFile      = "write_file"
)

// Call is a decoded tool invocation. fs supplies the read, execution and
// interpreter limits; the directory a call works in is the one pinned into
// its arguments by the dispatcher.
type Call interface {
	Name() string
	Execute(ctx context.Context, fs *sandbox.FS) (string, error)
}

// Workdir carries the pinned working_directory argument. It is not part of
// any tool schema, so the model never supplies it.
type Workdir struct {
	WorkingDirectory string `mapstructure:"working_directory"`
}

// bind returns fs re-rooted at the pinned directory. An unpinned call
// stays in fs.
func (w Workdir) bind(fs *sandbox.FS) (*sandbox.FS, error) {
	if w.WorkingDirectory == "" || w.WorkingDirectory == fs.Root() {
		return fs, nil
	}
	return fs.At(w.WorkingDirectory)
}

// GetFilesInfo lists a directory.
type GetFilesInfo struct {
	Workdir   `mapstructure:",squash"`
	Directory string `mapstructure:"directory"`
}

func (GetFilesInfo) Name() string { return NameGetFilesInfo }

func (c GetFilesInfo) Execute(_ context.Context, fs *sandbox.FS) (string, error) {
	sb, err := c.bind(fs)
	if err != nil {
		return "", err
	}
	entries, err := sb.List(c.Directory)
	if err != nil {
		return "", err
	}
	return sandbox.FormatEntries(entries), nil
}

// GetFileContent reads a file.
type GetFileContent struct {
	Workdir  `mapstructure:",squash"`
	FilePath string `mapstructure:"file_path"`
}

func (GetFileContent) Name() string { return NameGetFileContent }

func (c GetFileContent) Execute(_ context.Context, fs *sandbox.FS) (string, error) {
	sb, err := c.bind(fs)
	if err != nil {
		return "", err
	}
	return sb.Read(c.FilePath)
}

// RunPythonFile executes a script with optional arguments.
type RunPythonFile struct {
	Workdir  `mapstructure:",squash"`
	FilePath string   `mapstructure:"file_path"`
	Args     []string `mapstructure:"args"`
}

func (RunPythonFile) Name() string { return NameRunPythonFile }

func (c RunPythonFile) Execute(ctx context.Context, fs *sandbox.FS) (string, error) {
	sb, err := c.bind(fs)
	if err != nil {
		return "", err
	}
	res, err := sb.Run(ctx, c.FilePath, c.Args)
	if err != nil {
		return "", err
	}
	return res.String(), nil
}

// WriteFile creates or overwrites a file.
type WriteFile struct {
	Workdir  `mapstructure:",squash"`
	FilePath string `mapstructure:"file_path"`
	Content  string `mapstructure:"content"`
}

func (WriteFile) Name() string { return NameWriteFile }

func (c WriteFile) Execute(_ context.Context, fs *sandbox.FS) (string, error) {
	sb, err := c.bind(fs)
	if err != nil {
		return "", err
	}
	n, err := sb.Write(c.FilePath, c.Content)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Successfully wrote to %q (%d characters written)", c.FilePath, n), nil
}
