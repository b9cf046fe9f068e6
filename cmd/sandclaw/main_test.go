package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/stellarlinkco/sandclaw/internal/agent"
	"github.com/stellarlinkco/sandclaw/internal/config"
	"github.com/stellarlinkco/sandclaw/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fakeCompleter struct {
	responses []*model.Response
	requests  []model.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req model.Request) (*model.Response, error) {
	f.requests = append(f.requests, req)
	if len(f.responses) == 0 {
		return nil, errors.New("unexpected request")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	// Clear API key env vars
	for _, name := range []string{
		"SANDCLAW_API_KEY", "SANDCLAW_PROVIDER", "SANDCLAW_MODEL", "SANDCLAW_WORKDIR",
		"SANDCLAW_BASE_URL", "SANDCLAW_MAX_ITERATIONS", "SANDCLAW_HISTORY",
		"GEMINI_API_KEY", "GOOGLE_API_KEY", "ANTHROPIC_API_KEY", "ANTHROPIC_AUTH_TOKEN", "OPENAI_API_KEY",
	} {
		t.Setenv(name, "")
	}
	return home
}

func execute(t *testing.T, opts AgentOptions, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	if opts.Stdout == nil {
		opts.Stdout = &out
	}
	if opts.Stderr == nil {
		opts.Stderr = &bytes.Buffer{}
	}
	cmd := newRootCmd(opts)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func fakeFactory(f *fakeCompleter, seen **config.Config) ProviderFactory {
	return func(_ context.Context, cfg *config.Config) (agent.Completer, error) {
		if seen != nil {
			*seen = cfg
		}
		return f, nil
	}
}

func TestRoot_NoPrompt(t *testing.T) {
	isolate(t)
	_, err := execute(t, AgentOptions{})
	assert.ErrorIs(t, err, errNoPrompt)

	_, err = execute(t, AgentOptions{}, "   ")
	assert.ErrorIs(t, err, errNoPrompt)
}

func TestRoot_MissingAPIKey(t *testing.T) {
	isolate(t)
	f := &fakeCompleter{}
	_, err := execute(t, AgentOptions{ProviderFactory: fakeFactory(f, nil)}, "--workdir", t.TempDir(), "hello")
	assert.ErrorIs(t, err, config.ErrMissingAPIKey)
	assert.Empty(t, f.requests)
}

func TestRoot_MissingWorkdir(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "k")
	_, err := execute(t, AgentOptions{ProviderFactory: fakeFactory(&fakeCompleter{}, nil)},
		"--workdir", filepath.Join(t.TempDir(), "absent"), "hello")
	assert.ErrorContains(t, err, "open working directory")
}

func TestRoot_TextResponse(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "k")
	f := &fakeCompleter{responses: []*model.Response{{
		Message: model.Message{Role: "assistant", Content: "Nothing to do."},
		Usage:   model.Usage{InputTokens: 5, OutputTokens: 3},
	}}}
	var seen *config.Config

	out, err := execute(t, AgentOptions{ProviderFactory: fakeFactory(f, &seen)},
		"--workdir", t.TempDir(), "hello", "there")
	require.NoError(t, err)
	assert.Equal(t, "Response:\nNothing to do.\n", out)

	require.Len(t, f.requests, 1)
	assert.Equal(t, "hello there", f.requests[0].Messages[0].Content)
	assert.Equal(t, config.DefaultGeminiModel, f.requests[0].Model)
	require.NotNil(t, seen)
	assert.Equal(t, config.ProviderGemini, seen.Provider.Type)
}

func TestRoot_VerboseToolCall(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "k")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.py"), []byte("print(1)"), 0644))

	f := &fakeCompleter{responses: []*model.Response{{
		Message: model.Message{Role: "assistant", ToolCalls: []model.ToolCall{{
			ID:        "1",
			Name:      tools.NameGetFileContent,
			Arguments: map[string]any{"file_path": "main.py"},
		}}},
		Usage: model.Usage{InputTokens: 20, OutputTokens: 7},
	}}}

	out, err := execute(t, AgentOptions{ProviderFactory: fakeFactory(f, nil)},
		"--workdir", dir, "--verbose", "show main.py")
	require.NoError(t, err)

	assert.Contains(t, out, "User prompt: show main.py\n")
	assert.Contains(t, out, "Prompt tokens: 20\n")
	assert.Contains(t, out, "Response tokens: 7\n")
	assert.Contains(t, out, `Calling function: get_file_content({"file_path":"main.py"})`)
	assert.Contains(t, out, `-> {"result":"print(1)"}`)
}

func TestRoot_MaxIterationsFlag(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "k")
	call := &model.Response{
		Message: model.Message{Role: "assistant", ToolCalls: []model.ToolCall{{ID: "1", Name: tools.NameGetFilesInfo}}},
		Usage:   model.Usage{InputTokens: 1, OutputTokens: 1},
	}
	done := &model.Response{
		Message: model.Message{Role: "assistant", Content: "Empty directory."},
		Usage:   model.Usage{InputTokens: 1, OutputTokens: 1},
	}
	f := &fakeCompleter{responses: []*model.Response{call, done}}

	out, err := execute(t, AgentOptions{ProviderFactory: fakeFactory(f, nil)},
		"--workdir", t.TempDir(), "--max-iterations", "3", "what is here?")
	require.NoError(t, err)
	assert.Len(t, f.requests, 2)
	assert.True(t, strings.HasSuffix(out, "Response:\nEmpty directory.\n"), out)
}

func TestLoadConfig_Flags(t *testing.T) {
	isolate(t)

	cfg, err := loadConfig(runFlags{provider: "Anthropic"})
	require.NoError(t, err)
	assert.Equal(t, config.ProviderAnthropic, cfg.Provider.Type)
	assert.Equal(t, config.DefaultAnthropicModel, cfg.Agent.Model)

	cfg, err = loadConfig(runFlags{provider: "openai", model: "gpt-4.1", workdir: "/srv", maxIterations: 7})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", cfg.Agent.Model)
	assert.Equal(t, "/srv", cfg.Sandbox.Root)
	assert.Equal(t, 7, cfg.Agent.MaxIterations)
}

func TestOnboard(t *testing.T) {
	home := isolate(t)
	workdir := filepath.Join(t.TempDir(), "calculator")

	out, err := execute(t, AgentOptions{}, "onboard", "--workdir", workdir)
	require.NoError(t, err)
	assert.Contains(t, out, "Created config")
	assert.FileExists(t, filepath.Join(home, ".sandclaw", "config.json"))
	assert.DirExists(t, workdir)

	out, err = execute(t, AgentOptions{}, "onboard", "--workdir", workdir)
	require.NoError(t, err)
	assert.Contains(t, out, "Config already exists")
}

func TestOnboard_ExplicitConfig(t *testing.T) {
	isolate(t)
	cfgPath := filepath.Join(t.TempDir(), "nested", "sandclaw.json")

	out, err := execute(t, AgentOptions{}, "onboard", "--config", cfgPath, "--workdir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "Created config: "+cfgPath)
	assert.FileExists(t, cfgPath)
}

func TestStatus(t *testing.T) {
	isolate(t)

	out, err := execute(t, AgentOptions{}, "status", "--workdir", filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Contains(t, out, "Config:")
	assert.Contains(t, out, "Provider: gemini")
	assert.Contains(t, out, "API Key: not set")
	assert.Contains(t, out, "not found, run 'sandclaw onboard'")
}

func TestStatus_WithAPIKey(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "AIza-test-key-12345678")

	out, err := execute(t, AgentOptions{}, "status", "--workdir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "API Key: AIza...5678")
	assert.NotContains(t, out, "not found")
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "not set", maskKey(""))
	assert.Equal(t, "set", maskKey("short"))
	assert.Equal(t, "abcd...6789", maskKey("abcdef0123456789"))
}

func TestToolsCommand(t *testing.T) {
	isolate(t)
	out, err := execute(t, AgentOptions{}, "tools")
	require.NoError(t, err)

	var docs []toolDoc
	require.NoError(t, yaml.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 4)
	assert.Equal(t, []string{
		tools.NameGetFilesInfo, tools.NameGetFileContent, tools.NameRunPythonFile, tools.NameWriteFile,
	}, []string{docs[0].Name, docs[1].Name, docs[2].Name, docs[3].Name})
	assert.NotEmpty(t, docs[3].Parameters)
}

func TestHistoryCommand(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "k")

	out, err := execute(t, AgentOptions{}, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded.")

	f := &fakeCompleter{responses: []*model.Response{{
		Message: model.Message{Role: "assistant", ToolCalls: []model.ToolCall{{ID: "1", Name: "format_disk"}}},
		Usage:   model.Usage{InputTokens: 9, OutputTokens: 2},
	}}}
	_, err = execute(t, AgentOptions{ProviderFactory: fakeFactory(f, nil)}, "--workdir", t.TempDir(), "clean up the disk")
	require.NoError(t, err)

	out, err = execute(t, AgentOptions{}, "history", "--search", "disk")
	require.NoError(t, err)
	assert.Contains(t, out, "#1 ")
	assert.Contains(t, out, "[ok] gemini/"+config.DefaultGeminiModel+" turns=1 tokens=9/2")
	assert.Contains(t, out, "clean up the disk")

	out, err = execute(t, AgentOptions{}, "history", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Run #1 (ok)")
	assert.Contains(t, out, "[1] format_disk(null)")
	assert.Contains(t, out, `-> {"error":"Unknown function: format_disk"}`)

	_, err = execute(t, AgentOptions{}, "history", "abc")
	assert.ErrorContains(t, err, "invalid run id")
}

func TestHistoryDisabled(t *testing.T) {
	home := isolate(t)
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("SANDCLAW_HISTORY", "off")

	f := &fakeCompleter{responses: []*model.Response{{
		Message: model.Message{Role: "assistant", Content: "ok"},
		Usage:   model.Usage{InputTokens: 1, OutputTokens: 1},
	}}}
	_, err := execute(t, AgentOptions{ProviderFactory: fakeFactory(f, nil)}, "--workdir", t.TempDir(), "hi")
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(home, ".sandclaw", "history.db"))
}
