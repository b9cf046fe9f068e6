package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/stellarlinkco/sandclaw/internal/sandbox"
	"github.com/stellarlinkco/sandclaw/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedModel struct {
	responses []*model.Response
	err       error
	requests  []model.Request
}

func (s *scriptedModel) Complete(_ context.Context, req model.Request) (*model.Response, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, errors.New("no scripted response left")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func usage(in, out int) model.Usage {
	return model.Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
}

func textReply(text string) *model.Response {
	return &model.Response{Message: model.Message{Role: "assistant", Content: text}, Usage: usage(10, 4)}
}

func callReply(calls ...model.ToolCall) *model.Response {
	return &model.Response{Message: model.Message{Role: "assistant", ToolCalls: calls}, Usage: usage(20, 6)}
}

func newDriver(t *testing.T, m Completer, opts Options) (*Driver, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("print('hi')\n"), 0o644))
	fs, err := sandbox.New(root)
	require.NoError(t, err)

	reg := tools.Default()
	d := tools.NewDispatcher(reg, fs, tools.WithOutput(opts.Output), tools.WithVerbose(opts.Verbose))
	return New(m, reg, d, opts), fs.Root()
}

func TestRun_TextResponse(t *testing.T) {
	var out bytes.Buffer
	m := &scriptedModel{responses: []*model.Response{textReply("All done.")}}
	d, _ := newDriver(t, m, Options{Model: "m1", SystemPrompt: "sys", Output: &out})

	require.NoError(t, d.Run(context.Background(), "  say hi  "))
	assert.Equal(t, "Response:\nAll done.\n", out.String())

	require.Len(t, m.requests, 1)
	req := m.requests[0]
	assert.Equal(t, "m1", req.Model)
	assert.Equal(t, "sys", req.System)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "say hi", req.Messages[0].Content)
	assert.Len(t, req.Tools, 4)
	require.NotNil(t, req.Temperature)
	assert.Zero(t, *req.Temperature)
}

func TestRun_VerboseTokens(t *testing.T) {
	var out bytes.Buffer
	m := &scriptedModel{responses: []*model.Response{textReply("ok")}}
	d, _ := newDriver(t, m, Options{Verbose: true, Output: &out})

	require.NoError(t, d.Run(context.Background(), "hello"))
	assert.Equal(t, "User prompt: hello\nPrompt tokens: 10\nResponse tokens: 4\nResponse:\nok\n", out.String())
}

func TestRun_EmptyPrompt(t *testing.T) {
	m := &scriptedModel{}
	d, _ := newDriver(t, m, Options{})
	assert.ErrorIs(t, d.Run(context.Background(), "   "), ErrEmptyPrompt)
	assert.Empty(t, m.requests)
}

func TestRun_MissingUsage(t *testing.T) {
	m := &scriptedModel{responses: []*model.Response{{Message: model.Message{Content: "hi"}}}}
	d, _ := newDriver(t, m, Options{})
	assert.ErrorIs(t, d.Run(context.Background(), "hello"), ErrMissingUsage)
}

func TestRun_ModelError(t *testing.T) {
	m := &scriptedModel{err: errors.New("rate limited")}
	d, _ := newDriver(t, m, Options{})
	err := d.Run(context.Background(), "hello")
	assert.ErrorContains(t, err, "rate limited")
}

func TestRun_SingleShotDispatch(t *testing.T) {
	var out bytes.Buffer
	m := &scriptedModel{responses: []*model.Response{callReply(
		model.ToolCall{ID: "1", Name: tools.NameGetFilesInfo, Arguments: map[string]any{"directory": "."}},
		model.ToolCall{ID: "2", Name: "delete_everything"},
	)}}
	d, _ := newDriver(t, m, Options{Output: &out})

	require.NoError(t, d.Run(context.Background(), "what files?"))
	assert.Len(t, m.requests, 1)

	got := out.String()
	assert.Contains(t, got, " - Calling function: get_files_info\n")
	assert.Contains(t, got, `-> {"result":"- main.py: file_size=12 bytes, is_dir=false"}`)
	assert.Contains(t, got, " - Calling function: delete_everything\n")
	assert.Contains(t, got, `-> {"error":"Unknown function: delete_everything"}`)
	assert.NotContains(t, got, "Response:")
}

func TestRun_MultiTurnFeedsResults(t *testing.T) {
	var out bytes.Buffer
	m := &scriptedModel{responses: []*model.Response{
		callReply(model.ToolCall{ID: "c1", Name: tools.NameWriteFile, Arguments: map[string]any{"file_path": "notes.txt", "content": "abc"}}),
		textReply("Wrote the notes."),
	}}
	d, root := newDriver(t, m, Options{MaxIterations: 5, Output: &out})

	require.NoError(t, d.Run(context.Background(), "take notes"))
	data, err := os.ReadFile(filepath.Join(root, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	require.Len(t, m.requests, 2)
	msgs := m.requests[1].Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "tool", msgs[2].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "c1", msgs[2].ToolCalls[0].ID)
	assert.Contains(t, msgs[2].ToolCalls[0].Result, "Successfully wrote to")

	// results are not echoed outside verbose mode once the model sees them
	assert.NotContains(t, out.String(), "->")
	assert.Contains(t, out.String(), "Response:\nWrote the notes.\n")
}

func TestRun_MaxIterations(t *testing.T) {
	call := model.ToolCall{ID: "x", Name: tools.NameGetFilesInfo}
	m := &scriptedModel{responses: []*model.Response{callReply(call), callReply(call), callReply(call)}}
	d, _ := newDriver(t, m, Options{MaxIterations: 2})

	err := d.Run(context.Background(), "loop forever")
	assert.ErrorIs(t, err, ErrMaxIterations)
	assert.Len(t, m.requests, 2)
}

type memRecorder struct {
	turns []model.Usage
	calls []string
}

func (m *memRecorder) RecordTurn(u model.Usage) error {
	m.turns = append(m.turns, u)
	return nil
}

func (m *memRecorder) RecordCall(turn int, call model.ToolCall, res tools.Result) error {
	m.calls = append(m.calls, fmt.Sprintf("%d:%s:%t", turn, call.Name, res.Failed()))
	return errors.New("disk full")
}

func TestRun_Recorder(t *testing.T) {
	rec := &memRecorder{}
	m := &scriptedModel{responses: []*model.Response{
		callReply(model.ToolCall{ID: "a", Name: tools.NameGetFilesInfo}, model.ToolCall{ID: "b", Name: "nope"}),
		textReply("done"),
	}}
	d, _ := newDriver(t, m, Options{MaxIterations: 3, Recorder: rec})

	// recording errors do not abort the run
	require.NoError(t, d.Run(context.Background(), "trace me"))
	assert.Equal(t, []model.Usage{usage(20, 6), usage(10, 4)}, rec.turns)
	assert.Equal(t, []string{"1:get_files_info:false", "1:nope:true"}, rec.calls)
}
