package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/sandclaw/internal/agent"
	"github.com/stellarlinkco/sandclaw/internal/config"
	"github.com/stellarlinkco/sandclaw/internal/history"
	"github.com/stellarlinkco/sandclaw/internal/logging"
	"github.com/stellarlinkco/sandclaw/internal/provider"
	"github.com/stellarlinkco/sandclaw/internal/sandbox"
	"github.com/stellarlinkco/sandclaw/internal/tools"
	"gopkg.in/yaml.v3"
)

var errNoPrompt = errors.New(`no prompt provided. Usage: sandclaw "your prompt here" [--verbose]`)

// ProviderFactory creates the model client (allows faking in tests)
type ProviderFactory func(ctx context.Context, cfg *config.Config) (agent.Completer, error)

// DefaultProviderFactory builds the client for the configured backend
func DefaultProviderFactory(ctx context.Context, cfg *config.Config) (agent.Completer, error) {
	return provider.New(ctx, cfg)
}

// AgentOptions for running the agent with custom dependencies
type AgentOptions struct {
	ProviderFactory ProviderFactory
	Stdout          io.Writer
	Stderr          io.Writer
}

type runFlags struct {
	configPath    string
	verbose       bool
	provider      string
	model         string
	workdir       string
	maxIterations int
}

func newRootCmd(opts AgentOptions) *cobra.Command {
	var flags runFlags

	root := &cobra.Command{
		Use:          "sandclaw <prompt>",
		Short:        "sandclaw - a coding agent confined to one working directory",
		SilenceUsage: true,
		Args:         cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				return errNoPrompt
			}
			if opts.Stdout == nil {
				opts.Stdout = cmd.OutOrStdout()
			}
			if opts.Stderr == nil {
				opts.Stderr = cmd.ErrOrStderr()
			}
			return runAgentWithOptions(cmd.Context(), prompt, flags, opts)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default ~/.sandclaw/config.json)")
	pf.StringVar(&flags.workdir, "workdir", "", "directory the agent is confined to")

	f := root.Flags()
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "print token usage and full function-call arguments")
	f.StringVar(&flags.provider, "provider", "", "model provider: gemini, anthropic or openai")
	f.StringVar(&flags.model, "model", "", "model name")
	f.IntVar(&flags.maxIterations, "max-iterations", 0, "model round trips before giving up (1 sends tool results nowhere)")

	root.AddCommand(
		&cobra.Command{
			Use:   "onboard",
			Short: "Initialize config and sandbox directory",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runOnboard(cmd.OutOrStdout(), flags)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show sandclaw status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runStatus(cmd.OutOrStdout(), flags)
			},
		},
		newHistoryCmd(&flags),
		&cobra.Command{
			Use:   "tools",
			Short: "Print the tool definitions sent to the model",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runTools(cmd.OutOrStdout(), tools.Default())
			},
		},
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(AgentOptions{}).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func loadConfig(flags runFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if p := strings.ToLower(strings.TrimSpace(flags.provider)); p != "" && p != cfg.Provider.Type {
		// the configured model belongs to the old provider unless it was customised
		if cfg.Agent.Model == config.DefaultModelFor(cfg.Provider.Type) {
			cfg.Agent.Model = config.DefaultModelFor(p)
		}
		cfg.Provider.Type = p
	}
	if flags.model != "" {
		cfg.Agent.Model = flags.model
	}
	if flags.workdir != "" {
		cfg.Sandbox.Root = flags.workdir
	}
	if flags.maxIterations > 0 {
		cfg.Agent.MaxIterations = flags.maxIterations
	}
	return cfg, nil
}

// runAgentWithOptions runs one prompt with injectable dependencies
func runAgentWithOptions(ctx context.Context, prompt string, flags runFlags, opts AgentOptions) (runErr error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := logging.New(stderr, flags.verbose)

	if info, err := os.Stat(cfg.Sandbox.Root); err != nil {
		return fmt.Errorf("open working directory: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("open working directory %q: %w", cfg.Sandbox.Root, sandbox.ErrNotDirectory)
	}
	fs, err := sandbox.New(cfg.Sandbox.Root,
		sandbox.WithMaxReadChars(cfg.Sandbox.MaxReadChars),
		sandbox.WithExecTimeout(time.Duration(cfg.Sandbox.ExecTimeout)*time.Second),
		sandbox.WithInterpreter(cfg.Sandbox.Interpreter),
	)
	if err != nil {
		return fmt.Errorf("open working directory: %w", err)
	}

	factory := opts.ProviderFactory
	if factory == nil {
		factory = DefaultProviderFactory
	}
	completer, err := factory(ctx, cfg)
	if err != nil {
		return err
	}

	logger.Debug("starting agent",
		"provider", cfg.Provider.Type,
		"model", cfg.Agent.Model,
		"root", fs.Root(),
		"max_iterations", cfg.Agent.MaxIterations,
	)

	var recorder agent.Recorder
	if cfg.History.Enabled {
		store, err := history.Open(cfg.HistoryPath())
		if err != nil {
			logger.Warn("run history unavailable", "err", err)
		} else {
			defer store.Close()
			runID, err := store.Begin(history.Run{
				Prompt:   prompt,
				Provider: cfg.Provider.Type,
				Model:    cfg.Agent.Model,
				Root:     fs.Root(),
			})
			if err != nil {
				logger.Warn("run history unavailable", "err", err)
			} else {
				recorder = store.Recorder(runID)
				defer func() {
					if err := store.Finish(runID, runErr); err != nil {
						logger.Warn("finish run history", "run", runID, "err", err)
					}
				}()
			}
		}
	}

	reg := tools.Default()
	dispatcher := tools.NewDispatcher(reg, fs,
		tools.WithOutput(stdout),
		tools.WithVerbose(flags.verbose),
		tools.WithLogger(logging.Component(logger, "dispatcher")),
	)
	driver := agent.New(completer, reg, dispatcher, agent.Options{
		Model:         cfg.Agent.Model,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		MaxIterations: cfg.Agent.MaxIterations,
		Verbose:       flags.verbose,
		Output:        stdout,
		Logger:        logging.Component(logger, "agent"),
		Recorder:      recorder,
	})
	return driver.Run(ctx, prompt)
}

func runOnboard(out io.Writer, flags runFlags) error {
	cfgPath := flags.configPath
	if cfgPath == "" {
		cfgPath = config.ConfigPath()
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfigTo(cfgPath, config.DefaultConfig()); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Sandbox.Root, 0755); err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}

	fmt.Fprintf(out, "Working directory ready: %s\n", cfg.Sandbox.Root)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set your API key\n", cfgPath)
	fmt.Fprintf(out, "  2. Or set %s (a .env file in the current directory works too)\n", config.APIKeyEnv(cfg.Provider.Type))
	fmt.Fprintln(out, `  3. Run 'sandclaw "list the files"' to test`)
	return nil
}

func runStatus(out io.Writer, flags runFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	cfgPath := flags.configPath
	if cfgPath == "" {
		cfgPath = config.ConfigPath()
	}
	fmt.Fprintf(out, "Config: %s\n", cfgPath)
	fmt.Fprintf(out, "Provider: %s\n", cfg.Provider.Type)
	fmt.Fprintf(out, "Model: %s\n", cfg.Agent.Model)
	fmt.Fprintf(out, "Max iterations: %d\n", cfg.Agent.MaxIterations)
	fmt.Fprintf(out, "API Key: %s\n", maskKey(cfg.Provider.APIKey))

	if info, err := os.Stat(cfg.Sandbox.Root); err != nil || !info.IsDir() {
		fmt.Fprintf(out, "Working directory: %s (not found, run 'sandclaw onboard')\n", cfg.Sandbox.Root)
	} else {
		fmt.Fprintf(out, "Working directory: %s\n", cfg.Sandbox.Root)
	}
	return nil
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}

type toolDoc struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters,omitempty"`
}

func runTools(out io.Writer, reg *tools.Registry) error {
	defs := reg.Definitions()
	docs := make([]toolDoc, 0, len(defs))
	for _, def := range defs {
		docs = append(docs, toolDoc{Name: def.Name, Description: def.Description, Parameters: def.Parameters})
	}
	data, err := yaml.Marshal(docs)
	if err != nil {
		return fmt.Errorf("encode tools: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func newHistoryCmd(flags *runFlags) *cobra.Command {
	var (
		limit  int
		search string
	)
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs, or show the tool calls of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*flags)
			if err != nil {
				return err
			}
			store, err := history.Open(cfg.HistoryPath())
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid run id %q", args[0])
				}
				return showRun(out, store, id)
			}
			return listRuns(out, store, search, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to list")
	cmd.Flags().StringVarP(&search, "search", "s", "", "only runs whose prompt matches these words")
	return cmd
}

func listRuns(out io.Writer, store *history.Store, search string, limit int) error {
	runs, err := store.Search(search, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(out, "#%d %s [%s] %s/%s turns=%d tokens=%d/%d\n",
			r.ID, r.StartedAt, r.Status, r.Provider, r.Model, r.Turns, r.InputTokens, r.OutputTokens)
		fmt.Fprintf(out, "    %s\n", r.Prompt)
	}
	return nil
}

func showRun(out io.Writer, store *history.Store, id int64) error {
	run, err := store.Get(id)
	if err != nil {
		return err
	}
	calls, err := store.Calls(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Run #%d (%s)\n", run.ID, run.Status)
	fmt.Fprintf(out, "Prompt: %s\n", run.Prompt)
	fmt.Fprintf(out, "Working directory: %s\n", run.Root)
	fmt.Fprintf(out, "Model: %s/%s\n", run.Provider, run.Model)
	fmt.Fprintf(out, "Tokens: %d prompt, %d response over %d turns\n", run.InputTokens, run.OutputTokens, run.Turns)
	if run.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", run.Error)
	}
	for _, c := range calls {
		fmt.Fprintf(out, "  [%d] %s(%s)\n", c.Turn, c.Name, c.Arguments)
		fmt.Fprintf(out, "      -> %s\n", c.Payload)
	}
	return nil
}
