package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"codewarden/internal/config"
	"codewarden/internal/guardian"
	"codewarden/internal/hallucination"
	"codewarden/internal/logging"
	"codewarden/internal/model"
	"codewarden/internal/mutation"
	"codewarden/internal/session"
	"codewarden/internal/store"
	"codewarden/internal/types"
)

var version = "0.3.0"

var (
	// Global flags
	verbose   bool
	apiKey    string
	workspace string
	timeout   time.Duration
	usePlan   bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "codeWARDEN - validated mutation pipeline for model-driven edits",
	Long: `codeWARDEN runs model turns through a validation pipeline before
anything reaches the user or the filesystem.

Every response passes a structural guardian, a hallucination detector,
a secondary judge, and optional external validators; every file edit is
hash-checked against the last read so stale writes never land.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd executes one instruction through the full pipeline
var runCmd = &cobra.Command{
	Use:   "run [instruction]",
	Short: "Run one instruction through the validated pipeline",
	Long: `Processes a natural language instruction as a single turn:
  1. Generate: model output, with tool calls dispatched to the engine
  2. Verify: guardian, hallucination detector, judge, validators
  3. Publish or retry per the gate's decision

With --plan the request is first decomposed into steps, each with its
own local review and retry budget.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInstruction,
}

// checkCmd analyzes text without a model
var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "Analyze a response for structural and hallucination issues",
	Long: `Runs the deterministic checks (guardian and hallucination detector)
over text from a file, or stdin when the argument is "-". No model is
called and nothing is written.

Example:
  warden check response.txt
  cat response.txt | warden check -`,
	Args: cobra.ExactArgs(1),
	RunE: checkText,
}

// patchCmd applies a unified diff through the mutation engine
var patchCmd = &cobra.Command{
	Use:   "patch [file]",
	Short: "Apply a unified diff with the engine's guards",
	Long: `Applies a unified diff from a file, or stdin when the argument is
"-". Paths are confined to the workspace roots and size and binary
guards apply, same as model-driven edits.`,
	Args: cobra.ExactArgs(1),
	RunE: applyPatch,
}

// statusCmd shows persisted counters and recent audit activity
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline counters and recent mutations",
	RunE:  showStatus,
}

// initCmd writes a default config into the workspace
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .warden/config.yaml",
	RunE:  runInit,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the warden version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("codewarden %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Model API key (or set WARDEN_API_KEY env)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: current)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	runCmd.Flags().BoolVar(&usePlan, "plan", false, "Decompose the request into reviewed steps first")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(patchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveWorkspace() (string, error) {
	if workspace != "" {
		return filepath.Abs(workspace)
	}
	return os.Getwd()
}

func loadConfig() (*config.Config, string, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve workspace: %w", err)
	}
	cfg, err := config.Load(ws)
	if err != nil {
		return nil, "", err
	}
	if apiKey != "" {
		cfg.Model.APIKey = apiKey
	}
	if len(cfg.Mutation.Roots) == 0 || (len(cfg.Mutation.Roots) == 1 && cfg.Mutation.Roots[0] == ".") {
		cfg.Mutation.Roots = []string{ws}
	}
	if err := logging.Initialize(ws); err != nil {
		logger.Warn("File logging unavailable", zap.Error(err))
	}
	return cfg, ws, nil
}

// runInstruction executes a single turn
func runInstruction(cmd *cobra.Command, args []string) error {
	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	client, err := model.NewClient(ctx, cfg.Model)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}

	engine, err := mutation.NewEngine(cfg.Mutation)
	if err != nil {
		return fmt.Errorf("failed to create mutation engine: %w", err)
	}
	defer engine.Close()

	var st *store.Store
	if cfg.Store.Enabled {
		st, err = store.Open(storePath(cfg, ws))
		if err != nil {
			logger.Warn("Audit store unavailable", zap.Error(err))
		} else {
			defer st.Close()
		}
	}

	runner := session.NewRunner(cfg, client, engine, st)
	instruction := strings.Join(args, " ")

	var result *session.TurnResult
	if usePlan {
		result, err = runner.RunPlanned(ctx, instruction)
	} else {
		result, err = runner.RunTurn(ctx, instruction)
	}
	if err != nil {
		return err
	}

	fmt.Println(result.Response)
	if !result.Published {
		printOutcome(result)
	}
	if verbose {
		printChecks(result.Checks)
	}
	return nil
}

func printOutcome(result *session.TurnResult) {
	switch {
	case result.Stopped:
		fmt.Fprintln(os.Stderr, "\n[turn stopped before completion]")
	default:
		fmt.Fprintf(os.Stderr, "\n[publish blocked after %d attempt(s)]\n", result.Attempts)
		for _, s := range result.Signals {
			fmt.Fprintf(os.Stderr, "  - %s\n", s)
		}
	}
}

func printChecks(checks []types.QualityCheckResult) {
	for _, c := range checks {
		status := "ok"
		if c.Unavailable {
			status = "unavailable"
		} else if !c.OK {
			status = "FAILED"
		}
		fmt.Fprintf(os.Stderr, "check %-16s %s", c.Name, status)
		if c.Score != nil {
			fmt.Fprintf(os.Stderr, " (score %.2f)", *c.Score)
		}
		fmt.Fprintln(os.Stderr)
	}
}

// checkText runs the deterministic analyzers over arbitrary text
func checkText(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.CloseAll()

	text, err := readArgOrStdin(args[0])
	if err != nil {
		return err
	}

	g := guardian.NewAnalyzer(cfg.Guardian)
	res := g.Analyze(text, "")
	for _, issue := range res.Issues {
		fmt.Printf("%-8s %-22s %s\n", issue.Severity, issue.Type, issue.Detail)
	}

	d := hallucination.NewDetector(cfg.Detector)
	hall := d.Analyze(text, "", nil)
	if len(hall.Categories) > 0 {
		cats := make([]string, len(hall.Categories))
		for i, c := range hall.Categories {
			cats[i] = string(c)
		}
		fmt.Printf("hallucination confidence %.2f (%s)\n",
			hall.Confidence, strings.Join(cats, ", "))
	}

	if res.OK && !hall.IsHallucination {
		fmt.Println("clean")
		return nil
	}
	if res.ForceRetry || hall.IsHallucination {
		return fmt.Errorf("response would be rejected")
	}
	return nil
}

// applyPatch pushes a unified diff through the engine's apply_patch tool
func applyPatch(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.CloseAll()

	text, err := readArgOrStdin(args[0])
	if err != nil {
		return err
	}

	engine, err := mutation.NewEngine(cfg.Mutation)
	if err != nil {
		return fmt.Errorf("failed to create mutation engine: %w", err)
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	call := types.ToolCall{
		Name:      "apply_patch",
		Arguments: map[string]interface{}{"patch": text},
	}
	res := engine.Dispatch(ctx, call, &types.MutationState{})
	fmt.Println(res.Message)
	if !res.OK {
		return fmt.Errorf("patch failed")
	}
	return nil
}

// showStatus prints persisted counters and the most recent audit events
func showStatus(cmd *cobra.Command, args []string) error {
	cfg, ws, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.CloseAll()

	if !cfg.Store.Enabled {
		fmt.Println("audit store disabled; no persisted status")
		return nil
	}
	st, err := store.Open(storePath(cfg, ws))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	for _, name := range []string{"turns_published", "turns_retried", "turns_failed", "turns_stopped"} {
		n, err := st.Counter(name)
		if err != nil {
			return err
		}
		fmt.Printf("%-16s %d\n", name, n)
	}

	events, err := st.AuditTrail("", 10)
	if err != nil {
		return err
	}
	if len(events) > 0 {
		fmt.Println("\nrecent mutations:")
		for _, ev := range events {
			fmt.Printf("  %s %-8s %s\n", ev.Timestamp.Format(time.RFC3339), ev.Type, ev.Path)
		}
	}
	return nil
}

// runInit writes the default configuration for editing
func runInit(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}
	dir := filepath.Join(ws, ".warden")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}

	data, err := yaml.Marshal(config.DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

func storePath(cfg *config.Config, ws string) string {
	if cfg.Store.Path != "" {
		if filepath.IsAbs(cfg.Store.Path) {
			return cfg.Store.Path
		}
		return filepath.Join(ws, cfg.Store.Path)
	}
	return filepath.Join(ws, ".warden", "warden.db")
}

func readArgOrStdin(arg string) (string, error) {
	if arg == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", arg, err)
	}
	return string(data), nil
}
