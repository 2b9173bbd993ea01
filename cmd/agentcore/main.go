// Command agentcore runs one autonomous task against the configured provider
// chain: it assembles the provider registry, hands the task to the planner
// loop, streams or prints the result, and records the transcript.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"agentcore/pkg/config"
	"agentcore/pkg/logx"
	"agentcore/pkg/metrics"
	"agentcore/pkg/persistence"
	"agentcore/pkg/planner"
	"agentcore/pkg/registry"
	"agentcore/pkg/tools"
)

// Version information - set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file (optional, defaults apply)")
		provider    = flag.String("provider", "", "Provider selector: entry ID or family.model (default: first configured entry)")
		task        = flag.String("task", "", "Task prompt (falls back to positional arguments, then stdin)")
		workDir     = flag.String("workdir", "", "Tool workspace directory (overrides config)")
		maxIters    = flag.Int("max-iterations", 0, "Planner turn cap (overrides config)")
		stream      = flag.Bool("stream", false, "Stream assistant output as it arrives")
		noPersist   = flag.Bool("no-persist", false, "Skip the transcript store for this run")
		dbPath      = flag.String("db", "", "Transcript database path (overrides config)")
		metricsAddr = flag.String("metrics-addr", "", "Prometheus /metrics listen address (overrides config, implies prometheus exporter)")
		projectDir  = flag.String("projectdir", ".", "Project directory holding the encrypted credential store")
		setup       = flag.Bool("setup", false, "Interactively collect and encrypt provider credentials, then exit")
		costFor     = flag.String("cost", "", "Print token/cost totals recorded for a conversation ID, then exit")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("agentcore %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}

	if *setup {
		if err := runSetup(*projectDir); err != nil {
			fmt.Fprintf(os.Stderr, "Setup failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if *costFor != "" {
		os.Exit(runCostReport(*configPath, *costFor))
	}

	opts := runOptions{
		configPath:    *configPath,
		provider:      *provider,
		task:          *task,
		workDir:       *workDir,
		dbPath:        *dbPath,
		metricsAddr:   *metricsAddr,
		projectDir:    *projectDir,
		maxIterations: *maxIters,
		stream:        *stream,
		noPersist:     *noPersist,
	}

	// Run main logic and get exit code so defers execute before os.Exit.
	os.Exit(run(opts))
}

//nolint:govet // fieldalignment: logical grouping preferred
type runOptions struct {
	configPath    string
	provider      string
	task          string
	workDir       string
	dbPath        string
	metricsAddr   string
	projectDir    string
	maxIterations int
	stream        bool
	noPersist     bool
}

func run(opts runOptions) int {
	logger := logx.NewLogger("agentcore")

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return 1
	}
	applyOverrides(cfg, opts)

	if err := loadCredentials(opts.projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load credentials: %v\n", err)
		return 1
	}

	task, err := resolveTask(opts.task)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		flag.Usage()
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sel, err := cfg.ResolveSelector(opts.provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Provider selection failed: %v\n", err)
		return 1
	}

	reg, err := registry.Build(ctx, cfg, sel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Provider setup failed: %v\n", err)
		return 1
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Exporter == "prometheus" {
		serveMetrics(cfg.Metrics.ListenAddr, logger)
	}

	toolProvider := tools.NewProvider(tools.AgentContext{
		WorkDir: cfg.Agent.WorkDir,
	}, cfg.Agent.Tools)
	toolExec := tools.NewExecutor(toolProvider, 0)

	plannerCfg := planner.ConfigFromAgent(&cfg.Agent)
	plannerCfg.Streaming = opts.stream
	if opts.stream {
		plannerCfg.OnContent = func(delta string) {
			fmt.Print(delta)
		}
	}

	var hooks []planner.StepHook
	var store *persistence.Store
	var lastModel string
	if cfg.Persistence.Enabled && !opts.noPersist {
		store, err = persistence.Open(cfg.Persistence.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Transcript store failed: %v\n", err)
			return 1
		}
		defer store.Close()
		hooks = append(hooks, func(rec planner.StepRecord) {
			lastModel = rec.Model
			step := &persistence.Step{
				ConversationID:   rec.ConversationID,
				Turn:             rec.Turn,
				EntryID:          rec.EntryID,
				Model:            rec.Model,
				ToolCalls:        rec.ToolCallCount,
				PromptTokens:     rec.Usage.PromptTokens,
				CompletionTokens: rec.Usage.CompletionTokens,
				TotalTokens:      rec.Usage.TotalTokens,
				Estimated:        rec.Usage.Estimated,
				DurationMS:       rec.Duration.Milliseconds(),
			}
			if err := store.RecordStep(step); err != nil {
				logger.Warn("Failed to record step %d: %v", rec.Turn, err)
			}
		})
	}

	p := planner.New(registry.NewExecutor(reg, cfg.Agent.SafetyMarginTokens), toolExec, plannerCfg, hooks...)

	logger.Info("🚀 Starting task via '%s' (workdir: %s)", sel.Entry, cfg.Agent.WorkDir)
	outcome := p.Run(ctx, task)

	if store != nil {
		saveTranscript(store, p, outcome, lastModel, logger)
	}

	return report(outcome, opts.stream)
}

// applyOverrides folds command-line flags into the loaded config.
func applyOverrides(cfg *config.Config, opts runOptions) {
	if opts.workDir != "" {
		cfg.Agent.WorkDir = opts.workDir
	}
	if opts.maxIterations > 0 {
		cfg.Agent.MaxIterations = opts.maxIterations
	}
	if opts.dbPath != "" {
		cfg.Persistence.Path = opts.dbPath
		cfg.Persistence.Enabled = true
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.ListenAddr = opts.metricsAddr
		cfg.Metrics.Enabled = true
		cfg.Metrics.Exporter = "prometheus"
	}
}

// loadCredentials decrypts the secrets file when one exists. Absent a secrets
// file, provider credentials come straight from the environment.
func loadCredentials(projectDir string) error {
	if !config.SecretsFileExists(projectDir) {
		return nil
	}

	password := os.Getenv(config.EnvPassword)
	if password == "" {
		if !term.IsTerminal(int(syscall.Stdin)) {
			return fmt.Errorf("secrets file present but %s is not set and stdin is not a terminal", config.EnvPassword)
		}
		fmt.Print("Enter password to unlock credentials: ")
		raw, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = string(raw)
	}

	if err := config.LoadSecretsFromFile(projectDir, password); err != nil {
		return fmt.Errorf("failed to decrypt secrets: %w", err)
	}
	return nil
}

// resolveTask picks the task prompt from the -task flag, positional
// arguments, or piped stdin, in that order.
func resolveTask(flagTask string) (string, error) {
	if flagTask != "" {
		return flagTask, nil
	}
	if args := flag.Args(); len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read task from stdin: %w", err)
		}
		if task := strings.TrimSpace(string(data)); task != "" {
			return task, nil
		}
	}
	return "", errors.New("no task given: pass -task, positional arguments, or pipe the prompt on stdin")
}

// serveMetrics exposes the Prometheus registry on addr in the background.
func serveMetrics(addr string, logger *logx.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("📊 Metrics endpoint listening on http://%s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Metrics endpoint failed: %v", err)
		}
	}()
}

// saveTranscript writes the finished conversation and its messages to the
// transcript store.
func saveTranscript(store *persistence.Store, p *planner.Planner, outcome planner.Outcome, model string, logger *logx.Logger) {
	errText := ""
	if outcome.Err != nil {
		errText = outcome.Err.Error()
	}

	conv := &persistence.Conversation{
		ID:               outcome.ConversationID,
		Status:           string(outcome.Status),
		TurnCount:        outcome.Turns,
		Model:            model,
		Summary:          outcome.Summary,
		Error:            errText,
		PromptTokens:     outcome.Usage.PromptTokens,
		CompletionTokens: outcome.Usage.CompletionTokens,
		TotalTokens:      outcome.Usage.TotalTokens,
		Estimated:        outcome.Usage.Estimated,
	}
	if err := store.SaveTranscript(conv, p.Conversation().Messages()); err != nil {
		logger.Warn("Failed to save transcript: %v", err)
	} else {
		logger.Info("💾 Transcript saved (conversation %s)", outcome.ConversationID)
	}
}

// runCostReport queries Prometheus for a past conversation's token and cost
// totals, broken down by model when failover spread the run across several.
func runCostReport(configPath, conversationID string) int {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return 1
	}
	if cfg.Metrics.PrometheusURL == "" {
		fmt.Fprintln(os.Stderr, "metrics.prometheus_url is not configured")
		return 1
	}

	svc, err := metrics.NewQueryService(cfg.Metrics.PrometheusURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Metrics query setup failed: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	totals, err := svc.GetConversationMetrics(ctx, conversationID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Metrics query failed: %v\n", err)
		return 1
	}

	fmt.Printf("Conversation %s\n", conversationID)
	fmt.Printf("  prompt tokens:     %d\n", totals.PromptTokens)
	fmt.Printf("  completion tokens: %d\n", totals.CompletionTokens)
	fmt.Printf("  total tokens:      %d\n", totals.TotalTokens)
	fmt.Printf("  cost:              $%.4f\n", totals.TotalCost)

	byModel, err := svc.GetConversationMetricsByModel(ctx, conversationID)
	if err != nil || len(byModel) < 2 {
		return 0
	}
	names := make([]string, 0, len(byModel))
	for name := range byModel {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println("  by model:")
	for _, name := range names {
		m := byModel[name]
		fmt.Printf("    %-40s %8d tokens  $%.4f\n", name, m.TotalTokens, m.TotalCost)
	}
	return 0
}

// report prints the outcome and maps it to the process exit code.
func report(outcome planner.Outcome, streamed bool) int {
	if streamed {
		// Streamed deltas ended without a trailing newline.
		fmt.Println()
	} else if outcome.Content != "" {
		fmt.Println(outcome.Content)
	}

	switch {
	case outcome.Err == nil:
		if outcome.Summary != "" {
			fmt.Fprintf(os.Stderr, "✅ Done in %d turn(s): %s\n", outcome.Turns, outcome.Summary)
		} else {
			fmt.Fprintf(os.Stderr, "✅ Done in %d turn(s) (%d tokens)\n", outcome.Turns, outcome.Usage.TotalTokens)
		}
		return 0
	case planner.ReasonOf(outcome.Err) == planner.ReasonCancelled:
		fmt.Fprintf(os.Stderr, "🛑 Cancelled after %d turn(s)\n", outcome.Turns)
		return 130
	default:
		fmt.Fprintf(os.Stderr, "❌ Failed: %v\n", outcome.Err)
		return 1
	}
}
