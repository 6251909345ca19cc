package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rendis/agentic/internal/config"
	"github.com/rendis/agentic/internal/engine"
	"github.com/rendis/agentic/internal/logging"
	"github.com/rendis/agentic/internal/model"
	"github.com/rendis/agentic/internal/model/anthropic"
	modelopenai "github.com/rendis/agentic/internal/model/openai"
	"github.com/rendis/agentic/internal/scheduler"
	"github.com/rendis/agentic/internal/store"
	"github.com/rendis/agentic/internal/streaming"
	"github.com/rendis/agentic/internal/validation"
	"github.com/rendis/agentic/pkg/schema"
)

var (
	flagDB        string
	flagLogLevel  string
	flagLogFormat string
	flagProvider  string
	flagModel     string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "agentic",
		Short:         "Config-driven agent orchestration engine",
		Long:          "Agentic executes JSON-defined agents as hierarchical state machines,\ndelegating work to child agents and LLM providers.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "libSQL database path (default: in-memory store)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "mock", "model provider: mock, anthropic, openai")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "override the provider's default model name")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newScheduleCommand())
	rootCmd.AddCommand(newServeCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <config-file>",
		Short: "Run an agent definition to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, _ := cmd.Flags().GetString("input")
			return runAgent(cmd.Context(), args[0], input)
		},
	}
	cmd.Flags().StringP("input", "i", "", "initial input for the agent")
	return cmd
}

func runAgent(ctx context.Context, configPath, input string) error {
	logger := buildLogger()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	m, err := buildModel()
	if err != nil {
		return err
	}

	loader, err := config.NewFileLoader(filepath.Dir(configPath))
	if err != nil {
		return err
	}

	e, err := engine.New(engine.Config{
		Model:  m,
		Loader: loader,
		Store:  st,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = e.Shutdown(sctx)
	}()

	// Subscribe before starting so no lifecycle event is missed.
	events, unsubscribe, err := e.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	defer unsubscribe()

	h, err := e.StartFromFile(ctx, filepath.Base(configPath), input)
	if err != nil {
		return err
	}

	go pumpEvents(e, events, h.InstanceID())

	result, err := h.Wait(ctx)
	if err != nil {
		return err
	}
	fmt.Println(result)
	return nil
}

// pumpEvents prints emitted outputs and feeds stdin lines to instances that
// suspend on wait_for_input.
func pumpEvents(e *engine.Engine, events <-chan streaming.StreamEvent, rootID string) {
	stdin := bufio.NewScanner(os.Stdin)
	for ev := range events {
		switch ev.EventType {
		case schema.EventOutputEmitted:
			fmt.Fprintf(os.Stderr, "[%s] %v\n", ev.Stream, ev.Payload)
		case schema.EventInstanceWaiting:
			if ev.InstanceID != rootID {
				continue
			}
			fmt.Fprint(os.Stderr, "> ")
			if !stdin.Scan() {
				return
			}
			if err := e.DeliverInput(ev.InstanceID, stdin.Text()); err != nil {
				fmt.Fprintln(os.Stderr, "input rejected:", err)
			}
		}
	}
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate an agent definition without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			v, err := validation.NewValidator()
			if err != nil {
				return err
			}
			def, err := v.ValidateRaw(raw)
			if err != nil {
				return err
			}
			if err := validation.ValidateSemantics(def); err != nil {
				return err
			}

			fmt.Printf("%s: valid (%d states)\n", def.Label, len(def.States))
			return nil
		},
	}
}

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect persisted runs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(cmd.Context(), store.RunFilter{Limit: 20})
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("No runs found.")
				return nil
			}
			for _, run := range runs {
				fmt.Printf("%s  %-12s %-10s %s\n",
					run.ID, run.AgentLabel, run.Status, truncate(run.Result, 50))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fmt.Printf("Run %s (%s)\n", run.ID, run.AgentLabel)
			fmt.Printf("Status: %s\n", run.Status)
			if run.ParentID != "" {
				fmt.Printf("Parent: %s\n", run.ParentID)
			}
			if run.Result != "" {
				fmt.Printf("Result: %s\n", run.Result)
			}
			if len(run.Error) > 0 {
				fmt.Printf("Error: %s\n", run.Error)
			}

			events, err := st.GetEvents(cmd.Context(), run.ID, 0)
			if err != nil {
				return err
			}
			if len(events) > 0 {
				fmt.Println("\nEvents:")
				for _, ev := range events {
					line := fmt.Sprintf("  %3d. %s", ev.Sequence, ev.Type)
					if ev.StateKey != "" {
						line += " @" + ev.StateKey
					}
					fmt.Println(line)
				}
			}
			return nil
		},
	})

	return cmd
}

func newScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage cron schedules",
	}

	addCmd := &cobra.Command{
		Use:   "add <config-file>",
		Short: "Register a cron schedule for an agent config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cronExpr, _ := cmd.Flags().GetString("cron")
			input, _ := cmd.Flags().GetString("input")

			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			sched := &store.Schedule{
				ID:             uuid.NewString(),
				ConfigFile:     args[0],
				CronExpression: cronExpr,
				Input:          input,
				Enabled:        true,
			}
			if err := st.CreateSchedule(cmd.Context(), sched); err != nil {
				return err
			}
			fmt.Printf("Created schedule %s (%s)\n", sched.ID, cronExpr)
			return nil
		},
	}
	addCmd.Flags().String("cron", "0 * * * *", "cron expression (minute granularity)")
	addCmd.Flags().StringP("input", "i", "", "input passed to each scheduled run")
	_ = addCmd.MarkFlagRequired("cron")
	cmd.AddCommand(addCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			scheds, err := st.ListSchedules(cmd.Context(), store.ScheduleFilter{})
			if err != nil {
				return err
			}
			if len(scheds) == 0 {
				fmt.Println("No schedules found.")
				return nil
			}
			for _, s := range scheds {
				state := "enabled"
				if !s.Enabled {
					state = "disabled"
				}
				next := "-"
				if s.NextRunAt != nil {
					next = s.NextRunAt.Format(time.RFC3339)
				}
				fmt.Printf("%s  %-20s %-16s %s next=%s\n",
					s.ID, s.ConfigFile, s.CronExpression, state, next)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <schedule-id>",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.DeleteSchedule(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted schedule %s\n", args[0])
			return nil
		},
	})

	return cmd
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cron scheduler until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			configRoot, _ := cmd.Flags().GetString("config-root")
			return serve(cmd.Context(), configRoot)
		},
	}
	cmd.Flags().String("config-root", ".", "directory containing agent config files")
	return cmd
}

func serve(ctx context.Context, configRoot string) error {
	logger := buildLogger()

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	m, err := buildModel()
	if err != nil {
		return err
	}

	loader, err := config.NewFileLoader(configRoot)
	if err != nil {
		return err
	}

	e, err := engine.New(engine.Config{
		Model:  m,
		Loader: loader,
		Store:  st,
		Logger: logger,
	})
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler(st, e, logger)
	if err := sched.RecoverMissed(ctx); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	if err := sched.Stop(); err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return e.Shutdown(sctx)
}

func buildLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(flagLogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if strings.EqualFold(flagLogFormat, "json") {
		inner = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		inner = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(logging.NewCorrelationHandler(inner))
}

func openStore(ctx context.Context) (store.RunStore, error) {
	if flagDB == "" {
		return store.NewMemoryStore(), nil
	}

	st, err := store.NewLibSQLStore("file:" + flagDB)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return st, nil
}

func buildModel() (model.Model, error) {
	switch strings.ToLower(flagProvider) {
	case "mock", "":
		return model.NewMockModel("mock"), nil
	case "anthropic":
		if os.Getenv("ANTHROPIC_API_KEY") == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		return anthropic.NewModel(func(o *anthropic.Options) {
			if flagModel != "" {
				o.Model = sdkanthropic.Model(flagModel)
			}
		}), nil
	case "openai":
		if os.Getenv("OPENAI_API_KEY") == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		return modelopenai.NewModel(func(o *modelopenai.Options) {
			if flagModel != "" {
				o.Model = flagModel
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", flagProvider)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
