package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/floegence/imagent/internal/config"
)

// skipConfig marks commands that run without loading config.
const skipConfig = "imagent/skip-config"

// app holds the global flags and the state PersistentPreRunE loads for every command.
type app struct {
	configPath string
	logFormat  string
	logLevel   string

	cfg *config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "imagent",
		Short: "Classify, extract and store information from images with a tool-using model loop",
		Long: `imagent runs one agent loop per image: a reasoning model classifies the image,
extracts a structured record for its category (searching the web when a paper
abstract is missing) and saves the record to SQLite.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, ok := cmd.Annotations[skipConfig]; ok {
				return nil
			}
			return a.load(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config path (default: config/config.yaml, falling back to config/config.example.yaml)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: json|text (overrides log_format)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error (overrides log_level)")

	root.AddCommand(
		newRunCmd(a),
		newWatchCmd(a),
		newEventsCmd(a),
		newSearchCmd(a),
		newReplayCmd(a),
		newSecretsCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) load(stderr io.Writer) error {
	path, fallback, err := config.Resolve(a.configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if v := strings.TrimSpace(a.logFormat); v != "" {
		cfg.LogFormat = v
	}
	if v := strings.TrimSpace(a.logLevel); v != "" {
		cfg.LogLevel = v
	}
	logger, err := newLogger(stderr, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	if fallback {
		logger.Warn("config.yaml not found, using the example config", "path", path)
	}
	logger.Debug("config loaded", "path", path, "llm", cfg.ActiveModels.LLM, "vlm", cfg.ActiveModels.VLM)
	a.cfg = cfg
	a.log = logger
	return nil
}

func (a *app) keys() config.KeyResolver {
	return config.KeyResolver{Secrets: config.NewSecretsStore(a.cfg.SecretsPath)}
}

func newLogger(w io.Writer, format string, level string) (*slog.Logger, error) {
	var h slog.Handler

	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	case "json":
		h = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	return slog.New(h), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print build information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: ""},
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "imagent %s (%s) %s\n", Version, Commit, BuildTime)
			return err
		},
	}
}
