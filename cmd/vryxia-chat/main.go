// Command vryxia-chat runs a Vryxia conversation in the terminal.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/vryxia/internal/agent"
	"github.com/ashureev/vryxia/internal/config"
	"github.com/ashureev/vryxia/internal/persona"
	"github.com/ashureev/vryxia/internal/session"
	"github.com/ashureev/vryxia/internal/tui"
)

var (
	personaFile string
	provider    string
	model       string
	cooldown    time.Duration
	timeout     time.Duration
	logFile     string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "vryxia-chat",
	Short: "Chat with Vryxia from the terminal",
	Long: `vryxia-chat runs one conversation session in-process and renders it
with a terminal UI. Replies come from the Gemini API when GEMINI_API_KEY is
set; otherwise every message is answered with the persona fallback.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runChat(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVar(&personaFile, "persona", "", "persona YAML file (overrides PERSONA_FILE)")
	rootCmd.Flags().StringVar(&provider, "provider", "", "generator backend: gemini or genai (overrides LLM_PROVIDER)")
	rootCmd.Flags().StringVar(&model, "model", "", "model name (overrides GEMINI_MODEL)")
	rootCmd.Flags().DurationVar(&cooldown, "cooldown", 0, "how long the reply marker stays lit (overrides REPLY_COOLDOWN)")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 0, "request timeout (overrides REQUEST_TIMEOUT)")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "write JSON logs to this file instead of discarding them")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug-level logging")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// newLogger keeps logs off the terminal the UI owns.
func newLogger() (*slog.Logger, func() error, error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if logFile == "" {
		return slog.New(slog.NewJSONHandler(io.Discard, nil)), func() error { return nil }, nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})), f.Close, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if personaFile != "" {
		cfg.PersonaFile = personaFile
	}
	if provider != "" {
		cfg.LLM.Provider = provider
	}
	if model != "" {
		cfg.LLM.Model = model
	}
	if cooldown > 0 {
		cfg.Chat.ReplyCooldown = cooldown
	}
	if timeout > 0 {
		cfg.LLM.RequestTimeout = timeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

func runChat(ctx context.Context) error {
	_ = godotenv.Load()

	logger, closeLog, err := newLogger()
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	p, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		return err
	}

	gen, configured, err := agent.NewFromConfig(ctx, cfg.LLM, logger)
	if err != nil {
		return err
	}
	if !configured {
		fmt.Fprintln(os.Stderr, "GEMINI_API_KEY not set: replies will use the fallback text.")
	}

	convLog, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer func() { _ = convLog.Close() }()

	events := tui.NewEventChannel(128)
	ctrl := session.NewController(gen, p, session.Config{
		UserID:          "local",
		SessionID:       "terminal",
		ReplyCooldown:   cfg.Chat.ReplyCooldown,
		Sink:            events,
		ConversationLog: convLog,
		Logger:          logger,
	})
	// A reply still pending at exit is discarded by Close; waiting for it
	// would hold the terminal for up to REQUEST_TIMEOUT.
	defer ctrl.Close()

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		logger.Warn("Markdown renderer unavailable, showing plain text", "error", err)
		renderer = nil
	}

	program := tea.NewProgram(
		tui.New(ctrl, events, tui.Options{Name: p.Name, Renderer: renderer}),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run terminal UI: %w", err)
	}
	return nil
}
