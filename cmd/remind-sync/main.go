// ABOUTME: Entry point for the remind-sync demo client
// ABOUTME: Connects the sync engine and tails reminder changes in the terminal

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/remindful/sync-engine/internal/api"
	"github.com/remindful/sync-engine/internal/config"
	"github.com/remindful/sync-engine/internal/creds"
	"github.com/remindful/sync-engine/internal/engine"
	"github.com/remindful/sync-engine/internal/entity"
	"github.com/remindful/sync-engine/internal/watch"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getConfigPath returns the path to the sync config file.
// Priority: REMINDFUL_CONFIG env var > XDG_CONFIG_HOME/remindful/sync.yaml > ~/.config/remindful/sync.yaml
func getConfigPath() string {
	if envPath := os.Getenv("REMINDFUL_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "sync.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "remindful", "sync.yaml")
}

// getDataPath returns the path to the remindful data directory.
// Priority: XDG_DATA_HOME/remindful > ~/.local/share/remindful
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "remindful")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: remind-sync <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  init                        Create a config file with defaults")
		fmt.Println("  login --access T --refresh T  Store session tokens")
		fmt.Println("  tail                        Connect and tail reminder changes")
		fmt.Println("  status                      Show sync status and cached collections")
		fmt.Println("  add --list ID --title TEXT  Create a reminder")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "init":
		err = runInit()
	case "login":
		err = runLogin()
	case "tail":
		err = runTail(ctx)
	case "status":
		err = runStatus(ctx)
	case "add":
		err = runAdd(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runInit() error {
	configPath := getConfigPath()
	dataPath := getDataPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists: %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	content := fmt.Sprintf(`# remind-sync configuration
# Generated by remind-sync init

api:
  endpoint: "https://api.remindful.example/graphql"
  request_timeout: "30s"

push:
  endpoint: "wss://push.remindful.example/changes"
  reconnect_min_delay: "1s"
  reconnect_max_delay: "2m"
  ping_interval: "30s"
  max_reconnect_attempts: 10

cache:
  path: "%s"

logging:
  level: "info"
  format: "text"
`, filepath.Join(dataPath, "cache.db"))

	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", configPath)
	fmt.Println("\nNext:")
	fmt.Println("  remind-sync login --access TOKEN --refresh TOKEN")
	fmt.Println("  remind-sync tail")
	return nil
}

func runLogin() error {
	var access, refresh string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--access":
			if i+1 >= len(args) {
				return fmt.Errorf("--access requires a value")
			}
			access = args[i+1]
			i++
		case args[i] == "--refresh":
			if i+1 >= len(args) {
				return fmt.Errorf("--refresh requires a value")
			}
			refresh = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--access="):
			access = strings.TrimPrefix(args[i], "--access=")
		case strings.HasPrefix(args[i], "--refresh="):
			refresh = strings.TrimPrefix(args[i], "--refresh=")
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}
	if access == "" || refresh == "" {
		return fmt.Errorf("--access and --refresh are required")
	}

	store, err := creds.NewFileStore(getDataPath())
	if err != nil {
		return fmt.Errorf("opening credential store: %w", err)
	}
	if err := store.Set(creds.Session{AccessToken: access, RefreshToken: refresh}); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	color.New(color.FgGreen).Println("  ✓ Session saved")
	return nil
}

func setup(ctx context.Context) (*engine.Engine, *config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	store, err := creds.NewFileStore(getDataPath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening credential store: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	e, err := engine.New(cfg, store, engine.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("creating engine: %w", err)
	}

	if err := e.Connect(ctx); err != nil {
		_ = e.Close()
		return nil, nil, fmt.Errorf("connecting: %w", err)
	}
	return e, cfg, nil
}

func runTail(ctx context.Context) error {
	e, cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	cyan.Printf("remind-sync %s\n", version)
	gray.Printf("api:  %s\n", cfg.API.Endpoint)
	gray.Printf("push: %s\n\n", cfg.Push.Endpoint)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	e.OnReminderCreated(func(ev engine.ReminderEvent) {
		green.Print("+ ")
		printReminder(ev.Reminder)
	})
	e.OnReminderUpdated(func(ev engine.ReminderEvent) {
		yellow.Print("~ ")
		printReminder(ev.Reminder)
	})
	e.OnReminderDeleted(func(ev engine.ReminderEvent) {
		red.Printf("- %s\n", ev.ID)
	})

	h := e.Watch(watch.RemindersQuery{}, func(r watch.Result) {
		if r.Err != nil {
			red.Printf("watch error: %v\n", r.Err)
		}
	})
	defer h.Cancel()

	for _, r := range e.Reminders("") {
		gray.Print("  ")
		printReminder(r)
	}
	fmt.Println()

	<-ctx.Done()
	fmt.Println("\nshutting down")
	return nil
}

func printReminder(r *entity.Reminder) {
	if r == nil {
		return
	}
	due := ""
	if d := r.EffectiveDueAt(); d != nil {
		due = d.Local().Format("Jan 02 15:04")
	}
	status := " "
	if r.Completed() {
		status = "✓"
	}
	fmt.Printf("[%s] %-40s %s\n", status, r.Title, due)
}

func runStatus(ctx context.Context) error {
	e, _, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	if u := e.Profile(); u != nil {
		cyan.Printf("%s", u.Email)
		if u.Premium {
			color.New(color.FgYellow).Print(" [premium]")
		}
		fmt.Println()
	}
	fmt.Printf("status: %s\n\n", e.Status())

	for _, l := range e.Lists() {
		fmt.Printf("%-24s", l.Name)
		gray.Printf("%d reminders\n", l.ReminderCount)
	}
	return nil
}

func runAdd(ctx context.Context) error {
	var listID, title string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--list":
			if i+1 >= len(args) {
				return fmt.Errorf("--list requires a value")
			}
			listID = args[i+1]
			i++
		case args[i] == "--title":
			if i+1 >= len(args) {
				return fmt.Errorf("--title requires a value")
			}
			title = args[i+1]
			i++
		default:
			return fmt.Errorf("unexpected argument: %s", args[i])
		}
	}
	if listID == "" || title == "" {
		return fmt.Errorf("--list and --title are required")
	}

	e, _, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	r, err := e.CreateReminder(ctx, api.ReminderInput{ListID: listID, Title: title})
	if err != nil {
		return fmt.Errorf("creating reminder: %w", err)
	}
	if r == nil {
		return fmt.Errorf("server accepted the mutation but returned no reminder")
	}
	color.New(color.FgGreen).Printf("  ✓ Created %s\n", r.ID)
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
