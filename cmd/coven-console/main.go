// ABOUTME: Entry point for the coven-console operator server
// ABOUTME: Wires store, agent client, activity stream and knowledge base into the console API

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-console/internal/activity"
	"github.com/2389/coven-console/internal/agent"
	"github.com/2389/coven-console/internal/config"
	"github.com/2389/coven-console/internal/console"
	"github.com/2389/coven-console/internal/conversation"
	"github.com/2389/coven-console/internal/knowledge"
	"github.com/2389/coven-console/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                                         _
  ___ _____   _____ _ __         ___ ___  _ __  ___  ___ | | ___
 / __/ _ \ \ / / _ \ '_ \ _____ / __/ _ \| '_ \/ __|/ _ \| |/ _ \
| (_| (_) \ V /  __/ | | |_____| (_| (_) | | | \__ \ (_) | |  __/
 \___\___/ \_/ \___|_| |_|      \___\___/|_| |_|___/\___/|_|\___|
`

func usage() {
	fmt.Println("Usage: coven-console <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                  Start the console server (default)")
	fmt.Println("  init                   Write an example config file")
	fmt.Println("  health                 Check console health")
	fmt.Println("  send ID TEXT           Send a customer message and print the reply")
	fmt.Println("  watch ID               Follow a conversation's activity via Redis")
}

func main() {
	cmd := "serve"
	if len(os.Args) >= 2 {
		cmd = os.Args[1]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	case "send":
		err = runSend(ctx, os.Args[2:])
	case "watch":
		err = runWatch(ctx, os.Args[2:])
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig preloads .env and reads the config file.
func loadConfig() (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", err
	}
	path := config.DefaultPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Store:     %s\n", cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Agents:    %s\n", cfg.Agents.Endpoint)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if !cfg.Events.Enabled {
		yellow.Println("    ! activity stream disabled")
	}
	fmt.Println()

	logger.Info("starting coven-console",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"store", cfg.Database.Driver,
	)

	st, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	directory, err := agent.NewDirectory(
		agent.Persona{ID: cfg.Agents.Coordinator.ID, Name: cfg.Agents.Coordinator.Name, Role: agent.RoleCoordinator},
		agent.Persona{ID: cfg.Agents.Knowledge.ID, Name: cfg.Agents.Knowledge.Name, Role: agent.RoleKnowledge},
		agent.Persona{ID: cfg.Agents.Channel.ID, Name: cfg.Agents.Channel.Name, Role: agent.RoleChannel},
	)
	if err != nil {
		return fmt.Errorf("building agent directory: %w", err)
	}
	coordinator, err := directory.ByRole(agent.RoleCoordinator)
	if err != nil {
		return err
	}

	client := agent.NewClient(agent.ClientConfig{
		Endpoint: cfg.Agents.Endpoint,
		APIKey:   cfg.Agents.APIKey,
		UserID:   cfg.Agents.UserID,
		Timeout:  cfg.Agents.RequestTimeout,
	}, logger)

	var listener activity.Listener = activity.NopListener{}
	if cfg.Events.Enabled {
		if cfg.Agents.APIKey == "" {
			logger.Warn("activity stream enabled without agents.api_key, continuing without it")
		} else {
			listener = activity.NewWebSocketListener(activity.WebSocketConfig{
				Endpoint:    cfg.Events.Endpoint,
				APIKey:      cfg.Agents.APIKey,
				DialTimeout: cfg.Events.DialTimeout,
			}, logger)
		}
	}

	var publisher activity.Publisher
	if cfg.Activity.RedisURL != "" {
		mirror, err := activity.NewRedisMirror(ctx, cfg.Activity.RedisURL)
		if err != nil {
			return err
		}
		defer mirror.Close()
		publisher = mirror
		logger.Info("mirroring activity to redis")
	}

	service := conversation.New(conversation.Deps{
		Store:     st,
		Invoker:   client,
		Listener:  listener,
		Publisher: publisher,
		Personas: conversation.Personas{
			Coordinator:   coordinator,
			KnowledgeName: cfg.Agents.Knowledge.Name,
			ChannelName:   cfg.Agents.Channel.Name,
		},
	}, logger)

	var kb *knowledge.Client
	if cfg.Knowledge.BaseURL != "" {
		kb = knowledge.NewClient(knowledge.Config{
			BaseURL: cfg.Knowledge.BaseURL,
			APIKey:  cfg.Agents.APIKey,
			RagID:   cfg.Knowledge.RagID,
			Timeout: cfg.Knowledge.RequestTimeout,
		}, client, cfg.Agents.Knowledge.ID, logger)
	}

	srv := console.New(cfg, console.Deps{
		Service:   service,
		Directory: directory,
		Knowledge: kb,
	}, logger)

	return srv.Run(ctx)
}

func openStore(cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
		s, err := store.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return s, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func runInit() error {
	path := config.DefaultPath()

	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists: %s", path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(config.Example), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created config: %s\n", path)
	fmt.Println()
	fmt.Println("  Fill in the agent ids and API key, then start the console:")
	fmt.Println("    coven-console serve")
	return nil
}
