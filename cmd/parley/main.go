// ABOUTME: Entry point for the parley chat relay server
// ABOUTME: Runs the HTTP API and/or the scheduled-conversation task runner by role

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/2389/parley/internal/app"
	"github.com/2389/parley/internal/config"
	"github.com/2389/parley/internal/scheduler"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                  _
 _ __   __ _ _ __| | ___ _   _
| '_ \ / _' | '__| |/ _ \ | | |
| |_) | (_| | |  | |  __/ |_| |
| .__/ \__,_|_|  |_|\___|\__, |
|_|                      |___/
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: parley <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve [--role api|tasks|all]  Start the server")
		fmt.Println("  tasks                         Run only the task runner (serve --role tasks)")
		fmt.Println("  init                          Create a new config file interactively")
		fmt.Println("  health                        Check server health")
		os.Exit(1)
	}

	// A missing .env is fine
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "tasks":
		err = runServe(ctx, append([]string{"--role", config.RoleTasks}, os.Args[2:]...))
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, scheduler.ErrStorageUnreachable) {
			fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	role := fs.String("role", "", "process role: api, tasks or all (overrides server.role)")
	configPath := fs.String("config", config.DefaultPath(), "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *role != "" {
		cfg.Server.Role = *role
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("validating config: %w", err)
		}
	}

	logger := setupLogger(cfg.Logging)
	printStartup(cfg, *configPath)

	logger.Info("starting parley",
		"config", *configPath,
		"role", cfg.Server.Role,
		"http_addr", cfg.Server.HTTPAddr,
	)

	a, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("closing components", "error", err)
		}
	}()

	return runRoles(ctx, a, logger)
}

// startJobs starts the task role's periodic jobs
var startJobs = scheduler.StartJobs

// runRoles runs the components the configured role asks for until ctx ends
// or one of them fails. It returns only after every started component has
// stopped.
func runRoles(ctx context.Context, a *app.App, logger *slog.Logger) error {
	role := a.Config.Server.Role

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// abort stops whatever already runs before reporting a startup failure
	abort := func(err error) error {
		cancel()
		_ = g.Wait()
		return err
	}

	if role == config.RoleAPI || role == config.RoleAll {
		if err := a.Negotiator.Warm(ctx); err != nil {
			return abort(fmt.Errorf("warming completion cache: %w", err))
		}
		gw, err := a.Gateway()
		if err != nil {
			return abort(fmt.Errorf("creating gateway: %w", err))
		}
		g.Go(func() error { return gw.Run(ctx) })
	}

	if role == config.RoleTasks || role == config.RoleAll {
		runner := a.Runner()
		g.Go(func() error { return runner.Run(ctx) })

		jobs, err := startJobs(ctx, a.Jobs(), logger)
		if err != nil {
			return abort(fmt.Errorf("starting periodic jobs: %w", err))
		}
		g.Go(func() error {
			<-ctx.Done()
			return jobs.Shutdown()
		})

		if path := a.Config.Tasks.SchedulePath; path != "" && a.Config.Tasks.WatchSchedule {
			watcher := scheduler.NewScheduleWatcher(path, func(ctx context.Context) {
				if _, err := a.Scheduler.ReconcileFile(ctx, path); err != nil {
					logger.Error("reconciling changed schedule", "path", path, "error", err)
				}
			}, logger)
			g.Go(func() error { return watcher.Run(ctx) })
		}
	}

	return g.Wait()
}

func printStartup(cfg *config.Config, configPath string) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Role:      %s\n", cfg.Server.Role)
	if cfg.Server.Role != config.RoleTasks {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
		if cfg.Server.GRPCAddr != "" {
			green.Print("    ▶ ")
			fmt.Printf("gRPC:      %s (health)\n", cfg.Server.GRPCAddr)
		}
	}
	green.Print("    ▶ ")
	fmt.Printf("Push:      %s\n", cfg.Notifications.Backend)

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}
	if cfg.Demo.Enabled {
		yellow.Println("    ! demo endpoints enabled")
	}
	fmt.Println()
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
