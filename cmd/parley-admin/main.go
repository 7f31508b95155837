// ABOUTME: Operator CLI for parley: trigger conversations, message users, export transcripts
// ABOUTME: Built on cobra; acts directly on the configured store and components

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/2389/parley/internal/app"
	"github.com/2389/parley/internal/config"
)

// globals holds flags shared by every command
type globals struct {
	configPath string
	yes        bool
	verbose    bool
	in         io.Reader
}

func main() {
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdin).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader) *cobra.Command {
	g := &globals{in: in}

	root := &cobra.Command{
		Use:           "parley-admin",
		Short:         "Manage a parley deployment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", config.DefaultPath(), "config file path")
	root.PersistentFlags().BoolVarP(&g.yes, "yes", "y", false, "skip confirmation prompts")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "log component activity")

	root.AddCommand(
		newStartConversationCmd(g),
		newMessageUserCmd(g),
		newSetNamesCmd(g),
		newExportCmd(g),
		newScheduleBulkCmd(g),
		newTasksCmd(g),
		newHashSecretCmd(g),
	)
	return root
}

// open loads the config and builds the components a command acts on.
func (g *globals) open() (*app.App, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	level := slog.LevelWarn
	if g.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return app.Build(cfg, logger)
}

// confirm asks question unless --yes was given. EOF means no.
func (g *globals) confirm(out io.Writer, question string) bool {
	if g.yes {
		return true
	}
	fmt.Fprintf(out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(g.in).ReadString('\n')
	if err != nil && answer == "" {
		fmt.Fprintln(out)
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func closeApp(cmd *cobra.Command, a *app.App) {
	if err := a.Close(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), color.YellowString("warning:"), "closing store:", err)
	}
}
