// ABOUTME: parley-admin subcommands for conversations, messages, names, exports and tasks
// ABOUTME: Each command opens the components, confirms destructive or user-visible actions, and reports

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/parley/internal/auth"
	"github.com/2389/parley/internal/export"
	"github.com/2389/parley/internal/onboarding"
	"github.com/2389/parley/internal/scheduler"
	"github.com/2389/parley/internal/store"
)

func newStartConversationCmd(g *globals) *cobra.Command {
	var conversation, username string

	cmd := &cobra.Command{
		Use:   "start-conversation",
		Short: "Start a conversation for one user now",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer closeApp(cmd, a)

			conversation = scheduler.NormalizeConversation(conversation)
			if !a.Config.ValidConversation(conversation) {
				return fmt.Errorf("unknown conversation %q", conversation)
			}
			if _, err := a.Store.GetUser(cmd.Context(), username); err != nil {
				return fmt.Errorf("looking up %s: %w", username, err)
			}

			out := cmd.OutOrStdout()
			if !g.confirm(out, fmt.Sprintf("Start %s for %s?", conversation, username)) {
				fmt.Fprintln(out, "Aborted.")
				return nil
			}

			event, err := a.Scheduler.Schedule(cmd.Context(), conversation, username, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s scheduled %s for %s (event %s)\n",
				color.GreenString("✓"), conversation, username, event.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "conversation name")
	cmd.Flags().StringVarP(&username, "user", "u", "", "username")
	_ = cmd.MarkFlagRequired("conversation")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newMessageUserCmd(g *globals) *cobra.Command {
	var message, username, pushID, subID string

	cmd := &cobra.Command{
		Use:   "message-user",
		Short: "Send a push notification to one user",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer closeApp(cmd, a)

			ctx := cmd.Context()
			var user *store.User
			switch {
			case username != "":
				user, err = a.Store.GetUser(ctx, username)
			case pushID != "":
				user, err = a.Store.GetUserByPushID(ctx, pushID)
			case subID != "":
				user, err = a.Store.GetUserBySubID(ctx, subID)
			default:
				return errors.New("one of --user, --push-id or --sub is required")
			}
			if err != nil {
				return fmt.Errorf("finding user: %w", err)
			}

			out := cmd.OutOrStdout()
			if !g.confirm(out, fmt.Sprintf("Send %q to %s?", message, user.Username)) {
				fmt.Fprintln(out, "Aborted.")
				return nil
			}
			if err := a.Notifier.Notify(ctx, user.Username, message, true); err != nil {
				return fmt.Errorf("notifying %s: %w", user.Username, err)
			}
			fmt.Fprintf(out, "%s notified %s\n", color.GreenString("✓"), user.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "message text")
	cmd.Flags().StringVarP(&username, "user", "u", "", "username")
	cmd.Flags().StringVar(&pushID, "push-id", "", "push target id")
	cmd.Flags().StringVar(&subID, "sub", "", "identity provider subject")
	cmd.MarkFlagsMutuallyExclusive("user", "push-id", "sub")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func newSetNamesCmd(g *globals) *cobra.Command {
	var username string

	cmd := &cobra.Command{
		Use:   "set-names",
		Short: "Push name slots to the dialogue engine for one or all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer closeApp(cmd, a)

			ctx := cmd.Context()
			var users []*store.User
			if username != "" {
				user, err := a.Store.GetUser(ctx, username)
				if err != nil {
					return fmt.Errorf("looking up %s: %w", username, err)
				}
				users = []*store.User{user}
			} else {
				if users, err = a.Store.ListUsers(ctx); err != nil {
					return fmt.Errorf("listing users: %w", err)
				}
			}

			for _, u := range users {
				a.Bridge.SetNames(ctx, u, u.Config.Get(onboarding.FieldLanguage))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s names sent for %d user(s)\n", color.GreenString("✓"), len(users))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "", "only this user")
	return cmd
}

func newExportCmd(g *globals) *cobra.Command {
	var format, outDir string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every user's conversation to files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != export.FormatTSV && format != export.FormatHTML {
				return fmt.Errorf("unsupported format %q (want tsv or html)", format)
			}
			a, err := g.open()
			if err != nil {
				return err
			}
			defer closeApp(cmd, a)

			exporter := export.New(a.Store, a.Location, nil)
			paths, err := exporter.ExportAll(cmd.Context(), outDir, format)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range paths {
				fmt.Fprintln(out, p)
			}
			fmt.Fprintf(out, "%s exported %d conversation(s)\n", color.GreenString("✓"), len(paths))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", export.FormatTSV, "output format: tsv or html")
	cmd.Flags().StringVar(&outDir, "out", ".", "output directory")
	return cmd
}

func newScheduleBulkCmd(g *globals) *cobra.Command {
	var conversation, username string

	cmd := &cobra.Command{
		Use:   "schedule-bulk",
		Short: "Schedule a conversation for every reachable user, staggered",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer closeApp(cmd, a)

			conversation = scheduler.NormalizeConversation(conversation)
			if !a.Config.ValidConversation(conversation) {
				return fmt.Errorf("unknown conversation %q", conversation)
			}

			target := "every user with a push id"
			if username != "" {
				target = username
			}
			out := cmd.OutOrStdout()
			if !g.confirm(out, fmt.Sprintf("Schedule %s for %s?", conversation, target)) {
				fmt.Fprintln(out, "Aborted.")
				return nil
			}

			n, err := a.Scheduler.ScheduleBulk(cmd.Context(), conversation, username)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s scheduled %s for %d user(s)\n", color.GreenString("✓"), conversation, n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&conversation, "conversation", "c", "", "conversation name")
	cmd.Flags().StringVarP(&username, "user", "u", "", "only this user")
	_ = cmd.MarkFlagRequired("conversation")
	return cmd
}

func newTasksCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List pending scheduled events",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open()
			if err != nil {
				return err
			}
			defer closeApp(cmd, a)

			events, err := a.Store.ListPendingEvents(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing events: %w", err)
			}
			return printEvents(cmd.OutOrStdout(), events, a.Location)
		},
	}
}

func printEvents(out io.Writer, events []*store.ScheduledEvent, loc *time.Location) error {
	if len(events) == 0 {
		fmt.Fprintln(out, "No pending tasks.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN AT\tTASK\tCONVERSATION\tUSER\tLOCKED")
	for _, e := range events {
		user := e.Username
		if user == "" {
			user = "(all)"
		}
		locked := ""
		if e.LockedAt != nil {
			locked = e.LockedAt.In(loc).Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.RunAt.In(loc).Format(time.DateTime), e.Task, e.Conversation, user, locked)
	}
	return tw.Flush()
}

func newHashSecretCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret [secret]",
		Short: "Print a bcrypt hash for auth.backend_secret",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := ""
			if len(args) == 1 {
				secret = args[0]
			} else {
				b, err := io.ReadAll(io.LimitReader(g.in, 4096))
				if err != nil {
					return fmt.Errorf("reading secret: %w", err)
				}
				secret = strings.TrimSpace(string(b))
			}
			if secret == "" {
				return errors.New("empty secret")
			}
			hash, err := auth.HashSecret(secret)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
