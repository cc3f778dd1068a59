// glitchcube is the operator CLI: run the server, inspect conversations, and
// manage the persona's goal.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"glitchcube/internal/config"
	"glitchcube/internal/goal"
	"glitchcube/internal/logging"
	serverApp "glitchcube/internal/server/app"
	serverHTTP "glitchcube/internal/server/http"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "glitchcube",
		Short: "Conversational persona backend",
		Long:  "Backend for a conversational persona with out-of-band device actions and time-boxed goals.",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")

	root.AddCommand(serveCmd(), conversationsCmd(), goalCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadApp() (*serverApp.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return serverApp.New(cfg, nil, logging.NewComponentLogger("cli"))
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.Start(ctx)
			server := serverHTTP.NewServer(a, logging.NewComponentLogger("http"))
			if err := server.Run(ctx); err != nil {
				return err
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return a.Shutdown(shutdownCtx)
		},
	}
}

func conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List stored conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			ids, err := a.Conversations.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tENTRIES\tPENDING\tLAST ACTIVITY")
			for _, conversationID := range ids {
				conv, err := a.Conversations.Get(cmd.Context(), conversationID)
				if err != nil {
					continue
				}
				last := "-"
				if at, ok := conv.LastActivity(); ok {
					last = at.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
					conv.ID, conv.Status, len(conv.Entries),
					len(conv.Metadata.PendingResults), last)
			}
			return w.Flush()
		},
	}
}

func goalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goal",
		Short: "Inspect and manage the persona's goal",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active goal and recent history",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			active, err := a.Goals.ActiveGoal(cmd.Context(), goal.DefaultScope)
			if err != nil {
				return err
			}
			if active == nil {
				fmt.Println("No active goal")
			} else {
				fmt.Printf("Active: %s\n  %s\n  expires %s\n",
					active.ID, active.Description, active.ExpiresAt.Format(time.RFC3339))
			}

			history, err := a.Goals.History(cmd.Context(), goal.DefaultScope)
			if err != nil {
				return err
			}
			if len(history) == 0 {
				return nil
			}
			fmt.Println("History:")
			for i := len(history) - 1; i >= 0 && i >= len(history)-5; i-- {
				g := history[i]
				fmt.Printf("  %s  %s  (%s)\n", g.ID, g.Description, g.CompletionNotes)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "select",
		Short: "Select a new goal, superseding the active one",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			g, err := a.Goals.SelectGoal(cmd.Context(), goal.DefaultScope)
			if err != nil {
				return err
			}
			fmt.Printf("Selected %s: %s (expires %s)\n",
				g.ID, g.Description, g.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "complete [notes]",
		Short: "Complete the active goal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			notes := "Completed by operator"
			if len(args) > 0 {
				notes = args[0]
			}
			completed, err := a.Goals.CompleteGoal(cmd.Context(), goal.DefaultScope, notes)
			if err != nil {
				return err
			}
			if !completed {
				fmt.Println("No active goal to complete")
				return nil
			}
			fmt.Println("Goal completed")
			return nil
		},
	})

	return cmd
}
