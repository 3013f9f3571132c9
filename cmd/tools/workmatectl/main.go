// Command workmatectl is the operator CLI for the transcription service: it
// uploads recordings, follows their runs and prints the results.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL    string
	token        string
	outputFormat string
	timeout      time.Duration
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "workmatectl",
		Short: "Operate the WorkMate transcription service",
		Long: `workmatectl talks to the transcription service over HTTP.

Examples:
  # Mint a token for local testing
  workmatectl token --user alice --secret "$JWT_SECRET"

  # Upload a recording and wait for the run to finish
  workmatectl upload standup.mp3 --tier premium --wait

  # Inspect a meeting
  workmatectl status 3f0c...  |  workmatectl tasks 3f0c...`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&serverURL, "server", envOr("WORKMATE_SERVER", "http://localhost:8080"), "Service base URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("WORKMATE_TOKEN"), "Bearer token")
	root.PersistentFlags().StringVarP(&outputFormat, "output", "o", "json", "Output format: json, yaml")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Per-request timeout")

	root.AddCommand(newTokenCommand())
	root.AddCommand(newUploadCommand())
	root.AddCommand(newStatusCommand())
	for _, resource := range []string{"transcript", "analysis", "documents", "tasks"} {
		root.AddCommand(newGetCommand(resource))
	}
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
