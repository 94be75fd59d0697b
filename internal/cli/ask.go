package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	askSessionID string
	askTimeout   time.Duration
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Submit a question and wait for its result",
	Long: `Ask submits a question and polls until it reaches a terminal
state (succeeded, failed, or cancelled), printing the result or error.

Examples:
  enginectl ask "how many orders shipped last week?"
  enginectl ask "top 5 customers by revenue" --session s1 --timeout 2m`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSessionID, "session", "", "conversation session ID (creates a new one if omitted)")
	askCmd.Flags().DurationVar(&askTimeout, "timeout", 60*time.Second, "how long to wait for a terminal result")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), askTimeout)
	defer cancel()

	jobID, err := engine.Submit(ctx, args[0], askSessionID)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			exitWithError("timed out waiting for job %s", jobID)
		case <-ticker.C:
			res, err := engine.Poll(ctx, jobID)
			if err != nil {
				return fmt.Errorf("poll: %w", err)
			}
			if res.State == "succeeded" || res.State == "failed" || res.State == "cancelled" {
				printResult(res)
				return nil
			}
		}
	}
}
