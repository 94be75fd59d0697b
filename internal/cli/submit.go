package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var submitSessionID string

var submitCmd = &cobra.Command{
	Use:   "submit <question>",
	Short: "Submit a question and print its job ID",
	Long: `Submit enqueues a question onto the dispatcher and immediately
returns its job ID, without waiting for a result. Use "poll" to check
on it, or "ask" to do both in one step.

Examples:
  enginectl submit "how many orders shipped last week?"
  enginectl submit "top 5 customers by revenue" --session s1`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&submitSessionID, "session", "", "conversation session ID (creates a new one if omitted)")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	jobID, err := engine.Submit(context.Background(), args[0], submitSessionID)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	fmt.Println(jobID)
	return nil
}
