package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nl2sql/queryengine/internal/queryengine"
)

var pollCmd = &cobra.Command{
	Use:   "poll <job-id>",
	Short: "Print a job's current state",
	Long: `Poll reads back a job's current state: pending, running, a
succeeded record with its answer, or a failed record with its
classified error kind.

Examples:
  enginectl poll 01J...`,
	Args: cobra.ExactArgs(1),
	RunE: runPoll,
}

func runPoll(cmd *cobra.Command, args []string) error {
	res, err := engine.Poll(context.Background(), args[0])
	if err != nil {
		if errors.Is(err, queryengine.ErrUnknownJob) {
			exitWithError("no such job: %s", args[0])
		}
		return fmt.Errorf("poll: %w", err)
	}
	printResult(res)
	return nil
}

func printResult(res *queryengine.PollResult) {
	fmt.Printf("state: %s\n", res.State)
	switch {
	case res.Payload != nil:
		p := res.Payload
		fmt.Printf("sql: %s\n", p.SQL)
		fmt.Printf("summary: %s\n", p.Summary)
		if p.CorrectionApplied {
			fmt.Println("correction: applied")
		}
		fmt.Printf("columns: %v\n", p.Table.Columns)
		for i, row := range p.Table.Rows {
			if i >= 10 {
				fmt.Printf("... and %d more rows\n", len(p.Table.Rows)-10)
				break
			}
			fmt.Printf("  %v\n", row)
		}
		if len(p.Suggestions) > 0 {
			fmt.Println("suggestions:")
			for _, s := range p.Suggestions {
				fmt.Printf("  - %s\n", s)
			}
		}
	case res.Err != nil:
		fmt.Printf("error: [%s] %s\n", res.Err.Kind, res.Err.Message)
	}
}
