package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewDLQCmd создаёт группу команд для работы с Dead Letter Queue.
func NewDLQCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and retry dead-lettered jobs",
	}

	cmd.AddCommand(
		newDLQListCmd(clientFn, outputFn),
		newDLQShowCmd(clientFn, outputFn),
		newDLQRetryCmd(clientFn, outputFn),
	)

	return cmd
}

func newDLQListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var target string
	var from, to string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List DLQ entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			entries, err := client.ListDLQ(ListDLQOpts{
				Target: target,
				From:   from,
				To:     to,
				Limit:  limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"JOB_ID", "TARGET", "REASON", "ATTEMPT", "LAST_ERROR", "DEAD_LETTERED"}
			rows := make([][]string, len(entries))
			for i, e := range entries {
				lastError := ""
				if e.LastError != nil {
					lastError = e.LastError.Code
				}
				rows[i] = []string{e.JobID, e.Target, e.TerminalReason, strconv.Itoa(e.Attempt), lastError, e.DeadLetteredAt}
			}

			out.Print(headers, rows, entries)
			return nil
		},
	}

	cmd.Flags().StringVar(&target, "target", "", "Filter by target")
	cmd.Flags().StringVar(&from, "from", "", "Dead-lettered after (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "Dead-lettered before (RFC3339)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newDLQShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show JOB_ID",
		Short: "Show a DLQ entry with its full error history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			entry, err := client.GetDLQEntry(args[0])
			if err != nil {
				return err
			}

			headers := []string{"ATTEMPT", "CODE", "CLASS", "MESSAGE", "AT"}
			rows := make([][]string, len(entry.ErrorHistory))
			for i, rec := range entry.ErrorHistory {
				rows[i] = []string{strconv.Itoa(rec.AttemptAtFailure), rec.Code, rec.Classification, rec.Message, rec.Timestamp}
			}

			out.Success(fmt.Sprintf("Job %s (%s) dead-lettered: %s", entry.JobID, entry.Target, entry.TerminalReason))
			out.Print(headers, rows, entry)
			return nil
		},
	}

	return cmd
}

func newDLQRetryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry JOB_ID",
		Short: "Republish a dead-lettered job with a fresh retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			result, err := client.RetryDLQEntry(args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job %s requeued to %s (attempt %d)", result.JobID, result.Target, result.Attempt))
			out.JSONIf(result)
			return nil
		},
	}

	return cmd
}
