package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewJobCmd создаёт группу команд для работы с jobs.
func NewJobCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage quote jobs",
	}

	cmd.AddCommand(
		newJobSubmitCmd(clientFn, outputFn),
		newJobStatusCmd(clientFn, outputFn),
		newJobListCmd(clientFn, outputFn),
	)

	return cmd
}

func newJobSubmitCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var jobID string
	var payload []string

	cmd := &cobra.Command{
		Use:   "submit TARGET",
		Short: "Submit a job to a target's queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := SubmitJobRequest{
				JobID:  jobID,
				Target: args[0],
			}

			if len(payload) > 0 {
				req.Payload = make(map[string]any)
				for _, kv := range payload {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid payload format %q, expected KEY=VALUE", kv)
					}
					req.Payload[parts[0]] = parts[1]
				}
			}

			job, err := client.SubmitJob(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job %s submitted to %s", job.JobID, job.Target))
			out.Print(
				[]string{"JOB_ID", "TARGET", "STATE", "ENQUEUED"},
				[][]string{{job.JobID, job.Target, job.State, job.EnqueuedAt}},
				job,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "Client-supplied job ID (idempotency key)")
	cmd.Flags().StringArrayVar(&payload, "payload", nil, "Payload entry KEY=VALUE (repeatable)")

	return cmd
}

func newJobStatusCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show job status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			job, err := client.GetJob(args[0])
			if err != nil {
				return err
			}

			lastError := ""
			if job.LastError != nil {
				lastError = job.LastError.Code
			}

			out.Print(
				[]string{"JOB_ID", "TARGET", "ATTEMPT", "STATE", "LAST_ERROR", "UPDATED"},
				[][]string{{job.JobID, job.Target, strconv.Itoa(job.Attempt), job.State, lastError, job.UpdatedAt}},
				job,
			)
			return nil
		},
	}

	return cmd
}

func newJobListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list TARGET",
		Short: "List recent jobs for a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			jobs, err := client.ListJobs(args[0], limit)
			if err != nil {
				return err
			}

			headers := []string{"JOB_ID", "ATTEMPT", "STATE", "LAST_ERROR", "UPDATED"}
			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				lastError := ""
				if j.LastError != nil {
					lastError = j.LastError.Code
				}
				rows[i] = []string{j.JobID, strconv.Itoa(j.Attempt), j.State, lastError, j.UpdatedAt}
			}

			out.Print(headers, rows, jobs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

// NewAdmissionCmd создаёт команду статистики admission.
func NewAdmissionCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admission",
		Short: "Show running jobs per target",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			stats, err := client.GetAdmission()
			if err != nil {
				return err
			}

			headers := []string{"TARGET", "RUNNING"}
			rows := make([][]string, 0, len(stats.Running))
			for target, n := range stats.Running {
				rows = append(rows, []string{target, strconv.Itoa(n)})
			}
			rows = append(rows, []string{"TOTAL", strconv.Itoa(stats.Total)})

			out.Print(headers, rows, stats)
			return nil
		},
	}

	return cmd
}
