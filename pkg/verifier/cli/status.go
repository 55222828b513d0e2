package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/opengovern/componentci/pkg/internal/httpclient"
	"github.com/opengovern/componentci/pkg/verifier/api"
	"github.com/opengovern/componentci/pkg/verifier/dispatch"
)

func getJSON(ctx context.Context, baseURL, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := httpclient.DoRequest(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+path, nil, nil, out); err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return nil
}

func writeOutput(w io.Writer, output string, obj any, render func(io.Writer)) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(obj)
	case "table":
		render(w)
		return nil
	default:
		return fmt.Errorf("unknown output %q, expected json or table", output)
	}
}

func renderQueue(w io.Writer, snap dispatch.Snapshot) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Job", "State", "Since"})
	if snap.Running != nil {
		t.AppendRow(table.Row{0, snap.Running.JobID, "running", snap.Running.StartedAt.Format(time.RFC3339)})
	}
	for i, q := range snap.Queued {
		t.AppendRow(table.Row{i + 1, q.JobID, "queued", q.EnqueuedAt.Format(time.RFC3339)})
	}
	t.Render()
}

func renderJob(w io.Writer, job api.JobRunDetails) {
	fmt.Fprintf(w, "%s %s %s: %d passed, %d failed of %d\n",
		job.ID, job.Kind, job.Status, job.Passed, job.Failed, job.TargetCount)
	if job.ErrorMessage != "" {
		fmt.Fprintf(w, "error: %s\n", job.ErrorMessage)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"Target", "Status", "Passed", "Failed", "Retries", "Error"})
	for _, r := range job.Results {
		t.AppendRow(table.Row{r.Target, r.Status, r.Passed, r.Failed, r.RetryCount, r.ErrorMessage})
	}
	t.Render()
}

func queueCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show the running and queued jobs of the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			var snap dispatch.Snapshot
			if err := getJSON(cmd.Context(), loadConfig().WorkerURL, "/api/v1/queue", &snap); err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output, snap, func(w io.Writer) { renderQueue(w, snap) })
		},
	}
	cmd.Flags().StringVar(&output, "output", "table", "specifying output type [json, table]")
	return cmd
}

func jobCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "job <job-id>",
		Short: "Show a job run and its target results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job api.JobRunDetails
			if err := getJSON(cmd.Context(), loadConfig().WorkerURL, "/api/v1/jobs/"+url.PathEscape(args[0]), &job); err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output, job, func(w io.Writer) { renderJob(w, job) })
		},
	}
	cmd.Flags().StringVar(&output, "output", "table", "specifying output type [json, table]")
	return cmd
}
