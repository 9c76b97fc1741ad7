package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/timmy/catalogsync/internal/domain"
)

func newSyncCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Start sync jobs",
	}

	var full, wait bool
	trigger := &cobra.Command{
		Use:   "trigger <datasource>",
		Short: "Sync a datasource (incremental when a watermark exists)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client().TriggerSync(cmd.Context(), domain.TriggerSyncRequest{
				DatasourceID: args[0],
				ForceFull:    full,
			})
			if err != nil {
				return err
			}
			return a.afterTrigger(cmd.Context(), res, wait)
		},
	}
	trigger.Flags().BoolVar(&full, "full", false, "re-read every row instead of resuming from the watermark")
	trigger.Flags().BoolVar(&wait, "wait", false, "follow the job until it finishes")

	var webhookWait bool
	webhook := &cobra.Command{
		Use:   "webhook <datasource> <key>...",
		Short: "Sync specific records by key",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client().Webhook(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			return a.afterTrigger(cmd.Context(), res, webhookWait)
		},
	}
	webhook.Flags().BoolVar(&webhookWait, "wait", false, "follow the job until it finishes")

	cmd.AddCommand(trigger, webhook)
	return cmd
}

func (a *app) afterTrigger(ctx context.Context, res *TriggerResult, wait bool) error {
	if !wait {
		return a.render(res, func(w *tabwriter.Writer) {
			fmt.Fprintln(w, "JOB\tTYPE\tSTATUS")
			fmt.Fprintf(w, "%s\t%s\t%s\n", res.JobID, res.Type, res.Status)
		})
	}
	job, err := a.waitForJob(ctx, res.JobID)
	if err != nil {
		return err
	}
	if err := a.renderJob(job); err != nil {
		return err
	}
	if job.Status != domain.JobStatusCompleted {
		return fmt.Errorf("job %s finished as %s", job.ID, job.Status)
	}
	return nil
}

// waitForJob polls the job until it reaches a terminal state, drawing a
// progress bar of processed over total records.
func (a *app) waitForJob(ctx context.Context, id string) (*domain.SyncJob, error) {
	client := a.client()
	bar := progressbar.NewOptions64(-1,
		progressbar.OptionSetWriter(a.errOut),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("Syncing "+id),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(a.errOut)
		}),
	)
	var total int64 = -1

	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()
	for {
		job, err := client.GetJob(ctx, id, 0)
		if err != nil {
			return nil, err
		}
		if job.TotalRecords > 0 && job.TotalRecords != total {
			total = job.TotalRecords
			bar.ChangeMax64(total)
		}
		_ = bar.Set64(job.ProcessedRecords)
		if job.Status.IsTerminal() {
			_ = bar.Finish()
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
