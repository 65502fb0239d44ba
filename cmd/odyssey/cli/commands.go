package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// Factory opens the job helpers on demand so that --help works offline.
type Factory func() (*JobsCLI, error)

// NewRootCommand builds the odysseyctl command tree.
func NewRootCommand(factory Factory) *cobra.Command {
	root := &cobra.Command{
		Use:           "odysseyctl",
		Short:         "Operate Odyssey billing background jobs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newJobsCommand(factory))
	return root
}

func newJobsCommand(factory Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect billing sweeps",
	}
	cmd.AddCommand(newTriggerCommand(factory), newStatsCommand(factory), newScheduledCommand(factory))
	return cmd
}

func newTriggerCommand(factory Factory) *cobra.Command {
	var (
		tenantID  string
		asOf      string
		retention time.Duration
	)
	cmd := &cobra.Command{
		Use:   "trigger <overdue|quote-expiry|idempotency-cleanup>",
		Short: "Enqueue a sweep now",
		Example: `  odysseyctl jobs trigger overdue
  odysseyctl jobs trigger quote-expiry --tenant acme --as-of 2024-03-31
  odysseyctl jobs trigger idempotency-cleanup --retention 72h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := TriggerOptions{TenantID: tenantID, Retention: retention}
			if asOf != "" {
				t, err := parseAsOf(asOf)
				if err != nil {
					return err
				}
				opts.AsOf = t
			}
			if _, err := ResolveJob(args[0]); err != nil {
				return err
			}
			jobsCLI, err := factory()
			if err != nil {
				return err
			}
			defer jobsCLI.Close()
			info, err := jobsCLI.Trigger(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "limit the sweep to one tenant id")
	cmd.Flags().StringVar(&asOf, "as-of", "", "reference date (YYYY-MM-DD or RFC3339), default now")
	cmd.Flags().DurationVar(&retention, "retention", 0, "idempotency key retention, default from worker config")
	return cmd
}

func newStatsCommand(factory Factory) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show default queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobsCLI, err := factory()
			if err != nil {
				return err
			}
			defer jobsCLI.Close()
			stats, err := jobsCLI.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newScheduledCommand(factory Factory) *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobsCLI, err := factory()
			if err != nil {
				return err
			}
			defer jobsCLI.Close()
			tasks, err := jobsCLI.ListScheduled(cmd.Context(), size)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no scheduled tasks")
				return nil
			}
			for _, task := range tasks {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s next=%s\n", task.ID, task.Type, task.NextProcessAt.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "size", 10, "page size")
	return cmd
}

func parseAsOf(value string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --as-of %q: use YYYY-MM-DD or RFC3339", value)
	}
	return t, nil
}
