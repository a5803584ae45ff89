package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/browserq/browserq/internal/config"
	"github.com/browserq/browserq/job"
)

func newJobsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Operator commands against the job store",
	}
	cmd.AddCommand(newJobsListCmd(flags), newJobsCountCmd(flags))
	return cmd
}

func newJobsListCmd(flags *rootFlags) *cobra.Command {
	var (
		status string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs in the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}

			st, err := openStore(cmd.Context(), cfg, discardLogger())
			if err != nil {
				return err
			}
			defer st.Close()

			if status != "" && !job.Status(status).Valid() {
				return fmt.Errorf("invalid status %q", status)
			}

			jobs, err := st.ListJobs(cmd.Context(), job.Status(status), job.ListOpts{
				Limit:  limit,
				Offset: offset,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tURL\tUPDATED\tWORKER")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					j.ID, j.Status, j.Input.URL,
					humanize.Time(j.UpdatedAt), j.WorkerID)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (PENDING, RUNNING, SUCCEEDED, FAILED)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "number of jobs to skip")
	return cmd
}

func newJobsCountCmd(flags *rootFlags) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count jobs in the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(flags.configPath)
			if err != nil {
				return err
			}

			st, err := openStore(cmd.Context(), cfg, discardLogger())
			if err != nil {
				return err
			}
			defer st.Close()

			if status != "" && !job.Status(status).Valid() {
				return fmt.Errorf("invalid status %q", status)
			}

			n, err := st.CountJobs(cmd.Context(), job.Status(status))
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}
