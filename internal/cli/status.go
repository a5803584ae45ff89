package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/browserq/browserq/client"
	"github.com/browserq/browserq/id"
)

func newStatusCmd(flags *rootFlags) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the current status of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return fmt.Errorf("invalid job id %q: %w", args[0], err)
			}

			c := client.New(flags.serverURL, client.WithAPIKey(flags.apiKey))
			status, err := c.Status(cmd.Context(), jobID)
			if err != nil {
				return err
			}

			if raw {
				return printJSON(status)
			}

			fmt.Printf("%-10s %s\n", "job:", status.JobID)
			fmt.Printf("%-10s %s\n", "status:", status.Status)
			fmt.Printf("%-10s %s\n", "created:", humanize.Time(status.CreatedAt))
			fmt.Printf("%-10s %s\n", "updated:", humanize.Time(status.UpdatedAt))
			if status.Error != nil {
				fmt.Printf("%-10s %s: %s\n", "error:", status.Error.Code, status.Error.Message)
			}
			if len(status.Result) > 0 {
				fmt.Printf("%-10s %s\n", "result:", status.Result)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "json", false, "print the raw JSON projection")
	return cmd
}
