package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/browserq/browserq/client"
	"github.com/browserq/browserq/job"
)

func newSubmitCmd(flags *rootFlags) *cobra.Command {
	var (
		waitUntil string
		timeoutMs int
		wait      bool
		interval  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Submit a scrape job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(flags.serverURL, client.WithAPIKey(flags.apiKey))

			in := job.Input{
				URL:       args[0],
				WaitUntil: waitUntil,
				TimeoutMs: timeoutMs,
			}

			jobID, err := c.Submit(cmd.Context(), in)
			if err != nil {
				return err
			}

			if !wait {
				fmt.Println(jobID)
				return nil
			}

			status, err := c.Poll(cmd.Context(), jobID, interval)
			if err != nil {
				return err
			}
			return printJSON(status)
		},
	}

	cmd.Flags().StringVar(&waitUntil, "wait-until", "", "page wait condition: domcontentloaded or load")
	cmd.Flags().IntVar(&timeoutMs, "timeout-ms", 0, "per-job execution timeout in milliseconds")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until the job is terminal and print the outcome")
	cmd.Flags().DurationVar(&interval, "poll-interval", 2*time.Second, "poll interval used with --wait")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
