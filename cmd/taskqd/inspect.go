package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"taskq/internal/app"
	logx "taskq/pkg/logx"
)

var (
	historyLimit int
	historyJob   string
	historyJSON  bool
)

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to show")
	historyCmd.Flags().StringVar(&historyJob, "job", "", "only show runs of this job")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print JSON lines")
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the config file and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.LoadConfig(cfgPath)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d jobs, concurrency %d)\n", cfgPath, len(cfg.Jobs), cfg.Queue.Concurrency)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent task runs from the configured store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.LoadConfig(cfgPath)
		if err != nil {
			return err
		}
		store, err := app.OpenStore(cfg, logx.Nop())
		if err != nil {
			return err
		}
		if store == nil {
			return errors.New("storage is disabled in config")
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		runs, err := store.RecentRuns(ctx, historyLimit, historyJob)
		if err != nil {
			return err
		}

		if historyJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, r := range runs {
				if err := enc.Encode(r); err != nil {
					return err
				}
			}
			return nil
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "AT\tJOB\tSTATUS\tPRIO\tWAIT\tTOOK\tERROR")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%g\t%dms\t%dms\t%s\n",
				r.At.Local().Format(time.DateTime), r.Job, r.Status, r.Priority, r.QueueDelayMS, r.DurationMS, r.Error)
		}
		return tw.Flush()
	},
}
