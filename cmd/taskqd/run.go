package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"taskq/internal/app"
)

const stopTimeout = 15 * time.Second

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(onceCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon until SIGINT or SIGTERM",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)

		if err := a.Start(cmd.Context()); err != nil {
			_ = a.Stop(context.Background(), app.StopFatalError)
			return fmt.Errorf("start: %w", err)
		}

		reason := app.StopUnknown
		select {
		case sig := <-sigs:
			reason = app.StopSIGINT
			if sig == syscall.SIGTERM {
				reason = app.StopSIGTERM
			}
		case <-a.Done():
			reason = app.StopFatalError
		}

		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		stopErr := a.Stop(ctx, reason)
		if fatal := a.Err(); fatal != nil {
			return multierror.Append(fatal, stopErr).ErrorOrNil()
		}
		return stopErr
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run every configured job once, wait for the queue to drain, then exit",
	Long:  "Run every configured job once in priority order. Exits non-zero if any job failed.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		rep, runErr := a.RunOnce(ctx)
		for _, r := range rep.Results {
			status := "ok"
			if r.Err != "" {
				status = "FAILED: " + r.Err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-10s %s\n", r.Name, r.Duration.Round(time.Millisecond), status)
		}

		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		reason := app.StopOnceDone
		if ctx.Err() != nil {
			reason = app.StopSIGINT
		}
		if err := a.Stop(stopCtx, reason); err != nil && runErr == nil {
			runErr = err
		}
		if runErr != nil {
			return fmt.Errorf("%d of %d jobs failed: %w", rep.Failed, len(rep.Results), runErr)
		}
		return nil
	},
}
