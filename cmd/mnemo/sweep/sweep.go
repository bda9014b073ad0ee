// Package sweepcmder provides the sweep command for running one maintenance
// pass over the memory store.
package sweepcmder

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnemolabs/mnemo/cmd/mnemo/runtime"
	"github.com/mnemolabs/mnemo/pkg/cliui"
	"github.com/mnemolabs/mnemo/pkg/config"
	"github.com/mnemolabs/mnemo/pkg/logger"
	"github.com/mnemolabs/mnemo/pkg/maintenance"
)

type SweepCommander struct {
	configDir string
	debug     bool
}

const sweepLongDesc string = `Run one maintenance sweep and exit.

A sweep evicts decayed ephemeral and task memories, merges near-duplicate
pairs, and permanently reaps trashed memories past the retention window.
The same pass is available over the API as POST /v1/maintenance/sweep;
this command is intended for cron or systemd timers.

Examples:
  mnemo sweep
  mnemo sweep --debug`

const sweepShortDesc string = "Run one maintenance sweep and exit"

func NewSweepCmd() *cobra.Command {
	cmder := &SweepCommander{}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: sweepShortDesc,
		Long:  sweepLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			return cmder.run()
		},
	}

	return cmd
}

func (c *SweepCommander) run() error {
	log := logger.NewLogger(c.debug)
	defer log.Sync()

	v, err := config.InitViper(c.configDir)
	if err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}

	storer, err := runtime.BuildStore(v, c.configDir, log)
	if err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	defer storer.Close()

	publisher, err := runtime.BuildPublisher(v, log)
	if err != nil {
		return fmt.Errorf("creating event publisher: %w", err)
	}
	defer publisher.Close()

	sweeper := maintenance.NewSweeper(storer, maintenance.Config{
		EvictionThreshold:  v.GetFloat64("maintenance.eviction_threshold"),
		MergeThreshold:     v.GetFloat64("maintenance.merge_threshold"),
		TrashRetentionDays: v.GetInt("maintenance.trash_retention_days"),
	}, publisher, log)

	var report maintenance.Report
	err = cliui.Step(os.Stdout, "Sweeping memory store", func() error {
		report = sweeper.RunAll(context.Background())
		if len(report.Failures) > 0 {
			return fmt.Errorf("%s", strings.Join(report.Failures, "; "))
		}
		return nil
	})

	fmt.Printf("\n  %s  %s\n  %s  %s\n  %s  %s\n\n",
		cliui.KeyStyle.Render("Evicted:"), cliui.ValueStyle.Render(strconv.Itoa(report.Evicted)),
		cliui.KeyStyle.Render("Merged: "), cliui.ValueStyle.Render(strconv.Itoa(report.Merged)),
		cliui.KeyStyle.Render("Reaped: "), cliui.ValueStyle.Render(strconv.Itoa(report.Reaped)),
	)

	return err
}
