// Package consolidatecmder provides the consolidate command for rewriting
// core blocks from adopted candidates.
package consolidatecmder

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mnemolabs/mnemo/cmd/mnemo/runtime"
	"github.com/mnemolabs/mnemo/pkg/cliui"
	"github.com/mnemolabs/mnemo/pkg/config"
	"github.com/mnemolabs/mnemo/pkg/coreblock"
	"github.com/mnemolabs/mnemo/pkg/logger"
)

type ConsolidateCommander struct {
	assistantID string
	configDir   string
	debug       bool
}

const consolidateLongDesc string = `Rewrite core blocks from adopted candidates and exit.

Collects adopted core block candidates, merges each group into its current
block through the configured completion model, snapshots the previous
content to history, and clears the processed candidates. With no
--assistant flag, every assistant with adopted candidates is rewritten.

The same pass is available over the API as POST /v1/coreblocks/rewrite;
this command is intended for cron or systemd timers.

Examples:
  mnemo consolidate
  mnemo consolidate --assistant aria`

const consolidateShortDesc string = "Rewrite core blocks from adopted candidates"

func NewConsolidateCmd() *cobra.Command {
	cmder := &ConsolidateCommander{}

	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: consolidateShortDesc,
		Long:  consolidateLongDesc,
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

	cmd.Flags().StringVarP(&cmder.assistantID, "assistant", "a", "", "Rewrite blocks for this assistant only")

	return cmd
}

func (c *ConsolidateCommander) run() error {
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

	completer, err := runtime.BuildCompleter(v)
	if err != nil {
		return fmt.Errorf("creating completer: %w", err)
	}

	publisher, err := runtime.BuildPublisher(v, log)
	if err != nil {
		return fmt.Errorf("creating event publisher: %w", err)
	}
	defer publisher.Close()

	consolidator := coreblock.NewConsolidator(storer, completer, coreblock.Config{
		AdoptThreshold: v.GetInt("consolidation.adopt_threshold"),
	}, publisher, log)

	var report *coreblock.RewriteReport
	err = cliui.Step(os.Stdout, "Rewriting core blocks", func() error {
		var rewriteErr error
		report, rewriteErr = consolidator.RewriteAdopted(context.Background(), c.assistantID)
		return rewriteErr
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n  %s  %s\n  %s  %s\n\n",
		cliui.KeyStyle.Render("Blocks rewritten:    "), cliui.ValueStyle.Render(strconv.Itoa(report.BlocksRewritten)),
		cliui.KeyStyle.Render("Candidates processed:"), cliui.ValueStyle.Render(strconv.Itoa(report.CandidatesProcessed)),
	)

	return nil
}
