// Package backfillcmder provides the backfill command for re-embedding
// memories saved while the embedding provider was down.
package backfillcmder

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mnemolabs/mnemo/cmd/mnemo/runtime"
	"github.com/mnemolabs/mnemo/pkg/backfill"
	"github.com/mnemolabs/mnemo/pkg/cliui"
	"github.com/mnemolabs/mnemo/pkg/config"
	"github.com/mnemolabs/mnemo/pkg/logger"
)

type BackfillCommander struct {
	configDir string
	debug     bool
	workers   uint
}

const backfillLongDesc string = `Re-embed memories that have no vector and exit.

Saves succeed even when the embedding provider is unreachable; the affected
memories are stored without a vector and stay invisible to semantic recall
until they are embedded. This command finds those rows and embeds them with
the configured provider.

Examples:
  mnemo backfill
  mnemo backfill --workers 8`

const backfillShortDesc string = "Re-embed memories that have no vector"

func NewBackfillCmd() *cobra.Command {
	cmder := &BackfillCommander{}

	cmd := &cobra.Command{
		Use:   "backfill",
		Short: backfillShortDesc,
		Long:  backfillLongDesc,
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

	cmd.Flags().UintVarP(&cmder.workers, "workers", "w", 0, "number of concurrent embedding workers")

	return cmd
}

func (c *BackfillCommander) run() error {
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

	embedder, err := runtime.BuildEmbedder(v)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}

	backfiller := backfill.NewBackfiller(storer, embedder, backfill.Config{
		NumWorkers: c.workers,
	}, log)

	var result *backfill.Result
	err = cliui.Step(os.Stdout, "Backfilling embeddings", func() error {
		var runErr error
		result, runErr = backfiller.Run(context.Background())
		return runErr
	})
	if err != nil {
		return err
	}

	fmt.Printf("\n  %s  %s\n  %s  %s\n  %s  %s\n\n",
		cliui.KeyStyle.Render("Scanned: "), cliui.ValueStyle.Render(strconv.Itoa(result.Scanned)),
		cliui.KeyStyle.Render("Embedded:"), cliui.ValueStyle.Render(strconv.Itoa(result.Embedded)),
		cliui.KeyStyle.Render("Failed:  "), cliui.ValueStyle.Render(strconv.Itoa(result.Failed)),
	)

	return nil
}
