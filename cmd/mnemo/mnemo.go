// Package mnemocmder
package mnemocmder

import (
	"github.com/spf13/cobra"

	backfillcmder "github.com/mnemolabs/mnemo/cmd/mnemo/backfill"
	configcmder "github.com/mnemolabs/mnemo/cmd/mnemo/config"
	consolidatecmder "github.com/mnemolabs/mnemo/cmd/mnemo/consolidate"
	servecmder "github.com/mnemolabs/mnemo/cmd/mnemo/serve"
	sweepcmder "github.com/mnemolabs/mnemo/cmd/mnemo/sweep"
	versioncmder "github.com/mnemolabs/mnemo/cmd/version"
)

const mnemoLongDesc string = `Mnemo is a semantic memory engine for AI companions.

Run services using:
  mnemo serve          Run the memory API and MCP servers
  mnemo sweep          Run one maintenance sweep and exit
  mnemo consolidate    Rewrite core blocks from adopted candidates and exit
  mnemo backfill       Re-embed memories that have no vector and exit`

const mnemoShortDesc string = "Mnemo - Semantic Memory Engine"

func NewMnemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mnemo",
		Short: mnemoShortDesc,
		Long:  mnemoLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .mnemo/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(sweepcmder.NewSweepCmd())
	cmd.AddCommand(consolidatecmder.NewConsolidateCmd())
	cmd.AddCommand(backfillcmder.NewBackfillCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
