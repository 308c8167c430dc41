// Package commands implements the otaumcu CLI command tree, grounded on
// dittofs's cmd/dittofs/commands/root.go: a persistent --config flag, one
// subcommand doing the real work.
package commands

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "otaumcu",
	Short: "Emulated MCU-side OTAU/DFU protocol engine",
	Long: `otaumcu emulates the MCU side of a firmware-update protocol: a
modem-lifecycle FSM, a paged firmware-transfer FSM, NVM-backed resume across
restarts, and a deterministic fault injector for exercising a peer
implementation's negative paths.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: none, built-in defaults apply)")
	rootCmd.AddCommand(serveCmd)
}
