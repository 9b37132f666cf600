package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Synchronize electricity and gas consumption into time-series storage",
	Long: `The worker pulls daily consumption, max power and load curve readings for
electricity meters and daily consumption for gas meters, normalizes them and
writes them to storage in one batch per run.

Without a subcommand it behaves like "serve".`,
	SilenceUsage: true,
	RunE:         runServe,
}
