package main

import (
	"os"

	cmd "github.com/mosaicnetworks/valnet/cmd/valnet/commands"
)

func main() {
	rootCmd := cmd.RootCmd

	rootCmd.AddCommand(
		cmd.NewRunCmd(),
		cmd.NewStatusCmd(),
		cmd.NewKeygenCmd(),
		cmd.NewExportCmd(),
		cmd.VersionCmd,
	)

	//Do not print usage when error occurs
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
