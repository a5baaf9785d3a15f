package main

import (
	"os"

	"github.com/enochaseks/sideeye/cmd/callpeer/commands"
)

func main() {
	rootCmd := commands.NewRootCmd()

	// Do not print usage when error occurs
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
