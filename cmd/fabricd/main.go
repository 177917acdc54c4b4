package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "fabricd",
		Short: "fabrickv pool server",
		Long:  "Run the fabrickv pool server daemon: a vsock-fabric key-value store with pluggable pool backends",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to JSON config file (optional, flags/env override)")
	rootCmd.AddCommand(daemonCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
