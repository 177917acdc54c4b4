package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	vsockCID  uint32
	vsockPort uint32
	authID    uint64
	timeoutS  int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fabricctl",
		Short: "fabrickv operator CLI",
		Long:  "Drive pool lifecycle and key-value operations against a running fabricd over vsock",
	}

	rootCmd.PersistentFlags().Uint32Var(&vsockCID, "cid", 2, "vsock context id of the pool server (2 = host)")
	rootCmd.PersistentFlags().Uint32Var(&vsockPort, "port", 9090, "vsock port the pool server listens on")
	rootCmd.PersistentFlags().Uint64Var(&authID, "auth-id", 0, "auth id to present on every request")
	rootCmd.PersistentFlags().IntVar(&timeoutS, "timeout", 10, "per-request timeout in seconds")

	rootCmd.AddCommand(
		createPoolCmd(),
		openPoolCmd(),
		closePoolCmd(),
		deletePoolCmd(),
		putCmd(),
		getCmd(),
		eraseCmd(),
		countCmd(),
		findCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
