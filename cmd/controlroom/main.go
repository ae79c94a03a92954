// Package main is the control room server and admin CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "controlroom",
		Short:         "Operator control room for guided identity verification",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./controlroom.yaml)")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newCreateAgentCmd(), newCaseIDCmd())
	return root
}
