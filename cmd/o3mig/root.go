package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "o3mig",
		Short:         "EDI data migration between the v2 and v3 schemas",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newCloneCmd())
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}
