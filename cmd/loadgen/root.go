package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "loadgen",
		Short:         "Load generator for chat-completion endpoints",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newLoadCommand())
	return root
}
