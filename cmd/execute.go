package cmd

import (
	"github.com/spf13/cobra"

	"github.com/caesium-cloud/pipeline/cmd/start"
)

var cmds = []*cobra.Command{
	start.Cmd,
	start.WorkerCmd,
}

// Execute builds the command tree and executes commands.
func Execute() error {
	command := &cobra.Command{
		Use: "pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Usage()
		},
	}

	for _, c := range cmds {
		command.AddCommand(c)
	}

	return command.Execute()
}
