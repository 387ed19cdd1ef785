package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matjam/kmsd/internal/cli/cmd/utils"
)

func NewOutputsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "outputs",
		Short: "List the outputs kmsd drives",
		Run: func(cmd *cobra.Command, args []string) {
			client := newClient()
			defer client.Close()

			outputs, err := client.Outputs()
			if err != nil {
				log.Errorf("Error listing outputs: %v", err)
				return
			}
			if len(outputs) == 0 {
				log.Info("No outputs")
				return
			}

			utils.PrintJSONColored(outputs)
		},
	}
}
