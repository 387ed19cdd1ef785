package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matjam/kmsd/internal/cli/cmd/utils"
	"github.com/matjam/kmsd/internal/ipc"
)

func newClient() *ipc.Client {
	return ipc.NewClient(ipc.SocketPath())
}

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get kmsd status",
		Long:  `Returns the session state and the GPUs driven by the running kmsd.`,
		Run: func(cmd *cobra.Command, args []string) {
			client := newClient()
			defer client.Close()

			status, err := client.Status()
			if err != nil {
				log.Errorf("Error getting status: %v", err)
				return
			}

			utils.PrintJSONColored(status)
		},
	}
}
