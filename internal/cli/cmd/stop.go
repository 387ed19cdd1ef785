package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

func NewStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the kmsd daemon",
		Run: func(cmd *cobra.Command, args []string) {
			client := newClient()
			defer client.Close()

			if err := client.Stop(); err != nil {
				log.Fatalf("Failed to send 'stop' command: %v", err)
			}
			log.Info("Stop command sent")
		},
	}
}
