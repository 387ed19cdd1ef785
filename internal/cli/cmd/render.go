package cmd

import (
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matjam/kmsd/internal/cli/cmd/utils"
)

func NewRenderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render [output]",
		Short: "Schedule a frame on one or all outputs",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			client := newClient()
			defer client.Close()

			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			scheduled, err := client.Render(name)
			if err != nil {
				log.Fatalf("Failed to send 'render' command: %v", err)
			}
			log.Infof("Render scheduled on %s", strings.Join(scheduled, ", "))
		},
	}
}

func NewCaptureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capture <output>",
		Short: "Describe the last frame rendered on an output",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			client := newClient()
			defer client.Close()

			capture, err := client.Capture(args[0])
			if err != nil {
				log.Fatalf("Failed to send 'capture' command: %v", err)
			}
			utils.PrintJSONColored(capture)
		},
	}
}
