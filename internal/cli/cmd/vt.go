package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

func NewVTCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vt <n>",
		Short: "Switch to virtual terminal n",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vt, err := strconv.Atoi(args[0])
			if err != nil || vt < 1 {
				return fmt.Errorf("invalid vt %q", args[0])
			}

			client := newClient()
			defer client.Close()

			if err := client.SwitchVT(vt); err != nil {
				log.Fatalf("Failed to send 'vt' command: %v", err)
			}
			log.Infof("Switched to vt %d", vt)
			return nil
		},
	}
}
