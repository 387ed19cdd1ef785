package cmd

import (
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matjam/kmsd/internal/ipc"
)

func NewWindowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "window",
		Short: "Map and unmap placeholder windows",
		Long: `Placeholder windows are solid rectangles standing in for client surfaces.
They exercise composition, buffer import and render-node selection without a
client connection.`,
	}
	cmd.AddCommand(newMapCmd(), newUnmapCmd())
	return cmd
}

func newMapCmd() *cobra.Command {
	var req ipc.WindowRequest

	cmd := &cobra.Command{
		Use:   "map <output>",
		Short: "Map a window on an output",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			req.Output = args[0]

			client := newClient()
			defer client.Close()

			id, err := client.MapWindow(req)
			if err != nil {
				log.Fatalf("Failed to send 'map' command: %v", err)
			}
			log.Infof("Mapped window %d on %s", id, req.Output)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&req.Title, "title", "", "window title")
	flags.IntVar(&req.X, "x", 0, "x position on the output")
	flags.IntVar(&req.Y, "y", 0, "y position on the output")
	flags.IntVar(&req.Width, "width", 640, "width in pixels")
	flags.IntVar(&req.Height, "height", 480, "height in pixels")
	flags.StringVar(&req.Color, "color", "", "fill color, e.g. #88c0d0")
	flags.BoolVarP(&req.Fullscreen, "fullscreen", "f", false, "cover the whole output")
	flags.StringVar(&req.Node, "node", "", "render node the client allocates on, e.g. /dev/dri/renderD129")
	flags.BoolVar(&req.Buffer, "buffer", false, "attach and import a client buffer")
	return cmd
}

func newUnmapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unmap <id>",
		Short: "Unmap a window",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				log.Fatalf("Invalid window id %q", args[0])
			}

			client := newClient()
			defer client.Close()

			if err := client.UnmapWindow(id); err != nil {
				log.Fatalf("Failed to send 'unmap' command: %v", err)
			}
			log.Infof("Unmapped window %d", id)
		},
	}
}
