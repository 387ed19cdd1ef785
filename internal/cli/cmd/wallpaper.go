package cmd

import (
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matjam/kmsd/internal/cli/cmd/utils"
)

func NewNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Switch to the next wallpaper",
		Run: func(cmd *cobra.Command, args []string) {
			client := newClient()
			defer client.Close()

			path, err := client.NextWallpaper()
			if err != nil {
				log.Fatalf("Failed to send 'next' command: %v", err)
			}
			log.Infof("Wallpaper: %s", path)
		},
	}
}

func NewLoadCmd() *cobra.Command {
	var shuffle bool

	cmd := &cobra.Command{
		Use:   "load [wallpaper1.jpg|dir] [wallpaper2.png] ...",
		Short: "Load a new list of wallpapers into the daemon",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			paths := make([]string, len(args))
			for i, a := range args {
				abs, err := filepath.Abs(utils.CanonicalPath(a))
				if err != nil {
					log.Fatalf("Invalid path %q: %v", a, err)
				}
				paths[i] = abs
			}

			client := newClient()
			defer client.Close()

			path, err := client.LoadWallpapers(paths, shuffle)
			if err != nil {
				log.Fatalf("Failed to send 'load' command: %v", err)
			}
			log.Infof("Loaded %d paths, wallpaper: %s", len(paths), path)
		},
	}
	cmd.Flags().BoolVarP(&shuffle, "shuffle", "s", false, "shuffle the loaded wallpapers")
	return cmd
}
