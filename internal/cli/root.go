/*
Copyright © 2025 Nathan Ollerenshaw <chrome@stupendous.net>
*/
package cli

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/matjam/kmsd"
	"github.com/matjam/kmsd/internal/cli/cmd"
	"github.com/matjam/kmsd/internal/cli/cmd/utils"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kmsd",
	Short: "A DRM/KMS display backend daemon",
	Long: `kmsd drives every GPU of a seat through DRM/KMS: it follows hotplug,
enumerates outputs, sets modes and composes frames onto the displays.

Run "kmsd start" to launch the daemon; the other commands talk to a running
daemon over its control socket.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if viper.GetBool("debug") {
			log.SetLevel(log.DebugLevel)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		if v, err := cmd.Flags().GetBool("show-config"); err == nil && v {
			log.Infof("Using config file: %v", viper.ConfigFileUsed())
			log.Infof("All settings:")
			utils.PrintJSONColored(viper.AllSettings())
			return
		}

		if v, err := cmd.Flags().GetBool("installconfig"); err == nil && v {
			utils.InstallDefaultConfig()
			return
		}

		babyBlue := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
		yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
		green := lipgloss.NewStyle().Foreground(lipgloss.Color("76"))
		if v, err := cmd.Flags().GetBool("version"); err == nil && v {
			log.Infof("%v version %v © 2025 %v",
				babyBlue.Render("kmsd"),
				green.Render(strings.Trim(kmsd.Version, "\n\r ")),
				yellow.Render("Nathan Ollerenshaw"))
			return
		}

		cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(InitConfig)

	RegisterFlags(rootCmd)

	rootCmd.AddCommand(
		cmd.NewStartCmd(),
		cmd.NewStatusCmd(),
		cmd.NewOutputsCmd(),
		cmd.NewRenderCmd(),
		cmd.NewCaptureCmd(),
		cmd.NewVTCmd(),
		cmd.NewWindowCmd(),
		cmd.NewNextCmd(),
		cmd.NewLoadCmd(),
		cmd.NewStopCmd(),
		cmd.NewGenManCmd(rootCmd),
	)
}
