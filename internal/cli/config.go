package cli

import (
	"errors"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func InitConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("kmsd")
		viper.SetConfigType("toml")
		viper.AddConfigPath("$HOME/.config/kmsd")
		viper.AddConfigPath("/etc/xdg/kmsd")
	}

	viper.SetDefault("render_device", "")
	viper.SetDefault("seat", "seat0")
	viper.SetDefault("outputs_file", "~/.config/kmsd/outputs.toml")
	viper.SetDefault("socket", "")
	viper.SetDefault("vrr", true)
	viper.SetDefault("background_color", "#2e3440")
	viper.SetDefault("wallpapers", "")
	viper.SetDefault("scale_mode", "vertical")
	viper.SetDefault("shuffle", true)
	viper.SetDefault("delay", 300)
	viper.SetDefault("log_dir", "~/.local/share/kmsd")
	viper.SetDefault("background", false)
	viper.SetDefault("debug", false)

	viper.SetEnvPrefix("KMSD")
	viper.AutomaticEnv() // read environment variables that match

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		log.Debug("No config file found, using defaults")
		return
	}
	cobra.CheckErr(err)
}
