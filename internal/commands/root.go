package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lavoo/supportdesk/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "deskctl",
	Short:         "Terminal client for the supportdesk admin inbox",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config/config.yaml", "path to config file")
	rootCmd.AddCommand(newTailCmd())
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads .env (if present) then the yaml config.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	return config.Load(cfgPath)
}
