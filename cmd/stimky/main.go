package main

import (
	"fmt"
	"os"

	"github.com/ichi0g0y/stimky-sticker/internal/env"
	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	"github.com/ichi0g0y/stimky-sticker/internal/version"
	"github.com/spf13/cobra"
)

var (
	configPath string
	debugFlag  bool
	rootCmd    *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:           "stimky",
		Short:         "Sticker printer service",
		Long:          `Formats images for label and receipt printers and hands out a recharging sticker quota per requester.`,
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(debugFlag)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", env.DefaultConfigName, "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newPrintCmd())
	rootCmd.AddCommand(newFormatCmd())
	rootCmd.AddCommand(newLabelsCmd())
	rootCmd.AddCommand(newConfigCmd())
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and switches to debug logging when the
// file asks for it.
func loadConfig() error {
	if err := env.LoadEnv(configPath); err != nil {
		return fmt.Errorf("failed to load config %s: %w", configPath, err)
	}
	if env.Value.Debug && !debugFlag {
		logger.Init(true)
		logger.Debug("Debug mode enabled")
	}
	return nil
}
