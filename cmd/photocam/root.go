package main

import (
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var defaultConfigPath = filepath.Join("configs", "default.yaml")

func newRootCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "photocam",
		Short: "Single-shot photo capture with hologram compositing",
		Long: `PhotoCam takes one still photo at a time through the capture platform,
either into memory (a JPEG plus the camera pose and projection) or onto disk
as CapturedPhoto_<timestamp>.jpg.

Environment variables prefixed with PHOTOCAM_ override the config file and
may be set in a .env file in the working directory.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to config file")

	cmd.AddCommand(newServeCmd(&cfgPath))
	cmd.AddCommand(newShootCmd(&cfgPath))

	return cmd
}
