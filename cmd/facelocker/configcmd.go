package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrCodeEU/facelocker/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		source := configFile
		if source == "" {
			source = "defaults"
			if _, err := os.Stat(config.SystemConfigPath); err == nil {
				source = config.SystemConfigPath
			}
		}
		fmt.Printf("# Effective configuration (%s)\n", source)

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}
