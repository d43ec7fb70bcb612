package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facelocker/pkg/config"
	"github.com/MrCodeEU/facelocker/pkg/logging"
)

const version = "0.3.0"

var (
	cfg        *config.Config
	configFile string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "facelocker",
	Short:         "Face verification for lockers",
	Long:          "FaceLocker unlocks a locker when a live, blinking face matches the enrolled owner.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		enrollCmd,
		verifyCmd,
		listCmd,
		removeCmd,
		attemptsCmd,
		workerCmd,
		configCmd,
		downloadCmd,
		versionCmd,
	)
}

// setup loads secrets, configuration and logging for every command.
func setup() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: Could not read .env: %v\n", err)
	}

	var err error
	if configFile != "" {
		cfg, err = config.Load(configFile)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}
	cfg.ExpandPaths()

	if err := cfg.Validate(); err != nil {
		return err
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	if err := logging.Init(level, cfg.Logging.File, cfg.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	logging.Debugf("FaceLocker v%s starting", version)
	logging.Debugf("Config loaded, storage dir: %s", cfg.Storage.DataDir)
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logging.WithError(err).Debug("Command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
