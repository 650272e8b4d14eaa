package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"taskcal/internal/config"
	appLog "taskcal/internal/log"
)

const version = "0.1.0"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "taskcal",
	Short:         "taskcal - tasks with recurring schedules and a calendar view",
	Long:          `taskcal stores tasks, expands their recurrence into calendar occurrences and serves both over a JSON API.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./data/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(expandCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}

// loadConfig loads the config file and applies the log level.
func loadConfig() (*config.Config, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	level := conf.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))
	return conf, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
