// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/netpcap/internal/config"
	"firestige.xyz/netpcap/internal/log"
)

var (
	// Global flags
	configFile string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "netpcap",
	Short: "netpcap - packet capture through a pre-processing pipeline",
	Long: `netpcap reads frames from a capture file or a network interface and runs
them through a configurable pipeline before printing them.

Pre-processors work on raw frames:
  - repeater: replicate frames, optionally rewriting their timestamps
  - delay:    sleep after every delivered frame
  - player:   reproduce the capture's inter-frame gaps, scaled by a speed

Post-processors filter decoded packets by layer, decode errors or BPF expression.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override log.level (debug/info/warn/error)")

	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(devicesCmd)
}

// loadConfig loads the config file with command line overrides applied on
// top, keyed relative to the root (e.g. "source.path").
func loadConfig(overrides map[string]any) (*config.Config, error) {
	if logLevel != "" {
		overrides["log.level"] = logLevel
	}
	return config.LoadWithOverrides(configFile, overrides)
}

// initLogging installs the configured logger; the returned closer flushes the
// log file, if any.
func initLogging(cfg *config.Config) io.Closer {
	closer, err := log.Init(cfg.Log)
	if err != nil {
		exitWithError("failed to initialize logging", err)
	}
	return closer
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
