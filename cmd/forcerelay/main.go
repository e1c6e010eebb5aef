// Command forcerelay runs the IBC relayer between Axon, CKB and CometBFT
// chains.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wenyuanhust/forcerelay/config"
)

// Version is stamped by the build.
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "forcerelay",
		Short: "Relay IBC packets between Axon, CKB and CometBFT chains",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to the config file")

	cmd.AddCommand(
		startCmd(&configPath),
		configCmd(&configPath),
		keysCmd(&configPath),
		versionCmd(),
	)
	return cmd
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".forcerelay", "config.toml")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg.Build()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the forcerelay version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
			return nil
		},
	}
}

func configCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the relayer configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "init",
			Short: "Write a default config file",
			RunE: func(cmd *cobra.Command, _ []string) error {
				if err := config.WriteDefault(*configPath); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", *configPath)
				return nil
			},
		},
		&cobra.Command{
			Use:   "show",
			Short: "Print the active config file",
			RunE: func(cmd *cobra.Command, _ []string) error {
				data, err := os.ReadFile(*configPath)
				if err != nil {
					return err
				}
				// Re-decode so a broken file is reported instead of echoed.
				if _, err := config.Decode(string(data)); err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), string(data))
				return nil
			},
		},
	)
	return cmd
}
