// Command standalone runs the stripe-update accelerator as a single
// process: one generator, one updater, one slice buffer, one durable store.
// Its build-data, benchmark, and clean subcommands wire straight into the
// pipeline and storage packages, the way rclone wires backend subcommands
// into a single cobra root.
package main

import (
	"github.com/spf13/cobra"

	"github.com/lokyinzhao/stripe-update-go/config"
	"github.com/lokyinzhao/stripe-update-go/errkit"
	"github.com/lokyinzhao/stripe-update-go/internal/logging"
)

var log = logging.For("cmd.standalone")

var configPath string

// rootCmd is the standalone binary's root command; main() simply executes it.
var rootCmd = &cobra.Command{
	Use:   "standalone",
	Short: "Run the stripe-update accelerator in single-process mode",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the TOML configuration file")
	_ = rootCmd.MarkPersistentFlagRequired("config")
	rootCmd.AddCommand(buildDataCmd, benchmarkCmd, cleanCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return nil, errkit.New(errkit.InvalidArg, "cmd.standalone", "--config is required")
	}
	return config.Load(configPath)
}
