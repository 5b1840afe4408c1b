// Command cluster runs the stripe-update accelerator's distributed
// deployment: a coordinator process and one or more stateless worker
// processes, communicating over a Broker (in-memory for tests, bbolt for a
// persistent single-machine deployment).
package main

import (
	"github.com/spf13/cobra"

	"github.com/lokyinzhao/stripe-update-go/config"
	"github.com/lokyinzhao/stripe-update-go/errkit"
	"github.com/lokyinzhao/stripe-update-go/internal/logging"
)

var log = logging.For("cmd.cluster")

var configPath string

var rootCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Run the stripe-update accelerator in distributed mode",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the TOML configuration file")
	_ = rootCmd.MarkPersistentFlagRequired("config")
	rootCmd.AddCommand(coordinatorCmd, workerCmd)
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return nil, errkit.New(errkit.InvalidArg, "cmd.cluster", "--config is required")
	}
	return config.Load(configPath)
}
