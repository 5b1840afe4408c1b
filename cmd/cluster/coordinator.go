package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lokyinzhao/stripe-update-go/cluster"
	"github.com/lokyinzhao/stripe-update-go/config"
	"github.com/lokyinzhao/stripe-update-go/ec"
	"github.com/lokyinzhao/stripe-update-go/pipeline"
)

var coordSeed int64

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the cluster coordinator",
}

func init() {
	coordinatorCmd.PersistentFlags().Int64Var(&coordSeed, "seed", 1, "deterministic PRNG seed for the synthetic generator")
	coordinatorCmd.AddCommand(
		coordinatorBuildDataCmd,
		coordinatorBenchCmd("bench-baseline", pipeline.Baseline),
		coordinatorBenchCmd("bench-merge", pipeline.MergeStripe),
		coordinatorPurgeCmd,
		coordinatorKillAllCmd,
	)
}

func newCoordinator(cfg *config.Config) (*cluster.Coordinator, func() error, error) {
	code, err := ec.FromKP(cfg.ECK, cfg.ECP)
	if err != nil {
		return nil, nil, err
	}
	broker, closeBroker, err := buildBroker(cfg)
	if err != nil {
		return nil, nil, err
	}
	stripeCapacity := cfg.SSDBlockCapacity * cfg.BlockSize
	c := cluster.NewCoordinator(broker, code, cfg.Cluster.WorkerNum, stripeCapacity)
	return c, closeBroker, nil
}

var coordinatorBuildDataCmd = &cobra.Command{
	Use:   "build-data",
	Short: "Zero-fill block_num blocks across every worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		c, closeBroker, err := newCoordinator(cfg)
		if err != nil {
			return err
		}
		defer closeBroker()
		if err := c.BuildData(cfg.BlockNum, cfg.BlockSize); err != nil {
			return err
		}
		log.WithField("block_num", cfg.BlockNum).Info("build-data complete")
		return nil
	},
}

func coordinatorBenchCmd(use string, variant pipeline.Variant) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: "Drive the cluster pipeline against synthetic load (" + variant.String() + ")",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			c, closeBroker, err := newCoordinator(cfg)
			if err != nil {
				return err
			}
			defer closeBroker()
			gen := pipeline.NewUniformSourceGenerator(coordSeed, cfg.BlockNum, cfg.ECK, cfg.M(), cfg.BlockSize, cfg.SliceSize, cfg.TestNum)
			if err := c.Run(context.Background(), gen); err != nil {
				return err
			}
			log.WithField("updates", cfg.TestNum).Info("cluster benchmark complete")
			return nil
		},
	}
}

var coordinatorPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Flush every worker's buffer and durable store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		c, closeBroker, err := newCoordinator(cfg)
		if err != nil {
			return err
		}
		defer closeBroker()
		return c.Purge()
	},
}

var coordinatorKillAllCmd = &cobra.Command{
	Use:   "kill-all",
	Short: "Shut down every alive worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		c, closeBroker, err := newCoordinator(cfg)
		if err != nil {
			return err
		}
		defer closeBroker()
		return c.KillAll()
	},
}
