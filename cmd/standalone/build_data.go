package main

import (
	"github.com/spf13/cobra"

	"github.com/lokyinzhao/stripe-update-go/pipeline"
	"github.com/lokyinzhao/stripe-update-go/storage"
)

var purgeFirst bool

var buildDataCmd = &cobra.Command{
	Use:   "build-data",
	Short: "Zero-fill block_num blocks in the durable store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		durable, _, _, err := buildRig(cfg, pipeline.Baseline)
		if err != nil {
			return err
		}
		if purgeFirst {
			if err := durable.Purge(); err != nil {
				return err
			}
		}
		// Whole blocks go through the SSD tier: the LRU spills to the
		// durable store as it overflows and the final flush drains the
		// rest.
		ssd, err := storage.NewSSDStorage(durable, cfg.BlockSize, cfg.SSDBlockCapacity)
		if err != nil {
			return err
		}
		zero := make([]byte, cfg.BlockSize)
		for id := 0; id < cfg.BlockNum; id++ {
			if err := ssd.PutBlock(storage.BlockID(id), zero); err != nil {
				return err
			}
		}
		if err := ssd.Flush(); err != nil {
			return err
		}
		log.WithField("block_num", cfg.BlockNum).Info("build-data complete")
		return nil
	},
}

func init() {
	buildDataCmd.Flags().BoolVar(&purgeFirst, "purge", false, "purge the durable store before building")
}
