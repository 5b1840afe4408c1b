package main

import (
	"github.com/spf13/cobra"

	"github.com/lokyinzhao/stripe-update-go/pipeline"
)

var (
	cleanSSD bool
	cleanHDD bool
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Purge on-device state",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		durable, _, buf, err := buildRig(cfg, pipeline.Baseline)
		if err != nil {
			return err
		}
		if cleanSSD || (!cleanSSD && !cleanHDD) {
			buf.CleanupDev()
		}
		if cleanHDD || (!cleanSSD && !cleanHDD) {
			if err := durable.Purge(); err != nil {
				return err
			}
		}
		log.Info("clean complete")
		return nil
	},
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanSSD, "ssd", false, "purge the SSD slice-buffer tier")
	cleanCmd.Flags().BoolVar(&cleanHDD, "hdd", false, "purge the durable block tier")
}
