package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lokyinzhao/stripe-update-go/buffer"
	"github.com/lokyinzhao/stripe-update-go/cluster"
	"github.com/lokyinzhao/stripe-update-go/errkit"
	"github.com/lokyinzhao/stripe-update-go/storage"
	"github.com/lokyinzhao/stripe-update-go/storage/evict"
)

var workerID int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run one stateless worker process",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if workerID < 1 || workerID > cfg.Cluster.WorkerNum {
			return errkit.New(errkit.InvalidArg, "cmd.cluster", "--id must be in [1, worker_num]")
		}
		dirs, err := workerDirs(cfg, workerID)
		if err != nil {
			return err
		}

		durable, err := storage.NewBlockStore(dirs.BlobDevPath, cfg.BlockSize)
		if err != nil {
			return err
		}
		// Workers never drive stripe-wide eviction themselves — the
		// coordinator owns that — so their local buffer never evicts on
		// its own; NonEvict lets PersistUpdate be the only thing that
		// ever drains it.
		buf, err := buffer.NewSliceBuffer(dirs.SSDDevPath, cfg.BlockSize, evict.NewNonEvict())
		if err != nil {
			return err
		}
		// Purge whatever a previous abnormal termination left behind;
		// buffered data carries no durability guarantee.
		buf.CleanupDev()
		broker, closeBroker, err := buildBroker(cfg)
		if err != nil {
			return err
		}
		defer closeBroker()

		w := cluster.NewWorker(workerID, durable, buf, broker)
		log.WithField("worker_id", workerID).Info("worker starting")
		return w.Run(context.Background())
	},
}

func init() {
	workerCmd.Flags().IntVar(&workerID, "id", 0, "this worker's 1-based id")
}
