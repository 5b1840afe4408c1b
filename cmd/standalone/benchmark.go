package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/lokyinzhao/stripe-update-go/errkit"
	"github.com/lokyinzhao/stripe-update-go/pipeline"
)

var (
	manner      string
	seed        int64
	metricsAddr string
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Drive the standalone update pipeline against synthetic load",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if manner == "trace-dryrun" {
			log.Warn("trace-dryrun requested: I/O trace ingestion is handled by an external " +
				"collaborator, no updates were generated")
			return nil
		}

		variant, err := parseManner(manner)
		if err != nil {
			return err
		}

		durable, code, buf, err := buildRig(cfg, variant)
		if err != nil {
			return err
		}
		// Buffered data is not durable: whatever a previous abnormal
		// termination left on the device is stale and must go before the
		// first push.
		buf.CleanupDev()
		metrics := pipeline.NewMetrics(prometheus.DefaultRegisterer)
		if metricsAddr != "" {
			go func() {
				if err := http.ListenAndServe(metricsAddr, promhttp.Handler()); err != nil {
					log.WithError(err).Warn("metrics endpoint failed")
				}
			}()
		}
		gen := pipeline.NewUniformSourceGenerator(seed, cfg.BlockNum, cfg.ECK, cfg.M(), cfg.BlockSize, cfg.SliceSize, cfg.TestNum)

		if err := pipeline.Run(context.Background(), gen, buf, durable, code, variant, metrics); err != nil {
			return err
		}
		log.WithField("manner", manner).WithField("updates", cfg.TestNum).Info("benchmark complete")
		return nil
	},
}

func parseManner(m string) (pipeline.Variant, error) {
	switch m {
	case "baseline":
		return pipeline.Baseline, nil
	case "merge-stripe":
		return pipeline.MergeStripe, nil
	default:
		return 0, errkit.New(errkit.InvalidArg, "cmd.standalone", "unknown --manner: "+m)
	}
}

func init() {
	benchmarkCmd.Flags().StringVar(&manner, "manner", "baseline", "baseline|merge-stripe|trace-dryrun")
	benchmarkCmd.Flags().Int64Var(&seed, "seed", 1, "deterministic PRNG seed for the synthetic generator")
	benchmarkCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address during the run")
}
