package main

import (
	"path/filepath"

	"github.com/lokyinzhao/stripe-update-go/cluster"
	"github.com/lokyinzhao/stripe-update-go/config"
	"github.com/lokyinzhao/stripe-update-go/errkit"
)

// buildBroker opens the broker a config's redis_url names. An empty value
// or the literal "memory" selects the in-process reference broker (tests,
// single-machine demos); any other value is treated as a bbolt database
// path for a persistent local deployment — no real Redis driver appears
// anywhere in the example corpus this module is grounded on, so the
// "redis_url" key addresses whichever concrete broker is configured rather
// than a literal Redis connection string.
func buildBroker(cfg *config.Config) (cluster.Broker, func() error, error) {
	url := cfg.Cluster.BrokerURL
	if url == "" || url == "memory" {
		return cluster.NewMemoryBroker(), func() error { return nil }, nil
	}
	path := url
	if !filepath.IsAbs(path) {
		abs, err := cfg.AbsOutDir()
		if err != nil {
			return nil, nil, err
		}
		path = filepath.Join(abs, url)
	}
	broker, err := cluster.NewBoltBroker(path)
	if err != nil {
		return nil, nil, err
	}
	return broker, broker.Close, nil
}

func workerDirs(cfg *config.Config, id int) (config.WorkerDirsCfg, error) {
	dirs, ok := cfg.WorkerDirsFor(id)
	if !ok {
		return config.WorkerDirsCfg{}, errkit.New(errkit.InvalidArg, "cmd.cluster", "no worker dirs configured for this id")
	}
	return dirs, nil
}
