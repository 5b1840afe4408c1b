// Package config loads and validates the declarative TOML configuration
// shared by both binaries. It is constructed once at program entry and
// threaded through constructors by the caller — never a lazily-initialized
// global, per the explicit redesign note carried over from the original
// design.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/lokyinzhao/stripe-update-go/buffer"
	"github.com/lokyinzhao/stripe-update-go/errkit"
)

const component = "config"

// Config is the full set of declarative knobs required to run either
// binary. Not every field is used by every binary (Standalone is empty in
// cluster-only configs and vice versa).
type Config struct {
	ECK              int    `toml:"ec_k"`
	ECP              int    `toml:"ec_p"`
	BlockSize        int    `toml:"block_size"`
	BlockNum         int    `toml:"block_num"`
	SSDBlockCapacity int    `toml:"ssd_block_capacity"`
	SliceSize        int    `toml:"slice_size"`
	TestNum          int    `toml:"test_num"`
	OutDirPath       string `toml:"out_dir_path"`

	Standalone StandaloneConfig `toml:"standalone"`
	Cluster    ClusterConfig    `toml:"cluster"`
}

// StandaloneConfig holds the single-process deployment's device paths.
type StandaloneConfig struct {
	SSDDevPath  string `toml:"ssd_dev_path"`
	BlobDevPath string `toml:"blob_dev_path"`
}

// ClusterConfig holds the distributed deployment's broker address and
// per-worker device paths.
type ClusterConfig struct {
	BrokerURL  string          `toml:"redis_url"`
	WorkerNum  int             `toml:"worker_num"`
	WorkerDirs []WorkerDirsCfg `toml:"worker"`
}

// WorkerDirsCfg is one worker's device paths, indexed 1..=worker_num.
type WorkerDirsCfg struct {
	ID          int    `toml:"id"`
	SSDDevPath  string `toml:"ssd_dev_path"`
	BlobDevPath string `toml:"blob_dev_path"`
}

// Load reads and validates a TOML config file at path, expanding a leading
// ~ the way rclone's own config-path handling does.
func Load(path string) (*Config, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, errkit.Wrap(errkit.InvalidArg, component, "expanding config path", err)
	}
	var cfg Config
	if _, err := toml.DecodeFile(expanded, &cfg); err != nil {
		return nil, errkit.Wrap(errkit.IO, component, "decoding config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the required-key and shape invariants from the
// external-interfaces contract.
func (c *Config) Validate() error {
	if c.ECK < 1 || c.ECP < 1 {
		return errkit.New(errkit.InvalidArg, component, "ec_k and ec_p must each be at least 1")
	}
	if c.BlockSize <= 0 || c.BlockSize%buffer.SegSize != 0 {
		return errkit.New(errkit.InvalidArg, component, "block_size must be a positive multiple of the segment size")
	}
	if c.SliceSize <= 0 || c.SliceSize > c.BlockSize {
		return errkit.New(errkit.InvalidArg, component, "slice_size must be positive and at most block_size")
	}
	if c.SliceSize%buffer.SegSize != 0 {
		return errkit.New(errkit.InvalidArg, component, "slice_size must be a multiple of the segment size")
	}
	if c.BlockNum < c.ECK+c.ECP {
		return errkit.New(errkit.InvalidArg, component, "block_num must cover at least one full stripe")
	}
	if c.TestNum < 0 {
		return errkit.New(errkit.InvalidArg, component, "test_num must not be negative")
	}
	if c.OutDirPath == "" {
		return errkit.New(errkit.InvalidArg, component, "out_dir_path is required")
	}
	if err := requireDir(c.OutDirPath); err != nil {
		return err
	}
	if c.Standalone.SSDDevPath != "" {
		if err := requireDir(c.Standalone.SSDDevPath); err != nil {
			return err
		}
	}
	if c.Standalone.BlobDevPath != "" {
		if err := requireDir(c.Standalone.BlobDevPath); err != nil {
			return err
		}
	}
	for _, w := range c.Cluster.WorkerDirs {
		if w.ID < 1 || w.ID > c.Cluster.WorkerNum {
			return errkit.New(errkit.InvalidArg, component, "worker id out of [1, worker_num] range")
		}
	}
	return nil
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errkit.Wrap(errkit.InvalidArg, component, "configured path does not exist: "+path, err)
	}
	if !info.IsDir() {
		return errkit.New(errkit.InvalidArg, component, "configured path is not a directory: "+path)
	}
	return nil
}

// M returns k+p.
func (c *Config) M() int { return c.ECK + c.ECP }

// WorkerDirsFor looks up a specific worker's device paths.
func (c *Config) WorkerDirsFor(id int) (WorkerDirsCfg, bool) {
	for _, w := range c.Cluster.WorkerDirs {
		if w.ID == id {
			return w, true
		}
	}
	return WorkerDirsCfg{}, false
}

// AbsOutDir resolves OutDirPath to an absolute path.
func (c *Config) AbsOutDir() (string, error) {
	abs, err := filepath.Abs(c.OutDirPath)
	if err != nil {
		return "", errkit.Wrap(errkit.IO, component, "resolving out_dir_path", err)
	}
	return abs, nil
}
