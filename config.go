package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/RiemaLabs/charms-indexer/apprunner"
	"github.com/RiemaLabs/charms-indexer/indexer"
	"github.com/RiemaLabs/charms-indexer/internal/logs"
	"github.com/RiemaLabs/charms-indexer/proof"
	"github.com/RiemaLabs/charms-indexer/storage"
)

type Config struct {
	BitcoinRPC struct {
		Host     string `mapstructure:"host" json:"host"`
		User     string `mapstructure:"user" json:"user"`
		Password string `mapstructure:"password" json:"password"`
	} `mapstructure:"bitcoinRPC" json:"bitcoinRPC"`
	Database storage.DatabaseConfig `mapstructure:"database" json:"database"`
	Report   struct {
		// "S3", "DA", "NUBIT" or empty.
		Method string `mapstructure:"method" json:"method"`
		// Milliseconds.
		Timeout int `mapstructure:"timeout" json:"timeout"`
		S3      struct {
			AccessKey string `mapstructure:"accessKey" json:"accessKey"`
			SecretKey string `mapstructure:"secretKey" json:"secretKey"`
			Region    string `mapstructure:"region" json:"region"`
			Bucket    string `mapstructure:"bucket" json:"bucket"`
		} `mapstructure:"s3" json:"s3"`
		Da struct {
			RPC           string `mapstructure:"rpc" json:"rpc"`
			Token         string `mapstructure:"token" json:"token"`
			NamespaceID   string `mapstructure:"namespaceID" json:"namespaceID"`
			FetchTimeout  string `mapstructure:"fetchTimeout" json:"fetchTimeout"`
			SubmitTimeout string `mapstructure:"submitTimeout" json:"submitTimeout"`
			PrivateKey    string `mapstructure:"privateKey" json:"privateKey"`
			GasCoupon     string `mapstructure:"gasCoupon" json:"gasCoupon"`
			Network       string `mapstructure:"network" json:"network"`
		} `mapstructure:"da" json:"da"`
	} `mapstructure:"report" json:"report"`
	Service struct {
		URL  string `mapstructure:"url" json:"url"`
		Name string `mapstructure:"name" json:"name"`
		Addr string `mapstructure:"addr" json:"addr"`
	} `mapstructure:"service" json:"service"`
	Proof struct {
		// Verifying key file per protocol version.
		VerifyingKeys    map[string]string `mapstructure:"verifyingKeys" json:"verifyingKeys"`
		ProvingKey       string            `mapstructure:"provingKey" json:"provingKey"`
		ConstraintSystem string            `mapstructure:"constraintSystem" json:"constraintSystem"`
	} `mapstructure:"proof" json:"proof"`
	Cache struct {
		Path     string `mapstructure:"path" json:"path"`
		Capacity int    `mapstructure:"capacity" json:"capacity"`
	} `mapstructure:"cache" json:"cache"`
	Tree struct {
		Path string `mapstructure:"path" json:"path"`
	} `mapstructure:"tree" json:"tree"`
	Log     logs.Config      `mapstructure:"log" json:"log"`
	Indexer indexer.Config   `mapstructure:"indexer" json:"indexer"`
	// Execution budget of each app contract run.
	App     apprunner.Budget `mapstructure:"app" json:"app"`
	Metrics struct {
		Addr string `mapstructure:"addr" json:"addr"`
	} `mapstructure:"metrics" json:"metrics"`
}

var GlobalConfig Config

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("CHARMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("bitcoinRPC.host", "127.0.0.1:8332")
	v.SetDefault("report.timeout", 10000)
	v.SetDefault("service.addr", "0.0.0.0:8080")
	v.SetDefault("service.name", "charms-indexer")
	v.SetDefault("cache.path", "./data/spellcache")
	v.SetDefault("cache.capacity", 4096)
	v.SetDefault("tree.path", "./data/tree")
	v.SetDefault("log.level", "info")
	v.SetDefault("indexer.startHeight", 0)
	v.SetDefault("indexer.confirmations", 1)
	v.SetDefault("indexer.interval", time.Minute)
	v.SetDefault("indexer.snapshotDir", "./data/snapshots")
	v.SetDefault("metrics.addr", "0.0.0.0:8081")
	v.SetDefault("app.maxSteps", apprunner.DefaultMaxSteps)
	v.SetDefault("app.timeout", apprunner.DefaultTimeout)

	// AutomaticEnv only covers keys viper already knows about.
	for _, key := range []string{
		"bitcoinRPC.user", "bitcoinRPC.password",
		"database.host", "database.user", "database.password", "database.dbname", "database.port",
		"report.method", "report.s3.accessKey", "report.s3.secretKey", "report.s3.region", "report.s3.bucket",
		"report.da.rpc", "report.da.token", "report.da.namespaceID", "report.da.privateKey", "report.da.gasCoupon",
		"service.url", "proof.provingKey", "proof.constraintSystem", "log.development",
	} {
		_ = v.BindEnv(key)
	}
	return v
}

// LoadConfig reads path, if any, with CHARMS_ environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}

// VerifyingKeyPaths maps the configured verifying keys by protocol version.
func (c *Config) VerifyingKeyPaths() (map[uint32]string, error) {
	paths := make(map[uint32]string, len(c.Proof.VerifyingKeys))
	for k, path := range c.Proof.VerifyingKeys {
		version, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(k), "v"), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid protocol version %q in proof.verifyingKeys", k)
		}
		paths[uint32(version)] = path
	}
	return paths, nil
}

// Registry loads the configured verifying keys.
func (c *Config) Registry() (*proof.Registry, error) {
	paths, err := c.VerifyingKeyPaths()
	if err != nil {
		return nil, err
	}
	return proof.LoadRegistry(paths)
}
