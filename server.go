package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/RiemaLabs/charms-indexer/apis"
	"github.com/RiemaLabs/charms-indexer/checkpoint"
	"github.com/RiemaLabs/charms-indexer/checkpoint/aws_s3"
	"github.com/RiemaLabs/charms-indexer/checkpoint/nubit_da"
	"github.com/RiemaLabs/charms-indexer/getter"
	"github.com/RiemaLabs/charms-indexer/indexer"
	"github.com/RiemaLabs/charms-indexer/internal/logs"
	"github.com/RiemaLabs/charms-indexer/internal/metrics"
	"github.com/RiemaLabs/charms-indexer/internal/spellcache"
	"github.com/RiemaLabs/charms-indexer/internal/tree"
	"github.com/RiemaLabs/charms-indexer/ledger"
	"github.com/RiemaLabs/charms-indexer/storage"
)

type ServerArguments struct {
	// EnableCommittee: Index spells and upload checkpoints.
	EnableCommittee bool
	EnablePprof     bool
	EnableDebug     bool
	// EnableCheck: Serve POST /spells/check.
	EnableCheck bool
	Addr        string
}

func (arguments *RuntimeArguments) serverCmd() *cobra.Command {
	var server ServerArguments
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Provides the spell API, optionally indexing spells as a committee indexer.",
		Long: `
		Server command provides the HTTP API for spell extraction and checking.

		Flags:
		- "--committee": Follows the Bitcoin chain, commits every verified spell in a verkle tree and uploads per-block checkpoints by the configured report method.
		- "--pprof": Serves the Go profiler under /debug/pprof.
		`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if server.Addr == "" {
				server.Addr = GlobalConfig.Service.Addr
			}
			return Execution(cmd.Context(), &GlobalConfig, &server)
		},
	}
	cmd.Flags().BoolVarP(&server.EnableCommittee, "committee", "", false, "Enable this flag to provide committee indexer service")
	cmd.Flags().BoolVarP(&server.EnablePprof, "pprof", "", false, "Enable this flag to serve pprof")
	cmd.Flags().BoolVarP(&server.EnableDebug, "debug", "", false, "Enable this flag to run gin in debug mode")
	cmd.Flags().BoolVarP(&server.EnableCheck, "check", "", true, "Enable this flag to serve spell checking")
	cmd.Flags().StringVarP(&server.Addr, "addr", "a", "", "Address of the API service, overrides service.addr")
	return cmd
}

func newUploaders(ctx context.Context, cfg *Config) ([]checkpoint.Uploader, error) {
	switch cfg.Report.Method {
	case "":
		return nil, nil
	case "S3":
		s3cfg := cfg.Report.S3
		u, err := aws_s3.NewUploader(ctx, s3cfg.AccessKey, s3cfg.SecretKey, s3cfg.Region, s3cfg.Bucket)
		if err != nil {
			return nil, err
		}
		return []checkpoint.Uploader{u}, nil
	case "DA":
		dacfg := cfg.Report.Da
		backend, err := nubit_da.NewNubitDABackend(dacfg.RPC, dacfg.Token, dacfg.NamespaceID, dacfg.FetchTimeout, dacfg.SubmitTimeout)
		if err != nil {
			return nil, err
		}
		return []checkpoint.Uploader{nubit_da.NewSubmitter(backend)}, nil
	case "NUBIT":
		dacfg := cfg.Report.Da
		if !checkpoint.IsValidNamespaceID(dacfg.NamespaceID) {
			return nil, fmt.Errorf("invalid namespace ID %q", dacfg.NamespaceID)
		}
		return []checkpoint.Uploader{&nubit_da.SDKUploader{
			PrivateKey:  dacfg.PrivateKey,
			GasCoupon:   dacfg.GasCoupon,
			NamespaceID: dacfg.NamespaceID,
			Network:     dacfg.Network,
		}}, nil
	}
	return nil, fmt.Errorf("unknown report method %q", cfg.Report.Method)
}

// Execution runs the API service, and the committee indexer when enabled,
// until ctx is done.
func Execution(ctx context.Context, cfg *Config, arguments *ServerArguments) error {
	go metrics.ListenAndServe(cfg.Metrics.Addr)
	metrics.Version.WithLabelValues(version).Set(1)
	metrics.Stage.Set(metrics.StageInitializing)

	registry, err := cfg.Registry()
	if err != nil {
		return err
	}
	cache, err := spellcache.Open(cfg.Cache.Path, cfg.Cache.Capacity)
	if err != nil {
		return fmt.Errorf("failed to open the spell cache: %w", err)
	}
	defer cache.Close()
	resolver := ledger.NewResolver(registry, ledger.WithCache(cache))

	svc := &apis.Service{Verifier: registry, Budget: cfg.App}
	if cfg.BitcoinRPC.User != "" {
		g, err := getter.NewGetter(cfg.BitcoinRPC.Host, cfg.BitcoinRPC.User, cfg.BitcoinRPC.Password)
		if err != nil {
			return fmt.Errorf("failed to initial getter from bitcoin rpc: %w", err)
		}
		defer g.Shutdown()
		svc.Getter = g
	}
	if arguments.EnableCheck {
		c, release, err := newChecker(ctx, registry)
		if err != nil {
			return err
		}
		defer release()
		svc.Checker = c
	}

	errs := make(chan error, 2)
	if arguments.EnableCommittee {
		if svc.Getter == nil {
			return errors.New("committee mode requires bitcoinRPC")
		}
		ix, closeIndexer, err := newIndexer(ctx, cfg, svc.Getter, resolver)
		if err != nil {
			return err
		}
		defer closeIndexer()
		svc.Indexer = ix
		go func() {
			errs <- ix.Run(ctx)
		}()
	} else {
		metrics.Stage.Set(metrics.StageServing)
	}

	go func() {
		errs <- apis.StartService(svc, arguments.Addr, arguments.EnablePprof, arguments.EnableDebug)
	}()

	select {
	case <-ctx.Done():
		logs.Infof("Shutting down")
		return nil
	case err := <-errs:
		return err
	}
}

func newIndexer(ctx context.Context, cfg *Config, g getter.TxGetter, resolver *ledger.Resolver) (*indexer.Indexer, func(), error) {
	t, err := tree.OpenSpellTree(cfg.Tree.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open the spell tree: %w", err)
	}
	opts := []indexer.Option{}
	if cfg.Database.Host != "" {
		store, err := storage.Connect(cfg.Database)
		if err != nil {
			_ = t.Close()
			return nil, nil, fmt.Errorf("failed to connect to the database: %w", err)
		}
		opts = append(opts, indexer.WithStore(store))
	}
	uploaders, err := newUploaders(ctx, cfg)
	if err != nil {
		_ = t.Close()
		return nil, nil, err
	}
	if len(uploaders) > 0 {
		id := checkpoint.IndexerIdentification{
			URL:          cfg.Service.URL,
			Name:         cfg.Service.Name,
			Version:      version,
			MetaProtocol: checkpoint.MetaProtocol,
		}
		timeout := time.Duration(cfg.Report.Timeout) * time.Millisecond
		opts = append(opts, indexer.WithReporter(checkpoint.NewReporter(timeout, uploaders...), id))
	}
	closeTree := func() {
		if err := t.Close(); err != nil {
			logs.Warnf("Failed to close the spell tree due to %v", err)
		}
	}
	return indexer.New(g, resolver, t, cfg.Indexer, opts...), closeTree, nil
}
