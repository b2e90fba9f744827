package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/luckyjupiter/chronomancy/beacon"
	"github.com/luckyjupiter/chronomancy/chain"
	"github.com/luckyjupiter/chronomancy/entropy"
	"github.com/luckyjupiter/chronomancy/mesh"
	"github.com/luckyjupiter/chronomancy/processor"
	"github.com/luckyjupiter/chronomancy/rpc"
	"github.com/luckyjupiter/chronomancy/shard"
	"github.com/luckyjupiter/chronomancy/store"
)

const prefix = "CHRONOMANCY"

func main() {
	if err := run(); err != nil {
		log.Fatalf("main: exited with error: %s", err.Error())
	}
}

func run() error {
	var cfg struct {
		Server struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:5s"`
			ShutdownTimeout time.Duration `conf:"default:5s"`
			HttpHost        string        `conf:"default:0.0.0.0:8002"`
		}
		Beacon struct {
			Url          string        `conf:"default:https://api.drand.sh/public/latest"`
			FetchTimeout time.Duration `conf:"default:5s"`
		}
		Entropy struct {
			SamplerCadence time.Duration `conf:"default:1ms"`
		}
		Mixer struct {
			StorageFolder  string        `conf:"default:store"`
			DataFolder     string        `conf:"default:data"`
			AnchorInterval time.Duration `conf:"default:10s"`
		}
	}

	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config usage")
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return errors.Wrap(err, "generating config version")
			}
			fmt.Println(version)
			return nil
		}
		return errors.Wrap(err, "parsing config")
	}

	out, err := conf.String(&cfg)
	if err != nil {
		return errors.Wrap(err, "generating config for output")
	}
	log.Printf("main: Config :\n%v\n", out)

	logger, err := zap.NewProduction()
	if err != nil {
		return errors.Wrap(err, "creating logger")
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Mixer.DataFolder, 0o755); err != nil {
		return errors.Wrap(err, "creating data folder")
	}

	db, err := pebble.Open(cfg.Mixer.StorageFolder, &pebble.Options{})
	if err != nil {
		return errors.Wrap(err, "opening pebble")
	}
	defer db.Close()

	ps := store.NewPebbleStore(db, logger)
	shardMixer := shard.NewMixer(ps, cfg.Mixer.DataFolder, logger)

	meshMixer, err := mesh.NewMixer(filepath.Join(cfg.Mixer.DataFolder, "pulses"), logger)
	if err != nil {
		return errors.Wrap(err, "creating mesh mixer")
	}

	beaconClient := beacon.NewClient(cfg.Beacon.Url, cfg.Beacon.FetchTimeout)
	headerChain, err := chain.NewChain(filepath.Join(cfg.Mixer.DataFolder, "chain.json"), beaconClient, logger)
	if err != nil {
		return errors.Wrap(err, "creating chain")
	}

	rng := entropy.NewRng(entropy.NewMonotonicSource(), logger)
	sampler := entropy.NewSampler(rng, cfg.Entropy.SamplerCadence, logger)

	rpcServer := rpc.NewServer(cfg.Server.HttpHost, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, shardMixer, meshMixer, headerChain, sampler, logger)
	rpcServer.Start()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serviceErrors := make(chan error, 2)

	go func() {
		serviceErrors <- sampler.Run(ctx)
	}()

	p := processor.NewProcessor(meshMixer, headerChain, ps, cfg.Mixer.AnchorInterval, logger)
	go func() {
		serviceErrors <- p.Start(ctx)
	}()

	select {
	case <-shutdown:
		log.Println("main: shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutting down http server")
		}
		return nil
	case err := <-serviceErrors:
		return errors.Wrap(err, "service error")
	}
}
