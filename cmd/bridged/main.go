// Command bridged runs the Kaspa Stratum bridge: one or more configured
// instances, each listening for ASIC connections, pulling block templates
// from a shared kaspad node, and submitting found blocks back to it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rkbridge/stratum-bridge/internal/bridgelog"
	"github.com/rkbridge/stratum-bridge/internal/config"
	"github.com/rkbridge/stratum-bridge/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func run() error {
	var configPath string
	var logLevel string
	var kaspadAddress string

	pflag.StringVar(&configPath, "config", "", "path to the YAML service config")
	pflag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); defaults to info")
	pflag.StringVar(&kaspadAddress, "kaspad-address", "", "override global.kaspad_address")
	pflag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return &fatalError{code: 2, err: err}
	}
	if kaspadAddress != "" {
		cfg.Global.KaspadAddress = kaspadAddress
	}
	if v := os.Getenv("KASPAD_ADDRESS"); v != "" && kaspadAddress == "" {
		cfg.Global.KaspadAddress = v
	}
	if err := cfg.Validate(); err != nil {
		return &fatalError{code: 2, err: fmt.Errorf("invalid config: %w", err)}
	}

	level := logLevel
	if level == "" {
		level = "info"
	}
	logger, err := bridgelog.New(bridgelog.Options{Level: level, Instance: "main", LogToFile: cfg.Global.LogToFile})
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting stratum bridge",
		zap.String("kaspad_address", cfg.Global.KaspadAddress),
		zap.Int("instances", len(cfg.Instances)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, instCfg := range cfg.Instances {
		instCfg := instCfg
		inst, err := supervisor.NewInstance(cfg.Global, instCfg, logger)
		if err != nil {
			return fmt.Errorf("build instance for port %d: %w", instCfg.StratumPort, err)
		}
		g.Go(func() error {
			return inst.Run(gctx)
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case <-gctx.Done():
	}

	if err := g.Wait(); err != nil {
		logger.Error("instance exited with error", zap.Error(err))
	}
	return nil
}

type fatalError struct {
	code int
	err  error
}

func (e *fatalError) Error() string { return e.err.Error() }

func exitCodeFor(err error) int {
	if fe, ok := err.(*fatalError); ok {
		return fe.code
	}
	return 1
}
