package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/config"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/hostruntime"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/hostruntime/rawsock"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/hostruntime/simulated"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/ingress"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/metrics"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/nat"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/packet"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/pfcp"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/pipeline"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/rules"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/server"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/telemetry"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configPath string
	var simulate bool
	flag.StringVar(&configPath, "config", "nf/upf/config/upf.yaml", "Path to configuration file")
	flag.BoolVar(&simulate, "simulate", false, "Run against the in-memory simulated host runtime instead of real netlink/FIB lookups")
	flag.Parse()

	logger := initLogger()
	defer logger.Sync()

	logger.Info("starting UPF", zap.String("version", version), zap.String("build_time", buildTime))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger.Info("configuration loaded",
		zap.String("pfcp_address", cfg.GetPFCPAddress()),
		zap.String("node_id", cfg.PFCP.NodeID),
		zap.Int("n3_ifindex", cfg.Datapath.N3Ifindex),
		zap.Int("n6_ifindex", cfg.Datapath.N6Ifindex))

	tables := rules.NewTables(cfg.Datapath.Workers)
	natTable := nat.NewTable()
	flowEntries := 0
	if cfg.Datapath.FlowAccounting {
		flowEntries = cfg.Datapath.MaxFlowEntries
	}
	tel := telemetry.New(cfg.Datapath.Workers, flowEntries)

	var rt hostruntime.HostRuntime
	if simulate {
		logger.Warn("running with the simulated host runtime; FIB lookups will not reach the real kernel")
		rt = simulated.NewRuntime(logger, 1024)
	} else {
		realRT, err := rawsock.NewRuntime(1024)
		if err != nil {
			logger.Fatal("failed to initialize host runtime", zap.Error(err))
		}
		rt = realRT
	}

	pipe := pipeline.New(cfg, tables, natTable, rt, tel, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !simulate {
		workers, err := startIngressWorkers(cfg, pipe)
		if err != nil {
			logger.Fatal("failed to start ingress workers", zap.Error(err))
		}
		for _, w := range workers {
			go func(w *ingress.Worker) {
				if err := w.Run(ctx); err != nil {
					logger.Error("ingress worker stopped", zap.Error(err))
				}
			}(w)
		}
		defer func() {
			for _, w := range workers {
				w.Close()
			}
		}()
	} else {
		logger.Warn("skipping AF_PACKET ingress workers under -simulate")
	}

	pfcpServer := pfcp.NewServer(cfg, tables, logger)
	pfcpErrCh := make(chan error, 1)
	go func() {
		if err := pfcpServer.Start(ctx); err != nil {
			pfcpErrCh <- fmt.Errorf("pfcp server: %w", err)
		}
	}()

	adminServer := server.NewServer(cfg, tables, tel, logger)
	adminErrCh := make(chan error, 1)
	go func() {
		if err := adminServer.Start(); err != nil && err != http.ErrServerClosed {
			adminErrCh <- fmt.Errorf("admin server: %w", err)
		}
	}()

	var metricsServer *metrics.Server
	if cfg.Observability.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Observability.Metrics.Port, logger)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", zap.Error(err))
			}
		}()
		metrics.ServiceUp.Set(1)
	}

	logger.Info("UPF started", zap.String("pfcp_address", cfg.GetPFCPAddress()))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-pfcpErrCh:
		logger.Error("pfcp server failed", zap.Error(err))
	case err := <-adminErrCh:
		logger.Error("admin server failed", zap.Error(err))
	}

	logger.Info("shutting down UPF")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := adminServer.Stop(shutdownCtx); err != nil {
		logger.Error("error stopping admin server", zap.Error(err))
	}
	if metricsServer != nil {
		metrics.ServiceUp.Set(0)
		if err := metricsServer.Stop(); err != nil {
			logger.Error("error stopping metrics server", zap.Error(err))
		}
	}

	logger.Info("UPF shutdown complete")
}

// startIngressWorkers opens the N3 and N6 raw sockets and returns the
// workers that read frames off each, already wired to transmit out of
// whichever interface the router resolves.
func startIngressWorkers(cfg *config.Config, pipe *pipeline.Pipeline) ([]*ingress.Worker, error) {
	txFD, err := ingress.OpenRawSocket()
	if err != nil {
		return nil, err
	}
	egressFDs := map[int]int{
		cfg.Datapath.N3Ifindex: txFD,
		cfg.Datapath.N6Ifindex: txFD,
	}

	n3, err := ingress.NewWorker(cfg.Datapath.N3Ifindex, packet.InterfaceN3, pipe, 0, egressFDs)
	if err != nil {
		return nil, err
	}
	n6, err := ingress.NewWorker(cfg.Datapath.N6Ifindex, packet.InterfaceN6, pipe, 1, egressFDs)
	if err != nil {
		n3.Close()
		return nil, err
	}
	return []*ingress.Worker{n3, n6}, nil
}

func initLogger() *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zap.InfoLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, _ := cfg.Build()
	return logger
}
