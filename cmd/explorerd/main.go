package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Nikhil123n/dail-knowledge-graph/internal/api"
	"github.com/Nikhil123n/dail-knowledge-graph/internal/explorerd"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/config"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/logger"
)

func main() {
	var configPath string
	var grpcAddr string
	var httpAddr string
	var backendURL string
	var logLevel string

	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address (default from config, :50051)")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address (default from config, :8080)")
	flag.StringVar(&backendURL, "backend", "", "graph backend base URL")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			logger.Error("failed to load config", "path", configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if grpcAddr != "" {
		cfg.Server.GRPCAddr = grpcAddr
	}
	if httpAddr != "" {
		cfg.Server.HTTPAddr = httpAddr
	}
	if backendURL != "" {
		cfg.Backend.BaseURL = backendURL
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if cfg.LogFormat == "text" {
		logger.SetDefault(logger.NewText(cfg.LogLevel, os.Stdout))
	} else {
		logger.SetDefault(logger.New(cfg.LogLevel, os.Stdout))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := explorerd.Run(ctx, cfg, api.New(cfg.Backend)); err != nil {
		logger.Error("explorerd exited", "error", err)
		stop()
		os.Exit(1)
	}
}
