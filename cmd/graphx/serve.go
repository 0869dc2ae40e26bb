package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Nikhil123n/dail-knowledge-graph/internal/api"
	"github.com/Nikhil123n/dail-knowledge-graph/internal/explorerd"
)

func serveCmd(flags *globalFlags) *cobra.Command {
	var httpAddr, grpcAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the exploration daemon (same as explorerd)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.Server.HTTPAddr = httpAddr
			}
			if grpcAddr != "" {
				cfg.Server.GRPCAddr = grpcAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			brand.Fprintf(cmd.ErrOrStderr(), "graphx serve")
			subtle.Fprintf(cmd.ErrOrStderr(), " http=%s grpc=%s backend=%s\n", cfg.Server.HTTPAddr, cfg.Server.GRPCAddr, cfg.Backend.BaseURL)
			return explorerd.Run(ctx, cfg, api.New(cfg.Backend))
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (overrides config)")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", "", "gRPC listen address (overrides config)")
	return cmd
}
