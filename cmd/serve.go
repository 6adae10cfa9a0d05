package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zkattest/nitro-prover/metrics"
	"github.com/zkattest/nitro-prover/server"
)

var serveCmdAddr string

func init() {
	serveCmd.Flags().StringVar(&serveCmdAddr, "addr", "", "listen address, overrides server.addr")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proving service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = serveCmdAddr
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := newStack(ctx, cfg, logger)
		if err != nil {
			return err
		}
		var m *metrics.Metrics
		if cfg.Server.Metrics {
			m = metrics.New()
		}
		svc, sched := newService(st, cfg, logger, m)
		defer sched.Close()

		return server.New(svc, logger, m).Start(ctx, cfg.Server.Addr)
	},
}
