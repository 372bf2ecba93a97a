package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vectra/server"
)

var serveAddr string

// serveCmd runs the REST API until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the REST API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveAddr != "" {
			cfg.Addr = serveAddr
		}

		vt, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = vt.Close(context.Background())
		}()

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

		srv := server.New(vt, func(o *server.Options) {
			o.Logger = logger
		})

		fmt.Printf("listening on %s, data directory %s\n", cfg.Addr, cfg.Dir)
		return srv.ListenAndServe(cmd.Context(), cfg.Addr)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", "", "listen address (default \"127.0.0.1:8080\")")
}
