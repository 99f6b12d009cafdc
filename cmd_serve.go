package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"capdissector/internal/dissect"
	"capdissector/internal/engine"
	"capdissector/internal/handlers"
	"capdissector/internal/publish"
)

type serveFlags struct {
	addr      string
	maxFrames int
}

func newServeCmd(root *rootFlags) *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve [file]",
		Short: "Serve frames over HTTP and WebSocket",
		Long: `Start the HTTP API. Capture files can be uploaded to /api/upload or
given on the command line; live captures are started over the WebSocket.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = flags.addr
			}
			if cmd.Flags().Changed("max-frames") {
				cfg.Server.MaxFrames = flags.maxFrames
			}

			log, err := newLogger(cfg.Logging, root.verbose)
			if err != nil {
				return err
			}
			defer log.Sync()

			opts := []engine.Option{
				engine.WithMaxFrames(cfg.Server.MaxFrames),
				engine.WithSnapLen(cfg.Capture.SnapLen),
				engine.WithDissector(dissect.NewEngine(dissect.WithColumns(cfg.Capture.Columns))),
			}
			if len(cfg.Dissect.ReadFilter) > 0 {
				opts = append(opts, engine.WithFilter(dissect.ProtocolFilter(cfg.Dissect.ReadFilter...)))
			}
			if cfg.Publish.NatsURL != "" {
				pub, err := publish.NewPublisher(cfg.Publish, log)
				if err != nil {
					return err
				}
				defer pub.Close()
				opts = append(opts, engine.WithPublisher(pub))
			}

			eng := engine.New(log, opts...)
			defer eng.Close()
			if len(args) == 1 {
				if err := eng.LoadPcapFile(args[0]); err != nil {
					return err
				}
			}

			server := &http.Server{
				Addr:    cfg.Server.Addr,
				Handler: handlers.NewAPI(eng, log, cfg.Server.MaxUploadMB).Router(),
			}
			return serve(server, log)
		},
	}

	cmd.Flags().StringVar(&flags.addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().IntVar(&flags.maxFrames, "max-frames", 10000, "Number of frames kept in memory (0 = unlimited)")
	return cmd
}

// serve runs server until SIGINT or SIGTERM, then shuts it down.
func serve(server *http.Server, log *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Info("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
