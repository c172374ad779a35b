// Command imgupload uploads images through the configured providers and
// inspects provider health and stored records.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	imageuploader "github.com/Skryldev/image-uploader"
	"github.com/Skryldev/image-uploader/config"
	"github.com/Skryldev/image-uploader/hooks"
)

type app struct {
	configPath string
	stdout     io.Writer
	cfg        config.Config
	logger     zerolog.Logger
	registry   *prometheus.Registry
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	a := &app{stdout: stdout}
	root := &cobra.Command{
		Use:           "imgupload",
		Short:         "Resilient image uploads with provider fallback",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	root.AddCommand(a.newUploadCmd(), a.newHealthCmd(), a.newRecordsCmd())
	root.SetOut(stdout)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	a.logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
	log.Logger = a.logger
	return nil
}

// open builds an Uploader wired to the CLI's logger and, when MetricsAddr is
// set, a Prometheus endpoint that lives as long as ctx.
func (a *app) open(ctx context.Context, deps imageuploader.Deps) (*imageuploader.Uploader, error) {
	deps.Logger = hooks.NewZerologLogger(a.logger)
	if a.cfg.MetricsAddr != "" {
		a.registry = prometheus.NewRegistry()
		deps.Metrics = hooks.NewPrometheusMetrics(a.registry)
		a.serveMetrics(ctx)
	}
	return imageuploader.New(ctx, a.cfg, deps)
}

func (a *app) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Str("addr", a.cfg.MetricsAddr).Msg("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.logger.Info().Str("addr", a.cfg.MetricsAddr).Msg("serving metrics")
}
