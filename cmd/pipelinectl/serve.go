package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/documentmetadataflow/internal/gcp"
	"github.com/Lllllllleong/documentmetadataflow/internal/metrics"
	"github.com/Lllllllleong/documentmetadataflow/internal/services"
)

var (
	extractionSubscription string
	refreshSubscription    string
	metricsAddr            string
	flushInterval          time.Duration
	workerConcurrency      int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the workers against Pub/Sub subscriptions",
	Long: `Pulls upload events and metadata ready messages from their subscriptions
and runs the extraction and refresh workers on bounded worker pools.
Either worker is skipped when its subscription is not set. Prometheus
metrics are served on --metrics-addr.`,
	RunE: runServe,
}

func init() {
	concurrency, err := gcp.GetEnvInt("WORKER_CONCURRENCY", 8)
	if err != nil {
		concurrency = 8
	}
	serveCmd.Flags().StringVar(&extractionSubscription, "extraction-subscription", gcp.GetEnv("EXTRACTION_SUBSCRIPTION_ID", ""), "subscription delivering upload events")
	serveCmd.Flags().StringVar(&refreshSubscription, "refresh-subscription", gcp.GetEnv("REFRESH_SUBSCRIPTION_ID", ""), "subscription delivering metadata ready messages")
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "address of the Prometheus metrics endpoint, empty to disable")
	serveCmd.Flags().DurationVar(&flushInterval, "flush-interval", time.Minute, "how often pending segments are re-notified")
	serveCmd.Flags().IntVar(&workerConcurrency, "concurrency", concurrency, "messages in flight per worker")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if extractionSubscription == "" && refreshSubscription == "" {
		return errors.New("at least one of --extraction-subscription or --refresh-subscription is required")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := services.LoadStoreConfig()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts := []services.Option{
		services.WithLogger(slog.Default()),
		services.WithMetrics(metrics.New(reg)),
	}

	psClient, err := gcp.NewPubSubClient(ctx, store.ProjectID)
	if err != nil {
		return err
	}
	defer psClient.Close()

	g, ctx := errgroup.WithContext(ctx)

	if extractionSubscription != "" {
		svc, err := services.NewExtractionService(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to build extraction worker: %w", err)
		}
		defer svc.Close()

		receiver := newSubscriptionReceiver(psClient, extractionSubscription, workerConcurrency)
		consumer, err := services.NewConsumer("extraction", receiver, svc.Worker.HandleMessage, workerConcurrency, slog.Default())
		if err != nil {
			return err
		}
		g.Go(func() error { return consumer.Run(ctx) })
	}

	if refreshSubscription != "" {
		svc, err := services.NewRefreshService(ctx, opts...)
		if err != nil {
			return fmt.Errorf("failed to build refresh worker: %w", err)
		}
		defer svc.Close()

		receiver := newSubscriptionReceiver(psClient, refreshSubscription, workerConcurrency)
		consumer, err := services.NewConsumer("refresh", receiver, svc.Worker.HandleMessage, workerConcurrency, slog.Default())
		if err != nil {
			return err
		}
		g.Go(func() error { return consumer.Run(ctx) })
		g.Go(func() error { return flushLoop(ctx, svc.Worker, flushInterval) })
	}

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsMux(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("Serving metrics", "addr", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("Workers started",
		"extractionSubscription", extractionSubscription,
		"refreshSubscription", refreshSubscription,
		"concurrency", workerConcurrency,
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Workers stopped")
	return nil
}

func metricsMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// flusher is the part of the refresh worker the flush loop drives.
type flusher interface {
	Flush(ctx context.Context) error
}

func flushLoop(ctx context.Context, f flusher, every time.Duration) error {
	if every <= 0 {
		return nil
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.Flush(ctx); err != nil {
				slog.Warn("Failed to flush pending segments", "error", err)
			}
		}
	}
}
