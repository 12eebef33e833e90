// Command flowbench pushes a sequence of integers from a producer to a consumer through
// bounded buffers and reports the throughput.
//
// Usage:
//
//	flowbench                          # run with defaults
//	flowbench -config bench.yaml       # read the config from a file
//	flowbench -items 1000 -rate 100    # override single fields
//	flowbench -journal                 # pass items through a SQLite journal
package main

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/teenjuna/flowbuf"
	"github.com/teenjuna/flowbuf/journal"
)

func main() {
	cfg, err := ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowbench: %v\n", err)
		os.Exit(2)
	}

	logger, err := cfg.Log.Logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "flowbench: build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Benchmark failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config, logger *zap.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := flowbuf.Prometheus(registry)

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, registry, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	buffer := func(name string) flowbuf.ConfigFunc {
		return func(c *flowbuf.Config) {
			c.Name(name)
			c.Logger(logger)
			c.Prometheus(metrics)
		}
	}

	group, ctx := errgroup.WithContext(ctx)
	source, sourceProd := flowbuf.NewResources[int64](cfg.Capacity, cfg.MinPullSize, buffer("source"))
	sink := source

	if cfg.Journal.Enabled {
		j, err := openJournal(cfg.Journal, logger)
		if err != nil {
			return err
		}
		defer func() {
			_ = j.Close()
		}()

		var sinkProd flowbuf.ProducerResource[int64]
		sink, sinkProd = flowbuf.NewResources[int64](cfg.Capacity, cfg.MinPullSize, buffer("sink"))
		group.Go(func() error {
			return j.Relay(ctx, source, sinkProd)
		})
	}

	obs := flowbuf.NewBlockingObserver[int64]()
	if _, err := flowbuf.Subscribe(sink, obs); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	logger.Info("Starting benchmark",
		zap.Int("items", cfg.Items),
		zap.Int("capacity", cfg.Capacity),
		zap.Int("min_pull_size", cfg.MinPullSize),
		zap.Float64("rate", cfg.Rate),
		zap.Bool("journal", cfg.Journal.Enabled),
	)
	start := time.Now()

	group.Go(func() error {
		limiter := rate.NewLimiter(rate.Inf, cfg.Burst)
		if cfg.Rate > 0 {
			limiter.SetLimit(rate.Limit(cfg.Rate))
		}
		return flowbuf.Publish(ctx, sourceProd, sequence(ctx, limiter, cfg.Items))
	})

	var received, reordered int64
	group.Go(func() error {
		last := int64(-1)
		err := obs.Each(func(item int64) {
			// Items left in the journal by a previous run restart the sequence.
			if item != last+1 && item != 0 {
				reordered++
			}
			last = item
			received++
		})
		if err != nil {
			return fmt.Errorf("consume: %w", err)
		}
		return nil
	})

	err := group.Wait()
	elapsed := time.Since(start)

	logger.Info("Finished benchmark",
		zap.Int64("received", received),
		zap.Int64("reordered", reordered),
		zap.Duration("elapsed", elapsed),
		zap.Float64("items_per_second", float64(received)/elapsed.Seconds()),
	)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func openJournal(cfg JournalConfig, logger *zap.Logger) (*journal.Journal[int64], error) {
	codec, err := cfg.codec()
	if err != nil {
		return nil, err
	}

	j, err := journal.New[int64](func(c *journal.Config) {
		c.File(cfg.File)
		c.Durable(cfg.Durable)
		c.Codec(codec)
		c.FlushSize(cfg.FlushSize)
		c.FlushTimeout(cfg.FlushTimeout)
		c.RetryPolicy(cfg.Retry.policy())
		c.Logger(logger.Named("journal"))
	})
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if stats := j.Stats(); stats.Batches != 0 {
		logger.Warn("Journal holds items of a previous run; they are delivered first",
			zap.Int("batches", stats.Batches),
			zap.Int("items", stats.Items),
		)
	}
	return j, nil
}

// sequence yields the integers from 0 to n, waiting for the limiter before each of them.
func sequence(ctx context.Context, limiter *rate.Limiter, n int) iter.Seq[int64] {
	return func(yield func(int64) bool) {
		for i := range int64(n) {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			if !yield(i) {
				return
			}
		}
	}
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("Serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	return srv
}
