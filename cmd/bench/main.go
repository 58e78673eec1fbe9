// Command bench runs a synthetic workload against the cache, loading misses
// through a batch processor, and exposes optional pprof/Prometheus endpoints.
//
// Flag defaults come from the CACHEKIT_* environment (see internal/config).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IvanBrykalov/cachekit/batch"
	"github.com/IvanBrykalov/cachekit/cache"
	"github.com/IvanBrykalov/cachekit/internal/config"
	"github.com/IvanBrykalov/cachekit/internal/logger"
	pmet "github.com/IvanBrykalov/cachekit/metrics/prom"
	"github.com/IvanBrykalov/cachekit/perf"
	"github.com/IvanBrykalov/cachekit/policy/lru"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := cfg.Logger()

	// ---- Flags ----
	var (
		capacity = flag.Int("cap", cfg.CacheMaxSize, "cache capacity (entries)")
		ttl      = flag.Duration("ttl", cfg.CacheDefaultTTL, "default entry TTL (0 = none)")
		sweep    = flag.Duration("sweep", cfg.CacheCleanupInterval, "expiry sweep interval (<0 disables)")
		policy   = flag.String("policy", "fifo", "eviction policy: fifo | lru")

		batchSize  = flag.Int("batch", cfg.BatchSize, "loader batch size")
		batchDelay = flag.Duration("batch_delay", cfg.BatchDelay, "loader batch delay")
		latency    = flag.Duration("latency", 2*time.Millisecond, "simulated backend latency per batch")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		keys    = flag.Int("keys", 100_000, "keyspace size")
		zipfS   = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "random seed")
		preload = flag.Int("preload", 0, "preload entries (0 = cap/2)")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", cfg.MetricsAddr, "serve Prometheus metrics at addr; empty = disabled")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Info("pprof: serving", slog.String("addr", *pprofAddr))
			log.Error("pprof server stopped", logger.Error(http.ListenAndServe(*pprofAddr, nil)))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	cacheMetrics := pmet.NewCache(nil, "cachekit", "bench", nil)
	batchMetrics := pmet.NewBatch(nil, "cachekit", "bench", nil)
	mon := perf.New(log, perf.WithSink(pmet.NewPerfSink(nil, "cachekit", "bench", nil)))
	if *metricsAddr != "" {
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			log.Info("metrics: serving", slog.String("addr", *metricsAddr))
			log.Error("metrics server stopped", logger.Error(http.ListenAndServe(*metricsAddr, nil)))
		}()
	}

	// ---- Backend: misses are loaded in batches ----
	backend := batch.New(func(ctx context.Context, ks []string) ([]string, error) {
		select {
		case <-time.After(*latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		out := make([]string, len(ks))
		for i, k := range ks {
			out[i] = "v(" + k + ")"
		}
		return out, nil
	}, batch.Options{BatchSize: *batchSize, Delay: *batchDelay, Metrics: batchMetrics, Logger: log})
	defer func() { _ = backend.Close() }()

	// ---- Build cache ----
	opt := cache.Options[string, string]{
		MaxSize:         *capacity,
		DefaultTTL:      *ttl,
		CleanupInterval: *sweep,
		Metrics:         cacheMetrics,
		Logger:          log,
		Loader: func(ctx context.Context, k string) (string, error) {
			return backend.Do(ctx, k)
		},
	}
	switch *policy {
	case "fifo":
		// nil => insertion order by default
	case "lru":
		opt.Policy = lru.New[string, string]()
	default:
		log.Error("unknown policy (use fifo or lru)", slog.String("policy", *policy))
		os.Exit(2)
	}
	c := cache.New(opt)

	mgr := cache.NewManager(log)
	defer func() { _ = mgr.Close() }()
	if err := mgr.Register("bench", c); err != nil {
		log.Error("register cache", logger.Error(err))
		os.Exit(1)
	}

	// ---- Preload half capacity to get a realistic hit-rate ----
	pl := *preload
	if pl == 0 {
		pl = *capacity / 2
	}
	_ = mon.Measure("preload", func() error {
		for i := 0; i < pl; i++ {
			k := "k:" + strconv.Itoa(i)
			c.Set(k, "v"+strconv.Itoa(i))
		}
		return nil
	})

	// ---- Snapshot flags for goroutines ----
	readPctVal := *readPct
	keysMax := uint64(*keys - 1)
	seedBase := *seed
	zipfSVal := *zipfS
	zipfVVal := *zipfV
	workersN := *workers
	if workersN <= 0 {
		workersN = 1
	}

	// ---- Load generation ----
	var reads, writes, loadErrs, total uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(workersN)
	for w := 0; w < workersN; w++ {
		go func(id int) {
			defer wg.Done()

			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(seedBase + int64(id)*9973))
			localZipf := rand.NewZipf(localR, zipfSVal, zipfVVal, keysMax)

			keyByZipf := func() string {
				return "k:" + strconv.FormatUint(localZipf.Uint64(), 10)
			}

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				atomic.AddUint64(&total, 1)
				if int(localR.Int31n(100)) < readPctVal {
					atomic.AddUint64(&reads, 1)
					err := mon.MeasureContext(ctx, "get_or_load", func(ctx context.Context) error {
						_, err := c.GetOrLoad(ctx, keyByZipf())
						return err
					})
					if err != nil && ctx.Err() == nil {
						atomic.AddUint64(&loadErrs, 1)
					}
				} else {
					atomic.AddUint64(&writes, 1)
					k := keyByZipf()
					c.Set(k, "v"+strconv.Itoa(localR.Int()))
				}
			}
		}(w)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// ---- Report ----
	ops := atomic.LoadUint64(&total)
	readsN := atomic.LoadUint64(&reads)
	writesN := atomic.LoadUint64(&writes)
	st := c.Stats()

	fmt.Printf("policy=%s cap=%d ttl=%v batch=%d/%v workers=%d keys=%d dur=%v seed=%d\n",
		*policy, *capacity, *ttl, *batchSize, *batchDelay, workersN, *keys, elapsed, seedBase)
	fmt.Printf("ops=%d (%.0f ops/s)  reads=%d  writes=%d  load-errors=%d\n",
		ops, float64(ops)/elapsed.Seconds(), readsN, writesN, atomic.LoadUint64(&loadErrs))
	fmt.Printf("hits=%d  misses=%d  evictions=%d  hit-rate=%.2f%%\n",
		st.Hits, st.Misses, st.Evictions, st.HitRate*100)
	for _, ns := range mgr.Stats() {
		fmt.Printf("cache %q: size=%d hit-rate=%.2f%%\n", ns.Name, ns.Size, ns.HitRate*100)
	}
	mon.LogSummary()
}
