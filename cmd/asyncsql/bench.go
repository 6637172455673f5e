package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/asyncsql/client"
	"github.com/oriys/asyncsql/internal/logging"
	"github.com/oriys/asyncsql/internal/metrics"
)

type benchResult struct {
	latency time.Duration
	kind    client.Kind
}

func benchCmd() *cobra.Command {
	var (
		total       int
		concurrency int
		sqlText     string
		metricsAddr string
		hold        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run concurrent one-shot queries and report pool statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			if total < 1 || concurrency < 1 {
				return fmt.Errorf("--requests and --concurrency must be >= 1")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.Metrics.Addr = metricsAddr
				cfg.Metrics.Enabled = true
			}

			if cfg.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Metrics.Namespace, nil)
				if cfg.Metrics.Addr != "" {
					srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux()}
					go func() {
						if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
							logging.Op().Error("metrics server failed", "error", err)
						}
					}()
					defer srv.Close()
					logging.Op().Info("serving metrics", "addr", cfg.Metrics.Addr)
				}
			}

			ctx := context.Background()
			c, closeFn, err := openClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			results := runBench(ctx, c, sqlText, total, concurrency)
			printBench(results, c)

			if hold > 0 {
				fmt.Printf("holding for %s\n", hold)
				time.Sleep(hold)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&total, "requests", "n", 1000, "Total number of queries")
	cmd.Flags().IntVar(&concurrency, "concurrency", 32, "Queries in flight at once")
	cmd.Flags().StringVar(&sqlText, "sql", "SELECT 1", "Query to run")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics on this address")
	cmd.Flags().DurationVar(&hold, "hold", 0, "Keep the process alive after the run (for scraping)")
	return cmd
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.PrometheusHandler())
	return mux
}

// runBench keeps up to concurrency queries in flight until total have
// completed. Each callback issues the next query.
func runBench(ctx context.Context, c *client.Client, sqlText string, total, concurrency int) []benchResult {
	var (
		mu      sync.Mutex
		issued  int
		results = make([]benchResult, 0, total)
		wg      sync.WaitGroup
	)
	wg.Add(total)

	var issue func()
	issue = func() {
		mu.Lock()
		if issued >= total {
			mu.Unlock()
			return
		}
		issued++
		mu.Unlock()

		start := time.Now()
		c.QueryWithParams(ctx, sqlText, nil, func(_ *client.ResultSet, err error) {
			mu.Lock()
			results = append(results, benchResult{latency: time.Since(start), kind: client.KindOf(err)})
			mu.Unlock()
			wg.Done()
			issue()
		})
	}

	if concurrency > total {
		concurrency = total
	}
	for i := 0; i < concurrency; i++ {
		issue()
	}
	wg.Wait()
	return results
}

func printBench(results []benchResult, c *client.Client) {
	lat := make([]time.Duration, 0, len(results))
	failures := make(map[client.Kind]int)
	for _, r := range results {
		if r.kind != "" {
			failures[r.kind]++
			continue
		}
		lat = append(lat, r.latency)
	}
	sort.Slice(lat, func(i, j int) bool { return lat[i] < lat[j] })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Requests:\t%d\n", len(results))
	fmt.Fprintf(w, "Succeeded:\t%d\n", len(lat))
	for kind, n := range failures {
		fmt.Fprintf(w, "Failed (%s):\t%d\n", kind, n)
	}
	if len(lat) > 0 {
		fmt.Fprintf(w, "p50:\t%s\n", percentile(lat, 0.50))
		fmt.Fprintf(w, "p99:\t%s\n", percentile(lat, 0.99))
		fmt.Fprintf(w, "max:\t%s\n", lat[len(lat)-1])
	}

	s := c.Stats()
	fmt.Fprintf(w, "Pool size:\t%d/%d (idle %d, in use %d)\n", s.Open, s.MaxSize, s.Idle, s.InUse)
	fmt.Fprintf(w, "Connections:\tcreated %d, destroyed %d, broken %d\n", s.Created, s.Destroyed, s.Broken)
	fmt.Fprintf(w, "Acquires:\t%d (waited %d, total wait %s, timeouts %d)\n", s.Acquired, s.WaitCount, s.WaitDuration, s.Timeouts)
	w.Flush()
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
