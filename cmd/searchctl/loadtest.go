package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var defaultLoadQueries = []string{
	"deploy",
	"kubernetes rollback",
	`"incident review"`,
	"runbook -draft",
	"prefix:/runbooks/ restart",
	"tag:ops backup",
	"migration -tag:archived",
	"alias rebuild",
	`"on call" handover`,
	"postgres vacuum",
}

type loadStats struct {
	total   atomic.Int64
	success atomic.Int64
	errors  atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration
	codes     map[int]int64
}

func newLoadStats() *loadStats {
	return &loadStats{
		latencies: make([]time.Duration, 0, 100000),
		codes:     make(map[int]int64),
	}
}

func (s *loadStats) record(d time.Duration, status int, err error) {
	s.total.Add(1)
	if err != nil {
		s.errors.Add(1)
		return
	}
	if status >= 200 && status < 300 {
		s.success.Add(1)
	} else {
		s.errors.Add(1)
	}
	s.mu.Lock()
	s.latencies = append(s.latencies, d)
	s.codes[status]++
	s.mu.Unlock()
}

func newLoadTestCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive concurrent keyword searches against a running search service",
		Args:  cobra.NoArgs,
		RunE:  runLoadTest,
	}
	c.Flags().String("url", "http://localhost:8080", "base URL of the search service")
	c.Flags().Int("concurrency", 10, "number of concurrent workers")
	c.Flags().Duration("duration", 30*time.Second, "test duration")
	c.Flags().StringArray("query", nil, "query to send (repeatable); defaults to a built-in mix")
	c.Flags().String(flagUser, "", "send searches as this user id")
	c.Flags().StringSlice(flagGroups, nil, "group ids sent with --user")
	return c
}

func runLoadTest(c *cobra.Command, _ []string) error {
	baseURL, _ := c.Flags().GetString("url")
	concurrency, _ := c.Flags().GetInt("concurrency")
	duration, _ := c.Flags().GetDuration("duration")
	queries, _ := c.Flags().GetStringArray("query")
	user, _ := c.Flags().GetString(flagUser)
	groups, _ := c.Flags().GetStringSlice(flagGroups)
	if len(queries) == 0 {
		queries = defaultLoadQueries
	}
	if concurrency < 1 {
		return errors.New("concurrency must be at least 1")
	}

	out := c.OutOrStdout()
	fmt.Fprintln(out, "=== Wiki Search Load Test ===")
	fmt.Fprintf(out, "Target:      %s\n", baseURL)
	fmt.Fprintf(out, "Concurrency: %d\n", concurrency)
	fmt.Fprintf(out, "Duration:    %s\n", duration)
	fmt.Fprintf(out, "Queries:     %d unique\n\n", len(queries))

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        concurrency * 2,
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(c.Context(), duration)
	defer cancel()

	stats := newLoadStats()
	var g errgroup.Group
	for w := 0; w < concurrency; w++ {
		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				q := queries[i%len(queries)]
				target := fmt.Sprintf("%s/api/v1/search?q=%s&limit=10", strings.TrimRight(baseURL, "/"), url.QueryEscape(q))
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
				if err != nil {
					return err
				}
				if user != "" {
					req.Header.Set("X-User-Id", user)
					req.Header.Set("X-User-Groups", strings.Join(groups, ","))
				}

				start := time.Now()
				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() == nil {
						stats.record(time.Since(start), 0, err)
					}
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				stats.record(time.Since(start), resp.StatusCode, nil)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	printLoadReport(out, stats, duration)
	if stats.total.Load() == 0 {
		return errors.New("no requests completed: is the service running?")
	}
	return nil
}

func printLoadReport(w io.Writer, s *loadStats, duration time.Duration) {
	total, success, failed := s.total.Load(), s.success.Load(), s.errors.Load()
	fmt.Fprintln(w, "=== Results ===")
	fmt.Fprintf(w, "Total Requests:  %d\n", total)
	fmt.Fprintf(w, "Successful:      %d\n", success)
	fmt.Fprintf(w, "Errors:          %d\n", failed)
	if total > 0 {
		fmt.Fprintf(w, "Error Rate:      %.2f%%\n", float64(failed)/float64(total)*100)
		fmt.Fprintf(w, "Requests/sec:    %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	latencies := slices.Clone(s.latencies)
	codes := lo.Keys(s.codes)
	counts := make(map[int]int64, len(s.codes))
	for k, v := range s.codes {
		counts[k] = v
	}
	s.mu.Unlock()

	if len(latencies) > 0 {
		slices.Sort(latencies)
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))
		var sq float64
		for _, l := range latencies {
			d := float64(l - avg)
			sq += d * d
		}

		fmt.Fprintln(w, "\n=== Latency ===")
		fmt.Fprintf(w, "Min:    %s\n", latencies[0])
		fmt.Fprintf(w, "Avg:    %s\n", avg)
		for _, p := range []float64{50, 90, 95, 99} {
			fmt.Fprintf(w, "P%-2.0f:    %s\n", p, percentile(latencies, p))
		}
		fmt.Fprintf(w, "Max:    %s\n", latencies[len(latencies)-1])
		fmt.Fprintf(w, "StdDev: %s\n", time.Duration(math.Sqrt(sq/float64(len(latencies)))))
	}

	fmt.Fprintln(w, "\n=== Status Codes ===")
	slices.Sort(codes)
	for _, code := range codes {
		fmt.Fprintf(w, "  %d: %d\n", code, counts[code])
	}
}

// percentile expects sorted input.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	return sorted[max(0, min(idx, len(sorted)-1))]
}
