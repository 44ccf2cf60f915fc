package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authsession"
	"github.com/MrEthical07/authsession/internal/demobackend"
	"github.com/MrEthical07/authsession/tokenstore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	signingKey    = "refresh-storm-signing-key-0123456789"
	stormPassword = "storm-password"
)

func main() {
	var (
		contexts     = flag.Int("contexts", 64, "number of execution contexts (managers)")
		callers      = flag.Int("callers", 32, "concurrent token readers per context and round")
		rounds       = flag.Int("rounds", 10, "number of expiry rounds")
		refreshDelay = flag.Duration("refresh-delay", 20*time.Millisecond, "artificial backend refresh latency")
		redisAddr    = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix       = flag.String("prefix", "storm", "token key prefix")
		mode         = flag.String("mode", "cookie", "storage mode: cookie, local or memory")
	)
	flag.Parse()

	if *contexts <= 0 || *callers <= 0 || *rounds <= 0 {
		fmt.Fprintln(os.Stderr, "contexts, callers, and rounds must be > 0")
		os.Exit(2)
	}
	storageMode, err := tokenstore.ParseMode(*mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	backend, err := demobackend.New(demobackend.Config{
		Redis:        client,
		SigningKey:   []byte(signingKey),
		Issuer:       "refresh-storm",
		AccessTTL:    time.Hour,
		RefreshDelay: *refreshDelay,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "backend: %v\n", err)
		os.Exit(1)
	}
	if _, err := backend.AddUser("storm", "Storm", stormPassword); err != nil {
		fmt.Fprintf(os.Stderr, "seed user: %v\n", err)
		os.Exit(1)
	}
	srv := httptest.NewServer(backend.Routes())
	defer srv.Close()

	clock := &offsetClock{}
	cfg := authsession.DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Endpoints.Refresh = authsession.Endpoint{Path: "/refresh", Method: http.MethodPost}
	cfg.Session.ResponseSessionPointer = "/user"
	cfg.Storage.Mode = storageMode
	cfg.CrossTab.Enabled = false
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true

	engine, err := authsession.New().
		WithConfig(cfg).
		WithLogger(zap.NewNop()).
		WithClock(clock.Now).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	managers := make([]*authsession.Manager, *contexts)
	fmt.Printf("logging in %d contexts...\n", *contexts)
	startLogin := time.Now()
	for i := range managers {
		kv := tokenstore.NewRedisKV(client, fmt.Sprintf("%s:ctx-%d", *prefix, i))
		m, err := engine.OpenManager(kv)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open manager: %v\n", err)
			os.Exit(1)
		}
		if _, err := m.Login(ctx, map[string]string{"username": "storm", "password": stormPassword}); err != nil {
			fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
			os.Exit(1)
		}
		managers[i] = m
	}
	fmt.Printf("logged in in %s\n", time.Since(startLogin).Round(time.Millisecond))

	var (
		all          []time.Duration
		failures     int64
		loggedOut    int64
		refreshesBef = backend.RefreshCount()
		start        = time.Now()
	)
	for r := 0; r < *rounds; r++ {
		clock.Advance(cfg.AccessToken.MaxAge + time.Minute)
		s := runRound(ctx, managers, *callers)
		all = append(all, s.samples...)
		failures += s.failures
		loggedOut += s.empty
	}
	total := time.Since(start)

	stats := computeStats(total, all, failures)
	refreshes := backend.RefreshCount() - refreshesBef
	expected := int64(*contexts * *rounds)

	fmt.Println("---- results ----")
	printStats("get-access-token", stats)
	fmt.Printf("callers=%d backend-refreshes=%d expected=%d empty-tokens=%d\n",
		len(all), refreshes, expected, loggedOut)

	snap := engine.MetricsSnapshot()
	fmt.Printf("metrics: refresh_call=%d refresh_waiter=%d refresh_success=%d refresh_failure=%d\n",
		snap.Counters[authsession.MetricRefreshCall],
		snap.Counters[authsession.MetricRefreshWaiter],
		snap.Counters[authsession.MetricRefreshSuccess],
		snap.Counters[authsession.MetricRefreshFailure],
	)

	if refreshes != expected {
		fmt.Fprintf(os.Stderr, "refresh was not coalesced: %d backend calls for %d expiries\n", refreshes, expected)
		os.Exit(1)
	}
}

type roundResult struct {
	samples  []time.Duration
	failures int64
	empty    int64
}

func runRound(ctx context.Context, managers []*authsession.Manager, callers int) roundResult {
	var (
		wg        sync.WaitGroup
		failures  int64
		empty     int64
		latencies = make([]time.Duration, 0, len(managers)*callers)
		mu        sync.Mutex
	)

	for _, m := range managers {
		for c := 0; c < callers; c++ {
			wg.Add(1)
			go func(m *authsession.Manager) {
				defer wg.Done()
				t0 := time.Now()
				token, err := m.GetAccessToken(ctx)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				} else if token == "" {
					atomic.AddInt64(&empty, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}(m)
		}
	}
	wg.Wait()
	return roundResult{samples: latencies, failures: failures, empty: empty}
}

// offsetClock moves the engine's notion of time forward without sleeping.
type offsetClock struct {
	offset atomic.Int64
}

func (c *offsetClock) Now() time.Time {
	return time.Now().Add(time.Duration(c.offset.Load()))
}

func (c *offsetClock) Advance(d time.Duration) {
	c.offset.Add(int64(d))
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
