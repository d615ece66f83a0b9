// Command sse_load opens many concurrent subscriptions to the wallet's
// /balance/stream endpoint and reports how many balance and status events
// each connection received.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

type stats struct {
	connected     atomic.Int64
	connectErrs   atomic.Int64
	streamErrs    atomic.Int64
	balanceEvents atomic.Int64
	statusEvents  atomic.Int64
}

func (s *stats) fields() []zap.Field {
	return []zap.Field{
		zap.Int64("connected", s.connected.Load()),
		zap.Int64("connect_errs", s.connectErrs.Load()),
		zap.Int64("stream_errs", s.streamErrs.Load()),
		zap.Int64("balance_events", s.balanceEvents.Load()),
		zap.Int64("status_events", s.statusEvents.Load()),
	}
}

func main() {
	var (
		targetURL   string
		connections int
		duration    time.Duration
		rampUp      time.Duration
	)

	flag.StringVar(&targetURL, "url", "http://127.0.0.1:8080/balance/stream", "balance stream url")
	flag.IntVar(&connections, "conns", 1000, "number of concurrent subscriptions")
	flag.DurationVar(&duration, "dur", 60*time.Second, "test duration (0 until interrupted)")
	flag.DurationVar(&rampUp, "ramp", 0, "spread connection starts across this window")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if connections <= 0 {
		logger.Fatal("invalid conns", zap.Int("conns", connections))
	}
	if rampUp == 0 && connections > 100 {
		// 1 second per 500 connections
		rampUp = max(time.Duration(connections/500)*time.Second, time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	logger.Info("starting balance stream load",
		zap.String("url", targetURL),
		zap.Int("conns", connections),
		zap.Duration("duration", duration),
		zap.Duration("ramp", rampUp),
	)

	client := &http.Client{Transport: &http.Transport{
		MaxConnsPerHost:     connections + 100,
		MaxIdleConns:        connections + 100,
		MaxIdleConnsPerHost: connections + 100,
		DisableCompression:  true,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
	}}

	st := &stats{}
	start := time.Now()
	go report(ctx, logger, st)

	run(ctx, client, targetURL, connections, rampUp, st)

	elapsed := max(time.Since(start), time.Millisecond)
	fmt.Printf("done: %s elapsed=%s balance_events/s=%.2f\n",
		summary(st), elapsed.Truncate(time.Millisecond), float64(st.balanceEvents.Load())/elapsed.Seconds())
	if st.connected.Load() == 0 {
		os.Exit(1)
	}
}

// run opens connections subscriptions spread over rampUp and waits until all of them end.
func run(ctx context.Context, client *http.Client, url string, connections int, rampUp time.Duration, st *stats) {
	var interval time.Duration
	if rampUp > 0 {
		interval = rampUp / time.Duration(connections)
	}

	var wg sync.WaitGroup
	for i := 0; i < connections && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(interval):
			}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			subscribe(ctx, client, url, st)
		}()
	}
	wg.Wait()
}

// subscribe reads one stream until ctx is done or the server closes it.
func subscribe(ctx context.Context, client *http.Client, url string, st *stats) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		st.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == nil {
			st.connectErrs.Add(1)
		}
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		st.connectErrs.Add(1)
		return
	}
	st.connected.Add(1)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "event: balance":
			st.balanceEvents.Add(1)
		case "event: status":
			st.statusEvents.Add(1)
		}
	}
	if ctx.Err() == nil {
		st.streamErrs.Add(1)
	}
}

func report(ctx context.Context, logger *zap.Logger, st *stats) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("status", st.fields()...)
		}
	}
}

func summary(st *stats) string {
	return fmt.Sprintf("connected=%d connect_errs=%d stream_errs=%d balance_events=%d status_events=%d",
		st.connected.Load(), st.connectErrs.Load(), st.streamErrs.Load(), st.balanceEvents.Load(), st.statusEvents.Load())
}
