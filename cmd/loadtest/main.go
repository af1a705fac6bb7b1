package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/sync-conflict-monitor/internal/types"
)

type latencySample struct {
	dur time.Duration
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "monitor base URL to target")
	feedAddr := flag.String("feed", "ws://localhost:8080/feed", "websocket feed address, empty to skip")
	replicas := flag.Int("replicas", 10, "number of concurrent synthetic replicas")
	groups := flag.Int("groups", 5, "number of record groups written to")
	operations := flag.Int("operations", 100, "operations submitted per replica")
	interval := flag.Duration("interval", 50*time.Millisecond, "delay between submissions per replica")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := log.With().Str("target", *addr).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 5 * time.Second}

	latencyCh := make(chan latencySample, *replicas**operations)
	var conflictResults atomic.Int64

	if *feedAddr != "" {
		go feedListener(ctx, *feedAddr, &conflictResults, logger)
	}

	var wg sync.WaitGroup
	for i := 0; i < *replicas; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runReplica(ctx, client, *addr, id, *groups, *operations, *interval, latencyCh, logger)
		}(i)
	}

	go func() {
		wg.Wait()
		close(latencyCh)
		stop()
	}()

	<-ctx.Done()
	report(latencyCh, logger)
	fmt.Fprintf(os.Stdout, "Conflict results observed on feed: %d\n", conflictResults.Load())
}

// runReplica submits operations for a single synthetic replica. Each replica
// keeps its own vector clock per group and only ever bumps its own entry, so
// concurrent writers to the same group key produce genuinely concurrent
// clocks and exercise the conflict detector.
func runReplica(ctx context.Context, client *http.Client, base string, id, groups, operations int, interval time.Duration, latencies chan<- latencySample, logger zerolog.Logger) {
	replica := types.ReplicaID(fmt.Sprintf("replica-%d", id))
	clocks := make(map[types.GroupKey]types.VectorClock, groups)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 0; i < operations; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		key := types.GroupKey(fmt.Sprintf("record-%d", i%groups))
		clock, ok := clocks[key]
		if !ok {
			clock = types.VectorClock{}
			clocks[key] = clock
		}
		clock.Bump(replica)

		op := types.Operation{
			ID:          types.OperationID(uuid.NewString()),
			GroupKey:    key,
			Kind:        types.OpUpdate,
			Fields:      map[string]any{"status": fmt.Sprintf("v%d", i), "updated_by": string(replica)},
			VectorClock: clock.Clone(),
			Walltime:    time.Now().UTC(),
			Replica:     replica,
		}

		body, err := json.Marshal(op)
		if err != nil {
			logger.Error().Err(err).Msg("failed to encode operation")
			return
		}

		started := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/operations", bytes.NewReader(body))
		if err != nil {
			logger.Error().Err(err).Msg("failed to build request")
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			logger.Error().Err(err).Str("replica", string(replica)).Msg("submit failed")
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			logger.Warn().Int("status", resp.StatusCode).Str("replica", string(replica)).Msg("unexpected status")
			continue
		}
		latencies <- latencySample{dur: time.Since(started)}
	}
}

func feedListener(ctx context.Context, addr string, conflicts *atomic.Int64, logger zerolog.Logger) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, addr, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("feed dial failed")
		return
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("feed read error")
			}
			return
		}

		var result types.MonitorResult
		if err := json.Unmarshal(data, &result); err != nil {
			logger.Warn().Err(err).Msg("failed to decode feed message")
			continue
		}
		if result.Issue == types.IssueConflict {
			conflicts.Add(1)
		}
	}
}

func report(samples <-chan latencySample, logger zerolog.Logger) {
	var count int
	var total time.Duration
	var max time.Duration
	var under50ms int

	for s := range samples {
		count++
		total += s.dur
		if s.dur > max {
			max = s.dur
		}
		if s.dur < 50*time.Millisecond {
			under50ms++
		}
	}

	if count == 0 {
		fmt.Fprintln(os.Stdout, "no samples collected")
		return
	}

	avg := time.Duration(int64(math.Round(float64(total) / float64(count))))
	pct := (float64(under50ms) / float64(count)) * 100

	fmt.Fprintf(os.Stdout, "Submissions: %d\nAvg latency: %s\nMax latency: %s\n<50ms: %.2f%%\n", count, avg, max, pct)
	if pct < 95 {
		logger.Warn().Msg("less than 95% of submissions met the 50ms target")
	}
}
