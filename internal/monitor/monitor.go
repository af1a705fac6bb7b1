package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/sync-conflict-monitor/internal/history"
	"github.com/example/sync-conflict-monitor/internal/types"
)

// Audit is the durable sink for monitor results. Operations reach durable
// storage through a history subscriber instead (see storage.OperationSink).
// Failures are logged, never propagated to the ingestion caller.
type Audit interface {
	AppendResult(ctx context.Context, result types.MonitorResult) error
	UnresolvedConflictCount(ctx context.Context, since time.Time) (int, error)
	PurgeResultsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ResultSink receives flagged monitor results, e.g. for alert broadcasting or
// live feeds. Sinks are invoked synchronously and must be fast.
type ResultSink func(types.MonitorResult)

// ServiceConfig tunes the monitor service. Zero values fall back to defaults.
type ServiceConfig struct {
	DetectionWindow time.Duration
	HealthWindow    time.Duration
	HistoryMaxAge   time.Duration
	ResultRetention time.Duration
	PersistTimeout  time.Duration

	HealthInterval  time.Duration
	RescanInterval  time.Duration
	CleanupInterval time.Duration
	PurgeInterval   time.Duration
}

func (c *ServiceConfig) applyDefaults() {
	if c.DetectionWindow <= 0 {
		c.DetectionWindow = DefaultDetectionWindow
	}
	if c.HealthWindow <= 0 {
		c.HealthWindow = 15 * time.Minute
	}
	if c.HistoryMaxAge <= 0 {
		c.HistoryMaxAge = time.Hour
	}
	if c.ResultRetention <= 0 {
		c.ResultRetention = 30 * 24 * time.Hour
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 5 * time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = time.Minute
	}
	if c.RescanInterval <= 0 {
		c.RescanInterval = 5 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.PurgeInterval <= 0 {
		c.PurgeInterval = time.Hour
	}
}

// HealthReport is the externally visible sync health status.
type HealthReport struct {
	Score   HealthScore             `json:"score"`
	Devices []types.DeviceSyncState `json:"devices"`
}

// Service ingests replicated operations, runs all analyzers, persists results
// asynchronously, and exposes conflict resolution and health reporting.
type Service struct {
	history   *history.Store
	devices   *DeviceRegistry
	detector  *Detector
	causality *CausalityValidator
	skew      *SkewDetector
	resolver  *Resolver
	audit     Audit
	logger    zerolog.Logger
	cfg       ServiceConfig

	sinkMu sync.RWMutex
	sinks  []ResultSink

	// Fallback counter used for health sampling when the audit store is
	// unavailable: flagged conflicts minus applied resolutions.
	unresolvedFallback atomic.Int64

	wg sync.WaitGroup
}

// NewService wires the monitor components together. All dependencies are
// injected; the service owns no ambient globals.
func NewService(store *history.Store, devices *DeviceRegistry, resolver *Resolver, audit Audit, logger zerolog.Logger, cfg ServiceConfig) *Service {
	cfg.applyDefaults()
	return &Service{
		history:   store,
		devices:   devices,
		detector:  NewDetector(store, cfg.DetectionWindow),
		causality: NewCausalityValidator(store),
		skew:      NewSkewDetector(0, 0),
		resolver:  resolver,
		audit:     audit,
		logger:    logger,
		cfg:       cfg,
	}
}

// SetSkewDetector overrides the default skew thresholds.
func (s *Service) SetSkewDetector(d *SkewDetector) { s.skew = d }

// AddResultSink registers a sink receiving every flagged result.
func (s *Service) AddResultSink(sink ResultSink) {
	s.sinkMu.Lock()
	defer s.sinkMu.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Devices exposes the device registry for heartbeat integration.
func (s *Service) Devices() *DeviceRegistry { return s.devices }

// MonitorOperation validates, records and analyzes one replicated write. Each
// issue kind produces its own result; the returned result is the most severe
// one (or the healthy conflict-detection result when nothing was flagged).
// Persistence is fire-and-forget and never blocks the hot path.
func (s *Service) MonitorOperation(ctx context.Context, op types.Operation) (types.MonitorResult, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "monitor.analyze", trace.WithAttributes(
		attribute.String("group", string(op.GroupKey)),
		attribute.String("replica", string(op.Replica)),
	))
	defer span.End()

	if err := op.Validate(); err != nil {
		return types.MonitorResult{}, err
	}

	if err := s.history.Append(op); err != nil {
		return types.MonitorResult{}, fmt.Errorf("%w: %s", types.ErrMalformedOperation, err)
	}

	now := time.Now()
	s.devices.Observe(op, now)

	results := make([]types.MonitorResult, 0, 3)

	conflictResult := s.detector.Analyze(op)
	results = append(results, conflictResult)
	if conflictResult.HasIssue {
		s.unresolvedFallback.Add(1)
	}

	if skewResult := s.skew.Check(op, now); skewResult.HasIssue {
		results = append(results, skewResult)
	}
	if causalityResult, ok := s.causality.Validate(op); ok {
		results = append(results, causalityResult)
	}

	primary := conflictResult
	for _, result := range results {
		resultsTotal.WithLabelValues(string(result.Issue)).Inc()
		if result.HasIssue {
			s.publish(result)
			if !primary.HasIssue || result.Severity.AtLeast(primary.Severity) {
				primary = result
			}
		}
	}

	s.persistAsync(results)

	analyzeLatency.WithLabelValues(string(op.GroupKey)).Observe(time.Since(start).Seconds())
	return primary, nil
}

// DetectConflicts re-runs conflict detection over the group's recent history
// and returns every flagged result. Nothing is persisted; this is the query
// surface behind on-demand scans and the periodic re-scan loop.
func (s *Service) DetectConflicts(key types.GroupKey, window time.Duration) []types.MonitorResult {
	if window <= 0 {
		window = s.cfg.DetectionWindow
	}

	var flagged []types.MonitorResult
	for _, op := range s.history.Recent(key, window) {
		result := s.detector.AnalyzeWindow(op, window)
		if result.HasIssue {
			flagged = append(flagged, result)
		}
	}
	return flagged
}

// ResolveConflicts reconstructs conflict sets from the supplied results and
// resolves each with the strategy. Failures are reported per conflict; the
// rest of the batch still proceeds.
func (s *Service) ResolveConflicts(ctx context.Context, results []types.MonitorResult, strategy Strategy, dryRun bool) ResolutionSummary {
	s.wg.Add(1)
	defer s.wg.Done()

	ctx, span := tracer.Start(ctx, "monitor.resolve", trace.WithAttributes(
		attribute.String("strategy", strategy.String()),
		attribute.Int("conflicts", len(results)),
		attribute.Bool("dry_run", dryRun),
	))
	defer span.End()

	var summary ResolutionSummary
	for _, result := range results {
		outcome := s.resolveOne(ctx, result, strategy, dryRun)
		if outcome.Status == OutcomeApplied {
			s.unresolvedFallback.Add(-1)
		}
		summary.add(outcome)
	}
	span.SetAttributes(
		attribute.Int("applied", summary.Applied),
		attribute.Int("failed", summary.Failed),
	)
	return summary
}

func (s *Service) resolveOne(ctx context.Context, result types.MonitorResult, strategy Strategy, dryRun bool) ResolutionOutcome {
	if result.Issue != types.IssueConflict {
		return ResolutionOutcome{
			GroupKey: result.GroupKey,
			Strategy: strategy.String(),
			Status:   OutcomeFailed,
			Reason:   fmt.Sprintf("result %s is %s, not a conflict", result.ID, result.Issue),
		}
	}

	ids := evidenceOperationIDs(result)
	if len(ids) < 2 {
		return ResolutionOutcome{
			GroupKey: result.GroupKey,
			Strategy: strategy.String(),
			Status:   OutcomeFailed,
			Reason:   "conflict evidence names fewer than two operations",
		}
	}

	set := ConflictSet{GroupKey: result.GroupKey}
	for _, id := range ids {
		op, ok := s.history.Lookup(id)
		if !ok {
			return ResolutionOutcome{
				GroupKey: result.GroupKey,
				Strategy: strategy.String(),
				Status:   OutcomeFailed,
				Reason:   fmt.Sprintf("operation %s is no longer retained", id),
			}
		}
		set.Operations = append(set.Operations, op)
	}

	return s.resolver.Resolve(ctx, set, strategy, dryRun)
}

// evidenceOperationIDs extracts the analyzed and conflicting operation ids
// from a conflict result's evidence, tolerating the []any shape evidence
// takes after a JSON round trip.
func evidenceOperationIDs(result types.MonitorResult) []types.OperationID {
	var ids []types.OperationID
	if raw, ok := result.Evidence["operation_id"].(string); ok && raw != "" {
		ids = append(ids, types.OperationID(raw))
	}
	switch list := result.Evidence["conflicting_operations"].(type) {
	case []string:
		for _, raw := range list {
			ids = append(ids, types.OperationID(raw))
		}
	case []any:
		for _, entry := range list {
			if raw, ok := entry.(string); ok {
				ids = append(ids, types.OperationID(raw))
			}
		}
	}
	return ids
}

// HealthStatus samples the current sync health. The unresolved conflict count
// comes from the audit store; when storage is unavailable the in-memory
// fallback counter is used instead so the report stays available.
func (s *Service) HealthStatus(ctx context.Context) HealthReport {
	now := time.Now()
	since := now.Add(-s.cfg.HealthWindow)

	unresolved, err := s.audit.UnresolvedConflictCount(ctx, since)
	if err != nil {
		s.logger.Warn().Err(err).Msg("unresolved conflict query failed; using in-memory counter")
		unresolved = int(s.unresolvedFallback.Load())
		if unresolved < 0 {
			unresolved = 0
		}
	}

	var recentOps int
	for _, key := range s.history.Groups() {
		recentOps += len(s.history.Since(key, since))
	}

	score := Score(HealthInputs{
		UnresolvedConflicts: unresolved,
		SkewAboveWarning:    s.devices.AnySkewAbove(s.skew.WarningThreshold()),
		RecentOperations:    recentOps,
	}, s.cfg.HealthWindow, now)

	return HealthReport{Score: score, Devices: s.devices.Snapshot()}
}

// Run starts the background loops: periodic health sampling, conflict
// re-scan, history cleanup, and result retention purge. Each cycle catches
// and logs its own failure so one failed cycle never stops subsequent ones.
// All loops stop when ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.runEvery(ctx, "health_sample", s.cfg.HealthInterval, func(ctx context.Context) error {
		report := s.HealthStatus(ctx)
		s.logger.Debug().Float64("score", report.Score.Value).Msg("health sampled")
		return nil
	})

	s.runEvery(ctx, "conflict_rescan", s.cfg.RescanInterval, func(ctx context.Context) error {
		for _, key := range s.history.Groups() {
			for _, result := range s.DetectConflicts(key, s.cfg.DetectionWindow) {
				if err := s.audit.AppendResult(ctx, result); err != nil {
					s.logger.Warn().Err(err).Str("group", string(key)).Msg("rescan result persist failed")
				}
			}
		}
		return nil
	})

	s.runEvery(ctx, "history_cleanup", s.cfg.CleanupInterval, func(context.Context) error {
		if dropped := s.history.PruneOlderThan(time.Now().Add(-s.cfg.HistoryMaxAge)); dropped > 0 {
			s.logger.Debug().Int("dropped", dropped).Msg("expired history pruned")
		}
		return nil
	})

	s.runEvery(ctx, "retention_purge", s.cfg.PurgeInterval, func(ctx context.Context) error {
		purged, err := s.audit.PurgeResultsBefore(ctx, time.Now().Add(-s.cfg.ResultRetention))
		if err != nil {
			return err
		}
		if purged > 0 {
			s.logger.Info().Int64("purged", purged).Msg("aged monitor results purged")
		}
		return nil
	})
}

// Drain blocks until background loops and in-flight resolutions complete.
// Resolutions run to completion or fail explicitly, never abandoned mid-write.
func (s *Service) Drain() {
	s.wg.Wait()
}

func (s *Service) runEvery(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := fn(ctx); err != nil {
					s.logger.Error().Err(err).Str("task", name).Msg("background cycle failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Service) publish(result types.MonitorResult) {
	s.sinkMu.RLock()
	sinks := append([]ResultSink(nil), s.sinks...)
	s.sinkMu.RUnlock()

	for _, sink := range sinks {
		sink(result)
	}
}

// persistAsync writes analysis results to the audit store off the hot path.
// Storage failures are logged; the analysis result has already been returned
// to the caller.
func (s *Service) persistAsync(results []types.MonitorResult) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PersistTimeout)
		defer cancel()

		for _, result := range results {
			if err := s.audit.AppendResult(ctx, result); err != nil {
				s.logger.Warn().Err(err).Str("result", result.ID).Msg("result persist failed")
			}
		}
	}()
}
