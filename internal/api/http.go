package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sync-conflict-monitor/internal/monitor"
	"github.com/example/sync-conflict-monitor/internal/report"
	"github.com/example/sync-conflict-monitor/internal/types"
)

// HeartbeatSink receives replica liveness signals.
type HeartbeatSink interface {
	Heartbeat(ctx context.Context, replica types.ReplicaID, pending int) error
}

// Handler exposes the monitor's external operations over HTTP.
type Handler struct {
	svc        *monitor.Service
	exporter   *report.Exporter
	heartbeats HeartbeatSink
	feed       http.Handler
	logger     zerolog.Logger
}

// NewHandler builds the HTTP surface. The feed handler may be nil when no
// live result feed is configured.
func NewHandler(svc *monitor.Service, exporter *report.Exporter, heartbeats HeartbeatSink, feed http.Handler, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, exporter: exporter, heartbeats: heartbeats, feed: feed, logger: logger}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case len(parts) == 1 && parts[0] == "operations" && r.Method == http.MethodPost:
		h.handleMonitorOperation(w, r)
	case len(parts) == 3 && parts[0] == "groups" && parts[2] == "conflicts" && r.Method == http.MethodGet:
		h.handleDetectConflicts(w, r, types.GroupKey(parts[1]))
	case len(parts) == 1 && parts[0] == "resolutions" && r.Method == http.MethodPost:
		h.handleResolveConflicts(w, r)
	case len(parts) == 1 && parts[0] == "health" && r.Method == http.MethodGet:
		h.handleHealth(w, r)
	case len(parts) == 1 && parts[0] == "reports" && r.Method == http.MethodGet:
		h.handleExportReport(w, r)
	case len(parts) == 1 && parts[0] == "heartbeats" && r.Method == http.MethodPost:
		h.handleHeartbeat(w, r)
	case len(parts) == 1 && parts[0] == "feed" && h.feed != nil:
		h.feed.ServeHTTP(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleMonitorOperation(w http.ResponseWriter, r *http.Request) {
	var op types.Operation
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
		http.Error(w, "invalid operation payload", http.StatusBadRequest)
		return
	}

	result, err := h.svc.MonitorOperation(r.Context(), op)
	if err != nil {
		if errors.Is(err, types.ErrMalformedOperation) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error().Err(err).Str("operation", string(op.ID)).Msg("monitor operation failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleDetectConflicts(w http.ResponseWriter, r *http.Request, key types.GroupKey) {
	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			http.Error(w, "invalid window", http.StatusBadRequest)
			return
		}
		window = parsed
	}

	results := h.svc.DetectConflicts(key, window)
	if results == nil {
		results = []types.MonitorResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

type resolveRequest struct {
	Results  []types.MonitorResult `json:"results"`
	Strategy string                `json:"strategy"`
	DryRun   bool                  `json:"dry_run"`
}

func (h *Handler) handleResolveConflicts(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid resolution payload", http.StatusBadRequest)
		return
	}

	strategy, err := monitor.ParseStrategy(req.Strategy)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	summary := h.svc.ResolveConflicts(r.Context(), req.Results, strategy, req.DryRun)
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.HealthStatus(r.Context()))
}

func (h *Handler) handleExportReport(w http.ResponseWriter, r *http.Request) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}

	rep, err := h.exporter.Export(r.Context(), from, to)
	if err != nil {
		h.logger.Error().Err(err).Msg("report export failed")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type heartbeatRequest struct {
	Replica      types.ReplicaID `json:"replica_id"`
	PendingCount int             `json:"pending_count"`
}

func (h *Handler) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if h.heartbeats == nil {
		http.Error(w, "heartbeats not configured", http.StatusServiceUnavailable)
		return
	}

	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Replica == "" {
		http.Error(w, "invalid heartbeat payload", http.StatusBadRequest)
		return
	}

	if err := h.heartbeats.Heartbeat(r.Context(), req.Replica, req.PendingCount); err != nil {
		h.logger.Warn().Err(err).Str("replica", string(req.Replica)).Msg("heartbeat ingest failed")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, errors.New("invalid " + name)
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
