package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang/snappy"
	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"github.com/example/sync-conflict-monitor/internal/report"
	"github.com/example/sync-conflict-monitor/internal/storage"
)

const (
	defaultInterval        = 15 * time.Minute
	defaultResultThreshold = int64(100)
)

// AuditRefs is the slice of the audit log the worker needs: archive
// bookkeeping plus the volume check deciding when an archive is due.
type AuditRefs interface {
	LastArchiveTime(ctx context.Context) (time.Time, error)
	ResultCountAfter(ctx context.Context, cutoff time.Time) (int64, error)
	RecordArchive(ctx context.Context, ref storage.ArchiveRef) error
}

// Worker periodically exports monitor reports to object storage for long-term
// audit, compressing payloads with snappy. References are persisted in the
// audit log so archives can be located later.
type Worker struct {
	audit    AuditRefs
	exporter *report.Exporter
	object   *minio.Client
	bucket   string

	interval        time.Duration
	resultThreshold int64

	logger zerolog.Logger
}

// NewWorker constructs an archive worker with sane defaults.
func NewWorker(audit AuditRefs, exporter *report.Exporter, object *minio.Client, bucket string, logger zerolog.Logger) *Worker {
	return &Worker{
		audit:           audit,
		exporter:        exporter,
		object:          object,
		bucket:          bucket,
		interval:        defaultInterval,
		resultThreshold: defaultResultThreshold,
		logger:          logger,
	}
}

// Start begins the periodic archive loop.
func (w *Worker) Start(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.runOnce(ctx); err != nil {
				w.logger.Error().Err(err).Msg("report archive failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) error {
	if w.object == nil {
		return fmt.Errorf("object storage client not configured")
	}

	since, err := w.audit.LastArchiveTime(ctx)
	if err != nil {
		return fmt.Errorf("lookup last archive: %w", err)
	}
	if since.IsZero() {
		since = time.Now().Add(-w.interval).UTC()
	}

	pending, err := w.audit.ResultCountAfter(ctx, since)
	if err != nil {
		return fmt.Errorf("count pending results: %w", err)
	}
	if pending < w.resultThreshold {
		return nil
	}

	now := time.Now().UTC()
	rep, err := w.exporter.Export(ctx, since, now)
	if err != nil {
		return fmt.Errorf("export report: %w", err)
	}

	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	objectPath := fmt.Sprintf("reports/%s.json.sz", now.Format("2006-01-02T15-04-05"))
	if _, err := w.object.PutObject(ctx, w.bucket, objectPath, bytes.NewReader(compressed), int64(len(compressed)), minio.PutObjectOptions{ContentType: "application/x-snappy"}); err != nil {
		return fmt.Errorf("upload archive: %w", err)
	}

	ref := storage.ArchiveRef{
		ObjectPath:  objectPath,
		From:        since,
		To:          now,
		ResultCount: pending,
	}
	if err := w.audit.RecordArchive(ctx, ref); err != nil {
		return fmt.Errorf("persist archive ref: %w", err)
	}

	w.logger.Info().Str("object", objectPath).Int64("results", pending).Msg("report archived")
	return nil
}

// DecodeReport unpacks an archived report payload.
func DecodeReport(data []byte) (report.Report, error) {
	decoded, err := snappy.Decode(nil, data)
	if err != nil {
		return report.Report{}, fmt.Errorf("decompress archive: %w", err)
	}
	var rep report.Report
	if err := json.Unmarshal(decoded, &rep); err != nil {
		return report.Report{}, fmt.Errorf("decode archive: %w", err)
	}
	return rep, nil
}
