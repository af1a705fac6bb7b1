package storage

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/example/sync-conflict-monitor/internal/types"
)

type operationAppender interface {
	AppendOperation(ctx context.Context, op types.Operation) error
}

// OperationSink subscribes to the in-memory history and writes every accepted
// operation to the audit log in the background. Ingestion never blocks on the
// durable write: when the buffer is full the operation is dropped with a log
// entry, availability over durability.
type OperationSink struct {
	audit  operationAppender
	logger zerolog.Logger
	ch     chan types.Operation
}

// NewOperationSink constructs a sink with the provided buffer size.
func NewOperationSink(audit operationAppender, logger zerolog.Logger, buffer int) *OperationSink {
	if buffer <= 0 {
		buffer = 1024
	}
	return &OperationSink{
		audit:  audit,
		logger: logger,
		ch:     make(chan types.Operation, buffer),
	}
}

// Submit enqueues an operation for durable persistence without blocking.
// It is shaped to be registered directly as a history subscriber.
func (s *OperationSink) Submit(op types.Operation) {
	select {
	case s.ch <- op:
	default:
		auditDropped.Inc()
		s.logger.Warn().Str("operation", string(op.ID)).Msg("audit buffer full; operation not persisted")
	}
}

// Start consumes the buffer until ctx is cancelled.
func (s *OperationSink) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case op := <-s.ch:
				if err := s.audit.AppendOperation(ctx, op); err != nil {
					s.logger.Warn().Err(err).Str("operation", string(op.ID)).Msg("operation persist failed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
