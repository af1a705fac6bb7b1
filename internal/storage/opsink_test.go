package storage

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/sync-conflict-monitor/internal/types"
)

type fakeAppender struct {
	mu  sync.Mutex
	ops []types.OperationID
}

func (f *fakeAppender) AppendOperation(_ context.Context, op types.Operation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, op.ID)
	return nil
}

func (f *fakeAppender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ops)
}

func TestOperationSinkPersistsSubmissions(t *testing.T) {
	appender := &fakeAppender{}
	sink := NewOperationSink(appender, zerolog.New(io.Discard), 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink.Start(ctx)

	for i := 0; i < 5; i++ {
		sink.Submit(types.Operation{ID: types.OperationID(string(rune('a' + i)))})
	}

	deadline := time.After(2 * time.Second)
	for appender.count() < 5 {
		select {
		case <-deadline:
			t.Fatalf("expected 5 persisted operations, got %d", appender.count())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestOperationSinkDropsWhenFull(t *testing.T) {
	appender := &fakeAppender{}
	sink := NewOperationSink(appender, zerolog.New(io.Discard), 2)
	// Consumer never started: the buffer fills and overflow is dropped.

	for i := 0; i < 10; i++ {
		sink.Submit(types.Operation{ID: "op"})
	}

	if got := len(sink.ch); got != 2 {
		t.Fatalf("expected buffer capped at 2, got %d", got)
	}
	if appender.count() != 0 {
		t.Fatalf("nothing should persist without a consumer")
	}
}
