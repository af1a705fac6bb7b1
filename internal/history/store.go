package history

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/example/sync-conflict-monitor/internal/types"
)

// DefaultCap bounds per-group history when no cap is configured.
const DefaultCap = 1000

// ErrDuplicateOperation is returned when an operation id was already observed.
var ErrDuplicateOperation = errors.New("duplicate operation id")

// Subscriber receives every operation accepted into the store. Subscribers
// are invoked outside store locks and must not block the caller for long.
type Subscriber func(types.Operation)

// Store keeps a bounded in-memory history of recently observed operations per
// group key. Mutations are serialized per group so unrelated groups proceed
// in parallel; readers always observe a consistent snapshot.
type Store struct {
	mu     sync.RWMutex
	groups map[types.GroupKey]*groupHistory
	byID   map[types.OperationID]types.GroupKey
	cap    int

	subMu       sync.RWMutex
	subscribers map[int]Subscriber
	nextSubID   int
}

type groupHistory struct {
	mu  sync.Mutex
	ops []types.Operation
}

// NewStore constructs a store with the provided per-group cap. A cap of zero
// or less falls back to DefaultCap.
func NewStore(cap int) *Store {
	if cap <= 0 {
		cap = DefaultCap
	}
	return &Store{
		groups:      make(map[types.GroupKey]*groupHistory),
		byID:        make(map[types.OperationID]types.GroupKey),
		cap:         cap,
		subscribers: make(map[int]Subscriber),
	}
}

// Subscribe registers a listener invoked for every accepted append. It
// returns a function that unregisters the listener; calling it more than
// once is harmless.
func (s *Store) Subscribe(sub Subscriber) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = sub
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

// Append records an operation in its group history, keeping entries ordered
// by walltime and evicting the oldest entry once the cap is exceeded.
func (s *Store) Append(op types.Operation) error {
	s.mu.Lock()
	if _, seen := s.byID[op.ID]; seen {
		s.mu.Unlock()
		return ErrDuplicateOperation
	}
	group := s.groups[op.GroupKey]
	if group == nil {
		group = &groupHistory{}
		s.groups[op.GroupKey] = group
	}
	s.byID[op.ID] = op.GroupKey
	s.mu.Unlock()

	group.mu.Lock()
	idx := sort.Search(len(group.ops), func(i int) bool {
		return group.ops[i].Walltime.After(op.Walltime)
	})
	group.ops = append(group.ops, types.Operation{})
	copy(group.ops[idx+1:], group.ops[idx:])
	group.ops[idx] = op

	var evicted types.Operation
	var didEvict bool
	if len(group.ops) > s.cap {
		evicted = group.ops[0]
		group.ops = group.ops[1:]
		didEvict = true
	}
	depth := len(group.ops)
	group.mu.Unlock()

	if didEvict {
		s.mu.Lock()
		delete(s.byID, evicted.ID)
		s.mu.Unlock()
		historyEvictions.WithLabelValues(string(op.GroupKey)).Inc()
	}
	historyAppends.WithLabelValues(string(op.GroupKey)).Inc()
	historyDepth.WithLabelValues(string(op.GroupKey)).Set(float64(depth))

	s.notify(op)
	return nil
}

// Recent returns a snapshot of operations for the group observed within the
// window, ordered by walltime.
func (s *Store) Recent(key types.GroupKey, window time.Duration) []types.Operation {
	return s.Since(key, time.Now().Add(-window))
}

// Since returns a snapshot of operations for the group with walltime at or
// after the cutoff, ordered by walltime.
func (s *Store) Since(key types.GroupKey, cutoff time.Time) []types.Operation {
	s.mu.RLock()
	group := s.groups[key]
	s.mu.RUnlock()
	if group == nil {
		return nil
	}

	group.mu.Lock()
	defer group.mu.Unlock()

	idx := sort.Search(len(group.ops), func(i int) bool {
		return !group.ops[i].Walltime.Before(cutoff)
	})
	if idx >= len(group.ops) {
		return nil
	}
	snapshot := make([]types.Operation, len(group.ops)-idx)
	copy(snapshot, group.ops[idx:])
	return snapshot
}

// Lookup resolves an operation by id, used to locate causal predecessors.
func (s *Store) Lookup(id types.OperationID) (types.Operation, bool) {
	s.mu.RLock()
	key, ok := s.byID[id]
	group := s.groups[key]
	s.mu.RUnlock()
	if !ok || group == nil {
		return types.Operation{}, false
	}

	group.mu.Lock()
	defer group.mu.Unlock()
	for _, op := range group.ops {
		if op.ID == id {
			return op, true
		}
	}
	return types.Operation{}, false
}

// Groups returns the group keys currently holding history.
func (s *Store) Groups() []types.GroupKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]types.GroupKey, 0, len(s.groups))
	for key := range s.groups {
		keys = append(keys, key)
	}
	return keys
}

// Len reports the number of retained operations for a group.
func (s *Store) Len(key types.GroupKey) int {
	s.mu.RLock()
	group := s.groups[key]
	s.mu.RUnlock()
	if group == nil {
		return 0
	}
	group.mu.Lock()
	defer group.mu.Unlock()
	return len(group.ops)
}

// PruneOlderThan drops operations with walltime before the cutoff across all
// groups and returns the number of dropped entries.
func (s *Store) PruneOlderThan(cutoff time.Time) int {
	var dropped []types.Operation

	for _, key := range s.Groups() {
		s.mu.RLock()
		group := s.groups[key]
		s.mu.RUnlock()
		if group == nil {
			continue
		}

		group.mu.Lock()
		idx := sort.Search(len(group.ops), func(i int) bool {
			return !group.ops[i].Walltime.Before(cutoff)
		})
		if idx > 0 {
			dropped = append(dropped, group.ops[:idx]...)
			group.ops = append([]types.Operation(nil), group.ops[idx:]...)
		}
		historyDepth.WithLabelValues(string(key)).Set(float64(len(group.ops)))
		group.mu.Unlock()
	}

	if len(dropped) > 0 {
		s.mu.Lock()
		for _, op := range dropped {
			delete(s.byID, op.ID)
		}
		s.mu.Unlock()
	}
	return len(dropped)
}

func (s *Store) notify(op types.Operation) {
	s.subMu.RLock()
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.subMu.RUnlock()

	for _, sub := range subs {
		sub(op)
	}
}
