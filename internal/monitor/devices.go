package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/example/sync-conflict-monitor/internal/types"
)

// DeviceRegistry holds one DeviceSyncState per known replica. States are
// created on first observation and updated monotonically afterwards:
// lastSyncTime never rolls back and last-seen clock entries never decrease.
type DeviceRegistry struct {
	mu      sync.RWMutex
	devices map[types.ReplicaID]*types.DeviceSyncState
	skews   map[types.ReplicaID]time.Duration
}

// NewDeviceRegistry constructs an empty registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		devices: make(map[types.ReplicaID]*types.DeviceSyncState),
		skews:   make(map[types.ReplicaID]time.Duration),
	}
}

// Observe folds an operation into the replica's sync state.
func (r *DeviceRegistry) Observe(op types.Operation, now time.Time) {
	skew := now.Sub(op.Walltime)
	if skew < 0 {
		skew = -skew
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.ensure(op.Replica)
	state.LastSeenClock.Merge(op.VectorClock)
	if now.After(state.LastSyncTime) {
		state.LastSyncTime = now
	}
	state.IsOnline = true
	r.skews[op.Replica] = skew
}

// Heartbeat records a liveness signal with the replica's pending write count.
func (r *DeviceRegistry) Heartbeat(replica types.ReplicaID, pending int, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.ensure(replica)
	if at.After(state.LastSyncTime) {
		state.LastSyncTime = at
	}
	state.IsOnline = true
	state.PendingCount = pending
}

// SetOnline flips the liveness flag, typically when a heartbeat TTL expires.
func (r *DeviceRegistry) SetOnline(replica types.ReplicaID, online bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state, ok := r.devices[replica]; ok {
		state.IsOnline = online
	}
}

// AnySkewAbove reports whether any tracked replica's last observed clock skew
// exceeds the threshold.
func (r *DeviceRegistry) AnySkewAbove(threshold time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, skew := range r.skews {
		if skew > threshold {
			return true
		}
	}
	return false
}

// Snapshot returns copies of all device states, ordered by replica id.
func (r *DeviceRegistry) Snapshot() []types.DeviceSyncState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make([]types.DeviceSyncState, 0, len(r.devices))
	for _, state := range r.devices {
		copied := *state
		copied.LastSeenClock = state.LastSeenClock.Clone()
		states = append(states, copied)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Replica < states[j].Replica })
	return states
}

// State returns a copy of one replica's sync state.
func (r *DeviceRegistry) State(replica types.ReplicaID) (types.DeviceSyncState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.devices[replica]
	if !ok {
		return types.DeviceSyncState{}, false
	}
	copied := *state
	copied.LastSeenClock = state.LastSeenClock.Clone()
	return copied, true
}

func (r *DeviceRegistry) ensure(replica types.ReplicaID) *types.DeviceSyncState {
	state, ok := r.devices[replica]
	if !ok {
		state = &types.DeviceSyncState{
			Replica:       replica,
			LastSeenClock: make(types.VectorClock),
		}
		r.devices[replica] = state
		trackedReplicas.Set(float64(len(r.devices)))
	}
	return state
}
