package monitor

import (
	"testing"
	"time"

	"github.com/example/sync-conflict-monitor/internal/types"
)

func TestRegistryObserveIsMonotonic(t *testing.T) {
	registry := NewDeviceRegistry()
	now := time.Now()

	first := testOp("op-1", "g", "phone", types.VectorClock{"phone": 3, "laptop": 1}, now)
	registry.Observe(first, now)

	// An older operation arriving late must not roll anything back.
	late := testOp("op-2", "g", "phone", types.VectorClock{"phone": 2}, now.Add(-time.Hour))
	registry.Observe(late, now.Add(-time.Hour))

	state, ok := registry.State("phone")
	if !ok {
		t.Fatalf("expected phone to be tracked")
	}
	if state.LastSeenClock["phone"] != 3 {
		t.Fatalf("clock entry rolled back to %d", state.LastSeenClock["phone"])
	}
	if state.LastSyncTime.Before(now) {
		t.Fatalf("lastSyncTime rolled back to %v", state.LastSyncTime)
	}
}

func TestRegistryHeartbeatAndOffline(t *testing.T) {
	registry := NewDeviceRegistry()
	now := time.Now()

	registry.Heartbeat("tablet", 7, now)
	state, ok := registry.State("tablet")
	if !ok || !state.IsOnline || state.PendingCount != 7 {
		t.Fatalf("heartbeat not recorded: %+v ok=%v", state, ok)
	}

	registry.SetOnline("tablet", false)
	state, _ = registry.State("tablet")
	if state.IsOnline {
		t.Fatalf("expected tablet offline after TTL expiry")
	}
	// The record survives going offline.
	if state.PendingCount != 7 {
		t.Fatalf("offline transition must not clear state: %+v", state)
	}
}

func TestRegistrySnapshotSortedCopies(t *testing.T) {
	registry := NewDeviceRegistry()
	now := time.Now()

	for _, replica := range []types.ReplicaID{"zeta", "alpha", "mid"} {
		registry.Observe(testOp(types.OperationID("op-"+replica), "g", replica, types.VectorClock{replica: 1}, now), now)
	}

	snapshot := registry.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 devices, got %d", len(snapshot))
	}
	if snapshot[0].Replica != "alpha" || snapshot[2].Replica != "zeta" {
		t.Fatalf("snapshot not sorted: %v", snapshot)
	}

	// Mutating the snapshot must not leak into the registry.
	snapshot[0].LastSeenClock.Bump("alpha")
	state, _ := registry.State("alpha")
	if state.LastSeenClock["alpha"] != 1 {
		t.Fatalf("snapshot clock aliases registry state")
	}
}

func TestRegistrySkewTracking(t *testing.T) {
	registry := NewDeviceRegistry()
	now := time.Now()

	registry.Observe(testOp("op-1", "g", "phone", types.VectorClock{"phone": 1}, now.Add(-10*time.Minute)), now)
	if !registry.AnySkewAbove(5 * time.Minute) {
		t.Fatalf("expected 10m skew to exceed a 5m threshold")
	}
	if registry.AnySkewAbove(15 * time.Minute) {
		t.Fatalf("no replica exceeds 15m skew")
	}
}
