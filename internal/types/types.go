package types

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ReplicaID identifies an independent device producing writes offline.
type ReplicaID string

// OperationID is a globally unique identifier for a replicated write.
type OperationID string

// GroupKey identifies the record a write touches (table plus record identity).
type GroupKey string

// Ordering is the causal relationship between two vector clocks.
type Ordering int

const (
	OrderingEqual Ordering = iota
	OrderingBefore
	OrderingAfter
	OrderingConcurrent
)

// String renders the ordering for logs and evidence payloads.
func (o Ordering) String() string {
	switch o {
	case OrderingEqual:
		return "equal"
	case OrderingBefore:
		return "before"
	case OrderingAfter:
		return "after"
	case OrderingConcurrent:
		return "concurrent"
	default:
		return fmt.Sprintf("ordering(%d)", int(o))
	}
}

// VectorClock keeps logical time for each replica that contributed to an
// operation's causal history. Missing entries are treated as zero.
type VectorClock map[ReplicaID]uint64

// Bump increments the clock entry for a replica.
func (vc VectorClock) Bump(replica ReplicaID) {
	vc[replica] = vc[replica] + 1
}

// Merge folds another vector clock into the receiver by taking the entrywise
// maximum.
func (vc VectorClock) Merge(other VectorClock) {
	for replica, value := range other {
		if current, ok := vc[replica]; !ok || value > current {
			vc[replica] = value
		}
	}
}

// Clone returns an independent copy of the clock.
func (vc VectorClock) Clone() VectorClock {
	clone := make(VectorClock, len(vc))
	for replica, value := range vc {
		clone[replica] = value
	}
	return clone
}

// Compare establishes the partial order between two clocks. The receiver
// happens before the other clock when every entry is less or equal and at
// least one is strictly less; the symmetric case yields OrderingAfter. Clocks
// that disagree in both directions are concurrent.
func (vc VectorClock) Compare(other VectorClock) Ordering {
	var less, greater bool

	for replica, value := range vc {
		otherValue := other[replica]
		if value < otherValue {
			less = true
		} else if value > otherValue {
			greater = true
		}
	}
	for replica, otherValue := range other {
		if _, ok := vc[replica]; ok {
			continue
		}
		if otherValue > 0 {
			less = true
		}
	}

	switch {
	case less && greater:
		return OrderingConcurrent
	case less:
		return OrderingBefore
	case greater:
		return OrderingAfter
	default:
		return OrderingEqual
	}
}

// Dominates reports whether the receiver covers the other clock, meaning no
// entry is behind it.
func (vc VectorClock) Dominates(other VectorClock) bool {
	ord := vc.Compare(other)
	return ord == OrderingAfter || ord == OrderingEqual
}

// OpKind enumerates the replicated write kinds.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Valid reports whether the kind is one of the known write kinds.
func (k OpKind) Valid() bool {
	switch k {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Operation is a single replicated write observed by the monitor. Operations
// are immutable once created; identity is ID and must be unique process-wide.
type Operation struct {
	ID          OperationID    `json:"id"`
	GroupKey    GroupKey       `json:"group_key"`
	Kind        OpKind         `json:"kind"`
	Fields      map[string]any `json:"fields"`
	VectorClock VectorClock    `json:"vector_clock"`
	Walltime    time.Time      `json:"walltime"`
	Replica     ReplicaID      `json:"replica_id"`
	CausedBy    OperationID    `json:"caused_by,omitempty"`
}

// ErrMalformedOperation marks operations rejected before analysis.
var ErrMalformedOperation = errors.New("malformed operation")

// Validate rejects operations missing required fields. Rejected operations
// are neither stored nor analyzed.
func (op Operation) Validate() error {
	switch {
	case op.ID == "":
		return fmt.Errorf("%w: missing id", ErrMalformedOperation)
	case op.GroupKey == "":
		return fmt.Errorf("%w: missing group key", ErrMalformedOperation)
	case !op.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedOperation, op.Kind)
	case op.Replica == "":
		return fmt.Errorf("%w: missing replica id", ErrMalformedOperation)
	case op.Walltime.IsZero():
		return fmt.Errorf("%w: missing walltime", ErrMalformedOperation)
	case len(op.VectorClock) == 0:
		return fmt.Errorf("%w: missing vector clock", ErrMalformedOperation)
	}
	return nil
}

// FieldNames returns the sorted names of the fields the operation writes.
func (op Operation) FieldNames() []string {
	names := make([]string, 0, len(op.Fields))
	for name := range op.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IssueKind enumerates the analysis outcomes a MonitorResult can carry.
type IssueKind string

const (
	IssueHealthy            IssueKind = "healthy"
	IssueConflict           IssueKind = "conflict"
	IssueClockSkew          IssueKind = "clock_skew"
	IssueCausalityViolation IssueKind = "causality_violation"
)

// Severity grades how urgent a result is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// rank orders severities for threshold comparisons.
func (s Severity) rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether the severity meets or exceeds the threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.rank() >= threshold.rank()
}

// MonitorResult is the immutable outcome of analyzing one operation under one
// rule. Results are retained for a bounded retention window then purged.
type MonitorResult struct {
	ID               string         `json:"id"`
	RuleName         string         `json:"rule_name"`
	GroupKey         GroupKey       `json:"group_key"`
	Issue            IssueKind      `json:"issue_kind"`
	HasIssue         bool           `json:"has_issue"`
	Evidence         map[string]any `json:"evidence,omitempty"`
	Severity         Severity       `json:"severity"`
	DetectedAt       time.Time      `json:"detected_at"`
	SuggestedAction  string         `json:"suggested_action,omitempty"`
	AffectedReplicas []ReplicaID    `json:"affected_replicas,omitempty"`
}

// DeviceSyncState tracks what the monitor knows about a replica. One record
// exists per known replica; it is updated monotonically and never deleted.
type DeviceSyncState struct {
	Replica       ReplicaID   `json:"replica_id"`
	LastSeenClock VectorClock `json:"last_seen_clock"`
	LastSyncTime  time.Time   `json:"last_sync_time"`
	IsOnline      bool        `json:"is_online"`
	PendingCount  int         `json:"pending_count"`
}
