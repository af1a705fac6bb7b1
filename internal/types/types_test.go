package types

import (
	"errors"
	"testing"
	"time"
)

func TestVectorClockCompare(t *testing.T) {
	cases := []struct {
		name string
		a, b VectorClock
		want Ordering
	}{
		{
			name: "equal",
			a:    VectorClock{"a": 2, "b": 1},
			b:    VectorClock{"a": 2, "b": 1},
			want: OrderingEqual,
		},
		{
			name: "before when every entry is behind",
			a:    VectorClock{"a": 1, "b": 1},
			b:    VectorClock{"a": 2, "b": 1},
			want: OrderingBefore,
		},
		{
			name: "after when every entry is ahead",
			a:    VectorClock{"a": 3, "b": 2},
			b:    VectorClock{"a": 2, "b": 2},
			want: OrderingAfter,
		},
		{
			name: "concurrent when each leads somewhere",
			a:    VectorClock{"a": 2, "b": 1},
			b:    VectorClock{"a": 1, "b": 2},
			want: OrderingConcurrent,
		},
		{
			name: "missing entries read as zero",
			a:    VectorClock{"a": 1},
			b:    VectorClock{"a": 1, "b": 1},
			want: OrderingBefore,
		},
		{
			name: "disjoint replicas are concurrent",
			a:    VectorClock{"a": 1},
			b:    VectorClock{"b": 1},
			want: OrderingConcurrent,
		},
		{
			name: "empty clocks are equal",
			a:    VectorClock{},
			b:    VectorClock{},
			want: OrderingEqual,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Compare(tc.b); got != tc.want {
				t.Fatalf("Compare(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestVectorClockCompareIsAntisymmetric(t *testing.T) {
	a := VectorClock{"a": 1, "b": 3}
	b := VectorClock{"a": 2, "b": 3}

	if a.Compare(b) != OrderingBefore {
		t.Fatalf("expected a before b, got %v", a.Compare(b))
	}
	if b.Compare(a) != OrderingAfter {
		t.Fatalf("expected b after a, got %v", b.Compare(a))
	}
}

func TestVectorClockCompareIsTransitive(t *testing.T) {
	a := VectorClock{"a": 1}
	b := VectorClock{"a": 1, "b": 2}
	c := VectorClock{"a": 3, "b": 2, "c": 1}

	if got := a.Compare(b); got != OrderingBefore {
		t.Fatalf("a.Compare(b) = %v, want before", got)
	}
	if got := b.Compare(c); got != OrderingBefore {
		t.Fatalf("b.Compare(c) = %v, want before", got)
	}
	if got := a.Compare(c); got != OrderingBefore {
		t.Fatalf("a.Compare(c) = %v, want before", got)
	}
	if got := c.Compare(a); got != OrderingAfter {
		t.Fatalf("c.Compare(a) = %v, want after", got)
	}
}

func TestVectorClockMergeTakesEntrywiseMax(t *testing.T) {
	a := VectorClock{"a": 2, "b": 1}
	b := VectorClock{"b": 4, "c": 1}

	a.Merge(b)

	want := VectorClock{"a": 2, "b": 4, "c": 1}
	for replica, value := range want {
		if a[replica] != value {
			t.Fatalf("merged[%s] = %d, want %d", replica, a[replica], value)
		}
	}
	if !a.Dominates(b) {
		t.Fatalf("merged clock must dominate both inputs")
	}
}

func TestVectorClockCloneIsIndependent(t *testing.T) {
	original := VectorClock{"a": 1}
	clone := original.Clone()
	clone.Bump("a")

	if original["a"] != 1 {
		t.Fatalf("mutating a clone changed the original: %v", original)
	}
	if clone["a"] != 2 {
		t.Fatalf("expected clone bumped to 2, got %d", clone["a"])
	}
}

func TestOperationValidate(t *testing.T) {
	valid := Operation{
		ID:          "op-1",
		GroupKey:    "orders:42",
		Kind:        OpUpdate,
		Fields:      map[string]any{"status": "shipped"},
		VectorClock: VectorClock{"a": 1},
		Walltime:    time.Now(),
		Replica:     "a",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid operation rejected: %v", err)
	}

	broken := []func(op *Operation){
		func(op *Operation) { op.ID = "" },
		func(op *Operation) { op.GroupKey = "" },
		func(op *Operation) { op.Kind = "upsert" },
		func(op *Operation) { op.Replica = "" },
		func(op *Operation) { op.Walltime = time.Time{} },
		func(op *Operation) { op.VectorClock = nil },
	}
	for i, mutate := range broken {
		op := valid
		mutate(&op)
		err := op.Validate()
		if err == nil {
			t.Fatalf("case %d: expected validation failure", i)
		}
		if !errors.Is(err, ErrMalformedOperation) {
			t.Fatalf("case %d: expected ErrMalformedOperation, got %v", i, err)
		}
	}
}

func TestSeverityAtLeast(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityWarning) {
		t.Fatalf("critical should meet a warning threshold")
	}
	if SeverityInfo.AtLeast(SeverityWarning) {
		t.Fatalf("info should not meet a warning threshold")
	}
	if !SeverityWarning.AtLeast(SeverityWarning) {
		t.Fatalf("a severity should meet its own threshold")
	}
}

func TestFieldNamesSorted(t *testing.T) {
	op := Operation{Fields: map[string]any{"zeta": 1, "alpha": 2, "mid": 3}}
	names := op.FieldNames()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("expected %d names, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
