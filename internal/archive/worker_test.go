package archive

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang/snappy"

	"github.com/example/sync-conflict-monitor/internal/report"
	"github.com/example/sync-conflict-monitor/internal/types"
)

func TestDecodeReportRoundTrip(t *testing.T) {
	original := report.Report{
		GeneratedAt: time.Now().UTC().Truncate(time.Second),
		Totals:      map[types.IssueKind]int{types.IssueConflict: 3},
		Statistics:  report.Statistics{TotalResults: 7, FlaggedResults: 3},
	}
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := DecodeReport(snappy.Encode(nil, data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Totals[types.IssueConflict] != 3 {
		t.Fatalf("totals lost in round trip: %v", decoded.Totals)
	}
	if decoded.Statistics.TotalResults != 7 {
		t.Fatalf("statistics lost in round trip: %+v", decoded.Statistics)
	}
}

func TestDecodeReportRejectsCorruptPayloads(t *testing.T) {
	if _, err := DecodeReport([]byte("not snappy")); err == nil {
		t.Fatalf("corrupt compression must fail")
	}
	if _, err := DecodeReport(snappy.Encode(nil, []byte("{not json"))); err == nil {
		t.Fatalf("corrupt json must fail")
	}
}
