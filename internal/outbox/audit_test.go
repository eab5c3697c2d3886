package outbox

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAuditAppendAndReadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	log, err := OpenAuditLog(path)
	if err != nil {
		t.Fatal(err)
	}
	defer log.Close()

	id1, err := log.Append(TradeRecord{Symbol: "GC.FUT", ExecSymbol: "XAUUSD", Model: "ICEBERG", Executed: true})
	if err != nil {
		t.Fatal(err)
	}
	if id1 == "" {
		t.Fatal("append must assign an ID")
	}
	id2, err := log.Append(TradeRecord{Symbol: "NQ.FUT", Executed: false, Reason: "trade throttle"})
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Fatal("IDs must be unique")
	}

	recs, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("want 2 records, got %d", len(recs))
	}
	if recs[0].ID != id1 || recs[0].ExecSymbol != "XAUUSD" {
		t.Fatalf("first record mismatch: %+v", recs[0])
	}
	if recs[1].Reason != "trade throttle" || recs[1].Executed {
		t.Fatalf("rejected attempt must keep its reason: %+v", recs[1])
	}
	if recs[0].RecordedAt.IsZero() {
		t.Fatal("append must stamp RecordedAt")
	}
}

func TestReadAllSkipsTornLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	log, err := OpenAuditLog(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := log.Append(TradeRecord{Symbol: "GC.FUT"}); err != nil {
		t.Fatal(err)
	}
	log.Close()

	// A crashed writer leaves a torn trailing line.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"id":"trunc`)
	f.Close()

	recs, err := ReadAll(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("torn line must be skipped, got %d records", len(recs))
	}
}

func TestReadAllMissingFile(t *testing.T) {
	recs, err := ReadAll(filepath.Join(t.TempDir(), "absent.jsonl"))
	if err != nil || recs != nil {
		t.Fatalf("missing file reads as empty, got %v records err=%v", len(recs), err)
	}
}
