package ingestion_test

import (
	"ReserveLedger/internal/event"
	"ReserveLedger/internal/ingestion"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func mustUUID(t *testing.T, s string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(s)
	if err != nil {
		t.Fatalf("parse uuid %q: %v", s, err)
	}
	return id
}

func rawFromJSON(t *testing.T, v interface{}) ingestion.RawOperation {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return ingestion.RawOperation{
		Subject:   "test",
		Data:      data,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
}

func TestParseRecordProfit(t *testing.T) {
	payload := map[string]interface{}{
		"record_id":    "550e8400-e29b-41d4-a716-446655440000",
		"caller_id":    "660e8400-e29b-41d4-a716-446655440001",
		"game_id":      "770e8400-e29b-41d4-a716-446655440002",
		"amount":       uint64(50_000),
		"sequence":     int64(42),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	op, err := ingestion.ParseRawOperation(raw, "RecordProfit")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rp, ok := op.(*event.RecordProfit)
	if !ok {
		t.Fatalf("expected *event.RecordProfit, got %T", op)
	}

	if rp.Amount != 50_000 {
		t.Errorf("amount: got %d, want 50_000", rp.Amount)
	}
	if rp.Sequence != 42 {
		t.Errorf("sequence: got %d, want 42", rp.Sequence)
	}
	if rp.Source == nil || *rp.Source != "770e8400-e29b-41d4-a716-446655440002" {
		t.Errorf("source: got %v, want game_id", rp.Source)
	}
	if rp.OpType() != event.OpTypeRecordProfit {
		t.Errorf("op type: got %v, want RecordProfit", rp.OpType())
	}
	if !rp.Timestamp.Equal(time.UnixMicro(1700000000000000)) {
		t.Errorf("timestamp: got %v", rp.Timestamp)
	}
}

func TestParseSendPrize(t *testing.T) {
	payload := map[string]interface{}{
		"prize_id":     "550e8400-e29b-41d4-a716-446655440000",
		"game_id":      "660e8400-e29b-41d4-a716-446655440001",
		"recipient":    "770e8400-e29b-41d4-a716-446655440002",
		"amount":       uint64(12_345),
		"sequence":     int64(7),
		"timestamp_us": int64(1700000000000000),
	}

	raw := rawFromJSON(t, payload)
	op, err := ingestion.ParseRawOperation(raw, "SendPrize")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	sp, ok := op.(*event.SendPrize)
	if !ok {
		t.Fatalf("expected *event.SendPrize, got %T", op)
	}

	if sp.Amount != 12_345 {
		t.Errorf("amount: got %d, want 12_345", sp.Amount)
	}
	if sp.Recipient.String() != "770e8400-e29b-41d4-a716-446655440002" {
		t.Errorf("recipient: got %s", sp.Recipient)
	}
	if sp.Partition() == nil || *sp.Partition() != "660e8400-e29b-41d4-a716-446655440001" {
		t.Errorf("partition: got %v, want game_id", sp.Partition())
	}
	if sp.SourceSequence() != 7 {
		t.Errorf("source sequence: got %d, want 7", sp.SourceSequence())
	}
}

func TestParseUnknownOpType_Fails(t *testing.T) {
	raw := ingestion.RawOperation{Data: []byte(`{}`)}
	_, err := ingestion.ParseRawOperation(raw, "NonExistentType")
	if err == nil {
		t.Fatal("expected error for unknown operation type")
	}
}

func TestParseInvalidJSON_Fails(t *testing.T) {
	raw := ingestion.RawOperation{Data: []byte(`{invalid json`)}
	_, err := ingestion.ParseRawOperation(raw, "RecordProfit")
	if err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseInvalidUUID_Fails(t *testing.T) {
	payload := map[string]interface{}{
		"record_id":    "not-a-uuid",
		"caller_id":    "also-not-a-uuid",
		"game_id":      "still-not-a-uuid",
		"amount":       uint64(1),
		"sequence":     int64(0),
		"timestamp_us": int64(0),
	}

	raw := rawFromJSON(t, payload)
	_, err := ingestion.ParseRawOperation(raw, "RecordProfit")
	if err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}

func TestParseStoredOperation_RoundTrip(t *testing.T) {
	source := "660e8400-e29b-41d4-a716-446655440001"
	original := &event.RecordProfit{
		OperationID: mustUUID(t, "550e8400-e29b-41d4-a716-446655440000"),
		CallerID:    mustUUID(t, source),
		Amount:      9_000,
		Source:      &source,
		Sequence:    3,
		Timestamp:   time.UnixMicro(1700000000000000).UTC(),
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	op, err := ingestion.ParseStoredOperation("RecordProfit", data)
	if err != nil {
		t.Fatalf("parse stored: %v", err)
	}

	rp, ok := op.(*event.RecordProfit)
	if !ok {
		t.Fatalf("expected *event.RecordProfit, got %T", op)
	}
	if rp.Amount != original.Amount {
		t.Errorf("amount: got %d, want %d", rp.Amount, original.Amount)
	}
	if rp.IdempotencyKey() != original.IdempotencyKey() {
		t.Errorf("idempotency key: got %s, want %s", rp.IdempotencyKey(), original.IdempotencyKey())
	}
}

func TestParseStoredOperation_UnknownType_Fails(t *testing.T) {
	_, err := ingestion.ParseStoredOperation("Bogus", []byte(`{}`))
	if err == nil {
		t.Fatal("expected error for unknown stored type")
	}
}
