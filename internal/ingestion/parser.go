package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ReserveLedger/internal/event"
)

// ParseRawOperation converts a RawOperation (JSON bytes + op type
// string) into a typed event.Operation. The ingestion shell validates,
// parses, and converts raw feed messages before handing them to the
// deterministic core.
func ParseRawOperation(raw RawOperation, opType string) (event.Operation, error) {
	switch opType {
	case "RecordProfit":
		return parseRecordProfit(raw.Data)
	case "SendPrize":
		return parseSendPrize(raw.Data)
	default:
		return nil, fmt.Errorf("unknown operation type: %s", opType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type profitJSON struct {
	RecordID    string `json:"record_id"`
	CallerID    string `json:"caller_id"`
	GameID      string `json:"game_id"`
	Amount      uint64 `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseRecordProfit(data []byte) (*event.RecordProfit, error) {
	var j profitJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse RecordProfit: %w", err)
	}

	recordID, err := uuid.Parse(j.RecordID)
	if err != nil {
		return nil, fmt.Errorf("parse record_id: %w", err)
	}
	callerID, err := uuid.Parse(j.CallerID)
	if err != nil {
		return nil, fmt.Errorf("parse caller_id: %w", err)
	}
	if _, err := uuid.Parse(j.GameID); err != nil {
		return nil, fmt.Errorf("parse game_id: %w", err)
	}

	source := j.GameID
	return &event.RecordProfit{
		OperationID: recordID,
		CallerID:    callerID,
		Amount:      j.Amount,
		Source:      &source,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

type prizeJSON struct {
	PrizeID     string `json:"prize_id"`
	GameID      string `json:"game_id"`
	Recipient   string `json:"recipient"`
	Amount      uint64 `json:"amount"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

func parseSendPrize(data []byte) (*event.SendPrize, error) {
	var j prizeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse SendPrize: %w", err)
	}

	prizeID, err := uuid.Parse(j.PrizeID)
	if err != nil {
		return nil, fmt.Errorf("parse prize_id: %w", err)
	}
	gameID, err := uuid.Parse(j.GameID)
	if err != nil {
		return nil, fmt.Errorf("parse game_id: %w", err)
	}
	recipient, err := uuid.Parse(j.Recipient)
	if err != nil {
		return nil, fmt.Errorf("parse recipient: %w", err)
	}

	source := j.GameID
	return &event.SendPrize{
		OperationID: prizeID,
		GameID:      gameID,
		Recipient:   recipient,
		Amount:      j.Amount,
		Source:      &source,
		Sequence:    j.Sequence,
		Timestamp:   time.UnixMicro(j.TimestampUs),
	}, nil
}

// ParseStoredOperation decodes a logged operation payload back into a
// typed event.Operation. Used during replay on restart: payloads were
// written with json.Marshal of the typed operation, so this is the
// inverse.
func ParseStoredOperation(opType string, data []byte) (event.Operation, error) {
	var op event.Operation

	switch opType {
	case "Initialize":
		op = &event.Initialize{}
	case "Stake":
		op = &event.Stake{}
	case "Unstake":
		op = &event.Unstake{}
	case "JoinDividendPool":
		op = &event.JoinDividendPool{}
	case "LeaveDividendPool":
		op = &event.LeaveDividendPool{}
	case "RecordProfit":
		op = &event.RecordProfit{}
	case "ClaimRewards":
		op = &event.ClaimRewards{}
	case "SendPrize":
		op = &event.SendPrize{}
	case "ApproveGame":
		op = &event.ApproveGame{}
	case "Deposit":
		op = &event.Deposit{}
	case "Withdraw":
		op = &event.Withdraw{}
	default:
		return nil, fmt.Errorf("unknown stored operation type: %s", opType)
	}

	if err := json.Unmarshal(data, op); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", opType, err)
	}
	return op, nil
}
