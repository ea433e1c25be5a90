package event

import (
	"time"

	"github.com/google/uuid"
)

// OpType discriminator for operation payloads
type OpType int32

const (
	OpTypeUnknown OpType = iota
	OpTypeInitialize
	OpTypeStake
	OpTypeUnstake
	OpTypeJoinDividendPool
	OpTypeLeaveDividendPool
	OpTypeRecordProfit
	OpTypeClaimRewards
	OpTypeSendPrize
	OpTypeApproveGame
	OpTypeDeposit
	OpTypeWithdraw
)

// Envelope wraps every operation in the log
type Envelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from the caller
	IdempotencyKey string

	// Operation type discriminator
	OpType OpType

	// Identity that invoked the operation
	Caller uuid.UUID

	// Source partition for feed-delivered operations (nil for API calls)
	Partition *string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation (0 for API calls)
	SourceSequence int64

	// JSON-encoded operation payload
	Payload []byte

	// SHA-256 of state AFTER applying this operation
	StateHash [32]byte

	// Previous operation's state hash (chain integrity)
	PrevHash [32]byte
}

// Operation is the interface all operation payloads must implement
type Operation interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// OpType returns the discriminator
	OpType() OpType

	// Caller returns the identity invoking the operation
	Caller() uuid.UUID

	// Partition returns the source partition (nil for API operations)
	Partition() *string

	// SourceSequence returns the upstream ordering key
	SourceSequence() int64

	// OccurredAt returns the versioned input timestamp
	OccurredAt() time.Time
}

func (ot OpType) String() string {
	switch ot {
	case OpTypeInitialize:
		return "Initialize"
	case OpTypeStake:
		return "Stake"
	case OpTypeUnstake:
		return "Unstake"
	case OpTypeJoinDividendPool:
		return "JoinDividendPool"
	case OpTypeLeaveDividendPool:
		return "LeaveDividendPool"
	case OpTypeRecordProfit:
		return "RecordProfit"
	case OpTypeClaimRewards:
		return "ClaimRewards"
	case OpTypeSendPrize:
		return "SendPrize"
	case OpTypeApproveGame:
		return "ApproveGame"
	case OpTypeDeposit:
		return "Deposit"
	case OpTypeWithdraw:
		return "Withdraw"
	default:
		return "Unknown"
	}
}
