package event

import (
	"time"

	"github.com/google/uuid"
)

// Initialize is the one-shot reserve configuration operation.
type Initialize struct {
	OperationID    uuid.UUID `json:"operation_id"`
	Authority      uuid.UUID `json:"authority"`
	StakeFeeBps    uint16    `json:"stake_fee_bps"`
	UnstakeFeeBps  uint16    `json:"unstake_fee_bps"`
	LowerThreshold uint64    `json:"lower_threshold"`
	UpperThreshold uint64    `json:"upper_threshold"`
	Timestamp      time.Time `json:"timestamp"`
}

func (i *Initialize) IdempotencyKey() string { return i.OperationID.String() }
func (i *Initialize) OpType() OpType         { return OpTypeInitialize }
func (i *Initialize) Caller() uuid.UUID      { return i.Authority }
func (i *Initialize) Partition() *string     { return nil }
func (i *Initialize) SourceSequence() int64  { return 0 }
func (i *Initialize) OccurredAt() time.Time  { return i.Timestamp }

// ApproveGame registers a game service as an allowed prize sender.
type ApproveGame struct {
	OperationID uuid.UUID `json:"operation_id"`
	CallerID    uuid.UUID `json:"caller_id"`
	GameID      uuid.UUID `json:"game_id"`
	Timestamp   time.Time `json:"timestamp"`
}

func (a *ApproveGame) IdempotencyKey() string { return a.OperationID.String() }
func (a *ApproveGame) OpType() OpType         { return OpTypeApproveGame }
func (a *ApproveGame) Caller() uuid.UUID      { return a.CallerID }
func (a *ApproveGame) Partition() *string     { return nil }
func (a *ApproveGame) SourceSequence() int64  { return 0 }
func (a *ApproveGame) OccurredAt() time.Time  { return a.Timestamp }
