package event

import (
	"time"

	"github.com/google/uuid"
)

type Stake struct {
	OperationID uuid.UUID `json:"operation_id"`
	UserID      uuid.UUID `json:"user_id"`
	Amount      uint64    `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

func (s *Stake) IdempotencyKey() string { return s.OperationID.String() }
func (s *Stake) OpType() OpType         { return OpTypeStake }
func (s *Stake) Caller() uuid.UUID      { return s.UserID }
func (s *Stake) Partition() *string     { return nil }
func (s *Stake) SourceSequence() int64  { return 0 }
func (s *Stake) OccurredAt() time.Time  { return s.Timestamp }

type Unstake struct {
	OperationID uuid.UUID `json:"operation_id"`
	UserID      uuid.UUID `json:"user_id"`
	Shares      uint64    `json:"shares"`
	Timestamp   time.Time `json:"timestamp"`
}

func (u *Unstake) IdempotencyKey() string { return u.OperationID.String() }
func (u *Unstake) OpType() OpType         { return OpTypeUnstake }
func (u *Unstake) Caller() uuid.UUID      { return u.UserID }
func (u *Unstake) Partition() *string     { return nil }
func (u *Unstake) SourceSequence() int64  { return 0 }
func (u *Unstake) OccurredAt() time.Time  { return u.Timestamp }
