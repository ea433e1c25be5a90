package event

import (
	"time"

	"github.com/google/uuid"
)

type JoinDividendPool struct {
	OperationID uuid.UUID `json:"operation_id"`
	UserID      uuid.UUID `json:"user_id"`
	Shares      uint64    `json:"shares"`
	Timestamp   time.Time `json:"timestamp"`
}

func (j *JoinDividendPool) IdempotencyKey() string { return j.OperationID.String() }
func (j *JoinDividendPool) OpType() OpType         { return OpTypeJoinDividendPool }
func (j *JoinDividendPool) Caller() uuid.UUID      { return j.UserID }
func (j *JoinDividendPool) Partition() *string     { return nil }
func (j *JoinDividendPool) SourceSequence() int64  { return 0 }
func (j *JoinDividendPool) OccurredAt() time.Time  { return j.Timestamp }

type LeaveDividendPool struct {
	OperationID uuid.UUID `json:"operation_id"`
	UserID      uuid.UUID `json:"user_id"`
	Shares      uint64    `json:"shares"`
	Timestamp   time.Time `json:"timestamp"`
}

func (l *LeaveDividendPool) IdempotencyKey() string { return l.OperationID.String() }
func (l *LeaveDividendPool) OpType() OpType         { return OpTypeLeaveDividendPool }
func (l *LeaveDividendPool) Caller() uuid.UUID      { return l.UserID }
func (l *LeaveDividendPool) Partition() *string     { return nil }
func (l *LeaveDividendPool) SourceSequence() int64  { return 0 }
func (l *LeaveDividendPool) OccurredAt() time.Time  { return l.Timestamp }
