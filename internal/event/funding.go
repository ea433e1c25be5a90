package event

import (
	"time"

	"github.com/google/uuid"
)

type Deposit struct {
	OperationID uuid.UUID `json:"operation_id"`
	UserID      uuid.UUID `json:"user_id"`
	Amount      uint64    `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

func (d *Deposit) IdempotencyKey() string { return d.OperationID.String() }
func (d *Deposit) OpType() OpType         { return OpTypeDeposit }
func (d *Deposit) Caller() uuid.UUID      { return d.UserID }
func (d *Deposit) Partition() *string     { return nil }
func (d *Deposit) SourceSequence() int64  { return 0 }
func (d *Deposit) OccurredAt() time.Time  { return d.Timestamp }

type Withdraw struct {
	OperationID uuid.UUID `json:"operation_id"`
	UserID      uuid.UUID `json:"user_id"`
	Amount      uint64    `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

func (w *Withdraw) IdempotencyKey() string { return w.OperationID.String() }
func (w *Withdraw) OpType() OpType         { return OpTypeWithdraw }
func (w *Withdraw) Caller() uuid.UUID      { return w.UserID }
func (w *Withdraw) Partition() *string     { return nil }
func (w *Withdraw) SourceSequence() int64  { return 0 }
func (w *Withdraw) OccurredAt() time.Time  { return w.Timestamp }
