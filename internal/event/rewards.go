package event

import (
	"time"

	"github.com/google/uuid"
)

// RecordProfit credits the dividend pool with game profit. Delivered via
// the game-results feed, so it carries a source partition and sequence
// for per-game ordering validation.
type RecordProfit struct {
	OperationID uuid.UUID `json:"operation_id"`
	CallerID    uuid.UUID `json:"caller_id"`
	Amount      uint64    `json:"amount"`
	Source      *string   `json:"source,omitempty"`
	Sequence    int64     `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
}

func (r *RecordProfit) IdempotencyKey() string { return r.OperationID.String() }
func (r *RecordProfit) OpType() OpType         { return OpTypeRecordProfit }
func (r *RecordProfit) Caller() uuid.UUID      { return r.CallerID }
func (r *RecordProfit) Partition() *string     { return r.Source }
func (r *RecordProfit) SourceSequence() int64  { return r.Sequence }
func (r *RecordProfit) OccurredAt() time.Time  { return r.Timestamp }

type ClaimRewards struct {
	OperationID uuid.UUID `json:"operation_id"`
	UserID      uuid.UUID `json:"user_id"`
	Timestamp   time.Time `json:"timestamp"`
}

func (c *ClaimRewards) IdempotencyKey() string { return c.OperationID.String() }
func (c *ClaimRewards) OpType() OpType         { return OpTypeClaimRewards }
func (c *ClaimRewards) Caller() uuid.UUID      { return c.UserID }
func (c *ClaimRewards) Partition() *string     { return nil }
func (c *ClaimRewards) SourceSequence() int64  { return 0 }
func (c *ClaimRewards) OccurredAt() time.Time  { return c.Timestamp }
