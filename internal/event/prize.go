package event

import (
	"time"

	"github.com/google/uuid"
)

// SendPrize pays a winner from the vault on behalf of an approved game.
// Delivered via the game-results feed alongside RecordProfit.
type SendPrize struct {
	OperationID uuid.UUID `json:"operation_id"`
	GameID      uuid.UUID `json:"game_id"`
	Recipient   uuid.UUID `json:"recipient"`
	Amount      uint64    `json:"amount"`
	Source      *string   `json:"source,omitempty"`
	Sequence    int64     `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
}

func (p *SendPrize) IdempotencyKey() string { return p.OperationID.String() }
func (p *SendPrize) OpType() OpType         { return OpTypeSendPrize }
func (p *SendPrize) Caller() uuid.UUID      { return p.GameID }
func (p *SendPrize) Partition() *string     { return p.Source }
func (p *SendPrize) SourceSequence() int64  { return p.Sequence }
func (p *SendPrize) OccurredAt() time.Time  { return p.Timestamp }
