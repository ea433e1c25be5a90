package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeStakeDeposit
	JournalTypeShareMint
	JournalTypeShareBurn
	JournalTypeExitFeeBurn
	JournalTypeUnstakePayout
	JournalTypeProfitDeposit
	JournalTypeRewardPayout
	JournalTypePrizePayout
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeStakeDeposit:
		return "stake_deposit"
	case JournalTypeShareMint:
		return "share_mint"
	case JournalTypeShareBurn:
		return "share_burn"
	case JournalTypeExitFeeBurn:
		return "exit_fee_burn"
	case JournalTypeUnstakePayout:
		return "unstake_payout"
	case JournalTypeProfitDeposit:
		return "profit_deposit"
	case JournalTypeRewardPayout:
		return "reward_payout"
	case JournalTypePrizePayout:
		return "prize_payout"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups entries of one operation
	OperationRef  string      // Idempotency key of the source operation
	Sequence      int64       // Global operation sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Fixed-point amount (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Versioned input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID      uuid.UUID
	OperationRef string
	Sequence     int64
	Timestamp    int64
	Journals     []Journal
}

// Validate ensures the batch is well-formed.
// Each journal entry is a balanced transfer by construction: a single
// positive amount moves from credit account to debit account, so
// Σ debits == Σ credits holds per-entry. Multi-leg operations (stake with
// mint, unstake with burn) use multiple entries under one batch_id.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.AssetID != j.AssetID || j.CreditAccount.AssetID != j.AssetID {
			return fmt.Errorf("journal %s crosses assets", j.JournalID)
		}
	}

	return nil
}
