package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance overwrites an account balance (snapshot restore only)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	bt.balances[key] = balance
}

// === Domain Balance Views ===

// VaultBalance returns the base-asset balance of the reserve vault.
func (bt *BalanceTracker) VaultBalance() int64 {
	return bt.GetBalance(NewVaultKey())
}

// ShareSupply returns the outstanding share supply. Shares are minted by
// crediting the issuance contra account, so supply is its negated balance.
func (bt *BalanceTracker) ShareSupply() int64 {
	return -bt.GetBalance(NewIssuanceKey())
}

// WalletBalance returns a user's base-asset wallet balance.
func (bt *BalanceTracker) WalletBalance(userID uuid.UUID) int64 {
	return bt.GetBalance(NewWalletKey(userID))
}

// ShareBalance returns a user's share-asset balance.
func (bt *BalanceTracker) ShareBalance(userID uuid.UUID) int64 {
	return bt.GetBalance(NewShareKey(userID))
}

// === Invariant Checks ===

// ComputeGlobalBalance sums all account balances per asset (should be 0
// for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
