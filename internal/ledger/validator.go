package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced and well-formed
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateVaultNonNegative verifies the vault never pays out more than it holds
func (v *InvariantValidator) ValidateVaultNonNegative() error {
	return v.tracker.ValidateNonNegative(NewVaultKey())
}

// ValidateUserNonNegative checks a user's wallet and share accounts
func (v *InvariantValidator) ValidateUserNonNegative(userID uuid.UUID) error {
	if err := v.tracker.ValidateNonNegative(NewWalletKey(userID)); err != nil {
		return err
	}
	return v.tracker.ValidateNonNegative(NewShareKey(userID))
}

// ValidateShareSupplyNonNegative verifies no over-burn of shares
func (v *InvariantValidator) ValidateShareSupplyNonNegative() error {
	if supply := v.tracker.ShareSupply(); supply < 0 {
		return fmt.Errorf("share supply is negative: %d", supply)
	}
	return nil
}

// ValidateGlobalBalance verifies the system is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
