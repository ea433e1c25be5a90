package ledger

import (
	"testing"

	"github.com/google/uuid"
)

func TestAccountPaths(t *testing.T) {
	userID := uuid.MustParse("11111111-2222-3333-4444-555555555555")

	tests := []struct {
		name string
		key  AccountKey
		want string
	}{
		{name: "wallet", key: NewWalletKey(userID), want: "user:11111111-2222-3333-4444-555555555555:wallet:LQT"},
		{name: "shares", key: NewShareKey(userID), want: "user:11111111-2222-3333-4444-555555555555:shares:xLQT"},
		{name: "vault", key: NewVaultKey(), want: "system:vault:LQT"},
		{name: "funding", key: NewFundingKey(), want: "external:funding:LQT"},
		{name: "issuance", key: NewIssuanceKey(), want: "external:issuance:xLQT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.AccountPath(); got != tt.want {
				t.Errorf("AccountPath() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApplyBatchZeroSum(t *testing.T) {
	tracker := NewBalanceTracker()
	gen := NewJournalGenerator()
	userID := uuid.New()

	// Fund the wallet, then stake
	deposit := gen.GenerateDeposit(userID, "op-1", 1, 1000, 5000)
	if err := tracker.ApplyBatch(deposit); err != nil {
		t.Fatalf("apply deposit: %v", err)
	}

	stake := gen.GenerateStake(userID, "op-2", 2, 2000, 1000, 970)
	if err := tracker.ApplyBatch(stake); err != nil {
		t.Fatalf("apply stake: %v", err)
	}

	if got := tracker.WalletBalance(userID); got != 4000 {
		t.Errorf("wallet = %d, want 4000", got)
	}
	if got := tracker.VaultBalance(); got != 1000 {
		t.Errorf("vault = %d, want 1000", got)
	}
	if got := tracker.ShareBalance(userID); got != 970 {
		t.Errorf("user shares = %d, want 970", got)
	}
	if got := tracker.ShareSupply(); got != 970 {
		t.Errorf("share supply = %d, want 970", got)
	}

	validator := NewInvariantValidator(tracker)
	if err := validator.ValidateGlobalBalance(); err != nil {
		t.Errorf("global balance: %v", err)
	}
}

func TestUnstakeBurnsAndPays(t *testing.T) {
	tracker := NewBalanceTracker()
	gen := NewJournalGenerator()
	userID := uuid.New()

	tracker.ApplyBatch(gen.GenerateDeposit(userID, "op-1", 1, 1000, 1000))
	tracker.ApplyBatch(gen.GenerateStake(userID, "op-2", 2, 2000, 1000, 970))

	unstake := gen.GenerateUnstake(userID, "op-3", 3, 3000, 970, 970)
	if err := tracker.ApplyBatch(unstake); err != nil {
		t.Fatalf("apply unstake: %v", err)
	}

	if got := tracker.ShareSupply(); got != 0 {
		t.Errorf("share supply = %d, want 0", got)
	}
	if got := tracker.WalletBalance(userID); got != 970 {
		t.Errorf("wallet = %d, want 970", got)
	}
	// Unstake fee stays in the vault
	if got := tracker.VaultBalance(); got != 30 {
		t.Errorf("vault = %d, want 30", got)
	}
}

func TestExitFeeBurnDestroysShares(t *testing.T) {
	tracker := NewBalanceTracker()
	gen := NewJournalGenerator()
	userID := uuid.New()

	tracker.ApplyBatch(gen.GenerateDeposit(userID, "op-1", 1, 1000, 1000))
	tracker.ApplyBatch(gen.GenerateStake(userID, "op-2", 2, 2000, 1000, 1000))

	burn := gen.GenerateExitFeeBurn(userID, "op-3", 3, 3000, 4)
	if err := tracker.ApplyBatch(burn); err != nil {
		t.Fatalf("apply exit fee burn: %v", err)
	}

	if got := tracker.ShareSupply(); got != 996 {
		t.Errorf("share supply = %d, want 996", got)
	}
	if got := tracker.ShareBalance(userID); got != 996 {
		t.Errorf("user shares = %d, want 996", got)
	}
	// Vault is untouched by a share burn
	if got := tracker.VaultBalance(); got != 1000 {
		t.Errorf("vault = %d, want 1000", got)
	}
}

func TestBatchValidateRejectsMalformed(t *testing.T) {
	gen := NewJournalGenerator()
	userID := uuid.New()

	empty := newBatch("op-x", 1, 1000)
	if err := empty.Validate(); err == nil {
		t.Error("empty batch passed validation")
	}

	negative := gen.GenerateDeposit(userID, "op-y", 1, 1000, 100)
	negative.Journals[0].Amount = -5
	if err := negative.Validate(); err == nil {
		t.Error("negative amount passed validation")
	}

	mismatched := gen.GenerateDeposit(userID, "op-z", 1, 1000, 100)
	mismatched.Journals[0].BatchID = uuid.New()
	if err := mismatched.Validate(); err == nil {
		t.Error("mismatched batch_id passed validation")
	}

	selfTransfer := gen.GenerateDeposit(userID, "op-w", 1, 1000, 100)
	selfTransfer.Journals[0].CreditAccount = selfTransfer.Journals[0].DebitAccount
	if err := selfTransfer.Validate(); err == nil {
		t.Error("self transfer passed validation")
	}
}

func TestValidateVaultNonNegative(t *testing.T) {
	tracker := NewBalanceTracker()
	validator := NewInvariantValidator(tracker)

	if err := validator.ValidateVaultNonNegative(); err != nil {
		t.Errorf("empty vault: %v", err)
	}

	tracker.SetBalance(NewVaultKey(), -1)
	if err := validator.ValidateVaultNonNegative(); err == nil {
		t.Error("negative vault passed validation")
	}
}
