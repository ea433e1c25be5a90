package ledger

import (
	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches for reserve operations.
// Batches carry the global sequence assigned by the core; the generator
// itself is stateless.
type JournalGenerator struct{}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

func newBatch(opRef string, sequence, timestamp int64) *Batch {
	return &Batch{
		BatchID:      uuid.New(),
		OperationRef: opRef,
		Sequence:     sequence,
		Timestamp:    timestamp,
	}
}

func (jg *JournalGenerator) appendJournal(
	batch *Batch,
	debit, credit AccountKey,
	amount int64,
	journalType JournalType,
) {
	batch.Journals = append(batch.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       batch.BatchID,
		OperationRef:  batch.OperationRef,
		Sequence:      batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount,
		JournalType:   journalType,
		Timestamp:     batch.Timestamp,
	})
}

// GenerateStake moves the gross amount from the user's wallet into the
// vault and mints the issued shares to the user's share account. The
// stake fee is implicit: the full amount enters the vault while shares
// are computed from the net.
func (jg *JournalGenerator) GenerateStake(
	userID uuid.UUID,
	opRef string,
	sequence, timestamp int64,
	amount, shares int64,
) *Batch {
	batch := newBatch(opRef, sequence, timestamp)
	jg.appendJournal(batch, NewVaultKey(), NewWalletKey(userID), amount, JournalTypeStakeDeposit)
	jg.appendJournal(batch, NewShareKey(userID), NewIssuanceKey(), shares, JournalTypeShareMint)
	return batch
}

// GenerateUnstake burns the redeemed shares and pays the net amount from
// the vault. The unstake fee stays in the vault. A zero net payout emits
// only the burn leg.
func (jg *JournalGenerator) GenerateUnstake(
	userID uuid.UUID,
	opRef string,
	sequence, timestamp int64,
	shares, netAmount int64,
) *Batch {
	batch := newBatch(opRef, sequence, timestamp)
	jg.appendJournal(batch, NewIssuanceKey(), NewShareKey(userID), shares, JournalTypeShareBurn)
	if netAmount > 0 {
		jg.appendJournal(batch, NewWalletKey(userID), NewVaultKey(), netAmount, JournalTypeUnstakePayout)
	}
	return batch
}

// GenerateExitFeeBurn destroys the dividend-pool exit fee: the shares
// leave the user's account and the supply. No base asset moves.
func (jg *JournalGenerator) GenerateExitFeeBurn(
	userID uuid.UUID,
	opRef string,
	sequence, timestamp int64,
	feeShares int64,
) *Batch {
	batch := newBatch(opRef, sequence, timestamp)
	jg.appendJournal(batch, NewIssuanceKey(), NewShareKey(userID), feeShares, JournalTypeExitFeeBurn)
	return batch
}

// GenerateProfitDeposit moves recorded profit from the authority's wallet
// into the vault.
func (jg *JournalGenerator) GenerateProfitDeposit(
	authority uuid.UUID,
	opRef string,
	sequence, timestamp int64,
	amount int64,
) *Batch {
	batch := newBatch(opRef, sequence, timestamp)
	jg.appendJournal(batch, NewVaultKey(), NewWalletKey(authority), amount, JournalTypeProfitDeposit)
	return batch
}

// GenerateRewardPayout pays settled rewards from the vault to the user.
func (jg *JournalGenerator) GenerateRewardPayout(
	userID uuid.UUID,
	opRef string,
	sequence, timestamp int64,
	amount int64,
) *Batch {
	batch := newBatch(opRef, sequence, timestamp)
	jg.appendJournal(batch, NewWalletKey(userID), NewVaultKey(), amount, JournalTypeRewardPayout)
	return batch
}

// GeneratePrizePayout pays a game prize from the vault to the recipient's
// wallet. No fee, no share movement.
func (jg *JournalGenerator) GeneratePrizePayout(
	recipient uuid.UUID,
	opRef string,
	sequence, timestamp int64,
	amount int64,
) *Batch {
	batch := newBatch(opRef, sequence, timestamp)
	jg.appendJournal(batch, NewWalletKey(recipient), NewVaultKey(), amount, JournalTypePrizePayout)
	return batch
}

// GenerateDeposit brings external funds across the boundary into a wallet.
func (jg *JournalGenerator) GenerateDeposit(
	userID uuid.UUID,
	opRef string,
	sequence, timestamp int64,
	amount int64,
) *Batch {
	batch := newBatch(opRef, sequence, timestamp)
	jg.appendJournal(batch, NewWalletKey(userID), NewFundingKey(), amount, JournalTypeDeposit)
	return batch
}

// GenerateWithdrawal sends wallet funds back across the boundary.
func (jg *JournalGenerator) GenerateWithdrawal(
	userID uuid.UUID,
	opRef string,
	sequence, timestamp int64,
	amount int64,
) *Batch {
	batch := newBatch(opRef, sequence, timestamp)
	jg.appendJournal(batch, NewFundingKey(), NewWalletKey(userID), amount, JournalTypeWithdrawal)
	return batch
}
