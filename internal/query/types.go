package query

import "github.com/google/uuid"

// ParticipantResponse represents a participant's position for API queries.
type ParticipantResponse struct {
	Owner          uuid.UUID `json:"owner"`
	StakedShares   int64     `json:"staked_shares"`
	DividendShares int64     `json:"dividend_shares"`
	RewardDebt     string    `json:"reward_debt"`
	PendingRewards string    `json:"pending_rewards"`
	AsOfSequence   int64     `json:"as_of_sequence"`
}

// ReserveStatusResponse represents the reserve singleton for API queries.
type ReserveStatusResponse struct {
	VaultBalance        int64  `json:"vault_balance"`
	ShareSupply         int64  `json:"share_supply"`
	TotalDividendShares string `json:"total_dividend_shares"`
	RewardAccumulator   string `json:"reward_accumulator"`
	Initialized         bool   `json:"initialized"`
	AsOfSequence        int64  `json:"as_of_sequence"`
}

// WalletBalanceResponse represents a user's wallet balance.
type WalletBalanceResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	Balance      int64     `json:"balance"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// RewardHistoryResponse represents one reward-history record.
type RewardHistoryResponse struct {
	Sequence     int64  `json:"sequence"`
	Kind         string `json:"kind"` // "profit", "claim", "prize"
	Account      string `json:"account"`
	Amount       int64  `json:"amount"`
	OccurredAt   string `json:"occurred_at"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	OperationRef  string `json:"operation_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        int64  `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// OperationResponse represents a logged operation for API queries.
type OperationResponse struct {
	Sequence       int64   `json:"sequence"`
	OpType         string  `json:"op_type"`
	IdempotencyKey string  `json:"idempotency_key"`
	Caller         string  `json:"caller"`
	Partition      *string `json:"partition,omitempty"`
	SourceSequence int64   `json:"source_sequence"`
	StateHash      string  `json:"state_hash"`
	PrevHash       string  `json:"prev_hash"`
	Timestamp      string  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset with non-zero global balance sum.
type UnbalancedAsset struct {
	AssetID   uint16 `json:"asset_id"`
	Imbalance int64  `json:"imbalance"`
}
