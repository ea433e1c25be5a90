package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueryService provides read-only access to projection tables. Queries
// are served over gRPC and HTTP/JSON, reading from PostgreSQL rather
// than the in-memory core. All responses include as_of_sequence so
// callers can reason about freshness.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetParticipant returns a participant's staked and dividend position.
func (qs *QueryService) GetParticipant(
	ctx context.Context,
	owner uuid.UUID,
) (*ParticipantResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &ParticipantResponse{
		Owner:          owner,
		RewardDebt:     "0",
		PendingRewards: "0",
		AsOfSequence:   asOfSeq,
	}

	err = qs.db.QueryRowContext(ctx, `
		SELECT staked_shares, dividend_shares, reward_debt, pending_rewards
		FROM projections.participants
		WHERE owner = $1
	`, owner.String()).Scan(
		&resp.StakedShares, &resp.DividendShares,
		&resp.RewardDebt, &resp.PendingRewards,
	)
	if err == sql.ErrNoRows {
		return resp, nil // Unknown participant: zero position
	}
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// GetReserveStatus returns the reserve singleton: vault balance, share
// supply, dividend pool totals, and the reward accumulator.
func (qs *QueryService) GetReserveStatus(ctx context.Context) (*ReserveStatusResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &ReserveStatusResponse{
		TotalDividendShares: "0",
		RewardAccumulator:   "0",
		AsOfSequence:        asOfSeq,
	}

	err = qs.db.QueryRowContext(ctx, `
		SELECT vault_balance, share_supply, total_dividend_shares, reward_accumulator, initialized
		FROM projections.reserve_status
		WHERE id = 1
	`).Scan(
		&resp.VaultBalance, &resp.ShareSupply,
		&resp.TotalDividendShares, &resp.RewardAccumulator, &resp.Initialized,
	)
	if err == sql.ErrNoRows {
		return resp, nil // Not initialized yet
	}
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// GetWalletBalance returns a user's base-asset wallet balance.
func (qs *QueryService) GetWalletBalance(
	ctx context.Context,
	userID uuid.UUID,
) (*WalletBalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	walletPath := fmt.Sprintf("user:%s:wallet:LQT", userID)

	var balance int64
	err = qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(balance, 0) FROM projections.balances
		WHERE account_path = $1
	`, walletPath).Scan(&balance)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	return &WalletBalanceResponse{
		UserID:       userID,
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetRewardHistory returns recorded profits, claims, and prize payouts.
// Supports cursor-based pagination on sequence.
func (qs *QueryService) GetRewardHistory(
	ctx context.Context,
	account *string,
	kind *string,
	limit int,
	beforeSequence *int64,
) ([]RewardHistoryResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT sequence, kind, account, amount, occurred_at
		FROM projections.reward_history
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if account != nil {
		query += fmt.Sprintf(" AND account = $%d", argIdx)
		args = append(args, *account)
		argIdx++
	}

	if kind != nil {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, *kind)
		argIdx++
	}

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []RewardHistoryResponse
	for rows.Next() {
		var h RewardHistoryResponse
		var occurredAt time.Time
		h.AsOfSequence = asOfSeq
		if err := rows.Scan(&h.Sequence, &h.Kind, &h.Account, &h.Amount, &occurredAt); err != nil {
			return nil, err
		}
		h.OccurredAt = occurredAt.UTC().Format(time.RFC3339)
		history = append(history, h)
	}

	return history, rows.Err()
}

// GetJournalHistory returns journal entries touching a user's accounts,
// newest first, with cursor pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, operation_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM reserve_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.OperationRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// ListOperations returns logged operations, newest first.
func (qs *QueryService) ListOperations(
	ctx context.Context,
	opType *string,
	limit int,
	beforeSequence *int64,
) ([]OperationResponse, error) {
	query := `
		SELECT sequence, op_type, idempotency_key, caller, partition,
		       source_sequence, state_hash, prev_hash, timestamp
		FROM reserve_log.operations
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if opType != nil {
		query += fmt.Sprintf(" AND op_type = $%d", argIdx)
		args = append(args, *opType)
		argIdx++
	}

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []OperationResponse
	for rows.Next() {
		var o OperationResponse
		var stateHash, prevHash []byte
		var ts time.Time
		if err := rows.Scan(
			&o.Sequence, &o.OpType, &o.IdempotencyKey, &o.Caller, &o.Partition,
			&o.SourceSequence, &stateHash, &prevHash, &ts,
		); err != nil {
			return nil, err
		}
		o.StateHash = hex.EncodeToString(stateHash)
		o.PrevHash = hex.EncodeToString(prevHash)
		o.Timestamp = ts.UTC().Format(time.RFC3339Nano)
		ops = append(ops, o)
	}

	return ops, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and the global zero-sum
// balance invariant against the persisted log and projections.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT o1.sequence
		FROM reserve_log.operations o1
		JOIN reserve_log.operations o2 ON o2.sequence = o1.sequence - 1
		WHERE o1.prev_hash != o2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Check global balance (should sum to zero across all accounts per asset)
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance) AS total
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var assetID uint16
		var total int64
		if err := balanceRows.Scan(&assetID, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			AssetID:   assetID,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}
