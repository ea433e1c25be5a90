package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence       int64
	OpType         string
	Timestamp      int64
	JournalEntries []JournalEntry
	Participant    *ParticipantRow
	Reserve        *ReserveRow
	Reward         *RewardRow
}

// JournalEntry is a simplified journal for projection consumption.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	AssetID       uint16
	Amount        int64
	JournalType   string
}

// ParticipantRow upserts projections.participants.
type ParticipantRow struct {
	Owner          string
	StakedShares   int64
	DividendShares int64
	RewardDebt     string
	PendingRewards string
}

// ReserveRow upserts the projections.reserve_status singleton.
type ReserveRow struct {
	VaultBalance        int64
	ShareSupply         int64
	TotalDividendShares string
	RewardAccumulator   string
	Initialized         bool
}

// RewardRow inserts into projections.reward_history (profits recorded,
// rewards claimed, prizes paid).
type RewardRow struct {
	Kind    string // "profit", "claim", "prize"
	Account string
	Amount  int64
}

// Worker updates projection tables from processed operations. The
// projection channel is non-blocking with drop; if projections fall
// behind they can be rebuilt from the operation log.
type Worker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
}

func NewWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *Worker {
	return &Worker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue: projections are eventually consistent and
				// can be rebuilt from the operation log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *Worker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.JournalEntries {
		if err := pw.updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if output.Participant != nil {
		if err := pw.upsertParticipant(ctx, tx, output.Participant, output.Sequence); err != nil {
			return fmt.Errorf("participant projection: %w", err)
		}
	}

	if output.Reserve != nil {
		if err := pw.upsertReserveStatus(ctx, tx, output.Reserve, output.Sequence); err != nil {
			return fmt.Errorf("reserve projection: %w", err)
		}
	}

	if output.Reward != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.reward_history (sequence, kind, account, amount, occurred_at)
			VALUES ($1, $2, $3, $4, to_timestamp($5::double precision / 1000000))
			ON CONFLICT (sequence) DO NOTHING
		`, output.Sequence, output.Reward.Kind, output.Reward.Account, output.Reward.Amount, output.Timestamp); err != nil {
			return fmt.Errorf("reward history: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// updateBalanceProjection applies one journal: debit increases, credit
// decreases, matching the in-memory tracker.
func (pw *Worker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3, last_sequence = $4
	`, j.DebitAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3, last_sequence = $4
	`, j.CreditAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func (pw *Worker) upsertParticipant(ctx context.Context, tx *sql.Tx, p *ParticipantRow, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.participants
			(owner, staked_shares, dividend_shares, reward_debt, pending_rewards, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (owner) DO UPDATE SET
			staked_shares = $2, dividend_shares = $3,
			reward_debt = $4, pending_rewards = $5, last_sequence = $6
	`, p.Owner, p.StakedShares, p.DividendShares, p.RewardDebt, p.PendingRewards, seq)
	return err
}

func (pw *Worker) upsertReserveStatus(ctx context.Context, tx *sql.Tx, r *ReserveRow, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.reserve_status
			(id, vault_balance, share_supply, total_dividend_shares, reward_accumulator, initialized, last_sequence)
		VALUES (1, $1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			vault_balance = $1, share_supply = $2, total_dividend_shares = $3,
			reward_accumulator = $4, initialized = $5, last_sequence = $6
	`, r.VaultBalance, r.ShareSupply, r.TotalDividendShares, r.RewardAccumulator, r.Initialized, seq)
	return err
}

// RebuildProjections rebuilds projection tables from the operation log.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.participants`,
		`TRUNCATE projections.reserve_status`,
		`TRUNCATE projections.reward_history`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Rebuild balances from journal entries: debits add
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset_id,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM reserve_log.journal
		GROUP BY debit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	// Credits subtract
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset_id,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM reserve_log.journal
		GROUP BY credit_account, asset_id
		ON CONFLICT (account_path, asset_id) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
