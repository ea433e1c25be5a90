package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for
// recovery. Snapshots contain balances, reserve state, participants,
// the idempotency LRU keys, sequence cursors, and the last state hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
type SnapshotData struct {
	Sequence        int64                 `json:"sequence"`
	StateHash       []byte                `json:"state_hash"`
	Balances        map[string]int64      `json:"balances"` // AccountPath -> balance
	Reserve         ReserveSnapshot       `json:"reserve"`
	Participants    []ParticipantSnapshot `json:"participants"`
	SequenceState   map[string]int64      `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string              `json:"idempotency_keys"` // Recent keys for LRU warming
	CreatedAt       time.Time             `json:"created_at"`
}

// ReserveSnapshot is the serializable reserve singleton. Big integers
// travel as decimal strings.
type ReserveSnapshot struct {
	Authority           string   `json:"authority"`
	StakeFeeBps         uint16   `json:"stake_fee_bps"`
	UnstakeFeeBps       uint16   `json:"unstake_fee_bps"`
	LowerThreshold      uint64   `json:"lower_threshold"`
	UpperThreshold      uint64   `json:"upper_threshold"`
	RewardAccumulator   string   `json:"reward_accumulator"`
	TotalDividendShares string   `json:"total_dividend_shares"`
	ApprovedGames       []string `json:"approved_games"`
	Initialized         bool     `json:"initialized"`
}

// ParticipantSnapshot is a serializable participant ledger.
type ParticipantSnapshot struct {
	Owner          string `json:"owner"`
	StakedShares   uint64 `json:"staked_shares"`
	DividendShares uint64 `json:"dividend_shares"`
	RewardDebt     string `json:"reward_debt"`
	PendingRewards string `json:"pending_rewards"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and verified against the operation log before use.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO reserve_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. On warm
// restart, load the latest snapshot then replay operations from
// snapshot.sequence+1.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM reserve_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot: cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE reserve_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadOperationsFrom loads operations from a given sequence for replay.
// Used for warm restart (replay past the snapshot) and cold restart
// (replay everything).
func (sm *SnapshotManager) LoadOperationsFrom(ctx context.Context, fromSequence int64, limit int) ([]OperationRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, op_type, idempotency_key, caller, partition, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM reserve_log.operations
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []OperationRow
	for rows.Next() {
		var o OperationRow
		if err := rows.Scan(
			&o.Sequence, &o.OpType, &o.IdempotencyKey, &o.Caller, &o.Partition,
			&o.Payload, &o.StateHash, &o.PrevHash, &o.Timestamp, &o.SourceSequence,
		); err != nil {
			return nil, err
		}
		ops = append(ops, o)
	}

	return ops, rows.Err()
}

// GetLatestSequence returns the highest sequence in the operation log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM reserve_log.operations
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty operation log
	}
	return seq.Int64, nil
}
