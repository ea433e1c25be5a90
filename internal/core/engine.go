package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"ReserveLedger/internal/event"
	"ReserveLedger/internal/ledger"
	"ReserveLedger/internal/observability"
	"ReserveLedger/internal/reserve"
)

// ReserveCore is the serialized operation processor. HTTP handlers and
// the NATS ingestion loop both call ProcessOperation; a mutex serializes
// them so sequence assignment and the hash chain stay deterministic.
type ReserveCore struct {
	mu sync.Mutex

	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	validator         *ledger.InvariantValidator
	engine            *reserve.Engine
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is emitted once per applied operation.
type CoreOutput struct {
	Envelope    *event.Envelope
	Batch       *ledger.Batch
	Result      *reserve.Result
	Participant *reserve.Participant
	Status      ReserveStatus
}

// ReserveStatus is a post-operation summary of the reserve for
// projections and outbound events.
type ReserveStatus struct {
	VaultBalance        int64
	ShareSupply         int64
	TotalDividendShares string
	RewardAccumulator   string
	Initialized         bool
}

// OpResult is returned to the synchronous caller.
type OpResult struct {
	Sequence     int64
	Duplicate    bool
	SharesIssued uint64
	AmountPaid   uint64
	NetShares    uint64
}

func NewReserveCore(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *ReserveCore {
	balanceTracker := ledger.NewBalanceTracker()

	return &ReserveCore{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		validator:         ledger.NewInvariantValidator(balanceTracker),
		engine:            reserve.NewEngine(balanceTracker),
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessOperation is the main processing pipeline
func (c *ReserveCore) ProcessOperation(op event.Operation) (*OpResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	opType := op.OpType().String()
	idempotencyKey := op.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := c.idempotency.IsDuplicate(opType, idempotencyKey)

	// Step 2: Sequence validation. Only feed operations carry a source
	// partition; API operations have no ordering contract.
	if partition := op.Partition(); partition != nil {
		key := fmt.Sprintf("game:%s", *partition)
		if err := c.sequenceValidator.ValidateSequence(key, op.SourceSequence(), idempotencyKey, isDuplicate); err != nil {
			if c.metrics != nil {
				c.metrics.CoreOpsRejected.WithLabelValues(opType, "sequence").Inc()
			}
			return nil, fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	// If duplicate, skip processing
	if isDuplicate {
		if c.metrics != nil {
			c.metrics.CoreOpsRejected.WithLabelValues(opType, "duplicate").Inc()
		}
		return &OpResult{Sequence: c.sequence, Duplicate: true}, nil
	}

	// Step 3: Dispatch. The engine validates and commits; an error means
	// no state changed.
	result, batch, err := c.dispatchOperation(op)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CoreOpsRejected.WithLabelValues(opType, "validation").Inc()
		}
		return nil, err
	}

	// Step 4: Validate and apply the journal batch. State-only operations
	// (Initialize, JoinDividendPool, ApproveGame, no-op claims) produce
	// no batch but still get an envelope in the operation log.
	if batch != nil {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
		if err := c.balanceTracker.ApplyBatch(batch); err != nil {
			return nil, fmt.Errorf("apply batch failed: %w", err)
		}
		if c.metrics != nil {
			for _, j := range batch.Journals {
				c.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
	}

	// Step 5: Compute state digest and extend the hash chain
	stateDigest := c.computeStateDigest(batch, result.Participant)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)

	// Step 6: Envelope. Payload is the canonical JSON form of the
	// operation, replayed through ParseStoredOperation on recovery.
	payload, err := json.Marshal(op)
	if err != nil {
		panic(fmt.Sprintf("FATAL: operation not serializable: %v", err))
	}

	envelope := &event.Envelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		OpType:         op.OpType(),
		Caller:         op.Caller(),
		Partition:      op.Partition(),
		Timestamp:      op.OccurredAt(),
		SourceSequence: op.SourceSequence(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:    envelope,
		Batch:       batch,
		Result:      result,
		Participant: result.Participant,
		Status:      c.reserveStatus(),
	}

	sequence := c.sequence
	c.sequence++

	// Step 7: Post-checks
	if err := c.postCheckInvariants(op); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 8: Emit outputs.
	// Persistence: blocking send, the core stalls until the persistence
	// worker drains. This guarantees no operation is lost.
	c.persistChan <- output

	// Projections: non-blocking send, drop on full. Projection workers
	// rebuild from the operation log if they fall behind.
	select {
	case c.projectionChan <- output:
	default:
		if c.metrics != nil {
			c.metrics.ProjectionDrops.WithLabelValues("core").Inc()
		}
	}

	// Step 9: Mark as processed (add to LRU)
	c.idempotency.MarkProcessed(opType, idempotencyKey)

	// Record metrics
	if c.metrics != nil {
		c.metrics.CoreOpsApplied.WithLabelValues(opType).Inc()
		c.metrics.CoreOpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
		c.metrics.CoreSequence.Set(float64(c.sequence))
		c.metrics.VaultBalance.Set(float64(c.balanceTracker.VaultBalance()))
		c.metrics.ShareSupply.Set(float64(c.balanceTracker.ShareSupply()))
	}

	opResult := &OpResult{Sequence: sequence}
	if result != nil {
		opResult.SharesIssued = result.SharesIssued
		opResult.AmountPaid = result.AmountPaid
		opResult.NetShares = result.NetShares
	}
	return opResult, nil
}

func (c *ReserveCore) dispatchOperation(op event.Operation) (*reserve.Result, *ledger.Batch, error) {
	switch o := op.(type) {
	case *event.Initialize:
		return c.engine.Initialize(o)
	case *event.ApproveGame:
		return c.engine.ApproveGame(o)
	case *event.Stake:
		return c.engine.Stake(o, c.sequence)
	case *event.Unstake:
		return c.engine.Unstake(o, c.sequence)
	case *event.JoinDividendPool:
		return c.engine.JoinDividendPool(o)
	case *event.LeaveDividendPool:
		return c.engine.LeaveDividendPool(o, c.sequence)
	case *event.RecordProfit:
		return c.engine.RecordProfit(o, c.sequence)
	case *event.ClaimRewards:
		return c.engine.ClaimRewards(o, c.sequence)
	case *event.SendPrize:
		return c.engine.SendPrize(o, c.sequence)
	case *event.Deposit:
		return c.engine.Deposit(o, c.sequence)
	case *event.Withdraw:
		return c.engine.Withdraw(o, c.sequence)
	default:
		return nil, nil, fmt.Errorf("unknown operation type: %T", op)
	}
}

// computeStateDigest creates canonical bytes for the state hash: affected
// account balances sorted by path, the reserve state, and the affected
// participant.
func (c *ReserveCore) computeStateDigest(batch *ledger.Batch, participant *reserve.Participant) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	// Sort by AccountPath (deterministic string ordering)
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+256)

	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)

		// Balance (8 bytes LE)
		digest = appendInt64LE(digest, balance)
	}

	digest = append(digest, c.engine.State().DigestBytes()...)

	if participant != nil {
		digest = append(digest, participant.DigestBytes()...)
	}

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates invariants after batch application
func (c *ReserveCore) postCheckInvariants(op event.Operation) error {
	if err := c.validator.ValidateVaultNonNegative(); err != nil {
		return fmt.Errorf("post-check vault: %w", err)
	}
	if err := c.validator.ValidateShareSupplyNonNegative(); err != nil {
		return fmt.Errorf("post-check supply: %w", err)
	}

	switch o := op.(type) {
	case *event.Stake:
		if err := c.validator.ValidateUserNonNegative(o.UserID); err != nil {
			return fmt.Errorf("post-check user: %w", err)
		}
	case *event.Unstake:
		if err := c.validator.ValidateUserNonNegative(o.UserID); err != nil {
			return fmt.Errorf("post-check user: %w", err)
		}
	case *event.Withdraw:
		if err := c.validator.ValidateUserNonNegative(o.UserID); err != nil {
			return fmt.Errorf("post-check user: %w", err)
		}
	}

	// Periodic global checks: ledger zero-sum per asset, and participant
	// share totals equal to the outstanding supply
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("post-check global (at seq %d): %w", c.sequence, err)
		}

		supply := c.balanceTracker.ShareSupply()
		total := c.engine.Participants().TotalShares()
		if !total.Equal(sdkmath.NewInt(supply)) {
			return fmt.Errorf("post-check conservation: participant shares %s != supply %d (at seq %d)",
				total, supply, c.sequence)
		}
	}

	return nil
}

func (c *ReserveCore) reserveStatus() ReserveStatus {
	state := c.engine.State()
	return ReserveStatus{
		VaultBalance:        c.balanceTracker.VaultBalance(),
		ShareSupply:         c.balanceTracker.ShareSupply(),
		TotalDividendShares: state.TotalDividendShares.String(),
		RewardAccumulator:   state.RewardAccumulator.String(),
		Initialized:         state.Initialized,
	}
}

// BankrollHealth is a point-in-time view of the vault against its
// configured operating band. Used by the periodic health check.
type BankrollHealth struct {
	VaultBalance   int64
	LowerThreshold uint64
	UpperThreshold uint64
	Initialized    bool
}

// GetBankrollHealth returns the current vault balance and thresholds.
func (c *ReserveCore) GetBankrollHealth() BankrollHealth {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := c.engine.State()
	return BankrollHealth{
		VaultBalance:   c.balanceTracker.VaultBalance(),
		LowerThreshold: state.LowerThreshold,
		UpperThreshold: state.UpperThreshold,
		Initialized:    state.Initialized,
	}
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.AccountKey]int64
	Reserve         *reserve.State
	Participants    []*reserve.Participant
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the core's in-memory state from a
// snapshot. On warm restart, load the latest snapshot then replay
// operations past its sequence.
func (c *ReserveCore) RestoreFromSnapshot(snap *SnapshotState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Next sequence to assign
	c.sequence = snap.Sequence + 1

	c.hasher.SetPrevHash(snap.StateHash)

	for key, balance := range snap.Balances {
		c.balanceTracker.SetBalance(key, balance)
	}

	c.engine.RestoreState(snap.Reserve, snap.Participants)

	for partition, nextSeq := range snap.SequenceState {
		c.sequenceValidator.RestorePartition(partition, nextSeq)
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache to avoid
// cold-path DB lookups for recently processed operations.
func (c *ReserveCore) WarmLRU(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the next sequence number to assign.
func (c *ReserveCore) GetSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *ReserveCore) GetStateHash() [32]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasher.GetPrevHash()
}

// CreateSnapshotState captures the current in-memory state for
// persistence. Reserve state and participants are deep-copied so the
// snapshot stays stable while the core keeps processing.
func (c *ReserveCore) CreateSnapshotState() *SnapshotState {
	c.mu.Lock()
	defer c.mu.Unlock()

	all := c.engine.Participants().All()
	participants := make([]*reserve.Participant, len(all))
	for i, p := range all {
		participants[i] = p.Clone()
	}

	return &SnapshotState{
		Sequence:        c.sequence - 1, // Last processed sequence
		StateHash:       c.hasher.GetPrevHash(),
		Balances:        c.balanceTracker.Snapshot(),
		Reserve:         c.engine.State().Clone(),
		Participants:    participants,
		SequenceState:   c.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: c.idempotency.lru.GetAllKeys(),
	}
}
