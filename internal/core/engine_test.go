package core_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"ReserveLedger/internal/core"
	"ReserveLedger/internal/event"
	"ReserveLedger/internal/ledger"
)

// --- Test helpers ---

// newTestCore creates a ReserveCore with buffered channels and no DB checker.
func newTestCore() (*core.ReserveCore, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	c := core.NewReserveCore(0, persistChan, projChan, nil, nil)
	return c, persistChan, projChan
}

var testAuthority = uuid.MustParse("aaaaaaaa-0000-0000-0000-00000000000a")

func mustInitialize(stakeFeeBps, unstakeFeeBps uint16) *event.Initialize {
	return &event.Initialize{
		OperationID:    uuid.New(),
		Authority:      testAuthority,
		StakeFeeBps:    stakeFeeBps,
		UnstakeFeeBps:  unstakeFeeBps,
		UpperThreshold: 10_000_000,
		Timestamp:      time.UnixMicro(1_000_000),
	}
}

func mustDeposit(userID uuid.UUID, amount uint64) *event.Deposit {
	return &event.Deposit{
		OperationID: uuid.New(),
		UserID:      userID,
		Amount:      amount,
		Timestamp:   time.UnixMicro(1_000_000),
	}
}

func mustStake(userID uuid.UUID, amount uint64) *event.Stake {
	return &event.Stake{
		OperationID: uuid.New(),
		UserID:      userID,
		Amount:      amount,
		Timestamp:   time.UnixMicro(1_000_000),
	}
}

func mustUnstake(userID uuid.UUID, shares uint64) *event.Unstake {
	return &event.Unstake{
		OperationID: uuid.New(),
		UserID:      userID,
		Shares:      shares,
		Timestamp:   time.UnixMicro(1_000_000),
	}
}

func mustJoinPool(userID uuid.UUID, shares uint64) *event.JoinDividendPool {
	return &event.JoinDividendPool{
		OperationID: uuid.New(),
		UserID:      userID,
		Shares:      shares,
		Timestamp:   time.UnixMicro(1_000_000),
	}
}

func mustRecordProfit(amount uint64, source string, seq int64) *event.RecordProfit {
	return &event.RecordProfit{
		OperationID: uuid.New(),
		CallerID:    testAuthority,
		Amount:      amount,
		Source:      &source,
		Sequence:    seq,
		Timestamp:   time.UnixMicro(2_000_000 + seq*1000),
	}
}

func mustClaim(userID uuid.UUID) *event.ClaimRewards {
	return &event.ClaimRewards{
		OperationID: uuid.New(),
		UserID:      userID,
		Timestamp:   time.UnixMicro(1_000_000),
	}
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

// setupFundedStaker initializes the core and funds + stakes for one user.
func setupFundedStaker(t *testing.T, c *core.ReserveCore, persistCh chan core.CoreOutput, userID uuid.UUID, amount uint64) {
	t.Helper()
	for _, op := range []event.Operation{
		mustInitialize(0, 0),
		mustDeposit(userID, amount),
		mustStake(userID, amount),
	} {
		if _, err := c.ProcessOperation(op); err != nil {
			t.Fatalf("setup op %s failed: %v", op.OpType(), err)
		}
	}
	drainOutputs(persistCh)
}

// ============================================================================
// Test: Stake Flow
// ============================================================================

func TestStake_EmitsJournalsAndShares(t *testing.T) {
	c, persistCh, _ := newTestCore()
	userID := uuid.New()

	if _, err := c.ProcessOperation(mustInitialize(300, 300)); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if _, err := c.ProcessOperation(mustDeposit(userID, 1000)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	drainOutputs(persistCh)

	res, err := c.ProcessOperation(mustStake(userID, 1000))
	if err != nil {
		t.Fatalf("stake failed: %v", err)
	}
	if res.SharesIssued != 970 {
		t.Errorf("expected 970 shares, got %d", res.SharesIssued)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}

	// Stake batch: vault funding + share mint
	batch := outputs[0].Batch
	if len(batch.Journals) != 2 {
		t.Fatalf("expected 2 journals, got %d", len(batch.Journals))
	}

	hasDeposit := false
	hasMint := false
	for _, j := range batch.Journals {
		switch j.JournalType {
		case ledger.JournalTypeStakeDeposit:
			hasDeposit = true
			if j.Amount != 1000 {
				t.Errorf("expected stake deposit 1000, got %d", j.Amount)
			}
		case ledger.JournalTypeShareMint:
			hasMint = true
			if j.Amount != 970 {
				t.Errorf("expected mint 970, got %d", j.Amount)
			}
		}
	}
	if !hasDeposit {
		t.Error("expected a StakeDeposit journal entry")
	}
	if !hasMint {
		t.Error("expected a ShareMint journal entry")
	}
}

func TestStake_BeforeInitialize_Fails(t *testing.T) {
	c, _, _ := newTestCore()
	userID := uuid.New()

	_, err := c.ProcessOperation(mustStake(userID, 1000))
	if err == nil {
		t.Fatal("expected error before initialize, got nil")
	}
}

func TestUnstake_PaysNetOfFee(t *testing.T) {
	c, persistCh, _ := newTestCore()
	userID := uuid.New()

	if _, err := c.ProcessOperation(mustInitialize(300, 300)); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if _, err := c.ProcessOperation(mustDeposit(userID, 1000)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if _, err := c.ProcessOperation(mustStake(userID, 1000)); err != nil {
		t.Fatalf("stake failed: %v", err)
	}
	drainOutputs(persistCh)

	// Full-supply unstake redeems the full vault: gross 1000, fee 30
	res, err := c.ProcessOperation(mustUnstake(userID, 970))
	if err != nil {
		t.Fatalf("unstake failed: %v", err)
	}
	if res.AmountPaid != 970 {
		t.Errorf("expected 970 paid, got %d", res.AmountPaid)
	}

	outputs := drainOutputs(persistCh)
	if outputs[0].Status.ShareSupply != 0 {
		t.Errorf("expected zero supply after full unstake, got %d", outputs[0].Status.ShareSupply)
	}
	if outputs[0].Status.VaultBalance != 30 {
		t.Errorf("expected vault 30 (retained unstake fee), got %d", outputs[0].Status.VaultBalance)
	}
}

// ============================================================================
// Test: Reward Flow
// ============================================================================

func TestRecordProfitAndClaim(t *testing.T) {
	c, persistCh, _ := newTestCore()
	userID := uuid.New()

	setupFundedStaker(t, c, persistCh, userID, 500)

	if _, err := c.ProcessOperation(mustJoinPool(userID, 500)); err != nil {
		t.Fatalf("join pool failed: %v", err)
	}
	if _, err := c.ProcessOperation(mustDeposit(testAuthority, 1000)); err != nil {
		t.Fatalf("authority deposit failed: %v", err)
	}
	if _, err := c.ProcessOperation(mustRecordProfit(1000, "dice", 0)); err != nil {
		t.Fatalf("record profit failed: %v", err)
	}
	drainOutputs(persistCh)

	res, err := c.ProcessOperation(mustClaim(userID))
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if res.AmountPaid != 1000 {
		t.Errorf("expected claim 1000, got %d", res.AmountPaid)
	}

	outputs := drainOutputs(persistCh)
	j := outputs[0].Batch.Journals[0]
	if j.JournalType != ledger.JournalTypeRewardPayout {
		t.Errorf("expected RewardPayout journal, got %v", j.JournalType)
	}
}

func TestClaimWithNothingPending_EmitsEnvelopeWithoutBatch(t *testing.T) {
	c, persistCh, _ := newTestCore()
	userID := uuid.New()

	setupFundedStaker(t, c, persistCh, userID, 500)

	res, err := c.ProcessOperation(mustClaim(userID))
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if res.AmountPaid != 0 {
		t.Errorf("expected zero payout, got %d", res.AmountPaid)
	}

	outputs := drainOutputs(persistCh)
	if len(outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(outputs))
	}
	if outputs[0].Batch != nil {
		t.Error("no-op claim should not produce a batch")
	}
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestIdempotency_DuplicateStake_Ignored(t *testing.T) {
	c, persistCh, _ := newTestCore()
	userID := uuid.New()

	if _, err := c.ProcessOperation(mustInitialize(0, 0)); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if _, err := c.ProcessOperation(mustDeposit(userID, 1000)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	drainOutputs(persistCh)

	stake := mustStake(userID, 1000)

	if _, err := c.ProcessOperation(stake); err != nil {
		t.Fatalf("first stake failed: %v", err)
	}
	outputs1 := drainOutputs(persistCh)
	if len(outputs1) != 1 {
		t.Fatalf("expected 1 output on first process, got %d", len(outputs1))
	}

	// Same operation again: silently ignored, no second mint
	res, err := c.ProcessOperation(stake)
	if err != nil {
		t.Fatalf("duplicate stake should not error: %v", err)
	}
	if !res.Duplicate {
		t.Error("expected Duplicate flag on replayed operation")
	}

	outputs2 := drainOutputs(persistCh)
	if len(outputs2) != 0 {
		t.Errorf("expected 0 outputs for duplicate, got %d", len(outputs2))
	}
}

// ============================================================================
// Test: Feed Sequence Validation
// ============================================================================

func TestFeedSequence_GapDetected(t *testing.T) {
	c, persistCh, _ := newTestCore()
	userID := uuid.New()

	setupFundedStaker(t, c, persistCh, userID, 500)
	if _, err := c.ProcessOperation(mustJoinPool(userID, 500)); err != nil {
		t.Fatalf("join pool failed: %v", err)
	}
	if _, err := c.ProcessOperation(mustDeposit(testAuthority, 10_000)); err != nil {
		t.Fatalf("authority deposit failed: %v", err)
	}
	drainOutputs(persistCh)

	if _, err := c.ProcessOperation(mustRecordProfit(100, "dice", 0)); err != nil {
		t.Fatalf("profit seq 0 failed: %v", err)
	}
	drainOutputs(persistCh)

	// Skip seq 1, send seq 2: gap must be detected
	_, err := c.ProcessOperation(mustRecordProfit(100, "dice", 2))
	if err == nil {
		t.Fatal("expected sequence gap error, got nil")
	}
}

func TestFeedSequence_IndependentPerGame(t *testing.T) {
	c, persistCh, _ := newTestCore()
	userID := uuid.New()

	setupFundedStaker(t, c, persistCh, userID, 500)
	if _, err := c.ProcessOperation(mustJoinPool(userID, 500)); err != nil {
		t.Fatalf("join pool failed: %v", err)
	}
	if _, err := c.ProcessOperation(mustDeposit(testAuthority, 10_000)); err != nil {
		t.Fatalf("authority deposit failed: %v", err)
	}
	drainOutputs(persistCh)

	// Two games interleave; each keeps its own cursor
	for i, op := range []event.Operation{
		mustRecordProfit(100, "dice", 0),
		mustRecordProfit(100, "roulette", 0),
		mustRecordProfit(100, "dice", 1),
		mustRecordProfit(100, "roulette", 1),
	} {
		if _, err := c.ProcessOperation(op); err != nil {
			t.Fatalf("interleaved profit %d failed: %v", i, err)
		}
	}
}

func TestAPIOperations_SkipSequenceValidation(t *testing.T) {
	c, persistCh, _ := newTestCore()
	userID := uuid.New()

	// API operations carry no partition; any arrival order is accepted
	setupFundedStaker(t, c, persistCh, userID, 1000)

	for i := 0; i < 5; i++ {
		if _, err := c.ProcessOperation(mustDeposit(userID, 10)); err != nil {
			t.Fatalf("deposit %d failed: %v", i, err)
		}
	}
}

// ============================================================================
// Test: State Hash Chain
// ============================================================================

func TestStateHashChain_Deterministic(t *testing.T) {
	// Process the same operations twice: hashes must be identical
	userID := uuid.New()
	initOp := mustInitialize(300, 300)
	depositOp := mustDeposit(userID, 1000)
	stakeOp := mustStake(userID, 1000)

	processAll := func() [][32]byte {
		c, persistCh, _ := newTestCore()
		for _, op := range []event.Operation{initOp, depositOp, stakeOp} {
			if _, err := c.ProcessOperation(op); err != nil {
				t.Fatalf("ProcessOperation failed: %v", err)
			}
		}

		outputs := drainOutputs(persistCh)
		hashes := make([][32]byte, len(outputs))
		for i, o := range outputs {
			copy(hashes[i][:], o.Envelope.StateHash[:])
		}
		return hashes
	}

	hashes1 := processAll()
	hashes2 := processAll()

	if len(hashes1) != len(hashes2) {
		t.Fatalf("different number of outputs: %d vs %d", len(hashes1), len(hashes2))
	}
	for i := range hashes1 {
		if hashes1[i] != hashes2[i] {
			t.Errorf("hash %d differs: %x vs %x", i, hashes1[i], hashes2[i])
		}
	}
}

func TestStateHashChain_Linked(t *testing.T) {
	c, persistCh, _ := newTestCore()
	userID := uuid.New()

	for _, op := range []event.Operation{
		mustInitialize(0, 0),
		mustDeposit(userID, 1000),
		mustStake(userID, 1000),
	} {
		if _, err := c.ProcessOperation(op); err != nil {
			t.Fatalf("ProcessOperation failed: %v", err)
		}
	}

	outputs := drainOutputs(persistCh)
	for i := 1; i < len(outputs); i++ {
		if outputs[i].Envelope.PrevHash != outputs[i-1].Envelope.StateHash {
			t.Errorf("output %d: prev_hash does not match previous state_hash", i)
		}
	}
}

// ============================================================================
// Test: Snapshot / Restore
// ============================================================================

func TestSnapshotRestore_PreservesStateAndChain(t *testing.T) {
	c, persistCh, _ := newTestCore()
	userID := uuid.New()

	setupFundedStaker(t, c, persistCh, userID, 1000)
	if _, err := c.ProcessOperation(mustJoinPool(userID, 400)); err != nil {
		t.Fatalf("join pool failed: %v", err)
	}
	drainOutputs(persistCh)

	snap := c.CreateSnapshotState()

	// Restore into a fresh core
	persistCh2 := make(chan core.CoreOutput, 1024)
	projCh2 := make(chan core.CoreOutput, 1024)
	c2 := core.NewReserveCore(0, persistCh2, projCh2, nil, nil)
	c2.RestoreFromSnapshot(snap)
	c2.WarmLRU(snap.IdempotencyKeys)

	if got, want := c2.GetSequence(), c.GetSequence(); got != want {
		t.Errorf("restored sequence = %d, want %d", got, want)
	}
	if c2.GetStateHash() != c.GetStateHash() {
		t.Error("restored state hash differs from original")
	}

	// The restored core continues the chain identically
	unstake := mustUnstake(userID, 100)
	res1, err := c.ProcessOperation(unstake)
	if err != nil {
		t.Fatalf("unstake on original failed: %v", err)
	}
	res2, err := c2.ProcessOperation(unstake)
	if err != nil {
		t.Fatalf("unstake on restored failed: %v", err)
	}
	if res1.AmountPaid != res2.AmountPaid {
		t.Errorf("divergent payouts: %d vs %d", res1.AmountPaid, res2.AmountPaid)
	}

	out1 := drainOutputs(persistCh)
	out2 := drainOutputs(persistCh2)
	if out1[0].Envelope.StateHash != out2[0].Envelope.StateHash {
		t.Error("restored core produced a different state hash")
	}
}

// ============================================================================
// Test: Projection Channel (non-blocking drop)
// ============================================================================

func TestProjectionChannel_DropsOnFull(t *testing.T) {
	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1) // Tiny buffer, fills up
	c := core.NewReserveCore(0, persistCh, projCh, nil, nil)

	userID := uuid.New()

	if _, err := c.ProcessOperation(mustInitialize(0, 0)); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := c.ProcessOperation(mustDeposit(userID, 100)); err != nil {
			t.Fatalf("deposit %d failed: %v", i, err)
		}
	}

	// All operations succeed; projection drops are silent
	persistOutputs := drainOutputs(persistCh)
	if len(persistOutputs) != 6 {
		t.Errorf("expected 6 persist outputs, got %d", len(persistOutputs))
	}
}

// ============================================================================
// Test: Envelope Integrity
// ============================================================================

func TestEnvelope_HasCorrectFields(t *testing.T) {
	c, persistCh, _ := newTestCore()

	initOp := mustInitialize(300, 300)
	if _, err := c.ProcessOperation(initOp); err != nil {
		t.Fatalf("ProcessOperation failed: %v", err)
	}

	outputs := drainOutputs(persistCh)
	env := outputs[0].Envelope

	if env.Sequence != 0 {
		t.Errorf("expected sequence 0, got %d", env.Sequence)
	}
	if env.IdempotencyKey != initOp.IdempotencyKey() {
		t.Errorf("idempotency key mismatch: %s vs %s", env.IdempotencyKey, initOp.IdempotencyKey())
	}
	if env.OpType != event.OpTypeInitialize {
		t.Errorf("op type mismatch: %v vs %v", env.OpType, event.OpTypeInitialize)
	}
	if env.Partition != nil {
		t.Errorf("expected nil partition for API operation, got %v", *env.Partition)
	}
	if len(env.Payload) == 0 {
		t.Error("payload should not be empty")
	}
}
