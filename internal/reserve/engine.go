package reserve

import (
	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"ReserveLedger/internal/event"
	"ReserveLedger/internal/ledger"
	fpmath "ReserveLedger/internal/math"
)

// BalanceView is the read-side of the ledger the engine prices against.
// All balances are non-negative by ledger invariant.
type BalanceView interface {
	VaultBalance() int64
	ShareSupply() int64
	WalletBalance(userID uuid.UUID) int64
}

// Result carries the operation outcome back to the caller.
type Result struct {
	// SharesIssued is set by Stake.
	SharesIssued uint64

	// AmountPaid is set by Unstake, ClaimRewards, and SendPrize.
	AmountPaid uint64

	// NetShares is set by LeaveDividendPool (shares returned after the
	// exit-fee burn).
	NetShares uint64

	// Participant is a post-operation copy of the affected participant,
	// nil when the operation touches none.
	Participant *Participant
}

// Engine applies reserve operations. Each operation validates, computes
// into locals, builds its journal batch, and only then assigns state:
// a returned error means nothing changed.
//
// Share conversion reads the vault balance and share supply BEFORE the
// batch is applied, so the engine must run before the tracker.
type Engine struct {
	state        *State
	participants *ParticipantSet
	journals     *ledger.JournalGenerator
	balances     BalanceView
}

func NewEngine(balances BalanceView) *Engine {
	return &Engine{
		state:        NewState(),
		participants: NewParticipantSet(),
		journals:     ledger.NewJournalGenerator(),
		balances:     balances,
	}
}

func (e *Engine) State() *State {
	return e.state
}

func (e *Engine) Participants() *ParticipantSet {
	return e.participants
}

// RestoreState replaces engine state during snapshot recovery.
func (e *Engine) RestoreState(state *State, participants []*Participant) {
	e.state = state
	e.participants = NewParticipantSet()
	for _, p := range participants {
		e.participants.Restore(p)
	}
}

func (e *Engine) requireInitialized() error {
	if !e.state.Initialized {
		return ErrNotInitialized
	}
	return nil
}

// pendingDelta computes the unsettled rewards for a participant without
// mutating anything. Zero dividend shares earn nothing.
func (e *Engine) pendingDelta(p *Participant) (sdkmath.Int, error) {
	if p.DividendShares == 0 {
		return sdkmath.ZeroInt(), nil
	}
	delta, err := fpmath.PendingDelta(p.DividendShares, e.state.RewardAccumulator, p.RewardDebt)
	if err != nil {
		return sdkmath.ZeroInt(), ErrMathOverflow
	}
	return delta, nil
}

// Initialize configures the reserve. One-shot.
func (e *Engine) Initialize(op *event.Initialize) (*Result, *ledger.Batch, error) {
	if e.state.Initialized {
		return nil, nil, ErrAlreadyInitialized
	}
	if op.StakeFeeBps > fpmath.MaxFeeBps || op.UnstakeFeeBps > fpmath.MaxFeeBps {
		return nil, nil, ErrInvalidAmount
	}
	if op.LowerThreshold > op.UpperThreshold {
		return nil, nil, ErrInvalidAmount
	}

	e.state.Authority = op.Authority
	e.state.StakeFeeBps = op.StakeFeeBps
	e.state.UnstakeFeeBps = op.UnstakeFeeBps
	e.state.LowerThreshold = op.LowerThreshold
	e.state.UpperThreshold = op.UpperThreshold
	e.state.Initialized = true

	return &Result{}, nil, nil
}

// Stake converts a base-asset amount into shares at the pre-transfer
// vault/supply ratio. The stake fee reduces the shares issued, not the
// amount entering the vault.
func (e *Engine) Stake(op *event.Stake, sequence int64) (*Result, *ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, nil, err
	}
	if op.Amount == 0 {
		return nil, nil, ErrInvalidAmount
	}
	amount, err := fpmath.ToInt64(op.Amount)
	if err != nil {
		return nil, nil, ErrMathOverflow
	}
	if e.balances.WalletBalance(op.UserID) < amount {
		return nil, nil, ErrInsufficientFunds
	}

	vaultBefore := e.balances.VaultBalance()
	supplyBefore := e.balances.ShareSupply()

	net, err := fpmath.ApplyFeeBps(op.Amount, e.state.StakeFeeBps)
	if err != nil {
		return nil, nil, ErrMathOverflow
	}

	var shares uint64
	if supplyBefore == 0 || vaultBefore == 0 {
		// Bootstrap: 1:1 against the net amount
		shares = net
	} else {
		shares, err = fpmath.MulDivFloor(net, uint64(supplyBefore), uint64(vaultBefore))
		if err != nil {
			return nil, nil, ErrMathOverflow
		}
	}
	if shares == 0 {
		return nil, nil, ErrZeroShares
	}

	sharesInt, err := fpmath.ToInt64(shares)
	if err != nil {
		return nil, nil, ErrMathOverflow
	}

	p, exists := e.participants.Get(op.UserID)
	var stakedBefore uint64
	if exists {
		stakedBefore = p.StakedShares
	}
	newStaked, err := fpmath.AddUint64(stakedBefore, shares)
	if err != nil {
		return nil, nil, ErrMathOverflow
	}

	batch := e.journals.GenerateStake(
		op.UserID, op.IdempotencyKey(), sequence, op.Timestamp.UnixMicro(),
		amount, sharesInt,
	)

	if !exists {
		p = e.participants.Create(op.UserID)
	}
	p.StakedShares = newStaked

	return &Result{SharesIssued: shares, Participant: p.Clone()}, batch, nil
}

// Unstake redeems staked shares at the current vault/supply ratio.
// Dividend-pool shares are not redeemable; they must leave the pool
// first. The unstake fee stays in the vault for remaining holders.
func (e *Engine) Unstake(op *event.Unstake, sequence int64) (*Result, *ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, nil, err
	}
	if op.Shares == 0 {
		return nil, nil, ErrInvalidAmount
	}

	p, ok := e.participants.Get(op.UserID)
	if !ok {
		return nil, nil, ErrUnknownParticipant
	}
	if op.Shares > p.StakedShares {
		return nil, nil, ErrInsufficientShares
	}

	supply := e.balances.ShareSupply()
	if supply == 0 {
		return nil, nil, ErrZeroShares
	}
	vault := e.balances.VaultBalance()

	gross, err := fpmath.MulDivFloor(uint64(vault), op.Shares, uint64(supply))
	if err != nil {
		return nil, nil, ErrMathOverflow
	}
	net, err := fpmath.ApplyFeeBps(gross, e.state.UnstakeFeeBps)
	if err != nil {
		return nil, nil, ErrMathOverflow
	}

	sharesInt, err := fpmath.ToInt64(op.Shares)
	if err != nil {
		return nil, nil, ErrMathOverflow
	}
	netInt, err := fpmath.ToInt64(net)
	if err != nil {
		return nil, nil, ErrMathOverflow
	}

	batch := e.journals.GenerateUnstake(
		op.UserID, op.IdempotencyKey(), sequence, op.Timestamp.UnixMicro(),
		sharesInt, netInt,
	)

	p.StakedShares -= op.Shares

	return &Result{AmountPaid: net, Participant: p.Clone()}, batch, nil
}

// JoinDividendPool moves staked shares into the dividend pool. Rewards
// are settled first so the move never earns retroactively.
func (e *Engine) JoinDividendPool(op *event.JoinDividendPool) (*Result, *ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, nil, err
	}
	if op.Shares == 0 {
		return nil, nil, ErrInvalidAmount
	}

	p, ok := e.participants.Get(op.UserID)
	if !ok {
		return nil, nil, ErrUnknownParticipant
	}
	if op.Shares > p.StakedShares {
		return nil, nil, ErrInsufficientShares
	}

	delta, err := e.pendingDelta(p)
	if err != nil {
		return nil, nil, err
	}
	newDividend, err := fpmath.AddUint64(p.DividendShares, op.Shares)
	if err != nil {
		return nil, nil, ErrMathOverflow
	}

	p.PendingRewards = p.PendingRewards.Add(delta)
	p.StakedShares -= op.Shares
	p.DividendShares = newDividend
	e.state.TotalDividendShares = e.state.TotalDividendShares.Add(sdkmath.NewIntFromUint64(op.Shares))
	p.RewardDebt = fpmath.RewardDebt(p.DividendShares, e.state.RewardAccumulator)

	return &Result{Participant: p.Clone()}, nil, nil
}

// LeaveDividendPool removes shares from the pool. The fixed exit fee is
// burned from the share supply; only the net returns to the staked
// balance. The full share count leaves the pool totals.
func (e *Engine) LeaveDividendPool(op *event.LeaveDividendPool, sequence int64) (*Result, *ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, nil, err
	}
	if op.Shares == 0 {
		return nil, nil, ErrInvalidAmount
	}

	p, ok := e.participants.Get(op.UserID)
	if !ok {
		return nil, nil, ErrUnknownParticipant
	}
	if op.Shares > p.DividendShares {
		return nil, nil, ErrInsufficientShares
	}

	delta, err := e.pendingDelta(p)
	if err != nil {
		return nil, nil, err
	}

	net, err := fpmath.ApplyFeeBps(op.Shares, ExitFeeBps)
	if err != nil {
		return nil, nil, ErrMathOverflow
	}
	feeShares := op.Shares - net

	newStaked, err := fpmath.AddUint64(p.StakedShares, net)
	if err != nil {
		return nil, nil, ErrMathOverflow
	}
	newTotal := e.state.TotalDividendShares.Sub(sdkmath.NewIntFromUint64(op.Shares))
	if newTotal.IsNegative() {
		return nil, nil, ErrMathOverflow
	}

	var batch *ledger.Batch
	if feeShares > 0 {
		feeInt, err := fpmath.ToInt64(feeShares)
		if err != nil {
			return nil, nil, ErrMathOverflow
		}
		batch = e.journals.GenerateExitFeeBurn(
			op.UserID, op.IdempotencyKey(), sequence, op.Timestamp.UnixMicro(), feeInt,
		)
	}

	p.PendingRewards = p.PendingRewards.Add(delta)
	p.DividendShares -= op.Shares
	p.StakedShares = newStaked
	e.state.TotalDividendShares = newTotal
	p.RewardDebt = fpmath.RewardDebt(p.DividendShares, e.state.RewardAccumulator)

	return &Result{NetShares: net, Participant: p.Clone()}, batch, nil
}

// RecordProfit transfers game profit into the vault and advances the
// reward accumulator by the per-share cut. Authority only.
func (e *Engine) RecordProfit(op *event.RecordProfit, sequence int64) (*Result, *ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, nil, err
	}
	if op.CallerID != e.state.Authority {
		return nil, nil, ErrUnauthorized
	}
	if op.Amount == 0 {
		return nil, nil, ErrInvalidAmount
	}
	if e.state.TotalDividendShares.IsZero() {
		return nil, nil, ErrNoDividendShares
	}

	amount, err := fpmath.ToInt64(op.Amount)
	if err != nil {
		return nil, nil, ErrMathOverflow
	}
	if e.balances.WalletBalance(op.CallerID) < amount {
		return nil, nil, ErrInsufficientFunds
	}

	inc, err := fpmath.AccumulatorIncrement(op.Amount, e.state.TotalDividendShares)
	if err != nil {
		return nil, nil, ErrMathOverflow
	}

	batch := e.journals.GenerateProfitDeposit(
		op.CallerID, op.IdempotencyKey(), sequence, op.Timestamp.UnixMicro(), amount,
	)

	e.state.RewardAccumulator = e.state.RewardAccumulator.Add(inc)

	return &Result{}, batch, nil
}

// ClaimRewards settles and pays out pending rewards. A zero balance is
// a successful no-op that leaves the debt checkpoint alone.
func (e *Engine) ClaimRewards(op *event.ClaimRewards, sequence int64) (*Result, *ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, nil, err
	}

	p, ok := e.participants.Get(op.UserID)
	if !ok {
		return nil, nil, ErrUnknownParticipant
	}

	delta, err := e.pendingDelta(p)
	if err != nil {
		return nil, nil, err
	}
	pending := p.PendingRewards.Add(delta)

	if pending.IsZero() {
		// Nothing claimable yet. Leave the debt checkpoint alone so
		// sub-precision accrual keeps compounding toward a future
		// whole unit instead of being flushed on every empty claim.
		return &Result{AmountPaid: 0, Participant: p.Clone()}, nil, nil
	}

	amount, err := fpmath.Uint64FromInt(pending)
	if err != nil {
		return nil, nil, ErrMathOverflow
	}
	amountInt, err := fpmath.ToInt64(amount)
	if err != nil {
		return nil, nil, ErrMathOverflow
	}
	if e.balances.VaultBalance() < amountInt {
		return nil, nil, ErrInsufficientFunds
	}

	batch := e.journals.GenerateRewardPayout(
		op.UserID, op.IdempotencyKey(), sequence, op.Timestamp.UnixMicro(), amountInt,
	)

	// Advance the debt checkpoint by exactly the whole units paid out.
	// The sub-precision remainder stays outstanding and keeps accruing
	// toward the next whole unit.
	p.PendingRewards = sdkmath.ZeroInt()
	p.RewardDebt = p.RewardDebt.Add(delta.Mul(fpmath.RewardPrecision()))

	return &Result{AmountPaid: amount, Participant: p.Clone()}, batch, nil
}

// SendPrize pays a winner directly from the vault. Only approved game
// services may call; shares and the accumulator are untouched.
func (e *Engine) SendPrize(op *event.SendPrize, sequence int64) (*Result, *ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, nil, err
	}
	if !e.state.ApprovedGames[op.GameID] {
		return nil, nil, ErrUnauthorized
	}
	if op.Amount == 0 {
		return nil, nil, ErrInvalidAmount
	}

	amount, err := fpmath.ToInt64(op.Amount)
	if err != nil {
		return nil, nil, ErrMathOverflow
	}
	if e.balances.VaultBalance() < amount {
		return nil, nil, ErrInsufficientFunds
	}

	batch := e.journals.GeneratePrizePayout(
		op.Recipient, op.IdempotencyKey(), sequence, op.Timestamp.UnixMicro(), amount,
	)

	return &Result{AmountPaid: op.Amount}, batch, nil
}

// ApproveGame adds a game service to the allow-list. Authority only.
// Re-approving is a no-op.
func (e *Engine) ApproveGame(op *event.ApproveGame) (*Result, *ledger.Batch, error) {
	if err := e.requireInitialized(); err != nil {
		return nil, nil, err
	}
	if op.CallerID != e.state.Authority {
		return nil, nil, ErrUnauthorized
	}

	e.state.ApprovedGames[op.GameID] = true

	return &Result{}, nil, nil
}

// Deposit brings funds across the external boundary into a wallet.
func (e *Engine) Deposit(op *event.Deposit, sequence int64) (*Result, *ledger.Batch, error) {
	if op.Amount == 0 {
		return nil, nil, ErrInvalidAmount
	}
	amount, err := fpmath.ToInt64(op.Amount)
	if err != nil {
		return nil, nil, ErrMathOverflow
	}

	batch := e.journals.GenerateDeposit(
		op.UserID, op.IdempotencyKey(), sequence, op.Timestamp.UnixMicro(), amount,
	)

	return &Result{}, batch, nil
}

// Withdraw sends wallet funds back across the external boundary.
func (e *Engine) Withdraw(op *event.Withdraw, sequence int64) (*Result, *ledger.Batch, error) {
	if op.Amount == 0 {
		return nil, nil, ErrInvalidAmount
	}
	amount, err := fpmath.ToInt64(op.Amount)
	if err != nil {
		return nil, nil, ErrMathOverflow
	}
	if e.balances.WalletBalance(op.UserID) < amount {
		return nil, nil, ErrInsufficientFunds
	}

	batch := e.journals.GenerateWithdrawal(
		op.UserID, op.IdempotencyKey(), sequence, op.Timestamp.UnixMicro(), amount,
	)

	return &Result{AmountPaid: op.Amount}, batch, nil
}
