package reserve

import (
	"encoding/binary"
	"sort"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// Participant tracks one user's shares and reward accounting.
// StakedShares and DividendShares are disjoint: their sum equals the
// user's share-asset balance in the ledger.
type Participant struct {
	Owner          uuid.UUID
	StakedShares   uint64
	DividendShares uint64

	// RewardDebt is the accumulator checkpoint (scaled by 10^12).
	RewardDebt sdkmath.Int

	// PendingRewards are settled but unclaimed rewards.
	PendingRewards sdkmath.Int
}

func NewParticipant(owner uuid.UUID) *Participant {
	return &Participant{
		Owner:          owner,
		RewardDebt:     sdkmath.ZeroInt(),
		PendingRewards: sdkmath.ZeroInt(),
	}
}

// Clone returns a copy safe to hand outside the core.
func (p *Participant) Clone() *Participant {
	c := *p
	return &c
}

// DigestBytes returns a deterministic encoding for state hashing.
func (p *Participant) DigestBytes() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, p.Owner[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, p.StakedShares)
	buf = binary.LittleEndian.AppendUint64(buf, p.DividendShares)
	buf = appendLenPrefixed(buf, p.RewardDebt.String())
	buf = appendLenPrefixed(buf, p.PendingRewards.String())
	return buf
}

// ParticipantSet holds all participant ledgers, keyed by owner.
type ParticipantSet struct {
	byOwner map[uuid.UUID]*Participant
}

func NewParticipantSet() *ParticipantSet {
	return &ParticipantSet{
		byOwner: make(map[uuid.UUID]*Participant),
	}
}

func (ps *ParticipantSet) Get(owner uuid.UUID) (*Participant, bool) {
	p, ok := ps.byOwner[owner]
	return p, ok
}

func (ps *ParticipantSet) Create(owner uuid.UUID) *Participant {
	p := NewParticipant(owner)
	ps.byOwner[owner] = p
	return p
}

// Restore inserts a participant during snapshot recovery.
func (ps *ParticipantSet) Restore(p *Participant) {
	ps.byOwner[p.Owner] = p
}

func (ps *ParticipantSet) Len() int {
	return len(ps.byOwner)
}

// All returns participants sorted by owner for deterministic iteration.
func (ps *ParticipantSet) All() []*Participant {
	all := make([]*Participant, 0, len(ps.byOwner))
	for _, p := range ps.byOwner {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Owner.String() < all[j].Owner.String()
	})
	return all
}

// TotalShares sums staked plus dividend shares over all participants.
func (ps *ParticipantSet) TotalShares() sdkmath.Int {
	total := sdkmath.ZeroInt()
	for _, p := range ps.byOwner {
		total = total.Add(sdkmath.NewIntFromUint64(p.StakedShares))
		total = total.Add(sdkmath.NewIntFromUint64(p.DividendShares))
	}
	return total
}
