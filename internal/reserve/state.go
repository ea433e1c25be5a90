package reserve

import (
	"encoding/binary"
	"sort"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
)

// ExitFeeBps is the fixed dividend-pool exit fee. Unlike the configurable
// stake/unstake fees, exit-fee shares are burned, not retained.
const ExitFeeBps = 400

// State is the reserve singleton: fee policy, reward accumulator, and
// the set of approved game services.
type State struct {
	Authority      uuid.UUID
	StakeFeeBps    uint16
	UnstakeFeeBps  uint16
	LowerThreshold uint64
	UpperThreshold uint64

	// RewardAccumulator is scaled by 10^12 and only ever increases.
	RewardAccumulator sdkmath.Int

	// TotalDividendShares equals the sum of all participants'
	// dividend shares.
	TotalDividendShares sdkmath.Int

	ApprovedGames map[uuid.UUID]bool
	Initialized   bool
}

func NewState() *State {
	return &State{
		RewardAccumulator:   sdkmath.ZeroInt(),
		TotalDividendShares: sdkmath.ZeroInt(),
		ApprovedGames:       make(map[uuid.UUID]bool),
	}
}

// Clone returns a copy safe to hand outside the core.
func (s *State) Clone() *State {
	c := *s
	c.ApprovedGames = make(map[uuid.UUID]bool, len(s.ApprovedGames))
	for id, ok := range s.ApprovedGames {
		c.ApprovedGames[id] = ok
	}
	return &c
}

// DigestBytes returns a deterministic encoding of the reserve state for
// the state-hash chain.
func (s *State) DigestBytes() []byte {
	buf := make([]byte, 0, 128)

	buf = append(buf, s.Authority[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, s.StakeFeeBps)
	buf = binary.LittleEndian.AppendUint16(buf, s.UnstakeFeeBps)
	buf = binary.LittleEndian.AppendUint64(buf, s.LowerThreshold)
	buf = binary.LittleEndian.AppendUint64(buf, s.UpperThreshold)

	buf = appendLenPrefixed(buf, s.RewardAccumulator.String())
	buf = appendLenPrefixed(buf, s.TotalDividendShares.String())

	games := make([]string, 0, len(s.ApprovedGames))
	for id := range s.ApprovedGames {
		games = append(games, id.String())
	}
	sort.Strings(games)
	for _, id := range games {
		buf = appendLenPrefixed(buf, id)
	}

	if s.Initialized {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	return buf
}

func appendLenPrefixed(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)))
	return append(buf, []byte(s)...)
}
