package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kali123411/fomosniperLFG/internal/domain"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	curve1 = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	curve2 = common.HexToAddress("0x00000000000000000000000000000000000000c2")
)

func TestRecordEntry_AccumulatesCostAndKeepsEarliestBlock(t *testing.T) {
	l := New()

	l.RecordEntry(tokenA, curve1, big.NewInt(100), 500)
	l.RecordEntry(tokenA, curve1, big.NewInt(40), 490)
	l.RecordEntry(tokenA, curve2, big.NewInt(60), 510)

	p, ok := l.Get(tokenA)
	require.True(t, ok)
	assert.Equal(t, big.NewInt(200), p.CostBasis)
	assert.Equal(t, uint64(490), p.FirstSeenBlock)
	assert.Equal(t, curve2, p.Curve, "latest curve wins")
}

func TestGet_CaseInsensitiveKey(t *testing.T) {
	l := New()
	l.RecordEntry(tokenA, curve1, big.NewInt(1), 1)

	mixed := common.HexToAddress("0x00000000000000000000000000000000000000AA")
	_, ok := l.Get(mixed)
	assert.True(t, ok)
}

func TestSnapshot_IsolatedFromMutation(t *testing.T) {
	l := New()
	l.RecordEntry(tokenA, curve1, big.NewInt(100), 1)

	snap := l.Snapshot()
	require.Len(t, snap, 1)

	l.RecordEntry(tokenA, curve1, big.NewInt(900), 1)
	l.Remove(tokenA)

	assert.Equal(t, big.NewInt(100), snap[0].CostBasis)
	assert.Equal(t, 0, l.Len())
}

func TestSnapshot_CostBasisCopyIsDeep(t *testing.T) {
	l := New()
	l.RecordEntry(tokenA, curve1, big.NewInt(100), 1)

	snap := l.Snapshot()
	snap[0].CostBasis.SetInt64(7)

	p, ok := l.Get(tokenA)
	require.True(t, ok)
	assert.Equal(t, big.NewInt(100), p.CostBasis)
}

func TestRemove_AbsentIsNoop(t *testing.T) {
	l := New()
	l.Remove(tokenA)
	assert.Equal(t, 0, l.Len())
}

func TestUpsert_ReplacesExisting(t *testing.T) {
	l := New()
	l.RecordEntry(tokenA, curve1, big.NewInt(100), 5)

	l.Upsert(domain.Position{Token: tokenA, Curve: curve2, CostBasis: big.NewInt(1), FirstSeenBlock: 9})

	p, _ := l.Get(tokenA)
	assert.Equal(t, big.NewInt(1), p.CostBasis)
	assert.Equal(t, uint64(9), p.FirstSeenBlock)
}
