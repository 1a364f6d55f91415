package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kali123411/fomosniperLFG/internal/domain"
)

func TestEncodeIntent_BuyCarriesValue(t *testing.T) {
	data, value, err := encodeIntent(domain.ExecutionIntent{
		Action: domain.ActionBuy,
		Amount: big.NewInt(1000),
		MinOut: big.NewInt(90),
	})
	require.NoError(t, err)
	assert.Equal(t, curveABI.Methods["buy"].ID, data[:4])
	assert.Equal(t, big.NewInt(1000), value)
}

func TestEncodeIntent_SellSendsNoValue(t *testing.T) {
	data, value, err := encodeIntent(domain.ExecutionIntent{
		Action: domain.ActionSell,
		Amount: big.NewInt(50),
		MinOut: big.NewInt(40),
	})
	require.NoError(t, err)
	assert.Equal(t, curveABI.Methods["sell"].ID, data[:4])
	assert.Equal(t, 0, value.Sign())
}

func TestEncodeIntent_ApproveTargetsERC20(t *testing.T) {
	data, _, err := encodeIntent(domain.ExecutionIntent{
		Action:  domain.ActionApprove,
		Spender: common.HexToAddress("0x2"),
		Amount:  big.NewInt(1),
	})
	require.NoError(t, err)
	assert.Equal(t, erc20ABI.Methods["approve"].ID, data[:4])
}

func TestEncodeIntent_GraduateHasNoArgs(t *testing.T) {
	data, value, err := encodeIntent(domain.ExecutionIntent{Action: domain.ActionGraduate})
	require.NoError(t, err)
	assert.Len(t, data, 4)
	assert.Equal(t, 0, value.Sign())
}

func TestEncodeIntent_UnknownActionFails(t *testing.T) {
	_, _, err := encodeIntent(domain.ExecutionIntent{Action: "transfer"})
	assert.Error(t, err)
}

func TestCurveCreatedTopic_IsStable(t *testing.T) {
	assert.NotEqual(t, common.Hash{}, curveCreatedTopic)
}
