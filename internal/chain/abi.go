package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Minimal ABI surfaces for the three contracts the engine touches. Parsing
// happens once at package init; these strings are trusted input.

const erc20ABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

const curveABIJSON = `[
  {"type":"function","name":"buy","stateMutability":"payable","inputs":[{"name":"minTokensOut","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"sell","stateMutability":"nonpayable","inputs":[{"name":"tokenAmount","type":"uint256"},{"name":"minEthOut","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"graduate","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"getBuyQuote","stateMutability":"view","inputs":[{"name":"ethIn","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getSellQuote","stateMutability":"view","inputs":[{"name":"tokenAmount","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"graduationEligible","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"graduationProgress","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}
]`

const factoryABIJSON = `[
  {"type":"event","name":"CurveCreated","inputs":[
    {"name":"token","type":"address","indexed":true},
    {"name":"curve","type":"address","indexed":true},
    {"name":"creator","type":"address","indexed":false}
  ],"anonymous":false}
]`

var (
	erc20ABI   = mustParseABI(erc20ABIJSON)
	curveABI   = mustParseABI(curveABIJSON)
	factoryABI = mustParseABI(factoryABIJSON)

	// curveCreatedTopic is the indexed topic0 of the factory's creation event.
	curveCreatedTopic = factoryABI.Events["CurveCreated"].ID
)

// CurveCreatedTopic returns topic0 of the factory's creation event, used to
// configure the discovery watcher.
func CurveCreatedTopic() common.Hash {
	return curveCreatedTopic
}

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic("chain: invalid ABI: " + err.Error())
	}
	return parsed
}
