package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const routerABIJSON = `[
  {"inputs":[
    {"internalType":"uint256","name":"amountIn","type":"uint256"},
    {"internalType":"address[]","name":"path","type":"address[]"}
  ],"name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"},
  {"inputs":[
    {"internalType":"address","name":"token","type":"address"},
    {"internalType":"uint256","name":"amountTokenDesired","type":"uint256"},
    {"internalType":"uint256","name":"amountTokenMin","type":"uint256"},
    {"internalType":"uint256","name":"amountETHMin","type":"uint256"},
    {"internalType":"address","name":"to","type":"address"},
    {"internalType":"uint256","name":"deadline","type":"uint256"}
  ],"name":"addLiquidityETH","outputs":[
    {"internalType":"uint256","name":"amountToken","type":"uint256"},
    {"internalType":"uint256","name":"amountETH","type":"uint256"},
    {"internalType":"uint256","name":"liquidity","type":"uint256"}
  ],"stateMutability":"payable","type":"function"}
]`

const factoryABIJSON = `[
  {"inputs":[
    {"internalType":"address","name":"tokenA","type":"address"},
    {"internalType":"address","name":"tokenB","type":"address"}
  ],"name":"getPair","outputs":[{"internalType":"address","name":"pair","type":"address"}],"stateMutability":"view","type":"function"}
]`

const pairABIJSON = `[
  {"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"token1","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"getReserves","outputs":[
    {"internalType":"uint112","name":"_reserve0","type":"uint112"},
    {"internalType":"uint112","name":"_reserve1","type":"uint112"},
    {"internalType":"uint32","name":"_blockTimestampLast","type":"uint32"}
  ],"stateMutability":"view","type":"function"}
]`

const erc20ABIJSON = `[
  {"inputs":[
    {"internalType":"address","name":"spender","type":"address"},
    {"internalType":"uint256","name":"amount","type":"uint256"}
  ],"name":"approve","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

var (
	erc20BalanceOfSelector   = crypto.Keccak256([]byte("balanceOf(address)"))[:4]
	erc20AllowanceSelector   = crypto.Keccak256([]byte("allowance(address,address)"))[:4]
	erc20TotalSupplySelector = crypto.Keccak256([]byte("totalSupply()"))[:4]
	erc20DecimalsSelector    = crypto.Keccak256([]byte("decimals()"))[:4]
)

type contractABIs struct {
	router  abi.ABI
	factory abi.ABI
	pair    abi.ABI
	erc20   abi.ABI
}

func parseABIs() (contractABIs, error) {
	var out contractABIs
	for _, p := range []struct {
		name string
		raw  string
		dst  *abi.ABI
	}{
		{"router", routerABIJSON, &out.router},
		{"factory", factoryABIJSON, &out.factory},
		{"pair", pairABIJSON, &out.pair},
		{"erc20", erc20ABIJSON, &out.erc20},
	} {
		parsed, err := abi.JSON(strings.NewReader(p.raw))
		if err != nil {
			return contractABIs{}, fmt.Errorf("%s abi parse: %w", p.name, err)
		}
		*p.dst = parsed
	}
	return out, nil
}

// packAddressCall builds selector || left-padded address words.
func packAddressCall(selector []byte, addrs ...common.Address) []byte {
	data := make([]byte, 0, 4+32*len(addrs))
	data = append(data, selector...)
	for _, a := range addrs {
		data = append(data, common.LeftPadBytes(a.Bytes(), 32)...)
	}
	return data
}

// decodeUint256 reads the first return word of a call.
func decodeUint256(out []byte) (*big.Int, error) {
	if len(out) == 0 {
		return nil, fmt.Errorf("empty result")
	}
	if len(out) > 32 {
		out = out[:32]
	}
	return new(big.Int).SetBytes(out), nil
}

func lastAmount(vals []interface{}) (*big.Int, error) {
	if len(vals) != 1 {
		return nil, fmt.Errorf("getAmountsOut: unexpected result len %d", len(vals))
	}
	amounts, ok := vals[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("getAmountsOut: unexpected type %T", vals[0])
	}
	if len(amounts) < 2 {
		return nil, fmt.Errorf("getAmountsOut: %d amounts for a 2-hop path", len(amounts))
	}
	out := amounts[len(amounts)-1]
	if out == nil || out.Sign() < 0 {
		return nil, fmt.Errorf("getAmountsOut: invalid output %v", out)
	}
	return new(big.Int).Set(out), nil
}

func toAddress(vals []interface{}, method string) (common.Address, error) {
	if len(vals) != 1 {
		return common.Address{}, fmt.Errorf("%s: unexpected result len %d", method, len(vals))
	}
	addr, ok := vals[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected type %T", method, vals[0])
	}
	return addr, nil
}

func toReserves(vals []interface{}) (*big.Int, *big.Int, error) {
	if len(vals) != 3 {
		return nil, nil, fmt.Errorf("getReserves: unexpected result len %d", len(vals))
	}
	r0, ok0 := vals[0].(*big.Int)
	r1, ok1 := vals[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, fmt.Errorf("getReserves: unexpected types %T, %T", vals[0], vals[1])
	}
	return r0, r1, nil
}
