package deposit

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// LiquidityMinted sums the pool-share tokens minted to recipient in receipt, i.e. ERC20
// Transfer logs from the zero address. It returns zero when none are found.
func LiquidityMinted(receipt *types.Receipt, recipient common.Address) *big.Int {
	total := new(big.Int)
	if receipt == nil {
		return total
	}
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) != 3 || lg.Topics[0] != transferTopic || len(lg.Data) != 32 {
			continue
		}
		from := common.BytesToAddress(lg.Topics[1].Bytes())
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		if from != (common.Address{}) || to != recipient {
			continue
		}
		total.Add(total, new(big.Int).SetBytes(lg.Data))
	}
	return total
}
