package token

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema, all scoped under the contract address:
//   tok:{contract}:supply
//   tok:{contract}:bal:{account}
//   tok:{contract}:alw:{owner}:{spender}
const prefixToken = "tok:"

func supplyKey(contract common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:supply", prefixToken, contract.Hex()))
}

func balanceKey(contract, account common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:bal:%s", prefixToken, contract.Hex(), account.Hex()))
}

func allowanceKey(contract, owner, spender common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:alw:%s:%s", prefixToken, contract.Hex(), owner.Hex(), spender.Hex()))
}
