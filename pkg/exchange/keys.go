package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema:
//   bal:{asset}:{account}   escrowed balance, 32-byte big-endian
//   ord:{id}                order record (JSON)
//   cxl:{id}                cancellation flag
//   fil:{id}                fill flag
//   log:{seq}               event log entry (JSON)
//   meta:*                  counters and construction-time config
// Ids and sequence numbers are zero-padded to 20 digits so prefix scans
// return them in numeric order.
const (
	prefixBalance   = "bal:"
	prefixOrder     = "ord:"
	prefixCancelled = "cxl:"
	prefixFilled    = "fil:"
	prefixLog       = "log:"
)

var (
	keyOrderCount    = []byte("meta:orderCount")
	keyLastTimestamp = []byte("meta:lastTimestamp")
	keyLogSeq        = []byte("meta:logSeq")
	keyLogHead       = []byte("meta:logHead")
	keyFeeAccount    = []byte("meta:feeAccount")
	keyFeePercent    = []byte("meta:feePercent")
	keyAddress       = []byte("meta:address")
)

func balanceKey(asset, account common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, asset.Hex(), account.Hex()))
}

func balancePrefix(asset common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixBalance, asset.Hex()))
}

func orderKey(id uint64) []byte     { return []byte(fmt.Sprintf("%s%020d", prefixOrder, id)) }
func cancelledKey(id uint64) []byte { return []byte(fmt.Sprintf("%s%020d", prefixCancelled, id)) }
func filledKey(id uint64) []byte    { return []byte(fmt.Sprintf("%s%020d", prefixFilled, id)) }
func logKey(seq uint64) []byte      { return []byte(fmt.Sprintf("%s%020d", prefixLog, seq)) }
