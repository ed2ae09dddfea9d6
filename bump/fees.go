package bump

import (
	"fmt"
	"math"

	"github.com/btcsuite/btcd/btcutil"
)

// SatPerVByte is a fee rate in satoshis per virtual byte.
type SatPerVByte float64

// String returns the fee rate with the precision feerates are usually
// quoted at.
func (s SatPerVByte) String() string {
	return fmt.Sprintf("%.3f sat/vB", float64(s))
}

// FeeRate returns the fee rate a fee and virtual size amount to. A zero
// vsize yields a zero rate rather than a division by zero.
func FeeRate(fee btcutil.Amount, vsize int64) SatPerVByte {
	if vsize == 0 {
		return 0
	}

	return SatPerVByte(float64(fee) / float64(vsize))
}

// RequiredChildFee returns the fee the child must pay so that the package
// of parent and child together meets the target fee rate. The result is
// rounded up to a whole satoshi so the effective package rate never
// undershoots the target, and clamped at zero when the parent alone
// already pays enough.
func RequiredChildFee(parentFee btcutil.Amount, parentVsize,
	childVsize int64, target SatPerVByte) btcutil.Amount {

	packageVsize := float64(parentVsize + childVsize)
	childFee := math.Ceil(float64(target)*packageVsize -
		float64(parentFee))

	if childFee < 0 {
		return 0
	}

	return btcutil.Amount(childFee)
}
