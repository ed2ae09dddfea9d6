package bump

import (
	"math"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

// FeeMode describes how the requested amount steers the child fee.
type FeeMode uint8

const (
	// FeeModeFixed pays the requested amount as the child fee outright.
	FeeModeFixed FeeMode = iota

	// FeeModeRate treats the amount as a package fee rate target and
	// derives the child fee from it.
	FeeModeRate
)

// String returns the fee mode as a human readable string.
func (m FeeMode) String() string {
	switch m {
	case FeeModeFixed:
		return "fixed"

	case FeeModeRate:
		return "rate"

	default:
		return "unknown"
	}
}

// FeeTarget is the parsed form of a bump request's amount string.
type FeeTarget struct {
	// Mode selects between a fixed fee and a fee rate target.
	Mode FeeMode

	// FixedFee is the child fee to pay. Only set in fixed mode.
	FixedFee btcutil.Amount

	// FeeRate is the package fee rate to reach. Only set in rate mode.
	FeeRate SatPerVByte
}

// ParseFeeTarget parses an amount string of the form "<n>sats" for a
// fixed child fee or "<n>satvb" for a package fee rate target. Fixed fees
// must be whole non-negative satoshi amounts, rates non-negative decimal
// numbers.
func ParseFeeTarget(amount string) (*FeeTarget, error) {
	switch {
	case strings.HasSuffix(amount, "satvb"):
		raw := strings.TrimSuffix(amount, "satvb")
		rate, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(rate) || math.IsInf(rate, 0) {
			return nil, newError(
				InvalidArgument, "Invalid amount: must be a "+
					"valid number followed by 'sats' or "+
					"'satvb'",
			)
		}
		if rate < 0 {
			return nil, newError(
				InvalidArgument,
				"Invalid fee_rate: must be non-negative",
			)
		}

		return &FeeTarget{
			Mode:    FeeModeRate,
			FeeRate: SatPerVByte(rate),
		}, nil

	case strings.HasSuffix(amount, "sats"):
		raw := strings.TrimSuffix(amount, "sats")
		fee, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, newError(
				InvalidArgument, "Invalid amount: must be a "+
					"valid number followed by 'sats' or "+
					"'satvb'",
			)
		}
		if fee < 0 {
			return nil, newError(
				InvalidArgument,
				"Invalid fee: must be non-negative",
			)
		}

		return &FeeTarget{
			Mode:     FeeModeFixed,
			FixedFee: btcutil.Amount(fee),
		}, nil

	default:
		return nil, newError(
			InvalidArgument,
			"Invalid amount: must end with 'sats' or 'satvb'",
		)
	}
}
