package bump

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseFeeTarget exercises the accepted and rejected forms of the
// amount parameter.
func TestParseFeeTarget(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		amount string
		expect *FeeTarget
		errMsg string
	}{
		{
			name:   "fixed fee",
			amount: "1000sats",
			expect: &FeeTarget{Mode: FeeModeFixed, FixedFee: 1000},
		},
		{
			name:   "zero fixed fee",
			amount: "0sats",
			expect: &FeeTarget{Mode: FeeModeFixed},
		},
		{
			name:   "fee rate",
			amount: "10satvb",
			expect: &FeeTarget{Mode: FeeModeRate, FeeRate: 10},
		},
		{
			name:   "fractional fee rate",
			amount: "2.5satvb",
			expect: &FeeTarget{Mode: FeeModeRate, FeeRate: 2.5},
		},
		{
			name:   "missing suffix",
			amount: "1000",
			errMsg: "Invalid amount: must end with 'sats' or " +
				"'satvb'",
		},
		{
			name:   "not a number",
			amount: "eightsats",
			errMsg: "Invalid amount: must be a valid number " +
				"followed by 'sats' or 'satvb'",
		},
		{
			name:   "fractional fixed fee",
			amount: "1.5sats",
			errMsg: "Invalid amount: must be a valid number " +
				"followed by 'sats' or 'satvb'",
		},
		{
			name:   "negative fixed fee",
			amount: "-5sats",
			errMsg: "Invalid fee: must be non-negative",
		},
		{
			name:   "negative fee rate",
			amount: "-2satvb",
			errMsg: "Invalid fee_rate: must be non-negative",
		},
		{
			name:   "nan fee rate",
			amount: "NaNsatvb",
			errMsg: "Invalid amount: must be a valid number " +
				"followed by 'sats' or 'satvb'",
		},
	}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			target, err := ParseFeeTarget(tc.amount)
			if tc.errMsg != "" {
				require.EqualError(t, err, tc.errMsg)

				var bumpErr *Error
				require.ErrorAs(t, err, &bumpErr)
				require.Equal(
					t, InvalidArgument, bumpErr.Code,
				)

				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.expect, target)
		})
	}
}

// TestFeeModeString covers the mode labels.
func TestFeeModeString(t *testing.T) {
	t.Parallel()

	require.Equal(t, "fixed", FeeModeFixed.String())
	require.Equal(t, "rate", FeeModeRate.String())
	require.Equal(t, "unknown", FeeMode(42).String())
}
