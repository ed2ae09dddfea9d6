package cln

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

// TestMSatUnmarshal asserts that msat amounts decode from both the modern
// numeric encoding and the legacy suffixed string form.
func TestMSatUnmarshal(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		json    string
		amount  MSat
		wantErr bool
	}{{
		name:   "number",
		json:   `1000`,
		amount: 1000,
	}, {
		name:   "legacy msat string",
		json:   `"2500msat"`,
		amount: 2500,
	}, {
		name:   "bare string number",
		json:   `"3000"`,
		amount: 3000,
	}, {
		name:    "garbage string",
		json:    `"xyzmsat"`,
		wantErr: true,
	}, {
		name:    "negative number",
		json:    `-5`,
		wantErr: true,
	}}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var amount MSat
			err := json.Unmarshal([]byte(tc.json), &amount)
			if tc.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.amount, amount)
		})
	}
}

// TestMSatToSat asserts the sub-satoshi remainder is truncated, never
// rounded up.
func TestMSatToSat(t *testing.T) {
	t.Parallel()

	require.Equal(t, btcutil.Amount(1), MSat(1999).ToSat())
	require.Equal(t, btcutil.Amount(2), MSat(2000).ToSat())
	require.Equal(t, btcutil.Amount(0), MSat(999).ToSat())
}

// TestListFundsDecode asserts a realistic listfunds payload decodes into
// typed outputs.
func TestListFundsDecode(t *testing.T) {
	t.Parallel()

	socketPath := serveUnix(t, func(req *request) []interface{} {
		require.Equal(t, "listfunds", req.Method)

		return []interface{}{resultFrame(req.ID, `{
			"outputs": [{
				"txid": "3e1f5c",
				"output": 0,
				"amount_msat": 100000000000,
				"scriptpubkey": "0014aabb",
				"address": "bcrt1q00",
				"status": "confirmed",
				"reserved": false,
				"blockheight": 105
			}, {
				"txid": "77ab21",
				"output": 1,
				"amount_msat": "25000000msat",
				"scriptpubkey": "0014ccdd",
				"address": "bcrt1q01",
				"status": "unconfirmed",
				"reserved": true
			}],
			"channels": []
		}`)}
	})

	client := NewClient(socketPath)
	defer client.Close()

	funds, err := client.ListFunds(context.Background())
	require.NoError(t, err)
	require.Len(t, funds.Outputs, 2)

	confirmed := funds.Outputs[0]
	require.Equal(t, "3e1f5c", confirmed.Txid)
	require.Equal(t, uint32(0), confirmed.Output)
	require.Equal(t, btcutil.Amount(100_000_000), confirmed.AmountMsat.ToSat())
	require.True(t, confirmed.Confirmed())
	require.False(t, confirmed.Reserved)
	require.Equal(t, uint32(105), confirmed.Blockheight)

	pending := funds.Outputs[1]
	require.Equal(t, btcutil.Amount(25_000), pending.AmountMsat.ToSat())
	require.False(t, pending.Confirmed())
	require.True(t, pending.Reserved)
}
