package bumpd

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chainbump/bumpd/bump"
	"github.com/chainbump/bumpd/cln"
)

// TestHandleBumpParams asserts the parameter conventions of the
// bumpchannelopen method: positional and named forms, the required count and
// the rejection of unknown names, all failing before any backend is touched.
func TestHandleBumpParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		params    string
		expectMsg string
	}{{
		name:      "no params",
		params:    `null`,
		expectMsg: "missing required parameter: txid",
	}, {
		name:      "missing amount",
		params:    `["abc", 0]`,
		expectMsg: "missing required parameter: amount",
	}, {
		name:      "missing vout named",
		params:    `{"txid": "abc", "amount": "100sats"}`,
		expectMsg: "missing required parameter: vout",
	}, {
		name:      "too many positional",
		params:    `["abc", 0, "100sats", "yolo", 5]`,
		expectMsg: "expected at most 4 parameters",
	}, {
		name: "unknown named",
		params: `{"txid": "abc", "vout": 0, "amount": "100sats", ` +
			`"feerate": 12}`,
		expectMsg: "unknown parameter",
	}, {
		name:      "wrong vout type",
		params:    `["abc", "zero", "100sats"]`,
		expectMsg: `invalid value for parameter "vout"`,
	}}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			s := &server{}
			_, err := s.handleBump(
				context.Background(),
				json.RawMessage(test.params),
			)

			var rpcErr *cln.RPCError
			require.ErrorAs(t, err, &rpcErr)
			require.Equal(t, -32602, rpcErr.Code)
			require.Contains(t, rpcErr.Message, test.expectMsg)
		})
	}
}

// TestHandleBumpDispatch asserts that well formed parameters reach the bump
// pipeline and that its errors come back unwrapped, still carrying their own
// RPC codes.
func TestHandleBumpDispatch(t *testing.T) {
	t.Parallel()

	s := &server{bumper: bump.New(&bump.Config{})}

	_, err := s.handleBump(
		context.Background(),
		json.RawMessage(`{"txid": "", "vout": 0, "amount": "100sats"}`),
	)

	var bumpErr *bump.Error
	require.ErrorAs(t, err, &bumpErr)
	require.Equal(t, bump.InvalidArgument, bumpErr.Code)
}
