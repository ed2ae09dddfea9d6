package bitcoind

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/require"
)

// rpcCall is a single JSON-RPC request as received by the bitcoind stub.
type rpcCall struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     json.RawMessage   `json:"id"`
}

// bitcoindStub is an in-process stand-in for bitcoind's RPC interface. It
// records every call and answers from a per-method table.
type bitcoindStub struct {
	mtx     sync.Mutex
	calls   []*rpcCall
	results map[string]interface{}
	errors  map[string]*btcjson.RPCError
}

func newBitcoindStub() *bitcoindStub {
	return &bitcoindStub{
		results: make(map[string]interface{}),
		errors:  make(map[string]*btcjson.RPCError),
	}
}

func (s *bitcoindStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var call rpcCall
	if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mtx.Lock()
	s.calls = append(s.calls, &call)
	result := s.results[call.Method]
	rpcErr := s.errors[call.Method]
	s.mtx.Unlock()

	resp := struct {
		Result interface{}       `json:"result"`
		Error  *btcjson.RPCError `json:"error"`
		ID     json.RawMessage   `json:"id"`
	}{
		Result: result,
		Error:  rpcErr,
		ID:     call.ID,
	}

	_ = json.NewEncoder(w).Encode(&resp)
}

// methodCalls returns the raw params of every call made to the given method.
func (s *bitcoindStub) methodCalls(method string) [][]json.RawMessage {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var params [][]json.RawMessage
	for _, call := range s.calls {
		if call.Method == method {
			params = append(params, call.Params)
		}
	}

	return params
}

// newTestClient points a client at an in-process bitcoind stub.
func newTestClient(t *testing.T, stub *bitcoindStub) *Client {
	t.Helper()

	server := httptest.NewServer(stub)
	t.Cleanup(server.Close)

	serverURL, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(serverURL.Port())
	require.NoError(t, err)

	client, err := New(Config{
		Network: "regtest",
		Host:    serverURL.Hostname(),
		Port:    port,
		User:    "user",
		Pass:    "pass",
	})
	require.NoError(t, err)
	t.Cleanup(client.Stop)

	return client
}

// TestClientStart asserts startup verifies the chain bitcoind serves and
// selects the cheap uptime probe on modern versions.
func TestClientStart(t *testing.T) {
	t.Parallel()

	stub := newBitcoindStub()
	stub.results["getnetworkinfo"] = map[string]interface{}{
		"version":    270000,
		"subversion": "/Satoshi:27.0.0/",
	}
	stub.results["getblockchaininfo"] = map[string]interface{}{
		"chain":  "regtest",
		"blocks": 120,
	}
	stub.results["uptime"] = 4242

	client := newTestClient(t, stub)
	require.NoError(t, client.Start())
	require.NoError(t, client.HealthCheck())

	require.Len(t, stub.methodCalls("uptime"), 1)
	require.Empty(t, stub.methodCalls("getrawtransaction"))
}

// TestClientStartWrongChain asserts a bitcoind serving another chain than
// lightningd is rejected at startup.
func TestClientStartWrongChain(t *testing.T) {
	t.Parallel()

	stub := newBitcoindStub()
	stub.results["getnetworkinfo"] = map[string]interface{}{
		"version": 270000,
	}
	stub.results["getblockchaininfo"] = map[string]interface{}{
		"chain": "main",
	}

	client := newTestClient(t, stub)
	err := client.Start()
	require.Error(t, err)
	require.Contains(t, err.Error(), "expected regtest")
}

// TestClientHealthCheckFallback asserts versions predating the uptime call
// fall back to getblockchaininfo for health probes.
func TestClientHealthCheckFallback(t *testing.T) {
	t.Parallel()

	stub := newBitcoindStub()
	stub.results["getnetworkinfo"] = map[string]interface{}{
		"version": 140000,
	}
	stub.results["getblockchaininfo"] = map[string]interface{}{
		"chain": "regtest",
	}

	client := newTestClient(t, stub)
	require.NoError(t, client.Start())
	require.NoError(t, client.HealthCheck())

	// One call for the startup chain check, one for the health probe.
	require.Len(t, stub.methodCalls("getblockchaininfo"), 2)
	require.Empty(t, stub.methodCalls("uptime"))
}

// TestCreatePsbt asserts inputs and outputs arrive on the wire in the shape
// createpsbt expects, with amounts as BTC strings.
func TestCreatePsbt(t *testing.T) {
	t.Parallel()

	stub := newBitcoindStub()
	stub.results["createpsbt"] = "cHNidP8BAF4CAAAAAA=="

	client := newTestClient(t, stub)

	packet, err := client.CreatePsbt(
		[]PsbtInput{{Txid: "ab12", Vout: 1}},
		[]map[string]string{{"bcrt1qaddr": "0.00090000"}},
	)
	require.NoError(t, err)
	require.Equal(t, "cHNidP8BAF4CAAAAAA==", packet)

	calls := stub.methodCalls("createpsbt")
	require.Len(t, calls, 1)
	require.JSONEq(
		t, `[{"txid": "ab12", "vout": 1}]`, string(calls[0][0]),
	)
	require.JSONEq(
		t, `[{"bcrt1qaddr": "0.00090000"}]`, string(calls[0][1]),
	)
}

// TestAnalyzePsbt asserts the size estimate decodes from the analyzepsbt
// response.
func TestAnalyzePsbt(t *testing.T) {
	t.Parallel()

	stub := newBitcoindStub()
	stub.results["analyzepsbt"] = map[string]interface{}{
		"estimated_vsize":   144,
		"estimated_feerate": 0.00010,
		"fee":               0.00001440,
		"next":              "signer",
		"inputs": []map[string]interface{}{
			{"has_utxo": true, "is_final": false},
		},
	}

	client := newTestClient(t, stub)

	result, err := client.AnalyzePsbt("cHNidP8BAF4=")
	require.NoError(t, err)
	require.Equal(t, float64(144), result.EstimatedVsize)
	require.Equal(t, "signer", result.Next)
}

// TestFinalizePsbt asserts the extract flag is passed through and the raw
// hex comes back.
func TestFinalizePsbt(t *testing.T) {
	t.Parallel()

	stub := newBitcoindStub()
	stub.results["finalizepsbt"] = map[string]interface{}{
		"hex":      "02000000000101",
		"complete": true,
	}

	client := newTestClient(t, stub)

	result, err := client.FinalizePsbt("cHNidP8BAF4=", true)
	require.NoError(t, err)
	require.True(t, result.Complete)
	require.Equal(t, "02000000000101", result.Hex)

	calls := stub.methodCalls("finalizepsbt")
	require.Len(t, calls, 1)
	require.Equal(t, `"cHNidP8BAF4="`, string(calls[0][0]))
	require.Equal(t, `true`, string(calls[0][1]))
}

// TestDecodePsbt asserts the fee and unsigned transaction decode from the
// decodepsbt response.
func TestDecodePsbt(t *testing.T) {
	t.Parallel()

	stub := newBitcoindStub()
	stub.results["decodepsbt"] = map[string]interface{}{
		"tx": map[string]interface{}{
			"txid":  "ab12",
			"vsize": 141,
		},
		"fee": 0.00002000,
	}

	client := newTestClient(t, stub)

	result, err := client.DecodePsbt("cHNidP8BAF4=")
	require.NoError(t, err)
	require.Equal(t, 0.00002, result.Fee)
	require.Equal(t, int32(141), result.Tx.Vsize)
}

// TestRPCErrorPassthrough asserts bitcoind error payloads surface as typed
// btcjson errors with their code intact.
func TestRPCErrorPassthrough(t *testing.T) {
	t.Parallel()

	stub := newBitcoindStub()
	stub.errors["getrawtransaction"] = &btcjson.RPCError{
		Code:    -5,
		Message: "No such mempool or blockchain transaction",
	}

	client := newTestClient(t, stub)

	txHash, err := chainhash.NewHashFromStr(
		"aa00000000000000000000000000000000000000000000000000000000000000",
	)
	require.NoError(t, err)

	_, err = client.GetRawTransactionVerbose(txHash)
	require.Error(t, err)

	var rpcErr *btcjson.RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, btcjson.RPCErrorCode(-5), rpcErr.Code)
}
