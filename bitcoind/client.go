// Package bitcoind maintains the RPC connection to the bitcoind backing the
// node and exposes the handful of calls fee bumping needs. The PSBT tooling
// is not part of the typed client surface upstream, so those calls go
// through raw requests.
package bitcoind

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

const (
	// defaultHost is where we expect to find bitcoind when no host is
	// configured.
	defaultHost = "127.0.0.1"

	// uptimeVersion is the bitcoind version that introduced the uptime
	// call, encoded the way getnetworkinfo reports versions. For older
	// nodes health checks fall back to getblockchaininfo.
	uptimeVersion = 150000
)

// Config describes how to reach the RPC interface of the bitcoind backing
// the node.
type Config struct {
	// Network is the network name as lightningd reports it.
	Network string

	// Host is the RPC host without port. Defaults to localhost.
	Host string

	// Port overrides the network's default RPC port when non-zero.
	Port int

	// User and Pass authenticate against bitcoind. With an empty Pass
	// the authentication cookie is used instead.
	User string
	Pass string

	// Cookie is an explicit path to the authentication cookie file,
	// overriding the lookup under DataDir.
	Cookie string

	// DataDir is bitcoind's data directory, only consulted to locate
	// the cookie file. An empty value selects the platform default.
	DataDir string
}

// Client talks to a bitcoind instance over its JSON-RPC interface.
type Client struct {
	cfg    Config
	params NetParams
	host   string

	rpc *rpcclient.Client

	// healthCmd is the probe used for recurring health checks, chosen
	// based on the bitcoind version discovered at startup.
	healthCmd string
}

// New creates a client for the configured bitcoind. No connection attempt is
// made until Start is called.
func New(cfg Config) (*Client, error) {
	params, err := NetParamsFromName(cfg.Network)
	if err != nil {
		return nil, err
	}

	host := cfg.Host
	if host == "" {
		host = defaultHost
	}
	port := params.RPCPort
	if cfg.Port != 0 {
		port = fmt.Sprintf("%d", cfg.Port)
	}

	connCfg := &rpcclient.ConnConfig{
		Host:                 net.JoinHostPort(host, port),
		User:                 cfg.User,
		Pass:                 cfg.Pass,
		DisableConnectOnNew:  true,
		DisableAutoReconnect: false,
		DisableTLS:           true,
		HTTPPostMode:         true,
	}

	// Without an explicit password we authenticate with the cookie file
	// bitcoind rewrites on every start.
	if cfg.Pass == "" {
		cookiePath := cfg.Cookie
		if cookiePath == "" {
			cookiePath, err = CookiePath(cfg.DataDir, cfg.Network)
			if err != nil {
				return nil, err
			}
		}
		connCfg.CookiePath = cookiePath

		log.Debugf("Using cookie authentication from %v", cookiePath)
	}

	rpc, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:       cfg,
		params:    params,
		host:      connCfg.Host,
		rpc:       rpc,
		healthCmd: "uptime",
	}, nil
}

// Start connects to bitcoind and verifies it serves the chain lightningd
// runs on. A mismatch here means fee calculations would be made against the
// wrong chain, so it is fatal.
func (c *Client) Start() error {
	resp, err := c.rpc.RawRequest("getnetworkinfo", nil)
	if err != nil {
		return fmt.Errorf("unable to reach bitcoind at %v: %w",
			c.host, err)
	}

	info := struct {
		Version    int64  `json:"version"`
		Subversion string `json:"subversion"`
	}{}
	if err := json.Unmarshal(resp, &info); err != nil {
		return err
	}

	// The uptime call has no locking and is the cheapest probe, but it
	// only exists from version 0.15 onwards.
	if info.Version < uptimeVersion {
		c.healthCmd = "getblockchaininfo"
	}

	chainInfo, err := c.rpc.GetBlockChainInfo()
	if err != nil {
		return err
	}
	if chainInfo.Chain != c.params.ChainName {
		return fmt.Errorf("bitcoind is on chain %v, expected %v",
			chainInfo.Chain, c.params.ChainName)
	}

	log.Infof("Connected to bitcoind %v (version %d) on chain %v, "+
		"height %d", info.Subversion, info.Version, chainInfo.Chain,
		chainInfo.Blocks)

	return nil
}

// Stop shuts down the RPC client.
func (c *Client) Stop() {
	c.rpc.Shutdown()
}

// HealthCheck probes bitcoind with the cheapest call its version supports,
// reporting an error when the backend has become unreachable.
func (c *Client) HealthCheck() error {
	_, err := c.rpc.RawRequest(c.healthCmd, nil)
	return err
}

// GetRawTransactionVerbose returns the decoded form of a transaction known
// to bitcoind, including its confirmation count and raw hex.
func (c *Client) GetRawTransactionVerbose(
	txHash *chainhash.Hash) (*btcjson.TxRawResult, error) {

	return c.rpc.GetRawTransactionVerbose(txHash)
}

// DecodeRawTransaction decodes a serialized transaction, exposing the vsize
// bitcoind attributes to it.
func (c *Client) DecodeRawTransaction(
	serializedTx []byte) (*btcjson.TxRawResult, error) {

	return c.rpc.DecodeRawTransaction(serializedTx)
}

// SendRawTransaction broadcasts a transaction to the network.
func (c *Client) SendRawTransaction(tx *wire.MsgTx,
	allowHighFees bool) (*chainhash.Hash, error) {

	return c.rpc.SendRawTransaction(tx, allowHighFees)
}

// PsbtInput identifies a single UTXO to spend in a createpsbt call.
type PsbtInput struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// CreatePsbt assembles an unsigned PSBT spending the given inputs to the
// given outputs. Output amounts are BTC strings so no precision is lost to
// float encoding on the wire.
func (c *Client) CreatePsbt(inputs []PsbtInput,
	outputs []map[string]string) (string, error) {

	inputsJSON, err := json.Marshal(inputs)
	if err != nil {
		return "", err
	}
	outputsJSON, err := json.Marshal(outputs)
	if err != nil {
		return "", err
	}

	resp, err := c.rpc.RawRequest("createpsbt", []json.RawMessage{
		inputsJSON, outputsJSON,
	})
	if err != nil {
		return "", err
	}

	var packet string
	if err := json.Unmarshal(resp, &packet); err != nil {
		return "", err
	}

	return packet, nil
}

// UtxoUpdatePsbt fills in the UTXO details for the inputs of a PSBT from the
// UTXO set and the mempool, which analyzepsbt needs to size the spend.
func (c *Client) UtxoUpdatePsbt(packet string) (string, error) {
	packetJSON, err := json.Marshal(packet)
	if err != nil {
		return "", err
	}

	resp, err := c.rpc.RawRequest("utxoupdatepsbt", []json.RawMessage{
		packetJSON,
	})
	if err != nil {
		return "", err
	}

	var updated string
	if err := json.Unmarshal(resp, &updated); err != nil {
		return "", err
	}

	return updated, nil
}

// AnalyzePsbtResult is the subset of the analyzepsbt response needed to size
// a pending spend.
type AnalyzePsbtResult struct {
	EstimatedVsize   float64 `json:"estimated_vsize"`
	EstimatedFeerate float64 `json:"estimated_feerate"`
	Fee              float64 `json:"fee"`
	Next             string  `json:"next"`
	Error            string  `json:"error"`
}

// AnalyzePsbt inspects a PSBT and reports how far along signing it is. The
// estimated vsize is only present when bitcoind knows every input's UTXO.
func (c *Client) AnalyzePsbt(packet string) (*AnalyzePsbtResult, error) {
	packetJSON, err := json.Marshal(packet)
	if err != nil {
		return nil, err
	}

	resp, err := c.rpc.RawRequest("analyzepsbt", []json.RawMessage{
		packetJSON,
	})
	if err != nil {
		return nil, err
	}

	var result AnalyzePsbtResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// FinalizePsbtResult carries the outcome of a finalizepsbt call. The hex
// field is only populated when extraction was requested and every input was
// complete.
type FinalizePsbtResult struct {
	Psbt     string `json:"psbt"`
	Hex      string `json:"hex"`
	Complete bool   `json:"complete"`
}

// FinalizePsbt turns the signatures of a PSBT into final scriptSigs and
// witnesses. With extract set the fully valid raw transaction is returned as
// well.
func (c *Client) FinalizePsbt(packet string,
	extract bool) (*FinalizePsbtResult, error) {

	packetJSON, err := json.Marshal(packet)
	if err != nil {
		return nil, err
	}
	extractJSON, err := json.Marshal(extract)
	if err != nil {
		return nil, err
	}

	resp, err := c.rpc.RawRequest("finalizepsbt", []json.RawMessage{
		packetJSON, extractJSON,
	})
	if err != nil {
		return nil, err
	}

	var result FinalizePsbtResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// DecodePsbtResult is the subset of the decodepsbt response used to read
// back the fee of a finalized spend.
type DecodePsbtResult struct {
	Tx  *btcjson.TxRawResult `json:"tx"`
	Fee float64              `json:"fee"`
}

// DecodePsbt decodes a PSBT, exposing its unsigned transaction and, once the
// input UTXOs are known, the fee it pays.
func (c *Client) DecodePsbt(packet string) (*DecodePsbtResult, error) {
	packetJSON, err := json.Marshal(packet)
	if err != nil {
		return nil, err
	}

	resp, err := c.rpc.RawRequest("decodepsbt", []json.RawMessage{
		packetJSON,
	})
	if err != nil {
		return nil, err
	}

	var result DecodePsbtResult
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, err
	}

	return &result, nil
}
