package bitcoind

import (
	"fmt"
	"path/filepath"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// NetParams couples the parameters of a bitcoin network with the default RPC
// port of a bitcoind instance running on that network.
type NetParams struct {
	*chaincfg.Params

	// RPCPort is the default RPC port bitcoind listens on for this
	// network.
	RPCPort string

	// ChainName is the chain identifier getblockchaininfo reports for
	// this network.
	ChainName string

	// CookieDir is the network subdirectory of the bitcoind data
	// directory holding the authentication cookie.
	CookieDir string
}

var (
	// MainNetParams contains parameters specific to bitcoin mainnet,
	// which lightningd calls the "bitcoin" network.
	MainNetParams = NetParams{
		Params:    &chaincfg.MainNetParams,
		RPCPort:   "8332",
		ChainName: "main",
		CookieDir: "",
	}

	// TestNetParams contains parameters specific to the test network.
	TestNetParams = NetParams{
		Params:    &chaincfg.TestNet3Params,
		RPCPort:   "18332",
		ChainName: "test",
		CookieDir: "testnet3",
	}

	// SigNetParams contains parameters specific to the signet network.
	SigNetParams = NetParams{
		Params:    &chaincfg.SigNetParams,
		RPCPort:   "38332",
		ChainName: "signet",
		CookieDir: "signet",
	}

	// RegressionNetParams contains parameters specific to a local
	// regression test network.
	RegressionNetParams = NetParams{
		Params:    &chaincfg.RegressionNetParams,
		RPCPort:   "18443",
		ChainName: "regtest",
		CookieDir: "regtest",
	}
)

// NetParamsFromName maps a network name, as lightningd reports it in getinfo
// and the plugin init payload, onto the matching bitcoind parameters.
func NetParamsFromName(network string) (NetParams, error) {
	switch network {
	case "bitcoin":
		return MainNetParams, nil

	case "testnet":
		return TestNetParams, nil

	case "signet":
		return SigNetParams, nil

	case "regtest":
		return RegressionNetParams, nil

	default:
		return NetParams{}, fmt.Errorf("unknown network %q", network)
	}
}

// defaultDataDir is the platform dependent location of bitcoind's data
// directory.
var defaultDataDir = btcutil.AppDataDir("bitcoin", false)

// CookiePath returns the path of the authentication cookie a bitcoind
// running on the given network writes on startup. An empty dataDir selects
// the platform default.
func CookiePath(dataDir, network string) (string, error) {
	params, err := NetParamsFromName(network)
	if err != nil {
		return "", err
	}

	if dataDir == "" {
		dataDir = defaultDataDir
	}

	return filepath.Join(dataDir, params.CookieDir, ".cookie"), nil
}
