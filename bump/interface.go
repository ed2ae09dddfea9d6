package bump

import (
	"context"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/chainbump/bumpd/bitcoind"
	"github.com/chainbump/bumpd/cln"
)

// WalletClient is the slice of the lightning node's wallet surface a bump
// operation needs. Keys never leave the node, signing happens on the
// other side of this interface.
type WalletClient interface {
	// GetInfo returns the node's identity and the network it runs on.
	GetInfo(ctx context.Context) (*cln.GetInfoResponse, error)

	// NewAddr derives a fresh wallet address to pay the bumped value
	// back to.
	NewAddr(ctx context.Context) (*cln.NewAddrResponse, error)

	// ListFunds returns the wallet's on-chain outputs, including their
	// reservation state.
	ListFunds(ctx context.Context) (*cln.ListFundsResponse, error)

	// ListAddresses returns the addresses the wallet has handed out.
	ListAddresses(ctx context.Context) (*cln.ListAddressesResponse,
		error)

	// ReserveInputs marks the inputs of the PSBT as reserved so no
	// other spend competes for them.
	ReserveInputs(ctx context.Context, psbt string,
		exclusive bool) (*cln.ReserveInputsResponse, error)

	// UnreserveInputs releases the inputs of the PSBT again.
	UnreserveInputs(ctx context.Context,
		psbt string) (*cln.UnreserveInputsResponse, error)

	// SignPsbt asks the wallet to sign the inputs it owns.
	SignPsbt(ctx context.Context,
		psbt string) (*cln.SignPsbtResponse, error)
}

// ChainClient is the slice of the bitcoind surface a bump operation
// needs: transaction lookups, PSBT assembly and broadcast.
type ChainClient interface {
	// GetRawTransactionVerbose returns the decoded form of a
	// transaction, including its confirmation count.
	GetRawTransactionVerbose(
		txHash *chainhash.Hash) (*btcjson.TxRawResult, error)

	// DecodeRawTransaction decodes a serialized transaction.
	DecodeRawTransaction(
		serializedTx []byte) (*btcjson.TxRawResult, error)

	// CreatePsbt assembles an unsigned PSBT from the given inputs and
	// outputs.
	CreatePsbt(inputs []bitcoind.PsbtInput,
		outputs []map[string]string) (string, error)

	// UtxoUpdatePsbt fills in the UTXO details of a PSBT's inputs.
	UtxoUpdatePsbt(packet string) (string, error)

	// AnalyzePsbt returns bitcoind's size and fee estimate for a PSBT.
	AnalyzePsbt(packet string) (*bitcoind.AnalyzePsbtResult, error)

	// FinalizePsbt completes a signed PSBT, optionally extracting the
	// network serialized transaction.
	FinalizePsbt(packet string,
		extract bool) (*bitcoind.FinalizePsbtResult, error)

	// DecodePsbt returns the decoded form of a PSBT, including the fee
	// it pays.
	DecodePsbt(packet string) (*bitcoind.DecodePsbtResult, error)

	// SendRawTransaction broadcasts a transaction to the network.
	SendRawTransaction(tx *wire.MsgTx,
		allowHighFees bool) (*chainhash.Hash, error)
}

// Compile time checks to ensure the concrete clients satisfy the
// interfaces above.
var _ WalletClient = (*cln.Client)(nil)
var _ ChainClient = (*bitcoind.Client)(nil)
