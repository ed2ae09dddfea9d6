// Package bump implements CPFP fee bumping for wallet outputs. It sizes
// an unconfirmed parent transaction, derives the child fee needed to
// lift the package to the requested target, and walks a child PSBT
// through reservation, signing and finalization, releasing the
// reservation on every failure past that point.
package bump

import (
	"bytes"
	"context"
	"encoding/hex"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"

	"github.com/chainbump/bumpd/bitcoind"
	"github.com/chainbump/bumpd/cln"
)

const (
	// emergencyReserve is the minimum spendable balance, in satoshis,
	// that must remain in the wallet after paying the child fee.
	emergencyReserve = btcutil.Amount(25_000)

	// yoloMagic is the literal the optional broadcast flag must equal
	// for the child to be sent automatically.
	yoloMagic = "yolo"
)

// Config bundles the service dependencies a Bumper drives. Both fields
// must be set.
type Config struct {
	// Wallet talks to the lightning node that owns the UTXO set.
	Wallet WalletClient

	// Chain talks to the bitcoind backing the node.
	Chain ChainClient
}

// Request is a single bump invocation as received from the RPC surface.
type Request struct {
	// Txid is the id of the unconfirmed parent transaction.
	Txid string

	// Vout is the index of the parent output held by the wallet.
	Vout int64

	// Amount is the raw fee target, either "<n>sats" for a fixed child
	// fee or "<n>satvb" for a package feerate target.
	Amount string

	// Yolo is the optional broadcast flag. Must be the literal "yolo"
	// when set.
	Yolo string
}

// Bumper coordinates CPFP fee bumps against a wallet and a chain
// backend.
type Bumper struct {
	cfg *Config
}

// New returns a Bumper using the given backends.
func New(cfg *Config) *Bumper {
	return &Bumper{cfg: cfg}
}

// validateRequest rejects malformed requests before any RPC is made and
// parses the fee target out of the amount string.
func validateRequest(req *Request) (*FeeTarget, error) {
	if req.Txid == "" {
		return nil, newError(
			InvalidArgument,
			"Invalid or missing txid: must be a non-empty string",
		)
	}
	if req.Vout < 0 {
		return nil, newError(
			InvalidArgument,
			"Invalid vout: must be a non-negative integer",
		)
	}
	if req.Amount == "" {
		return nil, newError(
			InvalidArgument, "Invalid or missing amount: must "+
				"be a non-empty string with 'sats' or "+
				"'satvb' suffix",
		)
	}
	if !strings.HasSuffix(req.Amount, "sats") &&
		!strings.HasSuffix(req.Amount, "satvb") {

		return nil, newError(
			InvalidArgument,
			"Invalid amount: must end with 'sats' or 'satvb'",
		)
	}
	if req.Yolo != "" && req.Yolo != yoloMagic {
		return nil, newError(
			InvalidArgument, "You missed YOLO mode! You passed "+
				"%s as an argument, but not `yolo`.", req.Yolo,
		)
	}

	return ParseFeeTarget(req.Amount)
}

// selectUtxo picks the requested outpoint from the unreserved outputs.
func selectUtxo(available []*cln.ListFundsOutput, txid string,
	vout int64) (*cln.ListFundsOutput, error) {

	for _, o := range available {
		if o.Txid == txid && int64(o.Output) == vout {
			return o, nil
		}
	}

	return nil, newError(
		UtxoNotFound, "UTXO %s:%d not found in available UTXOs",
		txid, vout,
	)
}

// spendableBalance sums the confirmed, unreserved outputs other than the
// one being bumped. This is the balance the emergency reserve check is
// measured against.
func spendableBalance(outputs []*cln.ListFundsOutput,
	skip *cln.ListFundsOutput) btcutil.Amount {

	spendable := fn.Filter(outputs, func(o *cln.ListFundsOutput) bool {
		if o.Txid == skip.Txid && o.Output == skip.Output {
			return false
		}

		return o.Confirmed() && !o.Reserved
	})

	return fn.Sum(fn.Map(
		spendable, func(o *cln.ListFundsOutput) btcutil.Amount {
			return o.AmountMsat.ToSat()
		},
	))
}

// parentSummary captures the fee characteristics of the unconfirmed
// parent transaction.
type parentSummary struct {
	fee     btcutil.Amount
	vsize   int64
	feerate SatPerVByte
}

// parentDetails fetches the parent transaction and computes the fee it
// pays from its prevouts. A parent that already confirmed cannot be
// bumped and fails here, before anything is reserved.
func (b *Bumper) parentDetails(txid string) (*parentSummary, error) {
	txHash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, newError(
			UpstreamRPCError, "invalid parent txid %v: %w",
			txid, err,
		)
	}

	tx, err := b.cfg.Chain.GetRawTransactionVerbose(txHash)
	if err != nil {
		return nil, newError(
			UpstreamRPCError, "Failed to fetch transaction: %w",
			err,
		)
	}

	if tx.Confirmations > 0 {
		return nil, newError(
			ParentAlreadyConfirmed, "Transaction is already "+
				"confirmed and cannot be bumped",
		)
	}

	// The verbose result carries no fee field for mempool
	// transactions, so the fee is recovered the hard way: sum the
	// values of every spent prevout and subtract the outputs.
	var totalIn btcutil.Amount
	for _, vin := range tx.Vin {
		prevHash, err := chainhash.NewHashFromStr(vin.Txid)
		if err != nil {
			return nil, newError(
				UpstreamRPCError,
				"invalid input txid %v: %w", vin.Txid, err,
			)
		}

		prevTx, err := b.cfg.Chain.GetRawTransactionVerbose(prevHash)
		if err != nil {
			return nil, newError(
				UpstreamRPCError,
				"Failed to fetch transaction: %w", err,
			)
		}
		if vin.Vout >= uint32(len(prevTx.Vout)) {
			return nil, newError(
				UpstreamRPCError,
				"input %v:%d does not exist", vin.Txid,
				vin.Vout,
			)
		}

		value, err := btcutil.NewAmount(prevTx.Vout[vin.Vout].Value)
		if err != nil {
			return nil, newError(
				UpstreamRPCError,
				"invalid prevout value: %w", err,
			)
		}

		totalIn += value
	}

	var totalOut btcutil.Amount
	for _, vout := range tx.Vout {
		value, err := btcutil.NewAmount(vout.Value)
		if err != nil {
			return nil, newError(
				UpstreamRPCError,
				"invalid output value: %w", err,
			)
		}

		totalOut += value
	}

	fee := totalIn - totalOut
	if fee < 0 {
		return nil, newError(
			UpstreamRPCError,
			"parent transaction reports negative fee %v", fee,
		)
	}

	vsize := int64(tx.Vsize)

	return &parentSummary{
		fee:     fee,
		vsize:   vsize,
		feerate: FeeRate(fee, vsize),
	}, nil
}

// verifyAddress checks that the freshly derived recipient address parses
// for the active network and is actually owned by the wallet, so the
// bumped value can only ever come back to the node itself.
func (b *Bumper) verifyAddress(ctx context.Context, address string,
	params bitcoind.NetParams) error {

	_, err := btcutil.DecodeAddress(address, params.Params)
	if err != nil {
		return newError(
			UpstreamRPCError, "wallet returned invalid address "+
				"%v: %w", address, err,
		)
	}

	listing, err := b.cfg.Wallet.ListAddresses(ctx)
	if err != nil {
		return newError(
			UpstreamRPCError, "Failed to verify address: %w", err,
		)
	}

	owned := fn.Any(
		listing.Addresses, func(entry *cln.AddressListing) bool {
			return entry.Bech32 == address ||
				entry.P2TR == address
		},
	)
	if !owned {
		return newError(
			UpstreamRPCError,
			"Recipient address %v is not owned by this node",
			address,
		)
	}

	return nil
}

// tryUnreserve is the single rollback path for failures after inputs
// have been reserved. Its own errors are only logged so the original
// failure is never masked.
func (b *Bumper) tryUnreserve(ctx context.Context, packet string) {
	_, err := b.cfg.Wallet.UnreserveInputs(ctx, packet)
	if err != nil {
		log.Errorf("Failed to unreserve inputs: %v", err)
		return
	}

	log.Info("Unreserved inputs after failure")
}

// Bump executes a single fee bump from validation through signing and,
// in yolo mode, broadcast. Every error is a *Error carrying the failure
// class.
func (b *Bumper) Bump(ctx context.Context, req *Request) (*Report, error) {
	target, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	if req.Yolo == yoloMagic {
		log.Info("YOLO mode is ON!")
	} else {
		log.Info("Safety mode is ON!")
	}

	addr, err := b.cfg.Wallet.NewAddr(ctx)
	if err != nil {
		return nil, newError(
			UpstreamRPCError, "unable to get new address: %w", err,
		)
	}
	address := addr.Bech32
	if address == "" {
		return nil, newError(
			UpstreamRPCError, "newaddr returned no bech32 address",
		)
	}
	log.Debugf("Got new bech32 address from node: %v", address)

	info, err := b.cfg.Wallet.GetInfo(ctx)
	if err != nil {
		return nil, newError(
			UpstreamRPCError, "Failed to fetch network info: %w",
			err,
		)
	}
	if info.Network == "" {
		return nil, newError(
			UpstreamRPCError, "Network information is missing",
		)
	}
	netParams, err := bitcoind.NetParamsFromName(info.Network)
	if err != nil {
		return nil, newError(
			UpstreamRPCError,
			"lightningd reports unknown network: %w", err,
		)
	}
	log.Debugf("Network detected: %v", info.Network)

	funds, err := b.cfg.Wallet.ListFunds(ctx)
	if err != nil {
		return nil, newError(
			UpstreamRPCError, "Failed to fetch funds: %w", err,
		)
	}
	if len(funds.Outputs) == 0 {
		return nil, newError(
			UtxoNotFound, "No unspent transaction outputs found",
		)
	}

	available := fn.Filter(
		funds.Outputs, func(o *cln.ListFundsOutput) bool {
			return !o.Reserved
		},
	)
	if len(available) == 0 {
		return nil, newError(
			UtxoNotFound,
			"No unreserved unspent transaction outputs found",
		)
	}
	log.Debugf("Wallet holds %d outputs, %d unreserved",
		len(funds.Outputs), len(available))

	utxo, err := selectUtxo(available, req.Txid, req.Vout)
	if err != nil {
		return nil, err
	}

	utxoAmount := utxo.AmountMsat.ToSat()
	if utxoAmount == 0 {
		return nil, newError(
			UtxoNotFound, "UTXO %s:%d not found or already spent",
			req.Txid, req.Vout,
		)
	}
	log.Infof("Bumping UTXO %s:%d worth %v", req.Txid, req.Vout,
		utxoAmount)

	parent, err := b.parentDetails(req.Txid)
	if err != nil {
		return nil, err
	}
	log.Infof("Parent pays %v over %d vbytes (%v)", parent.fee,
		parent.vsize, parent.feerate)

	err = b.verifyAddress(ctx, address, netParams)
	if err != nil {
		return nil, err
	}

	input := bitcoind.PsbtInput{Txid: req.Txid, Vout: utxo.Output}
	probeVsize, err := b.probeChildVsize(input, address)
	if err != nil {
		return nil, err
	}
	log.Debugf("Probe child vsize: %d vbytes", probeVsize)

	var childFee btcutil.Amount
	switch target.Mode {
	case FeeModeFixed:
		childFee = target.FixedFee
		log.Infof("Using fixed child fee of %v", childFee)

	case FeeModeRate:
		// A parent already at or above the target needs no child at
		// all. Report its numbers as the package and stop before
		// anything is reserved.
		if parent.feerate >= target.FeeRate {
			log.Infof("Parent feerate %v meets target %v, no "+
				"child needed", parent.feerate,
				target.FeeRate)

			return noBumpReport(parent, target.FeeRate), nil
		}

		childFee = RequiredChildFee(
			parent.fee, parent.vsize, probeVsize, target.FeeRate,
		)
		log.Infof("Derived child fee of %v for target %v", childFee,
			target.FeeRate)
	}

	balance := spendableBalance(funds.Outputs, utxo)
	if balance-childFee < emergencyReserve {
		return nil, newError(
			EmergencyReserveViolation, "Bump would leave %d "+
				"sats, below %d sat emergency reserve.",
			int64(balance-childFee), int64(emergencyReserve),
		)
	}

	if childFee >= utxoAmount {
		return nil, newError(
			PsbtConstructionFailed, "child fee of %v consumes "+
				"the entire %v UTXO", childFee, utxoAmount,
		)
	}

	recipient := utxoAmount - childFee
	log.Debugf("Recipient output of %v after %v child fee", recipient,
		childFee)

	finalPacket, err := b.buildFinalPsbt(input, address, recipient)
	if err != nil {
		return nil, err
	}

	_, err = b.cfg.Wallet.ReserveInputs(ctx, finalPacket, true)
	if err != nil {
		return nil, newError(
			UpstreamRPCError,
			"Failed to reserve or sign PSBT: %w", err,
		)
	}
	log.Debugf("Reserved inputs for %s:%d", req.Txid, req.Vout)

	// The input is now locked in the wallet. Every failure from here on
	// funnels through unwind so the lock is released before the error
	// propagates.
	unwind := func(failure error) (*Report, error) {
		b.tryUnreserve(ctx, finalPacket)
		return nil, failure
	}

	signed, err := b.cfg.Wallet.SignPsbt(ctx, finalPacket)
	if err != nil {
		return unwind(newError(
			SigningFailed, "Failed to reserve or sign PSBT: %w",
			err,
		))
	}
	if signed.SignedPsbt == "" {
		return unwind(newError(
			SigningFailed,
			"Signing failed. No signed PSBT returned.",
		))
	}

	finalized, err := b.cfg.Chain.FinalizePsbt(signed.SignedPsbt, false)
	if err != nil {
		return unwind(newError(
			FinalizationFailed,
			"unable to finalize signed psbt: %w", err,
		))
	}
	if finalized.Psbt == "" {
		return unwind(newError(
			FinalizationFailed, "PSBT was not properly "+
				"finalized. No PSBT hex returned.",
		))
	}

	decoded, err := b.cfg.Chain.DecodePsbt(finalized.Psbt)
	if err != nil {
		return unwind(newError(
			FinalizationFailed,
			"Failed to analyze transaction: %w", err,
		))
	}
	actualFee, err := btcutil.NewAmount(decoded.Fee)
	if err != nil {
		return unwind(newError(
			FinalizationFailed,
			"invalid fee in decoded psbt: %w", err,
		))
	}

	extracted, err := b.cfg.Chain.FinalizePsbt(finalized.Psbt, true)
	if err != nil {
		return unwind(newError(
			FinalizationFailed,
			"Failed to analyze transaction: %w", err,
		))
	}
	if extracted.Hex == "" {
		return unwind(newError(
			FinalizationFailed,
			"Could not extract hex from finalized PSBT.",
		))
	}

	rawTx, err := hex.DecodeString(extracted.Hex)
	if err != nil {
		return unwind(newError(
			FinalizationFailed,
			"invalid final transaction hex: %w", err,
		))
	}
	decodedTx, err := b.cfg.Chain.DecodeRawTransaction(rawTx)
	if err != nil {
		return unwind(newError(
			FinalizationFailed,
			"Failed to analyze transaction: %w", err,
		))
	}

	// The report carries the signed child's real numbers, not the
	// probe's estimate.
	childVsize := int64(decodedTx.Vsize)
	log.Infof("Child %v pays %v over %d vbytes (%v)", decodedTx.Txid,
		actualFee, childVsize, FeeRate(actualFee, childVsize))

	report := buildReport(
		parent, actualFee, childVsize, target, finalized.Psbt,
		extracted.Hex,
	)

	if req.Yolo != yoloMagic {
		return report, nil
	}

	var msgTx wire.MsgTx
	if err := msgTx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return unwind(newError(
			FinalizationFailed,
			"invalid final transaction: %w", err,
		))
	}

	log.Info("Sending raw transaction...")
	txHash, err := b.cfg.Chain.SendRawTransaction(&msgTx, true)
	if err != nil {
		return unwind(newError(
			BroadcastFailed,
			"Failed to broadcast transaction: %w", err,
		))
	}
	log.Infof("Transaction sent! TXID: %v", txHash)

	report.Message = yoloConfirmation
	report.Message2 = ""
	report.SendRawTxCommand = ""
	report.Notice = ""
	report.UnreserveCommand = ""
	report.ChildTxid = txHash.String()

	return report, nil
}
