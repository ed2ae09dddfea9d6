package bump

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"

	"github.com/chainbump/bumpd/bitcoind"
)

// btcString renders an amount as the fixed point BTC decimal string the
// bitcoind PSBT RPCs expect. Going through a string keeps float rounding
// off the wire.
func btcString(amount btcutil.Amount) string {
	return fmt.Sprintf(
		"%d.%08d", amount/btcutil.SatoshiPerBitcoin,
		amount%btcutil.SatoshiPerBitcoin,
	)
}

// probeChildVsize measures the virtual size of the child to be by
// building a throwaway PSBT spending the input to a zero value output.
// A single input, single output spend has the same size regardless of
// the output amount, so the zero placeholder sizes the real child
// without committing to a fee yet. Nothing is reserved here.
func (b *Bumper) probeChildVsize(input bitcoind.PsbtInput,
	address string) (int64, error) {

	packet, err := b.cfg.Chain.CreatePsbt(
		[]bitcoind.PsbtInput{input},
		[]map[string]string{{address: btcString(0)}},
	)
	if err != nil {
		return 0, newError(
			ProbeFailed, "unable to create probe psbt: %w", err,
		)
	}

	updated, err := b.cfg.Chain.UtxoUpdatePsbt(packet)
	if err != nil {
		return 0, newError(
			ProbeFailed, "unable to update probe psbt: %w", err,
		)
	}

	analysis, err := b.cfg.Chain.AnalyzePsbt(updated)
	if err != nil {
		return 0, newError(
			ProbeFailed, "unable to analyze probe psbt: %w", err,
		)
	}
	if analysis.EstimatedVsize <= 0 {
		return 0, newError(
			ProbeFailed, "probe psbt has no estimated vsize",
		)
	}

	return int64(analysis.EstimatedVsize), nil
}

// buildFinalPsbt assembles the child PSBT that will actually be signed,
// paying the input's value minus the child fee back to the wallet's own
// address.
func (b *Bumper) buildFinalPsbt(input bitcoind.PsbtInput, address string,
	recipient btcutil.Amount) (string, error) {

	packet, err := b.cfg.Chain.CreatePsbt(
		[]bitcoind.PsbtInput{input},
		[]map[string]string{{address: btcString(recipient)}},
	)
	if err != nil {
		return "", newError(
			PsbtConstructionFailed,
			"Failed to create second PSBT: %w", err,
		)
	}

	// Parse the packet back before any inputs are reserved against it.
	parsed, err := psbt.NewFromRawBytes(strings.NewReader(packet), true)
	if err != nil {
		return "", newError(
			PsbtConstructionFailed,
			"invalid psbt from createpsbt: %w", err,
		)
	}

	tx := parsed.UnsignedTx
	if len(tx.TxIn) != 1 || len(tx.TxOut) != 1 {
		return "", newError(
			PsbtConstructionFailed, "expected 1 input and 1 "+
				"output psbt, got %d inputs and %d outputs",
			len(tx.TxIn), len(tx.TxOut),
		)
	}

	updated, err := b.cfg.Chain.UtxoUpdatePsbt(packet)
	if err != nil {
		return "", newError(
			PsbtConstructionFailed,
			"unable to update child psbt: %w", err,
		)
	}

	return updated, nil
}
