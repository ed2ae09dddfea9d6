package bump

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	// betaWarning fronts every report that carries an unbroadcast
	// child transaction.
	betaWarning = "This is beta software, this might spend all your " +
		"money. Please make sure to run bitcoin-cli analyzepsbt to " +
		"verify the fee before broadcasting the transaction"

	// broadcastHint tells the caller how to get the child on the wire.
	broadcastHint = "Run sendrawtransaction to broadcast your cpfp " +
		"transaction"

	// reservedNotice reminds the caller that the bumped input stays
	// locked until the child confirms or is given up on.
	reservedNotice = "Inputs used in this PSBT are now reserved. If " +
		"you do not broadcast this transaction, you must manually " +
		"unreserve them"

	// yoloConfirmation replaces the manual broadcast instructions once
	// the child has been sent automatically.
	yoloConfirmation = "You used YOLO mode! Transaction sent! Please " +
		"run the analyze command to confirm transaction details."

	// noBumpNeeded reports that the parent already meets the requested
	// rate and no child was created.
	noBumpNeeded = "No CPFP needed: parent fee rate exceeds target"
)

// Report is the result of a bump operation. For a created child the fee,
// vsize and feerate fields reflect the signed transaction as decoded from
// the finalized PSBT, not the earlier estimates.
type Report struct {
	// Message carries the leading advisory for the caller.
	Message string `json:"message,omitempty"`

	// AnalyzeCommand is a ready to paste bitcoin-cli invocation that
	// verifies the child PSBT before broadcast.
	AnalyzeCommand string `json:"analyze_command,omitempty"`

	// ParentFee is the fee the unconfirmed parent pays, in satoshis.
	ParentFee btcutil.Amount `json:"parent_fee"`

	// ParentVsize is the parent's virtual size in vbytes.
	ParentVsize int64 `json:"parent_vsize"`

	// ParentFeerate is the parent's fee rate in sat/vB.
	ParentFeerate SatPerVByte `json:"parent_feerate"`

	// ChildFee is the fee the signed child pays, in satoshis.
	ChildFee btcutil.Amount `json:"child_fee"`

	// ChildVsize is the signed child's virtual size in vbytes.
	ChildVsize int64 `json:"child_vsize"`

	// ChildFeerate is the child's fee rate in sat/vB.
	ChildFeerate SatPerVByte `json:"child_feerate"`

	// TotalFees is the combined fee of parent and child.
	TotalFees btcutil.Amount `json:"total_fees"`

	// TotalVsizes is the combined virtual size of parent and child.
	TotalVsizes int64 `json:"total_vsizes"`

	// TotalFeerate is the effective package fee rate in sat/vB.
	TotalFeerate SatPerVByte `json:"total_feerate"`

	// DesiredTotalFeerate is the requested package rate, zero when a
	// fixed fee was requested instead.
	DesiredTotalFeerate SatPerVByte `json:"desired_total_feerate"`

	// Message2 carries the broadcast instructions when the child was
	// not sent automatically.
	Message2 string `json:"message2,omitempty"`

	// SendRawTxCommand is a ready to paste bitcoin-cli invocation that
	// broadcasts the child.
	SendRawTxCommand string `json:"sendrawtransaction_command,omitempty"`

	// Notice reminds the caller about the input reservation.
	Notice string `json:"notice,omitempty"`

	// UnreserveCommand is a ready to paste lightning-cli invocation
	// that releases the reserved input again.
	UnreserveCommand string `json:"unreserve_inputs_command,omitempty"`

	// ChildTxid is the id of the broadcast child. Only set in yolo
	// mode.
	ChildTxid string `json:"child_txid,omitempty"`
}

// buildReport assembles the full report for a signed child transaction,
// including the copy and paste commands to verify, broadcast or abandon
// it.
func buildReport(parent *parentSummary, childFee btcutil.Amount,
	childVsize int64, target *FeeTarget, finalPsbt,
	finalHex string) *Report {

	var desired SatPerVByte
	if target.Mode == FeeModeRate {
		desired = target.FeeRate
	}

	totalFees := parent.fee + childFee
	totalVsizes := parent.vsize + childVsize

	return &Report{
		Message: betaWarning,
		AnalyzeCommand: fmt.Sprintf(
			"bitcoin-cli analyzepsbt %s", finalPsbt,
		),
		ParentFee:           parent.fee,
		ParentVsize:         parent.vsize,
		ParentFeerate:       parent.feerate,
		ChildFee:            childFee,
		ChildVsize:          childVsize,
		ChildFeerate:        FeeRate(childFee, childVsize),
		TotalFees:           totalFees,
		TotalVsizes:         totalVsizes,
		TotalFeerate:        FeeRate(totalFees, totalVsizes),
		DesiredTotalFeerate: desired,
		Message2:            broadcastHint,
		SendRawTxCommand: fmt.Sprintf(
			"bitcoin-cli sendrawtransaction %s", finalHex,
		),
		Notice: reservedNotice,
		UnreserveCommand: fmt.Sprintf(
			"lightning-cli unreserveinputs %s", finalPsbt,
		),
	}
}

// noBumpReport assembles the short-circuit report for a parent that
// already meets the requested rate. No child exists, the totals are the
// parent's own numbers.
func noBumpReport(parent *parentSummary, target SatPerVByte) *Report {
	return &Report{
		Message:             noBumpNeeded,
		ParentFee:           parent.fee,
		ParentVsize:         parent.vsize,
		ParentFeerate:       parent.feerate,
		TotalFees:           parent.fee,
		TotalVsizes:         parent.vsize,
		TotalFeerate:        parent.feerate,
		DesiredTotalFeerate: target,
	}
}
