package bump

import "fmt"

// ErrorCode identifies the class of failure a bump operation ran into.
type ErrorCode uint8

const (
	// InvalidArgument means the request itself was malformed and nothing
	// was attempted.
	InvalidArgument ErrorCode = iota

	// UtxoNotFound means the requested outpoint is not among the
	// wallet's unreserved outputs. An existing but reserved output
	// reports the same failure.
	UtxoNotFound

	// ParentAlreadyConfirmed means the transaction to bump already has a
	// confirmation, so a child can no longer speed it up.
	ParentAlreadyConfirmed

	// ProbeFailed means the throwaway PSBT used to size the child could
	// not be built or analyzed.
	ProbeFailed

	// EmergencyReserveViolation means paying the child fee would drop
	// the spendable wallet balance below the emergency reserve.
	EmergencyReserveViolation

	// PsbtConstructionFailed means the real child PSBT could not be
	// assembled.
	PsbtConstructionFailed

	// SigningFailed means the wallet did not produce a signed PSBT.
	SigningFailed

	// FinalizationFailed means the signed PSBT could not be finalized or
	// the final transaction could not be extracted.
	FinalizationFailed

	// BroadcastFailed means the finalized transaction was rejected on
	// broadcast.
	BroadcastFailed

	// UpstreamRPCError is an opaque failure of one of the two backing
	// services.
	UpstreamRPCError
)

// errorCodeStrings maps each error code to its constant name for display.
var errorCodeStrings = map[ErrorCode]string{
	InvalidArgument:           "InvalidArgument",
	UtxoNotFound:              "UtxoNotFound",
	ParentAlreadyConfirmed:    "ParentAlreadyConfirmed",
	ProbeFailed:               "ProbeFailed",
	EmergencyReserveViolation: "EmergencyReserveViolation",
	PsbtConstructionFailed:    "PsbtConstructionFailed",
	SigningFailed:             "SigningFailed",
	FinalizationFailed:        "FinalizationFailed",
	BroadcastFailed:           "BroadcastFailed",
	UpstreamRPCError:          "UpstreamRPCError",
}

// String returns the error code as a human readable string.
func (c ErrorCode) String() string {
	if s, ok := errorCodeStrings[c]; ok {
		return s
	}

	return fmt.Sprintf("Unknown ErrorCode (%d)", uint8(c))
}

// rpcCodeBase anchors the JSON-RPC error code range reported for domain
// failures. Individual codes grow downward from here per error class.
const rpcCodeBase = -2000

// RPCCode returns the JSON-RPC error code reported for this class of
// failure. Invalid arguments map onto the standard invalid-params code,
// every other class gets its own code below the base.
func (c ErrorCode) RPCCode() int {
	if c == InvalidArgument {
		return -32602
	}

	return rpcCodeBase - int(c)
}

// Error couples a failure class with the error describing it.
type Error struct {
	// Code is the failure class.
	Code ErrorCode

	// Err carries the failure detail.
	Err error
}

// A compile time check to ensure Error implements the error interface.
var _ error = (*Error)(nil)

// Error returns the message of the underlying error.
func (e *Error) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// RPCCode returns the JSON-RPC error code of the failure class.
func (e *Error) RPCCode() int {
	return e.Code.RPCCode()
}

// newError constructs an Error from a format string. The %w verb is
// honored, keeping upstream causes available for unwrapping.
func newError(code ErrorCode, format string,
	args ...interface{}) *Error {

	return &Error{
		Code: code,
		Err:  fmt.Errorf(format, args...),
	}
}
