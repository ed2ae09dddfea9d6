package cln

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseParams decodes the params of a plugin call into the given
// destinations. lightningd delivers params either as a positional array or
// as an object keyed by parameter name, both forms are accepted. The names
// slice lists the parameters in positional order and must line up with the
// destinations, the first required of them must be present. Optional
// trailing parameters keep their zero value when absent.
func ParseParams(params json.RawMessage, names []string, required int,
	dsts ...interface{}) error {

	if len(names) != len(dsts) {
		return fmt.Errorf("parameter names and destinations differ: "+
			"%d vs %d", len(names), len(dsts))
	}

	params = bytes.TrimSpace(params)

	// No params at all is the same as an empty positional list.
	if len(params) == 0 || bytes.Equal(params, []byte("null")) {
		if required > 0 {
			return missingParamErr(names[0])
		}
		return nil
	}

	switch params[0] {
	case '[':
		return parsePositional(params, names, required, dsts)

	case '{':
		return parseNamed(params, names, required, dsts)

	default:
		return &RPCError{
			Code:    rpcCodeInvalidParams,
			Message: "params must be an array or an object",
		}
	}
}

func parsePositional(params json.RawMessage, names []string, required int,
	dsts []interface{}) error {

	var values []json.RawMessage
	if err := json.Unmarshal(params, &values); err != nil {
		return invalidParamsErr("unable to decode params: %v", err)
	}

	if len(values) > len(names) {
		return invalidParamsErr("expected at most %d parameters, "+
			"got %d", len(names), len(values))
	}
	if len(values) < required {
		return missingParamErr(names[len(values)])
	}

	for i, value := range values {
		if err := json.Unmarshal(value, dsts[i]); err != nil {
			return invalidParamsErr("invalid value for "+
				"parameter %q: %v", names[i], err)
		}
	}

	return nil
}

func parseNamed(params json.RawMessage, names []string, required int,
	dsts []interface{}) error {

	var values map[string]json.RawMessage
	if err := json.Unmarshal(params, &values); err != nil {
		return invalidParamsErr("unable to decode params: %v", err)
	}

	for i, name := range names {
		value, ok := values[name]
		if !ok {
			if i < required {
				return missingParamErr(name)
			}
			continue
		}
		delete(values, name)

		if err := json.Unmarshal(value, dsts[i]); err != nil {
			return invalidParamsErr("invalid value for "+
				"parameter %q: %v", name, err)
		}
	}

	for name := range values {
		return invalidParamsErr("unknown parameter %q", name)
	}

	return nil
}

func missingParamErr(name string) *RPCError {
	return &RPCError{
		Code:    rpcCodeInvalidParams,
		Message: fmt.Sprintf("missing required parameter: %s", name),
	}
}

func invalidParamsErr(format string, args ...interface{}) *RPCError {
	return &RPCError{
		Code:    rpcCodeInvalidParams,
		Message: fmt.Sprintf(format, args...),
	}
}
