// Package message implements the varlink call/reply envelope codec: the
// four top-level fields (method, parameters, more, oneway) of a call
// object, and the (error, parameters, continues) shape of a reply.
package message

import (
	"github.com/varlink/govarlink/internal/varlinkerr"
	"github.com/varlink/govarlink/internal/wire"
)

// CallFlags carries the two call-time modifiers a client may set.
type CallFlags struct {
	More   bool
	Oneway bool
}

// Call is an unpacked method call: the fully-qualified method name, its
// parameters (never nil — a call with no "parameters" field unpacks to
// an empty object, matching message_unpack_call), and its flags.
type Call struct {
	Method     string
	Parameters *wire.Object
	Flags      CallFlags
}

// UnpackCall extracts a Call from a raw call object, matching
// message_unpack_call's field handling: "method" is required, a
// missing "parameters"/"more"/"oneway" field defaults rather than
// errors, and a present field of the wrong type is a malformed message.
func UnpackCall(call *wire.Object) (*Call, error) {
	method, ok := call.GetString("method")
	if !ok {
		if call.Has("method") {
			return nil, varlinkerr.ErrorWithDetails(
				varlinkerr.Wrap(varlinkerr.ErrMalformedMessage, "\"method\" is not a string"),
				varlinkerr.CategoryWire, "", nil)
		}
		return nil, varlinkerr.ErrorWithDetails(
			varlinkerr.Wrap(varlinkerr.ErrMalformedMessage, "missing \"method\""),
			varlinkerr.CategoryWire, "", nil)
	}

	parameters, hasParams := call.GetObject("parameters")
	if call.Has("parameters") && !hasParams {
		return nil, varlinkerr.ErrorWithDetails(
			varlinkerr.Wrap(varlinkerr.ErrMalformedMessage, "\"parameters\" is not an object"),
			varlinkerr.CategoryWire, "", nil)
	}
	if !hasParams {
		parameters = wire.NewObject()
	}

	more, hasMore := call.GetBool("more")
	if call.Has("more") && !hasMore {
		return nil, varlinkerr.ErrorWithDetails(
			varlinkerr.Wrap(varlinkerr.ErrMalformedMessage, "\"more\" is not a bool"),
			varlinkerr.CategoryWire, "", nil)
	}

	oneway, hasOneway := call.GetBool("oneway")
	if call.Has("oneway") && !hasOneway {
		return nil, varlinkerr.ErrorWithDetails(
			varlinkerr.Wrap(varlinkerr.ErrMalformedMessage, "\"oneway\" is not a bool"),
			varlinkerr.CategoryWire, "", nil)
	}

	return &Call{
		Method:     method,
		Parameters: parameters,
		Flags:      CallFlags{More: more, Oneway: oneway},
	}, nil
}

// PackReply builds a reply object. errorName is empty for a successful
// reply. parameters may be nil, in which case the "parameters" field is
// omitted entirely (distinct from an empty object).
func PackReply(errorName string, parameters *wire.Object, continues bool) (*wire.Object, error) {
	reply := wire.NewObject()

	if errorName != "" {
		if err := reply.SetString("error", errorName); err != nil {
			return nil, err
		}
	}

	if parameters != nil {
		if err := reply.SetObject("parameters", parameters); err != nil {
			return nil, err
		}
	}

	if continues {
		if err := reply.SetBool("continues", true); err != nil {
			return nil, err
		}
	}

	return reply, nil
}
