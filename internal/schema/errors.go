package schema

import (
	"github.com/cockroachdb/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Sentinel errors, markable via errors.Is regardless of how much detail
// got wrapped on along the way.
var (
	ErrNotInitialized = errors.New("schema validator not initialized")
	ErrUnknownKind    = errors.New("no compiled schema for this envelope kind")
	ErrInvalidJSON    = errors.New("envelope is not valid JSON")
	ErrEnvelope       = errors.New("envelope does not conform to its schema")
)

// convertValidationError folds a jsonschema library error into ErrEnvelope,
// keeping the library's own message (it already names the offending
// instance path and keyword) as the wrapped detail.
func convertValidationError(kind string, valErr *jsonschema.ValidationError) error {
	err := errors.Wrapf(errors.Mark(errors.New(valErr.Message), ErrEnvelope), "%s envelope failed schema validation", kind)
	return errors.WithDetail(err, "instanceLocation: "+valErr.InstanceLocation)
}
