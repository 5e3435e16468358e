// Package schema provides optional envelope pre-validation: checking a
// raw call or reply object against an embedded JSON Schema before the
// hand-rolled codec in internal/message ever looks at it. It is
// defense-in-depth, not a replacement for the codec's own required-field
// handling, and it never inspects call parameters beyond "is this an
// object" - those stay entirely un-validated, matching the rest of this
// module's refusal to do schema-driven parameter checking.
package schema

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/varlink/govarlink/internal/logging"
)

//go:embed schema.json
var embeddedSchema []byte

// Envelope kind names, passed to Validate. Kept as plain strings (rather
// than a named type) so connection.EnvelopeValidator can depend on this
// package's method signature without importing it.
const (
	KindCall  = "call"
	KindReply = "reply"
)

// Validator compiles and caches the envelope schemas. The zero value is
// not usable; construct one with NewValidator and call Initialize before
// Validate.
type Validator struct {
	logger logging.Logger

	mu          sync.RWMutex
	schemas     map[string]*jsonschema.Schema
	initialized bool
}

// NewValidator returns a Validator. It does nothing until Initialize is
// called.
func NewValidator(logger logging.Logger) *Validator {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	return &Validator{logger: logger.WithField("component", "schema")}
}

// Initialize compiles the embedded call/reply schemas. It is safe to call
// more than once; later calls are no-ops.
func (v *Validator) Initialize(_ context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.initialized {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	compiler.AssertFormat = true

	const resourceID = "https://github.com/varlink/govarlink/internal/schema/schema.json"
	if err := compiler.AddResource(resourceID, bytes.NewReader(embeddedSchema)); err != nil {
		return errors.Wrap(err, "failed to add embedded envelope schema resource")
	}

	schemas := make(map[string]*jsonschema.Schema, 2)
	for _, kind := range []string{KindCall, KindReply} {
		compiled, err := compiler.Compile(resourceID + "#/$defs/" + kind)
		if err != nil {
			return errors.Wrapf(err, "failed to compile %s envelope schema", kind)
		}
		schemas[kind] = compiled
	}

	v.schemas = schemas
	v.initialized = true
	v.logger.Info("schema validator initialized", "kinds", len(schemas))
	return nil
}

// IsInitialized reports whether Initialize has completed successfully.
func (v *Validator) IsInitialized() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.initialized
}

// Validate checks data against the schema for kind. It fails closed: an
// uninitialized validator, an unknown kind, or invalid JSON syntax are
// all reported as errors rather than silently passing the data through.
func (v *Validator) Validate(_ context.Context, kind string, data []byte) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.initialized {
		return ErrNotInitialized
	}

	compiled, ok := v.schemas[kind]
	if !ok {
		return errors.Wrapf(ErrUnknownKind, "kind %q", kind)
	}

	var instance interface{}
	if err := json.Unmarshal(data, &instance); err != nil {
		return errors.Wrap(ErrInvalidJSON, err.Error())
	}

	if err := compiled.Validate(instance); err != nil {
		var valErr *jsonschema.ValidationError
		if errors.As(err, &valErr) {
			return convertValidationError(string(kind), valErr)
		}
		return errors.Wrap(err, "envelope validation failed unexpectedly")
	}

	return nil
}
