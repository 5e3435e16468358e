// Package varlinkerr defines the error categories, wire error names, and
// helpers used to carry structured detail through the rest of this module.
package varlinkerr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

// Categories for grouping errors by where they originated.
const (
	CategoryWire       = "wire"       // buffer/scanner/JSON value graph
	CategoryIDL        = "idl"        // interface description parsing
	CategoryService    = "service"    // registry/dispatch
	CategoryConnection = "connection" // state machine, framing
	CategoryTransport  = "transport"  // device I/O
)

// Wire error names, returned verbatim in a varlink error reply's "error"
// field. These match the names a varlink client expects on the wire.
const (
	ErrorInterfaceNotFound     = "org.varlink.service.InterfaceNotFound"
	ErrorMethodNotFound        = "org.varlink.service.MethodNotFound"
	ErrorMethodNotImplemented  = "org.varlink.service.MethodNotImplemented"
	ErrorInvalidParameter      = "org.varlink.service.InvalidParameter"
)

// Sentinel errors markable onto wrapped causes via errors.Mark, so callers
// can test with errors.Is regardless of how much context got attached.
var (
	ErrInterfaceNotFound    = errors.New("interface not found")
	ErrMethodNotFound       = errors.New("method not found")
	ErrMethodNotImplemented = errors.New("method not implemented")
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrMalformedMessage     = errors.New("malformed message")
	ErrOverrun              = errors.New("output buffer overrun")
)

// New creates a new error with a stack trace.
func New(message string) error {
	return errors.New(message)
}

// Newf creates a new formatted error with a stack trace.
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// Wrap adds a message to an existing error, preserving its cause.
func Wrap(cause error, message string) error {
	return errors.Wrap(cause, message)
}

// Wrapf adds a formatted message to an existing error, preserving its cause.
func Wrapf(cause error, format string, args ...interface{}) error {
	return errors.Wrapf(cause, format, args...)
}

// ErrorWithDetails attaches a category, a wire error name, and arbitrary
// structured details to err as cockroachdb/errors detail strings.
func ErrorWithDetails(err error, category, wireName string, details map[string]interface{}) error {
	err = errors.WithDetail(err, fmt.Sprintf("category:%s", category))
	if wireName != "" {
		err = errors.WithDetail(err, fmt.Sprintf("wire:%s", wireName))
	}
	for key, value := range details {
		err = errors.WithDetail(err, fmt.Sprintf("%s:%v", key, value))
	}
	return err
}

// GetErrorCategory extracts the category detail string from err, if any.
func GetErrorCategory(err error) string {
	for _, detail := range errors.GetAllDetails(err) {
		if rest, ok := strings.CutPrefix(detail, "category:"); ok {
			return rest
		}
	}
	return ""
}

// GetWireName extracts the wire error name detail string from err, if any.
// Falls back to CategoryService's generic names for the four sentinel
// errors so callers that built an error via errors.Mark still resolve a
// wire name even without an explicit detail.
func GetWireName(err error) string {
	for _, detail := range errors.GetAllDetails(err) {
		if rest, ok := strings.CutPrefix(detail, "wire:"); ok {
			return rest
		}
	}
	switch {
	case errors.Is(err, ErrInterfaceNotFound):
		return ErrorInterfaceNotFound
	case errors.Is(err, ErrMethodNotFound):
		return ErrorMethodNotFound
	case errors.Is(err, ErrMethodNotImplemented):
		return ErrorMethodNotImplemented
	case errors.Is(err, ErrInvalidParameter):
		return ErrorInvalidParameter
	default:
		return ""
	}
}

var detailPattern = regexp.MustCompile(`^([^:]+):(.+)$`)

// GetErrorProperties returns the non-reserved key:value detail strings
// attached to err as a map.
func GetErrorProperties(err error) map[string]interface{} {
	props := make(map[string]interface{})
	for _, detail := range errors.GetAllDetails(err) {
		m := detailPattern.FindStringSubmatch(detail)
		if len(m) != 3 {
			continue
		}
		key, value := m[1], m[2]
		if key == "category" || key == "wire" {
			continue
		}
		props[key] = value
	}
	return props
}

// IsInterfaceNotFound reports whether err is (or wraps) ErrInterfaceNotFound.
func IsInterfaceNotFound(err error) bool { return errors.Is(err, ErrInterfaceNotFound) }

// IsMethodNotFound reports whether err is (or wraps) ErrMethodNotFound.
func IsMethodNotFound(err error) bool { return errors.Is(err, ErrMethodNotFound) }

// IsMethodNotImplemented reports whether err is (or wraps) ErrMethodNotImplemented.
func IsMethodNotImplemented(err error) bool { return errors.Is(err, ErrMethodNotImplemented) }

// IsInvalidParameter reports whether err is (or wraps) ErrInvalidParameter.
func IsInvalidParameter(err error) bool { return errors.Is(err, ErrInvalidParameter) }

// IsOverrun reports whether err is (or wraps) ErrOverrun.
func IsOverrun(err error) bool { return errors.Is(err, ErrOverrun) }

// NewInterfaceNotFound builds the standard InterfaceNotFound error for a
// fully-qualified method name that resolved to an unknown interface.
func NewInterfaceNotFound(interfaceName string) error {
	err := errors.Mark(errors.Newf("interface not found: %s", interfaceName), ErrInterfaceNotFound)
	return ErrorWithDetails(err, CategoryService, ErrorInterfaceNotFound, map[string]interface{}{
		"interface": interfaceName,
	})
}

// NewMethodNotFound builds the standard MethodNotFound error.
func NewMethodNotFound(interfaceName, method string) error {
	err := errors.Mark(errors.Newf("method not found: %s.%s", interfaceName, method), ErrMethodNotFound)
	return ErrorWithDetails(err, CategoryService, ErrorMethodNotFound, map[string]interface{}{
		"interface": interfaceName,
		"method":    method,
	})
}

// NewMethodNotImplemented builds the standard MethodNotImplemented error.
func NewMethodNotImplemented(interfaceName, method string) error {
	err := errors.Mark(errors.Newf("method not implemented: %s.%s", interfaceName, method), ErrMethodNotImplemented)
	return ErrorWithDetails(err, CategoryService, ErrorMethodNotImplemented, map[string]interface{}{
		"interface": interfaceName,
		"method":    method,
	})
}

// NewInvalidParameter builds the standard InvalidParameter error, optionally
// naming the offending field.
func NewInvalidParameter(field, reason string) error {
	err := errors.Mark(errors.Newf("invalid parameter %q: %s", field, reason), ErrInvalidParameter)
	return ErrorWithDetails(err, CategoryService, ErrorInvalidParameter, map[string]interface{}{
		"field": field,
	})
}
