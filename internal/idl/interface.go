// Package idl parses the varlink interface description language: an
// "interface NAME" line followed by type/method/error declarations, used both by
// the built-in org.varlink.service.GetInterfaceDescription call and by
// every interface a service registers.
package idl

import (
	"context"
	"sort"
	"strings"

	"github.com/varlink/govarlink/internal/varlinkerr"
	"github.com/varlink/govarlink/internal/wire"
)

// Replier is how a registered method handler sends its reply. A handler
// may call Reply more than once only if it was invoked with More set;
// the connection layer enforces that contract, not this package.
type Replier interface {
	Reply(parameters *wire.Object, continues bool) error
	ReplyError(name string, parameters *wire.Object) error
}

// HandlerFunc is the callback signature for a registered method,
// standing in for the original driver's per-method function pointer
// plus userdata: context carries cancellation, Replier carries the
// reply channel, and parameters carries the unpacked call arguments.
type HandlerFunc func(ctx context.Context, r Replier, method string, parameters *wire.Object) error

type boundMethod struct {
	name    string
	handler HandlerFunc
}

// Interface is a parsed varlink interface description: its name, the
// method and error names it declares (each kept sorted for binary
// search, mirroring the original's bsearch-backed tables), and the
// handlers bound to its methods.
type Interface struct {
	name        string
	description string
	methods     []boundMethod
	errors      []string
}

// Name returns the interface's fully-qualified name, e.g.
// "org.varlink.service".
func (i *Interface) Name() string { return i.name }

// Description returns the original IDL source text the interface was
// parsed from, as returned verbatim by GetInterfaceDescription.
func (i *Interface) Description() string { return i.description }

// MethodNames returns the interface's declared method names, sorted.
func (i *Interface) MethodNames() []string {
	names := make([]string, len(i.methods))
	for n, m := range i.methods {
		names[n] = m.name
	}
	return names
}

// ErrorNames returns the interface's declared error names, sorted.
func (i *Interface) ErrorNames() []string {
	return append([]string(nil), i.errors...)
}

// FindError reports whether error is one of the interface's declared
// errors.
func (i *Interface) FindError(name string) bool {
	idx := sort.SearchStrings(i.errors, name)
	return idx < len(i.errors) && i.errors[idx] == name
}

func (i *Interface) findMethodIndex(name string) (int, bool) {
	idx := sort.Search(len(i.methods), func(n int) bool { return i.methods[n].name >= name })
	if idx < len(i.methods) && i.methods[idx].name == name {
		return idx, true
	}
	return idx, false
}

// FindMethod returns the handler bound to method, if the interface
// declares that method and a handler has been set for it.
func (i *Interface) FindMethod(name string) (HandlerFunc, bool) {
	idx, found := i.findMethodIndex(name)
	if !found || i.methods[idx].handler == nil {
		return nil, false
	}
	return i.methods[idx].handler, true
}

// HasMethod reports whether the interface declares method, regardless
// of whether a handler has been bound to it yet.
func (i *Interface) HasMethod(name string) bool {
	_, found := i.findMethodIndex(name)
	return found
}

// SetMethod binds handler to an already-declared method, replacing any
// previous binding. It fails if the interface doesn't declare method.
func (i *Interface) SetMethod(name string, handler HandlerFunc) error {
	idx, found := i.findMethodIndex(name)
	if !found {
		return varlinkerr.Newf("interface %s has no method %q to bind", i.name, name)
	}
	i.methods[idx].handler = handler
	return nil
}

// interfaceNameValid mirrors interface_name_valid: lowercase
// dot-separated reverse-DNS-style names, 3-255 bytes, may contain
// digits and hyphens, must not start or end with '.' or '-', must
// contain at least one '.' and at least one letter, and a '.' may not
// immediately follow another '.'.
func interfaceNameValid(name string) error {
	n := len(name)
	if n < 3 || n > 255 {
		return varlinkerr.Newf("interface name %q has invalid length", name)
	}
	if name[0] == '.' || name[n-1] == '.' {
		return varlinkerr.Newf("interface name %q cannot start or end with '.'", name)
	}
	if name[0] == '-' || name[n-1] == '-' {
		return varlinkerr.Newf("interface name %q cannot start or end with '-'", name)
	}

	hasDot := false
	hasAlpha := false
	for i := 0; i < n; i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
			hasAlpha = true
		case c >= '0' && c <= '9':
		case c == '.':
			if i > 0 && name[i-1] == '.' {
				return varlinkerr.Newf("interface name %q has consecutive '.'", name)
			}
			if !hasAlpha {
				return varlinkerr.Newf("interface name %q has '.' before any letter", name)
			}
			hasDot = true
		case c == '-':
			if i > 0 && name[i-1] == '.' {
				return varlinkerr.Newf("interface name %q has '-' following '.'", name)
			}
		default:
			return varlinkerr.Newf("interface name %q contains invalid character %q", name, c)
		}
	}
	if !hasDot || !hasAlpha {
		return varlinkerr.Newf("interface name %q must contain a letter and a '.'", name)
	}
	return nil
}

// memberNameValid mirrors member_name_valid: "[A-Z][A-Za-z0-9]*".
func memberNameValid(name string) error {
	if name == "" {
		return varlinkerr.New("member name is empty")
	}
	if name[0] < 'A' || name[0] > 'Z' {
		return varlinkerr.Newf("member name %q must start with an uppercase letter", name)
	}
	for i := 1; i < len(name); i++ {
		c := name[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return varlinkerr.Newf("member name %q contains invalid character %q", name, c)
		}
	}
	return nil
}

// Parse parses a complete "interface NAME" description and the
// type/method/error declarations that follow it.
//
// Validation order deliberately matches the original driver: the
// interface name is validated first; then, across the flat list of
// type/method/error member names collected while parsing, uniqueness is
// checked *before* each individual member name's shape is validated.
// Two members sharing the same malformed name are therefore reported as
// "not unique" rather than "invalid name" — a quirk of the original
// parser preserved here rather than silently fixed.
func Parse(description string) (*Interface, error) {
	sc := wire.NewScanner(description, true)

	if err := sc.ReadKeyword("interface"); err != nil {
		return nil, varlinkerr.Wrap(err, "expected \"interface\" keyword")
	}
	name, err := sc.ReadWord()
	if err != nil {
		return nil, varlinkerr.Wrap(err, "expected interface name")
	}

	iface := &Interface{name: name, description: description}
	var members []string
	var methodNames []string
	var errorNames []string

	for sc.Peek() != 0 {
		switch {
		case sc.ReadKeyword("type") == nil:
			word, err := readTypeOrErrorBody(sc)
			if err != nil {
				return nil, varlinkerr.Wrap(err, "malformed type declaration")
			}
			members = append(members, word)

		case sc.ReadKeyword("method") == nil:
			word, err := readMethodBody(sc)
			if err != nil {
				return nil, varlinkerr.Wrap(err, "malformed method declaration")
			}
			members = append(members, word)
			methodNames = append(methodNames, word)

		case sc.ReadKeyword("error") == nil:
			word, err := readTypeOrErrorBody(sc)
			if err != nil {
				return nil, varlinkerr.Wrap(err, "malformed error declaration")
			}
			members = append(members, word)
			errorNames = append(errorNames, word)

		default:
			return nil, varlinkerr.New("expected \"type\", \"method\", or \"error\"")
		}
	}

	if err := interfaceNameValid(name); err != nil {
		return nil, err
	}

	sort.Strings(members)
	for i := 0; i+1 < len(members); i++ {
		if members[i] == members[i+1] {
			return nil, varlinkerr.Newf("member %q is not unique in interface %s", members[i], name)
		}
	}
	for _, m := range members {
		if err := memberNameValid(m); err != nil {
			return nil, err
		}
	}

	sort.Strings(methodNames)
	iface.methods = make([]boundMethod, len(methodNames))
	for i, m := range methodNames {
		iface.methods[i] = boundMethod{name: m}
	}

	sort.Strings(errorNames)
	iface.errors = errorNames

	return iface, nil
}

// readTypeOrErrorBody consumes "NAME(...)", skipping the unparsed type
// body between the parentheses, and returns NAME.
func readTypeOrErrorBody(sc *wire.Scanner) (string, error) {
	word, err := sc.ReadWord()
	if err != nil {
		return "", err
	}
	if err := sc.ReadOperator("("); err != nil {
		return "", err
	}
	if err := sc.ReadOperatorSkip(")"); err != nil {
		return "", err
	}
	return word, nil
}

// readMethodBody consumes "NAME(...) -> (...)" and returns NAME.
func readMethodBody(sc *wire.Scanner) (string, error) {
	word, err := sc.ReadWord()
	if err != nil {
		return "", err
	}
	if err := sc.ReadOperator("("); err != nil {
		return "", err
	}
	if err := sc.ReadOperatorSkip(")"); err != nil {
		return "", err
	}
	if err := sc.ReadOperator("->"); err != nil {
		return "", err
	}
	if err := sc.ReadOperator("("); err != nil {
		return "", err
	}
	if err := sc.ReadOperatorSkip(")"); err != nil {
		return "", err
	}
	return word, nil
}

// ShortName returns the last dot-separated component of a
// fully-qualified interface name.
func ShortName(interfaceName string) string {
	idx := strings.LastIndexByte(interfaceName, '.')
	if idx < 0 {
		return interfaceName
	}
	return interfaceName[idx+1:]
}
