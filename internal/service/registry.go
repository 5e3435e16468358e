// Package service implements the varlink interface registry: parsing
// and storing registered interfaces, resolving a fully-qualified method
// name to an interface and bare method name, dispatching calls to
// their bound handler with the documented not-found/not-implemented
// precedence, and the built-in org.varlink.service interface every
// service exposes for introspection.
package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/varlink/govarlink/internal/idl"
	"github.com/varlink/govarlink/internal/logging"
	"github.com/varlink/govarlink/internal/message"
	"github.com/varlink/govarlink/internal/varlinkerr"
	"github.com/varlink/govarlink/internal/wire"
)

// orgVarlinkService is the name of the built-in introspection interface
// every registry carries, matching "org.varlink.service".
const orgVarlinkService = "org.varlink.service"

// orgVarlinkServiceDescription is the IDL for the built-in interface,
// registered the same way a caller-supplied interface is.
const orgVarlinkServiceDescription = `
interface org.varlink.service

method GetInfo() -> (
	vendor: string,
	product: string,
	version: string,
	url: string,
	interfaces: []string
)

method GetInterfaceDescription(interface: string) -> (description: string)

error InterfaceNotFound (interface: string)
error MethodNotFound (method: string)
error MethodNotImplemented (method: string)
error InvalidParameter (parameter: string)
`

// Info is the static identity a registry reports from GetInfo.
type Info struct {
	Vendor  string
	Product string
	Version string
	URL     string
}

// Registry holds every interface a service has registered, sorted by
// name, and dispatches incoming calls to their bound handler. A
// Registry is safe for concurrent use: registration and dispatch share
// one mutex, matching the original driver's single service-wide lock.
type Registry struct {
	info Info

	mu     sync.RWMutex
	ifaces []*idl.Interface
	logger logging.Logger
}

// NewRegistry returns a Registry pre-populated with the built-in
// org.varlink.service interface.
func NewRegistry(info Info, logger logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	r := &Registry{info: info, logger: logger.WithField("component", "service")}

	builtin, err := idl.Parse(orgVarlinkServiceDescription)
	if err != nil {
		return nil, varlinkerr.Wrap(err, "failed to parse built-in org.varlink.service interface")
	}
	if err := builtin.SetMethod("GetInfo", r.getInfo); err != nil {
		return nil, err
	}
	if err := builtin.SetMethod("GetInterfaceDescription", r.getInterfaceDescription); err != nil {
		return nil, err
	}
	r.ifaces = append(r.ifaces, builtin)

	return r, nil
}

// AddInterface parses description and registers it, binding handlers
// by method name. A method declared in the IDL with no entry in
// handlers is registered but unimplemented: dispatching a call to it
// reports MethodNotImplemented, matching a nil callback pointer in the
// original registry.
func (r *Registry) AddInterface(description string, handlers map[string]idl.HandlerFunc) error {
	iface, err := idl.Parse(description)
	if err != nil {
		return err
	}
	for name, handler := range handlers {
		if err := iface.SetMethod(name, handler); err != nil {
			return varlinkerr.Wrapf(err, "registering handler for %s.%s", iface.Name(), name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.ifaces {
		if existing.Name() == iface.Name() {
			return varlinkerr.Newf("interface %q already registered", iface.Name())
		}
	}
	r.ifaces = append(r.ifaces, iface)
	sort.Slice(r.ifaces, func(i, j int) bool { return r.ifaces[i].Name() < r.ifaces[j].Name() })

	return nil
}

// findInterface performs the binary search over the sorted interface
// table, matching the original driver's bsearch against ifaces_compare.
func (r *Registry) findInterface(name string) (*idl.Interface, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i := sort.Search(len(r.ifaces), func(i int) bool { return r.ifaces[i].Name() >= name })
	if i < len(r.ifaces) && r.ifaces[i].Name() == name {
		return r.ifaces[i], true
	}
	return nil, false
}

// resolve splits a fully-qualified method name into the interface
// owning it and the bare method name, matching
// varlink_service_find_interface: a name with no '.' or whose prefix
// doesn't resolve both end up reported the same way by the caller.
func (r *Registry) resolve(fqMethod string) (*idl.Interface, string, bool) {
	dot := strings.LastIndex(fqMethod, ".")
	if dot < 0 {
		return nil, "", false
	}
	iface, ok := r.findInterface(fqMethod[:dot])
	if !ok {
		return nil, "", false
	}
	return iface, fqMethod[dot+1:], true
}

// Dispatch resolves call.Method and invokes its bound handler,
// matching varlink_service_dispatch_call's precedence exactly:
// interface resolution failure (malformed name or unknown interface)
// reports InterfaceNotFound, an unresolved method reports
// MethodNotFound, a declared-but-unbound method reports
// MethodNotImplemented, and only then is the handler invoked. Each
// failure is reported as an error reply through replier, not returned
// as a Go error — for these failures Dispatch only returns an error if
// sending that reply itself fails. Otherwise it returns whatever the
// handler returns.
func (r *Registry) Dispatch(ctx context.Context, call *message.Call, replier idl.Replier) error {
	iface, methodName, ok := r.resolve(call.Method)
	if !ok {
		return replier.ReplyError(varlinkerr.ErrorInterfaceNotFound, nil)
	}

	if !iface.HasMethod(methodName) {
		return replier.ReplyError(varlinkerr.ErrorMethodNotFound, nil)
	}
	handler, bound := iface.FindMethod(methodName)
	if !bound {
		return replier.ReplyError(varlinkerr.ErrorMethodNotImplemented, nil)
	}

	return handler(ctx, replier, call.Method, call.Parameters)
}

// ValidateErrorName implements connection.Dispatcher, matching
// varlink_connection_error's cross-interface check: the error must
// belong to a known interface and a known error of that interface, and
// that interface must be either org.varlink.service or exactly the
// interface owning callMethod.
func (r *Registry) ValidateErrorName(callMethod, errorName string) error {
	errIface, errName, ok := r.resolve(errorName)
	if !ok {
		return varlinkerr.Newf("error %q does not belong to a known interface", errorName)
	}
	if !errIface.FindError(errName) {
		return varlinkerr.Newf("%q is not a declared error of %s", errName, errIface.Name())
	}
	if errIface.Name() == orgVarlinkService {
		return nil
	}

	methodIface, _, ok := r.resolve(callMethod)
	if !ok {
		return varlinkerr.Newf("call method %q does not belong to a known interface", callMethod)
	}
	if errIface.Name() != methodIface.Name() {
		return varlinkerr.Newf("error %q does not belong to the interface of method %q", errorName, callMethod)
	}
	return nil
}

func (r *Registry) getInfo(_ context.Context, replier idl.Replier, _ string, _ *wire.Object) error {
	r.mu.RLock()
	names := make([]string, 0, len(r.ifaces))
	for _, iface := range r.ifaces {
		names = append(names, iface.Name())
	}
	r.mu.RUnlock()

	info := wire.NewObject()
	if err := info.SetString("vendor", r.info.Vendor); err != nil {
		return err
	}
	if err := info.SetString("product", r.info.Product); err != nil {
		return err
	}
	if err := info.SetString("version", r.info.Version); err != nil {
		return err
	}
	if err := info.SetString("url", r.info.URL); err != nil {
		return err
	}
	ifaces := wire.NewArray()
	for _, name := range names {
		if err := ifaces.AppendString(name); err != nil {
			return err
		}
	}
	if err := info.SetArray("interfaces", ifaces); err != nil {
		return err
	}

	return replier.Reply(info, false)
}

func (r *Registry) getInterfaceDescription(_ context.Context, replier idl.Replier, _ string, parameters *wire.Object) error {
	name, ok := parameters.GetString("interface")
	if !ok {
		return replier.ReplyError(varlinkerr.ErrorInvalidParameter, nil)
	}

	iface, ok := r.findInterface(name)
	if !ok {
		return replier.ReplyError(varlinkerr.ErrorInterfaceNotFound, nil)
	}

	reply := wire.NewObject()
	if err := reply.SetString("description", iface.Description()); err != nil {
		return err
	}
	return replier.Reply(reply, false)
}
