// Package connection implements a single varlink connection: the
// IDLE/CALL_IN_PROGRESS/STREAMING state machine, the lazily-allocated
// reply buffer with its 128 KiB overrun latch, and the synchronous
// call-dispatch contract a transport drives one inbound message at a
// time.
package connection

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/varlink/govarlink/internal/fsm"
	"github.com/varlink/govarlink/internal/idl"
	"github.com/varlink/govarlink/internal/logging"
	"github.com/varlink/govarlink/internal/message"
	"github.com/varlink/govarlink/internal/varlinkerr"
	"github.com/varlink/govarlink/internal/wire"
)

// Connection states, mirroring the original driver's implicit states
// (conn->method == NULL is idle; a continuing reply keeps it busy past
// the call that produced it).
const (
	StateIdle           fsm.State = "idle"
	StateCallInProgress fsm.State = "call_in_progress"
	StateStreaming      fsm.State = "streaming"
)

const (
	eventCall       fsm.Event = "call"
	eventReplyMore  fsm.Event = "reply_more"
	eventReplyFinal fsm.Event = "reply_final"
)

// maxOutboxBytes is the 128 KiB threshold past which a reply is
// dropped and the connection's overrun latch is set instead, matching
// connection_reply's `buffer_size(conn->buffer) > 128 * 1024` check.
const maxOutboxBytes = 128 * 1024

// initialBufferAlloc mirrors connection_reply's `buffer_new(&conn->buffer, 256)`.
const initialBufferAlloc = 256

// Envelope kinds passed to EnvelopeValidator.Validate, matching
// internal/schema's KindCall/KindReply constants.
const (
	envelopeKindCall  = "call"
	envelopeKindReply = "reply"
)

// Dispatcher resolves and invokes a call's method handler. service.Registry
// implements this interface; connection depends only on the interface so
// the two packages don't need to import each other.
type Dispatcher interface {
	Dispatch(ctx context.Context, call *message.Call, replier idl.Replier) error
	ValidateErrorName(callMethod, errorName string) error
}

// EnvelopeValidator checks a raw JSON envelope against a schema before
// it's parsed or sent, without depending on any one implementation.
// internal/schema.Validator satisfies this interface.
type EnvelopeValidator interface {
	Validate(ctx context.Context, kind string, data []byte) error
}

// ClosedFunc is invoked once when a connection closes.
type ClosedFunc func(conn *Connection)

// Connection tracks one client's in-flight call and pending replies. It
// implements idl.Replier, passed to a method handler at dispatch time.
type Connection struct {
	ID string

	dispatcher Dispatcher
	logger     logging.Logger

	envelopeValidator EnvelopeValidator

	mu       sync.Mutex
	cond     *sync.Cond
	machine  fsm.Machine
	call     *message.Call
	outbox   []byte
	overrun  bool
	closed   bool
	onClosed ClosedFunc
}

// New returns a Connection ready to handle calls, dispatching them
// through d.
func New(d Dispatcher, logger logging.Logger) *Connection {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	c := &Connection{
		ID:         uuid.NewString(),
		dispatcher: d,
		logger:     logger.WithField("connection", ""),
	}
	c.cond = sync.NewCond(&c.mu)

	machine, err := fsm.New(StateIdle, logger).
		AddTransition(fsm.Transition{From: []fsm.State{StateIdle}, Event: eventCall, To: StateCallInProgress}).
		AddTransition(fsm.Transition{From: []fsm.State{StateCallInProgress, StateStreaming}, Event: eventReplyMore, To: StateStreaming}).
		AddTransition(fsm.Transition{From: []fsm.State{StateCallInProgress, StateStreaming}, Event: eventReplyFinal, To: StateIdle}).
		Build()
	if err != nil {
		// Transitions above are fixed and always well-formed; a failure
		// here means the fsm package itself is broken.
		panic(err)
	}
	c.machine = machine
	c.logger = c.logger.WithField("connection", c.ID)
	return c
}

// State returns the connection's current state.
func (c *Connection) State() fsm.State {
	return c.machine.Current()
}

// SetClosedCallback registers a function run once when Close is called.
func (c *Connection) SetClosedCallback(fn ClosedFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

// SetEnvelopeValidator installs an optional schema check run against the
// raw bytes of every inbound call and every outbound reply, in addition
// to (never instead of) the codec's own required-field checks. A nil
// validator (the default) disables this check entirely.
func (c *Connection) SetEnvelopeValidator(v EnvelopeValidator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envelopeValidator = v
}

// HandleCall unpacks and dispatches one inbound call object. It returns
// an error if the connection already has a call in progress (EBUSY in
// the original), the call is malformed, or it illegally combines
// oneway with more. Otherwise it runs the bound handler synchronously,
// exactly as the original driver's write() dispatches within the
// syscall: any Reply/ReplyError calls the handler makes happen before
// HandleCall returns.
func (c *Connection) HandleCall(ctx context.Context, raw []byte) error {
	c.mu.Lock()
	validator := c.envelopeValidator
	c.mu.Unlock()
	if validator != nil {
		if err := validator.Validate(ctx, envelopeKindCall, raw); err != nil {
			return varlinkerr.Wrap(err, "call envelope failed schema validation")
		}
	}

	callObj, err := wire.NewObjectFromString(string(raw))
	if err != nil {
		return varlinkerr.Wrap(err, "malformed call: not a JSON object")
	}
	call, err := message.UnpackCall(callObj)
	if err != nil {
		return err
	}
	if call.Flags.Oneway && call.Flags.More {
		return varlinkerr.New("a call cannot be both oneway and more")
	}

	c.mu.Lock()
	if err := c.machine.Fire(ctx, eventCall); err != nil {
		c.mu.Unlock()
		return varlinkerr.Wrap(err, "connection busy: a call is already in progress")
	}
	c.call = call
	c.mu.Unlock()

	dispatchErr := c.dispatcher.Dispatch(ctx, call, c)

	c.mu.Lock()
	if c.State() == StateCallInProgress {
		// The handler never sent a continuing reply (or never replied at
		// all, or the call was oneway and its replies were discarded):
		// resolve the call and go back to idle, matching write()'s
		// unconditional reset when the stored reply lacks "continues".
		// A handler that left the connection in StateStreaming already
		// sent continues:true and owns the call until its final reply;
		// that state, and c.call, must survive HandleCall's return.
		_ = c.machine.Fire(ctx, eventReplyFinal)
		c.call = nil
	}
	c.mu.Unlock()

	return dispatchErr
}

// Reply implements idl.Replier. A oneway call's replies are silently
// discarded, matching connection_reply's early return for
// VARLINK_CALL_ONEWAY — the handler is not told to stop calling Reply,
// it simply has no observable effect.
func (c *Connection) Reply(parameters *wire.Object, continues bool) error {
	return c.reply("", parameters, continues)
}

// ReplyError implements idl.Replier. error must belong to the same
// interface as the call that's being answered, or to
// org.varlink.service, matching varlink_connection_error.
func (c *Connection) ReplyError(errorName string, parameters *wire.Object) error {
	c.mu.Lock()
	call := c.call
	c.mu.Unlock()
	if call == nil {
		return varlinkerr.New("ReplyError called outside an active call")
	}
	if err := c.dispatcher.ValidateErrorName(call.Method, errorName); err != nil {
		return err
	}
	return c.reply(errorName, parameters, false)
}

func (c *Connection) reply(errorName string, parameters *wire.Object, continues bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.call == nil {
		return varlinkerr.New("reply called outside an active call")
	}
	if c.call.Flags.Oneway {
		return nil
	}
	if continues && !c.call.Flags.More {
		return varlinkerr.New("reply set continues but the call did not set more")
	}

	event := eventReplyFinal
	if continues {
		event = eventReplyMore
	}
	if err := c.machine.Fire(context.Background(), event); err != nil {
		return err
	}

	replyObj, err := message.PackReply(errorName, parameters, continues)
	if err != nil {
		return err
	}

	if len(c.outbox) > maxOutboxBytes {
		c.overrun = true
		c.cond.Broadcast()
		return varlinkerr.Wrap(varlinkerr.ErrOverrun, "reply dropped: output buffer overrun")
	}

	buf := wire.NewBuffer(initialBufferAlloc)
	if err := replyObj.WriteToBuffer(buf); err != nil {
		return err
	}

	if c.envelopeValidator != nil {
		if err := c.envelopeValidator.Validate(context.Background(), envelopeKindReply, []byte(buf.String())); err != nil {
			return varlinkerr.Wrap(err, "reply envelope failed schema validation")
		}
	}

	buf.AddNUL()
	c.outbox = append(c.outbox, buf.Steal()...)
	c.cond.Broadcast()

	return nil
}

// Recv blocks until a reply record is available, the connection is
// closed, or ctx is cancelled. It returns varlinkerr.ErrOverrun exactly
// once per overrun event, matching the original read()'s "signal once
// that we lost one or more messages" comment.
func (c *Connection) Recv(ctx context.Context) ([]byte, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		case <-done:
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.outbox) == 0 && !c.overrun && !c.closed && ctx.Err() == nil {
		c.cond.Wait()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if c.overrun {
		c.overrun = false
		return nil, varlinkerr.ErrOverrun
	}
	if len(c.outbox) == 0 {
		return nil, nil
	}
	data := c.outbox
	c.outbox = nil
	return data, nil
}

// TryRecv returns buffered reply bytes without blocking, reporting
// false if nothing is ready. It is the non-blocking counterpart used by
// a poll-driven transport, matching service_io_fop_read's EAGAIN path.
func (c *Connection) TryRecv() (data []byte, overrun bool, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overrun {
		c.overrun = false
		return nil, true, true
	}
	if len(c.outbox) == 0 {
		return nil, false, false
	}
	data = c.outbox
	c.outbox = nil
	return data, false, true
}

// Close marks the connection closed, wakes any blocked reader, and
// invokes the closed callback exactly once.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	cb := c.onClosed
	c.cond.Broadcast()
	c.mu.Unlock()

	if cb != nil {
		cb(c)
	}
}
