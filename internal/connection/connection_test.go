package connection

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varlink/govarlink/internal/fsm"
	"github.com/varlink/govarlink/internal/idl"
	"github.com/varlink/govarlink/internal/message"
	"github.com/varlink/govarlink/internal/schema"
	"github.com/varlink/govarlink/internal/varlinkerr"
	"github.com/varlink/govarlink/internal/wire"
)

// fakeDispatcher lets tests control what a "call" does without pulling
// in the service package, keeping this test package's dependency one
// direction only.
type fakeDispatcher struct {
	handle    func(ctx context.Context, call *message.Call, r idl.Replier) error
	validator func(callMethod, errorName string) error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, call *message.Call, r idl.Replier) error {
	return f.handle(ctx, call, r)
}

func (f *fakeDispatcher) ValidateErrorName(callMethod, errorName string) error {
	if f.validator != nil {
		return f.validator(callMethod, errorName)
	}
	return nil
}

func echoDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		handle: func(_ context.Context, call *message.Call, r idl.Replier) error {
			return r.Reply(call.Parameters, false)
		},
	}
}

func TestConnection_SimpleCallReturnsToIdle(t *testing.T) {
	c := New(echoDispatcher(), nil)
	require.NoError(t, c.HandleCall(context.Background(), []byte(`{"method":"org.example.Ping"}`)))
	assert.Equal(t, StateIdle, c.State())

	data, err := c.Recv(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(data), "\x00"))
	assert.Contains(t, string(data), `"parameters":{}`)
}

func TestConnection_OnewayCallDiscardsRepliesAndReturnsToIdle(t *testing.T) {
	replied := false
	d := &fakeDispatcher{
		handle: func(_ context.Context, call *message.Call, r idl.Replier) error {
			err := r.Reply(call.Parameters, false)
			replied = err == nil
			return nil
		},
	}
	c := New(d, nil)
	require.NoError(t, c.HandleCall(context.Background(), []byte(`{"method":"org.example.Ping","oneway":true}`)))
	assert.Equal(t, StateIdle, c.State())
	assert.True(t, replied, "Reply should report success even though it is silently discarded")

	_, overrun, ok := c.TryRecv()
	assert.False(t, ok)
	assert.False(t, overrun)
}

func TestConnection_ContinuesWithoutMoreIsRejected(t *testing.T) {
	d := &fakeDispatcher{
		handle: func(_ context.Context, call *message.Call, r idl.Replier) error {
			return r.Reply(call.Parameters, true)
		},
	}
	c := New(d, nil)
	err := c.HandleCall(context.Background(), []byte(`{"method":"org.example.Ping"}`))
	assert.Error(t, err)
	assert.Equal(t, StateIdle, c.State())
}

func TestConnection_StreamingCallStaysBusyUntilFinalReply(t *testing.T) {
	var observedState fsm.State
	d := &fakeDispatcher{
		handle: func(_ context.Context, call *message.Call, r idl.Replier) error {
			require.NoError(t, r.Reply(call.Parameters, true))
			return nil
		},
	}
	c := New(d, nil)
	require.NoError(t, c.HandleCall(context.Background(), []byte(`{"method":"org.example.Watch","more":true}`)))
	observedState = c.State()
	assert.Equal(t, StateStreaming, observedState)

	require.NoError(t, c.Reply(wire.NewObject(), false))
	assert.Equal(t, StateIdle, c.State())
}

func TestConnection_RejectsSecondCallWhileBusy(t *testing.T) {
	block := make(chan struct{})
	d := &fakeDispatcher{
		handle: func(_ context.Context, call *message.Call, r idl.Replier) error {
			<-block
			return r.Reply(call.Parameters, false)
		},
	}
	c := New(d, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = c.HandleCall(context.Background(), []byte(`{"method":"org.example.Watch","more":true}`))
	}()

	require.Eventually(t, func() bool {
		return c.State() != StateIdle
	}, time.Second, time.Millisecond)

	err := c.HandleCall(context.Background(), []byte(`{"method":"org.example.Ping"}`))
	assert.Error(t, err)

	close(block)
	wg.Wait()
}

func TestConnection_OnewayCombinedWithMoreIsRejected(t *testing.T) {
	c := New(echoDispatcher(), nil)
	err := c.HandleCall(context.Background(), []byte(`{"method":"org.example.Ping","oneway":true,"more":true}`))
	assert.Error(t, err)
}

func TestConnection_OverrunSetWhenBufferExceedsLimit(t *testing.T) {
	d := &fakeDispatcher{
		handle: func(_ context.Context, call *message.Call, r idl.Replier) error {
			// The first reply fills the outbox past the limit; the next
			// one finds it over the limit and is dropped.
			big := wire.NewObject()
			require.NoError(t, big.SetString("blob", strings.Repeat("x", maxOutboxBytes+1)))
			require.NoError(t, r.Reply(big, true))
			return r.Reply(wire.NewObject(), false)
		},
	}
	c := New(d, nil)
	err := c.HandleCall(context.Background(), []byte(`{"method":"org.example.Ping","more":true}`))
	assert.True(t, varlinkerr.IsOverrun(err))

	_, overrun, ok := c.TryRecv()
	assert.True(t, ok)
	assert.True(t, overrun)
}

func TestConnection_ReplyErrorValidatesInterface(t *testing.T) {
	var replyErr error
	d := &fakeDispatcher{
		handle: func(_ context.Context, _ *message.Call, r idl.Replier) error {
			replyErr = r.ReplyError("org.other.SomeError", nil)
			return nil
		},
		validator: func(callMethod, errorName string) error {
			return varlinkerr.New("error interface does not match method interface")
		},
	}
	c := New(d, nil)
	err := c.HandleCall(context.Background(), []byte(`{"method":"org.example.Ping"}`))
	require.NoError(t, err, "Dispatch itself succeeds; ReplyError's failure is surfaced to the handler, not HandleCall")
	assert.Error(t, replyErr)
	assert.Equal(t, StateIdle, c.State())
}

func TestConnection_RecvUnblocksOnClose(t *testing.T) {
	c := New(echoDispatcher(), nil)
	done := make(chan error, 1)
	go func() {
		_, err := c.Recv(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	c.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Recv did not unblock after Close")
	}
}

func TestConnection_CloseInvokesCallbackOnce(t *testing.T) {
	c := New(echoDispatcher(), nil)
	var calls int
	c.SetClosedCallback(func(*Connection) { calls++ })
	c.Close()
	c.Close()
	assert.Equal(t, 1, calls)
}

func newInitializedSchemaValidator(t *testing.T) *schema.Validator {
	t.Helper()
	v := schema.NewValidator(nil)
	require.NoError(t, v.Initialize(context.Background()))
	return v
}

func TestConnection_EnvelopeValidatorRejectsMalformedCallBeforeDispatch(t *testing.T) {
	dispatched := false
	d := &fakeDispatcher{handle: func(_ context.Context, call *message.Call, r idl.Replier) error {
		dispatched = true
		return r.Reply(wire.NewObject(), false)
	}}
	c := New(d, nil)
	c.SetEnvelopeValidator(newInitializedSchemaValidator(t))

	err := c.HandleCall(context.Background(), []byte(`{"bogusField":true}`))
	assert.Error(t, err)
	assert.False(t, dispatched, "schema rejection must happen before the handler runs")
}

func TestConnection_EnvelopeValidatorAllowsWellFormedCall(t *testing.T) {
	c := New(echoDispatcher(), nil)
	c.SetEnvelopeValidator(newInitializedSchemaValidator(t))

	err := c.HandleCall(context.Background(), []byte(`{"method":"org.example.Ping"}`))
	assert.NoError(t, err)
}

func TestConnection_EnvelopeValidatorDisabledByDefault(t *testing.T) {
	c := New(echoDispatcher(), nil)
	// No SetEnvelopeValidator call: a malformed-by-schema-but-wire-valid
	// envelope (unknown extra field) still reaches the handler.
	err := c.HandleCall(context.Background(), []byte(`{"method":"org.example.Ping","extra":1}`))
	assert.NoError(t, err)
}
