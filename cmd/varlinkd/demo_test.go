package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varlink/govarlink/internal/message"
	"github.com/varlink/govarlink/internal/service"
	"github.com/varlink/govarlink/internal/wire"
)

type recordingReplier struct {
	parameters *wire.Object
	continues  bool
	errorName  string
}

func (r *recordingReplier) Reply(parameters *wire.Object, continues bool) error {
	r.parameters = parameters
	r.continues = continues
	return nil
}

func (r *recordingReplier) ReplyError(name string, _ *wire.Object) error {
	r.errorName = name
	return nil
}

func newTestRegistry(t *testing.T) *service.Registry {
	t.Helper()
	registry, err := service.NewRegistry(service.Info{
		Vendor:  "Example",
		Product: "govarlink-test",
		Version: "0.0.0",
		URL:     "https://example.org",
	}, nil)
	require.NoError(t, err)
	return registry
}

func TestRegisterDemoInterface_AddsPingToRegistry(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registerDemoInterface(registry))

	params := wire.NewObject()
	require.NoError(t, params.SetString("message", "hello"))

	var replier recordingReplier
	call := &message.Call{Method: "org.example.demo.Ping", Parameters: params}
	require.NoError(t, registry.Dispatch(context.Background(), call, &replier))

	assert.Empty(t, replier.errorName)
	require.NotNil(t, replier.parameters)
	got, ok := replier.parameters.GetString("message")
	require.True(t, ok)
	assert.Equal(t, "hello", got)
}

func TestRegisterDemoInterface_RejectsDoubleRegistration(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registerDemoInterface(registry))
	assert.Error(t, registerDemoInterface(registry))
}

func TestHandlePing_EchoesMessageParameter(t *testing.T) {
	params := wire.NewObject()
	require.NoError(t, params.SetString("message", "ping"))

	var replier recordingReplier
	require.NoError(t, handlePing(context.Background(), &replier, "org.example.demo.Ping", params))

	got, ok := replier.parameters.GetString("message")
	require.True(t, ok)
	assert.Equal(t, "ping", got)
	assert.False(t, replier.continues)
}

func TestHandlePing_MissingMessageEchoesEmptyString(t *testing.T) {
	params := wire.NewObject()

	var replier recordingReplier
	require.NoError(t, handlePing(context.Background(), &replier, "org.example.demo.Ping", params))

	got, ok := replier.parameters.GetString("message")
	require.True(t, ok)
	assert.Equal(t, "", got)
}
