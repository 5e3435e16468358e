package transport

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/varlink/govarlink/internal/service"
)

func newTestRegistry(t *testing.T) *service.Registry {
	t.Helper()
	reg, err := service.NewRegistry(service.Info{
		Vendor: "Acme", Product: "Widget", Version: "1.0", URL: "https://example.org",
	}, nil)
	require.NoError(t, err)
	return reg
}

func TestServer_DispatchesGetInfoOverInMemoryDevices(t *testing.T) {
	pair := NewInMemoryDevicePair()
	listener := NewInMemoryListener()
	listener.Offer(pair.Server)

	reg := newTestRegistry(t)
	srv := NewServer(listener, reg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()

	require.NoError(t, pair.Client.WriteMessage(ctx, []byte(`{"method":"org.varlink.service.GetInfo"}`)))

	readCtx, readCancel := context.WithTimeout(ctx, time.Second)
	defer readCancel()
	reply, err := pair.Client.ReadMessage(readCtx)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(string(reply), "\x00"))
	assert.Contains(t, string(reply), `"vendor":"Acme"`)
}

func TestServer_OversizedMessageRejectedAtDevice(t *testing.T) {
	pair := NewInMemoryDevicePair()
	big := make([]byte, MaxMessageBytes+1)
	err := pair.Client.WriteMessage(context.Background(), big)
	assert.Error(t, err)
}

func TestInMemoryListener_AcceptReturnsOfferedDevice(t *testing.T) {
	listener := NewInMemoryListener()
	pair := NewInMemoryDevicePair()
	listener.Offer(pair.Server)

	dev, err := listener.Accept(context.Background())
	require.NoError(t, err)
	assert.Same(t, pair.Server, dev)
}

func TestInMemoryListener_AcceptRespectsContextCancellation(t *testing.T) {
	listener := NewInMemoryListener()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := listener.Accept(ctx)
	assert.Error(t, err)
}

func TestInMemoryDevice_CloseUnblocksPendingRead(t *testing.T) {
	pair := NewInMemoryDevicePair()
	done := make(chan error, 1)
	go func() {
		_, err := pair.Client.ReadMessage(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, pair.Client.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("ReadMessage did not unblock after Close")
	}
}
