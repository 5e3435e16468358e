package main

import (
	"context"

	"github.com/varlink/govarlink/internal/idl"
	"github.com/varlink/govarlink/internal/service"
	"github.com/varlink/govarlink/internal/wire"
)

// demoInterfaceDescription is a trivial interface registered alongside
// org.varlink.service so there's something to call against a freshly
// started varlinkd beyond introspection. It owns no hardware device and
// registers no callbacks beyond this one handler.
const demoInterfaceDescription = `
interface org.example.demo

method Ping(message: string) -> (message: string)
`

func registerDemoInterface(registry *service.Registry) error {
	return registry.AddInterface(demoInterfaceDescription, map[string]idl.HandlerFunc{
		"Ping": handlePing,
	})
}

func handlePing(_ context.Context, r idl.Replier, _ string, parameters *wire.Object) error {
	message, _ := parameters.GetString("message")

	reply := wire.NewObject()
	if err := reply.SetString("message", message); err != nil {
		return err
	}
	return r.Reply(reply, false)
}
