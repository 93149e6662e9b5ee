// Package transport implements subscriber-facing delivery mechanisms for the
// fanout engine: server-sent events and websockets for browser clients,
// webhooks for server consumers, and a debug transport that logs deliveries.
//
// Each transport serves exactly one connection and reports a send failure
// when that connection is gone, which stops the owning delivery loop.
package transport
