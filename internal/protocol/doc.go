// Package protocol owns the runtime protocol registry.
//
// A Registry maps protocol ids to compiled registrations and module ids to
// modules. It is filled once by InitProtocol and is read-only afterwards, so
// Read, Write and every lookup are safe for concurrent use without locking.
// InitProtocol itself must run before any traffic: callers keep the
// registry quiescent until it returns.
//
// Wire frame:
//
//	[protocol id: int16, big-endian][field payload]
//
// The frame carries no length; framing belongs to the transport.
package protocol
