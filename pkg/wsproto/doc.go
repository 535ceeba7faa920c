// Package wsproto implements the stateful codec core of an RFC 6455
// WebSocket endpoint: parsing and serializing the opening HTTP handshake in
// either direction, parsing and serializing base frames once the handshake
// completes, and running an ordered chain of negotiated extensions over
// those frames.
//
// The package never opens a socket, spawns a goroutine, or performs TLS.
// Every exported operation is a pure function of a byte buffer and the
// Session's own state: callers own the transport and the buffer growth
// policy.
package wsproto
