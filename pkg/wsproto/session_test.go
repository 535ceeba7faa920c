package wsproto

import (
	"bytes"
	"strings"
	"testing"
)

func TestSessionFullHandshakeThenFrame(t *testing.T) {
	server := NewSession(RoleServer, &Chain{}, DefaultConfig())
	client := NewSession(RoleClient, &Chain{}, DefaultConfig())

	if server.State() != StateAwaitingHandshake || client.State() != StateAwaitingHandshake {
		t.Fatalf("fresh sessions should start AwaitingHandshake")
	}

	var wire bytes.Buffer
	reqEnv := &Envelope{Kind: EnvelopeClientHandshakeRequest, Request: &HandshakeRequest{
		Target: "/chat", Host: "example.com",
	}}
	if err := client.Encode(reqEnv, &wire); err != nil {
		t.Fatalf("client Encode(request): %v", err)
	}
	if client.State() != StateAwaitingHandshake {
		t.Fatalf("client must not open before the response arrives")
	}

	consumed, serverEnv, err := server.Decode(wire.Bytes())
	if err != nil {
		t.Fatalf("server Decode(request): %v", err)
	}
	if consumed != wire.Len() {
		t.Fatalf("server consumed = %d, want %d", consumed, wire.Len())
	}
	if serverEnv.Kind != EnvelopeClientHandshakeRequest {
		t.Fatalf("server envelope kind = %v", serverEnv.Kind)
	}
	if server.State() != StateAwaitingHandshake {
		t.Fatalf("server must not open before it has written its own response")
	}

	var respWire bytes.Buffer
	respEnv := &Envelope{Kind: EnvelopeServerHandshakeResponse, Response: &HandshakeResponse{StatusCode: 101}}
	if err := server.Encode(respEnv, &respWire); err != nil {
		t.Fatalf("server Encode(response): %v", err)
	}
	if server.State() != StateOpen {
		t.Fatalf("server should be Open immediately after encoding its response")
	}

	_, clientEnv, err := client.Decode(respWire.Bytes())
	if err != nil {
		t.Fatalf("client Decode(response): %v", err)
	}
	if clientEnv.Kind != EnvelopeServerHandshakeResponse || clientEnv.Response.StatusCode != 101 {
		t.Fatalf("client envelope = %+v", clientEnv)
	}
	if client.State() != StateOpen {
		t.Fatalf("client should be Open after decoding a 101 response")
	}

	var frameWire bytes.Buffer
	msg := &Envelope{Kind: EnvelopeBaseFrame, Frame: &Frame{
		Fin: true, Opcode: OpcodeText, ApplicationData: []byte("hello"),
	}}
	if err := client.Encode(msg, &frameWire); err != nil {
		t.Fatalf("client Encode(frame): %v", err)
	}

	n, serverFrameEnv, err := server.Decode(frameWire.Bytes())
	if err != nil {
		t.Fatalf("server Decode(frame): %v", err)
	}
	if n != frameWire.Len() {
		t.Fatalf("server consumed = %d, want %d", n, frameWire.Len())
	}
	if string(serverFrameEnv.Frame.ApplicationData) != "hello" {
		t.Fatalf("application data = %q", serverFrameEnv.Frame.ApplicationData)
	}
}

// Property 5 — UTF-8 gate: a Binary frame with the same invalid bytes
// succeeds where a Text frame fails.
func TestSessionUTF8Gate(t *testing.T) {
	invalid := []byte{0xff, 0xfe, 0xfd}

	textSession := openedServerSession(t)
	var buf bytes.Buffer
	fc := FrameCodec{Role: RoleClient}
	if err := fc.Encode(&Frame{Fin: true, Opcode: OpcodeText, ApplicationData: invalid}, &buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, _, err := textSession.Decode(buf.Bytes()); err == nil {
		t.Fatalf("expected invalid UTF-8 in a Text frame to fail")
	}
	if textSession.State() != StateFailed {
		t.Fatalf("session should latch Failed after a protocol violation")
	}
	// The latch is sticky: subsequent calls return the same error without
	// re-parsing.
	if _, _, err := textSession.Decode(buf.Bytes()); err == nil {
		t.Fatalf("expected the sticky failure to be returned again")
	}

	binarySession := openedServerSession(t)
	var buf2 bytes.Buffer
	if err := fc.Encode(&Frame{Fin: true, Opcode: OpcodeBinary, ApplicationData: invalid}, &buf2); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, _, err := binarySession.Decode(buf2.Bytes()); err != nil {
		t.Fatalf("Binary frame with the same bytes should succeed: %v", err)
	}
}

// Property 2 at the session level: splitting a frame's wire bytes at any
// index yields ErrPartial on the short half and the same envelope on the
// whole buffer.
func TestSessionResumability(t *testing.T) {
	var buf bytes.Buffer
	fc := FrameCodec{Role: RoleClient}
	payload := bytes.Repeat([]byte{0x42}, 200)
	if err := fc.Encode(&Frame{Fin: true, Opcode: OpcodeBinary, ApplicationData: payload}, &buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	wire := buf.Bytes()

	for k := 1; k < len(wire); k++ {
		s := openedServerSession(t)
		if _, _, err := s.Decode(wire[:k]); err != ErrPartial {
			t.Fatalf("split at %d: Decode(short) = %v, want ErrPartial", k, err)
		}
		_, env, err := s.Decode(wire)
		if err != nil {
			t.Fatalf("split at %d: Decode(whole) failed: %v", k, err)
		}
		if !bytes.Equal(env.Frame.ApplicationData, payload) {
			t.Fatalf("split at %d: payload mismatch", k)
		}
	}
}

func TestSessionNegotiatesSubprotocol(t *testing.T) {
	server := NewSession(RoleServer, &Chain{}, DefaultConfig())
	server.Protocols = []string{"superchat", "chat"}

	lines := []string{
		"GET /chat HTTP/1.1",
		"Host: example.com",
		"Upgrade: websocket",
		"Connection: Upgrade",
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==",
		"Sec-WebSocket-Version: 13",
		"Sec-WebSocket-Protocol: chat, superchat",
	}
	req := []byte(strings.Join(lines, "\r\n") + "\r\n\r\n")
	if _, _, err := server.Decode(req); err != nil {
		t.Fatalf("Decode(request): %v", err)
	}

	resp := &HandshakeResponse{StatusCode: 101}
	var buf bytes.Buffer
	if err := server.Encode(&Envelope{Kind: EnvelopeServerHandshakeResponse, Response: resp}, &buf); err != nil {
		t.Fatalf("Encode(response): %v", err)
	}
	if resp.Subprotocol != "chat" {
		t.Fatalf("Subprotocol = %q, want %q (client's offer order wins the tie-break)", resp.Subprotocol, "chat")
	}
}

func TestSessionRejectsEnvelopeBeforeHandshake(t *testing.T) {
	server := NewSession(RoleServer, &Chain{}, DefaultConfig())
	var buf bytes.Buffer
	err := server.Encode(&Envelope{Kind: EnvelopeBaseFrame, Frame: &Frame{Opcode: OpcodeText, Fin: true}}, &buf)
	if err == nil {
		t.Fatalf("expected an ordering error before the handshake completes")
	}
}

// openedServerSession drives a server Session through a minimal handshake so
// tests can focus on frame-level behavior.
func openedServerSession(t *testing.T) *Session {
	t.Helper()
	server := NewSession(RoleServer, &Chain{}, DefaultConfig())

	req := rawHandshakeRequest()
	if _, _, err := server.Decode(req); err != nil {
		t.Fatalf("server Decode(request): %v", err)
	}
	var buf bytes.Buffer
	if err := server.Encode(&Envelope{Kind: EnvelopeServerHandshakeResponse, Response: &HandshakeResponse{StatusCode: 101}}, &buf); err != nil {
		t.Fatalf("server Encode(response): %v", err)
	}
	if server.State() != StateOpen {
		t.Fatalf("server should be Open")
	}
	return server
}

func rawHandshakeRequest() []byte {
	lines := []string{
		"GET /chat HTTP/1.1",
		"Host: example.com",
		"Upgrade: websocket",
		"Connection: Upgrade",
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==",
		"Sec-WebSocket-Version: 13",
	}
	return []byte(strings.Join(lines, "\r\n") + "\r\n\r\n")
}
