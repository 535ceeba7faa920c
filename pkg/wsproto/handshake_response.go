package wsproto

import "github.com/valyala/fasthttp"

// HandshakeResponse is the server→client opening handshake (spec §3). Non-101
// status codes are surfaced verbatim rather than treated as a parse failure
// — only an actual 101 response is checked against the issued key.
type HandshakeResponse struct {
	StatusCode int

	Upgrade     string
	Connection  string
	Accept      string
	Subprotocol string
	Extensions  string
}

// ParseResponse parses a server handshake response out of the head of buf.
func ParseResponse(buf []byte, cfg Config) (resp *HandshakeResponse, consumed int, err error) {
	end := findHeaderBlock(buf)
	if end < 0 {
		if cfg.MaxHeaderBytes > 0 && uint32(len(buf)) > cfg.MaxHeaderBytes {
			return nil, 0, ErrHandshakeTooLarge
		}
		return nil, 0, ErrPartial
	}
	if cfg.MaxHeaderBytes > 0 && uint32(end) > cfg.MaxHeaderBytes {
		return nil, 0, ErrHandshakeTooLarge
	}

	var h fasthttp.ResponseHeader
	if parseErr := h.Read(bufioOf(buf[:end])); parseErr != nil {
		return nil, 0, &BadHandshake{Reason: "malformed-status-line"}
	}

	resp = &HandshakeResponse{
		StatusCode:  h.StatusCode(),
		Upgrade:     string(h.Peek("Upgrade")),
		Connection:  string(h.Peek("Connection")),
		Accept:      string(h.Peek("Sec-WebSocket-Accept")),
		Subprotocol: string(h.Peek("Sec-WebSocket-Protocol")),
		Extensions:  string(h.Peek("Sec-WebSocket-Extensions")),
	}
	return resp, end, nil
}

// EncodeResponse builds the 101 Switching Protocols response for the client
// key clientKey, echoing subprotocol and extensionsAccepted when non-empty
// (spec §4.2). extensionsAccepted is expected to already be a trimmed,
// comma-separated RFC-style list.
func EncodeResponse(clientKey, subprotocol, extensionsAccepted string) []byte {
	var h fasthttp.ResponseHeader
	h.SetStatusCode(101)
	h.SetStatusMessage([]byte("Switching Protocols"))
	h.Set("Upgrade", "websocket")
	h.Set("Connection", "Upgrade")
	h.Set("Sec-WebSocket-Accept", computeAcceptKey(clientKey))
	if subprotocol != "" {
		h.Set("Sec-WebSocket-Protocol", subprotocol)
	}
	if extensionsAccepted != "" {
		h.Set("Sec-WebSocket-Extensions", extensionsAccepted)
	}

	wire := make([]byte, len(h.Header()))
	copy(wire, h.Header())
	return wire
}

// clientHandshakeCodec is the client-side resumable Handshake Codec (spec
// §4.3): it remembers the key it issued so Decode can verify the peer's
// Sec-WebSocket-Accept once the response arrives.
type clientHandshakeCodec struct {
	pendingKey string
}

func (c *clientHandshakeCodec) encode(target, host string, protocols []string, extensionsOffered string) (*HandshakeRequest, []byte, error) {
	req, wire, err := EncodeRequest(target, host, protocols, extensionsOffered)
	if err != nil {
		return nil, nil, err
	}
	c.pendingKey = req.Key
	return req, wire, nil
}

func (c *clientHandshakeCodec) decode(buf []byte, cfg Config) (*HandshakeResponse, int, error) {
	resp, n, err := ParseResponse(buf, cfg)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode == 101 {
		if !headerContainsToken(resp.Upgrade, "websocket") {
			return nil, 0, &BadHandshake{Reason: "missing-upgrade-websocket"}
		}
		if !headerContainsToken(resp.Connection, "upgrade") {
			return nil, 0, &BadHandshake{Reason: "missing-connection-upgrade"}
		}
		if resp.Accept != computeAcceptKey(c.pendingKey) {
			return nil, 0, ErrHandshakeRejected
		}
	}
	return resp, n, nil
}

// serverHandshakeCodec is the server-side resumable Handshake Codec (spec
// §4.2): it remembers the client's key between the request decode and the
// later response encode, which — per the two-phase handshake completion
// design note (spec §9) — happens on a separate call.
type serverHandshakeCodec struct {
	pendingKey string
}

func (c *serverHandshakeCodec) decode(buf []byte, cfg Config) (*HandshakeRequest, int, error) {
	req, n, err := ParseRequest(buf, cfg)
	if err != nil {
		return nil, 0, err
	}
	c.pendingKey = req.Key
	return req, n, nil
}

func (c *serverHandshakeCodec) encode(subprotocol, extensionsAccepted string) []byte {
	return EncodeResponse(c.pendingKey, subprotocol, extensionsAccepted)
}
