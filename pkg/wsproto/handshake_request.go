package wsproto

import (
	"strings"

	"github.com/valyala/fasthttp"
)

// HandshakeRequest is the client→server opening handshake (spec §3).
type HandshakeRequest struct {
	Method string
	Target string
	Proto  string

	Host       string
	Key        string
	Version    string
	Origin     string
	Protocols  []string
	Extensions string
}

// ParseRequest parses a client handshake request out of the head of buf.
//
// It delegates the structured parse to fasthttp.RequestHeader — wired here
// the way the teacher's own http11 package replaces net/http for low
// allocation parsing — once findHeaderBlock confirms the CRLFCRLF
// terminator has actually arrived; until then it reports ErrPartial without
// looking at the bytes fasthttp would need, matching spec §4.2's "Partial
// until the terminator is seen".
func ParseRequest(buf []byte, cfg Config) (req *HandshakeRequest, consumed int, err error) {
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

	var h fasthttp.RequestHeader
	if parseErr := h.Read(bufioOf(buf[:end])); parseErr != nil {
		return nil, 0, &BadHandshake{Reason: "malformed-request-line"}
	}

	if string(h.Method()) != "GET" {
		return nil, 0, &BadHandshake{Reason: "method-not-get"}
	}
	if !h.IsHTTP11() {
		return nil, 0, &BadHandshake{Reason: "http-version-too-old"}
	}

	req = &HandshakeRequest{
		Method:     "GET",
		Target:     string(h.RequestURI()),
		Proto:      "HTTP/1.1",
		Host:       string(h.Peek("Host")),
		Key:        string(h.Peek("Sec-WebSocket-Key")),
		Version:    string(h.Peek("Sec-WebSocket-Version")),
		Origin:     string(h.Peek("Origin")),
		Extensions: string(h.Peek("Sec-WebSocket-Extensions")),
	}
	if proto := h.Peek("Sec-WebSocket-Protocol"); len(proto) > 0 {
		req.Protocols = splitCSVTrim(string(proto))
	}

	if req.Host == "" {
		return nil, 0, &BadHandshake{Reason: "missing-host"}
	}
	if !headerContainsToken(string(h.Peek("Upgrade")), "websocket") {
		return nil, 0, &BadHandshake{Reason: "missing-upgrade-websocket"}
	}
	if !headerContainsToken(string(h.Peek("Connection")), "upgrade") {
		return nil, 0, &BadHandshake{Reason: "missing-connection-upgrade"}
	}
	if req.Key == "" {
		return nil, 0, &BadHandshake{Reason: "missing-sec-websocket-key"}
	}
	if req.Version != "13" {
		return nil, 0, &BadHandshake{Reason: "unsupported-sec-websocket-version"}
	}

	return req, end, nil
}

// EncodeRequest builds a fresh client handshake request targeting target on
// host, generating a new Sec-WebSocket-Key (spec §4.3).
func EncodeRequest(target, host string, protocols []string, extensionsOffered string) (*HandshakeRequest, []byte, error) {
	key, err := newClientKey()
	if err != nil {
		return nil, nil, &ResourceError{Err: err}
	}

	var h fasthttp.RequestHeader
	h.SetMethod("GET")
	h.SetRequestURI(target)
	h.SetHost(host)
	h.Set("Upgrade", "websocket")
	h.Set("Connection", "Upgrade")
	h.Set("Sec-WebSocket-Key", key)
	h.Set("Sec-WebSocket-Version", "13")
	if len(protocols) > 0 {
		h.Set("Sec-WebSocket-Protocol", strings.Join(protocols, ", "))
	}
	if extensionsOffered != "" {
		h.Set("Sec-WebSocket-Extensions", extensionsOffered)
	}

	req := &HandshakeRequest{
		Method:     "GET",
		Target:     target,
		Proto:      "HTTP/1.1",
		Host:       host,
		Key:        key,
		Version:    "13",
		Protocols:  protocols,
		Extensions: extensionsOffered,
	}

	wire := make([]byte, len(h.Header()))
	copy(wire, h.Header())
	return req, wire, nil
}

func splitCSVTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
